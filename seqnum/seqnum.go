// Package seqnum implements the fixed-width printable counter used for
// message_id and sub_sequence fields on the wire.
package seqnum

import (
	"fmt"
)

// Alphabet is the dense, ASCII-ascending printable alphabet used for every
// SequenceNumber in this module. Its symbols are ordered so that byte-wise
// (lexicographic) comparison of two equal-width encodings equals numeric
// comparison of the values they represent — which is the invariant
// spec.md §4.1 requires of the chosen alphabet.
const Alphabet = "-0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ_abcdefghijklmnopqrstuvwxyz"

var symbolValue [256]int8

func init() {
	for i := range symbolValue {
		symbolValue[i] = -1
	}
	for i := 0; i < len(Alphabet); i++ {
		symbolValue[Alphabet[i]] = int8(i)
	}
}

// SequenceNumber is a fixed-width, base-N counter (N = len(Alphabet))
// encoded directly as its own wire representation: a string of printable
// UTF-8 (ASCII) characters, most-significant symbol first.
type SequenceNumber struct {
	width  int
	digits []byte // digits[0] is most significant, each entry is an index into Alphabet
}

// New constructs a zero-valued SequenceNumber of the given width (number of
// symbols, i.e. wire bytes). Width must be at least 1.
func New(width int) *SequenceNumber {
	if width < 1 {
		panic("seqnum: width must be at least 1")
	}
	return &SequenceNumber{
		width:  width,
		digits: make([]byte, width),
	}
}

// Parse builds a SequenceNumber from its exact wire encoding. Returns an
// error if the length doesn't match width or a byte isn't in Alphabet.
func Parse(encoded []byte, width int) (*SequenceNumber, error) {
	if len(encoded) != width {
		return nil, fmt.Errorf("seqnum: encoded length %d does not match width %d", len(encoded), width)
	}
	s := New(width)
	for i, b := range encoded {
		v := symbolValue[b]
		if v < 0 {
			return nil, fmt.Errorf("seqnum: byte 0x%02x at offset %d is not in the alphabet", b, i)
		}
		s.digits[i] = byte(v)
	}
	return s, nil
}

// Width returns the fixed wire width in bytes.
func (s *SequenceNumber) Width() int {
	return s.width
}

// ToBytes returns the exact width-byte UTF-8 encoding used on the wire.
func (s *SequenceNumber) ToBytes() []byte {
	out := make([]byte, s.width)
	for i, d := range s.digits {
		out[i] = Alphabet[d]
	}
	return out
}

// String implements fmt.Stringer.
func (s *SequenceNumber) String() string {
	return string(s.ToBytes())
}

// IsMax returns true if this SequenceNumber is at the final value before
// the next Increment would wrap back to all-zero.
func (s *SequenceNumber) IsMax() bool {
	for _, d := range s.digits {
		if int(d) != len(Alphabet)-1 {
			return false
		}
	}
	return true
}

// Increment mutates the SequenceNumber in place to the next value,
// carrying through digits and wrapping to the all-zero symbol on overflow.
func (s *SequenceNumber) Increment() {
	base := byte(len(Alphabet))
	for i := s.width - 1; i >= 0; i-- {
		s.digits[i]++
		if s.digits[i] < base {
			return
		}
		s.digits[i] = 0
	}
	// overflowed past the most significant digit: wrap to all-zero, which
	// the loop above already leaves us at.
}

// Clone returns an independent copy.
func (s *SequenceNumber) Clone() *SequenceNumber {
	c := New(s.width)
	copy(c.digits, s.digits)
	return c
}

// Compare returns -1, 0, or 1 as s is numerically less than, equal to, or
// greater than other. Panics if the widths differ.
func (s *SequenceNumber) Compare(other *SequenceNumber) int {
	if s.width != other.width {
		panic("seqnum: cannot compare SequenceNumbers of different widths")
	}
	for i := 0; i < s.width; i++ {
		if s.digits[i] != other.digits[i] {
			if s.digits[i] < other.digits[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// Equal reports whether s and other encode the same value.
func (s *SequenceNumber) Equal(other *SequenceNumber) bool {
	return s.Compare(other) == 0
}

// Space returns the total number of distinct values representable at this
// width, i.e. len(Alphabet)^width.
func Space(width int) int64 {
	total := int64(1)
	for i := 0; i < width; i++ {
		total *= int64(len(Alphabet))
	}
	return total
}
