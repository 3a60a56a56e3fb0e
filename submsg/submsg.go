// Package submsg implements the on-wire sub-message frame: the fixed
// ≤192-byte chunk that a split Message is transmitted as.
package submsg

import (
	"errors"
	"fmt"

	"github.com/user/blepeer/seqnum"
)

const (
	// MessageIDLength is the width, in bytes, of the message_id field.
	MessageIDLength = 4
	// SubSequenceLength is the width, in bytes, of the sub_sequence field.
	SubSequenceLength = 3
	// TypeLength is the width, in bytes, of the type field.
	TypeLength = 1

	// HeaderLength is message_id + sub_sequence + type.
	HeaderLength = MessageIDLength + SubSequenceLength + TypeLength

	// TotalLength is the maximum size of an entire encoded sub-message.
	TotalLength = 192

	// MaxPayloadLength is the maximum payload a single sub-message can carry.
	MaxPayloadLength = TotalLength - HeaderLength
)

// Type values for the sub-message type field.
const (
	NonFinal byte = '1'
	Final    byte = '2'
)

// ErrMalformedFrame is returned by Decode when the input is too short or
// carries an invalid type byte. Per spec.md §7, frames that fail to decode
// are dropped without being acknowledged.
var ErrMalformedFrame = errors.New("submsg: malformed frame")

// SubMessage is one framed chunk of a split application Message.
type SubMessage struct {
	MessageID   *seqnum.SequenceNumber
	SubSequence *seqnum.SequenceNumber
	Type        byte
	Payload     []byte
}

// New builds a SubMessage from its parts. messageID and subSequence are not
// cloned — callers that keep using their own copy after passing it here
// should Clone() first.
func New(messageID, subSequence *seqnum.SequenceNumber, typ byte, payload []byte) *SubMessage {
	return &SubMessage{
		MessageID:   messageID,
		SubSequence: subSequence,
		Type:        typ,
		Payload:     payload,
	}
}

// IsFinal reports whether this is the last sub-message of its message.
func (m *SubMessage) IsFinal() bool {
	return m.Type == Final
}

// Encode concatenates message_id ‖ sub_sequence ‖ type ‖ payload into the
// exact bytes written to (or read from) a GATT characteristic.
func (m *SubMessage) Encode() []byte {
	out := make([]byte, 0, HeaderLength+len(m.Payload))
	out = append(out, m.MessageID.ToBytes()...)
	out = append(out, m.SubSequence.ToBytes()...)
	out = append(out, m.Type)
	out = append(out, m.Payload...)
	return out
}

// Decode parses the exact bytes of an on-wire frame. It requires a length
// of at least HeaderLength and a type byte of NonFinal or Final; any other
// input is ErrMalformedFrame.
func Decode(data []byte) (*SubMessage, error) {
	if len(data) < HeaderLength {
		return nil, fmt.Errorf("%w: length %d below header length %d", ErrMalformedFrame, len(data), HeaderLength)
	}

	typ := data[MessageIDLength+SubSequenceLength]
	if typ != NonFinal && typ != Final {
		return nil, fmt.Errorf("%w: invalid type byte 0x%02x", ErrMalformedFrame, typ)
	}

	messageID, err := seqnum.Parse(data[:MessageIDLength], MessageIDLength)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	subSeqStart := MessageIDLength
	subSequence, err := seqnum.Parse(data[subSeqStart:subSeqStart+SubSequenceLength], SubSequenceLength)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	payload := data[HeaderLength:]
	payloadCopy := make([]byte, len(payload))
	copy(payloadCopy, payload)

	return &SubMessage{
		MessageID:   messageID,
		SubSequence: subSequence,
		Type:        typ,
		Payload:     payloadCopy,
	}, nil
}
