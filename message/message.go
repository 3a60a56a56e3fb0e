// Package message implements the user-facing container that
// Communicator.SendMessage/SendData accept and deliver — Message — and its
// splitting into on-wire sub-messages.
package message

import (
	"unicode/utf8"

	"github.com/user/blepeer/butil"
	"github.com/user/blepeer/peer"
	"github.com/user/blepeer/seqnum"
	"github.com/user/blepeer/submsg"
)

// Message is a container for one application-level text or binary message.
// Sender is filled in by the receiver on delivery and is never transmitted;
// a nil Receiver means "broadcast to every connected peer".
type Message struct {
	Sender   *peer.Peer
	Receiver *peer.Peer
	Header   string // exactly one UTF-8 rune, see butil.FixHeader
	Payload  []byte
}

// New constructs a Message, fixing header to exactly one UTF-8 rune.
func New(header string, payload []byte, receiver *peer.Peer) *Message {
	return &Message{
		Header:   butil.FixHeader(header),
		Payload:  payload,
		Receiver: receiver,
	}
}

// Clone returns a shallow copy safe to mutate (Sender/Receiver pointers are
// shared, matching the original library where Peer itself is the thing
// that gets cloned at API boundaries; Payload is copied so splitting one
// clone can't alias another's backing array).
func (m *Message) Clone() *Message {
	payload := make([]byte, len(m.Payload))
	copy(payload, m.Payload)
	return &Message{
		Sender:   m.Sender,
		Receiver: m.Receiver,
		Header:   m.Header,
		Payload:  payload,
	}
}

// SplitIntoSubMessages produces the ordered sequence of on-wire sub-messages
// for this Message, per spec.md §4.3: the payload-to-split is the header's
// UTF-8 bytes followed by Payload, chunked at submsg.MaxPayloadLength, with
// sub_sequence starting at 0 and only the last chunk marked Final. A single
// chunk (header + payload both fit) is emitted as one Final sub-message.
//
// messageID is the value this entire message is assigned; it is not
// mutated, but each returned SubMessage gets its own clone so the caller's
// counter can keep incrementing independently.
func (m *Message) SplitIntoSubMessages(messageID *seqnum.SequenceNumber) []*submsg.SubMessage {
	toSplit := butil.ConcatBytes([]byte(m.Header), m.Payload)
	chunks := butil.SplitBytes(toSplit, submsg.MaxPayloadLength)

	subSeq := seqnum.New(submsg.SubSequenceLength)
	out := make([]*submsg.SubMessage, 0, len(chunks))
	for i, chunk := range chunks {
		typ := submsg.NonFinal
		if i == len(chunks)-1 {
			typ = submsg.Final
		}
		out = append(out, submsg.New(messageID.Clone(), subSeq.Clone(), typ, chunk))
		subSeq.Increment()
	}
	return out
}

// Reassemble is the inverse of SplitIntoSubMessages: given the concatenated
// payload bytes of every sub-message of one completed message, in order, it
// decodes the leading header rune and returns the reconstructed Message
// with Sender set to the given peer.
func Reassemble(sender *peer.Peer, combined []byte) *Message {
	r, size := utf8.DecodeRune(combined)
	header := string(r)
	payload := combined[size:]
	payloadCopy := make([]byte, len(payload))
	copy(payloadCopy, payload)
	return &Message{
		Sender:  sender,
		Header:  header,
		Payload: payloadCopy,
	}
}
