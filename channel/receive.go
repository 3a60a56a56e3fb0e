package channel

import (
	"github.com/user/blepeer/ble"
	"github.com/user/blepeer/logger"
	"github.com/user/blepeer/message"
	"github.com/user/blepeer/seqnum"
	"github.com/user/blepeer/submsg"
)

// handleInboundSub implements spec.md §4.6's receive/reassembly algorithm
// for one sub-message arriving on the given stream.
func (ch *Channel) handleInboundSub(kind ble.StreamKind, raw []byte) {
	sub, err := submsg.Decode(raw)
	if err != nil {
		logger.Warn(ch.logPrefix(), "%s malformed frame dropped: %v", kind, err)
		return
	}
	logger.TraceJSON(ch.logPrefix(), kind.String()+" frame received", sub)

	st := ch.stream(kind)
	id := sub.MessageID.String()

	st.mu.Lock()
	if st.delivered.Contains(id) {
		st.mu.Unlock()
		ch.sendAck(kind, sub.MessageID, sub.SubSequence)
		return
	}

	p, ok := st.receiving[id]
	var advanced bool
	switch {
	case !ok:
		payload := make([]byte, len(sub.Payload))
		copy(payload, sub.Payload)
		st.receiving[id] = &partial{payload: payload, lastSubSeq: sub.SubSequence.Clone()}
		advanced = true
	case sub.SubSequence.Compare(p.lastSubSeq) <= 0:
		// stale retransmit of an already-applied chunk: ack, don't apply.
		advanced = false
	default:
		next := p.lastSubSeq.Clone()
		next.Increment()
		if sub.SubSequence.Equal(next) {
			p.payload = append(p.payload, sub.Payload...)
			p.lastSubSeq = sub.SubSequence.Clone()
			advanced = true
		} else {
			// gap > 1: drop without acking, source will retransmit.
			st.mu.Unlock()
			return
		}
	}

	var completedPayload []byte
	if advanced && sub.IsFinal() {
		if cur, ok2 := st.receiving[id]; ok2 {
			completedPayload = cur.payload
		} else {
			completedPayload = sub.Payload
		}
		delete(st.receiving, id)
		st.delivered.Add(id)
	}
	st.mu.Unlock()

	ch.sendAck(kind, sub.MessageID, sub.SubSequence)

	if completedPayload != nil {
		ch.deliverMessage(kind, completedPayload)
	}
}

func (ch *Channel) deliverMessage(kind ble.StreamKind, payload []byte) {
	recv := message.Reassemble(ch.Peer(), payload)
	out := ReceivedMessage{Sender: recv.Sender, Header: recv.Header, Payload: recv.Payload}
	if kind == ble.StreamData {
		if ch.cb.OnDataReceived != nil {
			ch.cb.OnDataReceived(out, ch.role)
		}
		return
	}
	if ch.cb.OnMessageReceived != nil {
		ch.cb.OnMessageReceived(out, ch.role)
	}
}

// sendAck emits the application-level delivery acknowledgment for one
// inbound sub-message, per spec.md §4.6 step 4. Whichever role received
// the frame acks it using that role's natural outbound primitive (CENTRAL
// writes, PERIPHERAL notifies) on the stream's ack characteristic.
func (ch *Channel) sendAck(kind ble.StreamKind, messageID, subSeq *seqnum.SequenceNumber) {
	payload := append(append([]byte{}, messageID.ToBytes()...), subSeq.ToBytes()...)
	char := kind.AckCharacteristic()
	if ch.role == RoleCentral {
		ch.central.WriteCharacteristic(char, payload, nil)
		return
	}
	ch.peripheral.Notify(char, payload, nil)
}
