package channel

import (
	"github.com/user/blepeer/ble"
	"github.com/user/blepeer/butil"
	"github.com/user/blepeer/logger"
	"github.com/user/blepeer/message"
	"github.com/user/blepeer/seqnum"
	"github.com/user/blepeer/submsg"
)

// WriteMessage enqueues a text message for reliable delivery over this
// channel's message stream. done fires once every sub-message of m has
// been acked, or never if the channel is destroyed first.
func (ch *Channel) WriteMessage(m *message.Message, done func(error)) {
	ch.enqueue(ble.StreamText, m, done)
}

// WriteData enqueues a binary message on the independent data stream.
func (ch *Channel) WriteData(m *message.Message, done func(error)) {
	ch.enqueue(ble.StreamData, m, done)
}

func (ch *Channel) enqueue(kind ble.StreamKind, m *message.Message, done func(error)) {
	st := ch.stream(kind)

	st.mu.Lock()
	id := st.outgoingID.Clone()
	st.outgoingID.Increment()
	subs := m.SplitIntoSubMessages(id)
	st.queue = append(st.queue, &outboundMessage{subs: subs, done: done})
	shouldStart := st.inFlight == nil
	st.mu.Unlock()

	if shouldStart {
		ch.triggerSend(kind)
	}
}

// triggerSend releases the next sub-message if the stream's one-in-flight
// slot is free, per spec.md §4.5's invariant.
func (ch *Channel) triggerSend(kind ble.StreamKind) {
	st := ch.stream(kind)

	st.mu.Lock()
	if st.inFlight != nil || len(st.queue) == 0 {
		st.mu.Unlock()
		return
	}
	head := st.queue[0]
	sub := head.subs[head.idx]
	st.inFlight = sub
	st.mu.Unlock()

	ch.transmitFrame(kind, sub)
	ch.armAckTimer(kind)
}

func (ch *Channel) transmitFrame(kind ble.StreamKind, sub *submsg.SubMessage) {
	encoded := sub.Encode()
	if ch.role == RoleCentral {
		ch.central.WriteCharacteristic(kind.ReceiveCharacteristic(), encoded, func(err error) {
			if err != nil {
				logger.Warn(ch.logPrefix(), "%s write failed, awaiting retry: %v", kind, err)
			}
		})
		return
	}
	ch.peripheral.Notify(kind.SendCharacteristic(), encoded, func(err error) {
		if err != nil {
			logger.Warn(ch.logPrefix(), "%s notify failed, awaiting retry: %v", kind, err)
		}
	})
}

func (ch *Channel) armAckTimer(kind ble.StreamKind) {
	st := ch.stream(kind)
	st.mu.Lock()
	if st.ackTimer != nil {
		st.ackTimer.Cancel()
	}
	st.ackTimer = butil.AfterFunc(ble.AckTimeout, func() { ch.retransmit(kind) })
	st.mu.Unlock()
}

// retransmit resends the current in-flight frame unchanged; it runs
// indefinitely until an ack arrives or the link is torn down, per
// spec.md §4.5's TransientLinkError handling.
func (ch *Channel) retransmit(kind ble.StreamKind) {
	st := ch.stream(kind)
	st.mu.Lock()
	sub := st.inFlight
	st.mu.Unlock()
	if sub == nil {
		return
	}
	logger.Debug(ch.logPrefix(), "%s retransmit message_id=%s sub_sequence=%s", kind, sub.MessageID, sub.SubSequence)
	ch.transmitFrame(kind, sub)
	ch.armAckTimer(kind)
}

// handleAck processes an application-level READ_RESPONSE_* delivery ack.
// value is messageID.ToBytes() ‖ subSequence.ToBytes().
func (ch *Channel) handleAck(kind ble.StreamKind, value []byte) {
	if len(value) < submsg.MessageIDLength+submsg.SubSequenceLength {
		return
	}
	messageID, err := seqnum.Parse(value[:submsg.MessageIDLength], submsg.MessageIDLength)
	if err != nil {
		return
	}
	subSeq, err := seqnum.Parse(value[submsg.MessageIDLength:submsg.MessageIDLength+submsg.SubSequenceLength], submsg.SubSequenceLength)
	if err != nil {
		return
	}
	ch.onAckReceived(kind, messageID, subSeq)
}

func (ch *Channel) onAckReceived(kind ble.StreamKind, messageID, subSeq *seqnum.SequenceNumber) {
	st := ch.stream(kind)

	st.mu.Lock()
	if st.inFlight == nil || !st.inFlight.MessageID.Equal(messageID) || !st.inFlight.SubSequence.Equal(subSeq) {
		st.mu.Unlock()
		return
	}
	if st.ackTimer != nil {
		st.ackTimer.Cancel()
		st.ackTimer = nil
	}
	st.inFlight = nil

	var completed func(error)
	if len(st.queue) > 0 {
		head := st.queue[0]
		head.idx++
		if head.idx >= len(head.subs) {
			st.queue = st.queue[1:]
			completed = head.done
		}
	}
	st.mu.Unlock()

	if completed != nil {
		completed(nil)
	}
	ch.triggerSend(kind)
}

// drainQueues is called on reconnection resume: both streams' queues are
// untouched by the link drop, so sends simply continue where they left
// off (spec.md §4.8's "drain queued outbound messages").
func (ch *Channel) drainQueues() {
	ch.triggerSend(ble.StreamText)
	ch.triggerSend(ble.StreamData)
}
