package channel

import (
	"sync"

	"github.com/user/blepeer/ble"
	"github.com/user/blepeer/butil"
	"github.com/user/blepeer/logger"
)

// Disconnect runs the disconnection protocol of spec.md §4.7. If the peer
// is currently reconnecting, it cancels the reconnection attempt instead
// of running the full wire protocol (there is no live link to use).
func (ch *Channel) Disconnect(done func(error)) {
	ch.mu.Lock()
	if ch.state == StateDisconnecting || ch.state == StateDestroyed {
		ch.mu.Unlock()
		if done != nil {
			done(nil)
		}
		return
	}
	reconnecting := ch.peer.Reconnecting()
	ch.mu.Unlock()

	if reconnecting {
		ch.cancelReconnection()
		if done != nil {
			done(nil)
		}
		return
	}

	ch.peer.SetDisconnecting(true)
	ch.mu.Lock()
	ch.state = StateDisconnecting
	ch.mu.Unlock()
	ch.sendDisconnectNotice(done)
}

func (ch *Channel) cancelReconnection() {
	ch.mu.Lock()
	if ch.reconnectionTimer != nil {
		ch.reconnectionTimer.Cancel()
	}
	ch.mu.Unlock()
	logger.Info(ch.logPrefix(), "reconnection cancelled")
	p := ch.Peer()
	ch.close()
	if ch.cb.OnDisconnected != nil {
		ch.cb.OnDisconnected(p)
	}
}

// sendDisconnectNotice writes/notifies the one-byte disconnection marker
// and, on its ack or after DisconnectAckTimeout (whichever is first),
// proceeds to the OS-level disconnect primitive.
func (ch *Channel) sendDisconnectNotice(done func(error)) {
	var once sync.Once
	finish := func() { once.Do(func() { ch.issueOSDisconnect(done) }) }

	// BLE disallows zero-length characteristic writes; one non-zero byte
	// satisfies that while carrying no further meaning.
	notice := []byte{1}
	if ch.role == RoleCentral {
		ch.central.WriteCharacteristic(ble.CharDisconnectionReceive, notice, func(err error) { finish() })
	} else {
		ch.peripheral.Notify(ble.CharDisconnectionSend, notice, func(err error) { finish() })
	}

	ch.mu.Lock()
	if ch.disconnectAckTimer != nil {
		ch.disconnectAckTimer.Cancel()
	}
	ch.disconnectAckTimer = butil.AfterFunc(ble.DisconnectAckTimeout, finish)
	ch.mu.Unlock()
}

func (ch *Channel) issueOSDisconnect(done func(error)) {
	ch.mu.Lock()
	if ch.disconnectAckTimer != nil {
		ch.disconnectAckTimer.Cancel()
		ch.disconnectAckTimer = nil
	}
	ch.mu.Unlock()

	if ch.role == RoleCentral {
		ch.central.Disconnect(func(err error) { ch.onOSDisconnectComplete(err, done) })
		return
	}
	ch.peripheral.Disconnect(func(err error) { ch.onOSDisconnectComplete(err, done) })
}

func (ch *Channel) onOSDisconnectComplete(err error, done func(error)) {
	if err != nil {
		logger.Warn(ch.logPrefix(), "disconnection failed: %v", err)
		if ch.cb.OnDisconnectionFailed != nil {
			ch.cb.OnDisconnectionFailed(ch.Peer())
		}
		if done != nil {
			done(err)
		}
		return
	}

	ch.peer.SetHardwareConnected(false)
	p := ch.Peer()
	ch.close()
	logger.Info(ch.logPrefix(), "disconnected")
	if ch.cb.OnDisconnected != nil {
		ch.cb.OnDisconnected(p)
	}
	if done != nil {
		done(nil)
	}
}

// handlePassiveDisconnect runs when the remote side initiated disconnection
// (spec.md §4.7 "Passive side"): this channel simply disconnects too.
func (ch *Channel) handlePassiveDisconnect() {
	ch.Disconnect(nil)
}
