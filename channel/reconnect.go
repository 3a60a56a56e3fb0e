package channel

import (
	"github.com/user/blepeer/ble"
	"github.com/user/blepeer/butil"
	"github.com/user/blepeer/logger"
	"github.com/user/blepeer/peer"
)

// onLinkLost handles an unsolicited STATE_DISCONNECTED from the adapter
// (spec.md §4.8). A link loss that happened because WE are mid-disconnect
// is expected and handled by the disconnect path instead.
func (ch *Channel) onLinkLost(err error) {
	ch.mu.Lock()
	if ch.peer.Disconnecting() || ch.state == StateDestroyed || ch.state == StateDisconnecting {
		ch.mu.Unlock()
		return
	}
	ch.mu.Unlock()

	ch.peer.SetHardwareConnected(false)
	ch.peer.SetReconnecting(true, false)

	ch.mu.Lock()
	ch.state = StateReconnecting
	if ch.reconnectionTimer != nil {
		ch.reconnectionTimer.Cancel()
	}
	ch.reconnectionTimer = butil.AfterFunc(ble.ReconnectTimeout, ch.onReconnectTimeout)
	ch.mu.Unlock()

	logger.Info(ch.logPrefix(), "connection lost, attempting to reconnect")
	if ch.cb.OnConnectionLost != nil {
		ch.cb.OnConnectionLost(ch.Peer())
	}
}

func (ch *Channel) onReconnectTimeout() {
	ch.mu.Lock()
	state := ch.state
	ch.mu.Unlock()
	if state != StateReconnecting {
		return
	}
	logger.Warn(ch.logPrefix(), "reconnect window elapsed, giving up")
	p := ch.Peer()
	ch.close()
	if ch.cb.OnDisconnected != nil {
		ch.cb.OnDisconnected(p)
	}
}

// ResumeCentral is called by Connection[CENTRAL] when a scan result's
// unique_name matches this reconnecting channel's peer, per spec.md §4.8's
// CENTRAL-initiated reconnection rule. It is a no-op if a resume is already
// in flight or this channel isn't waiting for one.
func (ch *Channel) ResumeCentral(adapter ble.CentralAdapter, newDevice *peer.DeviceHandle) {
	ch.mu.Lock()
	if ch.state != StateReconnecting || ch.peer.RequestingReconnection() {
		ch.mu.Unlock()
		return
	}
	ch.resuming = true
	ch.mu.Unlock()

	ch.peer.SetDevice(newDevice)
	ch.peer.SetRequestingReconnection(true)
	ch.attachCentral(adapter)
	ch.armHandshakeTimer()
	ch.beginCentralHandshake()
}

func (ch *Channel) completeCentralResume() {
	ch.mu.Lock()
	ch.state = StateConnected
	ch.resuming = false
	if ch.handshakeTimer != nil {
		ch.handshakeTimer.Cancel()
	}
	if ch.reconnectionTimer != nil {
		ch.reconnectionTimer.Cancel()
	}
	ch.mu.Unlock()

	ch.peer.SetHardwareConnected(true)
	ch.peer.SetReconnecting(false, true)
	ch.peer.SetRequestingReconnection(false)
	logger.Info(ch.logPrefix(), "connection resumed")
	if ch.cb.OnConnectionResumed != nil {
		ch.cb.OnConnectionResumed(ch.Peer())
	}
	ch.drainQueues()
}

// ResumePeripheral is called by Connection[PERIPHERAL] once it has matched
// an inbound CONNECTION_RESUMED_RECEIVE request to this existing,
// reconnecting channel; adapter is the fresh proto-channel's adapter being
// transplanted onto this one.
func (ch *Channel) ResumePeripheral(adapter ble.PeripheralAdapter, uniqueName string) {
	ch.mu.Lock()
	if ch.state != StateReconnecting {
		ch.mu.Unlock()
		return
	}
	ch.mu.Unlock()

	ch.peer.SetUniqueName(uniqueName)
	ch.attachPeripheral(adapter)
	ch.peripheral.Notify(ble.CharConnectionResumedSend, []byte{0}, func(err error) {
		ch.completePeripheralResume()
	})
}

func (ch *Channel) completePeripheralResume() {
	ch.mu.Lock()
	ch.state = StateConnected
	if ch.reconnectionTimer != nil {
		ch.reconnectionTimer.Cancel()
	}
	ch.mu.Unlock()

	ch.peer.SetHardwareConnected(true)
	ch.peer.SetReconnecting(false, true)
	logger.Info(ch.logPrefix(), "connection resumed")
	if ch.cb.OnConnectionResumed != nil {
		ch.cb.OnConnectionResumed(ch.Peer())
	}
	ch.drainQueues()
}
