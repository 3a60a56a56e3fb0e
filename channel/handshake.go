package channel

import (
	"github.com/user/blepeer/ble"
	"github.com/user/blepeer/butil"
	"github.com/user/blepeer/logger"
	"github.com/user/blepeer/peer"
)

// notifyCharacteristics is the full set a CENTRAL channel subscribes to on
// link-up, per spec.md §4.4 step 3 ("subscribe to all remaining
// peer-to-central characteristics").
var notifyCharacteristics = []ble.CharUUID{
	ble.CharMTUResponse,
	ble.CharConnectionResponse,
	ble.CharConnectionResumedSend,
	ble.CharMessageSend,
	ble.CharDataSend,
	ble.CharReadResponseMessageRecvd,
	ble.CharReadResponseDataRecvd,
	ble.CharNameUpdateSend,
	ble.CharDisconnectionSend,
}

// NewCentralChannel creates a channel for a link this device initiated as
// CENTRAL and starts the handshake (spec.md §4.4).
func NewCentralChannel(p *peer.Peer, adapter ble.CentralAdapter, localUniqueName string, cb Callbacks) *Channel {
	ch := newChannel(p, RoleCentral, localUniqueName, cb)
	ch.attachCentral(adapter)
	ch.armHandshakeTimer()
	ch.beginCentralHandshake()
	return ch
}

// NewPeripheralChannel creates a channel for an inbound link this device
// accepted as PERIPHERAL and starts the handshake timer; the rest of the
// handshake is driven by inbound writes (spec.md §4.4 PERIPHERAL steps).
func NewPeripheralChannel(p *peer.Peer, adapter ble.PeripheralAdapter, localUniqueName string, cb Callbacks) *Channel {
	ch := newChannel(p, RolePeripheral, localUniqueName, cb)
	ch.attachPeripheral(adapter)
	ch.armHandshakeTimer()
	return ch
}

func (ch *Channel) attachCentral(adapter ble.CentralAdapter) {
	ch.mu.Lock()
	ch.central = adapter
	ch.mu.Unlock()
	adapter.SetNotifyHandler(ch.onCentralNotify)
	adapter.SetLinkLostHandler(ch.onLinkLost)
}

func (ch *Channel) attachPeripheral(adapter ble.PeripheralAdapter) {
	ch.mu.Lock()
	ch.peripheral = adapter
	ch.mu.Unlock()
	adapter.SetWriteHandler(ch.onPeripheralWrite)
	adapter.SetLinkLostHandler(ch.onLinkLost)
}

// PeripheralAdapter exposes the live adapter so Connection can transplant
// it onto an existing channel when a resume request matches one
// (see ResumePeripheral in reconnect.go).
func (ch *Channel) PeripheralAdapter() ble.PeripheralAdapter {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.peripheral
}

func (ch *Channel) armHandshakeTimer() {
	ch.mu.Lock()
	if ch.handshakeTimer != nil {
		ch.handshakeTimer.Cancel()
	}
	ch.handshakeTimer = butil.AfterFunc(ble.HandshakeTimeout, ch.onHandshakeTimeout)
	ch.mu.Unlock()
}

func (ch *Channel) onHandshakeTimeout() {
	ch.mu.Lock()
	state := ch.state
	ch.mu.Unlock()
	if state == StateConnected || state == StateDestroyed {
		return
	}
	logger.Warn(ch.logPrefix(), "handshake timed out")
	p := ch.Peer()
	ch.close()
	if ch.cb.OnConnectionFailed != nil {
		ch.cb.OnConnectionFailed(p, ble.Error)
	}
}

func (ch *Channel) beginCentralHandshake() {
	for _, c := range notifyCharacteristics {
		if err := ch.central.SubscribeNotify(c); err != nil {
			logger.Warn(ch.logPrefix(), "subscribe %s failed: %v", c, err)
		}
	}
	// spec.md §4.4 step 1: write a TargetMTU-sized payload to MTU_REQUEST
	// to prompt the peripheral's MTU_RESPONSE notification.
	ch.central.WriteCharacteristic(ble.CharMTURequest, make([]byte, ble.TargetMTU), nil)
}

func (ch *Channel) onCentralNotify(char ble.CharUUID, value []byte) {
	switch char {
	case ble.CharMTUResponse:
		ch.handleMTUResponse(value)
	case ble.CharConnectionResponse:
		ch.handleConnectionResponse(value)
	case ble.CharConnectionResumedSend:
		ch.completeCentralResume()
	case ble.CharMessageSend:
		ch.handleInboundSub(ble.StreamText, value)
	case ble.CharDataSend:
		ch.handleInboundSub(ble.StreamData, value)
	case ble.CharReadResponseMessageRecvd:
		ch.handleAck(ble.StreamText, value)
	case ble.CharReadResponseDataRecvd:
		ch.handleAck(ble.StreamData, value)
	case ble.CharNameUpdateSend:
		ch.handleNameUpdate(value)
	case ble.CharDisconnectionSend:
		ch.handlePassiveDisconnect()
	}
}

func (ch *Channel) handleMTUResponse(value []byte) {
	reported := len(value)
	if reported < ble.MinAcceptableMTU {
		ch.central.RequestMTU(ble.TargetMTU, func(negotiated int, err error) {
			ch.mu.Lock()
			ch.negotiatedMTU = negotiated
			ch.mu.Unlock()
			ch.sendConnectOrResumeRequest()
		})
		return
	}
	ch.mu.Lock()
	ch.negotiatedMTU = reported
	ch.mu.Unlock()
	ch.sendConnectOrResumeRequest()
}

func (ch *Channel) sendConnectOrResumeRequest() {
	ch.mu.Lock()
	resuming := ch.resuming
	ch.mu.Unlock()
	if resuming {
		ch.central.WriteCharacteristic(ble.CharConnectionResumedReceive, []byte(ch.localUniqueName), nil)
		return
	}
	ch.central.WriteCharacteristic(ble.CharConnectionRequest, []byte(ch.localUniqueName), nil)
}

func (ch *Channel) handleConnectionResponse(value []byte) {
	if len(value) == 0 {
		return
	}
	if value[0] == '0' {
		ch.completeCentralHandshake()
		return
	}
	logger.Info(ch.logPrefix(), "connection rejected by peer")
	p := ch.Peer()
	ch.close()
	if ch.cb.OnConnectionFailed != nil {
		ch.cb.OnConnectionFailed(p, ble.ConnectionRejected)
	}
}

func (ch *Channel) completeCentralHandshake() {
	ch.mu.Lock()
	ch.state = StateConnected
	if ch.handshakeTimer != nil {
		ch.handshakeTimer.Cancel()
	}
	ch.mu.Unlock()
	ch.peer.SetHardwareConnected(true)
	ch.peer.SetConnected(true)
	logger.Info(ch.logPrefix(), "handshake complete")
	if ch.cb.OnConnectionSuccess != nil {
		ch.cb.OnConnectionSuccess(ch.Peer(), RoleCentral)
	}
}

// onPeripheralWrite dispatches every inbound central write for a
// PERIPHERAL-role channel.
func (ch *Channel) onPeripheralWrite(char ble.CharUUID, value []byte) {
	switch char {
	case ble.CharMTURequest:
		ch.handleMTURequestWrite()
	case ble.CharConnectionRequest:
		ch.handleConnectionRequestWrite(value)
	case ble.CharConnectionResumedReceive:
		ch.handleResumeRequestWrite(value)
	case ble.CharMessageReceive:
		ch.handleInboundSub(ble.StreamText, value)
	case ble.CharDataReceive:
		ch.handleInboundSub(ble.StreamData, value)
	case ble.CharReadResponseMessageRecvd:
		ch.handleAck(ble.StreamText, value)
	case ble.CharReadResponseDataRecvd:
		ch.handleAck(ble.StreamData, value)
	case ble.CharNameUpdateReceive:
		ch.handleNameUpdate(value)
	case ble.CharDisconnectionReceive:
		ch.handlePassiveDisconnect()
	}
}

func (ch *Channel) handleMTURequestWrite() {
	ch.peripheral.Notify(ble.CharMTUResponse, make([]byte, ble.TargetMTU), nil)
}

func (ch *Channel) handleConnectionRequestWrite(value []byte) {
	ch.peer.SetUniqueName(string(value))
	if ch.cb.OnConnectionRequest != nil {
		ch.cb.OnConnectionRequest(ch.Peer())
	}
}

// handleResumeRequestWrite fires when a brand-new peripheral-side channel
// receives CONNECTION_RESUMED_RECEIVE instead of CONNECTION_REQUEST: the
// remote central believes it is resuming a prior session. Connection owns
// the identity lookup (this Channel has no visibility into sibling
// channels), so it's surfaced via OnResumeRequested; Connection either
// transplants this channel's adapter onto the matching existing Channel
// (via ResumePeripheral) or, finding no match, falls back to treating it
// as a fresh connection request.
func (ch *Channel) handleResumeRequestWrite(value []byte) {
	name := string(value)
	ch.peer.SetUniqueName(name)
	if ch.cb.OnResumeRequested != nil {
		ch.cb.OnResumeRequested(ch, name)
		return
	}
	ch.handleConnectionRequestWrite(value)
}

// AcceptConnection completes the PERIPHERAL-side handshake in response to
// the app's decision after OnConnectionRequest (spec.md §4.4 step 4).
func (ch *Channel) AcceptConnection() {
	ch.peripheral.Notify(ble.CharConnectionResponse, []byte{'0'}, func(err error) {
		ch.completePeripheralHandshake()
	})
}

// RejectConnection declines the pending PERIPHERAL-side handshake.
func (ch *Channel) RejectConnection() {
	ch.peripheral.Notify(ble.CharConnectionResponse, []byte{'1'}, func(err error) {
		p := ch.Peer()
		ch.close()
		if ch.cb.OnConnectionFailed != nil {
			ch.cb.OnConnectionFailed(p, ble.ConnectionRejected)
		}
	})
}

func (ch *Channel) completePeripheralHandshake() {
	ch.mu.Lock()
	ch.state = StateConnected
	if ch.handshakeTimer != nil {
		ch.handshakeTimer.Cancel()
	}
	ch.mu.Unlock()
	ch.peer.SetHardwareConnected(true)
	ch.peer.SetConnected(true)
	logger.Info(ch.logPrefix(), "handshake complete")
	if ch.cb.OnConnectionSuccess != nil {
		ch.cb.OnConnectionSuccess(ch.Peer(), RolePeripheral)
	}
}

func (ch *Channel) handleNameUpdate(value []byte) {
	old := ch.Peer()
	ch.peer.SetUniqueName(string(value))
	if ch.cb.OnPeerUpdated != nil {
		ch.cb.OnPeerUpdated(old, ch.Peer())
	}
}
