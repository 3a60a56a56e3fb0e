package communicator

import (
	"github.com/user/blepeer/ble"
	"github.com/user/blepeer/channel"
	"github.com/user/blepeer/peer"
)

// Callbacks is the flattened, app-facing capability record Communicator
// multicasts every event to — the Go equivalent of the original library's
// abstract Callback class with its empty default method bodies. Every
// field is optional.
type Callbacks struct {
	OnAdvertiseStarted func()
	OnAdvertiseStopped func()
	OnDiscoveryStarted func()
	OnDiscoveryStopped func()

	OnPeerFound   func(p *peer.Peer)
	OnPeerLost    func(p *peer.Peer)
	OnPeerUpdated func(old, updated *peer.Peer)

	OnConnectionRequest func(p *peer.Peer)
	OnConnectionSuccess func(p *peer.Peer, role channel.Role)
	OnConnectionFailed  func(p *peer.Peer, code ble.ResultCode)
	OnConnectionLost    func(p *peer.Peer)
	OnConnectionResumed func(p *peer.Peer)

	OnMessageReceived func(m channel.ReceivedMessage, role channel.Role)
	OnDataReceived    func(m channel.ReceivedMessage, role channel.Role)

	// OnDisconnected reports peersLeft, the number of peers (across both
	// roles) still connected after this one dropped.
	OnDisconnected        func(p *peer.Peer, peersLeft int)
	OnDisconnectionFailed func(p *peer.Peer)

	OnBluetoothLeNotSupported func()
}
