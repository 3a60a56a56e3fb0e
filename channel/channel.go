// Package channel implements one live BLE link to one remote peer: the
// handshake state machine, the reliable per-stream send/retry loop, inbound
// reassembly, and the disconnection/reconnection protocol. It is the core
// of this library.
package channel

import (
	"sync"

	"github.com/user/blepeer/ble"
	"github.com/user/blepeer/butil"
	"github.com/user/blepeer/logger"
	"github.com/user/blepeer/peer"
	"github.com/user/blepeer/seqnum"
	"github.com/user/blepeer/submsg"
)

// Role mirrors the BLE central/peripheral asymmetry: a CENTRAL channel
// writes characteristics and subscribes to notifications; a PERIPHERAL
// channel notifies characteristics and handles writes.
type Role int

const (
	RoleCentral Role = iota
	RolePeripheral
)

func (r Role) String() string {
	if r == RolePeripheral {
		return "PERIPHERAL"
	}
	return "CENTRAL"
}

// State is this channel's position in the handshake/connected/reconnecting/
// disconnecting lifecycle of spec.md §3's Channel lifecycle line.
type State int

const (
	StateHandshaking State = iota
	StateConnected
	StateReconnecting
	StateDisconnecting
	StateDestroyed
)

// Callbacks is the flattened capability record a Channel upcalls into —
// every field optional. Connection/Communicator build one of these per
// channel instead of Channel holding a parent pointer.
type Callbacks struct {
	OnConnectionRequest   func(p *peer.Peer)
	OnConnectionSuccess   func(p *peer.Peer, role Role)
	OnConnectionFailed    func(p *peer.Peer, code ble.ResultCode)
	OnConnectionLost      func(p *peer.Peer)
	OnConnectionResumed   func(p *peer.Peer)
	OnMessageReceived     func(m ReceivedMessage, role Role)
	OnDataReceived        func(m ReceivedMessage, role Role)
	OnDisconnected        func(p *peer.Peer)
	OnDisconnectionFailed func(p *peer.Peer)
	OnPeerUpdated         func(old, updated *peer.Peer)
	// OnClosed fires once this channel is no longer usable and should be
	// dropped from the owning Connection's channel set.
	OnClosed func(ch *Channel)
	// OnResumeRequested fires on a fresh PERIPHERAL channel that received
	// CONNECTION_RESUMED_RECEIVE instead of CONNECTION_REQUEST. proto is
	// this channel; uniqueName is the identity it claims to be resuming.
	OnResumeRequested func(proto *Channel, uniqueName string)
}

// ReceivedMessage is the minimal view channel hands upward; message.Message
// carries the rest (header/payload) after message.Reassemble.
type ReceivedMessage struct {
	Sender  *peer.Peer
	Header  string
	Payload []byte
}

// outboundMessage is what callers enqueue: already-split sub-messages plus
// the per-message completion callback.
type outboundMessage struct {
	subs []*submsg.SubMessage
	idx  int
	done func(error)
}

// Channel is one live link to one remote Peer.
type Channel struct {
	mu sync.Mutex

	peer *peer.Peer
	role Role

	central    ble.CentralAdapter
	peripheral ble.PeripheralAdapter

	localUniqueName string
	state           State
	negotiatedMTU   int
	resuming        bool

	streams [2]*stream

	handshakeTimer     *butil.Timer
	reconnectionTimer  *butil.Timer
	disconnectAckTimer *butil.Timer

	cb Callbacks
}

// newChannel builds the shared skeleton; role-specific constructors in
// handshake.go finish wiring the adapter and kick off step 1.
func newChannel(p *peer.Peer, role Role, localUniqueName string, cb Callbacks) *Channel {
	ch := &Channel{
		peer:            p,
		role:            role,
		localUniqueName: localUniqueName,
		state:           StateHandshaking,
		cb:              cb,
	}
	ch.streams[ble.StreamText] = newStream(ble.StreamText)
	ch.streams[ble.StreamData] = newStream(ble.StreamData)
	return ch
}

// Peer returns a snapshot of the remote peer this channel represents.
func (ch *Channel) Peer() *peer.Peer {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.peer.Clone()
}

// Role returns this channel's BLE role.
func (ch *Channel) Role() Role {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.role
}

// NegotiatedMTU returns the link MTU established during the handshake's
// MTU probe (spec.md §4.4 steps 1-2), or 0 before it completes.
func (ch *Channel) NegotiatedMTU() int {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.negotiatedMTU
}

// State returns this channel's current lifecycle state.
func (ch *Channel) State() State {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.state
}

func (ch *Channel) logPrefix() string {
	return "channel " + ch.role.String() + " " + ch.peer.UniqueName()
}

func (ch *Channel) stream(kind ble.StreamKind) *stream {
	return ch.streams[kind]
}

// Discard tears this channel down without running the disconnection wire
// protocol and without surfacing any app-facing disconnect callback — used
// by Connection to drop a transient proto-channel once its resume request
// has been matched and transplanted onto an existing channel, and to hard-
// drop every channel on Destroy.
func (ch *Channel) Discard() {
	ch.close()
}

// UpdateLocalName pushes this device's new identity/advertised name to the
// remote peer over the NAME_UPDATE characteristic pair (spec.md §6).
func (ch *Channel) UpdateLocalName(name string) {
	ch.mu.Lock()
	ch.localUniqueName = name
	role := ch.role
	ch.mu.Unlock()

	payload := []byte(name)
	if role == RoleCentral {
		ch.central.WriteCharacteristic(ble.CharNameUpdateReceive, payload, nil)
		return
	}
	ch.peripheral.Notify(ble.CharNameUpdateSend, payload, nil)
}

// close tears this channel down permanently and notifies the owner.
func (ch *Channel) close() {
	ch.mu.Lock()
	if ch.state == StateDestroyed {
		ch.mu.Unlock()
		return
	}
	ch.state = StateDestroyed
	if ch.handshakeTimer != nil {
		ch.handshakeTimer.Cancel()
	}
	if ch.reconnectionTimer != nil {
		ch.reconnectionTimer.Cancel()
	}
	if ch.disconnectAckTimer != nil {
		ch.disconnectAckTimer.Cancel()
	}
	ch.mu.Unlock()

	logger.Debug(ch.logPrefix(), "channel closed")
	if ch.cb.OnClosed != nil {
		ch.cb.OnClosed(ch)
	}
}

func newMessageIDCounter() *seqnum.SequenceNumber {
	return seqnum.New(submsg.MessageIDLength)
}
