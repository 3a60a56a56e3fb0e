// Package connection holds all live Channels of one BLE role (CENTRAL or
// PERIPHERAL), fans outbound messages across them sequentially, and owns
// the per-role pending-connection FIFO (spec.md §4.9).
package connection

import (
	"sync"

	"github.com/user/blepeer/ble"
	"github.com/user/blepeer/channel"
	"github.com/user/blepeer/message"
	"github.com/user/blepeer/peer"
)

// pendingAttempt is one queued outbound connect or reconnect attempt; only
// one is ever in flight at a time per Connection (CENTRAL role only).
type pendingAttempt struct {
	resume  bool
	peer    *peer.Peer
	device  *peer.DeviceHandle
	adapter ble.CentralAdapter
	channel *channel.Channel
}

// Connection owns the channel set of one role.
type Connection struct {
	mu sync.Mutex

	role            channel.Role
	localUniqueName string
	channels        []*channel.Channel

	connectInFlight bool
	pending         []pendingAttempt

	app channel.Callbacks
}

// New creates a Connection for one role. app is the app-facing callback
// set (Communicator's); Connection wraps it with its own pending-FIFO and
// channel-set bookkeeping before forwarding.
func New(role channel.Role, localUniqueName string, app channel.Callbacks) *Connection {
	return &Connection{
		role:            role,
		localUniqueName: localUniqueName,
		app:             app,
	}
}

// buildCallbacks returns the Callbacks record every Channel owned by this
// Connection is constructed with.
func (c *Connection) buildCallbacks() channel.Callbacks {
	cb := c.app

	appSuccess := c.app.OnConnectionSuccess
	cb.OnConnectionSuccess = func(p *peer.Peer, role channel.Role) {
		c.dequeueNext()
		if appSuccess != nil {
			appSuccess(p, role)
		}
	}

	appFailed := c.app.OnConnectionFailed
	cb.OnConnectionFailed = func(p *peer.Peer, code ble.ResultCode) {
		c.dequeueNext()
		if appFailed != nil {
			appFailed(p, code)
		}
	}

	appResumed := c.app.OnConnectionResumed
	cb.OnConnectionResumed = func(p *peer.Peer) {
		c.dequeueNext()
		if appResumed != nil {
			appResumed(p)
		}
	}

	appDisconnected := c.app.OnDisconnected
	cb.OnDisconnected = func(p *peer.Peer) {
		c.dequeueNext()
		if appDisconnected != nil {
			appDisconnected(p)
		}
	}

	cb.OnClosed = c.removeChannel

	if c.role == channel.RolePeripheral {
		cb.OnResumeRequested = c.handleResumeRequest
	}

	return cb
}

func (c *Connection) removeChannel(target *channel.Channel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, ch := range c.channels {
		if ch == target {
			c.channels = append(c.channels[:i], c.channels[i+1:]...)
			return
		}
	}
}

// dequeueNext clears the in-flight slot and, if anything is queued, starts
// the next connect/resume attempt. Safe to call even when nothing was
// in flight.
func (c *Connection) dequeueNext() {
	if c.role != channel.RoleCentral {
		return
	}
	c.mu.Lock()
	c.connectInFlight = false
	if len(c.pending) == 0 {
		c.mu.Unlock()
		return
	}
	next := c.pending[0]
	c.pending = c.pending[1:]
	c.connectInFlight = true
	c.mu.Unlock()

	if next.resume {
		next.channel.ResumeCentral(next.adapter, next.device)
		return
	}
	c.startConnect(next.peer, next.adapter)
}

func (c *Connection) startConnect(p *peer.Peer, adapter ble.CentralAdapter) {
	ch := channel.NewCentralChannel(p, adapter, c.localUniqueName, c.buildCallbacks())
	c.mu.Lock()
	c.channels = append(c.channels, ch)
	c.mu.Unlock()
}

// Connect enqueues (or immediately starts, if nothing else is in flight)
// an outbound connect attempt. CENTRAL role only.
func (c *Connection) Connect(p *peer.Peer, adapter ble.CentralAdapter) {
	if c.role != channel.RoleCentral {
		return
	}
	c.mu.Lock()
	if c.connectInFlight {
		c.pending = append(c.pending, pendingAttempt{peer: p, adapter: adapter})
		c.mu.Unlock()
		return
	}
	c.connectInFlight = true
	c.mu.Unlock()
	c.startConnect(p, adapter)
}

// HandleScanResult drives spec.md §4.8's CENTRAL-initiated reconnection:
// call it for every scan result with the rediscovered peer's identity. It
// reports whether the result matched a reconnecting channel (and so was
// consumed as a resume attempt rather than a fresh discovery).
func (c *Connection) HandleScanResult(uniqueName string, device *peer.DeviceHandle, adapter ble.CentralAdapter) bool {
	if c.role != channel.RoleCentral {
		return false
	}
	c.mu.Lock()
	var target *channel.Channel
	for _, ch := range c.channels {
		p := ch.Peer()
		if ch.State() == channel.StateReconnecting && p.UniqueName() == uniqueName && !p.RequestingReconnection() {
			target = ch
			break
		}
	}
	if target == nil {
		c.mu.Unlock()
		return false
	}
	if c.connectInFlight {
		c.pending = append(c.pending, pendingAttempt{resume: true, channel: target, device: device, adapter: adapter})
		c.mu.Unlock()
		return true
	}
	c.connectInFlight = true
	c.mu.Unlock()

	target.ResumeCentral(adapter, device)
	return true
}

// AcceptInbound creates a channel for a fresh inbound link. PERIPHERAL
// role only; the handshake proceeds on its own from inbound writes.
func (c *Connection) AcceptInbound(p *peer.Peer, adapter ble.PeripheralAdapter) *channel.Channel {
	ch := channel.NewPeripheralChannel(p, adapter, c.localUniqueName, c.buildCallbacks())
	c.mu.Lock()
	c.channels = append(c.channels, ch)
	c.mu.Unlock()
	return ch
}

func (c *Connection) handleResumeRequest(proto *channel.Channel, uniqueName string) {
	existing := c.findReconnectingByName(uniqueName)
	if existing != nil {
		existing.ResumePeripheral(proto.PeripheralAdapter(), uniqueName)
		proto.Discard()
		return
	}
	// No matching reconnecting channel: treat it as a fresh request so a
	// stale resume attempt still gets a decision instead of being stranded.
	if c.app.OnConnectionRequest != nil {
		c.app.OnConnectionRequest(proto.Peer())
	}
}

func (c *Connection) findReconnectingByName(name string) *channel.Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.channels {
		if ch.State() == channel.StateReconnecting && ch.Peer().UniqueName() == name {
			return ch
		}
	}
	return nil
}

// FindChannel looks up the channel for p by device-handle identity, for
// the app-driven AcceptConnection/RejectConnection decision that follows
// OnConnectionRequest.
func (c *Connection) FindChannel(p *peer.Peer) *channel.Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.channels {
		if ch.Peer().Equal(p) {
			return ch
		}
	}
	return nil
}

// SendMessage fans m out to every matching channel strictly sequentially,
// per spec.md §4.9.
func (c *Connection) SendMessage(m *message.Message, done func(error)) {
	c.sendSeq(c.filteredChannels(m), func(ch *channel.Channel, next func(error)) {
		ch.WriteMessage(m, next)
	}, done)
}

// SendData mirrors SendMessage for the independent binary stream.
func (c *Connection) SendData(m *message.Message, done func(error)) {
	c.sendSeq(c.filteredChannels(m), func(ch *channel.Channel, next func(error)) {
		ch.WriteData(m, next)
	}, done)
}

func (c *Connection) filteredChannels(m *message.Message) []*channel.Channel {
	c.mu.Lock()
	snapshot := append([]*channel.Channel{}, c.channels...)
	c.mu.Unlock()

	if m.Receiver == nil {
		return snapshot
	}
	filtered := make([]*channel.Channel, 0, len(snapshot))
	for _, ch := range snapshot {
		if ch.Peer().UniqueName() == m.Receiver.UniqueName() {
			filtered = append(filtered, ch)
		}
	}
	return filtered
}

// sendSeq mirrors the original library's recursive callback-chained
// send: write to the head channel, wait for completion, then advance.
// Channels whose peer is mid-disconnect are skipped, not written to.
func (c *Connection) sendSeq(chs []*channel.Channel, write func(ch *channel.Channel, next func(error)), done func(error)) {
	if len(chs) == 0 {
		if done != nil {
			done(nil)
		}
		return
	}
	head, rest := chs[0], chs[1:]
	if head.Peer().Disconnecting() {
		c.sendSeq(rest, write, done)
		return
	}
	write(head, func(error) {
		c.sendSeq(rest, write, done)
	})
}

// Disconnect finds the channel for p and runs the disconnection (or
// reconnection-cancellation) protocol on it.
func (c *Connection) Disconnect(p *peer.Peer, done func(error)) {
	ch := c.FindChannel(p)
	if ch == nil {
		if done != nil {
			done(nil)
		}
		return
	}
	ch.Disconnect(done)
}

// DisconnectAll disconnects every channel sequentially over a snapshot, so
// the channel set isn't mutated mid-iteration (spec.md §4.9).
func (c *Connection) DisconnectAll(done func(error)) {
	c.mu.Lock()
	snapshot := append([]*channel.Channel{}, c.channels...)
	c.mu.Unlock()
	c.disconnectSeq(snapshot, done)
}

func (c *Connection) disconnectSeq(chs []*channel.Channel, done func(error)) {
	if len(chs) == 0 {
		if done != nil {
			done(nil)
		}
		return
	}
	head, rest := chs[0], chs[1:]
	head.Disconnect(func(error) { c.disconnectSeq(rest, done) })
}

// GetConnectedPeers snapshots every peer with a completed handshake.
func (c *Connection) GetConnectedPeers() []*peer.Peer {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*peer.Peer, 0, len(c.channels))
	for _, ch := range c.channels {
		if p := ch.Peer(); p.FullyConnected() {
			out = append(out, p)
		}
	}
	return out
}

// GetReconnectingPeers snapshots every peer currently in the reconnection
// window.
func (c *Connection) GetReconnectingPeers() []*peer.Peer {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*peer.Peer, 0, len(c.channels))
	for _, ch := range c.channels {
		if p := ch.Peer(); p.Reconnecting() {
			out = append(out, p)
		}
	}
	return out
}

// UpdateName changes this role's advertised/identity name and pushes the
// update to every live channel's NAME_UPDATE characteristic.
func (c *Connection) UpdateName(uniqueName string) {
	c.mu.Lock()
	c.localUniqueName = uniqueName
	snapshot := append([]*channel.Channel{}, c.channels...)
	c.mu.Unlock()
	for _, ch := range snapshot {
		ch.UpdateLocalName(uniqueName)
	}
}

// Destroy drops every channel without running the disconnection protocol,
// mirroring the original library's hard channels.remove(0).destroy() loop.
func (c *Connection) Destroy() {
	c.mu.Lock()
	snapshot := c.channels
	c.channels = nil
	c.mu.Unlock()
	for _, ch := range snapshot {
		ch.Discard()
	}
}
