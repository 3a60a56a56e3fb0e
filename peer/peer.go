// Package peer models a remote device's identity and live-link status.
package peer

import "sync"

// DeviceHandle is the opaque reference the host OS BLE stack hands back
// for a discovered or connected device (e.g. a CoreBluetooth peripheral
// identifier or an Android BluetoothDevice). Only Address is meaningful to
// this module: Peer equality compares it.
type DeviceHandle struct {
	Address string
}

// uniqueNameSuffixRunes is the number of trailing runes of uniqueName that
// are the persistent per-device random suffix (not part of the
// user-chosen display name).
const uniqueNameSuffixRunes = 2

// Peer represents a device we can find, connect to, and exchange messages
// with. A Peer is shared between the Channel that owns it (which mutates
// it from its own goroutines as the link's state changes) and whatever
// code holds a Clone of it, so every access goes through mu — callers
// never need to hold any lock of their own.
type Peer struct {
	mu sync.Mutex

	uniqueName             string
	name                   string
	device                 *DeviceHandle
	hardwareConnected      bool
	connected              bool
	reconnecting           bool
	requestingReconnection bool
	disconnecting          bool
}

// New constructs a Peer. uniqueName must be at least uniqueNameSuffixRunes
// runes long to derive a display Name; shorter or empty values leave both
// UniqueName and Name empty, matching the original library's defensive
// handling of a not-yet-known identity (e.g. a peripheral-side Channel
// created before CONNECTION_REQUEST has been received).
func New(device *DeviceHandle, uniqueName string, connected bool) *Peer {
	p := &Peer{
		device:    device,
		connected: connected,
	}
	p.setUniqueNameInternal(uniqueName)
	return p
}

// setUniqueNameInternal assumes p.mu is held.
func (p *Peer) setUniqueNameInternal(uniqueName string) {
	runes := []rune(uniqueName)
	if len(runes) < uniqueNameSuffixRunes {
		p.uniqueName = ""
		p.name = ""
		return
	}
	p.uniqueName = uniqueName
	p.name = string(runes[:len(runes)-uniqueNameSuffixRunes])
}

// Clone returns an independent copy so callers can't mutate a Peer that's
// shared with (or owned by) a Channel. Built field by field (rather than
// `c := *p`) so the clone gets its own unlocked mutex instead of a copy of
// this Peer's.
func (p *Peer) Clone() *Peer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return &Peer{
		uniqueName:             p.uniqueName,
		name:                   p.name,
		device:                 p.device,
		hardwareConnected:      p.hardwareConnected,
		connected:              p.connected,
		reconnecting:           p.reconnecting,
		requestingReconnection: p.requestingReconnection,
		disconnecting:          p.disconnecting,
	}
}

// Equal compares by device handle address when both peers have one,
// matching spec.md §3 ("Equality between peers is by device_handle.address
// when both have one"). Returns false if either side lacks a handle.
func (p *Peer) Equal(other *Peer) bool {
	if other == nil {
		return false
	}
	p.mu.Lock()
	self := p.device
	p.mu.Unlock()

	other.mu.Lock()
	theirs := other.device
	other.mu.Unlock()

	if self != nil && theirs != nil {
		return self.Address != "" && self.Address == theirs.Address
	}
	return false
}

// UniqueName is the advertised name: the app-chosen name plus the 2-rune
// persistent device-id suffix.
func (p *Peer) UniqueName() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.uniqueName
}

// Name is UniqueName with the device-id suffix stripped — what the
// application should display.
func (p *Peer) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.name
}

// SetUniqueName updates the identity string (and the derived Name),
// e.g. when NAME_UPDATE arrives on an existing Channel.
func (p *Peer) SetUniqueName(uniqueName string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len([]rune(uniqueName)) >= uniqueNameSuffixRunes {
		p.setUniqueNameInternal(uniqueName)
	}
}

// Device returns the opaque OS handle for this peer, or nil if unknown.
func (p *Peer) Device() *DeviceHandle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.device
}

// SetDevice refreshes the OS handle, e.g. when a reconnecting peer is
// rediscovered at a new address.
func (p *Peer) SetDevice(device *DeviceHandle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.device = device
}

// HardwareConnected reports whether the underlying radio link is up.
// This can be true even while Connected is false (e.g. link is up but the
// application-level handshake hasn't completed) and false while a peer is
// reconnecting (Reconnecting implies the hardware link is currently down).
func (p *Peer) HardwareConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hardwareConnected
}

// SetHardwareConnected is for internal use by Channel only.
func (p *Peer) SetHardwareConnected(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hardwareConnected = v
}

// Connected reports whether this peer has completed the handshake.
func (p *Peer) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// SetConnected is for internal use by Channel only.
func (p *Peer) SetConnected(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = v
}

// FullyConnected reports whether the peer is connected and not currently
// reconnecting — the predicate application code generally wants instead of
// Connected alone.
func (p *Peer) FullyConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected && !p.reconnecting
}

// Reconnecting reports whether the link was lost and a CENTRAL-driven
// reconnection attempt is in progress.
func (p *Peer) Reconnecting() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reconnecting
}

// SetReconnecting is for internal use by Channel only; it sets both the
// reconnecting and connected flags atomically, mirroring the original
// library's combined setter.
func (p *Peer) SetReconnecting(reconnecting, connected bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = connected
	p.reconnecting = reconnecting
}

// RequestingReconnection reports whether this (CENTRAL-side) peer has an
// outstanding automatic reconnect attempt enqueued.
func (p *Peer) RequestingReconnection() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requestingReconnection
}

// SetRequestingReconnection is for internal use by Channel only. It may
// only be set to true while Reconnecting is true, and may always be
// cleared — the same guard the original library enforces, so a stale
// handshake response can't resurrect a cancelled reconnect.
func (p *Peer) SetRequestingReconnection(requesting bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reconnecting || !requesting {
		p.requestingReconnection = requesting
	}
}

// Disconnecting reports whether a clean disconnection is in progress.
func (p *Peer) Disconnecting() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disconnecting
}

// SetDisconnecting is for internal use by Channel only.
func (p *Peer) SetDisconnecting(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disconnecting = v
}

// String returns the display name, matching the original library's
// toString().
func (p *Peer) String() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.name
}
