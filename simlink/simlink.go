// Package simlink is an in-process stand-in for a real CoreBluetooth /
// BluetoothGatt / BlueZ binding: it implements ble.CentralAdapter and
// ble.PeripheralAdapter by invoking the other side's handlers directly on
// fresh goroutines (after a latency timer when one is set) instead of over
// a radio, for tests and the demo command. It is grounded on
// wire/socket_wire.go's connection-pairing and callback-registration idiom, at the GATT
// characteristic level rather than raw socket framing.
package simlink

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/user/blepeer/ble"
	"github.com/user/blepeer/logger"
	"github.com/user/blepeer/peer"
)

// Link is one simulated radio link between a CENTRAL and a PERIPHERAL.
// Both adapters vended by NewLink share it.
type Link struct {
	mu        sync.Mutex
	connected bool
	mtu       int
	latency   time.Duration

	dropWrites   int
	dropNotifies int

	central          *centralAdapter
	peripheral       *peripheralAdapter
	centralHandle    *peer.DeviceHandle
	peripheralHandle *peer.DeviceHandle
}

// NewLink creates a connected simulated radio link: its Central() side
// implements ble.CentralAdapter from the scanning device's point of view,
// its Peripheral() side implements ble.PeripheralAdapter from the
// advertiser's. latency simulates the radio round-trip applied to every
// write/notify/disconnect delivery.
func NewLink(latency time.Duration) *Link {
	return newLinkWithHandles(
		&peer.DeviceHandle{Address: "central-" + uuid.NewString()},
		&peer.DeviceHandle{Address: "peripheral-" + uuid.NewString()},
		latency,
	)
}

// newLinkWithHandles is NewLink with caller-supplied device handles, used
// by Radio.Connect so the handles it already vended via PeerFoundFunc/
// InboundConnectionFunc match the ones the resulting adapters' Channels
// see.
func newLinkWithHandles(centralHandle, peripheralHandle *peer.DeviceHandle, latency time.Duration) *Link {
	l := &Link{
		connected: true,
		mtu:       23, // BLE default ATT_MTU before negotiation
		latency:   latency,
	}
	l.central = &centralAdapter{link: l}
	l.peripheral = &peripheralAdapter{link: l}
	l.centralHandle = centralHandle
	l.peripheralHandle = peripheralHandle
	return l
}

// Central returns this link's ble.CentralAdapter.
func (l *Link) Central() ble.CentralAdapter { return l.central }

// Peripheral returns this link's ble.PeripheralAdapter.
func (l *Link) Peripheral() ble.PeripheralAdapter { return l.peripheral }

// CentralHandle returns the opaque device handle the peripheral's Channel
// sees for the central side of this link.
func (l *Link) CentralHandle() *peer.DeviceHandle { return l.centralHandle }

// PeripheralHandle returns the opaque device handle the central's Channel
// sees for the peripheral side of this link.
func (l *Link) PeripheralHandle() *peer.DeviceHandle { return l.peripheralHandle }

// Reconnect restores a broken link between the same two endpoints,
// simulating the peripheral coming back into range (spec.md §4.8).
func (l *Link) Reconnect() {
	l.mu.Lock()
	l.connected = true
	l.mu.Unlock()
	logger.Debug("simlink", "link reconnected")
}

func (l *Link) deliver(fn func()) {
	if l.latency > 0 {
		time.AfterFunc(l.latency, fn)
		return
	}
	go fn()
}

func (l *Link) isConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

// DropNextWrite makes the next n central-to-peripheral
// WriteCharacteristic deliveries vanish in transit: the local write still
// completes (done(nil)), matching a real radio where the sender gets no
// indication a dropped packet never arrived, but the peripheral's write
// handler is never invoked. A deterministic count rather than the
// probabilistic PacketLossRate this is adapted from, so a test can drop
// exactly one ack and assert the retransmit that follows.
func (l *Link) DropNextWrite(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dropWrites = n
}

// DropNextNotify is DropNextWrite for the peripheral-to-central Notify
// direction, e.g. to drop the delivery ack a PERIPHERAL-role channel sends
// back via Notify.
func (l *Link) DropNextNotify(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dropNotifies = n
}

func (l *Link) takeDropWrite() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.dropWrites <= 0 {
		return false
	}
	l.dropWrites--
	return true
}

func (l *Link) takeDropNotify() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.dropNotifies <= 0 {
		return false
	}
	l.dropNotifies--
	return true
}

// SimulateHardwareLoss models a genuine radio dropout (out of range,
// interference) rather than either side's own orderly Disconnect(): both
// the central and the peripheral lose the link unsolicited and
// simultaneously, since neither adapter "initiated" it.
func (l *Link) SimulateHardwareLoss() {
	l.breakLink("")
}

// breakLink marks the link down and tells whichever side didn't initiate
// the disconnect that it lost the link unsolicited.
func (l *Link) breakLink(initiator string) {
	l.mu.Lock()
	wasConnected := l.connected
	l.connected = false
	l.mu.Unlock()
	if !wasConnected {
		return
	}
	if initiator != "central" {
		if h := l.central.linkLostHandler(); h != nil {
			l.deliver(func() { h(ble.ErrConnectionLost) })
		}
	}
	if initiator != "peripheral" {
		if h := l.peripheral.linkLostHandler(); h != nil {
			l.deliver(func() { h(ble.ErrConnectionLost) })
		}
	}
}

type centralAdapter struct {
	link *Link

	mu            sync.Mutex
	notifyHandler ble.ReceiveFunc
	lostHandler   ble.LinkLostFunc
}

func (c *centralAdapter) WriteCharacteristic(char ble.CharUUID, value []byte, done ble.WriteDoneFunc) {
	if !c.link.isConnected() {
		if done != nil {
			c.link.deliver(func() { done(ble.ErrConnectionLost) })
		}
		return
	}
	dropped := c.link.takeDropWrite()
	c.link.deliver(func() {
		if !dropped {
			if h := c.link.peripheral.writeHandlerFunc(); h != nil {
				h(char, value)
			}
		}
		if done != nil {
			done(nil)
		}
	})
}

func (c *centralAdapter) SubscribeNotify(char ble.CharUUID) error {
	if !c.link.isConnected() {
		return ble.ErrConnectionLost
	}
	return nil
}

func (c *centralAdapter) RequestMTU(size int, done ble.MTUDoneFunc) {
	c.link.mu.Lock()
	negotiated := size
	if negotiated > ble.TargetMTU {
		negotiated = ble.TargetMTU
	}
	c.link.mtu = negotiated
	c.link.mu.Unlock()
	c.link.deliver(func() {
		if done != nil {
			done(negotiated, nil)
		}
	})
}

func (c *centralAdapter) SetNotifyHandler(handler ble.ReceiveFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifyHandler = handler
}

func (c *centralAdapter) SetLinkLostHandler(handler ble.LinkLostFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lostHandler = handler
}

func (c *centralAdapter) Disconnect(done ble.DisconnectDoneFunc) {
	c.link.breakLink("central")
	c.link.deliver(func() {
		if done != nil {
			done(nil)
		}
	})
}

func (c *centralAdapter) notifyHandlerFunc() ble.ReceiveFunc {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notifyHandler
}

func (c *centralAdapter) linkLostHandler() ble.LinkLostFunc {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lostHandler
}

type peripheralAdapter struct {
	link *Link

	mu           sync.Mutex
	writeHandler ble.ReceiveFunc
	lostHandler  ble.LinkLostFunc
}

func (p *peripheralAdapter) Notify(char ble.CharUUID, value []byte, done ble.WriteDoneFunc) {
	if !p.link.isConnected() {
		if done != nil {
			p.link.deliver(func() { done(ble.ErrConnectionLost) })
		}
		return
	}
	dropped := p.link.takeDropNotify()
	p.link.deliver(func() {
		if !dropped {
			if h := p.link.central.notifyHandlerFunc(); h != nil {
				h(char, value)
			}
		}
		if done != nil {
			done(nil)
		}
	})
}

func (p *peripheralAdapter) SetWriteHandler(handler ble.ReceiveFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeHandler = handler
}

func (p *peripheralAdapter) SetLinkLostHandler(handler ble.LinkLostFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lostHandler = handler
}

func (p *peripheralAdapter) Disconnect(done ble.DisconnectDoneFunc) {
	p.link.breakLink("peripheral")
	p.link.deliver(func() {
		if done != nil {
			done(nil)
		}
	})
}

func (p *peripheralAdapter) writeHandlerFunc() ble.ReceiveFunc {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writeHandler
}

func (p *peripheralAdapter) linkLostHandler() ble.LinkLostFunc {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lostHandler
}
