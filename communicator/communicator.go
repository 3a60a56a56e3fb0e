// Package communicator is the top-level facade: one Communicator owns both
// role Connections, the host radio, advertise/scan lifecycle, the global
// outbound queues, and multicasts every event to the app's Callbacks —
// spec.md §4.10.
package communicator

import (
	"math/rand"
	"sync"
	"time"

	"github.com/user/blepeer/ble"
	"github.com/user/blepeer/channel"
	"github.com/user/blepeer/connection"
	"github.com/user/blepeer/logger"
	"github.com/user/blepeer/message"
	"github.com/user/blepeer/peer"
)

const nameSuffixAlphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// generateNameSuffix mints the 2-rune persistent per-device suffix
// peer.New's uniqueName contract expects, the same role
// BluetoothTools.generateBluetoothNameId plays in the original library:
// transparently disambiguating peers that share a display name.
func generateNameSuffix() string {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	b := make([]byte, 2)
	for i := range b {
		b[i] = nameSuffixAlphabet[rng.Intn(len(nameSuffixAlphabet))]
	}
	return string(b)
}

// Communicator approximates Android's single-main-thread affinity with a
// goroutine the caller designates by constructing it with New: every
// StartAdvertising/StopAdvertising/StartDiscovery/StopDiscovery call must
// come from that same goroutine or it fails with ble.NotMainThread, exactly
// as those four calls fail off Android's main Looper thread. SendMessage/
// SendData, and every asynchronous notification back to Callbacks
// (discovery results, connection state, radio power changes), are funneled
// through an internal single-goroutine dispatch loop — this module's
// analogue of mainHandler.post(...) draining onto the Looper thread. The
// remaining operations (Connect, AcceptConnection, RejectConnection,
// Disconnect, DisconnectFromAll, SetName, Destroy) run on the calling
// goroutine.
type Communicator struct {
	mu sync.Mutex

	radio         ble.Radio
	mainGoroutine uint64

	central    *connection.Connection
	peripheral *connection.Connection

	cb Callbacks

	name       string
	uniqueName string

	advertising bool
	discovering bool

	turningOn           bool
	turningOff          bool
	restarting          bool
	destroying          bool
	originalRadioWasOff bool
	destroyDone         func()

	ops chan func()

	textMu    sync.Mutex
	textQueue []*message.Message
	dataMu    sync.Mutex
	dataQueue []*message.Message
}

// New constructs a Communicator advertising/scanning as localName (a
// persistent 2-rune device-id suffix is appended transparently) over
// radio. The calling goroutine becomes this Communicator's designated
// thread for the lifetime of the object.
func New(localName string, radio ble.Radio, cb Callbacks) *Communicator {
	c := &Communicator{
		radio:         radio,
		mainGoroutine: currentGoroutineID(),
		cb:            cb,
		name:          localName,
		uniqueName:    localName + generateNameSuffix(),
		ops:           make(chan func(), 64),
	}
	c.originalRadioWasOff = !radio.Enabled()

	c.central = connection.New(channel.RoleCentral, c.uniqueName, c.buildAppCallbacks())
	c.peripheral = connection.New(channel.RolePeripheral, c.uniqueName, c.buildAppCallbacks())

	radio.SetStateChangeHandler(func(enabled bool) {
		c.dispatch(func() { c.onRadioStateChanged(enabled) })
	})
	radio.SetInboundConnectionHandler(func(device *peer.DeviceHandle, adapter ble.PeripheralAdapter) {
		c.peripheral.AcceptInbound(peer.New(device, "", false), adapter)
	})

	go c.runLoop()
	return c
}

func (c *Communicator) runLoop() {
	for fn := range c.ops {
		fn()
	}
}

func (c *Communicator) dispatch(fn func()) {
	c.ops <- fn
}

func (c *Communicator) onWrongGoroutine() bool {
	return currentGoroutineID() != c.mainGoroutine
}

// UniqueName returns this device's advertised identity.
func (c *Communicator) UniqueName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uniqueName
}

// IsAdvertising reports whether StartAdvertising has succeeded and
// StopAdvertising hasn't since been called.
func (c *Communicator) IsAdvertising() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.advertising
}

// IsDiscovering mirrors IsAdvertising for StartDiscovery/StopDiscovery.
func (c *Communicator) IsDiscovering() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.discovering
}

// GetConnectedPeers returns every peer connected in either role.
func (c *Communicator) GetConnectedPeers() []*peer.Peer {
	return append(c.peripheral.GetConnectedPeers(), c.central.GetConnectedPeers()...)
}

// StartAdvertising begins advertising so other devices' discovery finds
// this one and can send a connection request.
func (c *Communicator) StartAdvertising() ble.ResultCode {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroying {
		return ble.Destroying
	}
	if c.onWrongGoroutine() {
		return ble.NotMainThread
	}
	if c.advertising {
		return ble.AlreadyStarted
	}

	var ret ble.ResultCode
	if c.radio.Enabled() {
		if len(c.peripheral.GetReconnectingPeers()) == 0 {
			ret = c.executeStartAdvertising()
		} else {
			ret = ble.Success
		}
	} else {
		c.turningOn = true
		c.radio.Enable()
		ret = ble.Success
	}
	if ret == ble.Success {
		c.advertising = true
		c.notify(c.cb.OnAdvertiseStarted)
	}
	return ret
}

func (c *Communicator) executeStartAdvertising() ble.ResultCode {
	if err := c.radio.StartAdvertising(c.uniqueName); err != nil {
		return ble.Error
	}
	return ble.Success
}

// StopAdvertising halts advertising started by StartAdvertising, and may
// power the radio back down if nothing else needs it and it was off to
// begin with.
func (c *Communicator) StopAdvertising() ble.ResultCode {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.onWrongGoroutine() {
		return ble.NotMainThread
	}
	return c.stopAdvertising(true)
}

// stopAdvertising assumes c.mu is held. tryRestore mirrors the original
// library's distinction between an app-initiated stop (which may power the
// radio down) and the radio-state observer's own internal stop while
// bluetooth is already cycling (which must not).
func (c *Communicator) stopAdvertising(tryRestore bool) ble.ResultCode {
	if !c.advertising {
		return ble.AlreadyStopped
	}
	var ret ble.ResultCode
	if len(c.peripheral.GetReconnectingPeers()) == 0 {
		c.radio.StopAdvertising()
		ret = ble.Success
	} else {
		ret = ble.Success
	}
	if ret == ble.Success {
		c.advertising = false
		c.notify(c.cb.OnAdvertiseStopped)
	}
	if tryRestore {
		c.maybeRestoreRadio()
	}
	return ret
}

// StartDiscovery begins scanning for advertising devices, reported one at
// a time via Callbacks.OnPeerFound.
func (c *Communicator) StartDiscovery() ble.ResultCode {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroying {
		return ble.Destroying
	}
	if c.onWrongGoroutine() {
		return ble.NotMainThread
	}
	if c.discovering {
		return ble.AlreadyStarted
	}

	var ret ble.ResultCode
	if c.radio.Enabled() {
		if len(c.central.GetReconnectingPeers()) == 0 {
			ret = c.executeStartDiscovery()
		} else {
			ret = ble.Success
		}
	} else {
		c.turningOn = true
		c.radio.Enable()
		ret = ble.Success
	}
	if ret == ble.Success {
		c.discovering = true
		c.notify(c.cb.OnDiscoveryStarted)
	}
	return ret
}

func (c *Communicator) executeStartDiscovery() ble.ResultCode {
	if err := c.radio.StartScanning(c.onPeerFound, c.onPeerLost); err != nil {
		return ble.Error
	}
	return ble.Success
}

// StopDiscovery halts scanning started by StartDiscovery.
func (c *Communicator) StopDiscovery() ble.ResultCode {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.onWrongGoroutine() {
		return ble.NotMainThread
	}
	return c.stopDiscovery(true)
}

func (c *Communicator) stopDiscovery(tryRestore bool) ble.ResultCode {
	if !c.discovering {
		return ble.AlreadyStopped
	}
	if len(c.central.GetReconnectingPeers()) == 0 {
		c.radio.StopScanning()
	}
	c.discovering = false
	c.notify(c.cb.OnDiscoveryStopped)
	if tryRestore {
		c.maybeRestoreRadio()
	}
	return ble.Success
}

// maybeRestoreRadio assumes c.mu is held. It mirrors the original
// library's "possible bluetooth shutdown": once nothing — advertising,
// discovery, or a connected peer — needs the radio, and it was off before
// this Communicator ever turned it on, turn it back off.
func (c *Communicator) maybeRestoreRadio() {
	if c.advertising || c.discovering || len(c.GetConnectedPeers()) > 0 {
		return
	}
	if c.originalRadioWasOff {
		c.turningOff = true
		c.radio.Disable()
	}
}

// SendMessage enqueues m for delivery on the text stream: to m.Receiver if
// set, else broadcast to every connected peer. Drained one message at a
// time, CENTRAL then PERIPHERAL, so a slow peer never reorders messages to
// others (spec.md §4.10).
func (c *Communicator) SendMessage(m *message.Message) {
	c.dispatch(func() {
		c.textMu.Lock()
		c.textQueue = append(c.textQueue, m)
		first := len(c.textQueue) == 1
		c.textMu.Unlock()
		if first {
			c.drainText()
		}
	})
}

func (c *Communicator) drainText() {
	c.textMu.Lock()
	if len(c.textQueue) == 0 {
		c.textMu.Unlock()
		return
	}
	m := c.textQueue[0]
	c.textMu.Unlock()

	c.central.SendMessage(m, func(error) {
		c.peripheral.SendMessage(m, func(error) {
			c.textMu.Lock()
			c.textQueue = c.textQueue[1:]
			c.textMu.Unlock()
			c.drainText()
		})
	})
}

// SendData mirrors SendMessage for the independent binary stream.
func (c *Communicator) SendData(m *message.Message) {
	c.dispatch(func() {
		c.dataMu.Lock()
		c.dataQueue = append(c.dataQueue, m)
		first := len(c.dataQueue) == 1
		c.dataMu.Unlock()
		if first {
			c.drainData()
		}
	})
}

func (c *Communicator) drainData() {
	c.dataMu.Lock()
	if len(c.dataQueue) == 0 {
		c.dataMu.Unlock()
		return
	}
	m := c.dataQueue[0]
	c.dataMu.Unlock()

	c.central.SendData(m, func(error) {
		c.peripheral.SendData(m, func(error) {
			c.dataMu.Lock()
			c.dataQueue = c.dataQueue[1:]
			c.dataMu.Unlock()
			c.drainData()
		})
	})
}

// Connect sends a connection request to a peer discovered via
// OnPeerFound. The outcome arrives via OnConnectionSuccess/OnConnectionFailed.
func (c *Communicator) Connect(p *peer.Peer) ble.ResultCode {
	c.mu.Lock()
	destroying := c.destroying
	c.mu.Unlock()
	if destroying {
		return ble.Destroying
	}
	device := p.Device()
	if device == nil {
		return ble.Error
	}
	target := p.Clone()
	c.radio.Connect(device, func(adapter ble.CentralAdapter, err error) {
		if err != nil {
			c.notify(func() {
				if c.cb.OnConnectionFailed != nil {
					c.cb.OnConnectionFailed(target, ble.Error)
				}
			})
			return
		}
		c.central.Connect(target, adapter)
	})
	return ble.Success
}

// AcceptConnection completes the handshake for a peer that raised
// OnConnectionRequest.
func (c *Communicator) AcceptConnection(p *peer.Peer) ble.ResultCode {
	if ch := c.peripheral.FindChannel(p); ch != nil {
		ch.AcceptConnection()
	}
	return ble.Success
}

// RejectConnection refuses a peer that raised OnConnectionRequest.
func (c *Communicator) RejectConnection(p *peer.Peer) ble.ResultCode {
	if ch := c.peripheral.FindChannel(p); ch != nil {
		ch.RejectConnection()
	}
	return ble.Success
}

// Disconnect runs the disconnection protocol against a connected peer in
// both roles (a peer can be connected to us as both CENTRAL and
// PERIPHERAL at once is not expected by this protocol, but disconnecting
// both sides unconditionally is cheap and matches the original library).
func (c *Communicator) Disconnect(p *peer.Peer) ble.ResultCode {
	c.peripheral.Disconnect(p, nil)
	c.central.Disconnect(p, nil)
	c.mu.Lock()
	c.maybeRestoreRadio()
	c.mu.Unlock()
	return ble.Success
}

// DisconnectFromAll disconnects every connected peer, PERIPHERAL role
// first then CENTRAL, matching the original library's ordering.
func (c *Communicator) DisconnectFromAll() ble.ResultCode {
	c.peripheral.DisconnectAll(func(error) {
		c.central.DisconnectAll(nil)
	})
	return ble.Success
}

// SetName changes this device's advertised identity; a fresh 2-rune
// suffix is not re-rolled, only the display portion changes.
func (c *Communicator) SetName(name string) ble.ResultCode {
	c.mu.Lock()
	suffix := c.uniqueName[len(c.name):]
	c.name = name
	c.uniqueName = name + suffix
	uniqueName := c.uniqueName
	advertising := c.advertising
	c.mu.Unlock()

	c.peripheral.UpdateName(uniqueName)
	c.central.UpdateName(uniqueName)
	if advertising {
		c.radio.StartAdvertising(uniqueName)
	}
	return ble.Success
}

// Destroy releases every resource this Communicator holds. done fires
// once the underlying radio has finished powering down.
func (c *Communicator) Destroy(done func()) {
	c.mu.Lock()
	c.destroying = true
	c.destroyDone = done
	c.mu.Unlock()

	c.central.Destroy()
	c.peripheral.Destroy()
	c.radio.Disable()
}

func (c *Communicator) notify(fn func()) {
	if fn == nil {
		return
	}
	c.dispatch(fn)
}

func (c *Communicator) onPeerFound(uniqueName string, device *peer.DeviceHandle) {
	for _, rp := range c.central.GetReconnectingPeers() {
		if rp.UniqueName() == uniqueName {
			c.radio.Connect(device, func(adapter ble.CentralAdapter, err error) {
				if err != nil {
					return
				}
				c.central.HandleScanResult(uniqueName, device, adapter)
			})
			return
		}
	}
	p := peer.New(device, uniqueName, false)
	c.notify(func() {
		if c.cb.OnPeerFound != nil {
			c.cb.OnPeerFound(p)
		}
	})
}

func (c *Communicator) onPeerLost(device *peer.DeviceHandle) {
	p := peer.New(device, "", false)
	c.notify(func() {
		if c.cb.OnPeerLost != nil {
			c.cb.OnPeerLost(p)
		}
	})
}

// onRadioStateChanged is the radio-state observer of spec.md §4.10, run on
// the dispatch loop: BluetoothCommunicator.java's ACTION_STATE_CHANGED
// broadcast receiver, generalized from Android's two-state model to
// ble.Radio.Enabled.
func (c *Communicator) onRadioStateChanged(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !enabled {
		if c.destroying {
			c.textMu.Lock()
			c.textQueue = nil
			c.textMu.Unlock()
			c.dataMu.Lock()
			c.dataQueue = nil
			c.dataMu.Unlock()
			if c.destroyDone != nil {
				c.destroyDone()
			}
			return
		}
		if c.restarting {
			c.restarting = false
			c.radio.Enable()
		} else {
			c.stopAdvertising(false)
			c.stopDiscovery(false)
		}
		if c.turningOff {
			c.turningOff = false
		} else {
			c.originalRadioWasOff = true
		}
		return
	}

	if len(c.peripheral.GetReconnectingPeers()) > 0 || c.advertising {
		c.executeStartAdvertising()
	}
	if len(c.central.GetReconnectingPeers()) > 0 || c.discovering {
		c.executeStartDiscovery()
	}
	if c.turningOn {
		c.turningOn = false
		if c.restarting {
			c.restarting = false
			c.radio.Disable()
		}
	} else if c.restarting {
		c.restarting = false
	} else {
		c.originalRadioWasOff = false
	}
}

// buildAppCallbacks is the channel.Callbacks Communicator hands to each
// role's connection.Connection: the bookkeeping layer between a single
// Channel's events and the app-facing Callbacks — starting/stopping
// advertise/discovery around reconnection windows, counting peersLeft,
// resetting the outbound queues once nobody is left to drain them into,
// and forcing a radio restart on a stuck disconnect. Grounded line for
// line on BluetoothCommunicator.java's initializeConnection().
func (c *Communicator) buildAppCallbacks() channel.Callbacks {
	return channel.Callbacks{
		OnConnectionRequest: func(p *peer.Peer) {
			c.notify(func() {
				if c.cb.OnConnectionRequest != nil {
					c.cb.OnConnectionRequest(p)
				}
			})
		},
		OnConnectionSuccess: func(p *peer.Peer, role channel.Role) {
			c.notify(func() {
				if c.cb.OnConnectionSuccess != nil {
					c.cb.OnConnectionSuccess(p, role)
				}
			})
		},
		OnConnectionFailed: func(p *peer.Peer, code ble.ResultCode) {
			c.notify(func() {
				if c.cb.OnConnectionFailed != nil {
					c.cb.OnConnectionFailed(p, code)
				}
			})
		},
		OnConnectionLost: func(p *peer.Peer) {
			c.mu.Lock()
			if len(c.peripheral.GetReconnectingPeers()) > 0 && !c.advertising {
				c.executeStartAdvertising()
			}
			if len(c.central.GetReconnectingPeers()) > 0 {
				if c.discovering {
					c.radio.StopScanning()
				}
				c.executeStartDiscovery()
			}
			c.mu.Unlock()
			c.notify(func() {
				if c.cb.OnConnectionLost != nil {
					c.cb.OnConnectionLost(p)
				}
			})
		},
		OnConnectionResumed: func(p *peer.Peer) {
			c.mu.Lock()
			if len(c.peripheral.GetReconnectingPeers()) == 0 && !c.advertising {
				c.radio.StopAdvertising()
			}
			if len(c.central.GetReconnectingPeers()) == 0 && !c.discovering {
				c.radio.StopScanning()
			}
			c.mu.Unlock()
			c.notify(func() {
				if c.cb.OnConnectionResumed != nil {
					c.cb.OnConnectionResumed(p)
				}
			})
		},
		OnPeerUpdated: func(old, updated *peer.Peer) {
			c.notify(func() {
				if c.cb.OnPeerUpdated != nil {
					c.cb.OnPeerUpdated(old, updated)
				}
			})
		},
		OnMessageReceived: func(m channel.ReceivedMessage, role channel.Role) {
			if m.Sender == nil || m.Sender.UniqueName() == "" {
				return
			}
			c.notify(func() {
				if c.cb.OnMessageReceived != nil {
					c.cb.OnMessageReceived(m, role)
				}
			})
		},
		OnDataReceived: func(m channel.ReceivedMessage, role channel.Role) {
			if m.Sender == nil || m.Sender.UniqueName() == "" {
				return
			}
			c.notify(func() {
				if c.cb.OnDataReceived != nil {
					c.cb.OnDataReceived(m, role)
				}
			})
		},
		OnDisconnected: func(p *peer.Peer) {
			c.mu.Lock()
			peersLeft := len(c.GetConnectedPeers())
			if len(c.peripheral.GetReconnectingPeers()) == 0 && !c.advertising {
				c.radio.StopAdvertising()
			}
			if len(c.central.GetReconnectingPeers()) == 0 && !c.discovering {
				c.radio.StopScanning()
			}
			if peersLeft == 0 {
				c.textMu.Lock()
				c.textQueue = nil
				c.textMu.Unlock()
				c.dataMu.Lock()
				c.dataQueue = nil
				c.dataMu.Unlock()
			}
			c.mu.Unlock()
			c.notify(func() {
				if c.cb.OnDisconnected != nil {
					c.cb.OnDisconnected(p, peersLeft)
				}
			})
		},
		OnDisconnectionFailed: func(p *peer.Peer) {
			logger.Warn("communicator", "disconnection failed for %s, restarting radio to force it", p.UniqueName())
			c.mu.Lock()
			c.restarting = true
			if c.radio.Enabled() {
				c.radio.Disable()
			} else if !c.turningOn {
				c.turningOn = true
				c.radio.Enable()
			}
			c.mu.Unlock()
			c.notify(func() {
				if c.cb.OnDisconnectionFailed != nil {
					c.cb.OnDisconnectionFailed(p)
				}
			})
		},
	}
}
