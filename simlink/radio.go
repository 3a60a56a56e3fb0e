package simlink

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/user/blepeer/ble"
	"github.com/user/blepeer/logger"
	"github.com/user/blepeer/peer"
)

// Medium is a shared simulated airspace: the set of Radios that can
// discover and connect to one another, standing in for the real RF medium
// a CoreBluetooth/BluetoothGatt binding shares with every other device in
// range. Tests and the demo command create one Medium and a Radio per
// simulated device.
type Medium struct {
	mu          sync.Mutex
	advertisers map[string]*Radio
	scanners    map[string]*Radio
}

// NewMedium creates an empty shared airspace.
func NewMedium() *Medium {
	return &Medium{
		advertisers: make(map[string]*Radio),
		scanners:    make(map[string]*Radio),
	}
}

func (m *Medium) deliver(latency time.Duration, fn func()) {
	if latency > 0 {
		time.AfterFunc(latency, fn)
		return
	}
	go fn()
}

// Radio implements ble.Radio over a Medium, modeling one simulated
// device's Bluetooth adapter: its advertise/scan/power state and the
// pairwise Links it establishes with other Radios on the same Medium.
type Radio struct {
	medium  *Medium
	handle  *peer.DeviceHandle
	latency time.Duration

	mu          sync.Mutex
	enabled     bool
	advertising bool
	localName   string
	scanning    bool

	foundFn   ble.PeerFoundFunc
	lostFn    ble.PeerLostFunc
	inboundFn ble.InboundConnectionFunc
	stateFn   ble.RadioStateFunc
}

// NewRadio creates a Radio on medium, initially powered on. latency is
// applied to every simulated advertisement/discovery/connection delivery,
// the same knob simlink.NewLink uses for an established link.
func NewRadio(medium *Medium, latency time.Duration) *Radio {
	return &Radio{
		medium:  medium,
		handle:  &peer.DeviceHandle{Address: "device-" + uuid.NewString()},
		latency: latency,
		enabled: true,
	}
}

// Handle returns this radio's opaque device handle, the address other
// Radios discover it by.
func (r *Radio) Handle() *peer.DeviceHandle { return r.handle }

func (r *Radio) Enabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled
}

func (r *Radio) Enable() {
	r.setEnabled(true)
}

func (r *Radio) Disable() {
	r.setEnabled(false)
}

func (r *Radio) setEnabled(v bool) {
	r.mu.Lock()
	if r.enabled == v {
		r.mu.Unlock()
		return
	}
	r.enabled = v
	if !v {
		r.advertising = false
		r.scanning = false
	}
	stateFn := r.stateFn
	r.mu.Unlock()

	if !v {
		r.medium.mu.Lock()
		delete(r.medium.advertisers, r.handle.Address)
		delete(r.medium.scanners, r.handle.Address)
		r.medium.mu.Unlock()
	}

	if stateFn != nil {
		r.medium.deliver(r.latency, func() { stateFn(v) })
	}
}

func (r *Radio) SetStateChangeHandler(handler ble.RadioStateFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stateFn = handler
}

func (r *Radio) StartAdvertising(localName string) error {
	r.mu.Lock()
	if !r.enabled {
		r.mu.Unlock()
		return ble.ErrRadioUnavailable
	}
	r.advertising = true
	r.localName = localName
	r.mu.Unlock()

	r.medium.mu.Lock()
	r.medium.advertisers[r.handle.Address] = r
	scanners := make([]*Radio, 0, len(r.medium.scanners))
	for _, s := range r.medium.scanners {
		if s != r {
			scanners = append(scanners, s)
		}
	}
	r.medium.mu.Unlock()

	logger.Debug("simlink radio", "advertising started")
	for _, s := range scanners {
		s.notifyFound(r)
	}
	return nil
}

func (r *Radio) StopAdvertising() {
	r.mu.Lock()
	r.advertising = false
	r.mu.Unlock()

	r.medium.mu.Lock()
	delete(r.medium.advertisers, r.handle.Address)
	scanners := make([]*Radio, 0, len(r.medium.scanners))
	for _, s := range r.medium.scanners {
		if s != r {
			scanners = append(scanners, s)
		}
	}
	r.medium.mu.Unlock()

	for _, s := range scanners {
		s.notifyLost(r)
	}
}

func (r *Radio) StartScanning(found ble.PeerFoundFunc, lost ble.PeerLostFunc) error {
	r.mu.Lock()
	if !r.enabled {
		r.mu.Unlock()
		return ble.ErrRadioUnavailable
	}
	r.scanning = true
	r.foundFn = found
	r.lostFn = lost
	r.mu.Unlock()

	r.medium.mu.Lock()
	r.medium.scanners[r.handle.Address] = r
	advertisers := make([]*Radio, 0, len(r.medium.advertisers))
	for _, a := range r.medium.advertisers {
		if a != r {
			advertisers = append(advertisers, a)
		}
	}
	r.medium.mu.Unlock()

	for _, a := range advertisers {
		r.notifyFound(a)
	}
	return nil
}

func (r *Radio) StopScanning() {
	r.mu.Lock()
	r.scanning = false
	r.foundFn = nil
	r.lostFn = nil
	r.mu.Unlock()

	r.medium.mu.Lock()
	delete(r.medium.scanners, r.handle.Address)
	r.medium.mu.Unlock()
}

func (r *Radio) notifyFound(advertiser *Radio) {
	r.mu.Lock()
	found := r.foundFn
	r.mu.Unlock()
	if found == nil {
		return
	}
	advertiser.mu.Lock()
	name := advertiser.localName
	advertiser.mu.Unlock()
	r.medium.deliver(r.latency, func() { found(name, advertiser.handle) })
}

func (r *Radio) notifyLost(advertiser *Radio) {
	r.mu.Lock()
	lost := r.lostFn
	r.mu.Unlock()
	if lost == nil {
		return
	}
	r.medium.deliver(r.latency, func() { lost(advertiser.handle) })
}

func (r *Radio) SetInboundConnectionHandler(handler ble.InboundConnectionFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inboundFn = handler
}

// Connect looks device up among the medium's current advertisers and, if
// still advertising, builds a fresh Link between the two radios: done
// receives the caller's CentralAdapter while the target's
// InboundConnectionHandler receives its PeripheralAdapter.
func (r *Radio) Connect(device *peer.DeviceHandle, done ble.ConnectDoneFunc) {
	r.medium.mu.Lock()
	target, ok := r.medium.advertisers[device.Address]
	r.medium.mu.Unlock()
	if !ok {
		r.medium.deliver(r.latency, func() { done(nil, ble.ErrConnectionLost) })
		return
	}

	target.mu.Lock()
	inboundFn := target.inboundFn
	target.mu.Unlock()

	link := newLinkWithHandles(r.handle, target.handle, r.latency)
	r.medium.deliver(r.latency, func() {
		if inboundFn != nil {
			inboundFn(r.handle, link.Peripheral())
		}
		done(link.Central(), nil)
	})
}
