package ble

import "github.com/user/blepeer/peer"

// PeerFoundFunc is invoked when a scan discovers a device advertising
// ServiceUUID. device is enough to Radio.Connect to it; the adapter itself
// isn't created until the application actually decides to connect.
type PeerFoundFunc func(uniqueName string, device *peer.DeviceHandle)

// PeerLostFunc is invoked when a previously discovered advertiser stops
// advertising or goes out of range.
type PeerLostFunc func(device *peer.DeviceHandle)

// InboundConnectionFunc is invoked when a remote central connects to this
// device while it is advertising.
type InboundConnectionFunc func(device *peer.DeviceHandle, adapter PeripheralAdapter)

// RadioStateFunc is invoked whenever the host's BLE radio power state
// changes, whether by application request or externally (airplane mode,
// user toggling settings).
type RadioStateFunc func(enabled bool)

// ConnectDoneFunc is invoked once an outbound connection attempt started by
// Radio.Connect either establishes a link or fails.
type ConnectDoneFunc func(adapter CentralAdapter, err error)

// Radio is the contract this library needs from the host OS's Bluetooth
// adapter itself — advertising, scanning, accepting inbound connections,
// and the radio's own power state — as opposed to CentralAdapter/
// PeripheralAdapter's contract for an already-established link. A real
// binding wraps CoreBluetooth's CBCentralManager/CBPeripheralManager or
// Android's BluetoothAdapter/BluetoothLeAdvertiser/BluetoothLeScanner.
type Radio interface {
	// Enabled reports the current radio power state.
	Enabled() bool
	// Enable and Disable request the radio be turned on or off; the state
	// change (and any resulting call to the handler installed by
	// SetStateChangeHandler) happens asynchronously.
	Enable()
	Disable()
	// SetStateChangeHandler installs the function invoked whenever the
	// radio's power state changes.
	SetStateChangeHandler(handler RadioStateFunc)

	// StartAdvertising begins advertising localName on ServiceUUID so
	// other devices' scans discover it.
	StartAdvertising(localName string) error
	// StopAdvertising halts advertising started by StartAdvertising.
	StopAdvertising()

	// StartScanning begins scanning for devices advertising ServiceUUID.
	StartScanning(found PeerFoundFunc, lost PeerLostFunc) error
	// StopScanning halts scanning started by StartScanning.
	StopScanning()

	// Connect establishes an outbound link to device, previously reported
	// by a scan. done fires asynchronously with the usable CentralAdapter,
	// or an error if the remote is no longer reachable.
	Connect(device *peer.DeviceHandle, done ConnectDoneFunc)

	// SetInboundConnectionHandler installs the function invoked whenever a
	// remote central connects to this device while advertising.
	SetInboundConnectionHandler(handler InboundConnectionFunc)
}
