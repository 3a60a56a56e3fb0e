package ble

import "errors"

// Sentinel errors naming the failure conditions an adapter layer can report
// back to a Channel/Connection/Communicator. Within this module only simlink
// returns any of them (ErrConnectionLost and ErrRadioUnavailable); the
// timers from constants.go do not produce these values — Channel surfaces
// their expiry through its callbacks and ble.ResultCode instead. Callers use
// errors.Is against these, never string matching.
var (
	// ErrHandshakeTimeout fires when no CONNECTION_RESPONSE/MTU_RESPONSE
	// pair completes within HandshakeTimeout.
	ErrHandshakeTimeout = errors.New("ble: handshake timed out")

	// ErrConnectionRejected fires when the PERIPHERAL notifies a rejection
	// on CharConnectionResponse instead of accepting.
	ErrConnectionRejected = errors.New("ble: connection rejected by peer")

	// ErrConnectionLost fires when the OS reports STATE_DISCONNECTED
	// outside of the orderly disconnection protocol.
	ErrConnectionLost = errors.New("ble: connection lost")

	// ErrReconnectTimeout fires when a peer marked reconnecting never
	// comes back within ReconnectTimeout.
	ErrReconnectTimeout = errors.New("ble: reconnect timed out")

	// ErrDisconnectAckTimeout fires when the remote side never acks
	// CharDisconnectionSend within DisconnectAckTimeout.
	ErrDisconnectAckTimeout = errors.New("ble: disconnect ack timed out")

	// ErrDisconnectionFailed fires when the OS itself reports the
	// disconnect operation failed.
	ErrDisconnectionFailed = errors.New("ble: disconnection failed")

	// ErrRadioUnavailable fires when an adapter call is attempted while
	// the local Bluetooth radio is off or unavailable.
	ErrRadioUnavailable = errors.New("ble: radio unavailable")

	// ErrBLENotSupported fires when the host device has no BLE support
	// at all.
	ErrBLENotSupported = errors.New("ble: not supported on this device")
)
