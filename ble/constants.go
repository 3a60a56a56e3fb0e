// Package ble specifies the contract this library needs from the host
// operating system's BLE stack — the external collaborator spec.md §1
// places out of scope. It names the GATT service/characteristics (§6),
// the timing constants that drive every Channel timer, and the two
// adapter interfaces (CentralAdapter, PeripheralAdapter) a real
// CoreBluetooth/BluetoothGatt/BlueZ binding would implement.
package ble

import "time"

// ServiceUUID is the single primary GATT service this library advertises
// and scans for.
const ServiceUUID = "00001234-0000-1000-8000-00805F9B34FB"

// TargetMTU is the link MTU this library negotiates up to. spec.md §9
// notes the original source mistakenly requested 128 bytes; this module
// requests the full 247 mandated by spec.md §6.
const TargetMTU = 247

// MinAcceptableMTU is the reported MTU below which the CENTRAL side
// requests an upgrade (spec.md §4.4 step 2).
const MinAcceptableMTU = 200

// Per-channel timers, per spec.md §6.
const (
	HandshakeTimeout     = 10 * time.Second
	AckTimeout           = 1 * time.Second
	DisconnectAckTimeout = 5 * time.Second
	ReconnectTimeout     = 30 * time.Second
)

// CharUUID identifies one GATT characteristic of ServiceUUID. Real
// implementations are free to choose their own 16-bit UUIDs per
// spec.md §6 ("at the implementer's discretion") — this module just
// needs stable names to route reads/writes/notifications by.
type CharUUID string

// The GATT characteristic table from spec.md §6.
const (
	CharConnectionRequest  CharUUID = "connection_request"  // C->P write
	CharConnectionResponse CharUUID = "connection_response" // P->C notify
	CharMTURequest         CharUUID = "mtu_request"         // C->P write
	CharMTUResponse        CharUUID = "mtu_response"        // P->C notify

	CharMessageReceive           CharUUID = "message_receive"             // C->P write
	CharMessageSend              CharUUID = "message_send"                // P->C notify
	CharReadResponseMessageRecvd CharUUID = "read_response_message_recvd" // C->P write

	CharDataReceive           CharUUID = "data_receive"             // C->P write
	CharDataSend              CharUUID = "data_send"                // P->C notify
	CharReadResponseDataRecvd CharUUID = "read_response_data_recvd" // C->P write

	CharNameUpdateReceive CharUUID = "name_update_receive" // C->P write
	CharNameUpdateSend    CharUUID = "name_update_send"    // P->C notify

	CharConnectionResumedReceive CharUUID = "connection_resumed_receive" // C->P write
	CharConnectionResumedSend    CharUUID = "connection_resumed_send"    // P->C notify

	CharDisconnectionReceive CharUUID = "disconnection_receive" // C->P write
	CharDisconnectionSend    CharUUID = "disconnection_send"    // P->C notify, with ack
)

// StreamKind distinguishes the two independent message/data streams named
// in spec.md §3: each has its own characteristics, its own outgoing queue,
// and its own message_id counter.
type StreamKind int

const (
	StreamText StreamKind = iota
	StreamData
)

func (s StreamKind) String() string {
	if s == StreamData {
		return "data"
	}
	return "message"
}

// ReceiveCharacteristic returns the characteristic a CENTRAL writes to
// (and a PERIPHERAL's server handles) for this stream.
func (s StreamKind) ReceiveCharacteristic() CharUUID {
	if s == StreamData {
		return CharDataReceive
	}
	return CharMessageReceive
}

// SendCharacteristic returns the characteristic a PERIPHERAL notifies on
// for this stream.
func (s StreamKind) SendCharacteristic() CharUUID {
	if s == StreamData {
		return CharDataSend
	}
	return CharMessageSend
}

// AckCharacteristic returns the application-level read-response
// characteristic the receiving side acks a sub-message on: a CENTRAL
// writes it, a PERIPHERAL notifies it.
func (s StreamKind) AckCharacteristic() CharUUID {
	if s == StreamData {
		return CharReadResponseDataRecvd
	}
	return CharReadResponseMessageRecvd
}
