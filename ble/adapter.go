package ble

// WriteDoneFunc is invoked when a characteristic write (CENTRAL role) or
// notification (PERIPHERAL role) completes at the radio layer. err is
// non-nil if the OS BLE stack reports the operation failed; a nil err
// means only that the local radio operation completed, not that the
// remote side has acknowledged anything at the application level (see
// spec.md §4.5's distinction between the link-layer ack and the
// READ_RESPONSE_* application-level ack).
type WriteDoneFunc func(err error)

// MTUDoneFunc is invoked when an MTU upgrade request completes.
type MTUDoneFunc func(negotiatedMTU int, err error)

// DisconnectDoneFunc is invoked when the OS reports the link is down
// (STATE_DISCONNECTED in spec.md §4.7).
type DisconnectDoneFunc func(err error)

// ReceiveFunc is invoked whenever the remote peer writes (if we're
// PERIPHERAL) or notifies (if we're CENTRAL) a value for one of our
// characteristics.
type ReceiveFunc func(char CharUUID, value []byte)

// LinkLostFunc is invoked when the OS reports the link dropped without
// either side having called Disconnect — a radio-level loss, not the
// orderly disconnection protocol of spec.md §4.7.
type LinkLostFunc func(err error)

// CentralAdapter is the contract a CENTRAL-role Channel needs from the
// host OS BLE stack for one link: it can write to the peripheral's
// characteristics and receives the peripheral's notifications.
type CentralAdapter interface {
	// WriteCharacteristic performs a GATT characteristic write. done fires
	// asynchronously, never before WriteCharacteristic returns.
	WriteCharacteristic(char CharUUID, value []byte, done WriteDoneFunc)

	// SubscribeNotify enables notifications for char; required before
	// SetNotifyHandler's callback will ever be invoked for it.
	SubscribeNotify(char CharUUID) error

	// RequestMTU asks the OS to negotiate a larger link MTU.
	RequestMTU(size int, done MTUDoneFunc)

	// SetNotifyHandler installs the function invoked whenever the
	// peripheral notifies a subscribed characteristic.
	SetNotifyHandler(handler ReceiveFunc)

	// SetLinkLostHandler installs the function invoked on an unsolicited
	// disconnect (radio loss, peripheral went out of range, etc).
	SetLinkLostHandler(handler LinkLostFunc)

	// Disconnect tears down the link at the OS level (gatt.disconnect).
	Disconnect(done DisconnectDoneFunc)
}

// PeripheralAdapter is the contract a PERIPHERAL-role Channel needs: it can
// notify the central's subscribed characteristics and receives the
// central's writes.
type PeripheralAdapter interface {
	// Notify sends a GATT notification. done fires asynchronously.
	Notify(char CharUUID, value []byte, done WriteDoneFunc)

	// SetWriteHandler installs the function invoked whenever the central
	// writes to one of our characteristics.
	SetWriteHandler(handler ReceiveFunc)

	// SetLinkLostHandler installs the function invoked on an unsolicited
	// disconnect.
	SetLinkLostHandler(handler LinkLostFunc)

	// Disconnect tears down the link at the OS level
	// (server.cancelConnection).
	Disconnect(done DisconnectDoneFunc)
}
