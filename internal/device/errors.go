package device

import "errors"

// Domain errors for the device package.
var (
	// ErrDeviceNotFound is returned when a device id is not in the store.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrInvalidIdentity is returned when saving an identity without an id
	// or address.
	ErrInvalidIdentity = errors.New("device: invalid identity")
)
