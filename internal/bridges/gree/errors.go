package gree

import "errors"

// Domain errors for the gree protocol package.
var (
	// ErrCrypto is returned when a pack cannot be encrypted or decrypted:
	// malformed base64, wrong key length, or failed GCM authentication.
	ErrCrypto = errors.New("gree: crypto error")

	// ErrBind is returned when neither encryption scheme produced a bindok.
	ErrBind = errors.New("gree: bind failed")

	// ErrProtocol is returned when a decrypted payload has an unexpected
	// "t" discriminator or is missing required fields.
	ErrProtocol = errors.New("gree: protocol error")

	// ErrNotBound is returned when a command is attempted before bind.
	ErrNotBound = errors.New("gree: device not bound")

	// ErrDeviceNotFound is returned by Discover when nothing answered the scan.
	ErrDeviceNotFound = errors.New("gree: device not found")
)
