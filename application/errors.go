package application

import "fmt"

var (
	// ErrUnknownDevice is returned when a device id has no topic binding.
	ErrUnknownDevice = fmt.Errorf("unknown device")

	// ErrNotConnected is returned by Send while the connection is not Ready.
	// Callers may retry the user action later.
	ErrNotConnected = fmt.Errorf("not connected")

	// ErrTransport wraps failures reported by the transport while publishing.
	ErrTransport = fmt.Errorf("transport error")
)
