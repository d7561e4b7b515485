package domain

import (
	"fmt"
	"net/http"
)

// CredentialError reports that no streaming credential could be obtained.
type CredentialError struct {
	Err error
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("credential unavailable: %v", e.Err)
}

func (e *CredentialError) Unwrap() error { return e.Err }

// DeviceError reports that the capture device could not be acquired.
type DeviceError struct {
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("capture device unavailable: %v", e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// ConnectKind classifies a failed transport handshake.
type ConnectKind string

const (
	ConnectUnauthorized ConnectKind = "unauthorized"
	ConnectUnreachable  ConnectKind = "unreachable"
	ConnectRejected     ConnectKind = "rejected"
)

// ConnectError reports a failed streaming handshake.
type ConnectError struct {
	Kind ConnectKind
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("streaming connect failed (%s): %v", e.Kind, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// TransportError reports a mid-session streaming failure.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("streaming transport failed: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StatusError is a non-2xx response from a remote HTTP API.
type StatusError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s returned %d", e.Service, e.StatusCode)
	}
	return fmt.Sprintf("%s returned %d: %s", e.Service, e.StatusCode, e.Body)
}

// Transient reports whether retrying the same request may succeed.
func (e *StatusError) Transient() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout
}
