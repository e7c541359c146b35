package session

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectRefused is returned when the transport reports a failed connect.
	ErrConnectRefused = errors.New("connection refused")

	// ErrConnectTimeout is returned when no connect outcome arrives in time.
	ErrConnectTimeout = errors.New("connect timed out")

	// ErrShutdown is returned when the run is shut down during a connect.
	ErrShutdown = errors.New("shutdown requested")

	// ErrNotConnected is returned by operations that need a live connection.
	ErrNotConnected = errors.New("session not connected")

	// ErrClosed is returned when operating on a disconnected session.
	ErrClosed = errors.New("session closed")
)

// ConnectError describes a connection attempt that did not reach Connected.
type ConnectError struct {
	ClientID string
	Code     int
	Err      error
}

func (e *ConnectError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s: %v (code %d)", e.ClientID, e.Err, e.Code)
	}
	return fmt.Sprintf("%s: %v", e.ClientID, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}
