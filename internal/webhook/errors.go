package webhook

import (
	"fmt"
)

// TransportError wraps a network or timeout failure during an attempt.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolError is a non-2xx response from the subscriber.
type ProtocolError struct {
	StatusCode int
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("subscriber responded with HTTP %d", e.StatusCode)
}
