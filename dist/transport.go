package dist

import (
	"context"
	"errors"
	"fmt"
)

// Transport is the reliable, ordered point-to-point channel beneath the
// coordinator. Implementations must deliver messages from one sender to one
// receiver in send order and must be safe for concurrent Sends.
//
// The coordinator treats any Send error as fatal (see ErrTransport); it
// never retries.
type Transport interface {
	// Rank returns this process's identity in [0, Size).
	Rank() int

	// Size returns the number of worker processes.
	Size() int

	// Send delivers m to the given rank.
	Send(ctx context.Context, to int, m Message) error

	// SetHandler registers the inbound message handler. It must be called
	// exactly once, before any message is sent to this rank.
	SetHandler(fn func(from int, m Message))

	// Close shuts the transport down. Pending handler dispatches finish
	// first.
	Close() error
}

// ErrTransportClosed is returned by Send after Close.
var ErrTransportClosed = errors.New("transport closed")

// ErrTransport indicates a fatal transport failure in distributed mode.
// The coordinator latches the first one and fails all subsequent operations
// with it; recovery is the orchestration layer's responsibility.
type ErrTransport struct {
	Rank  int // rank of the process reporting the failure
	cause error
}

func (e *ErrTransport) Error() string {
	return fmt.Sprintf("transport failure at rank %d: %v", e.Rank, e.cause)
}

func (e *ErrTransport) Unwrap() error { return e.cause }
