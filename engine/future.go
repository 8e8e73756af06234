package engine

import "context"

// Handle is the future returned by asynchronous operations.
//
// The output buffer of a pull is valid to read only after Wait (or Done)
// reports completion. Wait suspends the calling goroutine only; other keys'
// chains keep making progress.
type Handle struct {
	done chan struct{}
	err  error // written once before done is closed
}

func newHandle() *Handle {
	return &Handle{done: make(chan struct{})}
}

// NewHandle returns an unresolved handle. It exists for coordinator layers
// that resolve operations outside the local scheduler (e.g. remote pulls);
// such a layer must call Complete exactly once.
func NewHandle() *Handle {
	return newHandle()
}

// Complete resolves a handle created with NewHandle. Completing a handle
// issued by a Store is a bug.
func (h *Handle) Complete(err error) {
	h.complete(err)
}

func (h *Handle) complete(err error) {
	h.err = err
	close(h.done)
}

// Done returns a channel closed when the operation has resolved.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err returns the operation's error. Only valid after Done is closed.
func (h *Handle) Err() error { return h.err }

// Wait blocks until the operation resolves or ctx is canceled.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
