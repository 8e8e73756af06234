package engine

import (
	"errors"
	"fmt"

	"github.com/hupe1980/tensorkv/tensor"
)

var (
	// ErrUnknownKey is returned when an operation addresses a key that was
	// never initialized.
	ErrUnknownKey = errors.New("unknown key")

	// ErrDuplicateKey is returned when Init is called for a key that already
	// has an entry. Call sites that tolerate re-initialization must check for
	// it explicitly.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrStoreClosed is returned for operations submitted after Close.
	ErrStoreClosed = errors.New("store closed")

	// ErrUpdaterAfterPush is returned when SetUpdater is called after the
	// first push has been issued. The updater is shared read-only state once
	// operations are in flight.
	ErrUpdaterAfterPush = errors.New("updater installed after first push")
)

// ErrShapeMismatch indicates a value whose shape does not match its entry.
type ErrShapeMismatch struct {
	Key  string
	Want tensor.Shape
	Got  tensor.Shape
}

func (e *ErrShapeMismatch) Error() string {
	return fmt.Sprintf("shape mismatch for key %q: expected %s, got %s", e.Key, e.Want, e.Got)
}

// ErrStorageKindMismatch indicates an operation whose value layout does not
// match the stored entry's layout.
type ErrStorageKindMismatch struct {
	Key  string
	Want tensor.StorageKind
	Got  tensor.StorageKind
}

func (e *ErrStorageKindMismatch) Error() string {
	return fmt.Sprintf("storage kind mismatch for key %q: expected %s, got %s", e.Key, e.Want, e.Got)
}
