package tensorkv

import (
	"errors"

	"github.com/hupe1980/tensorkv/dist"
	"github.com/hupe1980/tensorkv/engine"
)

var (
	// ErrInvalidKind is returned by Create for an unrecognized store kind.
	ErrInvalidKind = errors.New("invalid store kind")

	// ErrNoTransport is returned by Create when a distributed kind is
	// requested without WithTransport.
	ErrNoTransport = errors.New("distributed store kind requires a transport")

	// ErrUnknownKey is returned when a key has not been initialized.
	ErrUnknownKey = engine.ErrUnknownKey

	// ErrDuplicateKey is returned when a key is initialized twice.
	ErrDuplicateKey = engine.ErrDuplicateKey

	// ErrStoreClosed is returned for operations after Close.
	ErrStoreClosed = engine.ErrStoreClosed

	// ErrUpdaterAfterPush is returned when SetUpdater is called after the
	// first push.
	ErrUpdaterAfterPush = engine.ErrUpdaterAfterPush
)

// ErrShapeMismatch indicates a value/entry shape mismatch.
type ErrShapeMismatch = engine.ErrShapeMismatch

// ErrStorageKindMismatch indicates a dense/row-sparse layout mismatch.
type ErrStorageKindMismatch = engine.ErrStorageKindMismatch

// ErrTransport indicates a fatal transport failure in a distributed store.
// Once one occurs every subsequent operation fails with it; restart and
// re-init is the only recovery.
type ErrTransport = dist.ErrTransport
