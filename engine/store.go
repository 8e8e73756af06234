package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/tensorkv/tensor"
)

// Store is the local value store: a fixed table of tensor entries plus the
// dependency scheduler that orders operations touching them.
//
// Push and Pull enqueue work and return immediately; a pull's output buffer
// becomes valid once its Handle resolves. Operations on the same key execute
// strictly in submission order, operations on different keys concurrently.
type Store struct {
	mu       sync.RWMutex
	entries  map[string]*entry
	updater  Updater
	pushSeen bool
	closed   bool

	sched *scheduler
}

// Options configures a Store.
type Options struct {
	// NumWorkers is the size of the scheduler's worker pool.
	// If 0, defaults to GOMAXPROCS.
	NumWorkers int

	// Updater applies aggregation rounds to stored values.
	// If nil, Accumulate is used.
	Updater Updater
}

// New creates an empty store.
func New(optFns ...func(*Options)) *Store {
	o := Options{Updater: Accumulate}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.Updater == nil {
		o.Updater = Accumulate
	}

	return &Store{
		entries: make(map[string]*entry),
		updater: o.Updater,
		sched:   newScheduler(o.NumWorkers),
	}
}

// SetUpdater installs the update hook. It must be called before the first
// push; afterwards the hook is shared read-only state.
func (s *Store) SetUpdater(u Updater) error {
	if u == nil {
		u = Accumulate
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if s.pushSeen {
		return ErrUpdaterAfterPush
	}
	s.updater = u
	return nil
}

// Init creates the entry for key with the given initial value. The value is
// copied. Re-initializing an existing key fails with ErrDuplicateKey.
//
// Init is synchronous: the entry is not observable before Init returns, so
// it never has to wait on a chain.
func (s *Store) Init(key string, val tensor.Tensor) error {
	if !val.Kind().Valid() || !val.DType().Valid() {
		return fmt.Errorf("init %q: invalid value tags", key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if _, ok := s.entries[key]; ok {
		return fmt.Errorf("init %q: %w", key, ErrDuplicateKey)
	}

	s.entries[key] = &entry{
		key:   key,
		kind:  val.Kind(),
		dtype: val.DType(),
		shape: val.Shape().Clone(),
		value: tensor.Clone(val),
	}
	return nil
}

// Keys returns the registered keys in unspecified order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	return keys
}

// lookup returns the entry for key, validating existence only.
func (s *Store) lookup(key string) (*entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	e, ok := s.entries[key]
	if !ok {
		return nil, fmt.Errorf("key %q: %w", key, ErrUnknownKey)
	}
	return e, nil
}

func (e *entry) checkValue(val tensor.Tensor) error {
	if val.Kind() != e.kind {
		return &ErrStorageKindMismatch{Key: e.key, Want: e.kind, Got: val.Kind()}
	}
	if !val.Shape().Equal(e.shape) {
		return &ErrShapeMismatch{Key: e.key, Want: e.shape, Got: val.Shape()}
	}
	return nil
}

// Push enqueues a contribution to key's open aggregation round. It never
// blocks the caller; validation errors are returned synchronously and leave
// the entry untouched. The caller must not mutate val until the key's chain
// has resolved past this push (WaitAll or a later pull's Handle).
func (s *Store) Push(key string, val tensor.Tensor, priority int) error {
	e, err := s.lookup(key)
	if err != nil {
		return err
	}
	if err := e.checkValue(val); err != nil {
		return err
	}

	s.mu.Lock()
	s.pushSeen = true
	s.mu.Unlock()

	return s.sched.submit(&op{
		kind:     opPush,
		key:      key,
		priority: priority,
		exec:     func() error { return e.accumulate(val) },
	})
}

// Pull enqueues a copy-out of key's value into out and returns a Handle that
// resolves once every earlier operation on key has executed. Pulling closes
// the key's open aggregation round first, so the copied value reflects the
// updater's mutation.
func (s *Store) Pull(key string, out tensor.Tensor, priority int) (*Handle, error) {
	e, err := s.lookup(key)
	if err != nil {
		return nil, err
	}
	if err := e.checkValue(out); err != nil {
		return nil, err
	}

	h := newHandle()
	err = s.sched.submit(&op{
		kind:     opPull,
		key:      key,
		priority: priority,
		handle:   h,
		exec: func() error {
			if err := e.resolveRound(s.currentUpdater()); err != nil {
				return err
			}
			return copyOut(out, e.value)
		},
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Flush enqueues an explicit round barrier on key: the open aggregation
// round, if any, is resolved through the updater without copying anything
// out.
func (s *Store) Flush(key string, priority int) (*Handle, error) {
	e, err := s.lookup(key)
	if err != nil {
		return nil, err
	}

	h := newHandle()
	err = s.sched.submit(&op{
		kind:     opFlush,
		key:      key,
		priority: priority,
		handle:   h,
		exec:     func() error { return e.resolveRound(s.currentUpdater()) },
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

// WaitAll flushes every key and blocks until all previously submitted
// operations have resolved.
func (s *Store) WaitAll(ctx context.Context) error {
	handles := make([]*Handle, 0, len(s.Keys()))
	for _, key := range s.Keys() {
		h, err := s.Flush(key, 0)
		if err != nil {
			return err
		}
		handles = append(handles, h)
	}
	for _, h := range handles {
		if err := h.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) currentUpdater() Updater {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updater
}

// Close drains the scheduler and tears the store down. Every operation
// submitted before Close runs to completion; operations submitted after
// fail with ErrStoreClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.sched.close()
	return nil
}

// copyOut copies a stored value into a caller-supplied buffer of the same
// layout and shape.
func copyOut(out, value tensor.Tensor) error {
	switch v := value.(type) {
	case *tensor.Dense:
		return out.(*tensor.Dense).CopyFrom(v)
	case *tensor.RowSparse:
		o := out.(*tensor.RowSparse)
		o.Reset()
		return o.Add(v)
	default:
		return fmt.Errorf("unknown layout %T", value)
	}
}
