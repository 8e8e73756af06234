package engine

import "github.com/hupe1980/tensorkv/tensor"

// entry is the authoritative state for one key.
//
// The metadata fields (kind, dtype, shape) are immutable after Init. value
// and pending are touched only by the single active operation of the key's
// chain; the chain acts as the entry's exclusive lock.
type entry struct {
	key   string
	kind  tensor.StorageKind
	dtype tensor.DType
	shape tensor.Shape

	// value is the stored tensor. Mutated only via the aggregation + updater
	// path, never by pulls.
	value tensor.Tensor

	// pending is the open aggregation round: the element-wise sum of all
	// pushes issued since the last round resolved. nil when no round is open.
	pending tensor.Tensor

	// failed poisons the open round: a push that could not be folded in has
	// no handle of its own, so the failure is latched here and reported by
	// the op that resolves the round.
	failed error
}

// resolveRound closes the open aggregation round, if any, by invoking the
// updater exactly once with the combined incoming value. A poisoned round is
// discarded and its latched push failure returned instead.
func (e *entry) resolveRound(u Updater) error {
	if e.failed != nil {
		err := e.failed
		e.failed = nil
		e.pending = nil
		return err
	}
	if e.pending == nil {
		return nil
	}
	incoming := e.pending
	e.pending = nil
	return u.Update(e.key, incoming, e.value)
}

// accumulate folds one push contribution into the open round, opening a
// round if none is open. The contribution is copied; the caller's buffer is
// never retained.
func (e *entry) accumulate(val tensor.Tensor) error {
	if e.failed != nil {
		return e.failed
	}
	if e.pending == nil {
		e.pending = tensor.Clone(val)
		return nil
	}
	if err := tensor.Add(e.pending, val); err != nil {
		e.failed = err
		return err
	}
	return nil
}
