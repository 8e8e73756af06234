package engine

import "github.com/hupe1980/tensorkv/tensor"

// Updater applies one aggregation round to a stored value.
//
// Update receives the combined incoming value for the round and the current
// stored value, and mutates current in place. It is invoked exactly once per
// resolved round per key, always from the single active operation of that
// key's chain, so implementations need no internal locking. They must not
// keep hidden state across invocations.
type Updater interface {
	Update(key string, incoming, current tensor.Tensor) error
}

// UpdaterFunc adapts a function to the Updater interface.
type UpdaterFunc func(key string, incoming, current tensor.Tensor) error

// Update implements Updater.
func (f UpdaterFunc) Update(key string, incoming, current tensor.Tensor) error {
	return f(key, incoming, current)
}

// Accumulate is the default updater: current += incoming.
var Accumulate Updater = UpdaterFunc(func(_ string, incoming, current tensor.Tensor) error {
	return tensor.Add(current, incoming)
})
