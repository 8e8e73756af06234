// Package engine provides the local store and its dependency scheduler.
//
// The Store routes every mutation through a per-key operation chain:
//   - pushes fold into the key's open aggregation round (element-wise sum)
//   - a pull (or explicit flush) closes the round, invoking the updater
//     exactly once with the combined value
//   - the pull then copies the stored value into the caller's buffer
//
// Chains make same-key execution strictly submission-ordered while unrelated
// keys proceed concurrently on a shared worker pool. A per-operation priority
// hint orders ready work across keys; it can never reorder a single key's
// chain.
//
// Validation (unknown key, shape, storage kind) happens at enqueue time:
// a rejected operation returns synchronously and leaves both the entry and
// any output buffer untouched.
package engine
