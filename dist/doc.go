// Package dist provides the multi-process coordinator.
//
// Each process holds a rank in [0, size). Every key is owned by exactly one
// rank (FNV hash of the key modulo size); pushes are fanned in to the owner
// and pulls are answered by it, so per-key aggregation semantics are
// identical to the local store's.
//
// Two application modes exist at the owner:
//
//   - sync: a key's aggregation round closes once every rank has
//     contributed, then the updater runs exactly once. Pulls that arrive
//     while a round is open are deferred until it closes.
//   - async: every arriving push is its own round and applies immediately.
//
// The transport below the coordinator is an accepted interface; it must be
// reliable and ordered. Transport failures are fatal to the issuing process:
// the coordinator latches the failure and every subsequent operation reports
// it. Recovery belongs to the surrounding orchestration layer.
package dist
