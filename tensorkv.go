// Package tensorkv provides an embedded key-value store for tensors with
// asynchronous, dependency-ordered operations, built for data-parallel
// training loops:
//
//   - Keyed float32 tensors, dense or row-sparse
//   - Non-blocking Push/Pull with per-key ordering and cross-key concurrency
//   - Aggregation rounds: concurrent pushes to one key sum element-wise and
//     feed a pluggable update hook exactly once per round
//   - Row-sparse pulls that materialize only the requested rows
//   - Distributed modes (dist_sync, dist_async) over a pluggable transport,
//     with compressed wire frames (zstd, lz4)
//
// # Quick Start
//
// Create a local store, push gradients, pull the result:
//
//	kv, err := tensorkv.Create(tensorkv.Local)
//	if err != nil {
//	    panic(err)
//	}
//	defer kv.Close()
//
//	shape := tensor.Shape{2, 3}
//	_ = kv.Init("weight", tensor.NewDense(shape))
//
//	_ = kv.Push("weight", grad1) // concurrent pushes aggregate
//	_ = kv.Push("weight", grad2)
//
//	out := tensor.NewDense(shape)
//	h, _ := kv.Pull("weight", out)
//	_ = h.Wait(ctx) // out now holds the aggregated, updater-applied value
//
// Install an optimizer as the update hook before the first push:
//
//	_ = kv.SetUpdater(tensorkv.UpdaterFunc(func(key string, grad, weight tensor.Tensor) error {
//	    return sgd(weight, grad, lr)
//	}))
//
// # Distributed Modes
//
// dist_sync and dist_async run one store per worker process on a shared
// transport. Keys are partitioned across ranks by hash; every rank sees the
// same aggregated values through Pull regardless of where a key lives.
//
//	kv, err := tensorkv.Create(tensorkv.DistSync,
//	    tensorkv.WithTransport(transport),
//	    tensorkv.WithCodec(codec.Zstd{}),
//	)
//
// In dist_sync a key's round closes once every rank contributed; pulls
// issued meanwhile wait for the round. In dist_async each arriving push is
// applied immediately as its own round.
package tensorkv

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/hupe1980/tensorkv/dist"
	"github.com/hupe1980/tensorkv/engine"
	"github.com/hupe1980/tensorkv/tensor"
)

// Store kinds accepted by Create.
const (
	// Local is a single-process store.
	Local = "local"
	// DistSync is a multi-process store with synchronous aggregation:
	// a key's round closes once every rank has contributed.
	DistSync = "dist_sync"
	// DistAsync is a multi-process store with asynchronous aggregation:
	// every arriving push is applied immediately.
	DistAsync = "dist_async"
)

// Handle resolves when an asynchronous operation has executed.
type Handle = engine.Handle

// Updater is the hook applied to each closed aggregation round.
type Updater = engine.Updater

// UpdaterFunc adapts a function to the Updater interface.
type UpdaterFunc = engine.UpdaterFunc

// Accumulate is the default update hook: current += incoming.
var Accumulate = engine.Accumulate

// IntKey renders an integer parameter id as a store key.
func IntKey(id int) string {
	return strconv.Itoa(id)
}

// store is the backend shared by the local and distributed variants.
type store interface {
	SetUpdater(u engine.Updater) error
	Init(key string, val tensor.Tensor) error
	Push(key string, val tensor.Tensor, priority int) error
	Pull(key string, out tensor.Tensor, priority int) (*engine.Handle, error)
	RowSparsePull(key string, outs []*tensor.RowSparse, rowIDs [][]int64, priority int) (*engine.Handle, error)
	WaitAll(ctx context.Context) error
	Close() error
}

var (
	_ store = (*engine.Store)(nil)
	_ store = (*dist.Coordinator)(nil)
)

// KVStore is the public surface over a local or distributed tensor store.
type KVStore struct {
	kind  string
	rank  int
	size  int
	store store

	logger  *Logger
	metrics MetricsCollector
}

// Create builds a store of the given kind: Local, DistSync or DistAsync.
// The distributed kinds require WithTransport.
func Create(kind string, optFns ...Option) (*KVStore, error) {
	o := applyOptions(optFns)

	kv := &KVStore{
		kind:    kind,
		size:    1,
		logger:  o.logger,
		metrics: o.metricsCollector,
	}

	switch kind {
	case Local:
		kv.store = engine.New(func(eo *engine.Options) {
			eo.NumWorkers = o.numWorkers
			eo.Updater = o.updater
		})

	case DistSync, DistAsync:
		if o.transport == nil {
			return nil, fmt.Errorf("create %q: %w", kind, ErrNoTransport)
		}
		mode := dist.Sync
		if kind == DistAsync {
			mode = dist.Async
		}
		kv.rank = o.transport.Rank()
		kv.size = o.transport.Size()
		kv.store = dist.NewCoordinator(o.transport, func(do *dist.Options) {
			do.Mode = mode
			do.Codec = o.codec
			do.Resource = o.resource
			do.Store = []func(*engine.Options){func(eo *engine.Options) {
				eo.NumWorkers = o.numWorkers
				eo.Updater = o.updater
			}}
		})

	default:
		return nil, fmt.Errorf("create %q: %w", kind, ErrInvalidKind)
	}

	kv.logger.Info("store created",
		"kind", kind,
		"rank", kv.rank,
		"num_workers", kv.size,
	)
	return kv, nil
}

// Type returns the store kind passed to Create.
func (kv *KVStore) Type() string { return kv.kind }

// Rank returns this process's identity in [0, NumWorkers). Local stores are
// always rank 0.
func (kv *KVStore) Rank() int { return kv.rank }

// NumWorkers returns the number of worker processes. Local stores report 1.
func (kv *KVStore) NumWorkers() int { return kv.size }

// SetUpdater installs the update hook applied once per aggregation round.
// It must be called before the first push; in distributed modes every rank
// must install the same hook.
func (kv *KVStore) SetUpdater(u Updater) error {
	return kv.store.SetUpdater(u)
}

// Init creates the entry for key with the given initial value. The value is
// copied; re-initializing fails with ErrDuplicateKey. In distributed modes
// every rank must init the same keys.
func (kv *KVStore) Init(key string, val tensor.Tensor) error {
	start := time.Now()
	err := kv.store.Init(key, val)
	kv.metrics.RecordInit(time.Since(start), err)
	kv.logger.LogInit(key, err)
	return err
}

// InitList initializes one key per value.
func (kv *KVStore) InitList(keys []string, vals []tensor.Tensor) error {
	if len(keys) != len(vals) {
		return fmt.Errorf("init list: %d keys for %d values", len(keys), len(vals))
	}
	for i, key := range keys {
		if err := kv.Init(key, vals[i]); err != nil {
			return err
		}
	}
	return nil
}

// Push contributes val to key's open aggregation round. It returns once the
// contribution is enqueued; the caller must not mutate val until the key's
// chain has resolved past it (a later pull's Handle, or WaitAll).
func (kv *KVStore) Push(key string, val tensor.Tensor, optFns ...OpOption) error {
	o := applyOpOptions(optFns)

	start := time.Now()
	err := kv.store.Push(key, val, o.priority)
	kv.metrics.RecordPush(time.Since(start), err)
	kv.logger.LogPush(key, o.priority, err)
	return err
}

// PushList pushes one value per key. Repeating a key in keys contributes
// multiple values to the same round.
func (kv *KVStore) PushList(keys []string, vals []tensor.Tensor, optFns ...OpOption) error {
	if len(keys) != len(vals) {
		return fmt.Errorf("push list: %d keys for %d values", len(keys), len(vals))
	}
	for i, key := range keys {
		if err := kv.Push(key, vals[i], optFns...); err != nil {
			return err
		}
	}
	return nil
}

// Pull retrieves key's aggregated, updater-applied value into out. The
// returned Handle resolves once out is valid; pulling closes the key's open
// aggregation round first.
func (kv *KVStore) Pull(key string, out tensor.Tensor, optFns ...OpOption) (*Handle, error) {
	o := applyOpOptions(optFns)

	start := time.Now()
	h, err := kv.store.Pull(key, out, o.priority)
	kv.metrics.RecordPull(time.Since(start), err)
	kv.logger.LogPull(key, o.priority, err)
	return h, err
}

// PullList pulls one destination per key, returning one Handle per pull.
func (kv *KVStore) PullList(keys []string, outs []tensor.Tensor, optFns ...OpOption) ([]*Handle, error) {
	if len(keys) != len(outs) {
		return nil, fmt.Errorf("pull list: %d keys for %d destinations", len(keys), len(outs))
	}
	handles := make([]*Handle, len(keys))
	for i, key := range keys {
		h, err := kv.Pull(key, outs[i], optFns...)
		if err != nil {
			return nil, err
		}
		handles[i] = h
	}
	return handles, nil
}

// RowSparsePull retrieves the requested rows of a row-sparse key, one row-id
// set per destination buffer. Duplicate ids are deduplicated; rows never
// pushed come back zero (absent from the destination).
func (kv *KVStore) RowSparsePull(key string, outs []*tensor.RowSparse, rowIDs [][]int64, optFns ...OpOption) (*Handle, error) {
	o := applyOpOptions(optFns)

	start := time.Now()
	h, err := kv.store.RowSparsePull(key, outs, rowIDs, o.priority)
	kv.metrics.RecordRowSparsePull(time.Since(start), err)
	kv.logger.LogRowSparsePull(key, len(outs), err)
	return h, err
}

// WaitAll blocks until every operation issued so far has resolved, closing
// any open aggregation rounds on the way.
func (kv *KVStore) WaitAll(ctx context.Context) error {
	start := time.Now()
	err := kv.store.WaitAll(ctx)
	kv.metrics.RecordWaitAll(time.Since(start), err)
	kv.logger.LogWaitAll(err)
	return err
}

// Close drains pending operations and tears the store down. Close is
// idempotent; operations after Close fail with ErrStoreClosed.
func (kv *KVStore) Close() error {
	err := kv.store.Close()
	if err != nil {
		kv.logger.Error("close failed", "error", err)
	} else {
		kv.logger.Info("store closed", "kind", kv.kind)
	}
	return err
}
