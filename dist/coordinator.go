package dist

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/tensorkv/codec"
	"github.com/hupe1980/tensorkv/engine"
	"github.com/hupe1980/tensorkv/resource"
	"github.com/hupe1980/tensorkv/tensor"
)

// Mode selects how a key's owner applies incoming pushes.
type Mode uint8

const (
	// Sync closes a key's round once every rank has contributed.
	Sync Mode = iota + 1
	// Async applies every arriving push immediately as its own round.
	Async
)

func (m Mode) String() string {
	switch m {
	case Sync:
		return "sync"
	case Async:
		return "async"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// Options configures a Coordinator.
type Options struct {
	// Mode selects sync or async application at key owners. Default Sync.
	Mode Mode

	// Codec compresses tensor frames on the wire. Default codec.Default.
	Codec codec.Codec

	// Resource bounds in-flight bytes and send throughput. Zero values mean
	// unlimited.
	Resource resource.Config

	// Store configures the rank-local store holding owned entries.
	Store []func(*engine.Options)
}

type keyMeta struct {
	owner int
	kind  tensor.StorageKind
	shape tensor.Shape
}

// round is the owner-side aggregation state for one key in sync mode.
type round struct {
	pending  tensor.Tensor
	seen     map[int]struct{}
	deferred []func()
}

type waiter struct {
	out    tensor.Tensor
	handle *engine.Handle
	bytes  int64
}

// Coordinator runs the distributed variant of the store on top of an
// accepted Transport. Keys are owned by the rank FNV(key) mod size; the
// owner holds the authoritative entry in a rank-local engine.Store and
// applies the same aggregation + updater semantics as the local variant.
type Coordinator struct {
	transport Transport
	mode      Mode
	codec     codec.Codec
	ctrl      *resource.Controller
	local     *engine.Store

	mu       sync.Mutex
	meta     map[string]keyMeta
	rounds   map[string]*round
	waiters  map[uint64]*waiter
	handles  []*engine.Handle
	nextReq  uint64
	pushSeen bool
	failed   error
	closed   bool
}

// NewCoordinator wires a coordinator onto t and starts receiving.
func NewCoordinator(t Transport, optFns ...func(*Options)) *Coordinator {
	o := Options{Mode: Sync, Codec: codec.Default}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.Codec == nil {
		o.Codec = codec.Default
	}

	c := &Coordinator{
		transport: t,
		mode:      o.Mode,
		codec:     o.Codec,
		ctrl:      resource.NewController(o.Resource),
		local:     engine.New(o.Store...),
		meta:      make(map[string]keyMeta),
		rounds:    make(map[string]*round),
		waiters:   make(map[uint64]*waiter),
	}
	t.SetHandler(c.handle)
	return c
}

// Rank returns this process's identity.
func (c *Coordinator) Rank() int { return c.transport.Rank() }

// Size returns the number of worker processes.
func (c *Coordinator) Size() int { return c.transport.Size() }

// Mode returns the application mode.
func (c *Coordinator) Mode() Mode { return c.mode }

// owner computes the rank owning key.
func (c *Coordinator) owner(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(c.Size())) //nolint:gosec
}

// err returns the latched fatal error, if any.
func (c *Coordinator) err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return engine.ErrStoreClosed
	}
	return c.failed
}

// fail latches the first fatal error and fails every pending waiter.
func (c *Coordinator) fail(err error) {
	c.mu.Lock()
	if c.failed == nil {
		c.failed = err
	}
	pending := c.waiters
	c.waiters = make(map[uint64]*waiter)
	c.mu.Unlock()

	for _, w := range pending {
		c.ctrl.ReleaseInflight(w.bytes)
		w.handle.Complete(err)
	}
}

// SetUpdater installs the update hook on this rank's local store. Every
// rank must install the same hook before any push; a rank that has already
// pushed, even to remotely owned keys only, is rejected.
func (c *Coordinator) SetUpdater(u engine.Updater) error {
	c.mu.Lock()
	if c.pushSeen {
		c.mu.Unlock()
		return engine.ErrUpdaterAfterPush
	}
	c.mu.Unlock()

	return c.local.SetUpdater(u)
}

// Init registers key on every rank and materializes the entry at its owner.
// All ranks must Init the same keys with identical metadata.
func (c *Coordinator) Init(key string, val tensor.Tensor) error {
	if err := c.err(); err != nil {
		return err
	}

	owner := c.owner(key)

	c.mu.Lock()
	if _, ok := c.meta[key]; ok {
		c.mu.Unlock()
		return fmt.Errorf("init %q: %w", key, engine.ErrDuplicateKey)
	}
	c.meta[key] = keyMeta{owner: owner, kind: val.Kind(), shape: val.Shape().Clone()}
	c.mu.Unlock()

	if owner == c.Rank() {
		return c.local.Init(key, val)
	}
	return nil
}

func (c *Coordinator) lookupMeta(key string) (keyMeta, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.meta[key]
	if !ok {
		return keyMeta{}, fmt.Errorf("key %q: %w", key, engine.ErrUnknownKey)
	}
	return m, nil
}

func checkMeta(key string, m keyMeta, val tensor.Tensor) error {
	if val.Kind() != m.kind {
		return &engine.ErrStorageKindMismatch{Key: key, Want: m.kind, Got: val.Kind()}
	}
	if !val.Shape().Equal(m.shape) {
		return &engine.ErrShapeMismatch{Key: key, Want: m.shape, Got: val.Shape()}
	}
	return nil
}

// Push contributes val to key's aggregation at its owner. Local-owner pushes
// stay in process; remote pushes travel as codec frames. Push never blocks
// on round resolution.
func (c *Coordinator) Push(key string, val tensor.Tensor, priority int) error {
	if err := c.err(); err != nil {
		return err
	}
	m, err := c.lookupMeta(key)
	if err != nil {
		return err
	}
	if err := checkMeta(key, m, val); err != nil {
		return err
	}

	c.mu.Lock()
	c.pushSeen = true
	c.mu.Unlock()

	if m.owner == c.Rank() {
		return c.ownerPush(c.Rank(), key, val, priority)
	}

	frame, err := codec.Marshal(val, c.codec)
	if err != nil {
		return err
	}
	return c.send(m.owner, Message{Type: MsgPush, Key: key, Frame: frame})
}

// ownerPush applies one contribution at the owner.
func (c *Coordinator) ownerPush(from int, key string, val tensor.Tensor, priority int) error {
	if c.mode == Async {
		if err := c.local.Push(key, val, priority); err != nil {
			return err
		}
		_, err := c.local.Flush(key, priority)
		return err
	}

	c.mu.Lock()
	r, ok := c.rounds[key]
	if !ok {
		r = &round{seen: make(map[int]struct{})}
		c.rounds[key] = r
	}
	if r.pending == nil {
		r.pending = tensor.Clone(val)
	} else if err := tensor.Add(r.pending, val); err != nil {
		c.mu.Unlock()
		return err
	}
	r.seen[from] = struct{}{}

	if len(r.seen) < c.Size() {
		c.mu.Unlock()
		return nil
	}

	// Round complete: every rank contributed. Enqueue the combined push and
	// its flush before releasing the lock, so a round completed concurrently
	// on another goroutine cannot slot in ahead of this one.
	delete(c.rounds, key)
	deferred := r.deferred

	err := c.local.Push(key, r.pending, priority)
	if err == nil {
		_, err = c.local.Flush(key, priority)
	}
	c.mu.Unlock()

	if err != nil {
		return err
	}
	// The flush is already queued on the key's chain, so deferred pulls
	// enqueued now observe the updated value.
	for _, fn := range deferred {
		fn()
	}
	return nil
}

// Pull retrieves key's aggregated, updater-applied value into out.
func (c *Coordinator) Pull(key string, out tensor.Tensor, priority int) (*engine.Handle, error) {
	if err := c.err(); err != nil {
		return nil, err
	}
	m, err := c.lookupMeta(key)
	if err != nil {
		return nil, err
	}
	if err := checkMeta(key, m, out); err != nil {
		return nil, err
	}

	h := engine.NewHandle()
	c.track(h)

	if m.owner == c.Rank() {
		c.ownerPull(key, priority, func(val tensor.Tensor, err error) {
			if err == nil {
				err = copyInto(out, val)
			}
			h.Complete(err)
		})
		return h, nil
	}

	if err := c.remoteRequest(m.owner, Message{Type: MsgPullReq, Key: key}, out, h); err != nil {
		return nil, err
	}
	return h, nil
}

// RowSparsePull retrieves the requested rows of a row-sparse key, one id set
// per destination buffer.
func (c *Coordinator) RowSparsePull(key string, outs []*tensor.RowSparse, rowIDs [][]int64, priority int) (*engine.Handle, error) {
	if err := c.err(); err != nil {
		return nil, err
	}
	m, err := c.lookupMeta(key)
	if err != nil {
		return nil, err
	}
	if m.kind != tensor.KindRowSparse {
		return nil, &engine.ErrStorageKindMismatch{Key: key, Want: tensor.KindRowSparse, Got: m.kind}
	}
	if len(outs) == 0 || len(outs) != len(rowIDs) {
		return nil, fmt.Errorf("row-sparse pull %q: %d destinations for %d row-id sets", key, len(outs), len(rowIDs))
	}

	if m.owner == c.Rank() {
		h := engine.NewHandle()
		c.track(h)
		sub, err := c.local.RowSparsePull(key, outs, rowIDs, priority)
		if err != nil {
			h.Complete(err)
			return nil, err
		}
		go func() { h.Complete(sub.Wait(context.Background())) }()
		return h, nil
	}

	// Remote: one request per destination, joined into a single handle.
	h := engine.NewHandle()
	c.track(h)
	subs := make([]*engine.Handle, len(outs))
	for i := range outs {
		if outs[i] == nil {
			h.Complete(fmt.Errorf("row-sparse pull %q: nil destination %d", key, i))
			return nil, h.Err()
		}
		sub := engine.NewHandle()
		msg := Message{Type: MsgRowSparsePullReq, Key: key, Rows: rowIDs[i]}
		if err := c.remoteRequest(m.owner, msg, outs[i], sub); err != nil {
			h.Complete(err)
			return nil, err
		}
		subs[i] = sub
	}
	go func() {
		var g errgroup.Group
		for _, sub := range subs {
			g.Go(func() error { return sub.Wait(context.Background()) })
		}
		h.Complete(g.Wait())
	}()
	return h, nil
}

// ownerPull reads the owner's local value once no sync round is open for
// key, deferring behind an open round otherwise.
func (c *Coordinator) ownerPull(key string, priority int, deliver func(tensor.Tensor, error)) {
	c.mu.Lock()
	if c.mode == Sync {
		if r, ok := c.rounds[key]; ok {
			r.deferred = append(r.deferred, func() { c.ownerPullNow(key, priority, deliver) })
			c.mu.Unlock()
			return
		}
	}
	c.mu.Unlock()
	c.ownerPullNow(key, priority, deliver)
}

func (c *Coordinator) ownerPullNow(key string, priority int, deliver func(tensor.Tensor, error)) {
	m, err := c.lookupMeta(key)
	if err != nil {
		deliver(nil, err)
		return
	}

	var out tensor.Tensor
	switch m.kind {
	case tensor.KindDense:
		out = tensor.NewDense(m.shape)
	case tensor.KindRowSparse:
		rs, err := tensor.NewRowSparse(m.shape)
		if err != nil {
			deliver(nil, err)
			return
		}
		out = rs
	}

	h, err := c.local.Pull(key, out, priority)
	if err != nil {
		deliver(nil, err)
		return
	}
	go func() { deliver(out, h.Wait(context.Background())) }()
}

// ownerRowSparsePull serves a remote row-id request from the owner's entry.
func (c *Coordinator) ownerRowSparsePull(key string, rows []int64, deliver func(tensor.Tensor, error)) {
	c.mu.Lock()
	if c.mode == Sync {
		if r, ok := c.rounds[key]; ok {
			r.deferred = append(r.deferred, func() { c.ownerRowSparsePullNow(key, rows, deliver) })
			c.mu.Unlock()
			return
		}
	}
	c.mu.Unlock()
	c.ownerRowSparsePullNow(key, rows, deliver)
}

func (c *Coordinator) ownerRowSparsePullNow(key string, rows []int64, deliver func(tensor.Tensor, error)) {
	m, err := c.lookupMeta(key)
	if err != nil {
		deliver(nil, err)
		return
	}
	out, err := tensor.NewRowSparse(m.shape)
	if err != nil {
		deliver(nil, err)
		return
	}
	h, err := c.local.RowSparsePull(key, []*tensor.RowSparse{out}, [][]int64{rows}, 0)
	if err != nil {
		deliver(nil, err)
		return
	}
	go func() { deliver(out, h.Wait(context.Background())) }()
}

// remoteRequest registers a response waiter for out and sends the request.
func (c *Coordinator) remoteRequest(owner int, m Message, out tensor.Tensor, h *engine.Handle) error {
	bytes := int64(m.size())

	c.mu.Lock()
	c.nextReq++
	m.ReqID = c.nextReq
	c.waiters[m.ReqID] = &waiter{out: out, handle: h, bytes: bytes}
	c.mu.Unlock()

	if err := c.ctrl.AcquireInflight(context.Background(), bytes); err != nil {
		c.dropWaiter(m.ReqID)
		h.Complete(err)
		return err
	}

	if err := c.send(owner, m); err != nil {
		if w := c.dropWaiter(m.ReqID); w != nil {
			c.ctrl.ReleaseInflight(bytes)
			h.Complete(err)
		}
		return err
	}
	return nil
}

func (c *Coordinator) dropWaiter(id uint64) *waiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.waiters[id]
	if !ok {
		return nil
	}
	delete(c.waiters, id)
	return w
}

// send paces and delivers one message; any transport error is fatal.
func (c *Coordinator) send(to int, m Message) error {
	ctx := context.Background()
	if err := c.ctrl.AcquireSend(ctx, m.size()); err != nil {
		return err
	}
	if err := c.transport.Send(ctx, to, m); err != nil {
		terr := &ErrTransport{Rank: c.Rank(), cause: err}
		c.fail(terr)
		return terr
	}
	return nil
}

// handle dispatches inbound messages. It runs on the transport's dispatch
// goroutine; anything that must wait on the local store moves to its own
// goroutine so the inbox keeps draining.
func (c *Coordinator) handle(from int, m Message) {
	switch m.Type {
	case MsgPush:
		val, err := codec.Unmarshal(m.Frame)
		if err == nil {
			err = c.ownerPush(from, m.Key, val, 0)
		}
		if err != nil {
			c.fail(&ErrTransport{Rank: c.Rank(), cause: fmt.Errorf("push from rank %d: %w", from, err)})
		}

	case MsgPullReq:
		c.ownerPull(m.Key, 0, c.responder(from, m.ReqID))

	case MsgRowSparsePullReq:
		c.ownerRowSparsePull(m.Key, m.Rows, c.responder(from, m.ReqID))

	case MsgPullResp:
		c.completeWaiter(m)
	}
}

// responder builds the deliver callback answering a remote pull.
func (c *Coordinator) responder(to int, reqID uint64) func(tensor.Tensor, error) {
	return func(val tensor.Tensor, err error) {
		resp := Message{Type: MsgPullResp, ReqID: reqID}
		if err != nil {
			resp.Err = err.Error()
		} else {
			frame, merr := codec.Marshal(val, c.codec)
			if merr != nil {
				resp.Err = merr.Error()
			} else {
				resp.Frame = frame
			}
		}
		_ = c.send(to, resp)
	}
}

func (c *Coordinator) completeWaiter(m Message) {
	w := c.dropWaiter(m.ReqID)
	if w == nil {
		return // already failed
	}
	c.ctrl.ReleaseInflight(w.bytes)

	if m.Err != "" {
		w.handle.Complete(fmt.Errorf("remote pull: %s", m.Err))
		return
	}
	val, err := codec.Unmarshal(m.Frame)
	if err == nil {
		err = copyInto(w.out, val)
	}
	w.handle.Complete(err)
}

// track records a handle for WaitAll, periodically dropping handles that
// already resolved so long-running loops don't accumulate them.
func (c *Coordinator) track(h *engine.Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.handles = append(c.handles, h)
	if len(c.handles)%256 != 0 {
		return
	}
	kept := c.handles[:0]
	for _, h := range c.handles {
		select {
		case <-h.Done():
		default:
			kept = append(kept, h)
		}
	}
	c.handles = kept
}

// WaitAll blocks until every operation issued through this coordinator has
// resolved: the rank-local chains plus all outstanding remote pulls.
func (c *Coordinator) WaitAll(ctx context.Context) error {
	if err := c.local.WaitAll(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	pending := c.handles
	c.handles = nil
	c.mu.Unlock()

	for _, h := range pending {
		if err := h.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close tears the coordinator down: the transport stops first, then the
// local store drains.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	err := c.transport.Close()
	if cerr := c.local.Close(); err == nil {
		err = cerr
	}
	return err
}

// copyInto copies a decoded value into a caller-supplied buffer.
func copyInto(out, val tensor.Tensor) error {
	switch v := val.(type) {
	case *tensor.Dense:
		o, ok := out.(*tensor.Dense)
		if !ok {
			return fmt.Errorf("dense result for %s buffer", out.Kind())
		}
		return o.CopyFrom(v)
	case *tensor.RowSparse:
		o, ok := out.(*tensor.RowSparse)
		if !ok {
			return fmt.Errorf("row-sparse result for %s buffer", out.Kind())
		}
		o.Reset()
		return o.Add(v)
	default:
		return fmt.Errorf("unknown layout %T", val)
	}
}
