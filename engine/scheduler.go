package engine

import (
	"container/heap"
	"runtime"
	"sync"

	"github.com/hupe1980/tensorkv/queue"
)

// opKind discriminates scheduled operations.
type opKind uint8

const (
	opPush opKind = iota + 1
	opPull
	opRowSparsePull
	opFlush
)

// op is one queued operation on a key's chain.
type op struct {
	kind     opKind
	key      string
	priority int
	seq      uint64

	exec   func() error // runs with exclusive access to the key's entry
	handle *Handle      // nil for pushes
}

// chain is the per-key FIFO of pending operations. ops[0] is the op that is
// ready or running; only the head is ever placed on the ready queue, which is
// what makes same-key execution strictly submission-ordered.
type chain struct {
	ops []*op
}

// scheduler executes queued operations on a fixed pool of workers.
//
// Operations on the same key run strictly in submission order. Operations on
// different keys run concurrently; among ready operations the priority hint
// decides who goes first (lower sooner, FIFO within a priority).
type scheduler struct {
	mu     sync.Mutex
	cond   *sync.Cond
	ready  queue.ReadyQueue
	chains map[string]*chain
	seq    uint64
	closed bool

	wg sync.WaitGroup
}

func newScheduler(numWorkers int) *scheduler {
	if numWorkers <= 0 {
		numWorkers = runtime.GOMAXPROCS(0)
	}

	s := &scheduler{
		chains: make(map[string]*chain),
	}
	s.cond = sync.NewCond(&s.mu)

	s.wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go s.worker()
	}

	return s
}

// submit appends o to its key's chain. If the chain was idle, o becomes ready
// immediately.
func (s *scheduler) submit(o *op) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	s.seq++
	o.seq = s.seq

	c, ok := s.chains[o.key]
	if !ok {
		c = &chain{}
		s.chains[o.key] = c
	}
	c.ops = append(c.ops, o)

	if len(c.ops) == 1 {
		s.markReady(o)
	}
	return nil
}

// markReady places o on the ready queue. Caller holds s.mu.
func (s *scheduler) markReady(o *op) {
	heap.Push(&s.ready, &queue.Item{Value: o, Priority: o.priority, Seq: o.seq})
	s.cond.Signal()
}

func (s *scheduler) worker() {
	defer s.wg.Done()

	for {
		s.mu.Lock()
		for s.ready.Len() == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.ready.Len() == 0 && s.closed {
			s.mu.Unlock()
			return
		}
		item := heap.Pop(&s.ready).(*queue.Item)
		s.mu.Unlock()

		o := item.Value.(*op)
		err := o.exec()
		if o.handle != nil {
			o.handle.complete(err)
		}
		// Handle-less ops (pushes) latch failures on their entry; the
		// key's next resolving op reports them.

		s.advance(o.key)
	}
}

// advance retires the head of key's chain and readies its successor.
func (s *scheduler) advance(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.chains[key]
	c.ops[0] = nil
	c.ops = c.ops[1:]
	if len(c.ops) > 0 {
		s.markReady(c.ops[0])
	}
}

// close stops accepting work and waits for every queued operation to run to
// completion. Once submitted, operations are never abandoned.
func (s *scheduler) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()

	s.wg.Wait()
}
