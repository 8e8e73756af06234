package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/tensorkv/tensor"
)

func TestPriorityNeverReordersSameKeyChain(t *testing.T) {
	s := newTestStore(t, func(o *Options) { o.NumWorkers = 1 })
	require.NoError(t, s.Init("3", tensor.NewDense(shape)))

	// The pull carries a lower (sooner) priority than the push, but it was
	// submitted later on the same key, so it must still observe the push.
	require.NoError(t, s.Push("3", tensor.Ones(shape), 10))
	assertAll(t, pullDense(t, s, "3"), 1)
}

func TestPriorityOrdersReadyWorkAcrossKeys(t *testing.T) {
	s := newTestStore(t, func(o *Options) { o.NumWorkers = 1 })

	var (
		mu      sync.Mutex
		order   []string
		release = make(chan struct{})
		started = make(chan struct{})
	)
	require.NoError(t, s.SetUpdater(UpdaterFunc(func(key string, incoming, current tensor.Tensor) error {
		if key == "a" {
			close(started)
			<-release // hold the only worker on key a
		}
		mu.Lock()
		order = append(order, key)
		mu.Unlock()
		return tensor.Add(current, incoming)
	})))

	for _, key := range []string{"a", "b", "c"} {
		require.NoError(t, s.Init(key, tensor.NewDense(shape)))
	}

	require.NoError(t, s.Push("a", tensor.Ones(shape), 0))
	ha, err := s.Flush("a", 0)
	require.NoError(t, err)
	<-started

	// While the worker is pinned on a, queue rounds for b and c. c carries
	// the lower priority value and must run first once the worker frees up.
	require.NoError(t, s.Push("b", tensor.Ones(shape), 1))
	require.NoError(t, s.Push("c", tensor.Ones(shape), 0))
	hb, err := s.Flush("b", 1)
	require.NoError(t, err)
	hc, err := s.Flush("c", 0)
	require.NoError(t, err)

	close(release)

	ctx := context.Background()
	require.NoError(t, ha.Wait(ctx))
	require.NoError(t, hb.Wait(ctx))
	require.NoError(t, hc.Wait(ctx))

	assert.Equal(t, []string{"a", "c", "b"}, order)
}

func TestUnrelatedKeysProgressWhileHandleUnresolved(t *testing.T) {
	s := newTestStore(t, func(o *Options) { o.NumWorkers = 2 })

	blocked := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, s.SetUpdater(UpdaterFunc(func(key string, incoming, current tensor.Tensor) error {
		if key == "slow" {
			close(blocked)
			<-release
		}
		return tensor.Add(current, incoming)
	})))

	require.NoError(t, s.Init("slow", tensor.NewDense(shape)))
	require.NoError(t, s.Init("fast", tensor.NewDense(shape)))

	require.NoError(t, s.Push("slow", tensor.Ones(shape), 0))
	slowOut := tensor.NewDense(shape)
	slowHandle, err := s.Pull("slow", slowOut, 0)
	require.NoError(t, err)
	<-blocked

	// The slow key's chain is stuck inside its updater; the fast key's pull
	// must still resolve.
	require.NoError(t, s.Push("fast", tensor.Ones(shape), 0))
	assertAll(t, pullDense(t, s, "fast"), 1)

	close(release)
	require.NoError(t, slowHandle.Wait(context.Background()))
	assertAll(t, slowOut, 1)
}

func TestHandleWaitHonorsContext(t *testing.T) {
	s := newTestStore(t, func(o *Options) { o.NumWorkers = 1 })

	release := make(chan struct{})
	require.NoError(t, s.SetUpdater(UpdaterFunc(func(key string, incoming, current tensor.Tensor) error {
		<-release
		return tensor.Add(current, incoming)
	})))

	require.NoError(t, s.Init("3", tensor.NewDense(shape)))
	require.NoError(t, s.Push("3", tensor.Ones(shape), 0))

	h, err := s.Pull("3", tensor.NewDense(shape), 0)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.Wait(ctx), context.DeadlineExceeded)

	close(release)
	require.NoError(t, h.Wait(context.Background()))
}

func TestManyKeysConcurrently(t *testing.T) {
	s := newTestStore(t)

	keys := []string{"w0", "w1", "w2", "w3", "w4", "w5", "w6", "w7"}
	for _, key := range keys {
		require.NoError(t, s.Init(key, tensor.NewDense(shape)))
	}

	var wg sync.WaitGroup
	for _, key := range keys {
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(key string) {
				defer wg.Done()
				assert.NoError(t, s.Push(key, tensor.Ones(shape), i%3))
			}(key)
		}
	}
	wg.Wait()

	for _, key := range keys {
		assertAll(t, pullDense(t, s, key), 16)
	}
}
