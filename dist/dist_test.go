package dist

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/tensorkv/codec"
	"github.com/hupe1980/tensorkv/engine"
	"github.com/hupe1980/tensorkv/resource"
	"github.com/hupe1980/tensorkv/tensor"
)

var shape = tensor.Shape{4, 4}

func newCluster(t *testing.T, n int, optFns ...func(*Options)) []*Coordinator {
	t.Helper()
	transports := NewLoopback(n)
	cs := make([]*Coordinator, n)
	for i, tr := range transports {
		cs[i] = NewCoordinator(tr, optFns...)
	}
	t.Cleanup(func() {
		for _, c := range cs {
			_ = c.Close()
		}
	})
	return cs
}

func initAll(t *testing.T, cs []*Coordinator, key string, val tensor.Tensor) {
	t.Helper()
	for _, c := range cs {
		require.NoError(t, c.Init(key, val))
	}
}

// keyOwnedBy finds a key whose FNV placement lands on rank.
func keyOwnedBy(c *Coordinator, rank int, prefix string) string {
	for i := 0; ; i++ {
		k := fmt.Sprintf("%s-%d", prefix, i)
		if c.owner(k) == rank {
			return k
		}
	}
}

func pullAll(t *testing.T, c *Coordinator, key string) *tensor.Dense {
	t.Helper()
	out := tensor.NewDense(shape)
	h, err := c.Pull(key, out, 0)
	require.NoError(t, err)
	require.NoError(t, h.Wait(context.Background()))
	return out
}

func TestClusterIdentity(t *testing.T) {
	cs := newCluster(t, 3)
	for i, c := range cs {
		assert.Equal(t, i, c.Rank())
		assert.Equal(t, 3, c.Size())
		assert.Equal(t, Sync, c.Mode())
	}
}

func TestSyncAggregationAcrossRanks(t *testing.T) {
	const n = 4
	cs := newCluster(t, n)
	initAll(t, cs, "w", tensor.NewDense(shape))

	for _, c := range cs {
		require.NoError(t, c.Push("w", tensor.Ones(shape), 0))
	}

	// Every rank observes the full-round sum, wherever the key lives.
	for _, c := range cs {
		out := pullAll(t, c, "w")
		for _, v := range out.Data() {
			assert.Equal(t, float32(n), v)
		}
	}
}

func TestSyncUpdaterOncePerRound(t *testing.T) {
	const n, rounds = 4, 4
	cs := newCluster(t, n)

	var calls atomic.Int32
	for _, c := range cs {
		require.NoError(t, c.SetUpdater(engine.UpdaterFunc(func(key string, incoming, current tensor.Tensor) error {
			calls.Add(1)
			return tensor.Add(current, incoming)
		})))
	}
	initAll(t, cs, "w", tensor.NewDense(shape))

	for r := 0; r < rounds; r++ {
		for _, c := range cs {
			require.NoError(t, c.Push("w", tensor.Ones(shape), 0))
		}
		for _, c := range cs {
			pullAll(t, c, "w")
		}
	}

	out := pullAll(t, cs[0], "w")
	assert.Equal(t, float32(n*rounds), out.Data()[0])
	assert.Equal(t, int32(rounds), calls.Load(), "one updater invocation per all-ranks round")
}

func TestSyncPullDefersBehindOpenRound(t *testing.T) {
	cs := newCluster(t, 2)
	key := keyOwnedBy(cs[0], 0, "w")
	initAll(t, cs, key, tensor.NewDense(shape))

	// Rank 0 contributes and immediately pulls: the round is still open
	// (rank 1 has not pushed), so the handle must not resolve yet.
	require.NoError(t, cs[0].Push(key, tensor.Ones(shape), 0))
	out := tensor.NewDense(shape)
	h, err := cs[0].Pull(key, out, 0)
	require.NoError(t, err)

	select {
	case <-h.Done():
		t.Fatal("pull resolved before the round closed")
	case <-time.After(30 * time.Millisecond):
	}

	require.NoError(t, cs[1].Push(key, tensor.Ones(shape), 0))
	require.NoError(t, h.Wait(context.Background()))
	assert.Equal(t, float32(2), out.Data()[0])
}

func TestAsyncAppliesPerArrival(t *testing.T) {
	cs := newCluster(t, 2, func(o *Options) { o.Mode = Async })

	var calls atomic.Int32
	for _, c := range cs {
		require.NoError(t, c.SetUpdater(engine.UpdaterFunc(func(key string, incoming, current tensor.Tensor) error {
			calls.Add(1)
			return tensor.Add(current, incoming)
		})))
	}

	key := keyOwnedBy(cs[0], 0, "w")
	initAll(t, cs, key, tensor.NewDense(shape))

	// Two pushes from the non-owner rank: each is its own round.
	require.NoError(t, cs[1].Push(key, tensor.Ones(shape), 0))
	require.NoError(t, cs[1].Push(key, tensor.Ones(shape), 0))

	out := tensor.NewDense(shape)
	h, err := cs[1].Pull(key, out, 0)
	require.NoError(t, err)
	require.NoError(t, h.Wait(context.Background()))

	assert.Equal(t, float32(2), out.Data()[0])
	assert.Equal(t, int32(2), calls.Load())
}

func TestRemotePull(t *testing.T) {
	cs := newCluster(t, 2)
	key := keyOwnedBy(cs[0], 0, "w")

	init := tensor.Ones(shape)
	init.Scale(3)
	initAll(t, cs, key, init)

	// No pushes: rank 1 pulls the initial value across the wire.
	out := pullAll(t, cs[1], key)
	for _, v := range out.Data() {
		assert.Equal(t, float32(3), v)
	}
}

func TestRemoteRowSparsePullMultiDestination(t *testing.T) {
	rsShape := tensor.Shape{10, 4}
	cs := newCluster(t, 2, func(o *Options) { o.Codec = codec.Zstd{} })
	key := keyOwnedBy(cs[0], 0, "emb")

	zero, err := tensor.NewRowSparse(rsShape)
	require.NoError(t, err)
	initAll(t, cs, key, zero)

	val, err := tensor.NewRowSparse(rsShape)
	require.NoError(t, err)
	for _, id := range []int64{2, 5, 9} {
		require.NoError(t, val.SetRow(id, []float32{1, 1, 1, 1}))
	}
	require.NoError(t, cs[1].Push(key, val, 0))
	require.NoError(t, cs[0].Push(key, val, 0)) // close the round

	outA, err := tensor.NewRowSparse(rsShape)
	require.NoError(t, err)
	outB, err := tensor.NewRowSparse(rsShape)
	require.NoError(t, err)

	h, err := cs[1].RowSparsePull(key, []*tensor.RowSparse{outA, outB}, [][]int64{{5, 9}, {2, 3}}, 0)
	require.NoError(t, err)
	require.NoError(t, h.Wait(context.Background()))

	assert.Equal(t, []int64{5, 9}, outA.Rows())
	rowA, _ := outA.Row(5)
	assert.Equal(t, float32(2), rowA[0], "both ranks contributed")

	assert.Equal(t, []int64{2}, outB.Rows(), "row 3 was never pushed")
}

func TestUnknownKey(t *testing.T) {
	cs := newCluster(t, 2)

	err := cs[0].Push("missing", tensor.Ones(shape), 0)
	assert.ErrorIs(t, err, engine.ErrUnknownKey)

	_, err = cs[1].Pull("missing", tensor.NewDense(shape), 0)
	assert.ErrorIs(t, err, engine.ErrUnknownKey)
}

func TestDuplicateInit(t *testing.T) {
	cs := newCluster(t, 2)
	initAll(t, cs, "w", tensor.NewDense(shape))

	err := cs[0].Init("w", tensor.NewDense(shape))
	assert.ErrorIs(t, err, engine.ErrDuplicateKey)
}

func TestValidationAtEnqueue(t *testing.T) {
	cs := newCluster(t, 2)
	initAll(t, cs, "w", tensor.NewDense(shape))

	err := cs[0].Push("w", tensor.Ones(tensor.Shape{2, 2}), 0)
	var sm *engine.ErrShapeMismatch
	assert.ErrorAs(t, err, &sm)

	rs, err := tensor.NewRowSparse(shape)
	require.NoError(t, err)
	_, err = cs[0].Pull("w", rs, 0)
	var km *engine.ErrStorageKindMismatch
	assert.ErrorAs(t, err, &km)

	_, err = cs[0].RowSparsePull("w", []*tensor.RowSparse{rs}, [][]int64{{1}}, 0)
	assert.ErrorAs(t, err, &km, "row-sparse pull against a dense key")
}

func TestTransportFailureIsFatal(t *testing.T) {
	cs := newCluster(t, 2)
	key := keyOwnedBy(cs[0], 1, "w")
	initAll(t, cs, key, tensor.NewDense(shape))

	// Take the owner down; the next remote push fails fatally.
	require.NoError(t, cs[1].Close())

	err := cs[0].Push(key, tensor.Ones(shape), 0)
	var terr *ErrTransport
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, 0, terr.Rank)

	// The failure is latched: unrelated operations now fail too, with no
	// retry.
	err = cs[0].Push(key, tensor.Ones(shape), 0)
	assert.ErrorAs(t, err, &terr)

	_, err = cs[0].Pull(key, tensor.NewDense(shape), 0)
	assert.ErrorAs(t, err, &terr)
}

func TestWaitAllResolvesOutstandingPulls(t *testing.T) {
	cs := newCluster(t, 2)
	key := keyOwnedBy(cs[0], 0, "w")
	initAll(t, cs, key, tensor.NewDense(shape))

	require.NoError(t, cs[0].Push(key, tensor.Ones(shape), 0))
	require.NoError(t, cs[1].Push(key, tensor.Ones(shape), 0))

	outs := make([]*tensor.Dense, 8)
	for i := range outs {
		outs[i] = tensor.NewDense(shape)
		_, err := cs[1].Pull(key, outs[i], 0)
		require.NoError(t, err)
	}

	require.NoError(t, cs[1].WaitAll(context.Background()))
	for _, out := range outs {
		assert.Equal(t, float32(2), out.Data()[0])
	}
}

func TestSyncRoundsApplyInOrder(t *testing.T) {
	cs := newCluster(t, 2)

	var (
		mu   sync.Mutex
		seen []float32
	)
	for _, c := range cs {
		require.NoError(t, c.SetUpdater(engine.UpdaterFunc(func(key string, incoming, current tensor.Tensor) error {
			mu.Lock()
			seen = append(seen, incoming.(*tensor.Dense).Data()[0])
			mu.Unlock()
			return tensor.Add(current, incoming)
		})))
	}

	key := keyOwnedBy(cs[0], 0, "w")
	initAll(t, cs, key, tensor.NewDense(shape))

	// Alternate which goroutine closes a round: the remote push travels the
	// dispatch goroutine, the owner's own push closes on the caller. Rounds
	// must still apply in completion order.
	const rounds = 16
	for r := 1; r <= rounds; r++ {
		v := tensor.Ones(shape)
		v.Scale(float32(r))
		require.NoError(t, cs[1].Push(key, v, 0))
		require.NoError(t, cs[0].Push(key, v.Clone(), 0))
		pullAll(t, cs[1], key)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, rounds)
	for r := 1; r <= rounds; r++ {
		assert.Equal(t, float32(2*r), seen[r-1], "round %d applied out of order", r)
	}
}

func TestSetUpdaterAfterRemotePush(t *testing.T) {
	cs := newCluster(t, 2)
	key := keyOwnedBy(cs[0], 0, "w")
	initAll(t, cs, key, tensor.NewDense(shape))

	// Rank 1 owns nothing it has pushed to; the push still counts.
	require.NoError(t, cs[1].Push(key, tensor.Ones(shape), 0))

	err := cs[1].SetUpdater(engine.Accumulate)
	assert.ErrorIs(t, err, engine.ErrUpdaterAfterPush)
}

func TestOversizedPullFailsFast(t *testing.T) {
	// A budget no pull request fits in must reject the request, not park the
	// caller on an unbounded acquire.
	cs := newCluster(t, 2, func(o *Options) {
		o.Resource = resource.Config{InflightLimitBytes: 8}
	})
	key := keyOwnedBy(cs[0], 0, "w")
	initAll(t, cs, key, tensor.NewDense(shape))

	done := make(chan error, 1)
	go func() {
		_, err := cs[1].Pull(key, tensor.NewDense(shape), 0)
		done <- err
	}()

	select {
	case err := <-done:
		require.ErrorIs(t, err, resource.ErrInflightBudgetExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("pull blocked on an in-flight budget it can never satisfy")
	}

	// The rejection is not a transport failure: the cluster stays usable.
	require.NoError(t, cs[1].Push(key, tensor.Ones(shape), 0))
}

func TestResourceBudgetedCluster(t *testing.T) {
	cs := newCluster(t, 2, func(o *Options) {
		o.Codec = codec.LZ4{}
		o.Resource = resource.Config{
			InflightLimitBytes:   1 << 20,
			SendLimitBytesPerSec: 1 << 22,
		}
	})
	key := keyOwnedBy(cs[0], 0, "w")
	initAll(t, cs, key, tensor.NewDense(shape))

	require.NoError(t, cs[0].Push(key, tensor.Ones(shape), 0))
	require.NoError(t, cs[1].Push(key, tensor.Ones(shape), 0))

	out := pullAll(t, cs[1], key)
	assert.Equal(t, float32(2), out.Data()[0])
}
