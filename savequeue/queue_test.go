package savequeue_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/magic-lib/go-plat-savequeue/savequeue"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type playerData struct {
	Name       string
	LoginTimes int
}

func newQueue(t *testing.T, capacity int) (*savequeue.SaveQueue[playerData], *savequeue.Metrics) {
	t.Helper()
	metrics, err := savequeue.NewMetrics("test", nil)
	require.NoError(t, err)
	q, err := savequeue.NewSaveQueue[playerData](capacity, metrics)
	require.NoError(t, err)
	return q, metrics
}

func entry(key string, logins int) *savequeue.Entry[playerData] {
	return savequeue.NewEntry(key, playerData{Name: key, LoginTimes: logins}, true)
}

func TestNewSaveQueueRejectsInvalidCapacity(t *testing.T) {
	_, err := savequeue.NewSaveQueue[playerData](0, nil)
	require.ErrorIs(t, err, savequeue.ErrInvalidCapacity)
}

func TestSubmitRejectsBeyondCapacity(t *testing.T) {
	q, metrics := newQueue(t, 2)

	assert.True(t, q.Submit(entry("a", 1)))
	assert.True(t, q.Submit(entry("b", 1)))
	assert.False(t, q.Submit(entry("c", 1)))

	assert.Equal(t, 2, q.Len())
	assert.Equal(t, []string{"a", "b"}, q.Keys())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Rejected))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.Submitted))
	require.ErrorIs(t, q.TrySubmit(entry("d", 1)), savequeue.ErrCapacityExceeded)
	require.ErrorIs(t, q.TrySubmit(nil), savequeue.ErrNilEntry)
}

func TestSubmitBatchStopsAtCapacity(t *testing.T) {
	q, metrics := newQueue(t, 3)

	batch := []*savequeue.Entry[playerData]{entry("a", 1), entry("b", 1), entry("c", 1), entry("d", 1), entry("e", 1)}
	accepted, rejected := q.SubmitBatch(batch)

	assert.Equal(t, 3, accepted)
	assert.Equal(t, 2, rejected)
	assert.Equal(t, []string{"a", "b", "c"}, q.Keys())
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.Rejected))
}

func TestSubmitBatchCountsNilAsRejected(t *testing.T) {
	q, _ := newQueue(t, 3)

	accepted, rejected := q.SubmitBatch([]*savequeue.Entry[playerData]{entry("a", 1), nil, entry("b", 1)})
	assert.Equal(t, 2, accepted)
	assert.Equal(t, 1, rejected)
}

func TestTrySubmitBatchReturnsRejectedEntries(t *testing.T) {
	q, _ := newQueue(t, 2)
	assert.Equal(t, 2, q.Cap())

	d := entry("d", 1)
	accepted, rejected, err := q.TrySubmitBatch([]*savequeue.Entry[playerData]{entry("a", 1), nil, entry("b", 1), entry("c", 1), d})
	require.ErrorIs(t, err, savequeue.ErrCapacityExceeded)
	assert.Equal(t, 2, accepted)
	require.Len(t, rejected, 3)
	assert.Nil(t, rejected[0])
	assert.Equal(t, "c", rejected[1].Key)
	assert.Same(t, d, rejected[2])

	q.Shutdown()
	accepted, rejected, err = q.TrySubmitBatch([]*savequeue.Entry[playerData]{entry("e", 1)})
	require.ErrorIs(t, err, savequeue.ErrShutdown)
	assert.Zero(t, accepted)
	assert.Len(t, rejected, 1)
}

func TestConcurrentProducersNeverExceedCapacity(t *testing.T) {
	const capacity = 16
	q, _ := newQueue(t, capacity)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				ok := q.Submit(entry(fmt.Sprintf("p%d-%d", p, i), i))
				assert.LessOrEqual(t, q.Len(), capacity)
				if ok {
					mu.Lock()
					accepted++
					mu.Unlock()
				}
			}
		}(p)
	}
	wg.Wait()

	assert.Equal(t, capacity, accepted)
	assert.Equal(t, capacity, q.Len())
}

func TestContainsDoesNotMutate(t *testing.T) {
	q, _ := newQueue(t, 4)
	require.True(t, q.Submit(entry("a", 1)))

	before := q.Keys()
	for i := 0; i < 3; i++ {
		assert.True(t, q.Contains("a"))
		assert.False(t, q.Contains("b"))
	}
	assert.Equal(t, before, q.Keys())
	assert.Equal(t, 1, q.Len())
}

func TestTakeIsFIFO(t *testing.T) {
	q, _ := newQueue(t, 4)
	for _, k := range []string{"a", "b", "c"} {
		require.True(t, q.Submit(entry(k, 1)))
	}

	for _, want := range []string{"a", "b", "c"} {
		got, err := q.Take(context.Background())
		require.NoError(t, err)
		assert.Equal(t, want, got.Key)
		q.Done(got)
	}
	assert.Equal(t, 0, q.Len())
}

func TestTakeSkipsKeyInFlight(t *testing.T) {
	q, metrics := newQueue(t, 4)
	first := entry("a", 1)
	second := entry("a", 2)
	require.True(t, q.Submit(first))
	require.True(t, q.Submit(second))
	require.True(t, q.Submit(entry("b", 1)))

	got, err := q.Take(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, got)
	assert.True(t, q.InFlight("a"))
	assert.True(t, q.Contains("a"))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.InFlight))

	// "a" is in flight, so the next eligible entry is "b"
	next, err := q.Take(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "b", next.Key)
	q.Done(next)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = q.Take(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	q.Done(got)
	again, err := q.Take(context.Background())
	require.NoError(t, err)
	assert.Same(t, second, again)
}

func TestTakeWakesWhenEntrySubmitted(t *testing.T) {
	q, _ := newQueue(t, 1)

	got := make(chan string, 1)
	go func() {
		e, err := q.Take(context.Background())
		if err == nil {
			got <- e.Key
		}
	}()

	time.Sleep(10 * time.Millisecond)
	require.True(t, q.Submit(entry("late", 1)))

	select {
	case key := <-got:
		assert.Equal(t, "late", key)
	case <-time.After(time.Second):
		t.Fatal("Take did not wake up")
	}
}

func TestShutdownUnblocksTake(t *testing.T) {
	q, _ := newQueue(t, 2)

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := q.Take(context.Background())
			errs <- err
		}()
	}
	time.Sleep(10 * time.Millisecond)
	q.Shutdown()
	q.Shutdown()

	for i := 0; i < 2; i++ {
		select {
		case err := <-errs:
			require.ErrorIs(t, err, savequeue.ErrShutdown)
		case <-time.After(time.Second):
			t.Fatal("Take was not released by Shutdown")
		}
	}
	assert.True(t, q.Closed())
	assert.False(t, q.Submit(entry("a", 1)))
	require.ErrorIs(t, q.TrySubmit(entry("a", 1)), savequeue.ErrShutdown)
}

func TestRequeue(t *testing.T) {
	q, _ := newQueue(t, 2)
	require.True(t, q.Submit(entry("a", 1)))

	taken, err := q.Take(context.Background())
	require.NoError(t, err)
	require.NoError(t, q.Requeue(taken))
	q.Done(taken)
	assert.Equal(t, []string{"a"}, q.Keys())

	retaken, err := q.Take(context.Background())
	require.NoError(t, err)
	assert.Same(t, taken, retaken)

	// a newer snapshot of the same key is already waiting
	require.True(t, q.Submit(entry("a", 2)))
	require.ErrorIs(t, q.Requeue(retaken), savequeue.ErrSuperseded)

	require.True(t, q.Submit(entry("b", 1)))
	other := entry("c", 1)
	require.ErrorIs(t, q.Requeue(other), savequeue.ErrCapacityExceeded)
}

func TestDrain(t *testing.T) {
	q, metrics := newQueue(t, 3)
	require.True(t, q.Submit(entry("a", 1)))
	require.True(t, q.Submit(entry("b", 1)))

	drained := q.Drain()
	require.Len(t, drained, 2)
	assert.Equal(t, "a", drained[0].Key)
	assert.Equal(t, 0, q.Len())
	assert.False(t, q.Contains("a"))
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.QueueLength))
}
