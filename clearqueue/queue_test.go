package clearqueue_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/alicebob/miniredis/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/magic-lib/go-plat-savequeue/clearqueue"
	"github.com/magic-lib/go-plat-savequeue/savequeue"
	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type removal struct {
	key string
	err error
}

func newQueue(t *testing.T, store clearqueue.Store, cfg clearqueue.Config) (*clearqueue.Queue, chan removal) {
	t.Helper()
	removed := make(chan removal, 16)
	cfg.OnRemoved = func(key string, err error) {
		removed <- removal{key: key, err: err}
	}
	q, err := clearqueue.NewQueue(store, &cfg)
	require.NoError(t, err)
	t.Cleanup(q.Stop)
	return q, removed
}

func waitRemoved(t *testing.T, removed chan removal) removal {
	t.Helper()
	select {
	case r := <-removed:
		return r
	case <-time.After(time.Second):
		t.Fatal("key was not removed")
		return removal{}
	}
}

func TestLRUStore(t *testing.T) {
	cache, err := lru.New[string, int](8)
	require.NoError(t, err)
	cache.Add("alice", 1)
	cache.Add("bob", 2)

	q, removed := newQueue(t, clearqueue.NewLRUStore(cache), clearqueue.Config{})
	q.ScheduleClear("alice")

	r := waitRemoved(t, removed)
	require.NoError(t, r.err)
	assert.Equal(t, "alice", r.key)
	assert.False(t, cache.Contains("alice"))
	assert.True(t, cache.Contains("bob"))
}

func TestGoCacheStore(t *testing.T) {
	cache := gocache.New(time.Minute, time.Minute)
	cache.Set("alice", 1, gocache.DefaultExpiration)

	q, removed := newQueue(t, clearqueue.NewGoCacheStore(cache), clearqueue.Config{})
	q.ScheduleForClear("alice")
	waitRemoved(t, removed)

	_, found := cache.Get("alice")
	assert.False(t, found)
}

func TestFastCacheStore(t *testing.T) {
	cache := fastcache.New(32 * 1024 * 1024)
	cache.Set([]byte("alice"), []byte("state"))

	q, removed := newQueue(t, clearqueue.NewFastCacheStore(cache), clearqueue.Config{})
	q.ScheduleClear("alice")
	waitRemoved(t, removed)

	assert.False(t, cache.Has([]byte("alice")))
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, mr.Set("{players}alice", "state"))
	require.NoError(t, mr.Set("{players}bob", "state"))

	q, removed := newQueue(t, clearqueue.NewRedisStore(client, "players"), clearqueue.Config{})
	q.ScheduleClear("alice")
	r := waitRemoved(t, removed)
	require.NoError(t, r.err)

	assert.False(t, mr.Exists("{players}alice"))
	assert.True(t, mr.Exists("{players}bob"))
}

func TestPendingSkipsClear(t *testing.T) {
	var mu sync.Mutex
	var calls []string
	store := clearqueue.StoreFunc(func(_ context.Context, key string) error {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, key)
		return nil
	})

	q, err := clearqueue.NewQueue(store, &clearqueue.Config{
		Pending: func(key string) bool { return key == "busy" },
	})
	require.NoError(t, err)
	q.ScheduleClear("busy")
	q.ScheduleClear("idle")
	q.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"idle"}, calls)
}

func TestScheduleClearNeverBlocks(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	store := clearqueue.StoreFunc(func(_ context.Context, key string) error {
		if key == "first" {
			started <- struct{}{}
			<-release
		}
		return nil
	})
	core, logs := observer.New(zapcore.WarnLevel)
	q, err := clearqueue.NewQueue(store, &clearqueue.Config{Capacity: 1, Logger: zap.New(core)})
	require.NoError(t, err)

	q.ScheduleClear("first")
	<-started
	q.ScheduleClear("second")
	q.ScheduleClear("third")

	dropped := logs.FilterMessage("clear queue too small, clear dropped").All()
	require.Len(t, dropped, 1)
	assert.Equal(t, "third", dropped[0].ContextMap()["key"])

	close(release)
	q.Stop()
	q.Stop()
	assert.Equal(t, 0, q.Len())

	q.ScheduleClear("late")
	assert.Equal(t, 1, logs.FilterMessage("clear queue stopped, clear dropped").Len())
}

func TestRemoveErrorIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	store := clearqueue.StoreFunc(func(context.Context, string) error { return errors.New("gone") })
	q, err := clearqueue.NewQueue(store, &clearqueue.Config{Logger: zap.New(core)})
	require.NoError(t, err)
	q.ScheduleClear("alice")
	q.Stop()

	assert.Equal(t, 1, logs.FilterMessage("clear failed").FilterField(zap.String("key", "alice")).Len())
}

func TestNewQueueRequiresStore(t *testing.T) {
	_, err := clearqueue.NewQueue(nil, nil)
	require.Error(t, err)
}

func TestSavedEntriesAreClearedFromCache(t *testing.T) {
	const players = 200
	cache := gocache.New(gocache.NoExpiration, 0)
	for i := 0; i < players; i++ {
		cache.Set(fmt.Sprintf("player-%d", i), i, gocache.NoExpiration)
	}

	var svc *savequeue.Service[int]
	cq, err := clearqueue.NewQueue(clearqueue.NewGoCacheStore(cache), &clearqueue.Config{
		Capacity: players,
		Pending: func(key string) bool {
			return svc.Pending(key)
		},
	})
	require.NoError(t, err)
	t.Cleanup(cq.Stop)

	persisted := savequeue.PersistFunc[int](func(context.Context, string, int) error {
		return nil
	})
	svc, err = savequeue.NewService(savequeue.Config{Capacity: players, Workers: 4}, persisted,
		savequeue.WithClearNotifier[int](cq))
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Stop() })

	for i := 0; i < players; i++ {
		require.True(t, svc.ScheduleForSave(savequeue.NewEntry(fmt.Sprintf("player-%d", i), i, true)))
	}

	require.Eventually(t, func() bool {
		return cache.ItemCount() == 0
	}, 2*time.Second, 5*time.Millisecond)
}
