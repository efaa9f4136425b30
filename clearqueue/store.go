package clearqueue

import (
	"context"
	"fmt"

	"github.com/VictoriaMetrics/fastcache"
	lru "github.com/hashicorp/golang-lru/v2"
	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// Store 缓存玩家状态的地方，保存成功后从这里移除
type Store interface {
	Remove(ctx context.Context, key string) error
}

// StoreFunc 函数形式的 Store
type StoreFunc func(ctx context.Context, key string) error

// Remove xxx
func (f StoreFunc) Remove(ctx context.Context, key string) error {
	return f(ctx, key)
}

// LRUStore 基于 golang-lru 的本地缓存
type LRUStore[V any] struct {
	cache *lru.Cache[string, V]
}

// NewLRUStore 包装已有的 lru 缓存
func NewLRUStore[V any](cache *lru.Cache[string, V]) *LRUStore[V] {
	return &LRUStore[V]{cache: cache}
}

// Remove xxx
func (s *LRUStore[V]) Remove(_ context.Context, key string) error {
	s.cache.Remove(key)
	return nil
}

// GoCacheStore 基于 go-cache 的本地缓存
type GoCacheStore struct {
	cache *gocache.Cache
}

// NewGoCacheStore xxx
func NewGoCacheStore(cache *gocache.Cache) *GoCacheStore {
	return &GoCacheStore{cache: cache}
}

// Remove xxx
func (s *GoCacheStore) Remove(_ context.Context, key string) error {
	s.cache.Delete(key)
	return nil
}

// FastCacheStore 基于 fastcache 的本地缓存
type FastCacheStore struct {
	cache *fastcache.Cache
}

// NewFastCacheStore xxx
func NewFastCacheStore(cache *fastcache.Cache) *FastCacheStore {
	return &FastCacheStore{cache: cache}
}

// Remove xxx
func (s *FastCacheStore) Remove(_ context.Context, key string) error {
	s.cache.Del([]byte(key))
	return nil
}

// RedisStore 远程缓存，key 带有 namespace
type RedisStore struct {
	client    redis.UniversalClient
	namespace string
}

// NewRedisStore xxx
func NewRedisStore(client redis.UniversalClient, namespace string) *RedisStore {
	return &RedisStore{client: client, namespace: namespace}
}

// Remove 从 redis 中删除
func (s *RedisStore) Remove(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, nsKey(s.namespace, key)).Err(); err != nil {
		return fmt.Errorf("clearqueue: redis del %q: %w", key, err)
	}
	return nil
}

// nsKey 获取 namespace 下的 key
func nsKey(ns string, key string) string {
	if ns != "" {
		return fmt.Sprintf("{%s}%s", ns, key)
	}
	return key
}

var (
	_ Store = StoreFunc(nil)
	_ Store = (*LRUStore[any])(nil)
	_ Store = (*GoCacheStore)(nil)
	_ Store = (*FastCacheStore)(nil)
	_ Store = (*RedisStore)(nil)
)
