package backend

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/magic-lib/go-plat-startupcfg/startupcfg"
	"github.com/magic-lib/go-plat-utils/conv"
	"github.com/magic-lib/go-plat-utils/logs"
)

var (
	defaultPingTimeout = 3 * time.Second

	poolMinIdleConns = 4
	poolMaxConnAge   = 3 * time.Hour
	poolIdleTimeout  = 5 * time.Minute
)

// RedisPersister 每个 key 保存为一个 redis string
type RedisPersister[V any] struct {
	client    *redis.Client
	namespace string
	ttl       time.Duration // 0 表示不过期
}

// NewRedisPersister 使用已有的 redis 连接
func NewRedisPersister[V any](client *redis.Client, namespace string, ttl time.Duration) (*RedisPersister[V], error) {
	if client == nil {
		return nil, errors.New("backend: redis client is required")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &RedisPersister[V]{client: client, namespace: namespace, ttl: ttl}, nil
}

// NewRedisPersisterFromConfig 根据启动配置建立 redis 连接，连不上时返回错误
func NewRedisPersisterFromConfig[V any](redisCfg *startupcfg.RedisConfig, namespace string, ttl time.Duration) (*RedisPersister[V], error) {
	if redisCfg == nil {
		return nil, errors.New("backend: redis config is required")
	}
	client := redis.NewClient(redisOptions(redisCfg))
	if err := ping(client, redisCfg.PingTimeout); err != nil {
		logs.DefaultLogger().Error("[redis-persister] ping failed:", redisCfg.ServerAddress(), err.Error())
		_ = client.Close()
		return nil, fmt.Errorf("backend: redis connect %s: %w", redisCfg.ServerAddress(), err)
	}
	return NewRedisPersister[V](client, namespace, ttl)
}

// Persist 写入 redis
func (p *RedisPersister[V]) Persist(ctx context.Context, key string, payload V) error {
	if err := p.client.Set(ctx, getNsKey(p.namespace, key), conv.String(payload), p.ttl).Err(); err != nil {
		return fmt.Errorf("backend: redis save %q: %w", key, err)
	}
	return nil
}

// Load 不存在时返回 false
func (p *RedisPersister[V]) Load(ctx context.Context, key string) (V, bool, error) {
	var zero V
	dataStr, err := p.client.Get(ctx, getNsKey(p.namespace, key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return zero, false, nil
		}
		return zero, false, fmt.Errorf("backend: redis load %q: %w", key, err)
	}
	val, err := decode[V](dataStr)
	if err != nil {
		return zero, false, err
	}
	return val, true, nil
}

// Close xxx
func (p *RedisPersister[V]) Close() error {
	return p.client.Close()
}

// getNsKey 获取namespace下的key，规范化
func getNsKey(ns string, key string) string {
	if ns != "" {
		return fmt.Sprintf("{%s}%s", ns, key)
	}
	return key
}

func ping(client *redis.Client, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = defaultPingTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return client.Ping(ctx).Err()
}

// redisOptions 启动配置转换为连接参数
func redisOptions(redisCfg *startupcfg.RedisConfig) *redis.Options {
	opt := &redis.Options{
		Network:      redisCfg.ProtocolName(),
		Addr:         redisCfg.ServerAddress(),
		Username:     redisCfg.User(),
		Password:     redisCfg.Password(),
		DB:           int(redisCfg.Database),
		PoolFIFO:     true,
		MinIdleConns: poolMinIdleConns,
		MaxConnAge:   poolMaxConnAge,
		IdleTimeout:  poolIdleTimeout,
	}
	if redisCfg.TLS {
		host, _, err := net.SplitHostPort(redisCfg.ServerAddress())
		if err != nil {
			host = redisCfg.ServerAddress()
		}
		opt.TLSConfig = &tls.Config{ServerName: host}
	}
	return opt
}
