package savequeue

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	defaultCapacity         = 1000
	defaultWorkers          = 2
	defaultRetryLimit       = 2
	defaultPersistTimeout   = 30 * time.Second
	defaultMetricsNamespace = "savequeue"
)

// Config 保存队列配置，启动时读取一次
type Config struct {
	// 队列容量 C，0 使用默认值，负数非法
	Capacity int `json:"capacity" env:"SAVE_QUEUE_CAPACITY" envDefault:"1000"`
	// worker 数量，0 使用默认值
	Workers int `json:"workers" env:"SAVE_QUEUE_WORKERS" envDefault:"2"`
	// 失败后最多重新入队次数，0 表示失败直接进入死信
	RetryLimit int `json:"retry_limit" env:"SAVE_QUEUE_RETRY_LIMIT" envDefault:"2"`
	// 单次 Persist 超时，0 表示不限制
	PersistTimeout time.Duration `json:"persist_timeout" env:"SAVE_QUEUE_PERSIST_TIMEOUT" envDefault:"30s"`
	// 停止时缓冲区中剩余的 Entry 只记录日志后丢弃，默认转入死信
	DiscardOnStop    bool   `json:"discard_on_stop" env:"SAVE_QUEUE_DISCARD_ON_STOP" envDefault:"false"`
	MetricsNamespace string `json:"metrics_namespace" env:"SAVE_QUEUE_METRICS_NAMESPACE" envDefault:"savequeue"`
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		Capacity:         defaultCapacity,
		Workers:          defaultWorkers,
		RetryLimit:       defaultRetryLimit,
		PersistTimeout:   defaultPersistTimeout,
		MetricsNamespace: defaultMetricsNamespace,
	}
}

// LoadConfigFromEnv 从环境变量读取配置
func LoadConfigFromEnv() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("savequeue: parse env config: %w", err)
	}
	cfg = cfg.withDefaults()
	return cfg, cfg.Validate()
}

// withDefaults 未设置的字段使用默认值，结构体和环境变量两种方式一致
func (c Config) withDefaults() Config {
	if c.Capacity == 0 {
		c.Capacity = defaultCapacity
	}
	if c.Workers == 0 {
		c.Workers = defaultWorkers
	}
	if c.RetryLimit < 0 {
		c.RetryLimit = 0
	}
	if c.PersistTimeout < 0 {
		c.PersistTimeout = 0
	}
	if c.MetricsNamespace == "" {
		c.MetricsNamespace = defaultMetricsNamespace
	}
	return c
}

// Validate 检查配置是否合法
func (c Config) Validate() error {
	if c.Capacity < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidCapacity, c.Capacity)
	}
	if c.Workers < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidWorkers, c.Workers)
	}
	return nil
}
