package clearqueue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/magic-lib/go-plat-savequeue/savequeue"
	"github.com/magic-lib/go-plat-utils/goroutines"
	"go.uber.org/zap"
)

const (
	defaultCapacity      = 1000
	defaultRemoveTimeout = 5 * time.Second
)

// Config 清理队列配置
type Config struct {
	Capacity      int                         `json:"capacity"`       // 缓冲的 key 数量
	RemoveTimeout time.Duration               `json:"remove_timeout"` // 单次移除超时
	Pending       func(key string) bool       `json:"-"`              // 返回 true 表示还有未保存的数据，跳过清理
	OnRemoved     func(key string, err error) `json:"-"`              // 每次移除之后回调
	Logger        *zap.Logger                 `json:"-"`
}

// Queue 保存成功之后异步清理缓存，ScheduleClear 从不阻塞
type Queue struct {
	store  Store
	cfg    Config
	logger *zap.Logger
	keys   chan string
	done   chan struct{}
	mu     sync.RWMutex
	closed bool
}

// NewQueue 新建清理队列并启动后台清理
func NewQueue(store Store, cfg *Config) (*Queue, error) {
	if store == nil {
		return nil, errors.New("clearqueue: store is required")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = defaultCapacity
	}
	if cfg.RemoveTimeout <= 0 {
		cfg.RemoveTimeout = defaultRemoveTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	q := &Queue{
		store:  store,
		cfg:    *cfg,
		logger: logger,
		keys:   make(chan string, cfg.Capacity),
		done:   make(chan struct{}),
	}
	goroutines.GoAsync(func(params ...any) {
		q.run()
	}, nil)
	return q, nil
}

// ScheduleClear 保存成功后调用，队列满时丢弃并记录日志
func (q *Queue) ScheduleClear(key string) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.logger.Warn("clear queue stopped, clear dropped", zap.String("op", "clear"), zap.String("key", key))
		return
	}
	select {
	case q.keys <- key:
	default:
		q.logger.Warn("clear queue too small, clear dropped",
			zap.String("op", "clear"),
			zap.String("key", key),
			zap.Int("capacity", q.cfg.Capacity))
	}
}

// ScheduleForClear 同 ScheduleClear
func (q *Queue) ScheduleForClear(key string) {
	q.ScheduleClear(key)
}

// Len 等待清理的数量
func (q *Queue) Len() int {
	return len(q.keys)
}

// Stop 不再接收新的 key，处理完已经提交的之后返回
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.keys)
	}
	q.mu.Unlock()
	<-q.done
}

func (q *Queue) run() {
	defer close(q.done)
	for key := range q.keys {
		q.clearOne(key)
	}
}

func (q *Queue) clearOne(key string) {
	log := q.logger.With(zap.String("op", "clear"), zap.String("key", key))
	// 保存之后又有新的数据提交，缓存还要继续使用
	if q.cfg.Pending != nil && q.cfg.Pending(key) {
		log.Debug("clear skipped, newer save pending")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), q.cfg.RemoveTimeout)
	defer cancel()
	err := q.store.Remove(ctx, key)
	if err != nil {
		log.Warn("clear failed", zap.Error(err))
	} else {
		log.Debug("cleared")
	}
	if q.cfg.OnRemoved != nil {
		q.cfg.OnRemoved(key, err)
	}
}

var _ savequeue.ClearNotifier = (*Queue)(nil)
