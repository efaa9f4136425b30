package savequeue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/magic-lib/go-plat-utils/goroutines"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// WorkerPool 固定数量的 worker 共同消费一个 SaveQueue
type WorkerPool[V any] struct {
	cfg        Config
	queue      *SaveQueue[V]
	persister  Persister[V]
	clear      ClearNotifier
	deadLetter DeadLetterSink[V]
	logger     *zap.Logger
	metrics    *Metrics

	workers []*worker[V]
	group   *errgroup.Group
	cancel  context.CancelFunc

	mu       sync.Mutex
	started  bool
	stopped  bool
	stopErr  error
	stopping atomic.Bool
}

// NewWorkerPool 创建 worker 池，需要调用 Start 启动
func NewWorkerPool[V any](queue *SaveQueue[V], persister Persister[V], cfg Config, opts ...Option[V]) (*WorkerPool[V], error) {
	if queue == nil {
		return nil, errors.New("savequeue: queue is required")
	}
	if persister == nil {
		return nil, errors.New("savequeue: persister is required")
	}
	cfg = cfg.withDefaults()
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidWorkers, cfg.Workers)
	}
	o := newOptions(opts...)
	p := &WorkerPool[V]{
		cfg:        cfg,
		queue:      queue,
		persister:  persister,
		clear:      o.clear,
		deadLetter: o.deadLetter,
		logger:     o.logger,
		metrics:    o.metrics,
	}
	if p.metrics == nil {
		p.metrics = queue.metrics
	}
	p.workers = make([]*worker[V], cfg.Workers)
	for i := range p.workers {
		p.workers[i] = &worker[V]{id: i, pool: p}
	}
	return p, nil
}

// Start 启动所有 worker
func (p *WorkerPool[V]) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return ErrShutdown
	}
	if p.started {
		return ErrAlreadyStarted
	}
	p.started = true

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	group, ctx := errgroup.WithContext(ctx)
	p.group = group
	lo.ForEach(p.workers, func(w *worker[V], _ int) {
		group.Go(func() error {
			return w.run(ctx)
		})
	})
	p.logger.Debug("worker pool started", zap.Int("workers", len(p.workers)))
	return nil
}

// Stop 通知所有 worker 停止，并等待正在进行的保存完成后返回
// 返回后不会再有新的 Persist 调用开始
func (p *WorkerPool[V]) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return p.stopErr
	}
	p.stopped = true
	p.stopping.Store(true)
	p.queue.Shutdown()
	if p.cancel != nil {
		p.cancel()
	}
	if p.group != nil {
		p.stopErr = p.group.Wait()
	}
	if p.stopErr != nil {
		p.logger.Error("worker exited with error", zap.String("op", "stop"), zap.Error(p.stopErr))
	}
	p.drain()
	p.logger.Debug("worker pool stopped")
	return p.stopErr
}

// States 返回每个 worker 当前的状态
func (p *WorkerPool[V]) States() []WorkerState {
	return lo.Map(p.workers, func(w *worker[V], _ int) WorkerState {
		return w.State()
	})
}

// Size worker 数量
func (p *WorkerPool[V]) Size() int {
	return len(p.workers)
}

func (p *WorkerPool[V]) persist(entry *Entry[V]) error {
	// 停止不会取消正在进行的保存，只受超时限制
	ctx := context.Background()
	if p.cfg.PersistTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.PersistTimeout)
		defer cancel()
	}
	// GoSync 会 recover，panic 时 err 保持 ErrPersistPanic
	err := ErrPersistPanic
	goroutines.GoSync(func(params ...any) {
		err = p.persister.Persist(ctx, entry.Key, entry.Payload)
	})
	return err
}

// handleFailure 未超过重试次数时重新入队，否则转入死信
func (p *WorkerPool[V]) handleFailure(entry *Entry[V], cause error, log *zap.Logger) {
	if entry.Attempts() <= p.cfg.RetryLimit {
		err := p.queue.Requeue(entry)
		switch {
		case err == nil:
			p.metrics.Retried.Inc()
			log.Warn("requeued after persist failure", zap.String("op", "requeue"))
			return
		case errors.Is(err, ErrSuperseded):
			p.metrics.Superseded.Inc()
			log.Warn("retry superseded by newer entry", zap.String("op", "requeue"))
			return
		default:
			log.Warn("requeue failed", zap.String("op", "requeue"), zap.Error(err))
		}
	}
	p.sendToDeadLetter(entry, cause, log)
}

func (p *WorkerPool[V]) sendToDeadLetter(entry *Entry[V], cause error, log *zap.Logger) {
	p.metrics.DeadLettered.Inc()
	if p.deadLetter == nil {
		log.Error("entry dropped, no dead-letter sink configured", zap.String("op", "dead_letter"), zap.Error(cause))
		return
	}
	if err := p.deadLetter.DeadLetter(entry, cause); err != nil {
		log.Error("dead-letter sink failed", zap.String("op", "dead_letter"), zap.NamedError("cause", cause), zap.Error(err))
		return
	}
	log.Error("entry dead-lettered", zap.String("op", "dead_letter"), zap.Error(cause))
}

// drain 处理停止时缓冲区中剩余的 Entry
func (p *WorkerPool[V]) drain() {
	remaining := p.queue.Drain()
	if len(remaining) == 0 {
		return
	}
	if p.cfg.DiscardOnStop {
		p.logger.Warn("discarding buffered entries at stop",
			zap.String("op", "stop"),
			zap.Int("count", len(remaining)),
			zap.Strings("keys", lo.Map(remaining, func(e *Entry[V], _ int) string { return e.Key })))
		return
	}
	lo.ForEach(remaining, func(entry *Entry[V], _ int) {
		p.sendToDeadLetter(entry, ErrShutdown, p.logger.With(zap.String("key", entry.Key)))
	})
}
