package savequeue

import (
	"errors"
	"fmt"

	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Service 保存队列对外入口，创建队列和 worker 池并启动
type Service[V any] struct {
	cfg     Config
	queue   *SaveQueue[V]
	pool    *WorkerPool[V]
	logger  *zap.Logger
	metrics *Metrics
}

// NewService 新建并启动保存服务
func NewService[V any](cfg Config, persister Persister[V], opts ...Option[V]) (*Service[V], error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := newOptions(opts...)
	metrics := o.metrics
	if metrics == nil {
		var err error
		metrics, err = NewMetrics(cfg.MetricsNamespace, o.registerer)
		if err != nil {
			return nil, fmt.Errorf("savequeue: register metrics: %w", err)
		}
	}
	queue, err := NewSaveQueue[V](cfg.Capacity, metrics)
	if err != nil {
		return nil, err
	}
	opts = append(opts, WithMetrics[V](metrics))
	pool, err := NewWorkerPool(queue, persister, cfg, opts...)
	if err != nil {
		return nil, err
	}
	if err = pool.Start(); err != nil {
		return nil, err
	}
	return &Service[V]{
		cfg:     cfg,
		queue:   queue,
		pool:    pool,
		logger:  o.logger,
		metrics: metrics,
	}, nil
}

// ScheduleForSave 提交一个 Entry 等待保存，队列满时记录日志并返回 false
func (s *Service[V]) ScheduleForSave(entry *Entry[V]) bool {
	if entry == nil {
		return false
	}
	s.logger.Debug("scheduling for save", zap.String("key", entry.Key))
	return s.submit(entry, "submit")
}

// ScheduleNewPlayer 新玩家第一次保存
func (s *Service[V]) ScheduleNewPlayer(entry *Entry[V]) bool {
	if entry == nil {
		return false
	}
	s.logger.Debug("scheduling new player", zap.String("key", entry.Key))
	return s.submit(entry, "submit")
}

// ScheduleForSaveBatch 批量提交，返回接收和拒绝的数量，被拒绝的 key 记录日志
func (s *Service[V]) ScheduleForSaveBatch(entries []*Entry[V]) (accepted int, rejected int) {
	s.logger.Debug("scheduling for save", zap.Strings("keys", entryKeys(entries)))
	accepted, dropped, err := s.queue.TrySubmitBatch(entries)
	if len(dropped) == 0 {
		return accepted, 0
	}
	msg := "entries not scheduled"
	if errors.Is(err, ErrCapacityExceeded) {
		msg = "save queue too small, entries dropped"
	}
	s.logger.Warn(msg,
		zap.String("op", "submit_batch"),
		zap.Strings("keys", entryKeys(dropped)),
		zap.Int("capacity", s.cfg.Capacity),
		zap.Int("accepted", accepted),
		zap.Int("rejected", len(dropped)),
		zap.Error(err))
	return accepted, len(dropped)
}

// Contains 队列中是否有该 key 等待保存，只是快照
func (s *Service[V]) Contains(key string) bool {
	return s.queue.Contains(key)
}

// Pending 该 key 是否有尚未完成的保存，包括正在保存中的
func (s *Service[V]) Pending(key string) bool {
	return s.queue.Contains(key) || s.queue.InFlight(key)
}

// Queue xxx
func (s *Service[V]) Queue() *SaveQueue[V] {
	return s.queue
}

// Pool xxx
func (s *Service[V]) Pool() *WorkerPool[V] {
	return s.pool
}

// Metrics xxx
func (s *Service[V]) Metrics() *Metrics {
	return s.metrics
}

// Stop 停止所有 worker，等待正在进行的保存完成
func (s *Service[V]) Stop() error {
	return s.pool.Stop()
}

func (s *Service[V]) submit(entry *Entry[V], op string) bool {
	err := s.queue.TrySubmit(entry)
	if err == nil {
		return true
	}
	if errors.Is(err, ErrCapacityExceeded) {
		s.logger.Warn("save queue too small, entry dropped",
			zap.String("op", op),
			zap.String("key", entry.Key),
			zap.Int("capacity", s.cfg.Capacity),
			zap.Error(err))
		return false
	}
	s.logger.Warn("entry not scheduled", zap.String("op", op), zap.String("key", entry.Key), zap.Error(err))
	return false
}

// entryKeys 跳过空 Entry
func entryKeys[V any](entries []*Entry[V]) []string {
	return lo.FilterMap(entries, func(e *Entry[V], _ int) (string, bool) {
		if e == nil {
			return "", false
		}
		return e.Key, true
	})
}
