package savequeue

import (
	"context"
	"errors"
	"sync/atomic"

	"go.uber.org/zap"
)

// WorkerState worker 状态
type WorkerState int32

const (
	StateRunning WorkerState = iota
	StateIdle
	StatePersisting
	StateStopping
	StateStopped
)

func (s WorkerState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateIdle:
		return "idle"
	case StatePersisting:
		return "persisting"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// worker 循环执行 Take -> Persist -> 通知清理
type worker[V any] struct {
	id    int
	pool  *WorkerPool[V]
	state atomic.Int32
}

func (w *worker[V]) setState(s WorkerState) {
	w.state.Store(int32(s))
}

func (w *worker[V]) State() WorkerState {
	return WorkerState(w.state.Load())
}

func (w *worker[V]) run(ctx context.Context) error {
	defer w.setState(StateStopped)
	w.setState(StateRunning)

	for {
		if w.pool.stopping.Load() {
			w.setState(StateStopping)
			return nil
		}
		w.setState(StateIdle)
		entry, err := w.pool.queue.Take(ctx)
		if err != nil {
			w.setState(StateStopping)
			// 关闭或取消等待都是正常的停止信号
			if errors.Is(err, ErrShutdown) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		w.setState(StatePersisting)
		w.consume(entry)
	}
}

// consume 保存一个 Entry，已经开始的保存不会因为停止而被中断
func (w *worker[V]) consume(entry *Entry[V]) {
	p := w.pool

	attempt := entry.nextAttempt()
	log := p.logger.With(zap.String("key", entry.Key), zap.Int("worker", w.id), zap.Int("attempt", attempt))
	log.Debug("saving")

	if err := p.persist(entry); err != nil {
		p.metrics.PersistFailures.Inc()
		log.Error("persist failed", zap.String("op", "persist"), zap.Error(err))
		// 重新入队时 key 仍处于保存中，其他 worker 不会提前取走
		p.handleFailure(entry, &PersistError{Key: entry.Key, Attempt: attempt, Err: err}, log)
		p.queue.Done(entry)
		return
	}

	entry.StopAccessing()
	p.metrics.Persisted.Inc()
	log.Debug("saved")

	// 先释放 key，清理时的 Pending 检查不会把这次保存算进去
	p.queue.Done(entry)
	if entry.ClearAfterSave && p.clear != nil {
		p.clear.ScheduleClear(entry.Key)
		p.metrics.Cleared.Inc()
	}
}
