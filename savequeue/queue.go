package savequeue

import (
	"container/list"
	"context"
	"errors"
	"sync"

	"github.com/samber/lo"
)

// SaveQueue 有界的 FIFO 保存队列，多生产者多消费者并发安全
// 生产者提交从不阻塞，队列满时直接拒绝；消费者 Take 在队列为空时挂起
// 同一个 key 同一时刻最多只有一个 Entry 处于保存中
type SaveQueue[V any] struct {
	mu       sync.Mutex
	cond     *sync.Cond
	items    *list.List          // 按提交顺序排列的 *Entry[V]
	keys     map[string]int      // key 在缓冲区中出现的次数
	inFlight map[string]struct{} // 正在保存的 key
	capacity int
	closed   bool
	metrics  *Metrics
}

// NewSaveQueue 创建容量为 capacity 的队列，metrics 为空时使用未注册的指标
func NewSaveQueue[V any](capacity int, metrics *Metrics) (*SaveQueue[V], error) {
	if capacity < 1 {
		return nil, ErrInvalidCapacity
	}
	if metrics == nil {
		metrics, _ = NewMetrics("", nil)
	}
	q := &SaveQueue[V]{
		items:    list.New(),
		keys:     make(map[string]int),
		inFlight: make(map[string]struct{}),
		capacity: capacity,
		metrics:  metrics,
	}
	q.cond = sync.NewCond(&q.mu)
	return q, nil
}

// Submit 提交一个 Entry，从不阻塞，队列已满或已关闭时返回 false
// 丢弃由调用方记录日志
func (q *SaveQueue[V]) Submit(entry *Entry[V]) bool {
	return q.TrySubmit(entry) == nil
}

// TrySubmit 同 Submit，返回具体原因
func (q *SaveQueue[V]) TrySubmit(entry *Entry[V]) error {
	if entry == nil {
		return ErrNilEntry
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrShutdown
	}
	if q.items.Len() >= q.capacity {
		q.metrics.Rejected.Inc()
		return ErrCapacityExceeded
	}
	// 每次提交都有完整的重试次数，Requeue 不经过这里
	entry.resetAttempts()
	q.pushLocked(entry)
	q.metrics.Submitted.Inc()
	return nil
}

// SubmitBatch 逐个提交，队列满后停止接收，返回接收和拒绝的数量
// 每个被接收的 Entry 入队后立即对消费者可见
func (q *SaveQueue[V]) SubmitBatch(entries []*Entry[V]) (accepted int, rejected int) {
	accepted, dropped, _ := q.TrySubmitBatch(entries)
	return accepted, len(dropped)
}

// TrySubmitBatch 同 SubmitBatch，返回被拒绝的 Entry 和拒绝原因
// 空 Entry 不会中断批量提交，队列满或已关闭时剩余的全部拒绝
func (q *SaveQueue[V]) TrySubmitBatch(entries []*Entry[V]) (accepted int, rejected []*Entry[V], err error) {
	for i, entry := range entries {
		submitErr := q.TrySubmit(entry)
		switch {
		case submitErr == nil:
			accepted++
		case errors.Is(submitErr, ErrNilEntry):
			rejected = append(rejected, entry)
			if err == nil {
				err = submitErr
			}
		default:
			rest := entries[i:]
			if errors.Is(submitErr, ErrCapacityExceeded) && len(rest) > 1 {
				q.metrics.Rejected.Add(float64(len(rest) - 1))
			}
			return accepted, append(rejected, rest...), submitErr
		}
	}
	return accepted, rejected, err
}

// Contains 检查缓冲区中是否存在该 key 的 Entry
// 只是一个快照，返回之后状态随时可能变化，不能作为正确性保证
func (q *SaveQueue[V]) Contains(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.keys[key] > 0
}

// InFlight 该 key 是否正在被某个 worker 保存
func (q *SaveQueue[V]) InFlight(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.inFlight[key]
	return ok
}

// InFlightLen 正在保存的 key 数量
func (q *SaveQueue[V]) InFlightLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inFlight)
}

// Len 当前缓冲的 Entry 数量
func (q *SaveQueue[V]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Cap 队列容量
func (q *SaveQueue[V]) Cap() int {
	return q.capacity
}

// Keys 按提交顺序返回缓冲区中的 key
func (q *SaveQueue[V]) Keys() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return lo.Map(q.snapshotLocked(), func(item *Entry[V], _ int) string {
		return item.Key
	})
}

// Take 取出最早的、key 不在保存中的 Entry，并将 key 标记为保存中
// 队列为空时挂起，直到有可用的 Entry、队列关闭或 ctx 结束
// 调用方处理完之后必须调用 Done
func (q *SaveQueue[V]) Take(ctx context.Context) (*Entry[V], error) {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		q.cond.Broadcast()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if q.closed {
			return nil, ErrShutdown
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry := q.popEligibleLocked(); entry != nil {
			return entry, nil
		}
		q.cond.Wait()
	}
}

// Done 释放 key 的保存中标记，同 key 的后续 Entry 可以被取出
func (q *SaveQueue[V]) Done(entry *Entry[V]) {
	if entry == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inFlight, entry.Key)
	q.metrics.InFlight.Set(float64(len(q.inFlight)))
	q.cond.Broadcast()
}

// Requeue 保存失败后重新入队，调用时 key 仍处于保存中
// 缓冲区中已经有同 key 的 Entry 时返回 ErrSuperseded，较新的快照会覆盖这次的数据
func (q *SaveQueue[V]) Requeue(entry *Entry[V]) error {
	if entry == nil {
		return ErrNilEntry
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrShutdown
	}
	if q.keys[entry.Key] > 0 {
		return ErrSuperseded
	}
	if q.items.Len() >= q.capacity {
		q.metrics.Rejected.Inc()
		return ErrCapacityExceeded
	}
	q.pushLocked(entry)
	return nil
}

// Shutdown 关闭队列，唤醒所有挂起在 Take 上的 worker，可重复调用
func (q *SaveQueue[V]) Shutdown() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// Closed 队列是否已关闭
func (q *SaveQueue[V]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Drain 取出缓冲区中剩余的全部 Entry
func (q *SaveQueue[V]) Drain() []*Entry[V] {
	q.mu.Lock()
	defer q.mu.Unlock()
	remaining := q.snapshotLocked()
	q.items.Init()
	clear(q.keys)
	q.metrics.QueueLength.Set(0)
	return remaining
}

func (q *SaveQueue[V]) pushLocked(entry *Entry[V]) {
	q.items.PushBack(entry)
	q.keys[entry.Key]++
	q.metrics.QueueLength.Set(float64(q.items.Len()))
	q.cond.Broadcast()
}

// popEligibleLocked 跳过 key 正在保存中的 Entry，保持其余顺序不变
func (q *SaveQueue[V]) popEligibleLocked() *Entry[V] {
	for ele := q.items.Front(); ele != nil; ele = ele.Next() {
		entry := ele.Value.(*Entry[V])
		if _, busy := q.inFlight[entry.Key]; busy {
			continue
		}
		q.items.Remove(ele)
		if q.keys[entry.Key]--; q.keys[entry.Key] <= 0 {
			delete(q.keys, entry.Key)
		}
		q.inFlight[entry.Key] = struct{}{}
		q.metrics.QueueLength.Set(float64(q.items.Len()))
		q.metrics.InFlight.Set(float64(len(q.inFlight)))
		return entry
	}
	return nil
}

func (q *SaveQueue[V]) snapshotLocked() []*Entry[V] {
	out := make([]*Entry[V], 0, q.items.Len())
	for ele := q.items.Front(); ele != nil; ele = ele.Next() {
		out = append(out, ele.Value.(*Entry[V]))
	}
	return out
}
