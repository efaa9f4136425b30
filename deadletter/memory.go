package deadletter

import (
	"errors"
	"slices"
	"time"

	"github.com/magic-lib/go-plat-savequeue/savequeue"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/samber/lo"
)

// Record 一条死信
type Record[V any] struct {
	Entry    *savequeue.Entry[V]
	Cause    error
	Attempts int
	Time     time.Time
}

// MemorySink 内存死信，同一个 key 只保留最新的一条
type MemorySink[V any] struct {
	records cmap.ConcurrentMap[string, Record[V]]
}

// NewMemorySink xxx
func NewMemorySink[V any]() *MemorySink[V] {
	return &MemorySink[V]{
		records: cmap.New[Record[V]](),
	}
}

// DeadLetter 记录保存失败的 Entry
func (s *MemorySink[V]) DeadLetter(entry *savequeue.Entry[V], cause error) error {
	if entry == nil {
		return savequeue.ErrNilEntry
	}
	s.records.Set(entry.Key, Record[V]{
		Entry:    entry,
		Cause:    cause,
		Attempts: entry.Attempts(),
		Time:     time.Now(),
	})
	return nil
}

// Get 获取 key 对应的死信
func (s *MemorySink[V]) Get(key string) (Record[V], bool) {
	return s.records.Get(key)
}

// Keys 按 key 排序返回
func (s *MemorySink[V]) Keys() []string {
	keys := s.records.Keys()
	slices.Sort(keys)
	return keys
}

// List 按 key 排序返回所有死信
func (s *MemorySink[V]) List() []Record[V] {
	return lo.FilterMap(s.Keys(), func(key string, _ int) (Record[V], bool) {
		return s.records.Get(key)
	})
}

// Len xxx
func (s *MemorySink[V]) Len() int {
	return s.records.Count()
}

// Replay 后端恢复后重新提交，提交成功的从死信中移除
// 队列关闭后停止，返回成功提交的数量
func (s *MemorySink[V]) Replay(submit func(*savequeue.Entry[V]) error) (int, error) {
	replayed := 0
	for _, key := range s.Keys() {
		record, ok := s.records.Get(key)
		if !ok {
			continue
		}
		if err := submit(record.Entry); err != nil {
			if errors.Is(err, savequeue.ErrShutdown) {
				return replayed, err
			}
			continue
		}
		s.records.RemoveCb(key, func(_ string, v Record[V], exists bool) bool {
			return exists && v.Entry == record.Entry
		})
		replayed++
	}
	return replayed, nil
}

var _ savequeue.DeadLetterSink[any] = (*MemorySink[any])(nil)
