package savequeue

import (
	"context"
)

// Persister 持久化后端，由 worker 同步调用
type Persister[V any] interface {
	Persist(ctx context.Context, key string, payload V) error
}

// PersistFunc 函数形式的 Persister
type PersistFunc[V any] func(ctx context.Context, key string, payload V) error

// Persist xxx
func (f PersistFunc[V]) Persist(ctx context.Context, key string, payload V) error {
	return f(ctx, key, payload)
}

// ClearNotifier 保存成功后通知清理缓存，不关心返回
type ClearNotifier interface {
	ScheduleClear(key string)
}

// ClearFunc 函数形式的 ClearNotifier
type ClearFunc func(key string)

// ScheduleClear xxx
func (f ClearFunc) ScheduleClear(key string) {
	f(key)
}

// DeadLetterSink 超过重试次数仍然失败的 Entry 放到这里，供人工排查
type DeadLetterSink[V any] interface {
	DeadLetter(entry *Entry[V], cause error) error
}

var (
	_ Persister[any] = PersistFunc[any](nil)
	_ ClearNotifier  = ClearFunc(nil)
)
