package savequeue

import (
	"sync/atomic"
)

// Entry 待保存的单元，一个玩家的可变状态及其标识
// 提交之后 Payload 归队列所有，同一时刻只会有一个 worker 读取它
type Entry[V any] struct {
	Key            string // 玩家标识，同一个 key 可以在队列中出现多次
	Payload        V      // 需要持久化的状态快照
	ClearAfterSave bool   // 保存成功后是否通知清理缓存

	accessed atomic.Bool  // 是否仍被其他地方使用
	attempts atomic.Int32 // 本次提交以来尝试保存的次数
}

// NewEntry 新建一个处于使用中的 Entry
func NewEntry[V any](key string, payload V, clearAfterSave bool) *Entry[V] {
	e := &Entry[V]{
		Key:            key,
		Payload:        payload,
		ClearAfterSave: clearAfterSave,
	}
	e.accessed.Store(true)
	return e
}

// Access 标记为使用中
func (e *Entry[V]) Access() {
	e.accessed.Store(true)
}

// StopAccessing 保存成功后由 worker 调用，表示可以安全地清理缓存
func (e *Entry[V]) StopAccessing() {
	e.accessed.Store(false)
}

// IsAccessed xxx
func (e *Entry[V]) IsAccessed() bool {
	return e.accessed.Load()
}

// Attempts 返回本次提交以来调用 Persist 的次数，重新提交时归零
func (e *Entry[V]) Attempts() int {
	return int(e.attempts.Load())
}

func (e *Entry[V]) resetAttempts() {
	e.attempts.Store(0)
}

func (e *Entry[V]) nextAttempt() int {
	return int(e.attempts.Add(1))
}
