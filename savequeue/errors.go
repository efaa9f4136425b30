package savequeue

import (
	"errors"
	"fmt"
)

var (
	// ErrCapacityExceeded 队列已满，提交被拒绝
	ErrCapacityExceeded = errors.New("savequeue: capacity exceeded")
	// ErrShutdown 队列已关闭
	ErrShutdown = errors.New("savequeue: queue is shut down")
	// ErrSuperseded 重试时队列中已经存在同一个 key 更新的 Entry
	ErrSuperseded = errors.New("savequeue: superseded by a newer entry")
	// ErrNilEntry 提交了空的 Entry
	ErrNilEntry = errors.New("savequeue: nil entry")
	// ErrInvalidCapacity 队列容量必须 >= 1
	ErrInvalidCapacity = errors.New("savequeue: capacity must be at least 1")
	// ErrInvalidWorkers worker 数量必须 >= 1
	ErrInvalidWorkers = errors.New("savequeue: workers must be at least 1")
	// ErrPersistPanic Persist 发生 panic，按保存失败处理
	ErrPersistPanic = errors.New("savequeue: persister panicked")
	// ErrAlreadyStarted 重复启动 worker 池
	ErrAlreadyStarted = errors.New("savequeue: worker pool already started")
)

// PersistError 持久化失败，携带 key 和第几次尝试
type PersistError struct {
	Key     string
	Attempt int
	Err     error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("savequeue: persist %q (attempt %d): %v", e.Key, e.Attempt, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}
