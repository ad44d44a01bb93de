package xevent

import (
	"context"
	"fmt"
	"sync"
)

// Task 表示一项已开始的异步工作，完成后可读取其错误。
// 零值不可用，必须通过 [Go]、[Resolved] 或 [NewTask] 创建。
type Task struct {
	done chan struct{}
	once sync.Once
	err  error
}

// ResolveFunc 完成一个由 [NewTask] 创建的 Task。
// 只有第一次调用生效，后续调用被忽略。
type ResolveFunc func(err error)

// NewTask 创建一个尚未完成的 Task 及其完成函数。
func NewTask() (*Task, ResolveFunc) {
	t := &Task{done: make(chan struct{})}
	return t, t.resolve
}

// Go 在新 goroutine 中执行 fn，返回跟踪其完成的 Task。
// fn 发生 panic 时 Task 以 ErrTaskPanic 完成，不会拖垮进程。
func Go(fn func() error) *Task {
	t, resolve := NewTask()
	if fn == nil {
		resolve(ErrNilFunc)
		return t
	}
	go func() {
		var err error
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %v", ErrTaskPanic, r)
			}
			resolve(err)
		}()
		err = fn()
	}()
	return t
}

// Resolved 返回一个已完成的 Task。
func Resolved(err error) *Task {
	t, resolve := NewTask()
	resolve(err)
	return t
}

func (t *Task) resolve(err error) {
	t.once.Do(func() {
		t.err = err
		close(t.done)
	})
}

// Done 返回在 Task 完成时关闭的通道。
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Err 返回 Task 的结果错误。Task 未完成时返回 nil。
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait 等待 Task 完成并返回其错误。
// ctx 先结束时返回 ctx.Err()，Task 本身继续执行。
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
