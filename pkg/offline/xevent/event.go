package xevent

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Event 是宿主随请求下发的生命周期令牌。
//
// 引擎在后台启动的工作通过 WaitUntil 登记，宿主据此保证在这些工作结束前
// 不终止执行环境（例如优雅关闭时等待写缓存完成）。
type Event interface {
	// WaitUntil 登记一项必须在生命周期结束前完成的工作。
	WaitUntil(task *Task)
}

// Background 返回一个忽略所有登记的 Event，用于没有宿主的调用（测试、命令行）。
func Background() Event {
	return backgroundEvent{}
}

type backgroundEvent struct{}

func (backgroundEvent) WaitUntil(*Task) {}

// Tracker 是 Event 的宿主侧实现：跟踪所有登记的 Task，
// 并在 [Tracker.Wait] 中等待它们全部结束。
//
// 同一个 Tracker 可以被多个请求共享，所有方法并发安全。
type Tracker struct {
	wg      sync.WaitGroup
	pending atomic.Int64
	failed  atomic.Int64
	logger  *slog.Logger
	onError func(error)
}

// TrackerOption 配置 Tracker。
type TrackerOption func(*Tracker)

// WithLogger 设置记录后台失败的 Logger。传入 nil 将禁用日志。
func WithLogger(logger *slog.Logger) TrackerOption {
	return func(t *Tracker) {
		t.logger = logger
	}
}

// WithOnError 设置后台 Task 失败时的回调。
// 回调在跟踪 goroutine 中同步执行，应保持轻量。
func WithOnError(fn func(error)) TrackerOption {
	return func(t *Tracker) {
		t.onError = fn
	}
}

// NewTracker 创建 Tracker。
func NewTracker(opts ...TrackerOption) *Tracker {
	t := &Tracker{logger: slog.Default()}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

// WaitUntil 实现 Event。nil Task 被忽略。
func (t *Tracker) WaitUntil(task *Task) {
	if task == nil {
		return
	}
	t.wg.Add(1)
	t.pending.Add(1)
	go func() {
		defer t.wg.Done()
		defer t.pending.Add(-1)
		<-task.Done()
		if err := task.Err(); err != nil {
			t.failed.Add(1)
			if t.logger != nil {
				t.logger.Warn("background task failed", slog.Any("error", err))
			}
			if t.onError != nil {
				t.onError(err)
			}
		}
	}()
}

// Wait 等待所有已登记的 Task 完成，ctx 结束时提前返回 ctx.Err()。
func (t *Tracker) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending 返回尚未完成的 Task 数量。
func (t *Tracker) Pending() int64 {
	return t.pending.Load()
}

// Failed 返回累计失败的 Task 数量。
func (t *Tracker) Failed() int64 {
	return t.failed.Load()
}
