package xstrategy

import (
	"context"
	"errors"
	"sync"
)

// QuotaCallback 在存储配额不足时被调用，通常用于删除缓存释放空间。
type QuotaCallback func(ctx context.Context) error

// QuotaCallbacks 是配额回收回调的注册表。
// 策略与过期插件共享同一个注册表：插件注册回调，策略在写入遇到
// xblob.ErrQuotaExceeded 时按注册顺序逐个执行。
type QuotaCallbacks struct {
	mu        sync.Mutex
	callbacks []QuotaCallback
}

// NewQuotaCallbacks 创建空注册表。
func NewQuotaCallbacks() *QuotaCallbacks {
	return &QuotaCallbacks{}
}

// Register 追加回调。nil 回调被忽略。
func (q *QuotaCallbacks) Register(cb QuotaCallback) {
	if cb == nil {
		return
	}
	q.mu.Lock()
	q.callbacks = append(q.callbacks, cb)
	q.mu.Unlock()
}

// Len 返回已注册回调数量。
func (q *QuotaCallbacks) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.callbacks)
}

// Run 按注册顺序执行全部回调。某个回调失败不影响后续回调，错误合并返回。
func (q *QuotaCallbacks) Run(ctx context.Context) error {
	if q == nil {
		return nil
	}
	q.mu.Lock()
	callbacks := append([]QuotaCallback(nil), q.callbacks...)
	q.mu.Unlock()

	var errs []error
	for _, cb := range callbacks {
		if err := cb(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
