package xexpire

import (
	"log/slog"
	"time"

	"github.com/omeyang/xoffline/pkg/offline/xstrategy"
	"github.com/omeyang/xoffline/pkg/storage/xblob"
)

// Policy 是一个缓存分区的过期策略，至少设置一项。
type Policy struct {
	// MaxEntries 最多保留的条目数，0 表示不限制。超出时淘汰最久未使用的条目。
	MaxEntries int

	// MaxAge 条目自最近一次使用起的最长存活时间，0 表示不限制。
	MaxAge time.Duration
}

// Validate 校验策略。
func (p Policy) Validate() error {
	if p.MaxEntries < 0 || p.MaxAge < 0 {
		return ErrMaxEntriesOrAgeRequired
	}
	if p.MaxEntries == 0 && p.MaxAge == 0 {
		return ErrMaxEntriesOrAgeRequired
	}
	return nil
}

// Option 管理器与插件的配置选项。
type Option func(*options)

type options struct {
	now          func() time.Time
	logger       *slog.Logger
	matchOptions xblob.MatchOptions
	quota        *xstrategy.QuotaCallbacks
}

func defaultOptions() *options {
	return &options{
		now:    time.Now,
		logger: slog.Default(),
	}
}

// WithClock 设置时钟，测试中用于模拟时间流逝。
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger 设置日志器。nil 表示不记录日志。
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMatchOptions 设置删除响应时的匹配选项。
func WithMatchOptions(opts xblob.MatchOptions) Option {
	return func(o *options) {
		o.matchOptions = opts
	}
}

// PurgeOnQuotaError 让插件在存储配额不足时删除它管理的全部缓存及时间戳。
// 仅对 [NewPlugin] 生效。
func PurgeOnQuotaError(q *xstrategy.QuotaCallbacks) Option {
	return func(o *options) {
		o.quota = q
	}
}
