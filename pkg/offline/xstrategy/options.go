package xstrategy

import (
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/omeyang/xoffline/pkg/storage/xblob"
)

// DefaultCacheName 未指定分区名时使用的运行时缓存名。
const DefaultCacheName = "xoffline-runtime"

// Option 策略配置选项。
type Option func(*options)

type options struct {
	cacheName      string
	plugins        []Plugin
	matchOptions   xblob.MatchOptions
	quota          *QuotaCallbacks
	logger         *slog.Logger
	tracerProvider trace.TracerProvider
}

func defaultOptions() *options {
	return &options{
		cacheName: DefaultCacheName,
		logger:    slog.Default(),
	}
}

// WithCacheName 设置缓存分区名。
func WithCacheName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.cacheName = name
		}
	}
}

// WithPlugins 追加插件。插件按追加顺序执行。
func WithPlugins(plugins ...Plugin) Option {
	return func(o *options) {
		for _, p := range plugins {
			if p != nil {
				o.plugins = append(o.plugins, p)
			}
		}
	}
}

// WithMatchOptions 设置查找缓存时的匹配选项。
func WithMatchOptions(opts xblob.MatchOptions) Option {
	return func(o *options) {
		o.matchOptions = opts
	}
}

// WithQuotaCallbacks 设置配额回收回调注册表。
func WithQuotaCallbacks(q *QuotaCallbacks) Option {
	return func(o *options) {
		o.quota = q
	}
}

// WithLogger 设置日志器。nil 表示不记录日志。
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithTracerProvider 设置 TracerProvider，默认使用全局 provider。
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tracerProvider = tp
	}
}
