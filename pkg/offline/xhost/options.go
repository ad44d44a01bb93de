package xhost

import (
	"log/slog"
	"net/http"
	"net/url"

	"github.com/omeyang/xoffline/pkg/offline/xevent"
)

// DefaultRequestIDHeader 请求 ID 使用的默认响应头。
const DefaultRequestIDHeader = "X-Request-Id"

// DefaultMaxWarmBody 预热请求体的默认上限（1 MiB）。
const DefaultMaxWarmBody int64 = 1 << 20

// Option 配置宿主适配器。
type Option func(*options)

type options struct {
	event           xevent.Event
	logger          *slog.Logger
	upstream        *url.URL
	requestIDHeader string
	errorHandler    func(w http.ResponseWriter, r *http.Request, err error)
	maxWarmBody     int64
}

func defaultOptions() *options {
	return &options{
		event:           xevent.Background(),
		logger:          slog.Default(),
		requestIDHeader: DefaultRequestIDHeader,
		errorHandler:    defaultErrorHandler,
		maxWarmBody:     DefaultMaxWarmBody,
	}
}

// WithEvent 设置登记后台工作的 Event，通常是进程级 *xevent.Tracker，
// 优雅关闭时等待它以保证缓存写入完成。nil 被忽略。
func WithEvent(ev xevent.Event) Option {
	return func(o *options) {
		if ev != nil {
			o.event = ev
		}
	}
}

// WithLogger 设置日志记录器，nil 禁用日志。
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithUpstream 把请求的 scheme 和 host 改写为 upstream 后再交给 Router，
// 用于以反向代理方式部署：路由匹配和网络请求都针对上游地址。
func WithUpstream(upstream *url.URL) Option {
	return func(o *options) {
		o.upstream = upstream
	}
}

// WithRequestIDHeader 设置请求 ID 头名，空字符串被忽略。
func WithRequestIDHeader(name string) Option {
	return func(o *options) {
		if name != "" {
			o.requestIDHeader = name
		}
	}
}

// WithErrorHandler 设置处理失败时的响应写出函数。nil 被忽略。
func WithErrorHandler(fn func(w http.ResponseWriter, r *http.Request, err error)) Option {
	return func(o *options) {
		if fn != nil {
			o.errorHandler = fn
		}
	}
}

// WithMaxWarmBody 设置预热请求体上限，<= 0 被忽略。
func WithMaxWarmBody(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.maxWarmBody = n
		}
	}
}
