package xfetch

import (
	"log/slog"
	"net/http"
	"time"
)

const (
	// DefaultAttempts 幂等请求的默认总尝试次数（含首次）。
	DefaultAttempts uint = 3

	// DefaultRetryDelay 默认重试基础间隔，按指数退避增长。
	DefaultRetryDelay = 100 * time.Millisecond

	// DefaultBreakerThreshold 连续失败多少次后打开熔断器。
	DefaultBreakerThreshold uint32 = 5

	// DefaultBreakerTimeout 熔断器打开后进入半开状态前的等待时间。
	DefaultBreakerTimeout = 30 * time.Second
)

// Option 配置 Client。
type Option func(*options)

type options struct {
	client           *http.Client
	maxBody          int64
	attempts         uint
	delay            time.Duration
	breakerName      string
	breakerThreshold uint32
	breakerTimeout   time.Duration
	logger           *slog.Logger
}

func defaultOptions() *options {
	return &options{
		client:           &http.Client{},
		attempts:         DefaultAttempts,
		delay:            DefaultRetryDelay,
		breakerName:      "xfetch",
		breakerThreshold: DefaultBreakerThreshold,
		breakerTimeout:   DefaultBreakerTimeout,
		logger:           slog.Default(),
	}
}

// WithHTTPClient 设置底层 http.Client。nil 被忽略。
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		if c != nil {
			o.client = c
		}
	}
}

// WithMaxBodySize 设置响应体读取上限，<= 0 使用 xresponse.DefaultMaxBodySize。
func WithMaxBodySize(n int64) Option {
	return func(o *options) {
		o.maxBody = n
	}
}

// WithRetry 设置幂等请求的总尝试次数和基础退避间隔。attempts 为 0 时不修改。
func WithRetry(attempts uint, delay time.Duration) Option {
	return func(o *options) {
		if attempts > 0 {
			o.attempts = attempts
		}
		if delay > 0 {
			o.delay = delay
		}
	}
}

// WithBreaker 设置熔断器名称、连续失败阈值和打开时长。threshold 为 0 时禁用熔断。
func WithBreaker(name string, threshold uint32, timeout time.Duration) Option {
	return func(o *options) {
		if name != "" {
			o.breakerName = name
		}
		o.breakerThreshold = threshold
		if timeout > 0 {
			o.breakerTimeout = timeout
		}
	}
}

// WithLogger 设置日志记录器，nil 禁用日志。
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}
