package app

import (
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
)

// Option 配置 App。
type Option func(*options)

type options struct {
	logger        *slog.Logger
	redis         redis.UniversalClient
	meterProvider metric.MeterProvider
	transport     http.RoundTripper
}

func defaultOptions() *options {
	return &options{logger: slog.Default()}
}

// WithLogger 设置日志记录器，nil 禁用日志。
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithRedisClient 使用调用方的 Redis 客户端，App 不负责关闭它。
// 未设置时按 redis 配置自行创建。
func WithRedisClient(client redis.UniversalClient) Option {
	return func(o *options) {
		o.redis = client
	}
}

// WithMeterProvider 设置缓存指标的 MeterProvider，nil 使用 otel 全局实现。
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		o.meterProvider = mp
	}
}

// WithTransport 设置访问上游使用的 RoundTripper，nil 使用 http.DefaultTransport。
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) {
		o.transport = rt
	}
}
