package xplugin

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/omeyang/xoffline/pkg/offline/xresponse"
	"github.com/omeyang/xoffline/pkg/offline/xstrategy"
)

// 指标名称
const (
	metricNameLookups       = "xoffline.cache.lookups"
	metricNameFetches       = "xoffline.fetch.total"
	metricNameFetchFailures = "xoffline.fetch.failures"
	metricNameUpdates       = "xoffline.cache.updates"
)

const meterName = "github.com/omeyang/xoffline/pkg/offline/xplugin"

var (
	_ xstrategy.CachedResponseWillBeUsed = (*Metrics)(nil)
	_ xstrategy.FetchDidSucceed          = (*Metrics)(nil)
	_ xstrategy.FetchDidFail             = (*Metrics)(nil)
	_ xstrategy.CacheDidUpdate           = (*Metrics)(nil)
)

// Metrics 是只观察不修改的插件，记录缓存命中、网络请求和缓存写入次数。
//
// 放在插件列表最前面时统计的是存储中的原始命中，
// 放在过期插件之后则统计最终被使用的命中。
type Metrics struct {
	lookups       metric.Int64Counter
	fetches       metric.Int64Counter
	fetchFailures metric.Int64Counter
	updates       metric.Int64Counter
}

// NewMetrics 创建指标插件。mp 为 nil 时使用全局 MeterProvider。
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(meterName)

	lookups, err := meter.Int64Counter(metricNameLookups,
		metric.WithDescription("缓存查找次数，按是否命中区分"),
		metric.WithUnit("{lookup}"))
	if err != nil {
		return nil, err
	}
	fetches, err := meter.Int64Counter(metricNameFetches,
		metric.WithDescription("成功完成的网络请求数"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}
	fetchFailures, err := meter.Int64Counter(metricNameFetchFailures,
		metric.WithDescription("网络层失败的请求数"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}
	updates, err := meter.Int64Counter(metricNameUpdates,
		metric.WithDescription("缓存写入次数"),
		metric.WithUnit("{update}"))
	if err != nil {
		return nil, err
	}
	return &Metrics{
		lookups:       lookups,
		fetches:       fetches,
		fetchFailures: fetchFailures,
		updates:       updates,
	}, nil
}

// CachedResponseWillBeUsed 记录命中或未命中，响应原样返回。
func (m *Metrics) CachedResponseWillBeUsed(ctx context.Context, p xstrategy.CachedResponseParam) (*xresponse.Response, error) {
	m.lookups.Add(context.WithoutCancel(ctx), 1, metric.WithAttributes(
		attribute.String("cache_name", p.CacheName),
		attribute.Bool("hit", p.CachedResponse != nil),
	))
	return p.CachedResponse, nil
}

// FetchDidSucceed 按状态码分类记录网络请求。
func (m *Metrics) FetchDidSucceed(ctx context.Context, p xstrategy.FetchDidSucceedParam) (*xresponse.Response, error) {
	m.fetches.Add(context.WithoutCancel(ctx), 1, metric.WithAttributes(
		attribute.String("method", method(p.Request)),
		attribute.String("status_class", statusClass(p.Response)),
	))
	return p.Response, nil
}

// FetchDidFail 记录网络层失败。
func (m *Metrics) FetchDidFail(ctx context.Context, p xstrategy.FetchDidFailParam) error {
	m.fetchFailures.Add(context.WithoutCancel(ctx), 1, metric.WithAttributes(
		attribute.String("method", method(p.Request)),
	))
	return nil
}

// CacheDidUpdate 记录缓存写入，区分新增和替换。
func (m *Metrics) CacheDidUpdate(ctx context.Context, p xstrategy.CacheDidUpdateParam) error {
	m.updates.Add(context.WithoutCancel(ctx), 1, metric.WithAttributes(
		attribute.String("cache_name", p.CacheName),
		attribute.Bool("replaced", p.OldResponse != nil),
	))
	return nil
}

func method(req *http.Request) string {
	if req == nil || req.Method == "" {
		return http.MethodGet
	}
	return req.Method
}

func statusClass(resp *xresponse.Response) string {
	switch {
	case resp == nil:
		return "none"
	case resp.IsOpaque():
		return "opaque"
	case resp.Status >= 500:
		return "5xx"
	case resp.Status >= 400:
		return "4xx"
	case resp.Status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
