package xstrategy

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/omeyang/xoffline/pkg/offline/xstrategy"

// Span 名称与属性。
const (
	spanNameHandle = "xstrategy.Handle"

	attrStrategy  = "xoffline.strategy"
	attrCacheName = "xoffline.cache_name"
	attrURL       = "xoffline.url"
	attrCacheHit  = "xoffline.cache_hit"
)

func getTracer(tp trace.TracerProvider) trace.Tracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return tp.Tracer(tracerName)
}

func handleSpanAttributes(strategy, cacheName, url string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(attrStrategy, strategy),
		attribute.String(attrCacheName, cacheName),
		attribute.String(attrURL, url),
	}
}

func setSpanError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

func setSpanOK(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}
