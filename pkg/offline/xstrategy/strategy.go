package xstrategy

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/omeyang/xoffline/pkg/offline/xevent"
	"github.com/omeyang/xoffline/pkg/offline/xresponse"
	"github.com/omeyang/xoffline/pkg/offline/xroute"
	"github.com/omeyang/xoffline/pkg/storage/xblob"
)

// Strategy 是可以注册到 xroute.Router 的缓存策略。
type Strategy interface {
	xroute.Handler

	// HandleAll 处理请求，额外返回 Handler 全部后台工作结束后完成的任务。
	HandleAll(ctx context.Context, in xroute.Input) (*xresponse.Response, *xevent.Task, error)

	// CacheName 返回策略使用的缓存分区名。
	CacheName() string
}

// HandleFunc 是具体策略的核心逻辑，在 Handler 上组合缓存与网络操作。
type HandleFunc func(ctx context.Context, h *Handler) (*xresponse.Response, error)

// Base 提供所有策略共享的配置和请求生命周期编排。
// 具体策略嵌入 *Base 并实现自己的 HandleFunc。
type Base struct {
	name    string
	storage xblob.Storage
	fetcher Fetcher
	opts    *options
	tracer  trace.Tracer
}

// NewBase 创建策略基座。name 用于日志和追踪。
func NewBase(name string, storage xblob.Storage, fetcher Fetcher, opts ...Option) (*Base, error) {
	if storage == nil {
		return nil, fmt.Errorf("%w: nil storage", ErrInvalidConfig)
	}
	if fetcher == nil {
		return nil, fmt.Errorf("%w: nil fetcher", ErrInvalidConfig)
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return &Base{
		name:    name,
		storage: storage,
		fetcher: fetcher,
		opts:    o,
		tracer:  getTracer(o.tracerProvider),
	}, nil
}

// CacheName 返回缓存分区名。
func (b *Base) CacheName() string { return b.opts.cacheName }

// Plugins 返回插件列表的副本。
func (b *Base) Plugins() []Plugin { return append([]Plugin(nil), b.opts.plugins...) }

// NewHandler 为一次请求创建 Handler，并把 Handler 的生命周期登记到 in.Event。
// 调用方负责在结束时调用 Destroy。
func (b *Base) NewHandler(in xroute.Input) *Handler {
	return newHandler(b, in)
}

// Run 用 fn 处理请求，并编排完整的生命周期：
//
//	handlerWillStart → fn → (失败时 handlerDidError) → handlerWillRespond → 返回响应
//	后台：handlerDidRespond → DoneWaiting → handlerDidComplete → Destroy
//
// 返回的任务在后台阶段结束后完成，其错误为后台工作的错误。
func (b *Base) Run(ctx context.Context, in xroute.Input, fn HandleFunc) (*xresponse.Response, *xevent.Task, error) {
	h := b.NewHandler(in)
	if h.request == nil {
		h.Destroy()
		return nil, xevent.Resolved(xroute.ErrNilRequest), xroute.ErrNilRequest
	}

	ctx, span := b.tracer.Start(ctx, spanNameHandle,
		trace.WithAttributes(handleSpanAttributes(b.name, b.opts.cacheName, h.request.URL.String())...))
	resp, err := b.getResponse(ctx, h, fn)
	if err != nil {
		setSpanError(span, err)
	} else {
		setSpanOK(span)
	}
	span.End()

	bg := context.WithoutCancel(ctx)
	done := xevent.Go(func() error {
		return b.awaitComplete(bg, h, resp)
	})
	return resp, done, err
}

func (b *Base) getResponse(ctx context.Context, h *Handler, fn HandleFunc) (*xresponse.Response, error) {
	for _, hk := range h.hooks.willStart {
		if err := hk.impl.HandlerWillStart(ctx, LifecycleParam{Request: h.request, Event: h.event, State: hk.state}); err != nil {
			return nil, &PluginError{Hook: "handlerWillStart", Err: err}
		}
	}

	resp, err := fn(ctx, h)
	if err == nil && (resp == nil || resp.IsError()) {
		err = &NoResponseError{URL: h.request.URL.String()}
		resp = nil
	}
	if err != nil {
		for _, hk := range h.hooks.didError {
			fallback, herr := hk.impl.HandlerDidError(ctx, LifecycleParam{Request: h.request, Err: err, Event: h.event, State: hk.state})
			if herr != nil {
				return nil, &PluginError{Hook: "handlerDidError", Err: herr}
			}
			if fallback != nil {
				resp = fallback
				break
			}
		}
		if resp == nil {
			return nil, err
		}
		b.logDebug("recovered with handlerDidError response", h.request.URL)
	}

	for _, hk := range h.hooks.willRespond {
		next, herr := hk.impl.HandlerWillRespond(ctx, LifecycleParam{Request: h.request, Response: resp, Event: h.event, State: hk.state})
		if herr != nil {
			return nil, &PluginError{Hook: "handlerWillRespond", Err: herr}
		}
		resp = next
	}
	return resp, nil
}

// awaitComplete 等待后台工作并执行收尾钩子。返回后台工作的错误。
func (b *Base) awaitComplete(ctx context.Context, h *Handler, resp *xresponse.Response) error {
	defer h.Destroy()

	var werr error
	for _, hk := range h.hooks.didRespond {
		if err := hk.impl.HandlerDidRespond(ctx, LifecycleParam{Request: h.request, Response: resp, Event: h.event, State: hk.state}); err != nil {
			werr = &PluginError{Hook: "handlerDidRespond", Err: err}
			break
		}
	}
	if werr == nil {
		werr = h.DoneWaiting(ctx)
	}

	var cerrs []error
	for _, hk := range h.hooks.didComplete {
		if err := hk.impl.HandlerDidComplete(ctx, LifecycleParam{Request: h.request, Response: resp, Err: werr, Event: h.event, State: hk.state}); err != nil {
			cerrs = append(cerrs, &PluginError{Hook: "handlerDidComplete", Err: err})
		}
	}
	if werr != nil {
		b.logWarn("background work failed", h.request.URL, werr)
	}
	return errors.Join(append([]error{werr}, cerrs...)...)
}

// markCacheHit 在当前 span 上记录是否命中缓存。
func markCacheHit(ctx context.Context, hit bool) {
	trace.SpanFromContext(ctx).SetAttributes(attribute.Bool(attrCacheHit, hit))
}
