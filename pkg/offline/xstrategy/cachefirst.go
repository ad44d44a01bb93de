package xstrategy

import (
	"context"

	"github.com/omeyang/xoffline/pkg/offline/xevent"
	"github.com/omeyang/xoffline/pkg/offline/xresponse"
	"github.com/omeyang/xoffline/pkg/offline/xroute"
	"github.com/omeyang/xoffline/pkg/storage/xblob"
)

// CacheFirst 优先使用缓存：命中直接返回，未命中时请求网络并在后台写入缓存。
//
// 命中的响应不会再向网络校验。过期由过期插件在读取时否决、在写入后清理。
type CacheFirst struct {
	*Base
}

var _ Strategy = (*CacheFirst)(nil)

// NewCacheFirst 创建 Cache-First 策略。
func NewCacheFirst(storage xblob.Storage, fetcher Fetcher, opts ...Option) (*CacheFirst, error) {
	base, err := NewBase("cache-first", storage, fetcher, opts...)
	if err != nil {
		return nil, err
	}
	return &CacheFirst{Base: base}, nil
}

// Handle 实现 xroute.Handler。
func (s *CacheFirst) Handle(ctx context.Context, in xroute.Input) (*xresponse.Response, error) {
	resp, _, err := s.HandleAll(ctx, in)
	return resp, err
}

// HandleAll 实现 Strategy。
func (s *CacheFirst) HandleAll(ctx context.Context, in xroute.Input) (*xresponse.Response, *xevent.Task, error) {
	return s.Run(ctx, in, s.handle)
}

func (s *CacheFirst) handle(ctx context.Context, h *Handler) (*xresponse.Response, error) {
	req := h.Request()

	resp, err := h.CacheMatch(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp != nil {
		markCacheHit(ctx, true)
		s.logDebug("found cached response", req.URL)
		return resp, nil
	}
	markCacheHit(ctx, false)

	resp, ferr := h.FetchAndCachePut(ctx, req)
	if resp == nil {
		return nil, &NoResponseError{URL: req.URL.String(), Err: ferr}
	}
	return resp, nil
}
