package xplugin

import (
	"context"
	"net/http"
	"slices"

	"github.com/omeyang/xoffline/pkg/offline/xresponse"
	"github.com/omeyang/xoffline/pkg/offline/xstrategy"
)

var _ xstrategy.CacheWillUpdate = (*CacheableResponse)(nil)

// CacheableResponse 按状态码和响应头白名单决定响应是否可以写入缓存。
//
// 同时配置两者时必须都满足。策略默认只缓存 200 响应；
// 使用本插件后以白名单为准，例如允许 404 或显式放行不透明响应（状态码 0）。
type CacheableResponse struct {
	statuses []int
	headers  map[string]string
}

// CacheableOption 配置 CacheableResponse。
type CacheableOption func(*CacheableResponse)

// WithStatuses 允许缓存的状态码。
func WithStatuses(statuses ...int) CacheableOption {
	return func(c *CacheableResponse) {
		c.statuses = append(c.statuses, statuses...)
	}
}

// WithOpaque 允许缓存不透明响应。
func WithOpaque() CacheableOption {
	return WithStatuses(0)
}

// WithHeaders 要求响应头的值与给定值完全相等。头名大小写不敏感。
func WithHeaders(headers map[string]string) CacheableOption {
	return func(c *CacheableResponse) {
		if c.headers == nil {
			c.headers = make(map[string]string, len(headers))
		}
		for k, v := range headers {
			c.headers[http.CanonicalHeaderKey(k)] = v
		}
	}
}

// NewCacheableResponse 创建 CacheableResponse。至少需要一个状态码或响应头条件。
func NewCacheableResponse(opts ...CacheableOption) (*CacheableResponse, error) {
	c := &CacheableResponse{}
	for _, opt := range opts {
		opt(c)
	}
	if len(c.statuses) == 0 && len(c.headers) == 0 {
		return nil, ErrNoCriteria
	}
	slices.Sort(c.statuses)
	c.statuses = slices.Compact(c.statuses)
	return c, nil
}

// IsCacheable 报告 resp 是否满足白名单。
func (c *CacheableResponse) IsCacheable(resp *xresponse.Response) bool {
	if resp == nil {
		return false
	}
	if len(c.statuses) > 0 {
		if _, ok := slices.BinarySearch(c.statuses, resp.Status); !ok {
			return false
		}
	}
	for k, v := range c.headers {
		if resp.Header.Get(k) != v {
			return false
		}
	}
	return true
}

// CacheWillUpdate 实现 xstrategy.CacheWillUpdate。不满足条件时返回 nil 阻止写入。
func (c *CacheableResponse) CacheWillUpdate(_ context.Context, p xstrategy.CacheWillUpdateParam) (*xresponse.Response, error) {
	if !c.IsCacheable(p.Response) {
		return nil, nil
	}
	return p.Response, nil
}
