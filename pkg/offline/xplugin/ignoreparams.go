package xplugin

import (
	"context"
	"fmt"
	"net/http"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/omeyang/xoffline/pkg/offline/xstrategy"
	"github.com/omeyang/xoffline/pkg/storage/xblob"
)

// DefaultMemoSize IgnoreParams 默认缓存的 URL 改写结果数量。
const DefaultMemoSize = 1024

var _ xstrategy.CacheKeyWillBeUsed = (*IgnoreParams)(nil)

// IgnoreParams 在生成缓存键时去掉指定的查询参数，
// 使 ?utm_source=a 与 ?utm_source=b 命中同一条缓存。
//
// 网络请求不受影响，只有读写缓存使用改写后的键。
type IgnoreParams struct {
	params []string
	memo   *lru.Cache[string, string]
}

// NewIgnoreParams 创建 IgnoreParams。memoSize <= 0 使用 DefaultMemoSize。
func NewIgnoreParams(params []string, memoSize int) (*IgnoreParams, error) {
	if len(params) == 0 {
		return nil, ErrNoParams
	}
	if memoSize <= 0 {
		memoSize = DefaultMemoSize
	}
	memo, err := lru.New[string, string](memoSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return &IgnoreParams{params: append([]string(nil), params...), memo: memo}, nil
}

// Params 返回被忽略的参数名。
func (p *IgnoreParams) Params() []string {
	return append([]string(nil), p.params...)
}

// CacheKeyWillBeUsed 实现 xstrategy.CacheKeyWillBeUsed。
// 查询串会按参数名重新编码，因此参数顺序不同的请求也落到同一个键上。
func (p *IgnoreParams) CacheKeyWillBeUsed(ctx context.Context, param xstrategy.CacheKeyParam) (*http.Request, error) {
	req := param.Request
	if req == nil || req.URL == nil || req.URL.RawQuery == "" {
		return req, nil
	}

	query, ok := p.memo.Get(req.URL.RawQuery)
	if !ok {
		query = xblob.StripParams(req.URL, p.params...).RawQuery
		p.memo.Add(req.URL.RawQuery, query)
	}
	if query == req.URL.RawQuery {
		return req, nil
	}

	out := req.Clone(ctx)
	u := *req.URL
	u.RawQuery = query
	out.URL = &u
	return out, nil
}
