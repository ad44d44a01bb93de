package xblob

import (
	"context"
	"net/http"
	"net/url"

	"github.com/omeyang/xoffline/pkg/offline/xresponse"
)

// RevisionParam 预缓存写入时附加的版本参数名。
// 读取旧响应时通常需要忽略它，见 [MatchIgnoreParams]。
const RevisionParam = "__rev"

// MatchIgnoreParams 在比较前从请求和缓存键中移除 params 指定的查询参数。
//
// 用于在写入新响应前找到"同一资源的旧版本"：两边都去掉版本参数后比较，
// 其余查询参数仍需一致。params 为空时退化为普通 Match。
func MatchIgnoreParams(ctx context.Context, c Cache, req *http.Request, params []string, opts MatchOptions) (*xresponse.Response, error) {
	if req == nil || req.URL == nil {
		return nil, ErrNilRequest
	}
	if len(params) == 0 {
		return c.Match(ctx, req, opts)
	}

	stripped := StripParams(req.URL, params...)
	if stripped.RawQuery == req.URL.RawQuery {
		// 请求本身不带这些参数时可以走精确匹配
		if resp, err := c.Match(ctx, req, opts); resp != nil || err != nil {
			return resp, err
		}
	}

	searchOpts := opts
	searchOpts.IgnoreSearch = true
	candidates, err := c.Keys(ctx, req, searchOpts)
	if err != nil {
		return nil, err
	}
	want := KeyOfURL(stripped.String())
	for _, key := range candidates {
		if KeyOfURL(StripParams(key.URL, params...).String()) != want {
			continue
		}
		resp, err := c.Match(ctx, key, opts)
		if err != nil || resp != nil {
			return resp, err
		}
	}
	return nil, nil
}

// StripParams 返回去掉指定查询参数后的 URL 副本。
func StripParams(u *url.URL, params ...string) *url.URL {
	c := *u
	if c.RawQuery == "" || len(params) == 0 {
		return &c
	}
	q := c.Query()
	for _, p := range params {
		q.Del(p)
	}
	c.RawQuery = q.Encode()
	return &c
}
