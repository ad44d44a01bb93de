package xblob

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/omeyang/xoffline/pkg/offline/xresponse"
)

// =============================================================================
// 接口定义
// =============================================================================

// Storage 是按分区（cache name）隔离的响应存储。
// 所有实现都必须并发安全。
type Storage interface {
	// Open 打开名为 name 的分区，不存在时创建。
	Open(ctx context.Context, name string) (Cache, error)

	// Has 判断分区是否存在。
	Has(ctx context.Context, name string) (bool, error)

	// Delete 删除整个分区及其所有条目，返回分区是否存在。
	Delete(ctx context.Context, name string) (bool, error)

	// Keys 返回所有分区名称（按名称排序）。
	Keys(ctx context.Context) ([]string, error)

	// Close 释放实现持有的本地资源，不关闭调用方传入的客户端。
	Close() error
}

// Cache 是单个分区，以请求为键保存响应。
type Cache interface {
	// Name 返回分区名称。
	Name() string

	// Match 查找与 req 匹配的第一个响应。未命中返回 (nil, nil)。
	Match(ctx context.Context, req *http.Request, opts MatchOptions) (*xresponse.Response, error)

	// Put 写入响应，覆盖同键的旧条目。
	// resp 为 nil 返回 ErrNilResponse；req 方法不是 GET 返回 ErrMethodNotAllowed；
	// 超出存储配额返回 ErrQuotaExceeded。
	Put(ctx context.Context, req *http.Request, resp *xresponse.Response) error

	// Delete 删除与 req 匹配的条目，返回是否删除了至少一条。
	Delete(ctx context.Context, req *http.Request, opts MatchOptions) (bool, error)

	// Keys 返回与 req 匹配的请求键（按写入顺序）；req 为 nil 时返回全部。
	Keys(ctx context.Context, req *http.Request, opts MatchOptions) ([]*http.Request, error)
}

// MatchOptions 控制请求与缓存键的比较方式。
type MatchOptions struct {
	// IgnoreSearch 忽略查询字符串。
	IgnoreSearch bool

	// IgnoreMethod 允许非 GET 请求参与匹配。
	IgnoreMethod bool
}

// =============================================================================
// 键处理
// =============================================================================

// KeyOf 返回请求对应的存储键：去掉 fragment 的绝对 URL。
func KeyOf(req *http.Request) string {
	if req == nil || req.URL == nil {
		return ""
	}
	return stripFragment(req.URL)
}

// KeyOfURL 返回 URL 字符串对应的存储键。无法解析时仅截掉 '#' 之后的部分。
func KeyOfURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		if i := strings.IndexByte(raw, '#'); i >= 0 {
			return raw[:i]
		}
		return raw
	}
	return stripFragment(u)
}

func stripFragment(u *url.URL) string {
	c := *u
	c.Fragment = ""
	c.RawFragment = ""
	return c.String()
}

// stripSearch 去掉查询字符串，用于 IgnoreSearch 比较。
func stripSearch(key string) string {
	if i := strings.IndexByte(key, '?'); i >= 0 {
		return key[:i]
	}
	return key
}

// isGET 判断方法是否为 GET。net/http 中空方法等价于 GET。
func isGET(req *http.Request) bool {
	return req.Method == "" || req.Method == http.MethodGet
}

// matches 判断已存储键 stored 是否与请求匹配。
func matches(stored string, req *http.Request, opts MatchOptions) bool {
	if !opts.IgnoreMethod && !isGET(req) {
		return false
	}
	want := KeyOf(req)
	if opts.IgnoreSearch {
		return stripSearch(stored) == stripSearch(want)
	}
	return stored == want
}

// checkPut 校验写入参数。
func checkPut(req *http.Request, resp *xresponse.Response) error {
	if req == nil || req.URL == nil {
		return ErrNilRequest
	}
	if resp == nil {
		return ErrNilResponse
	}
	if !isGET(req) {
		return ErrMethodNotAllowed
	}
	return nil
}

// newKeyRequest 由存储键重建请求键。
func newKeyRequest(key string) *http.Request {
	req, err := http.NewRequest(http.MethodGet, key, nil)
	if err != nil {
		// 存储键由 KeyOf 生成，解析失败意味着数据被外部篡改；返回只带 URL 的占位请求
		return &http.Request{Method: http.MethodGet, URL: &url.URL{Opaque: key}}
	}
	return req
}
