package xroute

import (
	"context"
	"net/http"
	"net/url"
	"regexp"
	"slices"
	"sync"

	"github.com/omeyang/xoffline/pkg/offline/xevent"
	"github.com/omeyang/xoffline/pkg/offline/xresponse"
)

// DefaultMethod 未指定方法时使用的路由方法。
const DefaultMethod = http.MethodGet

// validMethods 允许注册的 HTTP 方法。
var validMethods = []string{
	http.MethodDelete,
	http.MethodGet,
	http.MethodHead,
	http.MethodPatch,
	http.MethodPost,
	http.MethodPut,
}

// Input 是传给处理器的请求上下文。
type Input struct {
	// URL 解析为绝对地址后的请求 URL。
	URL *url.URL

	// Request 原始请求。
	Request *http.Request

	// Event 请求的生命周期令牌，处理器可通过它登记后台工作。
	Event xevent.Event

	// Params 匹配结果中的捕获参数；无参数时为 nil。
	Params any

	// Err 仅在调用 catch 处理器时设置，为原处理器返回的错误。
	Err error
}

// Handler 处理一个已匹配的请求。
type Handler interface {
	Handle(ctx context.Context, in Input) (*xresponse.Response, error)
}

// HandlerFunc 是函数形式的 Handler。
type HandlerFunc func(ctx context.Context, in Input) (*xresponse.Response, error)

// Handle 实现 Handler。
func (f HandlerFunc) Handle(ctx context.Context, in Input) (*xresponse.Response, error) {
	return f(ctx, in)
}

// MatchContext 是传给匹配函数的输入。
type MatchContext struct {
	URL        *url.URL
	Request    *http.Request
	SameOrigin bool
	Event      xevent.Event
}

// MatchFunc 判断请求是否命中路由。
//
// 返回 nil 或 false 表示未命中；其他值表示命中。
// true、空切片和空 map 命中但不携带参数，其余值作为 [Input.Params] 传给处理器。
type MatchFunc func(mc MatchContext) any

// Route 把匹配函数、处理器和 HTTP 方法绑定在一起。
type Route struct {
	match   MatchFunc
	handler Handler
	method  string

	mu           sync.RWMutex
	catchHandler Handler
}

// NewRoute 创建路由。method 为空时使用 GET。
func NewRoute(match MatchFunc, handler Handler, method string) (*Route, error) {
	if match == nil {
		return nil, ErrNilMatch
	}
	if handler == nil {
		return nil, ErrNilHandler
	}
	if method == "" {
		method = DefaultMethod
	}
	if !slices.Contains(validMethods, method) {
		return nil, ErrInvalidMethod
	}
	return &Route{match: match, handler: handler, method: method}, nil
}

// NewExactRoute 创建按绝对 URL 完全相等匹配的路由。
// target 必须是绝对 URL。
func NewExactRoute(target *url.URL, handler Handler, method string) (*Route, error) {
	want := target.String()
	return NewRoute(func(mc MatchContext) any {
		return mc.URL.String() == want
	}, handler, method)
}

// NewRegexpRoute 创建按正则匹配完整 URL 的路由。
//
// 跨域请求只有在匹配从 URL 开头开始时才算命中，避免宽松的正则意外匹配第三方地址。
// 捕获分组作为 []string 参数传给处理器。
func NewRegexpRoute(re *regexp.Regexp, handler Handler, method string) (*Route, error) {
	if re == nil {
		return nil, ErrNilMatch
	}
	return NewRoute(func(mc MatchContext) any {
		href := mc.URL.String()
		loc := re.FindStringSubmatchIndex(href)
		if loc == nil {
			return nil
		}
		if !mc.SameOrigin && loc[0] != 0 {
			return nil
		}
		captures := make([]string, 0, len(loc)/2-1)
		for i := 2; i+1 < len(loc); i += 2 {
			if loc[i] < 0 {
				captures = append(captures, "")
				continue
			}
			captures = append(captures, href[loc[i]:loc[i+1]])
		}
		return captures
	}, handler, method)
}

// Method 返回路由方法。
func (r *Route) Method() string { return r.method }

// Handler 返回路由处理器。
func (r *Route) Handler() Handler { return r.handler }

// Match 调用匹配函数并返回原始匹配结果。
func (r *Route) Match(mc MatchContext) any { return r.match(mc) }

// SetCatchHandler 设置路由级错误处理器，处理器失败时优先于 Router 级处理器调用。
func (r *Route) SetCatchHandler(h Handler) {
	r.mu.Lock()
	r.catchHandler = h
	r.mu.Unlock()
}

// CatchHandler 返回路由级错误处理器。
func (r *Route) CatchHandler() Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.catchHandler
}

// normalizeParams 把匹配结果归一化为处理器参数，第二个返回值表示是否命中。
func normalizeParams(result any) (any, bool) {
	switch v := result.(type) {
	case nil:
		return nil, false
	case bool:
		return nil, v
	case []string:
		if len(v) == 0 {
			return nil, true
		}
	case []any:
		if len(v) == 0 {
			return nil, true
		}
	case map[string]string:
		if len(v) == 0 {
			return nil, true
		}
	case map[string]any:
		if len(v) == 0 {
			return nil, true
		}
	}
	return result, true
}
