package xroute

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/omeyang/xoffline/pkg/offline/xevent"
	"github.com/omeyang/xoffline/pkg/offline/xresponse"
)

// DefaultWarmConcurrency Warm 的默认并发度。
const DefaultWarmConcurrency = 8

// Option Router 配置选项。
type Option func(*Router)

// WithOrigin 设置 Router 所服务的源。相对请求 URL 和字符串规则都相对它解析，
// 同源判断也以它为准。默认 http://localhost。
func WithOrigin(origin *url.URL) Option {
	return func(r *Router) {
		if origin != nil {
			o := *origin
			r.origin = &o
		}
	}
}

// WithLogger 设置日志器。nil 表示不记录日志。
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		r.logger = logger
	}
}

// WithWarmConcurrency 设置 Warm 的最大并发请求数。
func WithWarmConcurrency(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.warmLimit = n
		}
	}
}

// Router 按注册顺序把请求分派到第一个匹配的路由。
//
// 路由按方法分组；没有路由命中时回退到该方法的默认处理器。
// 所有方法都并发安全，可以在服务期间注册和注销路由。
type Router struct {
	mu       sync.RWMutex
	routes   map[string][]*Route
	defaults map[string]Handler
	catch    Handler

	origin    *url.URL
	logger    *slog.Logger
	warmLimit int
}

// New 创建 Router。
func New(opts ...Option) *Router {
	r := &Router{
		routes:    make(map[string][]*Route),
		defaults:  make(map[string]Handler),
		origin:    &url.URL{Scheme: "http", Host: "localhost"},
		logger:    slog.Default(),
		warmLimit: DefaultWarmConcurrency,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Origin 返回 Router 所服务的源。
func (r *Router) Origin() *url.URL {
	o := *r.origin
	return &o
}

// Register 按 capture 的类型构造路由并注册：
//
//   - string：必须以 '/' 或 'http' 开头，相对源解析后按绝对 URL 完全相等匹配
//   - *regexp.Regexp：见 [NewRegexpRoute]
//   - MatchFunc 或 func(MatchContext) any：自定义匹配
//   - *Route：直接注册，忽略 handler 和 method
func (r *Router) Register(capture any, handler Handler, method string) (*Route, error) {
	var (
		route *Route
		err   error
	)
	switch c := capture.(type) {
	case *Route:
		route = c
	case string:
		if !strings.HasPrefix(c, "/") && !strings.HasPrefix(c, "http") {
			return nil, fmt.Errorf("%w: %q", ErrInvalidCapture, c)
		}
		target, perr := r.origin.Parse(c)
		if perr != nil {
			return nil, fmt.Errorf("%w: %q: %w", ErrInvalidCapture, c, perr)
		}
		route, err = NewExactRoute(target, handler, method)
	case *regexp.Regexp:
		route, err = NewRegexpRoute(c, handler, method)
	case MatchFunc:
		route, err = NewRoute(c, handler, method)
	case func(MatchContext) any:
		route, err = NewRoute(c, handler, method)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedCapture, capture)
	}
	if err != nil {
		return nil, err
	}
	if err := r.RegisterRoute(route); err != nil {
		return nil, err
	}
	return route, nil
}

// RegisterRoute 注册路由。先注册的路由优先匹配。
func (r *Router) RegisterRoute(route *Route) error {
	if route == nil || route.handler == nil {
		return ErrNilHandler
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[route.method] = append(r.routes[route.method], route)
	return nil
}

// UnregisterRoute 注销路由。路由未注册时返回 ErrRouteNotFound。
func (r *Router) UnregisterRoute(route *Route) error {
	if route == nil {
		return ErrRouteNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	routes := r.routes[route.method]
	i := slices.Index(routes, route)
	if i < 0 {
		return ErrRouteNotFound
	}
	r.routes[route.method] = slices.Delete(slices.Clone(routes), i, i+1)
	return nil
}

// Routes 返回某个方法已注册路由的快照。
func (r *Router) Routes(method string) []*Route {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.routes[method])
}

// SetDefaultHandler 设置 method 的默认处理器；method 为空时使用 GET。
func (r *Router) SetDefaultHandler(h Handler, method string) {
	if method == "" {
		method = DefaultMethod
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if h == nil {
		delete(r.defaults, method)
		return
	}
	r.defaults[method] = h
}

// SetCatchHandler 设置全局错误处理器。
func (r *Router) SetCatchHandler(h Handler) {
	r.mu.Lock()
	r.catch = h
	r.mu.Unlock()
}

// FindMatchingRoute 返回第一个命中的路由及归一化后的参数；未命中时 route 为 nil。
func (r *Router) FindMatchingRoute(mc MatchContext) (*Route, any) {
	method := DefaultMethod
	if mc.Request != nil && mc.Request.Method != "" {
		method = mc.Request.Method
	}
	for _, route := range r.Routes(method) {
		if params, ok := normalizeParams(route.Match(mc)); ok {
			return route, params
		}
	}
	return nil, nil
}

// HandleRequest 把请求分派给匹配的处理器。
//
// handled 为 false 表示 Router 不处理该请求（非 http(s) 地址、无路由且无默认处理器），
// 调用方应按原样转发。处理器出错时依次尝试路由级和全局 catch 处理器，
// 两者都不存在或都失败时返回错误。
func (r *Router) HandleRequest(ctx context.Context, req *http.Request, ev xevent.Event) (resp *xresponse.Response, handled bool, err error) {
	if req == nil || req.URL == nil {
		return nil, false, ErrNilRequest
	}
	if ev == nil {
		ev = xevent.Background()
	}

	u := r.origin.ResolveReference(req.URL)
	if u.Scheme != "http" && u.Scheme != "https" {
		r.debug("only http(s) urls are routed", u)
		return nil, false, nil
	}
	sameOrigin := u.Scheme == r.origin.Scheme && u.Host == r.origin.Host

	route, params := r.FindMatchingRoute(MatchContext{URL: u, Request: req, SameOrigin: sameOrigin, Event: ev})
	var handler Handler
	if route != nil {
		handler = route.handler
	} else {
		method := req.Method
		if method == "" {
			method = DefaultMethod
		}
		r.mu.RLock()
		handler = r.defaults[method]
		r.mu.RUnlock()
		if handler != nil {
			r.debug("no matching route, using default handler", u)
		}
	}
	if handler == nil {
		r.debug("no route found", u)
		return nil, false, nil
	}

	in := Input{URL: u, Request: req, Event: ev, Params: params}
	resp, err = safeHandle(ctx, handler, in)
	if err == nil {
		return resp, true, nil
	}

	if route != nil {
		if ch := route.CatchHandler(); ch != nil {
			r.warn("handler failed, falling back to route catch handler", u, err)
			in.Err = err
			resp, cerr := safeHandle(ctx, ch, in)
			if cerr == nil {
				return resp, true, nil
			}
			err = cerr
		}
	}

	r.mu.RLock()
	catch := r.catch
	r.mu.RUnlock()
	if catch != nil {
		r.warn("handler failed, falling back to global catch handler", u, err)
		resp, err = safeHandle(ctx, catch, Input{URL: u, Request: req, Event: ev, Err: err})
		return resp, true, err
	}
	return nil, true, err
}

// Warm 通过正常路由并发处理一组 URL，用于预先填充缓存。
// 相对 URL 相对 Router 源解析。返回第一个失败请求的错误；未被路由处理的 URL 被忽略。
func (r *Router) Warm(ctx context.Context, urls []string, ev xevent.Event) error {
	if ev == nil {
		ev = xevent.Background()
	}
	// 一个 URL 失败不取消其他预热请求
	var g errgroup.Group
	g.SetLimit(r.warmLimit)
	for _, raw := range urls {
		g.Go(func() error {
			target, err := r.origin.Parse(raw)
			if err != nil {
				return fmt.Errorf("xroute: warm %q: %w", raw, err)
			}
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
			if err != nil {
				return fmt.Errorf("xroute: warm %q: %w", raw, err)
			}
			if _, _, err := r.HandleRequest(ctx, req, ev); err != nil {
				return fmt.Errorf("xroute: warm %q: %w", raw, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// safeHandle 调用处理器并把 panic 恢复为 ErrHandlerPanic。
func safeHandle(ctx context.Context, h Handler, in Input) (resp *xresponse.Response, err error) {
	defer func() {
		if p := recover(); p != nil {
			resp, err = nil, fmt.Errorf("%w: %v", ErrHandlerPanic, p)
		}
	}()
	return h.Handle(ctx, in)
}

func (r *Router) debug(msg string, u *url.URL) {
	if r.logger != nil {
		r.logger.Debug(msg, slog.String("url", u.String()))
	}
}

func (r *Router) warn(msg string, u *url.URL, err error) {
	if r.logger != nil {
		r.logger.Warn(msg, slog.String("url", u.String()), slog.Any("error", err))
	}
}
