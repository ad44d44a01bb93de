package xhost

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"github.com/omeyang/xoffline/pkg/offline/xfetch"
	"github.com/omeyang/xoffline/pkg/offline/xroute"
	"github.com/omeyang/xoffline/pkg/offline/xstrategy"
)

// hopHeaders 是不应转发给上游的逐跳头。
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

type host struct {
	router *xroute.Router
	opts   *options
}

func newHost(router *xroute.Router, opts []Option) *host {
	if router == nil {
		panic(ErrNilRouter)
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return &host{router: router, opts: o}
}

// serve 让 Router 处理请求。返回 false 表示 Router 不处理，响应未写出。
func (h *host) serve(w http.ResponseWriter, r *http.Request) bool {
	id := r.Header.Get(h.opts.requestIDHeader)
	if id == "" {
		id = uuid.NewString()
	}

	req := h.outbound(r)
	resp, handled, err := h.router.HandleRequest(r.Context(), req, h.opts.event)
	if !handled && err == nil {
		return false
	}

	w.Header().Set(h.opts.requestIDHeader, id)
	if err != nil {
		h.logWarn("request failed", id, req.URL, err)
		h.opts.errorHandler(w, r, err)
		return true
	}
	if resp == nil {
		h.opts.errorHandler(w, r, xstrategy.ErrNoResponse)
		return true
	}
	if werr := resp.WriteTo(w); werr != nil {
		// 客户端已断开，无法补救
		h.logWarn("write response failed", id, req.URL, werr)
	}
	return true
}

// outbound 构造交给 Router 的绝对地址请求。
func (h *host) outbound(r *http.Request) *http.Request {
	u := *r.URL
	switch {
	case h.opts.upstream != nil:
		u.Scheme = h.opts.upstream.Scheme
		u.Host = h.opts.upstream.Host
	case !u.IsAbs():
		u.Scheme = "http"
		if r.TLS != nil {
			u.Scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto == "http" || proto == "https" {
			u.Scheme = proto
		}
		u.Host = r.Host
	}

	req := r.Clone(r.Context())
	req.URL = &u
	req.Host = ""
	req.RequestURI = ""
	for _, k := range hopHeaders {
		req.Header.Del(k)
	}
	return req
}

func (h *host) logWarn(msg, id string, u *url.URL, err error) {
	if h.opts.logger != nil {
		h.opts.logger.Warn(msg,
			slog.String("request_id", id),
			slog.String("url", u.Redacted()),
			slog.Any("error", err))
	}
}

// StatusFor 把处理错误映射为 HTTP 状态码。
//
//   - 上下文超时：504
//   - 熔断器打开：503
//   - 网络不可达且没有缓存（*xstrategy.NoResponseError）：502
//   - 其他（插件错误、配置错误等）：500
func StatusFor(err error) int {
	var noResp *xstrategy.NoResponseError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, xfetch.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	case errors.As(err, &noResp), errors.Is(err, xstrategy.ErrNoResponse):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func defaultErrorHandler(w http.ResponseWriter, _ *http.Request, err error) {
	status := StatusFor(err)
	http.Error(w, http.StatusText(status), status)
}

// HTTPMiddleware 返回把匹配路由的请求交给 Router 处理的中间件，
// Router 不处理的请求转给 next。
//
// 示例:
//
//	tracker := xevent.NewTracker()
//	mux.Handle("/", xhost.HTTPMiddleware(router, xhost.WithEvent(tracker))(fallback))
func HTTPMiddleware(router *xroute.Router, opts ...Option) func(http.Handler) http.Handler {
	h := newHost(router, opts)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if h.serve(w, r) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Handler 返回独立的 http.Handler，Router 不处理的请求返回 404。
func Handler(router *xroute.Router, opts ...Option) http.Handler {
	return HTTPMiddleware(router, opts...)(http.NotFoundHandler())
}
