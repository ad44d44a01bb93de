package xfetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	retry "github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker/v2"

	"github.com/omeyang/xoffline/pkg/offline/xresponse"
	"github.com/omeyang/xoffline/pkg/offline/xstrategy"
)

var _ xstrategy.Fetcher = (*Client)(nil)

// Client 是基于 net/http 的 Fetcher。
//
// 与浏览器 fetch 语义一致，任何 HTTP 状态码都作为响应返回，只有传输层失败才返回错误。
// GET/HEAD 的传输错误按指数退避重试；5xx 响应和传输错误计入熔断器。
type Client struct {
	http     *http.Client
	maxBody  int64
	attempts uint
	delay    time.Duration
	breaker  *gobreaker.CircuitBreaker[*xresponse.Response]
	logger   *slog.Logger
}

// New 创建 Client。
func New(opts ...Option) *Client {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	c := &Client{
		http:     o.client,
		maxBody:  o.maxBody,
		attempts: o.attempts,
		delay:    o.delay,
		logger:   o.logger,
	}
	if o.breakerThreshold > 0 {
		c.breaker = gobreaker.NewCircuitBreaker[*xresponse.Response](c.breakerSettings(o))
	}
	return c
}

func (c *Client) breakerSettings(o *options) gobreaker.Settings {
	threshold := o.breakerThreshold
	return gobreaker.Settings{
		Name:    o.breakerName,
		Timeout: o.breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			// 调用方取消不算上游故障
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if c.logger != nil {
				c.logger.Warn("circuit breaker state changed",
					slog.String("breaker", name),
					slog.String("from", from.String()),
					slog.String("to", to.String()))
			}
		},
	}
}

// State 返回熔断器状态；未启用熔断时始终为 StateClosed。
func (c *Client) State() gobreaker.State {
	if c.breaker == nil {
		return gobreaker.StateClosed
	}
	return c.breaker.State()
}

// Fetch 实现 xstrategy.Fetcher。
//
// 熔断器打开时返回包装 ErrCircuitOpen 的错误；传输错误原样包装返回，可用 errors.Is 检查。
func (c *Client) Fetch(ctx context.Context, req *http.Request) (*xresponse.Response, error) {
	if req == nil || req.URL == nil {
		return nil, ErrNilRequest
	}

	attempts := uint(1)
	if idempotent(req.Method) {
		attempts = c.attempts
	}
	return retry.NewWithData[*xresponse.Response](
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(c.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(retryable),
		retry.OnRetry(func(n uint, err error) {
			if c.logger != nil {
				c.logger.Debug("retry fetch",
					slog.String("url", req.URL.String()),
					slog.Uint64("attempt", uint64(n)+1),
					slog.Any("error", err))
			}
		}),
	).Do(func() (*xresponse.Response, error) {
		return c.once(ctx, req)
	})
}

// once 发出一次请求。
func (c *Client) once(ctx context.Context, req *http.Request) (*xresponse.Response, error) {
	if c.breaker == nil {
		return c.roundTrip(ctx, req)
	}
	resp, err := c.breaker.Execute(func() (*xresponse.Response, error) {
		resp, err := c.roundTrip(ctx, req)
		if err == nil && resp.Status >= http.StatusInternalServerError {
			return resp, errUpstream
		}
		return resp, err
	})
	switch {
	case errors.Is(err, errUpstream):
		return resp, nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return nil, fmt.Errorf("%w: %w", ErrCircuitOpen, err)
	}
	return resp, err
}

func (c *Client) roundTrip(ctx context.Context, req *http.Request) (*xresponse.Response, error) {
	// 每次尝试使用独立副本，避免传输层修改共享请求
	r, err := c.http.Do(req.Clone(ctx))
	if err != nil {
		return nil, fmt.Errorf("xfetch: %s %s: %w", req.Method, req.URL.Redacted(), err)
	}
	resp, err := xresponse.FromHTTP(r, c.maxBody)
	if err != nil {
		return nil, fmt.Errorf("xfetch: %s %s: %w", req.Method, req.URL.Redacted(), err)
	}
	if resp.URL == "" {
		resp.URL = req.URL.String()
	}
	return resp, nil
}

// retryable 只重试传输层错误；取消、熔断和响应体超限不重试。
func retryable(err error) bool {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, ErrCircuitOpen), errors.Is(err, xresponse.ErrBodyTooLarge):
		return false
	}
	return true
}

func idempotent(method string) bool {
	return method == "" || method == http.MethodGet || method == http.MethodHead
}
