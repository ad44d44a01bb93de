package xfetch

import "errors"

var (
	// ErrNilRequest 表示请求或其 URL 为 nil。
	ErrNilRequest = errors.New("xfetch: nil request")

	// ErrCircuitOpen 表示熔断器处于打开状态，请求未发出。
	ErrCircuitOpen = errors.New("xfetch: circuit open")

	// errUpstream 标记 5xx 响应，只用于让熔断器计为失败，不会返回给调用方。
	errUpstream = errors.New("xfetch: upstream server error")
)
