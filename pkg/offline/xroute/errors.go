package xroute

import "errors"

var (
	// ErrInvalidMethod 表示路由方法不在 GET/HEAD/POST/PUT/PATCH/DELETE 之内。
	ErrInvalidMethod = errors.New("xroute: invalid http method")

	// ErrInvalidCapture 表示字符串匹配规则既不以 '/' 开头也不以 'http' 开头。
	ErrInvalidCapture = errors.New("xroute: string capture must start with '/' or 'http'")

	// ErrUnsupportedCapture 表示匹配规则类型不受支持。
	ErrUnsupportedCapture = errors.New("xroute: unsupported capture type")

	// ErrRouteNotFound 表示注销的路由未注册。
	ErrRouteNotFound = errors.New("xroute: route not registered")

	// ErrNilRequest 表示请求为 nil 或缺少 URL。
	ErrNilRequest = errors.New("xroute: nil request")

	// ErrNilHandler 表示处理器为 nil。
	ErrNilHandler = errors.New("xroute: nil handler")

	// ErrNilMatch 表示匹配函数为 nil。
	ErrNilMatch = errors.New("xroute: nil match function")

	// ErrHandlerPanic 表示处理器 panic，已被恢复为错误。
	ErrHandlerPanic = errors.New("xroute: handler panicked")
)
