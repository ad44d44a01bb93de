package xhost

import (
	"github.com/gin-gonic/gin"

	"github.com/omeyang/xoffline/pkg/offline/xroute"
)

// GinMiddleware 返回 gin 中间件：Router 处理的请求直接写出响应并终止链，
// 其余请求继续交给后续 handler。
//
// 示例:
//
//	engine := gin.New()
//	engine.Use(xhost.GinMiddleware(router, xhost.WithEvent(tracker)))
func GinMiddleware(router *xroute.Router, opts ...Option) gin.HandlerFunc {
	h := newHost(router, opts)
	return func(c *gin.Context) {
		if h.serve(c.Writer, c.Request) {
			c.Abort()
			return
		}
		c.Next()
	}
}
