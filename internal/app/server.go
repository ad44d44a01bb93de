package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/omeyang/xoffline/internal/appconf"
	"github.com/omeyang/xoffline/pkg/offline/xhost"
)

const readHeaderTimeout = 10 * time.Second

// Handler 返回 HTTP 入口：路由命中的请求走缓存策略，其余请求反向代理到上游。
// 另外挂载健康检查和预热接口（路径为空时不挂载）。
func (a *App) Handler() http.Handler {
	hostOpts := []xhost.Option{
		xhost.WithEvent(a.tracker),
		xhost.WithLogger(a.logger),
		xhost.WithUpstream(a.upstream),
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), xhost.GinMiddleware(a.router, hostOpts...))
	if path := a.cfg.Server.HealthPath; path != "" {
		engine.GET(path, a.health)
	}
	if path := a.cfg.Server.WarmPath; path != "" {
		engine.Any(path, gin.WrapH(xhost.WarmHandler(a.router, hostOpts...)))
	}
	engine.NoRoute(gin.WrapH(a.proxy()))
	return engine
}

func (a *App) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"pending": a.tracker.Pending(),
		"failed":  a.tracker.Failed(),
		"breaker": a.fetcher.State().String(),
	})
}

func (a *App) proxy() http.Handler {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(a.upstream)
			pr.SetXForwarded()
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			if a.logger != nil {
				a.logger.Warn("proxy failed", slog.String("url", r.URL.String()), slog.Any("error", err))
			}
			w.WriteHeader(http.StatusBadGateway)
		},
	}
}

// Run 监听 cfg.Server.Addr 并提供服务，直到 ctx 取消。
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.cfg.Server.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve 在 ln 上提供服务，同时按 cfg.Sweep.Schedule 定时清理过期条目。
//
// ctx 取消后依次：停止接收请求并等待处理中的请求，等待后台缓存写入和清理，
// 总耗时不超过 cfg.Server.ShutdownTimeout。
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	var scheduler *cron.Cron
	g, gctx := errgroup.WithContext(ctx)
	if a.cfg.Sweep.Schedule != "" {
		scheduler = cron.New()
		if _, err := scheduler.AddFunc(a.cfg.Sweep.Schedule, func() { a.sweep(gctx) }); err != nil {
			_ = ln.Close()
			return fmt.Errorf("app: schedule sweep: %w", err)
		}
	}

	g.Go(func() error {
		a.logInfo("serving", slog.String("addr", ln.Addr().String()), slog.String("upstream", a.upstream.String()))
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return a.shutdown(srv)
	})
	if scheduler != nil {
		g.Go(func() error {
			scheduler.Start()
			<-gctx.Done()
			<-scheduler.Stop().Done()
			return nil
		})
	}
	return g.Wait()
}

func (a *App) shutdown(srv *http.Server) error {
	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = appconf.DefaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	a.logInfo("shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("app: shutdown server: %w", err)
	}
	if err := a.Wait(ctx); err != nil {
		return fmt.Errorf("app: wait background work: %w", err)
	}
	return nil
}

func (a *App) sweep(ctx context.Context) {
	results, err := a.Expire(ctx)
	if err != nil {
		if a.logger != nil {
			a.logger.Warn("sweep failed", slog.Any("error", err))
		}
		return
	}
	for _, r := range results {
		if len(r.URLs) > 0 {
			a.logInfo("swept cache", slog.String("cache", r.Cache), slog.Int("expired", len(r.URLs)))
		}
	}
}

func (a *App) logInfo(msg string, attrs ...any) {
	if a.logger != nil {
		a.logger.Info(msg, attrs...)
	}
}
