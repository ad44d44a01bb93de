package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"

	"github.com/redis/go-redis/v9"

	"github.com/omeyang/xoffline/internal/appconf"
	"github.com/omeyang/xoffline/pkg/offline/xevent"
	"github.com/omeyang/xoffline/pkg/offline/xexpire"
	"github.com/omeyang/xoffline/pkg/offline/xfetch"
	"github.com/omeyang/xoffline/pkg/offline/xplugin"
	"github.com/omeyang/xoffline/pkg/offline/xroute"
	"github.com/omeyang/xoffline/pkg/offline/xstrategy"
	"github.com/omeyang/xoffline/pkg/storage/xblob"
	"github.com/omeyang/xoffline/pkg/storage/xstamp"
)

// App 把配置装配成可运行的缓存代理：存储、索引、上游客户端、
// 每条路由一个 Cache-First 策略，以及共享的后台工作跟踪器。
type App struct {
	cfg      appconf.Config
	logger   *slog.Logger
	upstream *url.URL

	redis     redis.UniversalClient
	ownsRedis bool

	storage xblob.Storage
	index   xstamp.Index
	fetcher *xfetch.Client
	router  *xroute.Router
	tracker *xevent.Tracker
	quota   *xstrategy.QuotaCallbacks
	routes  []*cacheRoute

	// expirers 每个分区一个过期插件，共享分区的路由复用同一个管理器
	expirers map[string]*xexpire.Plugin
}

// cacheRoute 是一条已注册的缓存路由。
type cacheRoute struct {
	cfg      appconf.Route
	strategy *xstrategy.CacheFirst
}

// New 按 cfg 装配 App。失败时释放已经创建的资源。
func New(ctx context.Context, cfg appconf.Config, opts ...Option) (_ *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	upstream, err := cfg.UpstreamURL()
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:      cfg,
		logger:   o.logger,
		upstream: upstream,
		redis:    o.redis,
		quota:    xstrategy.NewQuotaCallbacks(),
		expirers: make(map[string]*xexpire.Plugin),
	}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if err := a.openRedis(ctx); err != nil {
		return nil, err
	}
	if a.storage, err = a.openStorage(); err != nil {
		return nil, err
	}
	if a.index, err = a.openIndex(); err != nil {
		return nil, err
	}

	a.fetcher = xfetch.New(
		xfetch.WithHTTPClient(&http.Client{Timeout: cfg.Fetch.Timeout, Transport: o.transport}),
		xfetch.WithMaxBodySize(cfg.Fetch.MaxBodyBytes),
		xfetch.WithRetry(cfg.Fetch.Attempts, cfg.Fetch.RetryDelay),
		xfetch.WithBreaker(upstream.Host, cfg.Fetch.BreakerThreshold, cfg.Fetch.BreakerTimeout),
		xfetch.WithLogger(a.logger),
	)
	a.tracker = xevent.NewTracker(xevent.WithLogger(a.logger))
	a.router = xroute.New(xroute.WithOrigin(upstream), xroute.WithLogger(a.logger))

	metrics, err := xplugin.NewMetrics(o.meterProvider)
	if err != nil {
		return nil, err
	}
	for i, rc := range cfg.Routes {
		r, err := a.buildRoute(rc, metrics)
		if err != nil {
			return nil, fmt.Errorf("app: route %d (%s): %w", i, rc.CacheName, err)
		}
		if _, err := a.router.Register(regexp.MustCompile(rc.Pattern), r.strategy, rc.Method); err != nil {
			return nil, fmt.Errorf("app: register route %d: %w", i, err)
		}
		a.routes = append(a.routes, r)
	}
	return a, nil
}

func (a *App) openRedis(ctx context.Context) error {
	if a.cfg.Storage.Driver != appconf.DriverRedis && a.cfg.Index.Driver != appconf.DriverRedis {
		return nil
	}
	if a.redis == nil {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		a.ownsRedis = true
	}
	if err := a.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("app: ping redis %s: %w", a.cfg.Redis.Addr, err)
	}
	return nil
}

func (a *App) openStorage() (xblob.Storage, error) {
	switch a.cfg.Storage.Driver {
	case appconf.DriverRedis:
		opts := []xblob.RedisOption{xblob.WithKeyPrefix(a.cfg.Redis.KeyPrefix + "blob:")}
		if a.cfg.Storage.LocalCacheBytes > 0 {
			opts = append(opts, xblob.WithLocalCache(a.cfg.Storage.LocalCacheBytes, a.cfg.Storage.LocalCacheTTL))
		}
		return xblob.NewRedis(a.redis, opts...)
	default:
		return xblob.NewMemory(xblob.WithQuota(a.cfg.Storage.QuotaBytes))
	}
}

func (a *App) openIndex() (xstamp.Index, error) {
	switch a.cfg.Index.Driver {
	case appconf.DriverRedis:
		return xstamp.NewRedis(a.redis, a.cfg.Redis.KeyPrefix+"stamp:")
	case appconf.DriverSQLite:
		return xstamp.NewSQLite(a.cfg.Index.SQLitePath)
	default:
		return xstamp.NewMemory(), nil
	}
}

// buildRoute 按顺序组装插件：缓存键、可缓存判定、过期管理、指标。
// 指标放在最后，记录的是过期检查之后实际使用的结果。
func (a *App) buildRoute(rc appconf.Route, metrics *xplugin.Metrics) (*cacheRoute, error) {
	r := &cacheRoute{cfg: rc}
	var plugins []xstrategy.Plugin

	if len(rc.IgnoreParams) > 0 {
		p, err := xplugin.NewIgnoreParams(rc.IgnoreParams, xplugin.DefaultMemoSize)
		if err != nil {
			return nil, err
		}
		plugins = append(plugins, p)
	}
	if len(rc.CacheableStatuses) > 0 {
		p, err := xplugin.NewCacheableResponse(xplugin.WithStatuses(rc.CacheableStatuses...))
		if err != nil {
			return nil, err
		}
		plugins = append(plugins, p)
	}
	if rc.Expires() {
		p, err := a.expirer(rc)
		if err != nil {
			return nil, err
		}
		plugins = append(plugins, p)
	}
	plugins = append(plugins, metrics)

	s, err := xstrategy.NewCacheFirst(a.storage, a.fetcher,
		xstrategy.WithCacheName(rc.CacheName),
		xstrategy.WithPlugins(plugins...),
		xstrategy.WithQuotaCallbacks(a.quota),
		xstrategy.WithLogger(a.logger),
	)
	if err != nil {
		return nil, err
	}
	r.strategy = s
	return r, nil
}

// expirer 返回分区 rc.CacheName 的过期插件，首次使用时创建。
// 配置校验已保证共享分区的路由使用相同的过期设置。
func (a *App) expirer(rc appconf.Route) (*xexpire.Plugin, error) {
	if p, ok := a.expirers[rc.CacheName]; ok {
		return p, nil
	}
	p, err := xexpire.NewPlugin(a.storage, a.index,
		xexpire.Policy{MaxEntries: rc.MaxEntries, MaxAge: rc.MaxAge},
		xexpire.PurgeOnQuotaError(a.quota),
		xexpire.WithLogger(a.logger),
	)
	if err != nil {
		return nil, err
	}
	a.expirers[rc.CacheName] = p
	return p, nil
}

// Router 返回装配好的路由器。
func (a *App) Router() *xroute.Router { return a.router }

// Tracker 返回登记请求后台工作的跟踪器。
func (a *App) Tracker() *xevent.Tracker { return a.tracker }

// Wait 等待全部后台缓存写入和过期清理结束。
func (a *App) Wait(ctx context.Context) error {
	err := a.tracker.Wait(ctx)
	for _, p := range a.expirers {
		p.Wait()
	}
	return err
}

// Close 释放存储、索引和自行创建的 Redis 客户端。
func (a *App) Close() error {
	var errs []error
	if a.storage != nil {
		errs = append(errs, a.storage.Close())
	}
	if a.index != nil {
		errs = append(errs, a.index.Close())
	}
	if a.ownsRedis && a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	return errors.Join(errs...)
}
