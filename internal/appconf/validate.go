package appconf

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"

	"github.com/robfig/cron/v3"

	"github.com/omeyang/xoffline/pkg/offline/xstrategy"
)

var validMethods = map[string]bool{
	"GET": true, "HEAD": true, "POST": true, "PUT": true, "DELETE": true, "PATCH": true,
}

// Validate 校验配置，返回全部问题。
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	if c.Server.Addr == "" {
		add("server.addr is required")
	}
	if _, err := c.UpstreamURL(); err != nil {
		add("server.upstream: %v", err)
	}
	if c.Server.ShutdownTimeout < 0 {
		add("server.shutdown_timeout must not be negative")
	}

	switch c.Storage.Driver {
	case DriverMemory, DriverRedis:
	default:
		add("storage.driver %q (want memory or redis)", c.Storage.Driver)
	}
	if c.Storage.QuotaBytes < 0 || c.Storage.LocalCacheBytes < 0 {
		add("storage sizes must not be negative")
	}

	switch c.Index.Driver {
	case DriverMemory, DriverRedis:
	case DriverSQLite:
		if c.Index.SQLitePath == "" {
			add("index.sqlite_path is required for the sqlite driver")
		}
	default:
		add("index.driver %q (want memory, sqlite or redis)", c.Index.Driver)
	}
	if (c.Storage.Driver == DriverRedis || c.Index.Driver == DriverRedis) && c.Redis.Addr == "" {
		add("redis.addr is required for the redis driver")
	}

	if len(c.Routes) == 0 {
		add("at least one route is required")
	}
	// 同一分区只能有一个过期管理器，共享分区的路由必须使用相同的过期设置
	policyOf := make(map[string]int, len(c.Routes))
	for i, r := range c.Routes {
		if j, ok := policyOf[r.CacheName]; ok {
			if o := c.Routes[j]; o.MaxEntries != r.MaxEntries || o.MaxAge != r.MaxAge {
				add("routes[%d]: cache %q is shared with routes[%d] but uses different max_entries or max_age", i, r.CacheName, j)
			}
		} else {
			policyOf[r.CacheName] = i
		}
		if _, err := regexp.Compile(r.Pattern); err != nil || r.Pattern == "" {
			add("routes[%d].pattern %q: invalid regexp", i, r.Pattern)
		}
		if !validMethods[r.Method] {
			add("routes[%d].method %q", i, r.Method)
		}
		if r.CacheName == "" {
			add("routes[%d].cache_name is required", i)
		}
		if r.MaxEntries < 0 || r.MaxAge < 0 {
			add("routes[%d]: max_entries and max_age must not be negative", i)
		}
		if r.Expires() && r.CacheName == xstrategy.DefaultCacheName {
			add("routes[%d]: expiration cannot manage the default runtime cache %q", i, r.CacheName)
		}
	}

	if c.Sweep.Schedule != "" {
		if _, err := cron.ParseStandard(c.Sweep.Schedule); err != nil {
			add("sweep.schedule %q: %v", c.Sweep.Schedule, err)
		}
	}

	switch c.Log.Format {
	case "", "text", "json":
	default:
		add("log.format %q (want text or json)", c.Log.Format)
	}
	return errors.Join(errs...)
}

// UpstreamURL 解析上游地址，要求是绝对 http(s) 地址。
func (c Config) UpstreamURL() (*url.URL, error) {
	u, err := url.Parse(c.Server.Upstream)
	if err != nil {
		return nil, err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%q is not an absolute http(s) url", c.Server.Upstream)
	}
	return u, nil
}

// Expires 报告路由是否启用过期管理。
func (r Route) Expires() bool {
	return r.MaxEntries > 0 || r.MaxAge > 0
}
