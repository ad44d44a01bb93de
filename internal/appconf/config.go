package appconf

import (
	"net/http"
	"time"
)

// 默认值。
const (
	DefaultAddr            = ":8080"
	DefaultUpstream        = "http://localhost:8081"
	DefaultWarmPath        = "/_xoffline/warm"
	DefaultHealthPath      = "/_xoffline/healthz"
	DefaultShutdownTimeout = 30 * time.Second

	// DefaultPreviewPattern 匹配文件预览地址，例如 /apps/files/preview 或 /core/preview.png。
	DefaultPreviewPattern = `(?i)^.*/(apps|core)(/[a-z-_]+)?/preview.*`
	DefaultCacheName      = "previews"
	DefaultMaxEntries     = 10000
	DefaultMaxAge         = 7 * 24 * time.Hour
)

// 存储驱动。
const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
	DriverSQLite = "sqlite"
)

// Config 是 xofflined 的完整配置。
type Config struct {
	Server  Server  `koanf:"server"`
	Storage Storage `koanf:"storage"`
	Index   Index   `koanf:"index"`
	Redis   Redis   `koanf:"redis"`
	Fetch   Fetch   `koanf:"fetch"`
	Routes  []Route `koanf:"routes"`
	Sweep   Sweep   `koanf:"sweep"`
	Log     Log     `koanf:"log"`
}

// Server 配置 HTTP 入口。
type Server struct {
	// Addr 监听地址。
	Addr string `koanf:"addr"`

	// Upstream 上游地址。路由匹配、网络请求和未命中路由的反向代理都指向它。
	Upstream string `koanf:"upstream"`

	// WarmPath 预热接口路径，空字符串禁用。
	WarmPath string `koanf:"warm_path"`

	// HealthPath 健康检查路径，空字符串禁用。
	HealthPath string `koanf:"health_path"`

	// ShutdownTimeout 优雅关闭时等待请求和后台缓存写入的上限。
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// Storage 配置响应存储。
type Storage struct {
	// Driver 为 memory 或 redis。
	Driver string `koanf:"driver"`

	// QuotaBytes memory 驱动的容量上限，0 表示不限。
	QuotaBytes int64 `koanf:"quota_bytes"`

	// LocalCacheBytes redis 驱动的进程内读缓存容量，0 表示不启用。
	LocalCacheBytes int64 `koanf:"local_cache_bytes"`

	// LocalCacheTTL 进程内读缓存的存活时间，0 表示不过期。
	LocalCacheTTL time.Duration `koanf:"local_cache_ttl"`
}

// Index 配置时间戳索引。
type Index struct {
	// Driver 为 memory、sqlite 或 redis。
	Driver string `koanf:"driver"`

	// SQLitePath sqlite 驱动的数据库文件路径。
	SQLitePath string `koanf:"sqlite_path"`
}

// Redis 是 redis 驱动共用的连接配置。
type Redis struct {
	Addr      string `koanf:"addr"`
	Password  string `koanf:"password"`
	DB        int    `koanf:"db"`
	KeyPrefix string `koanf:"key_prefix"`
}

// Fetch 配置网络请求。
type Fetch struct {
	Timeout          time.Duration `koanf:"timeout"`
	Attempts         uint          `koanf:"attempts"`
	RetryDelay       time.Duration `koanf:"retry_delay"`
	BreakerThreshold uint32        `koanf:"breaker_threshold"`
	BreakerTimeout   time.Duration `koanf:"breaker_timeout"`
	MaxBodyBytes     int64         `koanf:"max_body_bytes"`
}

// Route 是一条缓存路由。
type Route struct {
	// Pattern 匹配完整 URL 的正则表达式。
	Pattern string `koanf:"pattern"`

	// Method 匹配的请求方法，默认 GET。
	Method string `koanf:"method"`

	// CacheName 缓存分区名。
	CacheName string `koanf:"cache_name"`

	// MaxEntries 分区最多保留的条目数，0 表示不限。
	MaxEntries int `koanf:"max_entries"`

	// MaxAge 条目最长存活时间，0 表示不限。MaxEntries 和 MaxAge 都为 0 时不做过期管理。
	MaxAge time.Duration `koanf:"max_age"`

	// IgnoreParams 生成缓存键时忽略的查询参数。
	IgnoreParams []string `koanf:"ignore_params"`

	// CacheableStatuses 允许缓存的状态码，为空时只缓存 200。
	CacheableStatuses []int `koanf:"cacheable_statuses"`
}

// Sweep 配置定时过期清理。
type Sweep struct {
	// Schedule 标准 cron 表达式或 @every 描述，空字符串禁用。
	Schedule string `koanf:"schedule"`
}

// Log 配置日志输出。
type Log struct {
	// Level 为 debug、info、warn 或 error。
	Level string `koanf:"level"`

	// Format 为 text 或 json。
	Format string `koanf:"format"`

	// File 日志文件路径，空字符串输出到 stderr。
	File string `koanf:"file"`

	MaxSizeMB  int  `koanf:"max_size_mb"`
	MaxBackups int  `koanf:"max_backups"`
	MaxAgeDays int  `koanf:"max_age_days"`
	Compress   bool `koanf:"compress"`
}

// Default 返回默认配置：一条预览路由，内存存储和内存索引。
func Default() Config {
	return Config{
		Server: Server{
			Addr:            DefaultAddr,
			Upstream:        DefaultUpstream,
			WarmPath:        DefaultWarmPath,
			HealthPath:      DefaultHealthPath,
			ShutdownTimeout: DefaultShutdownTimeout,
		},
		Storage: Storage{Driver: DriverMemory},
		Index:   Index{Driver: DriverMemory, SQLitePath: "xoffline.db"},
		Redis:   Redis{Addr: "localhost:6379", KeyPrefix: "xoffline:"},
		Fetch: Fetch{
			Timeout:          30 * time.Second,
			Attempts:         3,
			RetryDelay:       100 * time.Millisecond,
			BreakerThreshold: 5,
			BreakerTimeout:   30 * time.Second,
		},
		Routes: []Route{DefaultRoute()},
		Sweep:  Sweep{Schedule: "@every 10m"},
		Log: Log{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  100,
			MaxBackups: 7,
			MaxAgeDays: 30,
			Compress:   true,
		},
	}
}

// DefaultRoute 返回预览缓存路由：保留最近 10000 条，最长 7 天。
func DefaultRoute() Route {
	return Route{
		Pattern:    DefaultPreviewPattern,
		Method:     http.MethodGet,
		CacheName:  DefaultCacheName,
		MaxEntries: DefaultMaxEntries,
		MaxAge:     DefaultMaxAge,
	}
}
