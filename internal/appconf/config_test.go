package appconf

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	require.Len(t, cfg.Routes, 1)
	r := cfg.Routes[0]
	assert.Equal(t, "previews", r.CacheName)
	assert.Equal(t, 10000, r.MaxEntries)
	assert.Equal(t, 604800*time.Second, r.MaxAge)
	assert.True(t, r.Expires())

	re := regexp.MustCompile(r.Pattern)
	assert.True(t, re.MatchString("https://cloud.example/apps/files/preview?fileId=1"))
	assert.True(t, re.MatchString("https://cloud.example/core/preview.png?x=32"))
	assert.True(t, re.MatchString("https://cloud.example/index.php/Apps/Files_Sharing/Preview"))
	assert.False(t, re.MatchString("https://cloud.example/apps/files/download"))
}

func TestLoadBytes_YAML(t *testing.T) {
	data := []byte(`
server:
  addr: ":9000"
  upstream: "https://cloud.example"
  shutdown_timeout: 5s
storage:
  driver: redis
  local_cache_bytes: 1048576
  local_cache_ttl: 1m
index:
  driver: sqlite
  sqlite_path: /tmp/index.db
redis:
  addr: "redis:6379"
routes:
  - pattern: '^https://cloud\.example/avatar/.*'
    method: get
    cache_name: avatars
    max_entries: 50
    ignore_params: [v]
    cacheable_statuses: [0, 200]
sweep:
  schedule: "*/5 * * * *"
log:
  level: debug
  format: json
`)
	cfg, err := LoadBytes(data, FormatYAML)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, DefaultWarmPath, cfg.Server.WarmPath, "unset fields keep defaults")
	assert.Equal(t, DriverRedis, cfg.Storage.Driver)
	assert.Equal(t, int64(1<<20), cfg.Storage.LocalCacheBytes)
	assert.Equal(t, time.Minute, cfg.Storage.LocalCacheTTL)
	assert.Equal(t, DriverSQLite, cfg.Index.Driver)
	assert.Equal(t, "xoffline:", cfg.Redis.KeyPrefix)

	require.Len(t, cfg.Routes, 1, "file routes replace the default route")
	r := cfg.Routes[0]
	assert.Equal(t, "GET", r.Method)
	assert.Equal(t, "avatars", r.CacheName)
	assert.Equal(t, []string{"v"}, r.IgnoreParams)
	assert.Equal(t, []int{0, 200}, r.CacheableStatuses)
	assert.Zero(t, r.MaxAge)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_JSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "xoffline.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"server":{"upstream":"http://127.0.0.1:9999"},"sweep":{"schedule":""}}`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:9999", cfg.Server.Upstream)
	assert.Empty(t, cfg.Sweep.Schedule)
	assert.Equal(t, DefaultCacheName, cfg.Routes[0].CacheName)

	u, err := cfg.UpstreamURL()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", u.Host)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load("")
	assert.ErrorIs(t, err, ErrEmptyPath)

	_, err = Load("config.toml")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, ErrLoadFailed)

	_, err = LoadBytes([]byte("server: [unclosed"), FormatYAML)
	assert.ErrorIs(t, err, ErrParseFailed)

	_, err = LoadBytes(nil, Format("toml"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty addr", func(c *Config) { c.Server.Addr = "" }},
		{"relative upstream", func(c *Config) { c.Server.Upstream = "/cloud" }},
		{"ftp upstream", func(c *Config) { c.Server.Upstream = "ftp://cloud.example" }},
		{"storage driver", func(c *Config) { c.Storage.Driver = "s3" }},
		{"index driver", func(c *Config) { c.Index.Driver = "bolt" }},
		{"sqlite path", func(c *Config) { c.Index.Driver = DriverSQLite; c.Index.SQLitePath = "" }},
		{"redis addr", func(c *Config) { c.Storage.Driver = DriverRedis; c.Redis.Addr = "" }},
		{"no routes", func(c *Config) { c.Routes = nil }},
		{"bad pattern", func(c *Config) { c.Routes[0].Pattern = "(" }},
		{"bad method", func(c *Config) { c.Routes[0].Method = "FETCH" }},
		{"no cache name", func(c *Config) { c.Routes[0].CacheName = "" }},
		{"negative entries", func(c *Config) { c.Routes[0].MaxEntries = -1 }},
		{"default cache expiration", func(c *Config) { c.Routes[0].CacheName = "xoffline-runtime" }},
		{"shared cache with another policy", func(c *Config) {
			r := DefaultRoute()
			r.Pattern = `/avatar/`
			r.MaxEntries = 10
			c.Routes = append(c.Routes, r)
		}},
		{"shared cache with and without expiration", func(c *Config) {
			r := DefaultRoute()
			r.Pattern = `/avatar/`
			r.MaxEntries, r.MaxAge = 0, 0
			c.Routes = append(c.Routes, r)
		}},
		{"bad schedule", func(c *Config) { c.Sweep.Schedule = "every tuesday" }},
		{"log format", func(c *Config) { c.Log.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestValidate_SharedCacheSamePolicy(t *testing.T) {
	cfg := Default()
	r := DefaultRoute()
	r.Pattern = `/avatar/`
	cfg.Routes = append(cfg.Routes, r)
	assert.NoError(t, cfg.Validate())
}

func TestValidate_DefaultCacheWithoutExpiration(t *testing.T) {
	cfg := Default()
	cfg.Routes[0].CacheName = "xoffline-runtime"
	cfg.Routes[0].MaxEntries = 0
	cfg.Routes[0].MaxAge = 0
	assert.NoError(t, cfg.Validate())
}
