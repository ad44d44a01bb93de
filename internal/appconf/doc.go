// Package appconf 定义 xofflined 的配置结构，并用 koanf 从 YAML/JSON 加载。
//
// 文件中的字段叠加在 [Default] 之上；routes 列表出现时整体替换默认路由。
// 时长字段接受 "30s"、"168h" 等写法。
//
// 示例 (YAML):
//
//	server:
//	  addr: ":8080"
//	  upstream: "http://nextcloud.internal"
//	storage:
//	  driver: redis
//	  local_cache_bytes: 67108864
//	index:
//	  driver: sqlite
//	  sqlite_path: /var/lib/xoffline/index.db
//	redis:
//	  addr: "redis:6379"
//	routes:
//	  - pattern: '(?i)^.*/(apps|core)(/[a-z-_]+)?/preview.*'
//	    cache_name: previews
//	    max_entries: 10000
//	    max_age: 168h
//	    ignore_params: [utm_source, utm_medium]
//	sweep:
//	  schedule: "@every 10m"
package appconf
