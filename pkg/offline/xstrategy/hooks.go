package xstrategy

import (
	"context"
	"net/http"
	"sync"

	"github.com/omeyang/xoffline/pkg/offline/xevent"
	"github.com/omeyang/xoffline/pkg/offline/xresponse"
	"github.com/omeyang/xoffline/pkg/storage/xblob"
)

// Plugin 是插件。插件可以实现下面任意数量的钩子接口，
// 未实现的钩子不会被调用。同一钩子按插件注册顺序执行。
type Plugin any

// Mode 表示缓存键的用途。
type Mode string

const (
	// ModeRead 查找缓存时使用的键。
	ModeRead Mode = "read"
	// ModeWrite 写入缓存时使用的键。
	ModeWrite Mode = "write"
)

// State 是单个插件在一次请求内的私有状态。
// 同一请求的前台处理和后台写入可能并发访问，因此内部加锁。
type State struct {
	mu sync.Mutex
	m  map[string]any
}

// Load 读取键值。
func (s *State) Load(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[key]
	return v, ok
}

// Store 写入键值。
func (s *State) Store(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m == nil {
		s.m = make(map[string]any)
	}
	s.m[key] = value
}

// =============================================================================
// 钩子参数
// =============================================================================

// CacheKeyParam 是 CacheKeyWillBeUsed 的参数。
type CacheKeyParam struct {
	Mode    Mode
	Request *http.Request
	Event   xevent.Event
	Params  any
	State   *State
}

// RequestWillFetchParam 是 RequestWillFetch 的参数。Request 是副本，可以直接修改。
type RequestWillFetchParam struct {
	Request *http.Request
	Event   xevent.Event
	State   *State
}

// FetchDidSucceedParam 是 FetchDidSucceed 的参数。
type FetchDidSucceedParam struct {
	Request  *http.Request
	Response *xresponse.Response
	Event    xevent.Event
	State    *State
}

// FetchDidFailParam 是 FetchDidFail 的参数。
type FetchDidFailParam struct {
	// OriginalRequest 插件改写前的请求。
	OriginalRequest *http.Request
	// Request 实际发出的请求。
	Request *http.Request
	Err     error
	Event   xevent.Event
	State   *State
}

// CachedResponseParam 是 CachedResponseWillBeUsed 的参数。
type CachedResponseParam struct {
	CacheName      string
	MatchOptions   xblob.MatchOptions
	CachedResponse *xresponse.Response
	Request        *http.Request
	Event          xevent.Event
	State          *State
}

// CacheWillUpdateParam 是 CacheWillUpdate 的参数。
type CacheWillUpdateParam struct {
	Request  *http.Request
	Response *xresponse.Response
	Event    xevent.Event
	State    *State
}

// CacheDidUpdateParam 是 CacheDidUpdate 的参数。
type CacheDidUpdateParam struct {
	CacheName string
	// OldResponse 写入前同一资源（忽略版本参数）的旧响应，可能为 nil。
	OldResponse *xresponse.Response
	NewResponse *xresponse.Response
	Request     *http.Request
	Event       xevent.Event
	State       *State
}

// LifecycleParam 是 Handler* 系列钩子的参数。
// Response 与 Err 只在对应阶段有值。
type LifecycleParam struct {
	Request  *http.Request
	Response *xresponse.Response
	Err      error
	Event    xevent.Event
	State    *State
}

// =============================================================================
// 钩子接口
// =============================================================================

// CacheKeyWillBeUsed 改写读写缓存时使用的请求键。结果在一次请求内按 (url, mode) 缓存。
type CacheKeyWillBeUsed interface {
	CacheKeyWillBeUsed(ctx context.Context, p CacheKeyParam) (*http.Request, error)
}

// RequestWillFetch 在发出网络请求前改写请求。返回错误会以 *PluginError 中止请求。
type RequestWillFetch interface {
	RequestWillFetch(ctx context.Context, p RequestWillFetchParam) (*http.Request, error)
}

// FetchDidSucceed 在网络请求成功后观察或替换响应。
type FetchDidSucceed interface {
	FetchDidSucceed(ctx context.Context, p FetchDidSucceedParam) (*xresponse.Response, error)
}

// FetchDidFail 观察网络请求失败。
type FetchDidFail interface {
	FetchDidFail(ctx context.Context, p FetchDidFailParam) error
}

// CachedResponseWillBeUsed 在使用缓存命中前否决（返回 nil）或替换响应。
type CachedResponseWillBeUsed interface {
	CachedResponseWillBeUsed(ctx context.Context, p CachedResponseParam) (*xresponse.Response, error)
}

// CacheWillUpdate 在写入缓存前否决（返回 nil）或改写响应。
type CacheWillUpdate interface {
	CacheWillUpdate(ctx context.Context, p CacheWillUpdateParam) (*xresponse.Response, error)
}

// CacheDidUpdate 观察一次完成的缓存写入。
type CacheDidUpdate interface {
	CacheDidUpdate(ctx context.Context, p CacheDidUpdateParam) error
}

// HandlerWillStart 在策略开始处理请求前调用。
type HandlerWillStart interface {
	HandlerWillStart(ctx context.Context, p LifecycleParam) error
}

// HandlerWillRespond 在策略返回响应前改写响应。
type HandlerWillRespond interface {
	HandlerWillRespond(ctx context.Context, p LifecycleParam) (*xresponse.Response, error)
}

// HandlerDidRespond 在响应返回给调用方后调用。
type HandlerDidRespond interface {
	HandlerDidRespond(ctx context.Context, p LifecycleParam) error
}

// HandlerDidComplete 在全部后台工作结束后调用，Err 为后台工作的错误。
type HandlerDidComplete interface {
	HandlerDidComplete(ctx context.Context, p LifecycleParam) error
}

// HandlerDidError 在策略失败时调用，可以返回兜底响应；第一个非 nil 响应生效。
type HandlerDidError interface {
	HandlerDidError(ctx context.Context, p LifecycleParam) (*xresponse.Response, error)
}

// =============================================================================
// 钩子收集
// =============================================================================

// hook 绑定一个钩子实现和它所属插件的状态。
type hook[T any] struct {
	impl  T
	state *State
}

// hookSet 按钩子类型分组的插件列表，构造 Handler 时一次性建立。
type hookSet struct {
	cacheKey         []hook[CacheKeyWillBeUsed]
	requestWillFetch []hook[RequestWillFetch]
	fetchDidSucceed  []hook[FetchDidSucceed]
	fetchDidFail     []hook[FetchDidFail]
	cachedResponse   []hook[CachedResponseWillBeUsed]
	cacheWillUpdate  []hook[CacheWillUpdate]
	cacheDidUpdate   []hook[CacheDidUpdate]
	willStart        []hook[HandlerWillStart]
	willRespond      []hook[HandlerWillRespond]
	didRespond       []hook[HandlerDidRespond]
	didComplete      []hook[HandlerDidComplete]
	didError         []hook[HandlerDidError]
}

func newHookSet(plugins []Plugin) hookSet {
	var hs hookSet
	for _, p := range plugins {
		state := &State{}
		collect(&hs.cacheKey, p, state)
		collect(&hs.requestWillFetch, p, state)
		collect(&hs.fetchDidSucceed, p, state)
		collect(&hs.fetchDidFail, p, state)
		collect(&hs.cachedResponse, p, state)
		collect(&hs.cacheWillUpdate, p, state)
		collect(&hs.cacheDidUpdate, p, state)
		collect(&hs.willStart, p, state)
		collect(&hs.willRespond, p, state)
		collect(&hs.didRespond, p, state)
		collect(&hs.didComplete, p, state)
		collect(&hs.didError, p, state)
	}
	return hs
}

func collect[T any](dst *[]hook[T], p Plugin, state *State) {
	if impl, ok := p.(T); ok {
		*dst = append(*dst, hook[T]{impl: impl, state: state})
	}
}
