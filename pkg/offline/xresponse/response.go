package xresponse

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Type 表示响应来源类型。
type Type string

const (
	// TypeBasic 普通同源响应。
	TypeBasic Type = "basic"

	// TypeOpaque 不透明响应，状态码为 0，内容不可读。
	// 默认缓存策略拒绝缓存此类响应，需由插件显式放行。
	TypeOpaque Type = "opaque"

	// TypeError 网络层错误响应，等价于没有响应。
	TypeError Type = "error"
)

// DefaultMaxBodySize 从 http.Response 读取响应体的默认上限（32 MiB）。
const DefaultMaxBodySize int64 = 32 << 20

// Response 是缓存与网络之间传递的响应值。
//
// 响应体完整保存在内存中，因此可以安全地多次读取和克隆。
// 缓存写入始终使用 [Response.Clone] 的副本，调用方持有的实例不会被后台写入修改。
type Response struct {
	// URL 响应对应的最终 URL。
	URL string `json:"url"`

	// Status HTTP 状态码；不透明响应为 0。
	Status int `json:"status"`

	// Header 响应头。
	Header http.Header `json:"header,omitempty"`

	// Body 响应体。
	Body []byte `json:"body,omitempty"`

	// Type 响应类型，为空时视为 TypeBasic。
	Type Type `json:"type,omitempty"`
}

// New 创建状态码为 status 的基础响应。
func New(url string, status int, body []byte) *Response {
	return &Response{
		URL:    url,
		Status: status,
		Header: make(http.Header),
		Body:   body,
		Type:   TypeBasic,
	}
}

// Opaque 创建不透明响应。
func Opaque(url string) *Response {
	return &Response{URL: url, Status: 0, Header: make(http.Header), Type: TypeOpaque}
}

// FromHTTP 读取 http.Response 并转换为 Response，同时关闭原始响应体。
// maxBody <= 0 时使用 DefaultMaxBodySize；超过上限返回 ErrBodyTooLarge。
func FromHTTP(resp *http.Response, maxBody int64) (*Response, error) {
	if resp == nil {
		return nil, ErrNilResponse
	}
	defer resp.Body.Close()

	if maxBody <= 0 {
		maxBody = DefaultMaxBodySize
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("xresponse: read body: %w", err)
	}
	if int64(len(body)) > maxBody {
		return nil, ErrBodyTooLarge
	}

	url := ""
	if resp.Request != nil && resp.Request.URL != nil {
		url = resp.Request.URL.String()
	}
	return &Response{
		URL:    url,
		Status: resp.StatusCode,
		Header: resp.Header.Clone(),
		Body:   body,
		Type:   TypeBasic,
	}, nil
}

// Clone 返回深拷贝。nil 接收者返回 nil。
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	c := *r
	c.Header = r.Header.Clone()
	if r.Body != nil {
		c.Body = bytes.Clone(r.Body)
	}
	return &c
}

// OK 判断状态码是否在 200-299。
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status <= 299
}

// IsError 判断是否为错误响应（nil 或 TypeError）。
func (r *Response) IsError() bool {
	return r == nil || r.Type == TypeError
}

// IsOpaque 判断是否为不透明响应。
func (r *Response) IsOpaque() bool {
	return r != nil && (r.Type == TypeOpaque || r.Status == 0)
}

// Size 返回响应体与响应头的近似字节数，用于进程内读缓存的开销估算。
func (r *Response) Size() int64 {
	if r == nil {
		return 0
	}
	n := int64(len(r.Body)) + int64(len(r.URL))
	for k, vs := range r.Header {
		for _, v := range vs {
			n += int64(len(k) + len(v))
		}
	}
	return n
}

// Date 解析 Date 响应头。
// 响应头缺失或无法解析时返回 false。
func (r *Response) Date() (time.Time, bool) {
	if r == nil || r.Header == nil {
		return time.Time{}, false
	}
	v := r.Header.Get("Date")
	if v == "" {
		return time.Time{}, false
	}
	t, err := http.ParseTime(v)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// WriteTo 将响应写入 http.ResponseWriter。
// 不透明响应与错误响应以 502 写出，因为它们没有可供转发的状态码。
func (r *Response) WriteTo(w http.ResponseWriter) error {
	if r.IsError() || r.IsOpaque() {
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return nil
	}
	h := w.Header()
	for k, vs := range r.Header {
		h[k] = append([]string(nil), vs...)
	}
	h.Set("Content-Length", strconv.Itoa(len(r.Body)))
	w.WriteHeader(r.Status)
	_, err := w.Write(r.Body)
	return err
}
