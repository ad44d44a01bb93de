package xhost

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/omeyang/xoffline/pkg/offline/xroute"
)

// WarmRequest 是预热接口的请求体。
type WarmRequest struct {
	URLs []string `json:"urls"`
}

// WarmResponse 是预热接口的响应体。
type WarmResponse struct {
	Requested int    `json:"requested"`
	Error     string `json:"error,omitempty"`
}

// WarmHandler 返回预热接口：POST 一组 URL，经正常路由处理后写入缓存。
// 相对 URL 相对 Router 源解析。部分 URL 失败时返回 502 并附带第一个错误。
func WarmHandler(router *xroute.Router, opts ...Option) http.Handler {
	h := newHost(router, opts)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			writeJSON(w, http.StatusMethodNotAllowed, WarmResponse{Error: http.StatusText(http.StatusMethodNotAllowed)})
			return
		}

		var body WarmRequest
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.opts.maxWarmBody))
		if err := dec.Decode(&body); err != nil {
			status := http.StatusBadRequest
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				status = http.StatusRequestEntityTooLarge
			}
			writeJSON(w, status, WarmResponse{Error: fmt.Sprintf("decode body: %v", err)})
			return
		}
		if len(body.URLs) == 0 {
			writeJSON(w, http.StatusBadRequest, WarmResponse{Error: ErrEmptyWarmList.Error()})
			return
		}

		if err := h.router.Warm(r.Context(), body.URLs, h.opts.event); err != nil {
			if h.opts.logger != nil {
				h.opts.logger.Warn("warm failed", slog.Int("urls", len(body.URLs)), slog.Any("error", err))
			}
			writeJSON(w, http.StatusBadGateway, WarmResponse{Requested: len(body.URLs), Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, WarmResponse{Requested: len(body.URLs)})
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	// 写入失败通常表示客户端已断开
	_ = json.NewEncoder(w).Encode(v)
}
