package xresponse

import "errors"

var (
	// ErrNilResponse 表示传入的 http.Response 为 nil。
	ErrNilResponse = errors.New("xresponse: nil response")

	// ErrBodyTooLarge 表示响应体超过读取上限。
	ErrBodyTooLarge = errors.New("xresponse: body exceeds size limit")
)
