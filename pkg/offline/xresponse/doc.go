// Package xresponse 定义离线缓存引擎内部流转的响应值。
//
// Response 把响应体完整读入内存，使同一响应可以同时返回给调用方并在后台写入缓存。
// 与 http.Response 之间的转换见 [FromHTTP] 与 [Response.WriteTo]。
package xresponse
