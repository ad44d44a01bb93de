package xhost

import "errors"

var (
	// ErrNilRouter 表示未提供 Router。
	ErrNilRouter = errors.New("xhost: nil router")

	// ErrEmptyWarmList 表示预热请求没有给出任何 URL。
	ErrEmptyWarmList = errors.New("xhost: empty url list")
)
