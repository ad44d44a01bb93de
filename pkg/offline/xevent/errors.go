package xevent

import "errors"

var (
	// ErrNilFunc 表示传给 Go 的函数为 nil。
	ErrNilFunc = errors.New("xevent: nil function")

	// ErrTaskPanic 表示后台函数发生了 panic。
	ErrTaskPanic = errors.New("xevent: task panicked")
)
