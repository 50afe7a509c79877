package queue

import "errors"

// ErrClosed is returned by Push and Pop after Close.
var ErrClosed = errors.New("queue closed")
