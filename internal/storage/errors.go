package storage

import "errors"

// ErrUnavailable is returned (wrapped) when the backing store cannot be reached.
var ErrUnavailable = errors.New("counter store unavailable")

// ErrClosed is returned by operations on a store that has been closed.
var ErrClosed = errors.New("counter store closed")
