package wit

import "github.com/vango-go/wit-lite/pkg/core"

// Error is the canonical error returned by every Client operation.
type Error = core.Error

// Error types
const (
	ErrUninitialized   = core.ErrUninitialized
	ErrInvalidArgument = core.ErrInvalidArgument
	ErrInvalidCallback = core.ErrInvalidCallback
	ErrBackend         = core.ErrBackend
	ErrQueryInProgress = core.ErrQueryInProgress
)

// IsType reports whether err carries the given error type.
var IsType = core.IsType
