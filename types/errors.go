package types

import "errors"

// exported errors
var (
	ErrNotFound          = errors.New("not found")
	ErrCompile           = errors.New("compile error")
	ErrUnsupportedEffect = errors.New("unsupported effect expression")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrNoModel           = errors.New("no model configured")
	ErrUnknownPolicyType = errors.New("unknown policy type")
	ErrUnsupportedChange = errors.New("unsupported policy change")
	ErrWatcherClosed     = errors.New("watcher is closed")
)
