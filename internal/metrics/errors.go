package metrics

import "codeberg.org/mutker/fanmon/internal/errors"

const (
	ErrRegisterFailed = errors.ErrorCode("metrics_register_failed")
	ErrServeFailed    = errors.ErrorCode("metrics_serve_failed")
	ErrServeShutdown  = errors.ErrShutdownFailed
)
