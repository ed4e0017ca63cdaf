package event

import "codeberg.org/mutker/fanmon/internal/errors"

const (
	ErrLoopClosed  = errors.ErrorCode("event_loop_closed")
	ErrInvalidTick = errors.ErrorCode("event_invalid_timer")
)
