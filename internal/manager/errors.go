package manager

import "codeberg.org/mutker/fanmon/internal/errors"

const (
	ErrNoFans       = errors.ErrorCode("manager_no_fans")
	ErrSetFullSpeed = errors.ErrorCode("manager_set_full_speed_failed")
	ErrInitMode     = errors.ErrInitMode
	ErrMainLoop     = errors.ErrMainLoop
)
