package monitor

import "codeberg.org/mutker/fanmon/internal/errors"

const (
	// Construction errors
	ErrInvalidSensor   = errors.ErrorCode("monitor_invalid_sensor")
	ErrInvalidFan      = errors.ErrorCode("monitor_invalid_fan")
	ErrReadBaseline    = errors.ErrorCode("monitor_read_baseline_failed")
	ErrSubscribeFailed = errors.ErrorCode("monitor_subscribe_failed")
	ErrTimerFailed     = errors.ErrorCode("monitor_timer_registration_failed")

	// Runtime errors
	ErrInventoryUpdate = errors.ErrorCode("monitor_inventory_update_failed")
	ErrTeardown        = errors.ErrorCode("monitor_teardown_failed")
)
