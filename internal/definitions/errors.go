package definitions

import "codeberg.org/mutker/fanmon/internal/errors"

const (
	ErrReadDefinitions  = errors.ErrorCode("definitions_read_failed")
	ErrParseDefinitions = errors.ErrorCode("definitions_parse_failed")
	ErrInvalidFan       = errors.ErrorCode("definitions_invalid_fan")
	ErrDuplicateSensor  = errors.ErrorCode("definitions_duplicate_sensor")
)
