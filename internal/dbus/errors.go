package dbus

import (
	"fmt"

	"codeberg.org/mutker/fanmon/internal/errors"
	"github.com/rs/zerolog"
)

const (
	ErrConnectFailed  = errors.ErrorCode("dbus_connect_failed")
	ErrServiceLookup  = errors.ErrorCode("dbus_service_lookup_failed")
	ErrMethodFailed   = errors.ErrorCode("dbus_method_failed")
	ErrPropertyFailed = errors.ErrorCode("dbus_property_failed")
	ErrMatchFailed    = errors.ErrorCode("dbus_match_failed")
	ErrInvalidValue   = errors.ErrorCode("dbus_invalid_value")
)

// Context identifies the remote object a bus failure concerns. Member is
// the method or property name depending on the error code.
type Context struct {
	BusName   string
	Path      string
	Interface string
	Member    string
}

func (c Context) String() string {
	return fmt.Sprintf("busname=%s path=%s interface=%s member=%s", c.BusName, c.Path, c.Interface, c.Member)
}

// MarshalZerologObject logs the fields relevant to err's code
func (c Context) MarshalZerologObject(e *zerolog.Event) {
	if c.BusName != "" {
		e.Str("busname", c.BusName)
	}
	e.Str("path", c.Path).Str("interface", c.Interface)
	if c.Member != "" {
		e.Str("member", c.Member)
	}
}

// Describe finds the innermost bus error in err's chain and returns its
// code and context.
func Describe(err error) (errors.ErrorCode, Context, bool) {
	var (
		code  errors.ErrorCode
		ctx   Context
		found bool
	)

	for err != nil {
		if e, ok := err.(errors.Error); ok {
			if c, ok := e.GetData().(Context); ok {
				code, ctx, found = e.Code(), c, true
			}
		}
		err = errors.Unwrap(err)
	}

	return code, ctx, found
}

// Kind names a bus error code the way operators read it
func Kind(code errors.ErrorCode) string {
	switch code {
	case ErrServiceLookup:
		return "service lookup"
	case ErrMethodFailed:
		return "method"
	case ErrPropertyFailed:
		return "property access"
	case ErrMatchFailed:
		return "signal match"
	case ErrInvalidValue:
		return "property value"
	default:
		return "bus"
	}
}
