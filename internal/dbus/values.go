package dbus

import (
	"fmt"
	"math"

	"codeberg.org/mutker/fanmon/internal/errors"
	godbus "github.com/godbus/dbus/v5"
)

const (
	propertiesInterface = "org.freedesktop.DBus.Properties"
	propertiesChanged   = "PropertiesChanged"
	propertiesGet       = propertiesInterface + ".Get"
	propertiesSet       = propertiesInterface + ".Set"
)

// ToInt64 converts any numeric bus value to int64. Doubles are rounded.
func ToInt64(v any) (int64, error) {
	errFactory := errors.New()

	if variant, ok := v.(godbus.Variant); ok {
		v = variant.Value()
	}

	switch n := v.(type) {
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, errFactory.WithData(ErrInvalidValue, fmt.Sprintf("%d overflows int64", n))
		}
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case byte:
		return int64(n), nil
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) || n > math.MaxInt64 || n < math.MinInt64 {
			return 0, errFactory.WithData(ErrInvalidValue, fmt.Sprintf("%v is not a speed", n))
		}
		return int64(math.Round(n)), nil
	default:
		return 0, errFactory.WithData(ErrInvalidValue, fmt.Sprintf("unsupported type %T", v))
	}
}

// decodePropertiesChanged unpacks a PropertiesChanged signal body
func decodePropertiesChanged(sig *godbus.Signal) (string, map[string]godbus.Variant, bool) {
	if sig == nil || sig.Name != propertiesInterface+"."+propertiesChanged || len(sig.Body) < 2 {
		return "", nil, false
	}

	iface, ok := sig.Body[0].(string)
	if !ok {
		return "", nil, false
	}

	changed, ok := sig.Body[1].(map[string]godbus.Variant)
	if !ok {
		return "", nil, false
	}

	return iface, changed, true
}

func matchOptions(path, iface string) []godbus.MatchOption {
	return []godbus.MatchOption{
		godbus.WithMatchObjectPath(godbus.ObjectPath(path)),
		godbus.WithMatchInterface(propertiesInterface),
		godbus.WithMatchMember(propertiesChanged),
		godbus.WithMatchArg(0, iface),
	}
}

// MatchRule returns the match rule used for a property subscription
func MatchRule(path, iface string) string {
	return fmt.Sprintf("type='signal',interface='%s',member='%s',path='%s',arg0='%s'",
		propertiesInterface, propertiesChanged, path, iface)
}
