// Package params converts typed query parameters into the canonical string
// form the market-data API expects in its query string.
package params

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// TimeLayout is the ISO-8601 layout used for timestamps. Zones are stripped
// after conversion to UTC; fractional seconds appear only when non-zero.
const TimeLayout = "2006-01-02T15:04:05.999999999"

// ErrUnsupportedParameterType is the sentinel wrapped by UnsupportedParameterTypeError.
var ErrUnsupportedParameterType = errors.New("unsupported parameter type")

// UnsupportedParameterTypeError reports a value that cannot be rendered for
// the named parameter.
type UnsupportedParameterTypeError struct {
	Name   string
	Type   string
	Reason string
}

// Error implements the error interface.
func (e *UnsupportedParameterTypeError) Error() string {
	return fmt.Sprintf("parameter %q: unsupported type %s: %s", e.Name, e.Type, e.Reason)
}

// Unwrap allows errors.Is(err, ErrUnsupportedParameterType).
func (e *UnsupportedParameterTypeError) Unwrap() error {
	return ErrUnsupportedParameterType
}

// Enum is implemented by enumerated parameter values. The API value is
// used instead of the Go string form.
type Enum interface {
	EnumValue() string
}

// IsTimeParam reports whether a parameter name follows the time naming
// convention (`time`, or a `_time` suffix such as start_time or end_time).
func IsTimeParam(name string) bool {
	return name == "time" || strings.HasSuffix(name, "_time")
}

// Normalize renders every non-null parameter as a string. Lists are joined
// with commas, booleans become "true"/"false", enums their API value and
// timestamps UTC ISO-8601 without zone. A timestamp passed to a parameter
// that is not time-named fails with UnsupportedParameterTypeError.
func Normalize(in map[string]any) (map[string]string, error) {
	out := make(map[string]string, len(in))
	for name, value := range in {
		s, ok, err := normalizeValue(name, value)
		if err != nil {
			return nil, err
		}
		if ok {
			out[name] = s
		}
	}
	return out, nil
}

// FormatTime renders t the way Normalize renders timestamps.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

func normalizeValue(name string, value any) (string, bool, error) {
	if isNull(value) {
		return "", false, nil
	}

	switch v := value.(type) {
	case string:
		return v, true, nil
	case bool:
		return strconv.FormatBool(v), true, nil
	case time.Time:
		if !IsTimeParam(name) {
			return "", false, &UnsupportedParameterTypeError{
				Name:   name,
				Type:   "time.Time",
				Reason: "timestamps are only accepted for time parameters",
			}
		}
		return FormatTime(v), true, nil
	case *time.Time:
		return normalizeValue(name, *v)
	case Enum:
		return v.EnumValue(), true, nil
	case fmt.Stringer:
		return v.String(), true, nil
	case []string:
		return strings.Join(v, ","), true, nil
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Ptr:
		return normalizeValue(name, rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		parts := make([]string, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			s, ok, err := normalizeValue(name, rv.Index(i).Interface())
			if err != nil {
				return "", false, err
			}
			if ok {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ","), true, nil
	case reflect.Map, reflect.Func, reflect.Chan, reflect.Struct:
		return "", false, &UnsupportedParameterTypeError{
			Name:   name,
			Type:   rv.Type().String(),
			Reason: "value has no query string form",
		}
	}

	return fmt.Sprint(value), true, nil
}

func isNull(value any) bool {
	if value == nil {
		return true
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice:
		return rv.IsNil()
	}
	return false
}
