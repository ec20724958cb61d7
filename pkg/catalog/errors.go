package catalog

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidSecondaryLevel is matched by every *InvalidSecondaryLevelError.
var ErrInvalidSecondaryLevel = errors.New("invalid secondary level")

// InvalidSecondaryLevelError reports a flattening selector a kind does not
// support.
type InvalidSecondaryLevelError struct {
	Kind  string
	Level string
	Valid []string
}

func (e *InvalidSecondaryLevelError) Error() string {
	if len(e.Valid) == 0 {
		return fmt.Sprintf("%s: %s %q: %s takes no secondary level", ErrInvalidSecondaryLevel, e.Kind, e.Level, e.Kind)
	}
	return fmt.Sprintf("%s: %s %q: valid levels are %s", ErrInvalidSecondaryLevel, e.Kind, e.Level, strings.Join(e.Valid, ", "))
}

// Unwrap returns ErrInvalidSecondaryLevel.
func (e *InvalidSecondaryLevelError) Unwrap() error { return ErrInvalidSecondaryLevel }

// ErrUnknownKind is matched by every *UnknownKindError.
var ErrUnknownKind = errors.New("unknown catalog kind")

// UnknownKindError reports a catalog kind that is not registered.
type UnknownKindError struct {
	Kind  string
	Valid []string
}

func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("%s %q: valid kinds are %s", ErrUnknownKind, e.Kind, strings.Join(e.Valid, ", "))
}

// Unwrap returns ErrUnknownKind.
func (e *UnknownKindError) Unwrap() error { return ErrUnknownKind }
