package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrStale         = errors.New("subscription replaced")
	ErrFetch         = errors.New("price fetch failed")
	ErrSend          = errors.New("notification send failed")
	ErrRateLimited   = errors.New("rate limited")
	ErrLockHeld      = errors.New("lock already held")
)

// ConfigError describes why a subscription edit was rejected. It is the only
// error class that is reported back to the user synchronously.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid configuration: %s", e.Reason)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is lets errors.Is(err, ErrInvalidConfig) match any ConfigError.
func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// NewConfigError is shorthand for &ConfigError{Field: field, Reason: reason}.
func NewConfigError(field, reason string) error {
	return &ConfigError{Field: field, Reason: reason}
}
