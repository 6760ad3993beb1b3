package rbac

import (
	"errors"
	"fmt"
)

// ValidationError reports a malformed request: an unknown permission
// triple, role or user type. It is distinct from a deny.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// ConfigurationError reports a broken role or catalog definition. It is
// only ever produced while building a registry.
type ConfigurationError struct {
	Role    string
	Problem string
	Err     error
}

func (e *ConfigurationError) Error() string {
	msg := "rbac configuration"
	if e.Role != "" {
		msg += " for role " + e.Role
	}
	msg += ": " + e.Problem
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// IsValidationError reports whether err wraps a *ValidationError
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsConfigurationError reports whether err wraps a *ConfigurationError
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
