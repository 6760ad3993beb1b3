package authz

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/platinummonkey/tenantguard/pkg/rbac"
	"github.com/platinummonkey/tenantguard/pkg/scope"
)

// LookupError reports that the assignment or a resource location could not
// be read. It is never a decision.
type LookupError struct {
	UserID   string
	UserType rbac.UserType
	Stage    string
	Err      error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("authz: %s lookup for %s:%s failed: %v", e.Stage, e.UserType, e.UserID, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

// IsLookupError reports whether err is a *LookupError
func IsLookupError(err error) bool {
	var le *LookupError
	return errors.As(err, &le)
}

// IsUnavailable reports whether err means the decision could not be made
// because a backing store failed
func IsUnavailable(err error) bool {
	return IsLookupError(err) || scope.IsResolutionError(err)
}

// StatusCode maps an evaluation error to an HTTP status
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case rbac.IsValidationError(err):
		return http.StatusBadRequest
	case IsUnavailable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
