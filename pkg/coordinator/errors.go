package coordinator

import (
	"errors"
	"fmt"

	"github.com/andreweacott/jatekukko-exporter/pkg/portal"
)

// AuthError means the portal rejected the stored credentials. The caller should
// start re-authentication instead of retrying on the same schedule.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("portal rejected credentials: %v", e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// TransientError is any other refresh failure; the next scheduled refresh retries it.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// classify turns a raw portal error into AuthError or TransientError.
// Only the service listing, which is the first call of a cycle and triggers the
// login, is allowed to surface an AuthError.
func classify(op string, err error, authAware bool) error {
	if authAware && portal.IsUnauthorized(err) {
		return &AuthError{Err: err}
	}
	return &TransientError{Op: op, Err: err}
}

// errorKind labels an error for metrics
func errorKind(err error) string {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return "auth"
	}
	return "transient"
}
