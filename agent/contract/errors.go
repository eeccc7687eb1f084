package contract

import (
	"context"
	"errors"
	"net"
	"regexp"
)

var (
	ErrModelInvoke     = errors.New("model invoke failed")
	ErrSchemaViolation = errors.New("model response violates schema")
	ErrPromptMissing   = errors.New("required prompt is missing")
	ErrValidation      = errors.New("validation failed")

	ErrToolNotFound           = errors.New("tool not found")
	ErrValidationFailed       = errors.New("tool input validation failed")
	ErrConfirmationExpired    = errors.New("confirmation expired")
	ErrConfirmationMismatch   = errors.New("confirmation token mismatch")
	ErrTransientBackend       = errors.New("transient backend failure")
	ErrFatalBackend           = errors.New("fatal backend failure")
	ErrIllegalStateTransition = errors.New("illegal state transition")
	ErrForbidden              = errors.New("actor role not allowed")
	ErrBusinessRule           = errors.New("business rule rejected the operation")
	ErrTenantMismatch         = errors.New("workspace mismatch")
)

var serverErrorPattern = regexp.MustCompile(`(?i)(status[=: ]*5\d\d|\b(internal server error|service unavailable|bad gateway|gateway timeout|connection reset|connection refused|i/o timeout)\b)`)

// IsTransient reports whether err looks like a failure worth one retry:
// network errors, deadlines, and 5xx-class responses.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransientBackend) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, ErrFatalBackend) || errors.Is(err, ErrBusinessRule) || errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return serverErrorPattern.MatchString(err.Error())
}
