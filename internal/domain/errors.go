package domain

import (
	"errors"
	"fmt"
)

var (
	ErrAuthorizationDenied = errors.New("authorization denied")
	ErrNotInRoom           = errors.New("not in room")
	ErrTargetNotFound      = errors.New("target not found")
	ErrInvalidTarget       = errors.New("invalid target")
)

// Denial is returned by privileged or membership-bound operations that were
// refused. No state was changed when a Denial is returned.
type Denial struct {
	Op     string
	Err    error
	Reason string
}

func (d *Denial) Error() string {
	if d.Reason != "" {
		return fmt.Sprintf("%s: %v (%s)", d.Op, d.Err, d.Reason)
	}
	return fmt.Sprintf("%s: %v", d.Op, d.Err)
}

func (d *Denial) Unwrap() error { return d.Err }

func Deny(op string, err error, reason string) *Denial {
	return &Denial{Op: op, Err: err, Reason: reason}
}

// DenialCode maps a denial to the slug sent to clients.
func DenialCode(err error) string {
	switch {
	case errors.Is(err, ErrAuthorizationDenied):
		return "authorization_denied"
	case errors.Is(err, ErrNotInRoom):
		return "not_in_room"
	case errors.Is(err, ErrTargetNotFound):
		return "target_not_found"
	case errors.Is(err, ErrInvalidTarget):
		return "invalid_target"
	default:
		return "error"
	}
}
