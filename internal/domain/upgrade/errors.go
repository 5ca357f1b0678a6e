package upgrade

import (
	"errors"
	"fmt"
	"strings"
)

// Reason is the code surfaced to callers when no upgrade can be offered or executed.
type Reason string

const (
	ReasonNotLoggedIn      Reason = "not_logged_in"
	ReasonNoSubscription   Reason = "no_subscription"
	ReasonNoBasePayment    Reason = "no_base_payment"
	ReasonInvalidCandidate Reason = "invalid_candidate"
	ReasonLockNotAcquired  Reason = "lock_not_acquired"
	ReasonNotUsable        Reason = "not_usable"
)

type reasonError struct {
	reason Reason
	msg    string
}

func (e *reasonError) Error() string { return e.msg }

var (
	ErrNotLoggedIn      error = &reasonError{ReasonNotLoggedIn, "user is not logged in"}
	ErrNoSubscription   error = &reasonError{ReasonNoSubscription, "user has no upgradeable subscription"}
	ErrNoBasePayment    error = &reasonError{ReasonNoBasePayment, "no subscription has a funding payment"}
	ErrInvalidCandidate error = &reasonError{ReasonInvalidCandidate, "upgrade candidate does not exist"}
	ErrLockNotAcquired  error = &reasonError{ReasonLockNotAcquired, "upgrade already in progress"}
	ErrNotUsable        error = &reasonError{ReasonNotUsable, "upgrade is no longer usable"}

	// ErrNoUpgradeNeeded means the base plan already grants everything asked for.
	ErrNoUpgradeNeeded = errors.New("no upgrade needed")
)

// ReasonOf returns the reason code carried by err, if any.
func ReasonOf(err error) (Reason, bool) {
	var re *reasonError
	if errors.As(err, &re) {
		return re.reason, true
	}
	return "", false
}

// NoDefaultPlanError reports that the catalog has no default plan granting the entitlements.
type NoDefaultPlanError struct {
	Entitlements []string
	LengthDays   int
}

func (e *NoDefaultPlanError) Error() string {
	return fmt.Sprintf("no default plan of %d days grants [%s]", e.LengthDays, strings.Join(e.Entitlements, ","))
}

// MisconfigurationError fails a single upgrade option.
type MisconfigurationError struct {
	OptionID int64
	Field    string
	Value    string
}

func (e *MisconfigurationError) Error() string {
	return fmt.Sprintf("upgrade option %d: invalid %s %q", e.OptionID, e.Field, e.Value)
}
