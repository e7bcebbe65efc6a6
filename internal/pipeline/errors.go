package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

// Category names why a request or response was blocked.
type Category string

const (
	CategoryPolicyViolation   Category = "policy_violation"
	CategoryInputSafety       Category = "input_safety"
	CategoryOutputContract    Category = "output_contract"
	CategoryLedgerConsistency Category = "ledger_consistency"
	CategoryInternal          Category = "internal"
)

// ErrVerificationFailed is matched by every *Error via errors.Is.
var ErrVerificationFailed = errors.New("verification failed")

// Error is a blocked request or response. No payload accompanies it.
type Error struct {
	Category   Category `json:"error"`
	Violations []string `json:"violations"`
}

func (e *Error) Error() string {
	if len(e.Violations) == 0 {
		return fmt.Sprintf("%s: %s", ErrVerificationFailed, e.Category)
	}
	return fmt.Sprintf("%s: %s: %s", ErrVerificationFailed, e.Category, strings.Join(e.Violations, "; "))
}

func (e *Error) Unwrap() error { return ErrVerificationFailed }

// AsError returns the *Error in err's chain, if any.
func AsError(err error) (*Error, bool) {
	var pe *Error
	ok := errors.As(err, &pe)
	return pe, ok
}

func internalError(what string, err error) *Error {
	return &Error{Category: CategoryInternal, Violations: []string{fmt.Sprintf("%s: %v", what, err)}}
}
