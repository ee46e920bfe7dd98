package services

import (
	"errors"
	"fmt"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrValidation           = errors.New("invalid request")
	ErrFrameDropped         = errors.New("previous frame is still being analyzed")
	ErrInferenceTimeout     = errors.New("inference timed out")
	ErrInferenceBackend     = errors.New("inference backend failed")
	ErrNoBackend            = errors.New("no backend configured for tier")
)

// QuotaExceededError is returned when every tier a request may use is exhausted.
type QuotaExceededError struct {
	Decision QuotaDecision
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s on plan %s (%d/%d on %s)",
		e.Decision.Tier, e.Decision.PlanID, e.Decision.Used, e.Decision.Limit, e.Decision.Day)
}

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
