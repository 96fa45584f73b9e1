package delivery

import (
	"errors"
	"fmt"

	"github.com/ignite/habit-coach/internal/domain"
)

// Sentinel errors for the delivery service layer.
var (
	ErrNotFound          = errors.New("message not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrDeliveryFailed    = errors.New("delivery failed")
)

// TransitionError names the rejected transition.
type TransitionError struct {
	MessageID string
	From, To  domain.MessageStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("message %s: %s -> %s not allowed", e.MessageID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// DeliveryError is returned by a Deliverer when the gateway rejected the
// message or could not be reached after its retries.
type DeliveryError struct {
	MessageID  string
	StatusCode int
	Attempts   int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("deliver %s: gateway status %d after %d attempt(s)", e.MessageID, e.StatusCode, e.Attempts)
	}
	return fmt.Sprintf("deliver %s after %d attempt(s): %v", e.MessageID, e.Attempts, e.Err)
}

func (e *DeliveryError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrDeliveryFailed}
	}
	return []error{ErrDeliveryFailed, e.Err}
}
