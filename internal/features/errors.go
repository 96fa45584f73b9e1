package features

import (
	"errors"
	"fmt"
)

// ErrInsufficientData is matched with errors.Is when a window holds fewer
// activities than the configured minimum.
var ErrInsufficientData = errors.New("insufficient activity data")

// InsufficientDataError carries the counts behind ErrInsufficientData.
type InsufficientDataError struct {
	UserID   string
	Count    int
	Required int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient activity data for user %s: %d activities, need %d", e.UserID, e.Count, e.Required)
}

// Unwrap lets errors.Is(err, ErrInsufficientData) match.
func (e *InsufficientDataError) Unwrap() error { return ErrInsufficientData }
