package cache

import (
	"errors"
	"fmt"
)

// ErrBackend is matched with errors.Is for any persistent tier failure.
var ErrBackend = errors.New("cache backend error")

// BackendError names the tier and operation that failed.
type BackendError struct {
	Tier string
	Op   string
	Err  error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("cache %s %s: %v", e.Tier, e.Op, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrBackend) match.
func (e *BackendError) Is(target error) bool { return target == ErrBackend }
