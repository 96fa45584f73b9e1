package coaching

import "errors"

// ErrBusy is returned when another generation for the same user holds the
// per-user lock.
var ErrBusy = errors.New("generation already in progress for user")
