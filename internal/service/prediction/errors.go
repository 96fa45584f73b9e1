package prediction

import "errors"

// Sentinel errors for the prediction service layer.
var (
	ErrInvalidRequest = errors.New("invalid prediction request")
	ErrUnknownType    = errors.New("unknown prediction type")
)
