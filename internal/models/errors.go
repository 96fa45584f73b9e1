package models

import "errors"

var (
	// ErrModelUnavailable means no artifact is active for a model family.
	ErrModelUnavailable = errors.New("model unavailable")
	// ErrVersionNotFound means the arena holds no artifact with that version.
	ErrVersionNotFound = errors.New("model version not found")
	// ErrInvalidArtifact means an artifact's parameters do not fit its family.
	ErrInvalidArtifact = errors.New("invalid model artifact")
)
