package templates

import (
	"errors"
	"fmt"

	"github.com/ignite/habit-coach/internal/domain"
)

// Sentinel errors for template selection and rendering.
var (
	ErrNoTemplateAvailable = errors.New("no template available")
	ErrInvalidTemplate     = errors.New("invalid template")
	ErrNotFound            = errors.New("template not found")
)

// NoTemplateError names what could not be matched.
type NoTemplateError struct {
	Category  domain.MessageCategory
	Tone      domain.Tone
	Archetype domain.Archetype
}

func (e *NoTemplateError) Error() string {
	return fmt.Sprintf("no active template for category=%s tone=%s segment=%s", e.Category, e.Tone, e.Archetype)
}

func (e *NoTemplateError) Unwrap() error { return ErrNoTemplateAvailable }
