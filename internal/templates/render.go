package templates

import (
	"fmt"
	"strings"
	"sync"

	"github.com/osteele/liquid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Renderer renders Liquid templates with the coaching filters and caches
// parsed templates by key.
type Renderer struct {
	engine *liquid.Engine
	cache  sync.Map // map[string]*liquid.Template
}

// NewRenderer creates a renderer with custom filters registered.
func NewRenderer() *Renderer {
	r := &Renderer{engine: liquid.NewEngine()}
	r.registerFilters()
	return r
}

func (r *Renderer) registerFilters() {
	// {{ name | default: "there" }}
	r.engine.RegisterFilter("default", func(value interface{}, fallback string) interface{} {
		if value == nil {
			return fallback
		}
		if s := fmt.Sprintf("%v", value); s == "" || s == "<nil>" {
			return fallback
		}
		return value
	})

	// {{ name | titlecase }}
	title := cases.Title(language.Und)
	r.engine.RegisterFilter("titlecase", func(s string) string {
		return title.String(strings.ToLower(s))
	})

	// {{ streak | pluralize: "day", "days" }}
	r.engine.RegisterFilter("pluralize", func(n interface{}, one, many string) string {
		var v float64
		switch x := n.(type) {
		case int:
			v = float64(x)
		case int64:
			v = float64(x)
		case float64:
			v = x
		}
		if v == 1 {
			return one
		}
		return many
	})

	// {{ hour | clock }} renders 0-23 as "7am" / "7pm".
	r.engine.RegisterFilter("clock", func(n interface{}) string {
		var h int
		switch x := n.(type) {
		case int:
			h = x
		case int64:
			h = int(x)
		case float64:
			h = int(x)
		default:
			return fmt.Sprintf("%v", n)
		}
		switch {
		case h == 0:
			return "12am"
		case h < 12:
			return fmt.Sprintf("%dam", h)
		case h == 12:
			return "12pm"
		}
		return fmt.Sprintf("%dpm", h-12)
	})
}

// Validate parses src and reports syntax errors.
func (r *Renderer) Validate(src string) error {
	if _, err := r.engine.ParseString(src); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
	}
	return nil
}

// Render renders src with vars. A non-empty key caches the parsed
// template; templates are immutable per id and updated_at, so callers key
// on both.
func (r *Renderer) Render(key, src string, vars map[string]interface{}) (string, error) {
	var tpl *liquid.Template
	if key != "" {
		if cached, ok := r.cache.Load(key); ok {
			tpl = cached.(*liquid.Template)
		}
	}
	if tpl == nil {
		parsed, err := r.engine.ParseString(src)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidTemplate, err)
		}
		tpl = parsed
		if key != "" {
			r.cache.Store(key, tpl)
		}
	}
	out, err := tpl.RenderString(vars)
	if err != nil {
		return "", fmt.Errorf("render: %w", err)
	}
	return strings.TrimSpace(out), nil
}
