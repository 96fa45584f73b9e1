package templates

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"time"

	"github.com/ignite/habit-coach/internal/domain"
)

// Store reads templates. *postgres.TemplateRepo implements it.
type Store interface {
	ListActive(ctx context.Context, category domain.MessageCategory) ([]domain.CoachingMessageTemplate, error)
}

// Request describes the message that needs a template.
type Request struct {
	UserID    string
	Category  domain.MessageCategory
	Tone      domain.Tone
	Archetype domain.Archetype
	Locale    string
	RiskLevel domain.RiskLevel
	Streak    int
}

// Rendered is a selected and filled-in template.
type Rendered struct {
	Template *domain.CoachingMessageTemplate
	ABBucket string
	Title    string
	Body     string
}

// Selector picks templates deterministically.
type Selector struct {
	store        Store
	renderer     *Renderer
	experimentID string
}

// NewSelector creates a selector. experimentID salts the A/B hash;
// changing it reshuffles every user.
func NewSelector(store Store, renderer *Renderer, experimentID string) *Selector {
	if experimentID == "" {
		experimentID = "default"
	}
	return &Selector{store: store, renderer: renderer, experimentID: experimentID}
}

// Select returns the template for req and its A/B bucket label,
// "<experiment>:<template id>".
func (s *Selector) Select(ctx context.Context, req Request) (*domain.CoachingMessageTemplate, string, error) {
	all, err := s.store.ListActive(ctx, req.Category)
	if err != nil {
		return nil, "", fmt.Errorf("list templates: %w", err)
	}

	var eligible, toned []domain.CoachingMessageTemplate
	for _, t := range all {
		if !t.Active || t.Category != req.Category || t.Weight <= 0 || !Matches(t.Targeting, req) {
			continue
		}
		eligible = append(eligible, t)
		if t.Tone == req.Tone {
			toned = append(toned, t)
		}
	}
	if len(toned) > 0 {
		eligible = toned
	}
	if len(eligible) == 0 {
		return nil, "", &NoTemplateError{Category: req.Category, Tone: req.Tone, Archetype: req.Archetype}
	}
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].ID < eligible[j].ID })

	total := 0
	for _, t := range eligible {
		total += t.Weight
	}
	point := int(s.hash(req.UserID, req.Category) % uint64(total))
	t := eligible[len(eligible)-1]
	for i := range eligible {
		point -= eligible[i].Weight
		if point < 0 {
			t = eligible[i]
			break
		}
	}
	return &t, s.bucket(&t), nil
}

// bucket labels the arm by template ID, so a label keeps meaning the same
// copy when templates are added or retired.
func (s *Selector) bucket(t *domain.CoachingMessageTemplate) string {
	return s.experimentID + ":" + t.ID
}

// Compose selects a template and renders it with vars.
func (s *Selector) Compose(ctx context.Context, req Request, vars Personalization) (*Rendered, error) {
	t, bucket, err := s.Select(ctx, req)
	if err != nil {
		return nil, err
	}
	bindings := vars.Map()
	key := t.ID + "@" + t.UpdatedAt.UTC().Format(time.RFC3339Nano)

	body, err := s.renderer.Render(key+"#body", t.Body, bindings)
	if err != nil {
		return nil, fmt.Errorf("template %s body: %w", t.ID, err)
	}
	var title string
	if t.Title != "" {
		if title, err = s.renderer.Render(key+"#title", t.Title, bindings); err != nil {
			return nil, fmt.Errorf("template %s title: %w", t.ID, err)
		}
	}
	return &Rendered{Template: t, ABBucket: bucket, Title: title, Body: body}, nil
}

func (s *Selector) hash(userID string, c domain.MessageCategory) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s.experimentID))
	h.Write([]byte{0})
	h.Write([]byte(userID))
	h.Write([]byte{0})
	h.Write([]byte(c))
	return h.Sum64()
}

// Matches reports whether a targeting predicate admits req. Empty lists
// match everything.
func Matches(p domain.TargetingPredicate, req Request) bool {
	if len(p.Segments) > 0 && !containsArchetype(p.Segments, req.Archetype) {
		return false
	}
	if len(p.RiskLevels) > 0 && !containsRisk(p.RiskLevels, req.RiskLevel) {
		return false
	}
	if len(p.Locales) > 0 && !matchesLocale(p.Locales, req.Locale) {
		return false
	}
	if req.Streak < p.MinStreak {
		return false
	}
	if p.MaxStreak > 0 && req.Streak > p.MaxStreak {
		return false
	}
	return true
}

func containsArchetype(list []domain.Archetype, a domain.Archetype) bool {
	for _, x := range list {
		if x == a {
			return true
		}
	}
	return false
}

func containsRisk(list []domain.RiskLevel, r domain.RiskLevel) bool {
	for _, x := range list {
		if x == r {
			return true
		}
	}
	return false
}

// matchesLocale accepts "en" for "en-US".
func matchesLocale(list []string, locale string) bool {
	locale = strings.ToLower(locale)
	for _, l := range list {
		l = strings.ToLower(l)
		if l == locale || strings.HasPrefix(locale, l+"-") {
			return true
		}
	}
	return false
}
