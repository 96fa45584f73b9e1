package models

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ignite/habit-coach/internal/domain"
)

// Registry owns every loaded artifact. The arena (artifacts by family and
// version) is guarded by a mutex and only touched on publish, load and
// prune; the active pointers are read lock-free on every inference.
type Registry struct {
	mu      sync.RWMutex
	arena   map[domain.ModelType]map[int64]*domain.ModelArtifact
	retired map[domain.ModelType]map[int64]time.Time
	active  map[domain.ModelType]*atomic.Pointer[domain.ModelArtifact]
	now     func() time.Time
}

// NewRegistry creates an empty registry with a slot for every family.
func NewRegistry() *Registry {
	r := &Registry{
		arena:   make(map[domain.ModelType]map[int64]*domain.ModelArtifact),
		retired: make(map[domain.ModelType]map[int64]time.Time),
		active:  make(map[domain.ModelType]*atomic.Pointer[domain.ModelArtifact]),
		now:     time.Now,
	}
	for _, t := range domain.AllModelTypes() {
		r.arena[t] = make(map[int64]*domain.ModelArtifact)
		r.retired[t] = make(map[int64]time.Time)
		r.active[t] = &atomic.Pointer[domain.ModelArtifact]{}
	}
	return r
}

// WithClock overrides the clock used to stamp retirements, for tests.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

// Active returns the active artifact for t or ErrModelUnavailable.
func (r *Registry) Active(t domain.ModelType) (*domain.ModelArtifact, error) {
	p, ok := r.active[t]
	if !ok {
		return nil, fmt.Errorf("%w: unknown model type %q", ErrModelUnavailable, t)
	}
	a := p.Load()
	if a == nil {
		return nil, fmt.Errorf("%w: %s", ErrModelUnavailable, t)
	}
	return a, nil
}

// ActiveVersion returns the version tag a model-backed prediction of type t
// must carry to be served. Rule-based types, and model types with nothing
// active, answer domain.RulesVersion.
func (r *Registry) ActiveVersion(t domain.PredictionType) string {
	mt, ok := domain.ModelFor(t)
	if !ok {
		return domain.RulesVersion
	}
	a, err := r.Active(mt)
	if err != nil {
		return domain.RulesVersion
	}
	return a.VersionTag()
}

// Load adds an artifact to the arena without activating it. A restored
// artifact that carries RetiredAt keeps that retirement time.
func (r *Registry) Load(a *domain.ModelArtifact) error {
	if _, ok := r.active[a.Type]; !ok {
		return fmt.Errorf("%w: unknown model type %q", ErrInvalidArtifact, a.Type)
	}
	r.mu.Lock()
	r.arena[a.Type][a.Version] = a
	if a.RetiredAt != nil {
		r.retired[a.Type][a.Version] = *a.RetiredAt
	}
	r.mu.Unlock()
	return nil
}

// Publish adds a and makes it the active version in one atomic swap. The
// previous artifact stays in the arena until pruned. It returns the
// artifact that was active before, or nil.
func (r *Registry) Publish(a *domain.ModelArtifact) (*domain.ModelArtifact, error) {
	if err := r.Load(a); err != nil {
		return nil, err
	}
	return r.swap(a), nil
}

// Activate makes an already loaded version active.
func (r *Registry) Activate(t domain.ModelType, version int64) (*domain.ModelArtifact, error) {
	r.mu.RLock()
	a, ok := r.arena[t][version]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrVersionNotFound, domain.VersionTag(t, version))
	}
	return r.swap(a), nil
}

func (r *Registry) swap(a *domain.ModelArtifact) *domain.ModelArtifact {
	prev := r.active[a.Type].Swap(a)
	r.mu.Lock()
	delete(r.retired[a.Type], a.Version)
	if prev != nil && prev.Version != a.Version {
		r.retired[a.Type][prev.Version] = r.now()
	}
	r.mu.Unlock()
	return prev
}

// RetiredAt returns when a version stopped being active.
func (r *Registry) RetiredAt(t domain.ModelType, version int64) (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	at, ok := r.retired[t][version]
	return at, ok
}

// Get returns a loaded version.
func (r *Registry) Get(t domain.ModelType, version int64) (*domain.ModelArtifact, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.arena[t][version]
	return a, ok
}

// Versions lists the loaded versions of t in ascending order.
func (r *Registry) Versions(t domain.ModelType) []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]int64, 0, len(r.arena[t]))
	for v := range r.arena[t] {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Prune drops inactive versions of t that were retired before cutoff and
// returns them. The active version is never pruned.
func (r *Registry) Prune(t domain.ModelType, cutoff time.Time) []*domain.ModelArtifact {
	active := r.active[t].Load()

	r.mu.Lock()
	defer r.mu.Unlock()
	var dropped []*domain.ModelArtifact
	for v, a := range r.arena[t] {
		if active != nil && v == active.Version {
			continue
		}
		at, ok := r.retired[t][v]
		if !ok || !at.Before(cutoff) {
			continue
		}
		dropped = append(dropped, a)
		delete(r.arena[t], v)
		delete(r.retired[t], v)
	}
	sort.Slice(dropped, func(i, j int) bool { return dropped[i].Version < dropped[j].Version })
	return dropped
}

// Health reports every family in a stable order.
func (r *Registry) Health() []domain.ModelHealth {
	out := make([]domain.ModelHealth, 0, len(r.active))
	for _, t := range domain.AllModelTypes() {
		h := domain.ModelHealth{Type: t, Versions: r.Versions(t)}
		if a := r.active[t].Load(); a != nil {
			trained := a.TrainedAt
			metrics := a.Metrics
			h.ActiveVersion = a.VersionTag()
			h.TrainedAt = &trained
			h.Metrics = &metrics
		} else {
			h.Degraded = true
		}
		out = append(out, h)
	}
	return out
}
