package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ignite/habit-coach/internal/domain"
	"github.com/ignite/habit-coach/internal/pkg/httputil"
	"github.com/ignite/habit-coach/internal/scheduler"
	"github.com/ignite/habit-coach/internal/service/activity"
	"github.com/ignite/habit-coach/internal/service/coaching"
	"github.com/ignite/habit-coach/internal/service/delivery"
	"github.com/ignite/habit-coach/internal/service/prediction"
	"github.com/ignite/habit-coach/internal/service/profile"
	"github.com/ignite/habit-coach/internal/templates"
	"github.com/ignite/habit-coach/internal/training"
	"github.com/ignite/habit-coach/internal/worker"
)

// Predictions is the cache-first read path plus warming.
// *prediction.Service implements it.
type Predictions interface {
	GetPredictions(ctx context.Context, userID string, types []domain.PredictionType) (domain.PredictionSet, error)
	Warm(ctx context.Context, userIDs []string, parallelism int) (prediction.WarmResult, error)
}

// Generator runs one manual generation cycle. *coaching.Service implements it.
type Generator interface {
	GenerateForUser(ctx context.Context, userID string) (*coaching.Outcome, error)
}

// Activities logs activities. *activity.Service implements it.
type Activities interface {
	Log(ctx context.Context, a *domain.Activity) (*domain.Activity, error)
}

// Profiles reads and updates personalization profiles.
// *profile.Service implements it.
type Profiles interface {
	Profile(ctx context.Context, userID string) (*domain.UserPersonalizationProfile, error)
	Update(ctx context.Context, p *domain.UserPersonalizationProfile) error
}

// Engagement records client callbacks. *delivery.Tracker implements it.
type Engagement interface {
	MarkRead(ctx context.Context, id string) (*domain.CoachingMessage, error)
	MarkActed(ctx context.Context, id string) (*domain.CoachingMessage, error)
}

// Messages lists a user's messages. *delivery.Service implements it.
type Messages interface {
	ListForUser(ctx context.Context, userID string, limit int) ([]domain.CoachingMessage, error)
}

// Retrainer runs the training pipeline. *training.Pipeline implements it.
type Retrainer interface {
	Run(ctx context.Context, force bool) (*training.Report, error)
}

// ModelHealth reports the registry state. *models.Registry implements it.
type ModelHealth interface {
	Health() []domain.ModelHealth
}

// Templates manages the template catalogue. *templates.Catalog implements it.
type Templates interface {
	Seed(ctx context.Context, tpls []domain.CoachingMessageTemplate) (int, error)
	SetActive(ctx context.Context, id string, active bool) error
	List(ctx context.Context) ([]domain.CoachingMessageTemplate, error)
}

// Cleaner applies message retention. *worker.Jobs implements it.
type Cleaner interface {
	CleanupOlderThan(ctx context.Context, retention, actedRetention time.Duration) (worker.CleanupResult, error)
}

// JobRunner triggers and reports background jobs. *scheduler.Scheduler
// implements it.
type JobRunner interface {
	RunNow(ctx context.Context, name string) (string, error)
	RunWith(ctx context.Context, name string, body scheduler.Func) (string, error)
	Jobs() []scheduler.Status
}

// Deps are the collaborators behind the HTTP surface. Nil admin
// dependencies turn their endpoints into 503s.
type Deps struct {
	Predictions Predictions
	Generator   Generator
	Activities  Activities
	Profiles    Profiles
	Engagement  Engagement
	Messages    Messages
	Retrainer   Retrainer
	Models      ModelHealth
	Templates   Templates
	Cleaner     Cleaner
	Jobs        JobRunner

	ActedRetention  time.Duration
	WarmParallelism int
}

// Handlers serves the read and admin surfaces.
type Handlers struct {
	deps Deps

	// background work started by admin triggers outlives the request
	baseCtx  context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	mu       sync.Mutex
	inFlight map[string]bool

	lastTraining atomic.Pointer[training.Report]
}

// NewHandlers creates the handler set.
func NewHandlers(d Deps) *Handlers {
	if d.WarmParallelism <= 0 {
		d.WarmParallelism = 4
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Handlers{deps: d, baseCtx: ctx, cancel: cancel, inFlight: make(map[string]bool)}
}

// background runs fn once per name at a time. It reports false when a run
// under that name is already in flight.
func (h *Handlers) background(name string, fn func(ctx context.Context)) bool {
	h.mu.Lock()
	if h.inFlight[name] {
		h.mu.Unlock()
		return false
	}
	h.inFlight[name] = true
	h.mu.Unlock()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer func() {
			h.mu.Lock()
			delete(h.inFlight, name)
			h.mu.Unlock()
		}()
		fn(h.baseCtx)
	}()
	return true
}

// Close cancels background work and waits for it.
func (h *Handlers) Close() {
	h.cancel()
	h.wg.Wait()
}

// Wait blocks until background work started so far has finished.
func (h *Handlers) Wait() { h.wg.Wait() }

// fail maps service errors onto HTTP responses.
func (h *Handlers) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, prediction.ErrInvalidRequest),
		errors.Is(err, prediction.ErrUnknownType),
		errors.Is(err, activity.ErrInvalidActivity),
		errors.Is(err, profile.ErrInvalidProfile),
		errors.Is(err, templates.ErrInvalidTemplate):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, delivery.ErrNotFound),
		errors.Is(err, templates.ErrNotFound),
		errors.Is(err, profile.ErrNotFound),
		errors.Is(err, scheduler.ErrUnknownJob):
		httputil.NotFound(w, err.Error())
	case errors.Is(err, delivery.ErrInvalidTransition),
		errors.Is(err, coaching.ErrBusy),
		errors.Is(err, scheduler.ErrAlreadyRunning):
		httputil.Conflict(w, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		respondSafeError(w, http.StatusGatewayTimeout, err, "request timed out")
	default:
		respondSafeError(w, http.StatusInternalServerError, err, safeErrorMessage(http.StatusInternalServerError, err))
	}
}

func unavailable(w http.ResponseWriter, what string) {
	httputil.ErrorCode(w, http.StatusServiceUnavailable, "not_configured", what+" is not configured on this instance")
}
