package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/ignite/habit-coach/internal/config"
	"github.com/ignite/habit-coach/internal/metrics"
	"github.com/ignite/habit-coach/internal/pkg/distlock"
)

// =============================================================================
// JOB SCHEDULER: Independent Timers, One Run At A Time Per Job
// =============================================================================
// Every registered job gets its own ticker goroutine. A tick outside the
// job's hour window is ignored. Before a run the job takes the lock
// "job:<name>" from the lock factory; when another replica (or a manual
// trigger) holds it, the tick is skipped. Each attempt runs under the
// job's timeout and a failed attempt is retried up to Retries times with a
// linear backoff. A panic inside a job counts as a failed attempt.

var (
	// ErrUnknownJob is returned for a job name that was never registered.
	ErrUnknownJob = errors.New("scheduler: unknown job")
	// ErrAlreadyRunning is returned when the job's run marker is held.
	ErrAlreadyRunning = errors.New("scheduler: job already running")
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("scheduler: already started")
)

// Func is the body of a job. The returned summary is logged and kept as
// the job's last result.
type Func func(ctx context.Context) (string, error)

// Job is one recurring task.
type Job struct {
	Name      string
	Interval  time.Duration
	StartHour int // inclusive, UTC
	EndHour   int // exclusive, UTC; equal to StartHour means all day
	Timeout   time.Duration
	Retries   int
	Run       Func
}

// FromConfig fills the timing fields of a job from its config block.
func FromConfig(name string, c config.JobConfig, run Func) Job {
	return Job{
		Name:      name,
		Interval:  c.Interval(),
		StartHour: c.StartHour,
		EndHour:   c.EndHour,
		Timeout:   c.Timeout(),
		Retries:   c.Retries,
		Run:       run,
	}
}

// InWindow reports whether hour falls inside [start, end). A window may
// wrap midnight; start == end is the whole day.
func InWindow(hour, start, end int) bool {
	if start == end {
		return true
	}
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}

// Status is the last known state of a job.
type Status struct {
	Name       string     `json:"name"`
	Interval   string     `json:"interval"`
	Window     string     `json:"window"`
	Running    bool       `json:"running"`
	Runs       int64      `json:"runs"`
	Failures   int64      `json:"failures"`
	LastRun    *time.Time `json:"last_run,omitempty"`
	LastResult string     `json:"last_result,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
}

type entry struct {
	job    Job
	status Status
}

// Scheduler runs registered jobs on independent timers.
type Scheduler struct {
	locks   distlock.Factory
	metrics *metrics.Metrics
	now     func() time.Time
	backoff time.Duration

	mu      sync.RWMutex
	jobs    map[string]*entry
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a scheduler. A nil lock factory uses in-process locks.
func New(locks distlock.Factory, m *metrics.Metrics) *Scheduler {
	if locks == nil {
		locks = distlock.MemoryFactory()
	}
	return &Scheduler{
		locks:   locks,
		metrics: m,
		now:     time.Now,
		backoff: 5 * time.Second,
		jobs:    make(map[string]*entry),
	}
}

// WithClock overrides the clock used for hour windows, for tests.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// WithBackoff overrides the pause between retry attempts.
func (s *Scheduler) WithBackoff(d time.Duration) *Scheduler {
	s.backoff = d
	return s
}

// Register adds a job. Registering after Start or twice under one name is
// an error.
func (s *Scheduler) Register(j Job) error {
	if j.Name == "" || j.Run == nil {
		return fmt.Errorf("scheduler: job needs a name and a body")
	}
	if j.Interval <= 0 {
		return fmt.Errorf("scheduler: job %q needs a positive interval", j.Name)
	}
	if j.Timeout <= 0 {
		j.Timeout = j.Interval
	}
	if j.Retries < 0 {
		j.Retries = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyStarted
	}
	if _, ok := s.jobs[j.Name]; ok {
		return fmt.Errorf("scheduler: job %q registered twice", j.Name)
	}
	s.jobs[j.Name] = &entry{job: j, status: Status{
		Name:     j.Name,
		Interval: j.Interval.String(),
		Window:   fmt.Sprintf("%02d-%02d UTC", j.StartHour, j.EndHour),
	}}
	return nil
}

// Start launches one timer goroutine per job.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	jobs := make([]Job, 0, len(s.jobs))
	for _, e := range s.jobs {
		jobs = append(jobs, e.job)
	}
	s.mu.Unlock()

	log.Printf("[Scheduler] Starting %d jobs", len(jobs))
	for _, j := range jobs {
		s.wg.Add(1)
		go s.loop(ctx, j)
	}
	return nil
}

// Stop cancels every timer and waits for in-flight runs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	log.Printf("[Scheduler] Stopping...")
	s.wg.Wait()
	log.Printf("[Scheduler] Stopped")
}

func (s *Scheduler) loop(ctx context.Context, j Job) {
	defer s.wg.Done()
	log.Printf("[Scheduler] Job %s every %s (window %02d-%02d UTC, timeout %s, retries %d)",
		j.Name, j.Interval, j.StartHour, j.EndHour, j.Timeout, j.Retries)

	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !InWindow(s.now().UTC().Hour(), j.StartHour, j.EndHour) {
				continue
			}
			if _, err := s.execute(ctx, j); err != nil && !errors.Is(err, ErrAlreadyRunning) {
				log.Printf("[Scheduler] Job %s failed: %v", j.Name, err)
			}
		}
	}
}

// RunNow runs a job immediately, ignoring its hour window but not its run
// marker, and returns the job's summary.
func (s *Scheduler) RunNow(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	e, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.execute(ctx, e.job)
}

// manualTimeout bounds RunWith for a job this scheduler never registered.
const manualTimeout = time.Hour

// RunWith runs body in place of the job's own body, under the same run
// marker and timeout, without retries. Callers use it to run a variant of
// a job (a forced retrain) that must not overlap the scheduled one. The
// marker is taken even when the job is not registered here, since another
// replica may run it.
func (s *Scheduler) RunWith(ctx context.Context, name string, body Func) (string, error) {
	s.mu.RLock()
	e, ok := s.jobs[name]
	s.mu.RUnlock()
	j := Job{Name: name, Timeout: manualTimeout}
	if ok {
		j = e.job
	}
	j.Run, j.Retries = body, 0
	return s.execute(ctx, j)
}

// Jobs returns the status of every job, sorted by name.
func (s *Scheduler) Jobs() []Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Status, 0, len(s.jobs))
	for _, e := range s.jobs {
		out = append(out, e.status)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

// execute takes the run marker, runs the job with retries and records the
// outcome.
func (s *Scheduler) execute(ctx context.Context, j Job) (string, error) {
	lock := s.locks("job:"+j.Name, j.Timeout*time.Duration(j.Retries+1)+time.Minute)
	ok, err := lock.Acquire(ctx)
	if err != nil {
		s.metrics.JobRun(j.Name, "lock_error", 0)
		return "", fmt.Errorf("acquire run marker for %s: %w", j.Name, err)
	}
	if !ok {
		s.metrics.JobRun(j.Name, "skipped", 0)
		log.Printf("[Scheduler] Job %s already running elsewhere, skipping", j.Name)
		return "", fmt.Errorf("%w: %s", ErrAlreadyRunning, j.Name)
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lock.Release(releaseCtx); err != nil {
			log.Printf("[Scheduler] Job %s: releasing run marker: %v", j.Name, err)
		}
	}()

	s.setRunning(j.Name, true)
	start := time.Now()
	summary, err := s.attempts(ctx, j)
	elapsed := time.Since(start)

	result := "success"
	if err != nil {
		result = "failure"
	}
	s.metrics.JobRun(j.Name, result, elapsed)
	s.finish(j.Name, summary, err)

	if err == nil {
		log.Printf("[Scheduler] Job %s completed in %s: %s", j.Name, elapsed.Round(time.Millisecond), summary)
	}
	return summary, err
}

func (s *Scheduler) attempts(ctx context.Context, j Job) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= j.Retries; attempt++ {
		if attempt > 0 {
			log.Printf("[Scheduler] Job %s attempt %d/%d after: %v", j.Name, attempt+1, j.Retries+1, lastErr)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(s.backoff * time.Duration(attempt)):
			}
		}
		summary, err := s.once(ctx, j)
		if err == nil {
			return summary, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return "", lastErr
}

func (s *Scheduler) once(ctx context.Context, j Job) (summary string, err error) {
	runCtx, cancel := context.WithTimeout(ctx, j.Timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", j.Name, r)
		}
	}()
	return j.Run(runCtx)
}

func (s *Scheduler) setRunning(name string, running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.jobs[name]; ok {
		e.status.Running = running
	}
}

func (s *Scheduler) finish(name, summary string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[name]
	if !ok {
		return
	}
	now := s.now()
	e.status.Running = false
	e.status.Runs++
	e.status.LastRun = &now
	e.status.LastResult = summary
	e.status.LastError = ""
	if err != nil {
		e.status.Failures++
		e.status.LastError = err.Error()
	}
}
