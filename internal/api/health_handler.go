package api

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/habit-coach/internal/pkg/httputil"
)

// HealthStatus represents the overall health of the system.
type HealthStatus struct {
	Status  string                    `json:"status"` // "healthy", "degraded", "unhealthy"
	Version string                    `json:"version"`
	Uptime  string                    `json:"uptime"`
	Checks  map[string]ComponentCheck `json:"checks"`
}

// ComponentCheck represents the health of a single component.
type ComponentCheck struct {
	Status  string `json:"status"` // "up", "down", "degraded"
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

// HealthChecker reports on the dependencies of the coaching engine.
type HealthChecker struct {
	db          *sql.DB
	redisClient *redis.Client
	models      ModelHealth
	startTime   time.Time
}

// NewHealthChecker creates a new HealthChecker. Any dependency can be nil;
// its check then reports "not configured".
func NewHealthChecker(db *sql.DB, redisClient *redis.Client, models ModelHealth) *HealthChecker {
	return &HealthChecker{
		db:          db,
		redisClient: redisClient,
		models:      models,
		startTime:   time.Now(),
	}
}

const healthVersion = "1.0.0"

// HandleHealth returns the health of every component. It always answers
// 200; the status field carries the verdict.
//
//	GET /health
func (hc *HealthChecker) HandleHealth(w http.ResponseWriter, r *http.Request) {
	checks := hc.runAllChecks(r.Context())
	httputil.OK(w, HealthStatus{
		Status:  determineOverallStatus(checks),
		Version: healthVersion,
		Uptime:  formatUptime(time.Since(hc.startTime)),
		Checks:  checks,
	})
}

// HandleLiveness always returns 200 while the process runs.
//
//	GET /health/live
func (hc *HealthChecker) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]interface{}{
		"status": "alive",
		"uptime": formatUptime(time.Since(hc.startTime)),
	})
}

// HandleReadiness returns 503 only when a critical dependency is down.
// Degraded models still serve through the rule fallback, so they never
// fail readiness.
//
//	GET /health/ready
func (hc *HealthChecker) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	checks := hc.runAllChecks(r.Context())
	overall := determineOverallStatus(checks)

	ready := overall != "unhealthy"
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	httputil.JSON(w, status, map[string]interface{}{
		"ready":  ready,
		"status": overall,
		"checks": checks,
	})
}

// ---------------------------------------------------------------------------
// Individual component checks
// ---------------------------------------------------------------------------

func (hc *HealthChecker) runAllChecks(ctx context.Context) map[string]ComponentCheck {
	type result struct {
		name  string
		check ComponentCheck
	}
	ch := make(chan result, 3)

	go func() { ch <- result{"database", hc.checkDatabase(ctx)} }()
	go func() { ch <- result{"redis", hc.checkRedis(ctx)} }()
	go func() { ch <- result{"models", hc.checkModels()} }()

	checks := make(map[string]ComponentCheck, 3)
	for i := 0; i < 3; i++ {
		r := <-ch
		checks[r.name] = r.check
	}
	return checks
}

// checkDatabase pings PostgreSQL with a 3-second timeout.
func (hc *HealthChecker) checkDatabase(ctx context.Context) ComponentCheck {
	if hc.db == nil {
		return ComponentCheck{Status: "down", Message: "not configured"}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	start := time.Now()
	err := hc.db.PingContext(pingCtx)
	return latencyCheck(time.Since(start), err, time.Second)
}

// checkRedis pings Redis with a 2-second timeout.
func (hc *HealthChecker) checkRedis(ctx context.Context) ComponentCheck {
	if hc.redisClient == nil {
		return ComponentCheck{Status: "down", Message: "not configured"}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	start := time.Now()
	err := hc.redisClient.Ping(pingCtx).Err()
	return latencyCheck(time.Since(start), err, 500*time.Millisecond)
}

// checkModels reports degraded while any family serves from rules.
func (hc *HealthChecker) checkModels() ComponentCheck {
	if hc.models == nil {
		return ComponentCheck{Status: "down", Message: "not configured"}
	}
	var active, degraded []string
	for _, m := range hc.models.Health() {
		if m.Degraded {
			degraded = append(degraded, string(m.Type))
			continue
		}
		active = append(active, m.ActiveVersion)
	}
	if len(degraded) > 0 {
		return ComponentCheck{Status: "degraded", Message: "rule fallback for " + strings.Join(degraded, ", ")}
	}
	return ComponentCheck{Status: "up", Message: strings.Join(active, ", ")}
}

func latencyCheck(latency time.Duration, err error, slow time.Duration) ComponentCheck {
	if err != nil {
		return ComponentCheck{
			Status:  "down",
			Latency: latency.String(),
			Message: fmt.Sprintf("ping failed: %v", err),
		}
	}
	if latency > slow {
		return ComponentCheck{
			Status:  "degraded",
			Latency: latency.String(),
			Message: fmt.Sprintf("slow response (%s)", latency),
		}
	}
	return ComponentCheck{Status: "up", Latency: latency.String(), Message: "connected"}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// determineOverallStatus derives the aggregate status from individual checks.
//
// Rules:
//   - "unhealthy" if a configured database is down
//   - "degraded"  if any check is degraded or another configured check is down
//   - "healthy"   otherwise
func determineOverallStatus(checks map[string]ComponentCheck) string {
	if db, ok := checks["database"]; ok && db.Status == "down" && db.Message != "not configured" {
		return "unhealthy"
	}
	for _, c := range checks {
		if c.Status == "degraded" {
			return "degraded"
		}
		if c.Status == "down" && c.Message != "not configured" {
			return "degraded"
		}
	}
	return "healthy"
}

// formatUptime produces a human-readable uptime string like "3d 4h 12m 5s".
func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
