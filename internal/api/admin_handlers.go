package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/habit-coach/internal/domain"
	"github.com/ignite/habit-coach/internal/pkg/httputil"
	"github.com/ignite/habit-coach/internal/training"
	"github.com/ignite/habit-coach/internal/worker"
)

// maxWarmUsers bounds an explicit warm request; larger sets go through the
// warm job.
const maxWarmUsers = 1000

// RegisterAdminRoutes registers the administrative surface. Every
// operation is safe to repeat.
func (h *Handlers) RegisterAdminRoutes(r chi.Router) {
	r.Route("/admin", func(r chi.Router) {
		r.Post("/retrain", h.HandleRetrain)
		r.Get("/models", h.HandleModels)

		r.Get("/templates", h.HandleListTemplates)
		r.Post("/templates", h.HandleSeedTemplates)
		r.Post("/templates/{template_id}/activate", h.HandleActivateTemplate)
		r.Post("/templates/{template_id}/deactivate", h.HandleDeactivateTemplate)

		r.Post("/cache/warm", h.HandleWarm)
		r.Post("/cleanup", h.HandleCleanup)

		r.Get("/jobs", h.HandleListJobs)
		r.Post("/jobs/{job}/run", h.HandleRunJob)
	})
}

// HandleRetrain starts a training run in the background. ?force=true skips
// the freshness check; ?wait=true runs inline and returns the report. The
// run holds the retrain job's marker, so it never overlaps a scheduled
// retrain on any replica.
// POST /admin/retrain
func (h *Handlers) HandleRetrain(w http.ResponseWriter, r *http.Request) {
	if h.deps.Retrainer == nil {
		unavailable(w, "training")
		return
	}
	if h.deps.Jobs == nil {
		unavailable(w, "job runner")
		return
	}
	force := r.URL.Query().Get("force") == "true"

	if r.URL.Query().Get("wait") == "true" {
		report, err := h.retrain(r.Context(), force)
		if err != nil {
			h.fail(w, err)
			return
		}
		httputil.OK(w, report)
		return
	}

	started := h.background("retrain", func(ctx context.Context) {
		log.Printf("[Admin] Retrain started (force=%v)", force)
		report, err := h.retrain(ctx, force)
		if err != nil {
			log.Printf("[Admin] Retrain failed: %v", err)
			return
		}
		log.Printf("[Admin] Retrain finished (reason=%s, samples=%d)", report.Reason, report.Samples)
	})
	status := "started"
	if !started {
		status = "already_running"
	}
	httputil.Accepted(w, map[string]interface{}{"status": status, "force": force})
}

func (h *Handlers) retrain(ctx context.Context, force bool) (*training.Report, error) {
	var report *training.Report
	_, err := h.deps.Jobs.RunWith(ctx, worker.JobRetrain, func(ctx context.Context) (string, error) {
		rep, err := h.deps.Retrainer.Run(ctx, force)
		if err != nil {
			return "", err
		}
		report = rep
		return fmt.Sprintf("reason=%s samples=%d", rep.Reason, rep.Samples), nil
	})
	if err != nil {
		return nil, err
	}
	h.lastTraining.Store(report)
	return report, nil
}

// HandleModels returns the active version, metrics and loaded versions of
// every model family, plus the last admin-triggered training report.
// GET /admin/models
func (h *Handlers) HandleModels(w http.ResponseWriter, r *http.Request) {
	if h.deps.Models == nil {
		unavailable(w, "model registry")
		return
	}
	resp := map[string]interface{}{"models": h.deps.Models.Health()}
	if report := h.lastTraining.Load(); report != nil {
		resp["last_training"] = report
	}
	httputil.OK(w, resp)
}

// HandleListTemplates returns the whole catalogue.
// GET /admin/templates
func (h *Handlers) HandleListTemplates(w http.ResponseWriter, r *http.Request) {
	if h.deps.Templates == nil {
		unavailable(w, "template catalogue")
		return
	}
	tpls, err := h.deps.Templates.List(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	if tpls == nil {
		tpls = []domain.CoachingMessageTemplate{}
	}
	httputil.OK(w, map[string]interface{}{"templates": tpls, "count": len(tpls)})
}

// HandleSeedTemplates upserts templates by id from {"templates": [...]}.
// Every template is validated before any is written.
// POST /admin/templates
func (h *Handlers) HandleSeedTemplates(w http.ResponseWriter, r *http.Request) {
	if h.deps.Templates == nil {
		unavailable(w, "template catalogue")
		return
	}
	var body struct {
		Templates []domain.CoachingMessageTemplate `json:"templates"`
	}
	if !httputil.Decode(w, r, &body) {
		return
	}
	if len(body.Templates) == 0 {
		httputil.BadRequest(w, "templates is required")
		return
	}
	n, err := h.deps.Templates.Seed(r.Context(), body.Templates)
	if err != nil {
		h.fail(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"upserted": n})
}

// HandleActivateTemplate marks a template active.
// POST /admin/templates/{template_id}/activate
func (h *Handlers) HandleActivateTemplate(w http.ResponseWriter, r *http.Request) {
	h.setTemplateActive(w, r, true)
}

// HandleDeactivateTemplate marks a template inactive.
// POST /admin/templates/{template_id}/deactivate
func (h *Handlers) HandleDeactivateTemplate(w http.ResponseWriter, r *http.Request) {
	h.setTemplateActive(w, r, false)
}

func (h *Handlers) setTemplateActive(w http.ResponseWriter, r *http.Request, active bool) {
	if h.deps.Templates == nil {
		unavailable(w, "template catalogue")
		return
	}
	id := chi.URLParam(r, "template_id")
	if err := h.deps.Templates.SetActive(r.Context(), id, active); err != nil {
		h.fail(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"id": id, "active": active})
}

// HandleWarm precomputes predictions. With user_ids it warms those users
// inline; without, it starts the warm job for all active users.
// POST /admin/cache/warm
func (h *Handlers) HandleWarm(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserIDs []string `json:"user_ids"`
	}
	if r.ContentLength != 0 && !httputil.Decode(w, r, &body) {
		return
	}

	if len(body.UserIDs) > 0 {
		if len(body.UserIDs) > maxWarmUsers {
			httputil.BadRequest(w, "at most "+strconv.Itoa(maxWarmUsers)+" user_ids per request")
			return
		}
		res, err := h.deps.Predictions.Warm(r.Context(), body.UserIDs, h.deps.WarmParallelism)
		if err != nil {
			h.fail(w, err)
			return
		}
		httputil.OK(w, res)
		return
	}

	if h.deps.Jobs == nil {
		unavailable(w, "job runner")
		return
	}
	started := h.background(worker.JobWarm, func(ctx context.Context) {
		if summary, err := h.deps.Jobs.RunNow(ctx, worker.JobWarm); err != nil {
			log.Printf("[Admin] Cache warm failed: %v", err)
		} else {
			log.Printf("[Admin] Cache warm finished: %s", summary)
		}
	})
	status := "started"
	if !started {
		status = "already_running"
	}
	httputil.Accepted(w, map[string]interface{}{"status": status})
}

// HandleCleanup deletes messages older than ?days=N. Acted-on messages
// keep their longer retention when it exceeds N days.
// POST /admin/cleanup?days=N
func (h *Handlers) HandleCleanup(w http.ResponseWriter, r *http.Request) {
	if h.deps.Cleaner == nil {
		unavailable(w, "cleanup")
		return
	}
	days, err := strconv.Atoi(r.URL.Query().Get("days"))
	if err != nil || days < 1 {
		httputil.BadRequest(w, "days must be a positive integer")
		return
	}
	retention := time.Duration(days) * 24 * time.Hour
	acted := h.deps.ActedRetention
	if acted < retention {
		acted = retention
	}
	res, err := h.deps.Cleaner.CleanupOlderThan(r.Context(), retention, acted)
	if err != nil {
		h.fail(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{
		"days":   days,
		"result": res,
	})
}

// HandleListJobs returns the state of every background job.
// GET /admin/jobs
func (h *Handlers) HandleListJobs(w http.ResponseWriter, r *http.Request) {
	if h.deps.Jobs == nil {
		unavailable(w, "job runner")
		return
	}
	httputil.OK(w, map[string]interface{}{"jobs": h.deps.Jobs.Jobs()})
}

// HandleRunJob runs a job now and returns its summary. A job already
// running elsewhere answers 409.
// POST /admin/jobs/{job}/run
func (h *Handlers) HandleRunJob(w http.ResponseWriter, r *http.Request) {
	if h.deps.Jobs == nil {
		unavailable(w, "job runner")
		return
	}
	name := chi.URLParam(r, "job")
	summary, err := h.deps.Jobs.RunNow(r.Context(), name)
	if err != nil {
		h.fail(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"job": name, "summary": summary})
}
