package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/habit-coach/internal/domain"
	"github.com/ignite/habit-coach/internal/pkg/httputil"
	"github.com/ignite/habit-coach/internal/service/prediction"
)

// RegisterUserRoutes registers the client-facing read surface.
func (h *Handlers) RegisterUserRoutes(r chi.Router) {
	r.Route("/users/{user_id}", func(r chi.Router) {
		// Cache-first predictions, ?types=habit_formation,streak_risk
		r.Get("/predictions", h.HandleGetPredictions)

		// Manual generation, same path as the scheduled sweep
		r.Post("/generate", h.HandleGenerate)

		r.Post("/activities", h.HandleLogActivity)
		r.Get("/messages", h.HandleListMessages)

		r.Get("/profile", h.HandleGetProfile)
		r.Put("/profile", h.HandlePutProfile)
	})

	// Client engagement callbacks
	r.Post("/messages/{message_id}/read", h.HandleMarkRead)
	r.Post("/messages/{message_id}/acted", h.HandleMarkActed)
}

// HandleGetPredictions returns the requested predictions for a user.
// GET /users/{user_id}/predictions?types=a,b
func (h *Handlers) HandleGetPredictions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	types, err := prediction.ParseTypes(r.URL.Query().Get("types"))
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	set, err := h.deps.Predictions.GetPredictions(r.Context(), userID, types)
	if err != nil {
		h.fail(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{
		"user_id":     userID,
		"predictions": set,
	})
}

// HandleGenerate runs one generation cycle for a user.
// POST /users/{user_id}/generate
func (h *Handlers) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	out, err := h.deps.Generator.GenerateForUser(r.Context(), chi.URLParam(r, "user_id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	if out.Message != nil {
		httputil.Created(w, out)
		return
	}
	httputil.OK(w, out)
}

// HandleLogActivity logs one activity. The user comes from the path.
// POST /users/{user_id}/activities
func (h *Handlers) HandleLogActivity(w http.ResponseWriter, r *http.Request) {
	var a domain.Activity
	if !httputil.Decode(w, r, &a) {
		return
	}
	a.UserID = chi.URLParam(r, "user_id")
	stored, err := h.deps.Activities.Log(r.Context(), &a)
	if err != nil {
		h.fail(w, err)
		return
	}
	httputil.Created(w, stored)
}

// HandleListMessages returns a user's newest messages.
// GET /users/{user_id}/messages?limit=N
func (h *Handlers) HandleListMessages(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	msgs, err := h.deps.Messages.ListForUser(r.Context(), chi.URLParam(r, "user_id"), limit)
	if err != nil {
		h.fail(w, err)
		return
	}
	if msgs == nil {
		msgs = []domain.CoachingMessage{}
	}
	httputil.OK(w, map[string]interface{}{"messages": msgs, "count": len(msgs)})
}

// HandleGetProfile returns the personalization profile, defaults included.
// GET /users/{user_id}/profile
func (h *Handlers) HandleGetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := h.deps.Profiles.Profile(r.Context(), chi.URLParam(r, "user_id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	httputil.OK(w, p)
}

// HandlePutProfile replaces the personalization profile.
// PUT /users/{user_id}/profile
func (h *Handlers) HandlePutProfile(w http.ResponseWriter, r *http.Request) {
	var p domain.UserPersonalizationProfile
	if !httputil.Decode(w, r, &p) {
		return
	}
	p.UserID = chi.URLParam(r, "user_id")
	if err := h.deps.Profiles.Update(r.Context(), &p); err != nil {
		h.fail(w, err)
		return
	}
	httputil.OK(w, &p)
}

// HandleMarkRead records a read callback. Repeating it is harmless.
// POST /messages/{message_id}/read
func (h *Handlers) HandleMarkRead(w http.ResponseWriter, r *http.Request) {
	m, err := h.deps.Engagement.MarkRead(r.Context(), chi.URLParam(r, "message_id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	httputil.OK(w, m)
}

// HandleMarkActed records an acted callback. Repeating it is harmless.
// POST /messages/{message_id}/acted
func (h *Handlers) HandleMarkActed(w http.ResponseWriter, r *http.Request) {
	m, err := h.deps.Engagement.MarkActed(r.Context(), chi.URLParam(r, "message_id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	httputil.OK(w, m)
}
