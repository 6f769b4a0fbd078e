// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wwt/lunch-signups/internal/model"
	"github.com/wwt/lunch-signups/internal/repository"
	"github.com/wwt/lunch-signups/internal/service"
)

// EventHandler holds all HTTP handlers for the lunch signup API.
type EventHandler struct {
	svc *service.EventService
}

// NewEventHandler constructs an EventHandler.
func NewEventHandler(svc *service.EventService) *EventHandler {
	return &EventHandler{svc: svc}
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg})
}

func decodeJSON(r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// respondError maps domain errors onto HTTP status codes. Anything outside
// the taxonomy is surfaced generically without leaking internal detail.
func respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrForbiddenDomain):
		writeError(w, http.StatusBadRequest, "email domain is not allowed for signups")
	case errors.Is(err, repository.ErrEventNotFound):
		writeError(w, http.StatusNotFound, "event not found")
	case errors.Is(err, repository.ErrSignupNotFound):
		writeError(w, http.StatusNotFound, "no active signup for this email")
	case errors.Is(err, service.ErrEventRemoved):
		writeError(w, http.StatusConflict, "event has been removed")
	case errors.Is(err, service.ErrEventClosed):
		writeError(w, http.StatusConflict, "event has already started")
	case errors.Is(err, repository.ErrDuplicateSignup):
		writeError(w, http.StatusConflict, "this email already has an active signup for this event")
	default:
		writeError(w, http.StatusInternalServerError, "unexpected error")
	}
}

// ─── Handlers ─────────────────────────────────────────────────────────────────

// ListEvents handles GET /events
// Soft-deleted events are included only with ?includeRemoved=1.
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("includeRemoved")
	includeRemoved := q == "1" || q == "true"

	events, err := h.svc.ListEvents(r.Context(), includeRemoved)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// CreateEvent handles POST /events
func (h *EventHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req model.EventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	ev, err := h.svc.CreateEvent(r.Context(), req)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

// UpdateEvent handles PUT /events/{id}
func (h *EventHandler) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req model.EventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	ev, err := h.svc.UpdateEvent(r.Context(), id, req)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// DeleteEvent handles DELETE /events/{id}
// Soft-deletes the event; idempotent for already-deleted events.
func (h *EventHandler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.svc.DeleteEvent(r.Context(), id); err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// RestoreEvent handles POST /events/{id}/restore
func (h *EventHandler) RestoreEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.svc.RestoreEvent(r.Context(), id); err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "restored"})
}

// ListSignups handles GET /events/{id}/signups
func (h *EventHandler) ListSignups(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	detail, err := h.svc.ListSignups(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// Signup handles POST /events/{id}/signup
func (h *EventHandler) Signup(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req model.SignupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	result, err := h.svc.Signup(r.Context(), id, req)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// Cancel handles POST /events/{id}/cancel
func (h *EventHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req model.CancelRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	result, err := h.svc.Cancel(r.Context(), id, req)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
