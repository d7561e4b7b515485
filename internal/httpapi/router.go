// Package httpapi exposes session control and recording history over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"meetscribe/internal/domain"
	"meetscribe/internal/lifecycle"
	"meetscribe/internal/store"
	"meetscribe/internal/usecase"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Sessions controls the live recording session.
type Sessions interface {
	Start(ctx context.Context) (string, error)
	Stop(ctx context.Context) (domain.StopResult, error)
	Status() domain.Status
	Discard(ctx context.Context, recordingID string) error
}

// Recordings reads recording history.
type Recordings interface {
	Get(ctx context.Context, id string) (domain.Recording, bool, error)
	List(ctx context.Context, limit int) ([]domain.RecordingSummary, error)
}

type handler struct {
	sessions   Sessions
	recordings Recordings
	log        zerolog.Logger
}

// NewRouter constructs the HTTP router. events may be nil to disable the
// live event stream.
func NewRouter(sessions Sessions, recordings Recordings, events http.Handler, gatherer prometheus.Gatherer, logger zerolog.Logger) http.Handler {
	h := &handler{sessions: sessions, recordings: recordings, log: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/session", h.status)
		r.Post("/session/start", h.start)
		r.Post("/session/stop", h.stop)
		if events != nil {
			r.Handle("/events", events)
		}

		r.Get("/recordings", h.list)
		r.Get("/recordings/{id}", h.get)
		r.Post("/recordings/{id}/discard", h.discard)
	})

	return r
}

func (h *handler) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.sessions.Status())
}

func (h *handler) start(w http.ResponseWriter, r *http.Request) {
	id, err := h.sessions.Start(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	status := h.sessions.Status()
	status.RecordingID = id
	writeJSON(w, http.StatusCreated, status)
}

func (h *handler) stop(w http.ResponseWriter, r *http.Request) {
	result, err := h.sessions.Stop(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) list(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "limit must be a positive integer"})
			return
		}
		limit = min(parsed, maxListLimit)
	}

	list, err := h.recordings.List(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []domain.RecordingSummary{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) get(w http.ResponseWriter, r *http.Request) {
	rec, ok, err := h.recordings.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "recording not found"})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *handler) discard(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Discard(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("requestId", middleware.GetReqID(r.Context())).Str("path", r.URL.Path).Msg("Request failed")
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Code: code})
}

func classify(err error) (int, string) {
	var (
		credentialErr *domain.CredentialError
		deviceErr     *domain.DeviceError
		connectErr    *domain.ConnectError
	)
	switch {
	case errors.Is(err, usecase.ErrNoActiveSession),
		errors.Is(err, usecase.ErrSessionInProgress),
		errors.Is(err, usecase.ErrStartAborted),
		errors.Is(err, usecase.ErrRecordingInUse),
		errors.Is(err, lifecycle.ErrInvalidTransition):
		return http.StatusConflict, "conflict"
	case errors.Is(err, lifecycle.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.As(err, &credentialErr):
		return http.StatusBadGateway, string(domain.ErrorCodeCredential)
	case errors.As(err, &connectErr):
		return http.StatusBadGateway, string(domain.ErrorCodeConnect)
	case errors.As(err, &deviceErr):
		return http.StatusServiceUnavailable, string(domain.ErrorCodeDevice)
	default:
		return http.StatusInternalServerError, ""
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
