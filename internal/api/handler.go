package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/djlord-it/eventtrigger/internal/domain"
	"github.com/djlord-it/eventtrigger/internal/trigger"
)

// Pagination defaults and limits.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

type Service interface {
	CreateAPI(ctx context.Context, in trigger.CreateAPIInput) (domain.Trigger, error)
	CreateScheduled(ctx context.Context, in trigger.CreateScheduledInput) (domain.Trigger, error)
	Get(ctx context.Context, id uuid.UUID) (domain.Trigger, error)
	List(ctx context.Context, limit, offset int) ([]domain.Trigger, error)
	ListEventLogs(ctx context.Context, limit, offset int) ([]domain.EventLog, error)
	Update(ctx context.Context, id uuid.UUID, p trigger.Patch) (domain.Trigger, error)
	Delete(ctx context.Context, id uuid.UUID) error
	TestFire(ctx context.Context, id uuid.UUID) (domain.EventLog, error)
}

// HealthChecker provides store health status for the /health endpoint.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

var _ Service = (*trigger.Service)(nil)

type Handler struct {
	service Service
	db      HealthChecker
	router  chi.Router
	log     zerolog.Logger
}

func NewHandler(service Service, log zerolog.Logger) *Handler {
	h := &Handler{
		service: service,
		router:  chi.NewRouter(),
		log:     log.With().Str("component", "api").Logger(),
	}
	h.routes()
	return h
}

// WithHealthChecker sets the store health checker for verbose /health responses.
func (h *Handler) WithHealthChecker(db HealthChecker) *Handler {
	h.db = db
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) routes() {
	r := h.router

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/health", h.health)

	r.Post("/api/triggers", h.createAPITrigger)
	r.Post("/scheduled/triggers", h.createScheduledTrigger)

	r.Route("/triggers", func(r chi.Router) {
		r.Get("/", h.listTriggers)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.getTrigger)
			r.Put("/", h.updateTrigger)
			r.Delete("/", h.deleteTrigger)
			r.Post("/test", h.testFire)
		})
	})

	r.Get("/event_logs", h.listEventLogs)
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		h.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose || h.db == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		resp.Status = "degraded"
		resp.Components["database"] = "unhealthy: " + err.Error()
	} else {
		resp.Components["database"] = "healthy"
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, resp)
}

func (h *Handler) createAPITrigger(w http.ResponseWriter, r *http.Request) {
	var req CreateAPITriggerRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := validateCreateAPI(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	t, err := h.service.CreateAPI(r.Context(), trigger.CreateAPIInput{
		APIEndpoint: req.APIEndpoint,
		Payload:     req.Payload,
		IsTest:      req.IsTest,
	})
	if err != nil {
		h.writeServiceError(w, err, "failed to create trigger")
		return
	}

	writeJSON(w, http.StatusCreated, MessageResponse{Message: "api trigger created", ID: t.ID.String()})
}

func (h *Handler) createScheduledTrigger(w http.ResponseWriter, r *http.Request) {
	var req CreateScheduledTriggerRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := validateCreateScheduled(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	t, err := h.service.CreateScheduled(r.Context(), trigger.CreateScheduledInput{
		ScheduleType:  domain.ScheduleType(req.ScheduleType),
		ScheduleValue: req.ScheduleValue,
		IsRecurring:   req.IsRecurring,
		Payload:       req.Payload,
		IsTest:        req.IsTest,
	})
	if err != nil {
		h.writeServiceError(w, err, "failed to create trigger")
		return
	}

	writeJSON(w, http.StatusCreated, MessageResponse{Message: "scheduled trigger created", ID: t.ID.String()})
}

func (h *Handler) listTriggers(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	triggers, err := h.service.List(r.Context(), limit, offset)
	if err != nil {
		h.writeServiceError(w, err, "failed to list triggers")
		return
	}

	resp := ListTriggersResponse{Triggers: make([]TriggerResponse, len(triggers))}
	for i, t := range triggers {
		resp.Triggers[i] = toTriggerResponse(t)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getTrigger(w http.ResponseWriter, r *http.Request) {
	id, ok := parseTriggerID(w, r)
	if !ok {
		return
	}

	t, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "failed to get trigger")
		return
	}

	writeJSON(w, http.StatusOK, toTriggerResponse(t))
}

func (h *Handler) updateTrigger(w http.ResponseWriter, r *http.Request) {
	id, ok := parseTriggerID(w, r)
	if !ok {
		return
	}

	var req UpdateTriggerRequest
	if !decodeBody(w, r, &req) {
		return
	}

	patch, err := toPatch(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := h.service.Update(r.Context(), id, patch); err != nil {
		h.writeServiceError(w, err, "failed to update trigger")
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "trigger updated", ID: id.String()})
}

func (h *Handler) deleteTrigger(w http.ResponseWriter, r *http.Request) {
	id, ok := parseTriggerID(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), id); err != nil {
		h.writeServiceError(w, err, "failed to delete trigger")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) testFire(w http.ResponseWriter, r *http.Request) {
	id, ok := parseTriggerID(w, r)
	if !ok {
		return
	}

	if _, err := h.service.TestFire(r.Context(), id); err != nil {
		h.writeServiceError(w, err, "failed to fire trigger")
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "test event fired"})
}

func (h *Handler) listEventLogs(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	logs, err := h.service.ListEventLogs(r.Context(), limit, offset)
	if err != nil {
		h.writeServiceError(w, err, "failed to list event logs")
		return
	}

	resp := ListEventLogsResponse{Logs: make([]EventLogResponse, len(logs))}
	for i, l := range logs {
		resp.Logs[i] = toEventLogResponse(l)
	}

	writeJSON(w, http.StatusOK, resp)
}

// writeServiceError maps domain errors to client statuses. Anything else is
// logged and reported as a 500 with the generic msg.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error, msg string) {
	switch {
	case errors.Is(err, domain.ErrTriggerNotFound):
		writeError(w, http.StatusNotFound, "trigger not found")
	case errors.Is(err, domain.ErrInvalidSchedule), errors.Is(err, domain.ErrUnsupportedKind):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.log.Error().Err(err).Msg(msg)
		writeError(w, http.StatusInternalServerError, msg)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

func parseTriggerID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid trigger id")
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// parsePagination extracts and validates limit/offset query parameters.
// A missing or zero limit means DefaultLimit.
func parsePagination(r *http.Request) (limit, offset int, err error) {
	limit = DefaultLimit
	offset = 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			return 0, 0, err
		}
		if limit < 0 {
			return 0, 0, strconv.ErrRange
		}
		if limit > MaxLimit {
			return 0, 0, &limitExceededError{max: MaxLimit}
		}
		if limit == 0 {
			limit = DefaultLimit
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		offset, err = strconv.Atoi(offsetStr)
		if err != nil {
			return 0, 0, err
		}
		if offset < 0 {
			return 0, 0, strconv.ErrRange
		}
	}

	return limit, offset, nil
}

type limitExceededError struct {
	max int
}

func (e *limitExceededError) Error() string {
	return "limit exceeds maximum of " + strconv.Itoa(e.max)
}
