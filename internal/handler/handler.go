// Package handler provides HTTP request handlers.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/keymeter/keymeter/internal/handler/dto"
	"github.com/keymeter/keymeter/internal/middleware"
	"github.com/keymeter/keymeter/internal/service"
)

// Handler serves the admin API.
type Handler struct {
	svc    *service.QuotaService
	logger *slog.Logger
}

// New creates a new Handler instance.
func New(svc *service.QuotaService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		svc:    svc,
		logger: logger.With("component", "handler"),
	}
}

// RegisterRoutes mounts the admin API under /api. tokenGuards wrap only the
// token endpoints (validate and consume).
func (h *Handler) RegisterRoutes(r chi.Router, tokenGuards ...func(http.Handler) http.Handler) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Status)
		r.Get("/system/key", h.SystemKey)
		r.Get("/dashboard", h.Dashboard)
		r.Get("/usage/monthly", h.MonthlyUsage)

		r.Route("/users", func(r chi.Router) {
			r.Get("/", h.ListUsers)
			r.Post("/register", h.RegisterUser)
			r.Get("/{id}", h.GetUser)
			r.Put("/{id}/limit", h.UpdateLimit)
			r.Delete("/{id}", h.DeleteUser)
		})

		r.Group(func(r chi.Router) {
			r.Use(tokenGuards...)
			r.Post("/validate-token", h.ValidateToken)
			r.Post("/consume-request", h.ConsumeRequest)
		})
	})
}

// NotFound handles 404 responses.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "resource not found")
}

// MethodNotAllowed handles 405 responses.
func (h *Handler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// errInvalidJSON is returned by decodeJSON for malformed bodies.
var errInvalidJSON = errors.New("invalid JSON body")

// decodeJSON reads the request body into dst. An empty body leaves dst at
// its zero value so the field checks report what is missing.
func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return errInvalidJSON
	}
	return nil
}

// userIDParam parses the {id} URL parameter.
func userIDParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, service.ErrInvalidUserID
	}
	return id, nil
}

// handleServiceError maps service errors to HTTP responses.
func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var exhausted *service.QuotaExhaustedError

	switch {
	case errors.As(err, &exhausted):
		writeJSON(w, http.StatusTooManyRequests, dto.QuotaExhaustedResponse{
			Error:             exhausted.Error(),
			MonthlyLimit:      exhausted.MonthlyLimit,
			RequestsUsed:      exhausted.RequestsUsed,
			RemainingRequests: 0,
		})
	case errors.Is(err, service.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "invalid system key")
	case errors.Is(err, service.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, "invalid token")
	case errors.Is(err, service.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "user not found")
	case errors.Is(err, service.ErrSystemKeyNotFound):
		writeError(w, http.StatusNotFound, "system key not found")
	case errors.Is(err, service.ErrConflict):
		writeError(w, http.StatusConflict, "username or email already exists")
	case errors.Is(err, service.ErrUsageUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.logger.Error("request failed",
			"request_id", middleware.GetRequestID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// writeError writes a {"error": message} response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, dto.ErrorResponse{Error: message})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
