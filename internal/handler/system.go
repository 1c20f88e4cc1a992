package handler

import (
	"net/http"

	"github.com/keymeter/keymeter/internal/handler/dto"
)

// Status handles GET /api/health.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, dto.StatusResponse{
		Status:  "ok",
		Message: "server is running",
	})
}

// SystemKey handles GET /api/system/key.
func (h *Handler) SystemKey(w http.ResponseWriter, r *http.Request) {
	key, err := h.svc.SystemKey(r.Context())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.SystemKeyResponse{SystemKey: key})
}

// Dashboard handles GET /api/dashboard.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	totals, err := h.svc.Dashboard(r.Context())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, totals)
}

// MonthlyUsage handles GET /api/usage/monthly?month=YYYY-MM.
func (h *Handler) MonthlyUsage(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.MonthlyUsage(r.Context(), r.URL.Query().Get("month"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ToMonthlyUsageResponse(report))
}
