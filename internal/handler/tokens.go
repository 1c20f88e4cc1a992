package handler

import (
	"net/http"

	"github.com/keymeter/keymeter/internal/handler/dto"
)

// ValidateToken handles POST /api/validate-token.
func (h *Handler) ValidateToken(w http.ResponseWriter, r *http.Request) {
	var req dto.TokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	status, err := h.svc.ValidateToken(r.Context(), req.UserToken)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	user := status.User
	writeJSON(w, http.StatusOK, dto.ValidateTokenResponse{
		Valid:             true,
		UserID:            user.ID,
		Username:          user.Username,
		MonthlyLimit:      user.MonthlyLimit,
		RequestsUsed:      user.RequestsUsed,
		RemainingRequests: user.Remaining(),
		SystemKey:         status.SystemKey,
		Message:           "valid token",
	})
}

// ConsumeRequest handles POST /api/consume-request.
func (h *Handler) ConsumeRequest(w http.ResponseWriter, r *http.Request) {
	var req dto.TokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.svc.ConsumeRequest(r.Context(), req.UserToken)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ConsumeResponse{
		Success:           true,
		Message:           "request consumed successfully",
		UserID:            user.ID,
		Username:          user.Username,
		MonthlyLimit:      user.MonthlyLimit,
		RequestsUsed:      user.RequestsUsed,
		RemainingRequests: user.Remaining(),
	})
}
