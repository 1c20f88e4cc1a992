package handler

import (
	"net/http"

	"github.com/keymeter/keymeter/internal/handler/dto"
	"github.com/keymeter/keymeter/internal/service"
)

// ListUsers handles GET /api/users.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.svc.ListUsers(r.Context())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ToUserListResponse(users))
}

// GetUser handles GET /api/users/{id}.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := userIDParam(r)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	user, err := h.svc.GetUser(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ToUserResponse(user))
}

// RegisterUser handles POST /api/users/register.
func (h *Handler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var req dto.RegisterUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Unusable limits fall back to the default inside the service.
	limit, _ := dto.ParseLimit(req.MonthlyLimit)

	user, err := h.svc.RegisterUser(r.Context(), service.RegisterInput{
		Username:     req.Username,
		Email:        req.Email,
		SystemKey:    req.SystemKey,
		MonthlyLimit: limit,
	})
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.logger.Info("user_registered",
		"user_id", user.ID,
		"username", user.Username,
		"monthly_limit", user.MonthlyLimit,
	)

	writeJSON(w, http.StatusOK, dto.RegisterUserResponse{
		Message:    "user created successfully",
		UserID:     user.ID,
		PrivateKey: user.PrivateKey,
	})
}

// UpdateLimit handles PUT /api/users/{id}/limit.
func (h *Handler) UpdateLimit(w http.ResponseWriter, r *http.Request) {
	id, err := userIDParam(r)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	var req dto.UpdateLimitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// An unparsable limit arrives as 0 and is rejected by the service.
	limit, _ := dto.ParseLimit(req.MonthlyLimit)

	if err := h.svc.UpdateLimit(r.Context(), id, limit, req.SystemKey); err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.logger.Info("limit_updated", "user_id", id, "monthly_limit", limit)

	writeJSON(w, http.StatusOK, dto.UpdateLimitResponse{
		Message:      "limit updated successfully",
		MonthlyLimit: limit,
	})
}

// DeleteUser handles DELETE /api/users/{id}.
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := userIDParam(r)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	var req dto.SystemKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.svc.DeleteUser(r.Context(), id, req.SystemKey); err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.logger.Info("user_deleted", "user_id", id)

	writeJSON(w, http.StatusOK, dto.MessageResponse{Message: "user deleted successfully"})
}
