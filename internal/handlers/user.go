package handlers

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/timothysaatum/hepvac-api-sub000/internal/apperrors"
	"github.com/timothysaatum/hepvac-api-sub000/internal/handlers/render"
	"github.com/timothysaatum/hepvac-api-sub000/internal/handlers/userctx"
	"github.com/timothysaatum/hepvac-api-sub000/internal/logger"
)

type UserHandler struct {
	userService userService
	logger      logger.Logger
}

func NewUser(users userService, l logger.Logger) *UserHandler {
	return &UserHandler{userService: users, logger: l}
}

func (h *UserHandler) me(w http.ResponseWriter, r *http.Request) {
	user, ok := userctx.FromContext(r.Context())
	if !ok {
		render.ServiceError(w, "Authorization required", http.StatusUnauthorized)
		return
	}

	render.JSON(w, toUserResponse(user))
}

func (h *UserHandler) list(w http.ResponseWriter, r *http.Request) {
	users, err := h.userService.List(r.Context())
	if err != nil {
		h.logger.Error("Failed to list users", "error", err)
		render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	response := make([]UserResponse, 0, len(users))
	for _, user := range users {
		response = append(response, toUserResponse(user))
	}

	render.JSON(w, response)
}

func (h *UserHandler) activate(w http.ResponseWriter, r *http.Request) {
	type ActivateSuccessResponse struct {
		Message string `json:"message"`
	}

	userID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	if err := h.userService.Activate(r.Context(), userID); err != nil {
		switch {
		case errors.Is(err, apperrors.ErrUserNotFound):
			render.ServiceError(w, "User not found", http.StatusNotFound)
		default:
			h.logger.Error("Failed to activate user", "user_id", userID, "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	if admin, ok := userctx.FromContext(r.Context()); ok {
		h.logger.Info("User activated", "user_id", userID, "by", admin.ID)
	}
	render.JSON(w, ActivateSuccessResponse{Message: "User activated"})
}

func (h *UserHandler) deactivate(w http.ResponseWriter, r *http.Request) {
	type DeactivateSuccessResponse struct {
		Message string `json:"message"`
	}

	userID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	// Deactivating yourself would strand the account
	if current, ok := userctx.FromContext(r.Context()); ok && current.ID == userID {
		render.ServiceError(w, "Can't deactivate your own account", http.StatusBadRequest)
		return
	}

	if err := h.userService.Deactivate(r.Context(), userID); err != nil {
		switch {
		case errors.Is(err, apperrors.ErrUserNotFound):
			render.ServiceError(w, "User not found", http.StatusNotFound)
		default:
			h.logger.Error("Failed to deactivate user", "user_id", userID, "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	if admin, ok := userctx.FromContext(r.Context()); ok {
		h.logger.Info("User deactivated", "user_id", userID, "by", admin.ID)
	}
	render.JSON(w, DeactivateSuccessResponse{Message: "User deactivated"})
}

// pathUUID parses the named path segment as uuid and answers 400 if it isn't one
func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		render.ServiceError(w, "Invalid id in path", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}
