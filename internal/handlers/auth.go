package handlers

import (
	"errors"
	"net/http"

	"github.com/timothysaatum/hepvac-api-sub000/internal/apperrors"
	"github.com/timothysaatum/hepvac-api-sub000/internal/handlers/render"
	"github.com/timothysaatum/hepvac-api-sub000/internal/handlers/userctx"
	"github.com/timothysaatum/hepvac-api-sub000/internal/logger"
	"github.com/timothysaatum/hepvac-api-sub000/internal/service/device"
)

type AuthHandler struct {
	authService authService
	logger      logger.Logger
}

func NewAuth(auth authService, l logger.Logger) *AuthHandler {
	return &AuthHandler{authService: auth, logger: l}
}

func (h *AuthHandler) register(w http.ResponseWriter, r *http.Request) {
	type RegisterRequest struct {
		Username string `json:"username" validate:"required,min=2,max=50"`
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required,min=8,max=128"`
	}

	data, err := render.BindAndValidate[RegisterRequest](w, r)
	if err != nil {
		return
	}

	user, err := h.authService.Register(r.Context(), data.Username, data.Email, data.Password)
	if err != nil {
		switch {
		case errors.Is(err, apperrors.ErrUserAlreadyExists):
			render.ServiceError(w, "User already exists", http.StatusConflict)
		default:
			h.logger.Error("Registration failed", "username", data.Username, "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	render.JSONWithStatus(w, toUserResponse(user), http.StatusCreated)
}

func (h *AuthHandler) login(w http.ResponseWriter, r *http.Request) {
	type LoginRequest struct {
		Username string `json:"username" validate:"required"`
		Password string `json:"password" validate:"required"`
	}

	data, err := render.BindAndValidate[LoginRequest](w, r)
	if err != nil {
		return
	}

	result, err := h.authService.Login(r.Context(), data.Username, data.Password, device.Collect(r))
	if err != nil {
		switch {
		case errors.Is(err, apperrors.ErrInvalidCredentials):
			render.ServiceError(w, "Invalid username or password", http.StatusUnauthorized)
		case errors.Is(err, apperrors.ErrAccountSuspended):
			render.ServiceError(w, "Account suspended", http.StatusUnauthorized)
		case errors.Is(err, apperrors.ErrAccountInactive):
			render.ServiceError(w, "Account inactive", http.StatusUnauthorized)
		case errors.Is(err, apperrors.ErrNoAssignedRole):
			render.ServiceError(w, "Account has no assigned role", http.StatusUnauthorized)
		case errors.Is(err, apperrors.ErrDeviceNotTrusted):
			render.ServiceError(w, "Device not trusted", http.StatusForbidden)
		default:
			h.logger.Error("Login failed", "username", data.Username, "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	setTokens(w, r, result.Tokens)
	render.JSON(w, toTokenResponse(result.Tokens.Access, result.User))
}

func (h *AuthHandler) refresh(w http.ResponseWriter, r *http.Request) {
	refresh, err := readRefresh(r)
	if err != nil {
		render.ServiceError(w, "Refresh token not found", http.StatusUnauthorized)
		return
	}

	result, err := h.authService.Refresh(r.Context(), refresh, device.Collect(r))
	if err != nil {
		switch {
		case errors.Is(err, apperrors.ErrAccountSuspended):
			render.ServiceError(w, "Account suspended", http.StatusUnauthorized)
		case errors.Is(err, apperrors.ErrAccountInactive):
			render.ServiceError(w, "Account inactive", http.StatusUnauthorized)
		case errors.Is(err, apperrors.ErrRefreshAbsolutelyExpired):
			clearRefreshCookie(w, r)
			render.ServiceError(w, "Session expired, login again", http.StatusUnauthorized)
		default:
			// Revoked, unknown or malformed tokens all sound the same to the caller
			render.ServiceError(w, "Invalid refresh token", http.StatusUnauthorized)
		}
		return
	}

	setTokens(w, r, result.Tokens)
	render.JSON(w, toTokenResponse(result.Tokens.Access, result.User))
}

func (h *AuthHandler) logout(w http.ResponseWriter, r *http.Request) {
	type LogoutSuccessResponse struct {
		Message string `json:"message"`
	}

	session, ok := userctx.SessionFromContext(r.Context())
	if !ok {
		render.ServiceError(w, "Authorization required", http.StatusUnauthorized)
		return
	}

	// The cookie may be gone already, logout still closes the session
	refresh, _ := readRefresh(r)

	if err := h.authService.Logout(r.Context(), session.ID, refresh); err != nil {
		h.logger.Error("Logout failed", "session_id", session.ID, "error", err)
		render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	clearRefreshCookie(w, r)
	render.JSON(w, LogoutSuccessResponse{Message: "Logged out successfully"})
}
