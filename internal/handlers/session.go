package handlers

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/timothysaatum/hepvac-api-sub000/internal/apperrors"
	"github.com/timothysaatum/hepvac-api-sub000/internal/handlers/render"
	"github.com/timothysaatum/hepvac-api-sub000/internal/handlers/userctx"
	"github.com/timothysaatum/hepvac-api-sub000/internal/logger"
	"github.com/timothysaatum/hepvac-api-sub000/internal/models"
	"github.com/timothysaatum/hepvac-api-sub000/internal/service/session"
)

type SessionHandler struct {
	sessionService sessionService
	logger         logger.Logger
}

func NewSession(sessions sessionService, l logger.Logger) *SessionHandler {
	return &SessionHandler{sessionService: sessions, logger: l}
}

// list returns the caller's own active sessions, the current one marked
func (h *SessionHandler) list(w http.ResponseWriter, r *http.Request) {
	user, ok := userctx.FromContext(r.Context())
	if !ok {
		render.ServiceError(w, "Authorization required", http.StatusUnauthorized)
		return
	}
	current, _ := userctx.SessionFromContext(r.Context())

	sessions, err := h.sessionService.ListForUser(r.Context(), user.ID)
	if err != nil {
		h.logger.Error("Failed to list sessions", "user_id", user.ID, "error", err)
		render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	render.JSON(w, toSessionList(sessions, current.ID))
}

// listForUser lets administrators inspect another user's active sessions
func (h *SessionHandler) listForUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	sessions, err := h.sessionService.ListForUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to list sessions", "user_id", userID, "error", err)
		render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	render.JSON(w, toSessionList(sessions, uuid.Nil))
}

// terminate closes one session. Own sessions always, anyone's with the
// session.terminate permission.
func (h *SessionHandler) terminate(w http.ResponseWriter, r *http.Request) {
	type TerminateSuccessResponse struct {
		Message string `json:"message"`
	}

	user, ok := userctx.FromContext(r.Context())
	if !ok {
		render.ServiceError(w, "Authorization required", http.StatusUnauthorized)
		return
	}

	sessionID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	owned, err := h.ownsSession(r, user.ID, sessionID)
	if err != nil {
		h.logger.Error("Failed to check session ownership", "session_id", sessionID, "error", err)
		render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	reason := session.ReasonUserRevoked
	if !owned {
		if !user.HasAnyPermission("session.terminate") {
			render.ServiceError(w, "Insufficient permissions", http.StatusForbidden)
			return
		}
		reason = session.ReasonAdminRevoked
	}

	err = h.sessionService.Terminate(r.Context(), sessionID, reason)
	if err != nil {
		switch {
		case errors.Is(err, apperrors.ErrSessionNotFound):
			render.ServiceError(w, "Session not found", http.StatusNotFound)
		default:
			h.logger.Error("Failed to terminate session", "session_id", sessionID, "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	h.logger.Info("Session terminated", "session_id", sessionID, "by", user.ID, "reason", reason)
	render.JSON(w, TerminateSuccessResponse{Message: "Session terminated"})
}

// terminateOthers closes every session of the caller except the current one
func (h *SessionHandler) terminateOthers(w http.ResponseWriter, r *http.Request) {
	type TerminateOthersResponse struct {
		Message    string `json:"message"`
		Terminated int    `json:"terminated"`
	}

	user, ok := userctx.FromContext(r.Context())
	if !ok {
		render.ServiceError(w, "Authorization required", http.StatusUnauthorized)
		return
	}
	current, _ := userctx.SessionFromContext(r.Context())

	count, err := h.sessionService.TerminateAllForUser(r.Context(), user.ID, current.ID, session.ReasonUserRevoked)
	if err != nil {
		h.logger.Error("Failed to terminate sessions", "user_id", user.ID, "error", err)
		render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	render.JSON(w, TerminateOthersResponse{Message: "Other sessions terminated", Terminated: count})
}

func (h *SessionHandler) ownsSession(r *http.Request, userID uuid.UUID, sessionID uuid.UUID) (bool, error) {
	sessions, err := h.sessionService.ListForUser(r.Context(), userID)
	if err != nil {
		return false, err
	}
	for _, s := range sessions {
		if s.ID == sessionID {
			return true, nil
		}
	}
	return false, nil
}

func toSessionList(sessions []models.Session, currentID uuid.UUID) []SessionResponse {
	response := make([]SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		response = append(response, toSessionResponse(s, currentID))
	}
	return response
}
