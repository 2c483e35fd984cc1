package http

import (
	"net/http"

	"github.com/aussiebroadwan/accounts/internal/accounts/service"
	"github.com/aussiebroadwan/accounts/pkg/accountsdk"
	"github.com/aussiebroadwan/accounts/pkg/httpx"
)

// SessionsHandler lets an account manage its signed-in devices.
type SessionsHandler struct {
	Auth *service.AuthService
}

// HandleList handles GET /v1/sessions
//
//	@Summary		List active sessions
//	@Description	One entry per signed-in device, newest activity first. The calling session is flagged current.
//	@Tags			Sessions
//	@Security		BearerAuth
//	@Produce		json
//	@Success		200	{object}	accountsdk.SessionListResponse
//	@Failure		401	{object}	accountsdk.ErrorResponse	"Invalid or missing access token"
//	@Router			/v1/sessions [get].
func (h *SessionsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sessions, err := h.Auth.ListActiveSessions(ctx, httpx.AccountID(ctx))
	if err != nil {
		writeServiceError(w, r, err, resolveNow(h.Auth.Now))
		return
	}

	current := httpx.SessionToken(ctx)
	out := accountsdk.SessionListResponse{Sessions: make([]accountsdk.SessionResponse, 0, len(sessions))}
	for _, s := range sessions {
		out.Sessions = append(out.Sessions, accountsdk.SessionResponse{
			ID:             s.ID,
			DeviceName:     s.DeviceName,
			IP:             s.IP,
			RememberMe:     s.RememberMe,
			Current:        s.Token == current,
			CreatedAt:      s.CreatedAt,
			LastActivityAt: s.LastActivityAt,
			ExpiresAt:      s.ExpiresAt,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

// HandleTerminate handles DELETE /v1/sessions/{id}
//
//	@Summary		Sign out a device
//	@Tags			Sessions
//	@Security		BearerAuth
//	@Param			id	path	string	true	"Session ID"
//	@Success		204
//	@Failure		404	{object}	accountsdk.ErrorResponse	"No such session for this account"
//	@Router			/v1/sessions/{id} [delete].
func (h *SessionsHandler) HandleTerminate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.Auth.TerminateSessionByID(ctx, httpx.AccountID(ctx), r.PathValue("id")); err != nil {
		writeServiceError(w, r, err, resolveNow(h.Auth.Now))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleTerminateOthers handles DELETE /v1/sessions
//
//	@Summary		Sign out every other device
//	@Tags			Sessions
//	@Security		BearerAuth
//	@Produce		json
//	@Success		200	{object}	accountsdk.TerminatedResponse
//	@Router			/v1/sessions [delete].
func (h *SessionsHandler) HandleTerminateOthers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	n, err := h.Auth.TerminateOtherSessions(ctx, httpx.AccountID(ctx), httpx.SessionToken(ctx))
	if err != nil {
		writeServiceError(w, r, err, resolveNow(h.Auth.Now))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, accountsdk.TerminatedResponse{Terminated: n})
}
