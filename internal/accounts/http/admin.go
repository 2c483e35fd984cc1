package http

import (
	"net/http"

	"github.com/aussiebroadwan/accounts/internal/accounts/service"
	"github.com/aussiebroadwan/accounts/pkg/httpx"
)

// AdminHandler serves account administration. Every route requires the
// admin role.
type AdminHandler struct {
	Accounts *service.AccountService
}

// HandleGet handles GET /v1/admin/accounts/{id}
//
//	@Summary		Get an account
//	@Tags			Admin
//	@Security		BearerAuth
//	@Produce		json
//	@Param			id	path		string	true	"Account ID"
//	@Success		200	{object}	accountsdk.AccountResponse
//	@Failure		403	{object}	accountsdk.ErrorResponse	"Caller is not an admin"
//	@Failure		404	{object}	accountsdk.ErrorResponse	"Account not found"
//	@Router			/v1/admin/accounts/{id} [get].
func (h *AdminHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	acct, err := h.Accounts.GetAccount(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err, resolveNow(h.Accounts.Now))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, accountResponse(acct))
}

// HandleUnlock handles POST /v1/admin/accounts/{id}/unlock
//
//	@Summary		Unlock an account
//	@Description	Clears the lock and both failure counters.
//	@Tags			Admin
//	@Security		BearerAuth
//	@Param			id	path	string	true	"Account ID"
//	@Success		204
//	@Failure		403	{object}	accountsdk.ErrorResponse	"Caller is not an admin"
//	@Failure		404	{object}	accountsdk.ErrorResponse	"Account not found"
//	@Router			/v1/admin/accounts/{id}/unlock [post].
func (h *AdminHandler) HandleUnlock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.Accounts.UnlockAccount(ctx, httpx.AccountID(ctx), r.PathValue("id")); err != nil {
		writeServiceError(w, r, err, resolveNow(h.Accounts.Now))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleDeactivate handles DELETE /v1/admin/accounts/{id}
//
//	@Summary		Deactivate an account
//	@Description	Soft-deletes the account and ends all of its sessions.
//	@Tags			Admin
//	@Security		BearerAuth
//	@Param			id	path	string	true	"Account ID"
//	@Success		204
//	@Failure		403	{object}	accountsdk.ErrorResponse	"Caller is not an admin"
//	@Failure		404	{object}	accountsdk.ErrorResponse	"Account not found"
//	@Router			/v1/admin/accounts/{id} [delete].
func (h *AdminHandler) HandleDeactivate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.Accounts.DeactivateAccount(ctx, httpx.AccountID(ctx), r.PathValue("id")); err != nil {
		writeServiceError(w, r, err, resolveNow(h.Accounts.Now))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
