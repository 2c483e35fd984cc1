package http

import (
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/aussiebroadwan/accounts/internal/accounts/service"
	"github.com/aussiebroadwan/accounts/pkg/accountsdk"
	"github.com/aussiebroadwan/accounts/pkg/httpx"
	"github.com/aussiebroadwan/accounts/pkg/slogx"
)

// MFAHandler handles all MFA-related endpoints.
type MFAHandler struct {
	SecondFactor *service.SecondFactorService
}

// errBadCode is used instead of the login mapping: the caller is already
// authenticated, so a wrong code is a bad request rather than a 401.
var errBadCode = apiError(http.StatusBadRequest, accountsdk.ErrorCodeInvalidSecondFactorCode, "invalid TOTP code")

func (h *MFAHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, service.ErrInvalidSecondFactorCode) {
		slogx.FromContext(r.Context()).Warn("invalid TOTP code")
		httpx.WriteError(w, errBadCode)
		return
	}
	writeServiceError(w, r, err, resolveNow(h.SecondFactor.Now))
}

// HandleEnroll handles POST /v1/mfa/totp/enroll
//
//	@Summary		Enroll in TOTP MFA
//	@Description	Generates a TOTP secret for the authenticated account and returns it with a QR code.
//	@Description	Enrolling again replaces a pending secret.
//	@Tags			MFA
//	@Security		BearerAuth
//	@Produce		json
//	@Success		200	{object}	accountsdk.TOTPEnrollResponse	"TOTP secret and QR code"
//	@Failure		400	{object}	accountsdk.ErrorResponse		"MFA already enabled"
//	@Failure		401	{object}	accountsdk.ErrorResponse		"Invalid or missing access token"
//	@Router			/v1/mfa/totp/enroll [post].
func (h *MFAHandler) HandleEnroll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	setup, err := h.SecondFactor.Enroll(ctx, httpx.AccountID(ctx))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, accountsdk.TOTPEnrollResponse{
		Secret:          setup.Secret,
		ProvisioningURI: setup.ProvisioningURI,
		QRCode:          base64.StdEncoding.EncodeToString(setup.QRCodePNG),
		Issuer:          setup.Issuer,
		Account:         setup.Account,
	})
}

// HandleVerify handles POST /v1/mfa/totp/verify
//
//	@Summary		Verify TOTP code and enable MFA
//	@Description	Verifies a TOTP code and enables MFA for the account. Returns backup codes.
//	@Tags			MFA
//	@Security		BearerAuth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		accountsdk.TOTPCodeRequest		true	"TOTP code"
//	@Success		200		{object}	accountsdk.BackupCodesResponse	"Backup codes (shown once)"
//	@Failure		400		{object}	accountsdk.ErrorResponse		"Invalid code, not enrolled or already enabled"
//	@Router			/v1/mfa/totp/verify [post].
func (h *MFAHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req accountsdk.TOTPCodeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, httpx.ErrBadRequest)
		return
	}

	codes, err := h.SecondFactor.Confirm(ctx, httpx.AccountID(ctx), req.Code)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, accountsdk.BackupCodesResponse{Codes: codes})
}

// HandleRegenerateBackupCodes handles POST /v1/mfa/backup-codes
//
//	@Summary		Regenerate backup codes
//	@Description	Replaces every backup code. Requires a TOTP code.
//	@Tags			MFA
//	@Security		BearerAuth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		accountsdk.TOTPCodeRequest		true	"TOTP code"
//	@Success		200		{object}	accountsdk.BackupCodesResponse	"New backup codes (shown once)"
//	@Failure		400		{object}	accountsdk.ErrorResponse		"Invalid code or MFA not enabled"
//	@Router			/v1/mfa/backup-codes [post].
func (h *MFAHandler) HandleRegenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req accountsdk.TOTPCodeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, httpx.ErrBadRequest)
		return
	}

	codes, err := h.SecondFactor.RegenerateBackupCodes(ctx, httpx.AccountID(ctx), req.Code)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, accountsdk.BackupCodesResponse{Codes: codes})
}

// HandleRemove handles DELETE /v1/mfa/totp
//
//	@Summary		Remove TOTP MFA
//	@Description	Turns the second factor off and deletes the backup codes. Requires a TOTP code.
//	@Tags			MFA
//	@Security		BearerAuth
//	@Accept			json
//	@Param			request	body	accountsdk.TOTPCodeRequest	true	"TOTP code"
//	@Success		204
//	@Failure		400	{object}	accountsdk.ErrorResponse	"Invalid code or MFA not enabled"
//	@Router			/v1/mfa/totp [delete].
func (h *MFAHandler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req accountsdk.TOTPCodeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, httpx.ErrBadRequest)
		return
	}

	if err := h.SecondFactor.Disable(ctx, httpx.AccountID(ctx), req.Code); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
