package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/aussiebroadwan/accounts/internal/accounts/domain"
	"github.com/aussiebroadwan/accounts/internal/accounts/service"
	"github.com/aussiebroadwan/accounts/pkg/accountsdk"
	"github.com/aussiebroadwan/accounts/pkg/httpx"
	"github.com/aussiebroadwan/accounts/pkg/slogx"
)

// AuthHandler serves signup, login and the credential lifecycle.
type AuthHandler struct {
	Auth       *service.AuthService
	Accounts   *service.AccountService
	TrustProxy bool
}

func (h *AuthHandler) now() time.Time { return resolveNow(h.Auth.Now) }

// HandleRegister handles POST /v1/auth/register
//
//	@Summary		Register an account
//	@Description	Creates a client account and mails a verification token.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		accountsdk.RegisterRequest	true	"Email, optional username and password"
//	@Success		201		{object}	accountsdk.AccountResponse
//	@Failure		400		{object}	accountsdk.ErrorResponse	"Invalid email or weak password"
//	@Failure		409		{object}	accountsdk.ErrorResponse	"Email already registered"
//	@Router			/v1/auth/register [post].
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req accountsdk.RegisterRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, httpx.ErrBadRequest)
		return
	}

	acct, err := h.Accounts.Register(r.Context(), service.RegisterRequest{
		Email:    req.Email,
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		writeServiceError(w, r, err, h.now())
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, accountResponse(acct))
}

// HandleLogin handles POST /v1/auth/login
//
//	@Summary		Log in
//	@Description	Checks email and password and binds a session to the calling device.
//	@Description	Accounts with a second factor get 401 second_factor_required and must call /v1/auth/login/second-factor.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		accountsdk.LoginRequest	true	"Credentials and device hints"
//	@Success		200		{object}	accountsdk.LoginResponse
//	@Failure		401		{object}	accountsdk.ErrorResponse	"Invalid credentials or second factor required"
//	@Failure		403		{object}	accountsdk.ErrorResponse	"Email not verified"
//	@Failure		409		{object}	accountsdk.ErrorResponse	"Too many active sessions"
//	@Failure		423		{object}	accountsdk.ErrorResponse	"Account locked, see Retry-After"
//	@Router			/v1/auth/login [post].
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req accountsdk.LoginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, httpx.ErrBadRequest)
		return
	}

	res, err := h.Auth.Authenticate(r.Context(), h.loginRequest(r, req))
	if err != nil {
		writeServiceError(w, r, err, h.now())
		return
	}
	httpx.WriteJSON(w, http.StatusOK, h.loginResponse(res))
}

// HandleLoginSecondFactor handles POST /v1/auth/login/second-factor
//
//	@Summary		Log in with a second factor
//	@Description	Repeats the password check and accepts a TOTP code or an unused backup code.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		accountsdk.SecondFactorLoginRequest	true	"Credentials plus code"
//	@Success		200		{object}	accountsdk.LoginResponse
//	@Failure		401		{object}	accountsdk.ErrorResponse	"Invalid credentials or code"
//	@Failure		423		{object}	accountsdk.ErrorResponse	"Account locked, see Retry-After"
//	@Router			/v1/auth/login/second-factor [post].
func (h *AuthHandler) HandleLoginSecondFactor(w http.ResponseWriter, r *http.Request) {
	var req accountsdk.SecondFactorLoginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil || req.Code == "" {
		httpx.WriteError(w, httpx.ErrBadRequest)
		return
	}

	res, err := h.Auth.VerifySecondFactor(r.Context(), h.loginRequest(r, req.LoginRequest), req.Code)
	if err != nil {
		writeServiceError(w, r, err, h.now())
		return
	}
	httpx.WriteJSON(w, http.StatusOK, h.loginResponse(res))
}

// HandleRefresh handles POST /v1/auth/refresh
//
//	@Summary		Rotate a refresh token
//	@Description	Spends the refresh token and returns a new pair. Presenting a spent token ends its session.
//	@Tags			Auth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		accountsdk.RefreshRequest	true	"Refresh token"
//	@Success		200		{object}	accountsdk.TokenResponse
//	@Failure		401		{object}	accountsdk.ErrorResponse	"Invalid, expired or revoked refresh token"
//	@Router			/v1/auth/refresh [post].
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req accountsdk.RefreshRequest
	if err := httpx.DecodeJSON(r, &req); err != nil || req.RefreshToken == "" {
		httpx.WriteError(w, httpx.ErrBadRequest)
		return
	}

	pair, err := h.Auth.RefreshTokens(r.Context(), req.RefreshToken)
	if err != nil {
		writeServiceError(w, r, err, h.now())
		return
	}
	httpx.WriteJSON(w, http.StatusOK, tokenResponse(pair))
}

// HandleLogout handles POST /v1/auth/logout
//
//	@Summary		Log out
//	@Description	Ends the calling session and revokes the given refresh token. With all=true every session is ended.
//	@Tags			Auth
//	@Security		BearerAuth
//	@Accept			json
//	@Param			request	body	accountsdk.LogoutRequest	false	"Refresh token to revoke"
//	@Success		204
//	@Failure		401	{object}	accountsdk.ErrorResponse	"Invalid or missing access token"
//	@Router			/v1/auth/logout [post].
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req accountsdk.LogoutRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.WriteError(w, httpx.ErrBadRequest)
			return
		}
	}

	sessionToken, refreshToken := httpx.SessionToken(ctx), req.RefreshToken
	if req.All {
		sessionToken, refreshToken = "", ""
	}

	err := h.Auth.Logout(ctx, httpx.AccountID(ctx), sessionToken, refreshToken)
	if err != nil && !errors.Is(err, service.ErrSessionNotFound) {
		writeServiceError(w, r, err, h.now())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleMe handles GET /v1/auth/me
//
//	@Summary		Current account
//	@Tags			Auth
//	@Security		BearerAuth
//	@Produce		json
//	@Success		200	{object}	accountsdk.AccountResponse
//	@Failure		401	{object}	accountsdk.ErrorResponse	"Invalid or missing access token"
//	@Router			/v1/auth/me [get].
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	acct, err := h.Accounts.GetAccount(r.Context(), httpx.AccountID(r.Context()))
	if err != nil {
		writeServiceError(w, r, err, h.now())
		return
	}
	httpx.WriteJSON(w, http.StatusOK, accountResponse(acct))
}

// HandleChangePassword handles POST /v1/auth/password
//
//	@Summary		Change password
//	@Description	Requires the current password. Every other session is signed out.
//	@Tags			Auth
//	@Security		BearerAuth
//	@Accept			json
//	@Param			request	body	accountsdk.ChangePasswordRequest	true	"Current and new password"
//	@Success		204
//	@Failure		400	{object}	accountsdk.ErrorResponse	"Weak password"
//	@Failure		401	{object}	accountsdk.ErrorResponse	"Wrong current password"
//	@Router			/v1/auth/password [post].
func (h *AuthHandler) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req accountsdk.ChangePasswordRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, httpx.ErrBadRequest)
		return
	}

	err := h.Accounts.ChangePassword(ctx, httpx.AccountID(ctx), req.CurrentPassword, req.NewPassword, httpx.SessionToken(ctx))
	if err != nil {
		writeServiceError(w, r, err, h.now())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleResendVerification handles POST /v1/auth/email-verification
//
//	@Summary		Resend the verification email
//	@Tags			Auth
//	@Security		BearerAuth
//	@Success		202
//	@Router			/v1/auth/email-verification [post].
func (h *AuthHandler) HandleResendVerification(w http.ResponseWriter, r *http.Request) {
	if err := h.Accounts.SendEmailVerification(r.Context(), httpx.AccountID(r.Context())); err != nil {
		writeServiceError(w, r, err, h.now())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// HandleVerifyEmail handles POST /v1/auth/verify-email
//
//	@Summary		Verify an email address
//	@Tags			Auth
//	@Accept			json
//	@Param			request	body	accountsdk.VerifyEmailRequest	true	"Token from the verification email"
//	@Success		204
//	@Failure		400	{object}	accountsdk.ErrorResponse	"Invalid or expired token"
//	@Router			/v1/auth/verify-email [post].
func (h *AuthHandler) HandleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req accountsdk.VerifyEmailRequest
	if err := httpx.DecodeJSON(r, &req); err != nil || req.Token == "" {
		httpx.WriteError(w, httpx.ErrBadRequest)
		return
	}
	if err := h.Accounts.VerifyEmail(r.Context(), req.Token); err != nil {
		writeServiceError(w, r, err, h.now())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandlePasswordReset handles POST /v1/auth/password-reset
//
//	@Summary		Request a password reset
//	@Description	Always 202, whether or not the email is registered.
//	@Tags			Auth
//	@Accept			json
//	@Param			request	body	accountsdk.PasswordResetRequest	true	"Email"
//	@Success		202
//	@Router			/v1/auth/password-reset [post].
func (h *AuthHandler) HandlePasswordReset(w http.ResponseWriter, r *http.Request) {
	var req accountsdk.PasswordResetRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, httpx.ErrBadRequest)
		return
	}
	if err := h.Accounts.RequestPasswordReset(r.Context(), req.Email); err != nil {
		// Still 202 so the response does not depend on the account.
		slogx.FromContext(r.Context()).Error("password reset request failed", "err", err)
	}
	w.WriteHeader(http.StatusAccepted)
}

// HandlePasswordResetConfirm handles POST /v1/auth/password-reset/confirm
//
//	@Summary		Reset a password
//	@Description	Sets a new password from a reset token and signs every device out.
//	@Tags			Auth
//	@Accept			json
//	@Param			request	body	accountsdk.PasswordResetConfirmRequest	true	"Token and new password"
//	@Success		204
//	@Failure		400	{object}	accountsdk.ErrorResponse	"Invalid token or weak password"
//	@Router			/v1/auth/password-reset/confirm [post].
func (h *AuthHandler) HandlePasswordResetConfirm(w http.ResponseWriter, r *http.Request) {
	var req accountsdk.PasswordResetConfirmRequest
	if err := httpx.DecodeJSON(r, &req); err != nil || req.Token == "" {
		httpx.WriteError(w, httpx.ErrBadRequest)
		return
	}
	if err := h.Accounts.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		writeServiceError(w, r, err, h.now())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) loginRequest(r *http.Request, req accountsdk.LoginRequest) service.LoginRequest {
	return service.LoginRequest{
		Email:      req.Email,
		Password:   req.Password,
		IP:         httpx.ClientIP(r, h.TrustProxy),
		UserAgent:  r.UserAgent(),
		RememberMe: req.RememberMe,
		Meta: domain.SessionMeta{
			ScreenResolution: req.ScreenResolution,
			Timezone:         req.Timezone,
			Language:         req.Language,
		},
	}
}

func (h *AuthHandler) loginResponse(res service.LoginResult) accountsdk.LoginResponse {
	out := accountsdk.LoginResponse{
		TokenResponse: tokenResponse(res.Tokens),
		SessionID:     res.Session.ID,
	}
	if res.Risk != nil && len(res.Risk.Factors) > 0 {
		threshold := h.Auth.Config.Risk.EscalationThreshold
		rr := &accountsdk.RiskResponse{
			Score:      res.Risk.Score,
			Confidence: res.Risk.Confidence,
			Escalated:  threshold > 0 && res.Risk.Score >= threshold,
		}
		for _, f := range res.Risk.Factors {
			rr.Factors = append(rr.Factors, f.Code)
		}
		out.Risk = rr
	}
	return out
}

func tokenResponse(p domain.TokenPair) accountsdk.TokenResponse {
	return accountsdk.TokenResponse{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		TokenType:    p.TokenType,
		ExpiresIn:    int(p.ExpiresIn / time.Second),
	}
}

func accountResponse(a domain.Account) accountsdk.AccountResponse {
	return accountsdk.AccountResponse{
		ID:                  a.ID,
		Email:               a.Email,
		Username:            a.Username,
		Role:                string(a.Role),
		EmailVerified:       a.IsEmailVerified(),
		SecondFactorEnabled: a.HasSecondFactor(),
		LockedUntil:         a.LockedUntil,
		CreatedAt:           a.CreatedAt,
	}
}
