package accountsdk

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/aussiebroadwan/accounts/pkg/jwtx"
)

// Client talks to the accounts service. It covers the unauthenticated
// endpoints and hands out a Session after a successful login.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	// UserAgent is sent on every request. The service fingerprints devices
	// on it, so keep it stable for one device.
	UserAgent string
}

// NewClient returns a Client with a 10 second timeout.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		UserAgent:  "accountsdk-go",
	}
}

// Register creates a client account.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*AccountResponse, error) {
	var out AccountResponse
	if err := c.do(ctx, http.MethodPost, "/v1/auth/register", req, &out, http.StatusCreated); err != nil {
		return nil, err
	}
	return &out, nil
}

// Login authenticates with email and password. Accounts with a second
// factor fail with ErrorCodeSecondFactorRequired; follow up with
// LoginWithSecondFactor.
func (c *Client) Login(ctx context.Context, req LoginRequest) (*Session, error) {
	var out LoginResponse
	if err := c.do(ctx, http.MethodPost, "/v1/auth/login", req, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return newSession(c, &out), nil
}

// LoginWithSecondFactor completes a login with a TOTP or backup code.
func (c *Client) LoginWithSecondFactor(ctx context.Context, req SecondFactorLoginRequest) (*Session, error) {
	var out LoginResponse
	if err := c.do(ctx, http.MethodPost, "/v1/auth/login/second-factor", req, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return newSession(c, &out), nil
}

// Refresh rotates a refresh token. The old token is spent.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	var out TokenResponse
	err := c.do(ctx, http.MethodPost, "/v1/auth/refresh", RefreshRequest{RefreshToken: refreshToken}, &out, http.StatusOK)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) VerifyEmail(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodPost, "/v1/auth/verify-email", VerifyEmailRequest{Token: token}, nil, http.StatusNoContent)
}

// RequestPasswordReset always succeeds for well-formed input, whether or
// not the email is registered.
func (c *Client) RequestPasswordReset(ctx context.Context, email string) error {
	return c.do(ctx, http.MethodPost, "/v1/auth/password-reset", PasswordResetRequest{Email: email}, nil, http.StatusAccepted)
}

func (c *Client) ResetPassword(ctx context.Context, token, newPassword string) error {
	req := PasswordResetConfirmRequest{Token: token, NewPassword: newPassword}
	return c.do(ctx, http.MethodPost, "/v1/auth/password-reset/confirm", req, nil, http.StatusNoContent)
}

// JWKS fetches the public signing keys.
func (c *Client) JWKS(ctx context.Context) (*jwtx.JWKS, error) {
	var out jwtx.JWKS
	if err := c.do(ctx, http.MethodGet, "/.well-known/jwks.json", nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// Ready calls the readiness probe.
func (c *Client) Ready(ctx context.Context) (*HealthResponse, error) {
	var out HealthResponse
	if err := c.do(ctx, http.MethodGet, "/readyz", nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}
