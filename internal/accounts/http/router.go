package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/accounts/internal/accounts/domain"
	"github.com/aussiebroadwan/accounts/internal/accounts/metrics"
	"github.com/aussiebroadwan/accounts/internal/accounts/service"
	"github.com/aussiebroadwan/accounts/internal/accounts/store"
	"github.com/aussiebroadwan/accounts/pkg/httpx"
	"github.com/aussiebroadwan/accounts/pkg/jwtx"
	"github.com/aussiebroadwan/accounts/pkg/slogx"

	_ "github.com/aussiebroadwan/accounts/api/accounts" // Swagger docs
	httpSwagger "github.com/swaggo/http-swagger"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	keys         *jwtx.KeyManager
	buildVersion string
	startTime    time.Time
	logger       *slog.Logger
	store        store.Store

	// TrustProxy makes client IPs come from X-Forwarded-For. Only enable it
	// behind a proxy that overwrites the header.
	TrustProxy bool

	Metrics      *metrics.Metrics // optional
	Auth         *service.AuthService
	Accounts     *service.AccountService
	SecondFactor *service.SecondFactorService
	Sessions     *service.SessionService
}

func NewRouter(
	keys *jwtx.KeyManager,
	buildVersion string,
	st store.Store,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		keys:         keys,
		buildVersion: buildVersion,
		startTime:    time.Now(),
		store:        st,
		logger:       logger,
	}

	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
		httpx.Recover,
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerAuth()
	r.registerSessions()
	r.registerMFA()
	r.registerAdmin()
	r.registerSystem()

	r.Mux.Handle("/swagger/", httpSwagger.Handler())
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
//
//	@title			Accounts Service API
//	@version		0.1.0
//	@description	Account authentication with device-bound sessions, TOTP second factor and risk scoring.
//	@description
//	@description				Access tokens are EdDSA (Ed25519) JWTs and can be verified using the JWKS endpoint.
//
//	@contact.name				AussieBroadWAN Team
//	@contact.url				https://github.com/aussiebroadwan/accounts
//
//	@license.name				MIT
//	@license.url				https://opensource.org/licenses/MIT
//
//	@host						localhost:8080
//	@BasePath					/
//
//	@schemes					http https
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				JWT access token. Format: "Bearer {token}".
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

// authed verifies the bearer token and that its session is still live.
func (r *Router) authed(h http.HandlerFunc, extra ...httpx.Middleware) http.Handler {
	mws := append([]httpx.Middleware{httpx.AuthnMiddleware(r.keys.Verifier, r.Sessions)}, extra...)
	return httpx.Chain(h, mws...)
}

func (r *Router) registerAuth() {
	h := &AuthHandler{
		Auth:       r.Auth,
		Accounts:   r.Accounts,
		TrustProxy: r.TrustProxy,
	}

	r.Mux.HandleFunc("POST /v1/auth/register", h.HandleRegister)
	r.Mux.HandleFunc("POST /v1/auth/login", h.HandleLogin)
	r.Mux.HandleFunc("POST /v1/auth/login/second-factor", h.HandleLoginSecondFactor)
	r.Mux.HandleFunc("POST /v1/auth/refresh", h.HandleRefresh)
	r.Mux.HandleFunc("POST /v1/auth/verify-email", h.HandleVerifyEmail)
	r.Mux.HandleFunc("POST /v1/auth/password-reset", h.HandlePasswordReset)
	r.Mux.HandleFunc("POST /v1/auth/password-reset/confirm", h.HandlePasswordResetConfirm)

	r.Mux.Handle("GET /v1/auth/me", r.authed(h.HandleMe))
	r.Mux.Handle("POST /v1/auth/logout", r.authed(h.HandleLogout))
	r.Mux.Handle("POST /v1/auth/password", r.authed(h.HandleChangePassword))
	r.Mux.Handle("POST /v1/auth/email-verification", r.authed(h.HandleResendVerification))
}

func (r *Router) registerSessions() {
	h := &SessionsHandler{Auth: r.Auth}

	r.Mux.Handle("GET /v1/sessions", r.authed(h.HandleList))
	r.Mux.Handle("DELETE /v1/sessions", r.authed(h.HandleTerminateOthers))
	r.Mux.Handle("DELETE /v1/sessions/{id}", r.authed(h.HandleTerminate))
}

func (r *Router) registerMFA() {
	h := &MFAHandler{SecondFactor: r.SecondFactor}

	r.Mux.Handle("POST /v1/mfa/totp/enroll", r.authed(h.HandleEnroll))
	r.Mux.Handle("POST /v1/mfa/totp/verify", r.authed(h.HandleVerify))
	r.Mux.Handle("POST /v1/mfa/backup-codes", r.authed(h.HandleRegenerateBackupCodes))
	r.Mux.Handle("DELETE /v1/mfa/totp", r.authed(h.HandleRemove))
}

func (r *Router) registerAdmin() {
	h := &AdminHandler{Accounts: r.Accounts}
	admin := httpx.RequireRole(string(domain.RoleAdmin))

	r.Mux.Handle("GET /v1/admin/accounts/{id}", r.authed(h.HandleGet, admin))
	r.Mux.Handle("POST /v1/admin/accounts/{id}/unlock", r.authed(h.HandleUnlock, admin))
	r.Mux.Handle("DELETE /v1/admin/accounts/{id}", r.authed(h.HandleDeactivate, admin))
}

func (r *Router) registerSystem() {
	r.Mux.Handle("GET /livez", LivezHandler(r.startTime, r.buildVersion))
	r.Mux.Handle("GET /readyz", ReadyzHandler(r.startTime, r.buildVersion, r.store, r.keys))
	r.Mux.Handle("GET /.well-known/jwks.json", JWKSHandler(r.keys.KeySet))

	if r.Metrics != nil {
		r.Mux.Handle("GET /metrics", r.Metrics.Handler())
	}
}
