package http_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/accounts/internal/accounts/attempts"
	"github.com/aussiebroadwan/accounts/internal/accounts/audit"
	"github.com/aussiebroadwan/accounts/internal/accounts/domain"
	accountshttp "github.com/aussiebroadwan/accounts/internal/accounts/http"
	"github.com/aussiebroadwan/accounts/internal/accounts/metrics"
	"github.com/aussiebroadwan/accounts/internal/accounts/service"
	"github.com/aussiebroadwan/accounts/internal/accounts/store/drivers/sqlite"
	"github.com/aussiebroadwan/accounts/pkg/accountsdk"
	"github.com/aussiebroadwan/accounts/pkg/cryptox"
	"github.com/aussiebroadwan/accounts/pkg/idx"
	"github.com/aussiebroadwan/accounts/pkg/jwtx"
	"github.com/aussiebroadwan/accounts/pkg/slogx"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"
)

const (
	password  = "correct horse battery"
	desktopUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	mobileUA  = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
)

type mailbox struct {
	mu     sync.Mutex
	tokens map[string]string // kind:email -> token
}

func (m *mailbox) put(kind, email, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tokens == nil {
		m.tokens = map[string]string{}
	}
	m.tokens[kind+":"+email] = token
	return nil
}

func (m *mailbox) get(t *testing.T, kind, email string) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.tokens[kind+":"+email]
	require.True(t, ok, "no %s message for %s", kind, email)
	return tok
}

func (m *mailbox) SendVerification(_ context.Context, email, token string) error {
	return m.put("verify", email, token)
}

func (m *mailbox) SendPasswordReset(_ context.Context, email, token string) error {
	return m.put("reset", email, token)
}

func (m *mailbox) Send2FASetup(_ context.Context, email, secret string, _ []byte) error {
	return m.put("totp", email, secret)
}

type testServer struct {
	URL    string
	Store  *sqlite.Store
	Hasher *cryptox.Hasher
	Mail   *mailbox
	Audit  *audit.Recorder
}

func newTestServer(t *testing.T, mutate ...func(*service.Config)) *testServer {
	t.Helper()

	st, err := sqlite.NewStore(sqlite.FileDSN(filepath.Join(t.TempDir(), "accounts.db")))
	require.NoError(t, err)
	require.NoError(t, st.ApplyMigrations())
	t.Cleanup(func() { _ = st.Close() })

	cfg := service.DefaultConfig()
	for _, fn := range mutate {
		fn(&cfg)
	}

	km, err := jwtx.NewKeyManager(jwtx.KeyManagerOptions{Issuer: cfg.Issuer, Audience: cfg.Audience})
	require.NoError(t, err)

	ts := &testServer{
		Store:  st,
		Hasher: cryptox.NewHasher("pepper", cryptox.MinBcryptCost),
		Mail:   &mailbox{},
		Audit:  &audit.Recorder{},
	}
	m := metrics.New()

	sessions := &service.SessionService{Store: st, Config: cfg, Audit: ts.Audit, Metrics: m}
	tokens := &service.TokenService{Signers: km, Store: st, Config: cfg, Audit: ts.Audit, Metrics: m}
	mfa := &service.SecondFactorService{Store: st, Issuer: cfg.TOTPIssuer, Notifier: ts.Mail, Audit: ts.Audit}
	risk := &service.RiskService{
		History:  st.Sessions(),
		Attempts: attempts.NewMemory(time.Hour),
		Audit:    ts.Audit,
		Metrics:  m,
		Config:   cfg.Risk,
	}

	router := accountshttp.NewRouter(km, "test", st, slogx.Discard())
	router.Metrics = m
	router.Sessions = sessions
	router.SecondFactor = mfa
	router.Accounts = &service.AccountService{
		Store: st, Hasher: ts.Hasher, Notifier: ts.Mail, Config: cfg, Audit: ts.Audit, Metrics: m,
	}
	router.Auth = &service.AuthService{
		Store:        st,
		Hasher:       ts.Hasher,
		SecondFactor: mfa,
		Sessions:     sessions,
		Tokens:       tokens,
		Risk:         risk,
		Config:       cfg,
		Audit:        ts.Audit,
		Metrics:      m,
	}
	router.ApplyRoutes()

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	ts.URL = srv.URL
	return ts
}

func (ts *testServer) client(ua string) *accountsdk.Client {
	c := accountsdk.NewClient(ts.URL)
	c.UserAgent = ua
	return c
}

func (ts *testServer) signup(t *testing.T, email string) *accountsdk.AccountResponse {
	t.Helper()
	acct, err := ts.client(desktopUA).Register(context.Background(), accountsdk.RegisterRequest{Email: email, Password: password})
	require.NoError(t, err)
	return acct
}

// admin inserts an admin account directly; signup never grants the role.
func (ts *testServer) admin(t *testing.T, email string) {
	t.Helper()
	hash, err := ts.Hasher.Hash(password)
	require.NoError(t, err)
	now := time.Now()
	require.NoError(t, ts.Store.Accounts().CreateAccount(context.Background(), domain.Account{
		ID:           idx.New().String(),
		Email:        email,
		Username:     "admin",
		PasswordHash: hash,
		Role:         domain.RoleAdmin,
		CreatedAt:    now,
		UpdatedAt:    now,
	}))
}

func login(t *testing.T, c *accountsdk.Client, email string) *accountsdk.Session {
	t.Helper()
	s, err := c.Login(context.Background(), accountsdk.LoginRequest{Email: email, Password: password})
	require.NoError(t, err)
	return s
}

func requireCode(t *testing.T, err error, status int, code string) *accountsdk.Error {
	t.Helper()
	require.Error(t, err)
	require.True(t, accountsdk.HasCode(err, code), "got %v", err)
	var e *accountsdk.Error
	require.ErrorAs(t, err, &e)
	require.Equal(t, status, e.StatusCode)
	return e
}

func TestRegisterLoginAndMe(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	acct := ts.signup(t, "Alice@Example.com")
	require.Equal(t, "alice@example.com", acct.Email)
	require.Equal(t, "alice", acct.Username)
	require.Equal(t, "client", acct.Role)
	require.False(t, acct.EmailVerified)

	_, err := ts.client(desktopUA).Register(ctx, accountsdk.RegisterRequest{Email: "alice@example.com", Password: password})
	requireCode(t, err, http.StatusConflict, accountsdk.ErrorCodeEmailTaken)

	_, err = ts.client(desktopUA).Register(ctx, accountsdk.RegisterRequest{Email: "bob@example.com", Password: "short"})
	requireCode(t, err, http.StatusBadRequest, accountsdk.ErrorCodeWeakPassword)

	s := login(t, ts.client(desktopUA), "alice@example.com")
	require.NotEmpty(t, s.ID())

	me, err := s.Account(ctx)
	require.NoError(t, err)
	require.Equal(t, acct.ID, me.ID)

	require.NoError(t, ts.client(desktopUA).VerifyEmail(ctx, ts.Mail.get(t, "verify", "alice@example.com")))
	me, err = s.Account(ctx)
	require.NoError(t, err)
	require.True(t, me.EmailVerified)
}

func TestLoginFailuresAreGeneric(t *testing.T) {
	ts := newTestServer(t)
	ts.signup(t, "alice@example.com")
	c := ts.client(desktopUA)

	_, err := c.Login(context.Background(), accountsdk.LoginRequest{Email: "alice@example.com", Password: "wrong password"})
	wrong := requireCode(t, err, http.StatusUnauthorized, accountsdk.ErrorCodeInvalidCredentials)

	_, err = c.Login(context.Background(), accountsdk.LoginRequest{Email: "nobody@example.com", Password: password})
	unknown := requireCode(t, err, http.StatusUnauthorized, accountsdk.ErrorCodeInvalidCredentials)

	require.Equal(t, wrong.Description, unknown.Description)
}

func TestLockoutCarriesRetryAfter(t *testing.T) {
	ts := newTestServer(t, func(c *service.Config) {
		c.LockoutThreshold = 3
		c.LockoutDuration = 10 * time.Minute
	})
	ts.signup(t, "alice@example.com")
	c := ts.client(desktopUA)
	ctx := context.Background()

	for range 3 {
		_, err := c.Login(ctx, accountsdk.LoginRequest{Email: "alice@example.com", Password: "wrong password"})
		require.Error(t, err)
	}

	_, err := c.Login(ctx, accountsdk.LoginRequest{Email: "alice@example.com", Password: password})
	e := requireCode(t, err, http.StatusLocked, accountsdk.ErrorCodeAccountLocked)
	require.Greater(t, e.RetryAfter, 9*time.Minute)
	require.LessOrEqual(t, e.RetryAfter, 10*time.Minute)
}

func TestSecondFactorFlow(t *testing.T) {
	ts := newTestServer(t)
	ts.signup(t, "alice@example.com")
	c := ts.client(desktopUA)
	ctx := context.Background()

	s := login(t, c, "alice@example.com")
	setup, err := s.EnrollTOTP(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, setup.QRCode)
	require.True(t, strings.HasPrefix(setup.ProvisioningURI, "otpauth://totp/"))
	require.Equal(t, setup.Secret, ts.Mail.get(t, "totp", "alice@example.com"))

	_, err = s.ConfirmTOTP(ctx, "000000")
	requireCode(t, err, http.StatusBadRequest, accountsdk.ErrorCodeInvalidSecondFactorCode)

	code, err := totp.GenerateCode(setup.Secret, time.Now())
	require.NoError(t, err)
	backup, err := s.ConfirmTOTP(ctx, code)
	require.NoError(t, err)
	require.NotEmpty(t, backup)

	req := accountsdk.LoginRequest{Email: "alice@example.com", Password: password}
	_, err = c.Login(ctx, req)
	requireCode(t, err, http.StatusUnauthorized, accountsdk.ErrorCodeSecondFactorRequired)

	s2, err := c.LoginWithSecondFactor(ctx, accountsdk.SecondFactorLoginRequest{LoginRequest: req, Code: backup[0]})
	require.NoError(t, err)

	// Same device, so the existing session is reused.
	require.Equal(t, s.ID(), s2.ID())

	_, err = c.LoginWithSecondFactor(ctx, accountsdk.SecondFactorLoginRequest{LoginRequest: req, Code: backup[0]})
	requireCode(t, err, http.StatusUnauthorized, accountsdk.ErrorCodeInvalidSecondFactorCode)

	fresh, err := s2.RegenerateBackupCodes(ctx, code)
	require.NoError(t, err)
	require.Len(t, fresh, len(backup))

	err = s2.DisableTOTP(ctx, "000000")
	requireCode(t, err, http.StatusBadRequest, accountsdk.ErrorCodeInvalidSecondFactorCode)
	require.NoError(t, s2.DisableTOTP(ctx, code))

	// Password alone is enough again.
	s3, err := c.Login(ctx, req)
	require.NoError(t, err)
	require.Equal(t, s.ID(), s3.ID())

	err = s3.DisableTOTP(ctx, code)
	requireCode(t, err, http.StatusBadRequest, accountsdk.ErrorCodeMFANotEnabled)
}

func TestRefreshRotationAndReuse(t *testing.T) {
	ts := newTestServer(t)
	ts.signup(t, "alice@example.com")
	c := ts.client(desktopUA)
	ctx := context.Background()

	s := login(t, c, "alice@example.com")
	first := s.RefreshToken()

	require.NoError(t, s.Refresh(ctx))
	require.NotEqual(t, first, s.RefreshToken())

	_, err := s.Account(ctx)
	require.NoError(t, err)

	// Replaying the spent token ends the whole session.
	_, err = c.Refresh(ctx, first)
	requireCode(t, err, http.StatusUnauthorized, accountsdk.ErrorCodeInvalidRefreshToken)

	_, err = s.Account(ctx)
	requireCode(t, err, http.StatusUnauthorized, accountsdk.ErrorCodeInvalidToken)

	_, err = c.Refresh(ctx, s.RefreshToken())
	requireCode(t, err, http.StatusUnauthorized, accountsdk.ErrorCodeInvalidRefreshToken)
}

func TestLogoutRevokesAccessToken(t *testing.T) {
	ts := newTestServer(t)
	ts.signup(t, "alice@example.com")
	ctx := context.Background()

	s := login(t, ts.client(desktopUA), "alice@example.com")
	require.NoError(t, s.Logout(ctx))

	_, err := s.Account(ctx)
	requireCode(t, err, http.StatusUnauthorized, accountsdk.ErrorCodeInvalidToken)

	_, err = ts.client(desktopUA).Refresh(ctx, s.RefreshToken())
	requireCode(t, err, http.StatusUnauthorized, accountsdk.ErrorCodeInvalidRefreshToken)
}

func TestSessionLimitAndDeviceManagement(t *testing.T) {
	ts := newTestServer(t, func(c *service.Config) { c.MaxSessions = 2 })
	ts.signup(t, "alice@example.com")
	ctx := context.Background()

	desktop := login(t, ts.client(desktopUA), "alice@example.com")
	phone := login(t, ts.client(mobileUA), "alice@example.com")
	require.NotEqual(t, desktop.ID(), phone.ID())

	_, err := ts.client("curl/8.5.0").Login(ctx, accountsdk.LoginRequest{Email: "alice@example.com", Password: password})
	requireCode(t, err, http.StatusConflict, accountsdk.ErrorCodeSessionLimitExceeded)

	list, err := desktop.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	for _, s := range list {
		require.Equal(t, s.ID == desktop.ID(), s.Current)
	}

	n, err := desktop.TerminateOtherSessions(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	_, err = phone.Account(ctx)
	requireCode(t, err, http.StatusUnauthorized, accountsdk.ErrorCodeInvalidToken)

	// The freed slot can be used again.
	login(t, ts.client("curl/8.5.0"), "alice@example.com")

	err = desktop.TerminateSession(ctx, "no-such-session")
	requireCode(t, err, http.StatusNotFound, accountsdk.ErrorCodeSessionNotFound)
}

func TestPasswordResetSignsEverythingOut(t *testing.T) {
	ts := newTestServer(t)
	ts.signup(t, "alice@example.com")
	ctx := context.Background()
	c := ts.client(desktopUA)

	s := login(t, c, "alice@example.com")

	require.NoError(t, c.RequestPasswordReset(ctx, "alice@example.com"))
	require.NoError(t, c.RequestPasswordReset(ctx, "nobody@example.com"))

	require.NoError(t, c.ResetPassword(ctx, ts.Mail.get(t, "reset", "alice@example.com"), "a brand new password"))

	_, err := s.Account(ctx)
	requireCode(t, err, http.StatusUnauthorized, accountsdk.ErrorCodeInvalidToken)

	_, err = c.Login(ctx, accountsdk.LoginRequest{Email: "alice@example.com", Password: password})
	requireCode(t, err, http.StatusUnauthorized, accountsdk.ErrorCodeInvalidCredentials)

	_, err = c.Login(ctx, accountsdk.LoginRequest{Email: "alice@example.com", Password: "a brand new password"})
	require.NoError(t, err)
}

func TestAdminRoutes(t *testing.T) {
	ts := newTestServer(t, func(c *service.Config) { c.LockoutThreshold = 2 })
	alice := ts.signup(t, "alice@example.com")
	ts.admin(t, "root@example.com")
	ctx := context.Background()

	user := login(t, ts.client(desktopUA), "alice@example.com")
	err := user.UnlockAccount(ctx, alice.ID)
	requireCode(t, err, http.StatusForbidden, accountsdk.ErrorCodeForbidden)

	for range 2 {
		_, err := ts.client(mobileUA).Login(ctx, accountsdk.LoginRequest{Email: "alice@example.com", Password: "nope nope nope"})
		require.Error(t, err)
	}
	_, err = ts.client(mobileUA).Login(ctx, accountsdk.LoginRequest{Email: "alice@example.com", Password: password})
	requireCode(t, err, http.StatusLocked, accountsdk.ErrorCodeAccountLocked)

	root := login(t, ts.client(desktopUA), "root@example.com")
	require.NoError(t, root.UnlockAccount(ctx, alice.ID))
	login(t, ts.client(mobileUA), "alice@example.com")

	require.NoError(t, root.DeactivateAccount(ctx, alice.ID))
	_, err = user.Account(ctx)
	requireCode(t, err, http.StatusUnauthorized, accountsdk.ErrorCodeInvalidToken)

	err = root.UnlockAccount(ctx, "missing")
	requireCode(t, err, http.StatusNotFound, accountsdk.ErrorCodeAccountNotFound)

	require.NotEmpty(t, ts.Audit.OfType(audit.AccountDeactivated))
}

func TestSystemEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	c := ts.client(desktopUA)

	ready, err := c.Ready(ctx)
	require.NoError(t, err)
	require.Equal(t, "ok", ready.Status)
	require.Equal(t, "ok", ready.Checks.Database)

	jwks, err := c.JWKS(ctx)
	require.NoError(t, err)
	require.Len(t, jwks.Keys, 1)
	require.Equal(t, "OKP", jwks.Keys[0].Kty)

	for path, want := range map[string]string{
		"/livez":            `"status":"ok"`,
		"/metrics":          "go_goroutines",
		"/swagger/doc.json": "Accounts Service API",
		"/v1/auth/me":       "invalid_token",
	} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		require.NoError(t, err)
		require.Contains(t, string(body), want, path)
	}
}

func TestMalformedBody(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/v1/auth/login", "application/json", strings.NewReader(`{"email":`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
}
