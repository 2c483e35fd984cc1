package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/accounts/internal/accounts/attempts"
	"github.com/aussiebroadwan/accounts/internal/accounts/audit"
	"github.com/aussiebroadwan/accounts/internal/accounts/domain"
	"github.com/aussiebroadwan/accounts/internal/accounts/store/drivers/sqlite"
	"github.com/aussiebroadwan/accounts/pkg/cryptox"
	"github.com/aussiebroadwan/accounts/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

const (
	testPassword = "correct horse battery"
	testUA       = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	testIP       = "203.0.113.10"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type notification struct {
	kind, email, token string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (n *fakeNotifier) record(kind, email, token string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{kind, email, token})
	return nil
}

func (n *fakeNotifier) SendVerification(_ context.Context, email, token string) error {
	return n.record("verification", email, token)
}

func (n *fakeNotifier) SendPasswordReset(_ context.Context, email, token string) error {
	return n.record("password_reset", email, token)
}

func (n *fakeNotifier) Send2FASetup(_ context.Context, email, secret string, _ []byte) error {
	return n.record("second_factor_setup", email, secret)
}

// last returns the most recent notification of kind.
func (n *fakeNotifier) last(t *testing.T, kind string) notification {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.sent) - 1; i >= 0; i-- {
		if n.sent[i].kind == kind {
			return n.sent[i]
		}
	}
	t.Fatalf("no %s notification sent", kind)
	return notification{}
}

type testEnv struct {
	Store    *sqlite.Store
	Clock    *fakeClock
	Audit    *audit.Recorder
	Notifier *fakeNotifier
	Attempts *attempts.Memory
	Keys     *jwtx.KeyManager
	Config   Config

	Auth     *AuthService
	Accounts *AccountService
	MFA      *SecondFactorService
	Sessions *SessionService
	Tokens   *TokenService
	Risk     *RiskService
}

func newTestEnv(t *testing.T, mutate ...func(*Config)) *testEnv {
	t.Helper()

	st, err := sqlite.NewStore(sqlite.FileDSN(filepath.Join(t.TempDir(), "accounts.db")))
	require.NoError(t, err)
	require.NoError(t, st.ApplyMigrations())
	t.Cleanup(func() { _ = st.Close() })

	cfg := DefaultConfig()
	for _, fn := range mutate {
		fn(&cfg)
	}

	km, err := jwtx.NewKeyManager(jwtx.KeyManagerOptions{Issuer: cfg.Issuer, Audience: cfg.Audience})
	require.NoError(t, err)

	e := &testEnv{
		Store:    st,
		Clock:    newFakeClock(),
		Audit:    &audit.Recorder{},
		Notifier: &fakeNotifier{},
		Attempts: attempts.NewMemory(time.Hour),
		Keys:     km,
		Config:   cfg,
	}
	hasher := cryptox.NewHasher("test-pepper", cryptox.MinBcryptCost)

	e.Sessions = &SessionService{Store: st, Config: cfg, Audit: e.Audit, Now: e.Clock.Now}
	e.Tokens = &TokenService{Signers: km, Store: st, Config: cfg, Audit: e.Audit, Now: e.Clock.Now}
	e.MFA = &SecondFactorService{Store: st, Issuer: cfg.TOTPIssuer, Notifier: e.Notifier, Audit: e.Audit, Now: e.Clock.Now}
	e.Risk = &RiskService{
		History:  st.Sessions(),
		Attempts: e.Attempts,
		Audit:    e.Audit,
		Config:   cfg.Risk,
		Now:      e.Clock.Now,
	}
	e.Accounts = &AccountService{
		Store:    st,
		Hasher:   hasher,
		Notifier: e.Notifier,
		Config:   cfg,
		Audit:    e.Audit,
		Now:      e.Clock.Now,
	}
	e.Auth = &AuthService{
		Store:        st,
		Hasher:       hasher,
		SecondFactor: e.MFA,
		Sessions:     e.Sessions,
		Tokens:       e.Tokens,
		Risk:         e.Risk,
		Config:       cfg,
		Audit:        e.Audit,
		Now:          e.Clock.Now,
	}
	return e
}

func (e *testEnv) register(t *testing.T, email string) domain.Account {
	t.Helper()
	acct, err := e.Accounts.Register(context.Background(), RegisterRequest{Email: email, Password: testPassword})
	require.NoError(t, err)
	return acct
}

func (e *testEnv) account(t *testing.T, id string) domain.Account {
	t.Helper()
	acct, err := e.Store.Accounts().GetAccountByID(context.Background(), id)
	require.NoError(t, err)
	return acct
}

func loginReq(email, password string) LoginRequest {
	return LoginRequest{Email: email, Password: password, IP: testIP, UserAgent: testUA}
}
