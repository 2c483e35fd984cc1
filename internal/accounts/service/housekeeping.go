package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aussiebroadwan/accounts/internal/accounts/metrics"
	"github.com/aussiebroadwan/accounts/internal/accounts/store"
)

// Housekeeping task names, also used as metric labels.
const (
	TaskExpireSessions      = "expire_sessions"
	TaskRefreshTokens       = "refresh_tokens"
	TaskVerificationTokens  = "verification_tokens"
	TaskLoginHistory        = "login_history"
	TaskPasswordSpraySweeps = "password_spray_sweep"
)

// HousekeepingService periodically flips expired sessions, deletes dead
// refresh and verification tokens, prunes old login history and runs the password-spray sweep on
// its own shorter interval.
type HousekeepingService struct {
	Store    store.Store
	Sessions *SessionService
	Risk     *RiskService // optional
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	Now      func() time.Time

	Interval      time.Duration
	SweepInterval time.Duration

	// Internal channels for lifecycle management
	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewHousekeepingService creates a housekeeping service. Non-positive
// intervals default to one hour for cleanup and five minutes for sweeps.
func NewHousekeepingService(
	st store.Store,
	sessions *SessionService,
	risk *RiskService,
	logger *slog.Logger,
	interval, sweepInterval time.Duration,
) *HousekeepingService {
	if interval <= 0 {
		interval = time.Hour
	}
	if sweepInterval <= 0 {
		sweepInterval = 5 * time.Minute
	}

	return &HousekeepingService{
		Store:         st,
		Sessions:      sessions,
		Risk:          risk,
		Logger:        logger,
		Interval:      interval,
		SweepInterval: sweepInterval,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
}

// Start begins the background worker. It is non-blocking and should be
// called after migrations have run. Call Stop to shut it down.
func (s *HousekeepingService) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval, "sweep_interval", s.SweepInterval)
}

// Stop shuts the worker down and waits for an in-progress pass to finish.
// It is a no-op when Start was never called.
func (s *HousekeepingService) Stop() {
	if !s.started.Load() {
		return
	}
	s.stopOnce.Do(func() {
		close(s.stopCh)
		<-s.doneCh
		s.Logger.Info("housekeeping service stopped")
	})
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	cleanup := time.NewTicker(s.Interval)
	defer cleanup.Stop()
	sweep := time.NewTicker(s.SweepInterval)
	defer sweep.Stop()

	// Run cleanup immediately on startup
	s.Cleanup(context.Background())

	for {
		select {
		case <-cleanup.C:
			s.Cleanup(context.Background())
		case <-sweep.C:
			s.Sweep(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// Cleanup runs every cleanup task once. Tasks are independent; a failure
// in one does not stop the others.
func (s *HousekeepingService) Cleanup(ctx context.Context) {
	now := resolveNow(s.Now)
	s.Logger.Debug("starting housekeeping cleanup")

	ok := 0
	s.task(TaskExpireSessions, &ok, func() (int64, error) {
		return s.Sessions.ReapExpired(ctx)
	})
	s.task(TaskRefreshTokens, &ok, func() (int64, error) {
		return s.Store.RefreshTokens().DeleteExpiredRefreshTokens(ctx, now)
	})
	s.task(TaskVerificationTokens, &ok, func() (int64, error) {
		return s.Store.VerificationTokens().DeleteExpiredVerificationTokens(ctx, now)
	})
	s.task(TaskLoginHistory, &ok, func() (int64, error) {
		return s.Sessions.PruneLoginHistory(ctx)
	})

	s.Logger.Info("housekeeping cleanup completed", "successful_cleanups", ok)
}

// Sweep runs the password-spray detector once.
func (s *HousekeepingService) Sweep(ctx context.Context) {
	if s.Risk == nil {
		return
	}
	reports, err := s.Risk.DetectPasswordSprayAttack(ctx)
	if err != nil {
		s.Logger.Error("password spray sweep failed", "error", err)
		return
	}
	s.Metrics.Housekeeping(TaskPasswordSpraySweeps, int64(len(reports)))
	for _, r := range reports {
		s.Logger.Warn("attack detected",
			"kind", r.Kind,
			"ip", r.IP,
			"attempts", r.Attempts,
			"distinct_accounts", r.DistinctAccounts,
		)
	}
}

func (s *HousekeepingService) task(name string, ok *int, fn func() (int64, error)) {
	n, err := fn()
	if err != nil {
		s.Logger.Error("housekeeping task failed", "task", name, "error", err)
		return
	}
	*ok++
	s.Metrics.Housekeeping(name, n)
	s.Logger.Debug("housekeeping task done", "task", name, "rows", n)
}
