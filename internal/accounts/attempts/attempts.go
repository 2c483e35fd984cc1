// Package attempts records failed login attempts in rolling time windows so
// the risk engine can spot brute-force and password-spray patterns.
package attempts

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable wraps backend failures.
var ErrUnavailable = errors.New("attempt tracker unavailable")

// IPStats summarises the failures from one source address.
type IPStats struct {
	IP               string
	Failures         int
	DistinctAccounts int
}

// Tracker stores failed attempts for at least its retention window.
// accountID may be empty when the email did not resolve to an account, in
// which case the attempt still counts toward the IP.
type Tracker interface {
	RecordFailure(ctx context.Context, ip, accountID, email string, at time.Time) error

	// Stats returns the failures from ip at or after since.
	Stats(ctx context.Context, ip string, since time.Time) (IPStats, error)

	// Sources returns stats for every IP with a failure at or after since.
	Sources(ctx context.Context, since time.Time) ([]IPStats, error)
}

// target is the identity counted for distinct-account stats. Unknown
// emails still count so spraying non-existent addresses is visible.
func target(accountID, email string) string {
	if accountID != "" {
		return accountID
	}
	return "email:" + email
}
