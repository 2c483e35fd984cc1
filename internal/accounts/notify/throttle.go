package notify

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttled limits how often each recipient can be sent a message. Limiters
// are kept per normalised email and swept once they are full again.
type Throttled struct {
	next  Notifier
	rate  rate.Limit
	burst int

	mu          sync.Mutex
	limiters    map[string]*rate.Limiter
	lastCleanup time.Time
}

// NewThrottled allows burst messages per recipient, refilling one every
// interval.
func NewThrottled(next Notifier, interval time.Duration, burst int) *Throttled {
	return &Throttled{
		next:        next,
		rate:        rate.Every(interval),
		burst:       max(burst, 1),
		limiters:    make(map[string]*rate.Limiter),
		lastCleanup: time.Now(),
	}
}

func (t *Throttled) allow(email string) bool {
	key := strings.ToLower(strings.TrimSpace(email))

	t.mu.Lock()
	defer t.mu.Unlock()

	if time.Since(t.lastCleanup) > 10*time.Minute {
		for k, l := range t.limiters {
			if l.Tokens() >= float64(t.burst) {
				delete(t.limiters, k)
			}
		}
		t.lastCleanup = time.Now()
	}

	l, ok := t.limiters[key]
	if !ok {
		l = rate.NewLimiter(t.rate, t.burst)
		t.limiters[key] = l
	}
	return l.Allow()
}

func (t *Throttled) SendVerification(ctx context.Context, email, token string) error {
	if !t.allow(email) {
		return ErrThrottled
	}
	return t.next.SendVerification(ctx, email, token)
}

func (t *Throttled) SendPasswordReset(ctx context.Context, email, token string) error {
	if !t.allow(email) {
		return ErrThrottled
	}
	return t.next.SendPasswordReset(ctx, email, token)
}

func (t *Throttled) Send2FASetup(ctx context.Context, email, secret string, qrPNG []byte) error {
	if !t.allow(email) {
		return ErrThrottled
	}
	return t.next.Send2FASetup(ctx, email, secret, qrPNG)
}
