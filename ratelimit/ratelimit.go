// Package ratelimit implements a fixed-window request limiter shared across
// processes through the Store, with a per-process fallback when the Store is
// unreachable.
//
// Fixed windows are an approximation of a sliding window: a client can send
// up to twice the nominal limit across a window boundary. This is accepted
// behavior, not a bug; the daily budget ledger bounds total spend regardless.
package ratelimit

import (
	"context"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tripwave/costguard/keyspace"
	"github.com/tripwave/costguard/store"
)

// Config is the per-endpoint-category limiting policy. Immutable; supplied at
// call time.
type Config struct {
	MaxRequests int
	Window      time.Duration
	KeyPrefix   string

	// CostWeight is the relative upstream cost of one call in this class,
	// surfaced on denials so operators can tell a hammered cheap endpoint
	// from a hammered expensive one.
	CostWeight float64

	// SkipTrusted exempts authenticated-session traffic from this limiter
	// only; the rest of the admission pipeline still runs.
	SkipTrusted bool
}

// Result carries everything needed to build rate-limit response headers.
type Result struct {
	Success           bool
	Limit             int
	Remaining         int
	ResetTime         time.Time
	RetryAfterSeconds int // 0 when allowed
	Blocked           bool
	Reason            string
}

// ReasonExceeded tags a denial caused by the window counter.
const ReasonExceeded = "rate_limit_exceeded"

// Limiter checks fixed-window counters in the Store.
type Limiter struct {
	store    store.Store
	fallback *localWindows
	log      logrus.FieldLogger
	now      func() time.Time
}

// NewLimiter creates a distributed rate limiter.
func NewLimiter(s store.Store, log logrus.FieldLogger) *Limiter {
	return &Limiter{
		store:    s,
		fallback: newLocalWindows(),
		log:      log,
		now:      time.Now,
	}
}

// SetClock overrides the time source, for window tests.
func (l *Limiter) SetClock(now func() time.Time) { l.now = now }

// Check increments the (client, endpoint) window counter and compares it to
// the configured maximum. On Store failure it degrades to an in-process
// counter: a weaker, per-instance guarantee, preferred over either blocking
// all traffic or running unprotected.
func (l *Limiter) Check(ctx context.Context, ip, path string, cfg Config) Result {
	now := l.now()
	windowIndex := now.UnixMilli() / cfg.Window.Milliseconds()
	key := keyspace.RateLimit(cfg.KeyPrefix, ip, path, windowIndex)

	count, ttl, err := l.store.IncrWindow(ctx, key, cfg.Window)
	if err != nil {
		l.log.WithError(err).WithField("ip", ip).Warn("rate limit store unavailable, using local fallback")
		count, ttl = l.fallback.incr(key, cfg.Window, now)
	}

	result := Result{
		Limit:     cfg.MaxRequests,
		ResetTime: now.Add(ttl),
	}

	if count > int64(cfg.MaxRequests) {
		result.Blocked = true
		result.Reason = ReasonExceeded
		result.RetryAfterSeconds = int(math.Ceil(ttl.Seconds()))
		if result.RetryAfterSeconds < 1 {
			result.RetryAfterSeconds = 1
		}
		l.log.WithFields(logrus.Fields{
			"ip":          ip,
			"path":        path,
			"cost_weight": cfg.CostWeight,
		}).Info("rate limit exceeded")
		l.recordOffender(ctx, ip)
		return result
	}

	result.Success = true
	result.Remaining = cfg.MaxRequests - int(count)
	if result.Remaining < 0 {
		result.Remaining = 0
	}
	return result
}

// recordOffender feeds the repeat-offender hash consumed by the threat
// scorer. Best effort; a Store failure here only costs the history signal.
func (l *Limiter) recordOffender(ctx context.Context, ip string) {
	if _, err := l.store.HIncrBy(ctx, keyspace.BlockedIPsHash, ip, 1); err != nil {
		l.log.WithError(err).WithField("ip", ip).Debug("offender record failed")
	}
}
