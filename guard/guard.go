// Package guard composes identity resolution, bot heuristics, rate limiting,
// threat scoring, and the daily spend ledger into one ordered, fail-fast
// admission pipeline. It is the single integration point for handlers that
// front billable upstream travel APIs.
package guard

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tripwave/costguard/alert"
	"github.com/tripwave/costguard/clientip"
	"github.com/tripwave/costguard/fingerprint"
	"github.com/tripwave/costguard/honeypot"
	"github.com/tripwave/costguard/keyspace"
	"github.com/tripwave/costguard/ratelimit"
	"github.com/tripwave/costguard/store"
	"github.com/tripwave/costguard/threat"
)

// Denial reasons surfaced to the protected handler.
const (
	ReasonBotDetected   = "bot_detected"
	ReasonRateLimit     = "rate_limit_exceeded"
	ReasonThreatScore   = "threat_score_exceeded"
	ReasonDailyBudget   = "daily_budget_exceeded"
	ReasonHoneypotBlock = "honeypot_path_access"
	ReasonManualBlock   = "manual_block"
)

// Unknown marks optional numeric result fields that were not computed before
// the pipeline stopped.
const Unknown = -1

// Result is the admission verdict handed back to the protected handler.
type Result struct {
	Allowed bool
	Reason  string
	IP      string

	// ThreatScore and DailyRemaining are Unknown when their pipeline
	// stages never ran.
	ThreatScore    int
	DailyRemaining int

	// RetryAfterSeconds and ResetAt accompany rate-limit and budget
	// denials so the handler can build response headers.
	RetryAfterSeconds int
	ResetAt           time.Time

	RateLimit *ratelimit.Result
}

// AlertSender decouples the guard from alert delivery; alerts are fired, not
// awaited.
type AlertSender interface {
	Send(alert.Data) bool
}

// Options configure the guard's cross-endpoint behavior.
type Options struct {
	// TestBypassSecret enables the end-to-end test bypass when non-empty.
	TestBypassSecret string

	// SessionCookie names the authenticated-session cookie honored by the
	// trusted-session bypass.
	SessionCookie string

	// TrustedReferrers are internal path prefixes a trusted session must
	// arrive from.
	TrustedReferrers []string

	// Weights overrides the threat scoring model. Zero value means
	// threat.DefaultWeights.
	Weights threat.Weights
}

// Guard is the cost-guard orchestrator.
type Guard struct {
	store   store.Store
	bypass  *ratelimit.TestBypass
	trap    *honeypot.Trap
	limiter *ratelimit.Limiter
	scorer  *threat.Scorer
	alerts  AlertSender
	opts    Options
	log     logrus.FieldLogger
	now     func() time.Time
}

// New creates a guard. alerts may be nil when alerting is not wired.
func New(s store.Store, alerts AlertSender, opts Options, log logrus.FieldLogger) *Guard {
	if opts.SessionCookie == "" {
		opts.SessionCookie = "tw_session"
	}
	if opts.TrustedReferrers == nil {
		opts.TrustedReferrers = []string{"/booking", "/account"}
	}
	weights := opts.Weights
	if weights.Version == "" {
		weights = threat.DefaultWeights
	}
	return &Guard{
		store:   s,
		bypass:  ratelimit.NewTestBypass(opts.TestBypassSecret),
		trap:    honeypot.NewTrap(s, log),
		limiter: ratelimit.NewLimiter(s, log),
		scorer:  threat.NewScorer(s, weights, log),
		alerts:  alerts,
		opts:    opts,
		log:     log,
		now:     time.Now,
	}
}

// Trap exposes the honeypot for middleware that serves decoy responses.
func (g *Guard) Trap() *honeypot.Trap { return g.trap }

// TriggerHoneypot records a decoy interaction: 24h block, offender count,
// operator alert. Returns the resolved IP so the caller can log it.
func (g *Guard) TriggerHoneypot(ctx context.Context, r *http.Request, reason string) string {
	ip := clientip.FromRequest(r)
	g.trap.Trigger(ctx, r, ip, reason)
	g.recordBlock(ctx, ip)
	g.fireAlert(alert.Data{
		Type:      alert.TypeHoneypot,
		IP:        ip,
		Endpoint:  r.URL.Path,
		UserAgent: r.Header.Get("User-Agent"),
	})
	return ip
}

// SetClock overrides the time source, for ledger tests.
func (g *Guard) SetClock(now func() time.Time) {
	g.now = now
	g.limiter.SetClock(now)
	g.scorer.SetClock(now)
}

// Check runs the admission pipeline for a request about to trigger a billable
// upstream call. Stages run sequentially and stop at the first failure so a
// rejected request does as little Store work as possible. Store errors fail
// open per stage: a Store outage must never take down the revenue path.
func (g *Guard) Check(ctx context.Context, r *http.Request, cfg Config) Result {
	cfg = cfg.Normalize()
	ip := clientip.FromRequest(r)

	result := Result{
		Allowed:        true,
		IP:             ip,
		ThreatScore:    Unknown,
		DailyRemaining: Unknown,
	}

	// 1. Test-mode bypass. Counted so the monitor can surface usage.
	if g.bypass.Granted(r) {
		if _, err := g.store.Incr(ctx, keyspace.BypassUses(g.now())); err != nil {
			g.log.WithError(err).Debug("bypass counter failed")
		}
		g.log.WithField("ip", ip).Info("test-mode bypass granted")
		result.DailyRemaining = cfg.DailyBudget
		return result
	}

	// 2. Trusted-session bypass: authenticated users arriving from our own
	// pages are not bot-checked.
	if cfg.SkipAuthenticated && g.trustedSession(r) {
		result.DailyRemaining = cfg.DailyBudget
		return result
	}

	// 3. Operator override: a manual deny or allow beats every heuristic.
	switch g.manualOverride(ctx, ip) {
	case overrideDeny:
		return g.deny(result, ReasonManualBlock)
	case overrideAllow:
		result.DailyRemaining = cfg.DailyBudget
		return result
	}

	// 4. Standing honeypot block: presence alone denies, whatever the rest
	// of the profile looks like.
	if g.trap.IsBlocked(ctx, ip) {
		return g.deny(result, ReasonHoneypotBlock)
	}

	// 5. Fast bot-pattern check, sensitive endpoints only. No Store I/O.
	if cfg.Sensitive && threat.IsLikelyBot(r) {
		g.fireAlert(alert.Data{
			Type:      alert.TypeBotDetected,
			IP:        ip,
			Endpoint:  cfg.Endpoint,
			UserAgent: r.Header.Get("User-Agent"),
		})
		g.recordBlock(ctx, ip)
		return g.deny(result, ReasonBotDetected)
	}

	// 6. Distributed rate limit. SkipTrusted exempts session traffic from
	// this stage only; scoring and the budget ledger still apply.
	if !(cfg.RateLimit.SkipTrusted && g.trustedSession(r)) {
		rl := g.limiter.Check(ctx, ip, r.URL.Path, cfg.RateLimit)
		result.RateLimit = &rl
		if !rl.Success {
			result.RetryAfterSeconds = rl.RetryAfterSeconds
			result.ResetAt = rl.ResetTime
			g.fireAlert(alert.Data{
				Type:      alert.TypeRateLimit,
				IP:        ip,
				Endpoint:  cfg.Endpoint,
				UserAgent: r.Header.Get("User-Agent"),
				Threshold: cfg.RateLimit.MaxRequests,
			})
			return g.deny(result, ReasonRateLimit)
		}
	}

	// 7. Threat score.
	score := g.scorer.Score(ctx, r, ip)
	result.ThreatScore = score.Score
	if score.IsSuspicious {
		g.recordSuspicious(ctx, r, ip, score)
	}
	for _, reason := range score.Reasons {
		if reason == fingerprint.ReasonInstability {
			g.fireAlert(alert.Data{
				Type:        alert.TypeFingerprint,
				IP:          ip,
				Endpoint:    cfg.Endpoint,
				UserAgent:   r.Header.Get("User-Agent"),
				ThreatScore: score.Score,
				Reasons:     score.Reasons,
			})
			break
		}
	}
	if score.Score >= cfg.ThreatThreshold {
		g.fireAlert(alert.Data{
			Type:        alert.TypeThreatScore,
			IP:          ip,
			Endpoint:    cfg.Endpoint,
			UserAgent:   r.Header.Get("User-Agent"),
			ThreatScore: score.Score,
			Reasons:     score.Reasons,
		})
		g.recordBlock(ctx, ip)
		return g.deny(result, ReasonThreatScore)
	}

	// 8. Daily budget ledger. The counter tracks checks performed, not
	// successful upstream calls: it increments even on the request the
	// ledger itself rejects, so probing at the boundary still spends
	// budget.
	key := keyspace.CostBudget(ip, cfg.Endpoint, g.now())
	count, ttl, err := g.store.IncrWindow(ctx, key, budgetWindow)
	if err != nil {
		g.log.WithError(err).WithField("ip", ip).Warn("budget ledger unavailable, failing open")
		return result
	}
	if count > int64(cfg.DailyBudget) {
		result.ResetAt = g.now().Add(ttl)
		g.fireAlert(alert.Data{
			Type:         alert.TypeDailyBudget,
			IP:           ip,
			Endpoint:     cfg.Endpoint,
			RequestCount: count,
			Threshold:    cfg.DailyBudget,
		})
		g.recordBlock(ctx, ip)
		return g.deny(result, ReasonDailyBudget)
	}
	result.DailyRemaining = cfg.DailyBudget - int(count)
	return result
}

func (g *Guard) deny(result Result, reason string) Result {
	result.Allowed = false
	result.Reason = reason
	g.log.WithFields(logrus.Fields{
		"ip":     result.IP,
		"reason": reason,
	}).Info("request denied")
	return result
}

type overrideAction int

const (
	overrideNone overrideAction = iota
	overrideDeny
	overrideAllow
)

// manualOverride consults the operator-managed IP table written by the
// monitor. Fails open: no table, no opinion.
func (g *Guard) manualOverride(ctx context.Context, ip string) overrideAction {
	all, err := g.store.HGetAll(ctx, keyspace.ManualOverridesHash)
	if err != nil {
		g.log.WithError(err).Debug("override lookup failed")
		return overrideNone
	}
	raw, ok := all[ip]
	if !ok {
		return overrideNone
	}
	var entry struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return overrideNone
	}
	switch entry.Action {
	case "deny":
		return overrideDeny
	case "allow":
		return overrideAllow
	}
	return overrideNone
}

// trustedSession requires both the session cookie and an internal referrer;
// either alone is trivially forgeable.
func (g *Guard) trustedSession(r *http.Request) bool {
	if _, err := r.Cookie(g.opts.SessionCookie); err != nil {
		return false
	}
	ref := r.Referer()
	for _, prefix := range g.opts.TrustedReferrers {
		if strings.Contains(ref, prefix) {
			return true
		}
	}
	return false
}

func (g *Guard) fireAlert(data alert.Data) {
	if g.alerts == nil {
		return
	}
	g.alerts.Send(data)
}

// recordBlock feeds the repeat-offender hash.
func (g *Guard) recordBlock(ctx context.Context, ip string) {
	if _, err := g.store.HIncrBy(ctx, keyspace.BlockedIPsHash, ip, 1); err != nil {
		g.log.WithError(err).Debug("offender record failed")
	}
}

// suspiciousEntry is one line in the bounded suspicious-request log.
type suspiciousEntry struct {
	IP        string    `json:"ip"`
	Path      string    `json:"path"`
	UserAgent string    `json:"userAgent"`
	Score     int       `json:"score"`
	Reasons   []string  `json:"reasons"`
	Timestamp time.Time `json:"timestamp"`
}

func (g *Guard) recordSuspicious(ctx context.Context, r *http.Request, ip string, score threat.Score) {
	entry, err := json.Marshal(suspiciousEntry{
		IP:        ip,
		Path:      r.URL.Path,
		UserAgent: r.Header.Get("User-Agent"),
		Score:     score.Score,
		Reasons:   score.Reasons,
		Timestamp: g.now().UTC(),
	})
	if err != nil {
		return
	}
	if err := g.store.PushCapped(ctx, keyspace.SuspiciousRequests, string(entry), keyspace.SuspiciousRequestsCap); err != nil {
		g.log.WithError(err).Debug("suspicious request log failed")
	}
}
