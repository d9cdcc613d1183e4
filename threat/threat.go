// Package threat scores ambiguous request signals into a 0-100 suspicion
// rating. Four independently capped sub-scores (user agent, header
// completeness, IP reputation, Store-backed history) add up so no single
// signal short of a known-bot user agent can cross the bot threshold alone.
package threat

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tripwave/costguard/fingerprint"
	"github.com/tripwave/costguard/keyspace"
	"github.com/tripwave/costguard/store"
)

// Score is the per-request threat assessment. Never cached across requests;
// header and timing inputs change request to request even for one client.
type Score struct {
	Score           int // 0..100
	IsBot           bool
	IsSuspicious    bool
	Reasons         []string
	FingerprintHash string
}

// Reason tags contributed by the scorer.
const (
	ReasonMissingUA         = "missing_user_agent"
	ReasonKnownBotUA        = "known_bot_ua"
	ReasonAllowedCrawler    = "allowed_crawler"
	ReasonMalformedUA       = "malformed_ua"
	ReasonShortUA           = "short_ua"
	ReasonNoHTMLAccept      = "no_html_accept"
	ReasonMissingLanguage   = "missing_accept_language"
	ReasonWeakEncoding      = "weak_accept_encoding"
	ReasonProxyHeaders      = "proxy_headers"
	ReasonAutomationHeader  = "automation_header"
	ReasonAutomationTool    = "automation_tool"
	ReasonDatacenterIP      = "datacenter_ip"
	ReasonRepeatedOffender  = "repeated_offender"
	ReasonHighVelocity      = "high_velocity"
	ReasonFastRequests      = "fast_requests"
)

const (
	velocityTTL = time.Minute

	highVelocityGap = 100 * time.Millisecond
	fastRequestGap  = 500 * time.Millisecond

	// Prior blocks beyond this mark the IP a repeat offender.
	repeatOffenderBlocks = 3
)

// Scorer combines heuristic tables with Store-backed history.
type Scorer struct {
	store   store.Store
	tracker *fingerprint.Tracker
	weights Weights
	log     logrus.FieldLogger
	now     func() time.Time
}

// NewScorer creates a threat scorer with the given weight table.
func NewScorer(s store.Store, w Weights, log logrus.FieldLogger) *Scorer {
	return &Scorer{
		store:   s,
		tracker: fingerprint.NewTracker(s, log),
		weights: w,
		log:     log,
		now:     time.Now,
	}
}

// SetClock overrides the time source, for velocity tests.
func (s *Scorer) SetClock(now func() time.Time) { s.now = now }

// IsLikelyBot is the fast path: user-agent table lookup only, no Store
// access. Used before any network I/O is justified.
func IsLikelyBot(r *http.Request) bool {
	ua := strings.ToLower(r.Header.Get("User-Agent"))
	if ua == "" {
		return true
	}
	return matchesAny(ua, botUAMarkers) && !matchesAny(ua, allowedBotMarkers)
}

// Score computes the full threat assessment for a request. Store failures
// degrade to heuristics-only scoring; they never block.
func (s *Scorer) Score(ctx context.Context, r *http.Request, ip string) Score {
	var (
		total   int
		reasons []string
	)

	add := func(points, limit int, sub *int, reason string) {
		if *sub+points > limit {
			points = limit - *sub
		}
		if points <= 0 {
			return
		}
		*sub += points
		total += points
		reasons = append(reasons, reason)
	}

	// 1. User-agent analysis.
	uaScore := 0
	ua := r.Header.Get("User-Agent")
	lower := strings.ToLower(ua)
	switch {
	case matchesAny(lower, botUAMarkers):
		if matchesAny(lower, allowedBotMarkers) {
			add(s.weights.AllowedBotUA, s.weights.UACap, &uaScore, ReasonAllowedCrawler)
		} else {
			add(s.weights.KnownBotUA, s.weights.UACap, &uaScore, ReasonKnownBotUA)
		}
	case len(ua) < 10:
		add(s.weights.MissingUA, s.weights.UACap, &uaScore, ReasonMissingUA)
	}
	if len(ua) >= 10 {
		if malformedUA(ua) {
			add(s.weights.MalformedUA, s.weights.UACap, &uaScore, ReasonMalformedUA)
		}
		if len(ua) < 50 && !matchesAny(lower, mobileMarkers) {
			add(s.weights.ShortUA, s.weights.UACap, &uaScore, ReasonShortUA)
		}
	}

	fp := fingerprint.Compute(r.Header)
	if auto := fingerprint.DetectAutomation(fp); auto.IsAutomation && auto.Tool != "low_confidence" {
		// Low-confidence clients are already penalized per missing header;
		// only a tool signature earns the flat hit.
		add(s.weights.AutomationTool, s.weights.UACap, &uaScore, ReasonAutomationTool)
	}

	// 2. Header completeness. Strongest signal first so weaker ones are
	// the ones squeezed out by the cap.
	headerScore := 0
	for _, h := range automationHeaders {
		if r.Header.Get(h) != "" {
			add(s.weights.AutomationHeader, s.weights.HeaderCap, &headerScore, ReasonAutomationHeader)
			break
		}
	}
	for _, h := range proxyHeaders {
		if r.Header.Get(h) != "" {
			add(s.weights.ProxyHeader, s.weights.HeaderCap, &headerScore, ReasonProxyHeaders)
			break
		}
	}
	if !strings.Contains(r.Header.Get("Accept"), "text/html") {
		add(s.weights.MissingAcceptHTML, s.weights.HeaderCap, &headerScore, ReasonNoHTMLAccept)
	}
	if r.Header.Get("Accept-Language") == "" {
		add(s.weights.MissingLanguage, s.weights.HeaderCap, &headerScore, ReasonMissingLanguage)
	}
	if !strings.Contains(strings.ToLower(r.Header.Get("Accept-Encoding")), "gzip") {
		add(s.weights.WeakEncoding, s.weights.HeaderCap, &headerScore, ReasonWeakEncoding)
	}

	// 3. IP analysis.
	ipScore := 0
	if isDatacenterIP(ip) {
		add(s.weights.DatacenterIP, s.weights.IPCap, &ipScore, ReasonDatacenterIP)
	}

	// 4. Store-backed history. Sub-scores here are uncapped; the final
	// clamp bounds them.
	if track := s.tracker.Track(ctx, ip, fp); track.IsAnomaly {
		total += s.weights.FingerprintInstability
		reasons = append(reasons, track.Reason)
	}
	if s.priorBlocks(ctx, ip) > repeatOffenderBlocks {
		total += s.weights.RepeatedOffender
		reasons = append(reasons, ReasonRepeatedOffender)
	}
	switch gap := s.requestGap(ctx, ip); {
	case gap < 0:
		// no history or Store down
	case gap < highVelocityGap:
		total += s.weights.HighVelocity
		reasons = append(reasons, ReasonHighVelocity)
	case gap < fastRequestGap:
		total += s.weights.FastRequests
		reasons = append(reasons, ReasonFastRequests)
	}

	if total > 100 {
		total = 100
	}
	if total < 0 {
		total = 0
	}

	return Score{
		Score:           total,
		IsBot:           total >= s.weights.BotThreshold,
		IsSuspicious:    total >= s.weights.SuspiciousThreshold,
		Reasons:         reasons,
		FingerprintHash: fp.Hash,
	}
}

// malformedUA flags legacy or structurally broken user agents: real browsers
// have shipped "Mozilla/5.0 (...)" for two decades.
func malformedUA(ua string) bool {
	if strings.HasPrefix(ua, "Mozilla/3") || strings.HasPrefix(ua, "Mozilla/4") {
		return true
	}
	if strings.HasPrefix(ua, "Mozilla/") && !strings.Contains(ua, "(") {
		return true
	}
	return false
}

// priorBlocks reads the repeat-offender hash. Store errors count as zero.
func (s *Scorer) priorBlocks(ctx context.Context, ip string) int64 {
	all, err := s.store.HGetAll(ctx, keyspace.BlockedIPsHash)
	if err != nil {
		s.log.WithError(err).Debug("offender lookup failed, scoring without history")
		return 0
	}
	n, _ := strconv.ParseInt(all[ip], 10, 64)
	return n
}

// requestGap measures the time since this IP's previous request by swapping a
// 60s-TTL last-seen timestamp. Returns a negative duration when there is no
// usable history.
func (s *Scorer) requestGap(ctx context.Context, ip string) time.Duration {
	key := keyspace.Velocity(ip)
	now := s.now()

	prev, found, err := s.store.Get(ctx, key)
	if err != nil {
		s.log.WithError(err).Debug("velocity lookup failed, scoring without history")
		return -1
	}
	if err := s.store.Set(ctx, key, strconv.FormatInt(now.UnixMilli(), 10), velocityTTL); err != nil {
		s.log.WithError(err).Debug("velocity store failed")
	}
	if !found {
		return -1
	}
	prevMs, err := strconv.ParseInt(prev, 10, 64)
	if err != nil {
		return -1
	}
	return now.Sub(time.UnixMilli(prevMs))
}
