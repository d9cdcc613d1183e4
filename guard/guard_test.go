package guard

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripwave/costguard/alert"
	"github.com/tripwave/costguard/honeypot"
	"github.com/tripwave/costguard/keyspace"
	"github.com/tripwave/costguard/ratelimit"
	"github.com/tripwave/costguard/store"
)

type fakeAlerts struct {
	mu    sync.Mutex
	fired []alert.Data
}

func (f *fakeAlerts) Send(d alert.Data) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fired = append(f.fired, d)
	return true
}

func (f *fakeAlerts) types() []alert.Type {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]alert.Type, len(f.fired))
	for i, d := range f.fired {
		out[i] = d.Type
	}
	return out
}

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func browserRequest(ip, path string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, path, nil)
	r.Header.Set("CF-Connecting-IP", ip)
	r.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36")
	r.Header.Set("Accept", "text/html,application/json")
	r.Header.Set("Accept-Language", "en-US,en;q=0.9")
	r.Header.Set("Accept-Encoding", "gzip, deflate, br")
	return r
}

func newTestGuard(s store.Store, alerts AlertSender) *Guard {
	return New(s, alerts, Options{TestBypassSecret: "e2e-secret"}, testLogger())
}

func TestCheck_BrowserRequestAllowed(t *testing.T) {
	g := newTestGuard(store.NewMemoryStore(), nil)

	res := g.Check(context.Background(), browserRequest("198.51.100.1", "/api/flights/search"), FlightSearch())
	assert.True(t, res.Allowed)
	assert.Empty(t, res.Reason)
	assert.Equal(t, FlightSearch().DailyBudget-1, res.DailyRemaining)
	assert.GreaterOrEqual(t, res.ThreatScore, 0)
}

func TestCheck_DailyBudgetLedger(t *testing.T) {
	g := newTestGuard(store.NewMemoryStore(), nil)
	ctx := context.Background()

	cfg := GenericAPI()
	cfg.DailyBudget = 3

	// dailyRemaining + count == dailyBudget all the way down.
	for want := 2; want >= 0; want-- {
		res := g.Check(ctx, browserRequest("198.51.100.2", "/api/x"), cfg)
		require.True(t, res.Allowed)
		require.Equal(t, want, res.DailyRemaining)
	}

	res := g.Check(ctx, browserRequest("198.51.100.2", "/api/x"), cfg)
	assert.False(t, res.Allowed)
	assert.Equal(t, ReasonDailyBudget, res.Reason)
	assert.False(t, res.ResetAt.IsZero())
}

func TestCheck_BudgetCountsChecksNotSuccesses(t *testing.T) {
	mem := store.NewMemoryStore()
	g := newTestGuard(mem, nil)
	ctx := context.Background()

	cfg := GenericAPI()
	cfg.DailyBudget = 1

	require.True(t, g.Check(ctx, browserRequest("198.51.100.3", "/api/x"), cfg).Allowed)

	// Rejected boundary probes keep spending budget: the ledger counter
	// keeps growing even though every check is denied.
	for i := 0; i < 3; i++ {
		res := g.Check(ctx, browserRequest("198.51.100.3", "/api/x"), cfg)
		require.False(t, res.Allowed)
	}
}

func TestCheck_FailsOpenWhenStoreDown(t *testing.T) {
	g := newTestGuard(store.UnavailableStore{}, nil)

	res := g.Check(context.Background(), browserRequest("198.51.100.4", "/api/flights/search"), FlightSearch())
	assert.True(t, res.Allowed)
}

func TestCheck_HoneypotBlockedIPDeniedDespiteCleanProfile(t *testing.T) {
	mem := store.NewMemoryStore()
	alerts := &fakeAlerts{}
	g := newTestGuard(mem, alerts)
	ctx := context.Background()
	ip := "203.0.113.40"

	decoy := httptest.NewRequest(http.MethodGet, "/wp-admin/setup.php", nil)
	decoy.Header.Set("CF-Connecting-IP", ip)
	g.Trap().Trigger(ctx, decoy, ip, honeypot.ReasonDecoyPath)

	// A later, perfectly browser-like request from the same IP is denied.
	res := g.Check(ctx, browserRequest(ip, "/api/flights/search"), FlightSearch())
	assert.False(t, res.Allowed)
	assert.Equal(t, ReasonHoneypotBlock, res.Reason)
}

func TestCheck_SensitiveEndpointFastBotCheck(t *testing.T) {
	alerts := &fakeAlerts{}
	g := newTestGuard(store.NewMemoryStore(), alerts)

	r := httptest.NewRequest(http.MethodPost, "/api/booking/create", nil)
	r.Header.Set("CF-Connecting-IP", "203.0.113.41")
	r.Header.Set("User-Agent", "python-requests/2.31")

	res := g.Check(context.Background(), r, Booking())
	assert.False(t, res.Allowed)
	assert.Equal(t, ReasonBotDetected, res.Reason)
	assert.Contains(t, alerts.types(), alert.TypeBotDetected)

	// The same UA on a non-sensitive search endpoint is not pattern-blocked
	// outright; it goes through full scoring instead.
	res = g.Check(context.Background(), r, FlightSearch())
	assert.NotEqual(t, ReasonBotDetected, res.Reason)
}

func TestCheck_RateLimitDenial(t *testing.T) {
	alerts := &fakeAlerts{}
	g := newTestGuard(store.NewMemoryStore(), alerts)
	ctx := context.Background()

	cfg := GenericAPI()
	cfg.DailyBudget = 1000
	cfg.RateLimit = ratelimit.Config{MaxRequests: 2, Window: time.Minute, KeyPrefix: "api"}

	require.True(t, g.Check(ctx, browserRequest("198.51.100.5", "/api/x"), cfg).Allowed)
	require.True(t, g.Check(ctx, browserRequest("198.51.100.5", "/api/x"), cfg).Allowed)

	res := g.Check(ctx, browserRequest("198.51.100.5", "/api/x"), cfg)
	assert.False(t, res.Allowed)
	assert.Equal(t, ReasonRateLimit, res.Reason)
	assert.Greater(t, res.RetryAfterSeconds, 0)
	assert.Contains(t, alerts.types(), alert.TypeRateLimit)
}

func TestCheck_ThreatScoreDenial(t *testing.T) {
	alerts := &fakeAlerts{}
	g := newTestGuard(store.NewMemoryStore(), alerts)

	r := httptest.NewRequest(http.MethodGet, "/api/flights/search", nil)
	r.Header.Set("CF-Connecting-IP", "203.0.113.42")
	r.Header.Set("User-Agent", "curl/7.64")

	res := g.Check(context.Background(), r, FlightSearch())
	assert.False(t, res.Allowed)
	assert.Equal(t, ReasonThreatScore, res.Reason)
	assert.GreaterOrEqual(t, res.ThreatScore, FlightSearch().ThreatThreshold)
	assert.Contains(t, alerts.types(), alert.TypeThreatScore)
}

func TestCheck_TestBypassSkipsEverything(t *testing.T) {
	g := newTestGuard(store.NewMemoryStore(), nil)

	r := httptest.NewRequest(http.MethodGet, "/api/flights/search", nil)
	r.Header.Set("CF-Connecting-IP", "203.0.113.43")
	r.Header.Set("User-Agent", "curl/7.64") // would otherwise be blocked
	r.Header.Set(ratelimit.HeaderTestMode, "e2e")
	r.Header.Set(ratelimit.HeaderTestSecret, "e2e-secret")

	res := g.Check(context.Background(), r, FlightSearch())
	assert.True(t, res.Allowed)
	assert.Equal(t, FlightSearch().DailyBudget, res.DailyRemaining)
}

func TestCheck_TrustedSessionBypass(t *testing.T) {
	g := newTestGuard(store.NewMemoryStore(), nil)

	r := browserRequest("198.51.100.6", "/api/flights/search")
	r.AddCookie(&http.Cookie{Name: "tw_session", Value: "abc"})
	r.Header.Set("Referer", "https://www.tripwave.example/booking/review")

	res := g.Check(context.Background(), r, FlightSearch())
	assert.True(t, res.Allowed)
	assert.Equal(t, FlightSearch().DailyBudget, res.DailyRemaining)

	// Cookie without a trusted referrer goes through the full pipeline.
	r2 := browserRequest("198.51.100.6", "/api/flights/search")
	r2.AddCookie(&http.Cookie{Name: "tw_session", Value: "abc"})
	res = g.Check(context.Background(), r2, FlightSearch())
	assert.True(t, res.Allowed)
	assert.NotEqual(t, FlightSearch().DailyBudget, res.DailyRemaining)
}

func TestCheck_SkipTrustedExemptsLimiterOnly(t *testing.T) {
	g := newTestGuard(store.NewMemoryStore(), nil)
	ctx := context.Background()

	cfg := Booking()
	cfg.DailyBudget = 100
	cfg.RateLimit.MaxRequests = 2

	trusted := browserRequest("198.51.100.9", "/api/booking/create")
	trusted.AddCookie(&http.Cookie{Name: "tw_session", Value: "abc"})
	trusted.Header.Set("Referer", "https://www.tripwave.example/booking/review")

	// Far past the 2-request window limit, yet admitted: SkipTrusted only
	// bypasses the limiter, so the budget keeps counting.
	var res Result
	for i := 0; i < 5; i++ {
		res = g.Check(ctx, trusted, cfg)
		require.True(t, res.Allowed)
	}
	assert.Equal(t, cfg.DailyBudget-5, res.DailyRemaining)

	// The same traffic without a session hits the limiter as usual.
	anon := browserRequest("198.51.100.19", "/api/booking/create")
	require.True(t, g.Check(ctx, anon, cfg).Allowed)
	require.True(t, g.Check(ctx, anon, cfg).Allowed)
	res = g.Check(ctx, anon, cfg)
	assert.False(t, res.Allowed)
	assert.Equal(t, ReasonRateLimit, res.Reason)
}

func TestCheck_ManualOverrideBeatsHeuristics(t *testing.T) {
	mem := store.NewMemoryStore()
	g := newTestGuard(mem, nil)
	ctx := context.Background()

	require.NoError(t, mem.HSet(ctx, keyspace.ManualOverridesHash, "198.51.100.7", `{"action":"deny"}`))
	res := g.Check(ctx, browserRequest("198.51.100.7", "/api/flights/search"), FlightSearch())
	assert.False(t, res.Allowed)
	assert.Equal(t, ReasonManualBlock, res.Reason)

	// An allow override skips the pipeline even for a blatant bot UA.
	require.NoError(t, mem.HSet(ctx, keyspace.ManualOverridesHash, "198.51.100.8", `{"action":"allow"}`))
	r := httptest.NewRequest(http.MethodPost, "/api/booking/create", nil)
	r.Header.Set("CF-Connecting-IP", "198.51.100.8")
	r.Header.Set("User-Agent", "curl/7.64")
	res = g.Check(ctx, r, Booking())
	assert.True(t, res.Allowed)
}

func TestConfig_NormalizeDefaults(t *testing.T) {
	cfg := Config{}.Normalize()
	assert.Equal(t, DefaultDailyBudget, cfg.DailyBudget)
	assert.Equal(t, DefaultThreatThreshold, cfg.ThreatThreshold)
	assert.NotZero(t, cfg.RateLimit.MaxRequests)
	assert.NotZero(t, cfg.RateLimit.Window)
}
