package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripwave/costguard/guard"
	"github.com/tripwave/costguard/ratelimit"
	"github.com/tripwave/costguard/store"
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func browserRequest(ip, path string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, path, nil)
	r.Header.Set("CF-Connecting-IP", ip)
	r.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36")
	r.Header.Set("Accept", "text/html,application/json")
	r.Header.Set("Accept-Language", "en-US,en;q=0.9")
	r.Header.Set("Accept-Encoding", "gzip, deflate, br")
	return r
}

func newHandler(s store.Store, cfg guard.Config) http.Handler {
	g := guard.New(s, nil, guard.Options{}, testLogger())
	return Protect(g, cfg)(okHandler())
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestProtect_AllowedRequestAnnotated(t *testing.T) {
	h := newHandler(store.NewMemoryStore(), guard.FlightSearch())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, browserRequest("198.51.100.1", "/api/flights/search"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Threat-Score"))
	assert.NotEmpty(t, rec.Header().Get("X-Daily-Remaining"))
}

func TestProtect_RateLimitHeaders(t *testing.T) {
	cfg := guard.GenericAPI()
	cfg.DailyBudget = 1000
	cfg.RateLimit = ratelimit.Config{MaxRequests: 1, Window: time.Minute, KeyPrefix: "api"}
	h := newHandler(store.NewMemoryStore(), cfg)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, browserRequest("198.51.100.2", "/api/x"))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, browserRequest("198.51.100.2", "/api/x"))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "rate_limit_exceeded", decodeBody(t, rec)["error"])
}

func TestProtect_BotDenial403(t *testing.T) {
	h := newHandler(store.NewMemoryStore(), guard.Booking())

	r := httptest.NewRequest(http.MethodPost, "/api/booking/create", nil)
	r.Header.Set("CF-Connecting-IP", "203.0.113.10")
	r.Header.Set("User-Agent", "python-requests/2.31")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, CodeBotDetected, body["code"])
	assert.Equal(t, "bot_detected", body["error"])
}

func TestProtect_ThreatDenialIsOpaque(t *testing.T) {
	h := newHandler(store.NewMemoryStore(), guard.FlightSearch())

	r := httptest.NewRequest(http.MethodGet, "/api/flights/search", nil)
	r.Header.Set("CF-Connecting-IP", "203.0.113.11")
	r.Header.Set("User-Agent", "curl/7.64")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, CodeSecurityCheckFailed, decodeBody(t, rec)["code"])
}

func TestProtect_DailyBudgetIncludesResetAt(t *testing.T) {
	cfg := guard.GenericAPI()
	cfg.DailyBudget = 1
	h := newHandler(store.NewMemoryStore(), cfg)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, browserRequest("198.51.100.3", "/api/x"))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, browserRequest("198.51.100.3", "/api/x"))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "daily_budget_exceeded", body["error"])
	_, err := time.Parse(time.RFC3339, body["resetAt"])
	assert.NoError(t, err)
}

func TestProtect_DecoyPathGetsQueuedResponseAndBlocks(t *testing.T) {
	mem := store.NewMemoryStore()
	h := newHandler(mem, guard.GenericAPI())

	r := browserRequest("203.0.113.12", "/wp-admin/setup.php")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)

	// The scanner sees a plausible queued reply, not a block.
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "120", rec.Header().Get("Retry-After"))
	assert.NotEmpty(t, rec.Header().Get("X-Queue-Position"))

	// But every later request from that IP is denied.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, browserRequest("203.0.113.12", "/api/x"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
