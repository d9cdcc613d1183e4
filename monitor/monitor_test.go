package monitor

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripwave/costguard/keyspace"
	"github.com/tripwave/costguard/store"
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func seedSuspicious(t *testing.T, s store.Store, ip string, score int, reasons ...string) {
	t.Helper()
	entry, err := json.Marshal(map[string]any{
		"ip":        ip,
		"path":      "/api/flights/search",
		"userAgent": "curl/7.64",
		"score":     score,
		"reasons":   reasons,
		"timestamp": time.Now().UTC(),
	})
	require.NoError(t, err)
	require.NoError(t, s.PushCapped(context.Background(), keyspace.SuspiciousRequests, string(entry), keyspace.SuspiciousRequestsCap))
}

func TestMetrics_AggregatesOffendersAndRing(t *testing.T) {
	mem := store.NewMemoryStore()
	m := New(mem, testLogger())
	ctx := context.Background()

	_, err := mem.HIncrBy(ctx, keyspace.BlockedIPsHash, "203.0.113.1", 7)
	require.NoError(t, err)
	_, err = mem.HIncrBy(ctx, keyspace.BlockedIPsHash, "203.0.113.2", 3)
	require.NoError(t, err)

	seedSuspicious(t, mem, "203.0.113.1", 85, "known_bot_ua")
	seedSuspicious(t, mem, "203.0.113.2", 45, "missing_accept_language", "known_bot_ua")

	got, err := m.Metrics(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(10), got.TotalBlocked24h)
	require.Len(t, got.TopBlockedIPs, 2)
	assert.Equal(t, IPCount{IP: "203.0.113.1", Count: 7}, got.TopBlockedIPs[0])
	assert.Len(t, got.SuspiciousRequests, 2)
	assert.Equal(t, 1, got.ThreatScoreDistribution["80-100"])
	assert.Equal(t, 1, got.ThreatScoreDistribution["40-59"])
	assert.Equal(t, int64(2), got.BlockedByReason["known_bot_ua"])
}

func TestMetrics_TopListCapped(t *testing.T) {
	mem := store.NewMemoryStore()
	m := New(mem, testLogger())
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		_, err := mem.HIncrBy(ctx, keyspace.BlockedIPsHash, "203.0.113."+strconv.Itoa(i), int64(i+1))
		require.NoError(t, err)
	}

	got, err := m.Metrics(ctx)
	require.NoError(t, err)
	assert.Len(t, got.TopBlockedIPs, topIPCount)
	assert.Equal(t, int64(15), got.TopBlockedIPs[0].Count)
}

func TestMetrics_StoreDownSurfacesError(t *testing.T) {
	m := New(store.UnavailableStore{}, testLogger())
	_, err := m.Metrics(context.Background())
	assert.ErrorIs(t, err, store.ErrUnavailable)
}

func TestCleanup_DecaysAndPrunes(t *testing.T) {
	mem := store.NewMemoryStore()
	m := New(mem, testLogger())
	ctx := context.Background()

	_, err := mem.HIncrBy(ctx, keyspace.BlockedIPsHash, "203.0.113.1", 8)
	require.NoError(t, err)
	_, err = mem.HIncrBy(ctx, keyspace.BlockedIPsHash, "203.0.113.2", 1)
	require.NoError(t, err)

	require.NoError(t, m.Cleanup(ctx))

	all, err := mem.HGetAll(ctx, keyspace.BlockedIPsHash)
	require.NoError(t, err)
	assert.Equal(t, "4", all["203.0.113.1"])
	// 1/2 rounds to zero; the entry is pruned outright.
	_, ok := all["203.0.113.2"]
	assert.False(t, ok)
}

func TestCleanup_TrimsSuspiciousRing(t *testing.T) {
	mem := store.NewMemoryStore()
	m := New(mem, testLogger())
	ctx := context.Background()

	for i := 0; i < 700; i++ {
		seedSuspicious(t, mem, "203.0.113.9", 50, "known_bot_ua")
	}
	require.NoError(t, m.Cleanup(ctx))

	entries, err := mem.Range(ctx, keyspace.SuspiciousRequests, 0, -1)
	require.NoError(t, err)
	assert.Len(t, entries, keyspace.SuspiciousRequestsCap/2)
}

func TestOverrides_BlockUnblockRoundTrip(t *testing.T) {
	mem := store.NewMemoryStore()
	m := New(mem, testLogger())
	ctx := context.Background()
	ip := "203.0.113.50"

	blocked, err := m.IsBlocked(ctx, ip)
	require.NoError(t, err)
	assert.False(t, blocked)

	require.NoError(t, m.BlockIP(ctx, ip, "scraping spike"))
	blocked, err = m.IsBlocked(ctx, ip)
	require.NoError(t, err)
	assert.True(t, blocked)

	require.NoError(t, m.UnblockIP(ctx, ip))
	blocked, err = m.IsBlocked(ctx, ip)
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestOverrides_AllowIsNotBlocked(t *testing.T) {
	mem := store.NewMemoryStore()
	m := New(mem, testLogger())
	ctx := context.Background()

	require.NoError(t, m.AllowIP(ctx, "203.0.113.51", "partner NAT"))
	blocked, err := m.IsBlocked(ctx, "203.0.113.51")
	require.NoError(t, err)
	assert.False(t, blocked)

	all, err := m.Overrides(ctx)
	require.NoError(t, err)
	assert.Equal(t, ActionAllow, all["203.0.113.51"].Action)
}

func TestRoutes_MetricsEndpoint(t *testing.T) {
	mem := store.NewMemoryStore()
	m := New(mem, testLogger())
	ctx := context.Background()

	_, err := mem.HIncrBy(ctx, keyspace.BlockedIPsHash, "203.0.113.1", 4)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	m.Routes().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got Metrics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, int64(4), got.TotalBlocked24h)
}

func TestRoutes_MetricsStoreDown(t *testing.T) {
	m := New(store.UnavailableStore{}, testLogger())

	rec := httptest.NewRecorder()
	m.Routes().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 503, rec.Code)
	assert.Contains(t, rec.Body.String(), "store_unavailable")
}
