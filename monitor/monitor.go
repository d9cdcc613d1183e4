// Package monitor aggregates the admission counters into operator-facing
// metrics and owns the manual IP override table. Everything here is read-side
// or operator-initiated; the request path never calls into this package.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tripwave/costguard/keyspace"
	"github.com/tripwave/costguard/store"
)

// topIPCount bounds the top-offenders list in Metrics.
const topIPCount = 10

// suspiciousSample bounds how many ring entries Metrics returns.
const suspiciousSample = 50

// Monitor reads the counters the admission components write.
type Monitor struct {
	store store.Store
	log   logrus.FieldLogger
	now   func() time.Time
}

// New creates a monitor over the shared store.
func New(s store.Store, log logrus.FieldLogger) *Monitor {
	return &Monitor{store: s, log: log, now: time.Now}
}

// SetClock overrides the time source, for tests.
func (m *Monitor) SetClock(now func() time.Time) { m.now = now }

// IPCount is one row of the top-offenders table.
type IPCount struct {
	IP    string `json:"ip"`
	Count int64  `json:"count"`
}

// SuspiciousRequest is one parsed entry of the suspicious-request ring.
type SuspiciousRequest struct {
	IP        string    `json:"ip"`
	Path      string    `json:"path"`
	UserAgent string    `json:"userAgent"`
	Score     int       `json:"score"`
	Reasons   []string  `json:"reasons"`
	Timestamp time.Time `json:"timestamp"`
}

// Metrics is the aggregated security snapshot.
type Metrics struct {
	TotalBlocked24h         int64               `json:"totalBlocked24h"`
	BlockedByReason         map[string]int64    `json:"blockedByReason"`
	TopBlockedIPs           []IPCount           `json:"topBlockedIPs"`
	SuspiciousRequests      []SuspiciousRequest `json:"suspiciousRequests"`
	ThreatScoreDistribution map[string]int      `json:"threatScoreDistribution"`
	HoneypotTriggers        int64               `json:"honeypotTriggers"`
	BypassUsesToday         int64               `json:"bypassUsesToday"`
}

// Metrics builds the snapshot from the repeat-offender hash and the
// suspicious-request ring. Unlike the request path, a Store error here is
// surfaced: an operator looking at a dashboard needs to know the data is
// missing, not see zeros.
func (m *Monitor) Metrics(ctx context.Context) (Metrics, error) {
	offenders, err := m.store.HGetAll(ctx, keyspace.BlockedIPsHash)
	if err != nil {
		return Metrics{}, fmt.Errorf("offender hash: %w", err)
	}

	out := Metrics{
		BlockedByReason:         make(map[string]int64),
		ThreatScoreDistribution: make(map[string]int),
	}

	for ip, raw := range offenders {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		out.TotalBlocked24h += n
		out.TopBlockedIPs = append(out.TopBlockedIPs, IPCount{IP: ip, Count: n})
	}
	sort.Slice(out.TopBlockedIPs, func(i, j int) bool {
		if out.TopBlockedIPs[i].Count != out.TopBlockedIPs[j].Count {
			return out.TopBlockedIPs[i].Count > out.TopBlockedIPs[j].Count
		}
		return out.TopBlockedIPs[i].IP < out.TopBlockedIPs[j].IP
	})
	if len(out.TopBlockedIPs) > topIPCount {
		out.TopBlockedIPs = out.TopBlockedIPs[:topIPCount]
	}

	entries, err := m.store.Range(ctx, keyspace.SuspiciousRequests, 0, suspiciousSample-1)
	if err != nil {
		return Metrics{}, fmt.Errorf("suspicious ring: %w", err)
	}
	for _, raw := range entries {
		var sr SuspiciousRequest
		if err := json.Unmarshal([]byte(raw), &sr); err != nil {
			m.log.WithError(err).Debug("skipping malformed suspicious entry")
			continue
		}
		out.SuspiciousRequests = append(out.SuspiciousRequests, sr)
		out.ThreatScoreDistribution[scoreBucket(sr.Score)]++
		for _, reason := range sr.Reasons {
			out.BlockedByReason[reason]++
		}
	}

	if raw, ok, err := m.store.Get(ctx, keyspace.HoneypotTriggers); err == nil && ok {
		out.HoneypotTriggers, _ = strconv.ParseInt(raw, 10, 64)
	}
	if raw, ok, err := m.store.Get(ctx, keyspace.BypassUses(m.now())); err == nil && ok {
		out.BypassUsesToday, _ = strconv.ParseInt(raw, 10, 64)
	}

	return out, nil
}

// scoreBucket groups scores into fixed 20-point bands for the distribution.
func scoreBucket(score int) string {
	switch {
	case score >= 80:
		return "80-100"
	case score >= 60:
		return "60-79"
	case score >= 40:
		return "40-59"
	case score >= 20:
		return "20-39"
	default:
		return "0-19"
	}
}

// Cleanup decays repeat-offender counts by half and trims the capped rings.
// Meant to run daily; without the decay, offender counts only ever grow and
// the repeat-offender signal stops meaning anything.
func (m *Monitor) Cleanup(ctx context.Context) error {
	offenders, err := m.store.HGetAll(ctx, keyspace.BlockedIPsHash)
	if err != nil {
		return fmt.Errorf("offender hash: %w", err)
	}

	var stale []string
	for ip, raw := range offenders {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			stale = append(stale, ip)
			continue
		}
		n /= 2
		if n <= 0 {
			stale = append(stale, ip)
			continue
		}
		if err := m.store.HSet(ctx, keyspace.BlockedIPsHash, ip, strconv.FormatInt(n, 10)); err != nil {
			return fmt.Errorf("decay %s: %w", ip, err)
		}
	}
	if len(stale) > 0 {
		if err := m.store.HDel(ctx, keyspace.BlockedIPsHash, stale...); err != nil {
			return fmt.Errorf("prune offenders: %w", err)
		}
	}

	if err := m.store.Trim(ctx, keyspace.SuspiciousRequests, keyspace.SuspiciousRequestsCap/2); err != nil {
		return fmt.Errorf("trim suspicious ring: %w", err)
	}
	if err := m.store.Trim(ctx, keyspace.HoneypotLog, keyspace.HoneypotLogCap/2); err != nil {
		return fmt.Errorf("trim honeypot log: %w", err)
	}

	m.log.WithField("pruned", len(stale)).Info("security data cleanup complete")
	return nil
}

// Override actions for the manual IP table.
const (
	ActionDeny  = "deny"
	ActionAllow = "allow"
)

// Override is one manual entry, stored as JSON in the override hash.
type Override struct {
	Action    string    `json:"action"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// BlockIP records a manual deny for ip, independent of every heuristic.
func (m *Monitor) BlockIP(ctx context.Context, ip, reason string) error {
	return m.setOverride(ctx, ip, ActionDeny, reason)
}

// AllowIP records a manual allow for ip, exempting it from admission checks.
func (m *Monitor) AllowIP(ctx context.Context, ip, reason string) error {
	return m.setOverride(ctx, ip, ActionAllow, reason)
}

func (m *Monitor) setOverride(ctx context.Context, ip, action, reason string) error {
	entry, err := json.Marshal(Override{Action: action, Reason: reason, CreatedAt: m.now().UTC()})
	if err != nil {
		return err
	}
	if err := m.store.HSet(ctx, keyspace.ManualOverridesHash, ip, string(entry)); err != nil {
		return fmt.Errorf("set override %s: %w", ip, err)
	}
	m.log.WithFields(logrus.Fields{"ip": ip, "action": action}).Info("manual override set")
	return nil
}

// UnblockIP removes any manual override for ip.
func (m *Monitor) UnblockIP(ctx context.Context, ip string) error {
	if err := m.store.HDel(ctx, keyspace.ManualOverridesHash, ip); err != nil {
		return fmt.Errorf("clear override %s: %w", ip, err)
	}
	m.log.WithField("ip", ip).Info("manual override cleared")
	return nil
}

// IsBlocked reports whether ip carries a manual deny.
func (m *Monitor) IsBlocked(ctx context.Context, ip string) (bool, error) {
	all, err := m.store.HGetAll(ctx, keyspace.ManualOverridesHash)
	if err != nil {
		return false, fmt.Errorf("override hash: %w", err)
	}
	raw, ok := all[ip]
	if !ok {
		return false, nil
	}
	var o Override
	if err := json.Unmarshal([]byte(raw), &o); err != nil {
		return false, nil
	}
	return o.Action == ActionDeny, nil
}

// Overrides returns the full manual table, keyed by IP.
func (m *Monitor) Overrides(ctx context.Context) (map[string]Override, error) {
	all, err := m.store.HGetAll(ctx, keyspace.ManualOverridesHash)
	if err != nil {
		return nil, fmt.Errorf("override hash: %w", err)
	}
	out := make(map[string]Override, len(all))
	for ip, raw := range all {
		var o Override
		if err := json.Unmarshal([]byte(raw), &o); err != nil {
			continue
		}
		out[ip] = o
	}
	return out, nil
}
