// Package keyspace defines the Store key schema shared by all admission
// components. Every key is namespaced by one of these prefixes so independent
// components cannot collide.
package keyspace

import (
	"fmt"
	"time"
)

// Hash and list keys without a per-subject suffix. The blocked-IPs hash has
// no expiry; the cleanup job decays it instead.
const (
	BlockedIPsHash      = "blocked_ips"
	ManualOverridesHash = "manual_ip_overrides"
	SuspiciousRequests  = "suspicious_requests"
	HoneypotLog         = "honeypot_log"
	HoneypotTriggers    = "honeypot_triggers"
)

// Capped list sizes.
const (
	SuspiciousRequestsCap = 1000
	HoneypotLogCap        = 500
)

// RateLimit builds the fixed-window counter key for one (client, endpoint)
// bucket.
func RateLimit(prefix, ip, path string, windowIndex int64) string {
	return fmt.Sprintf("rl:%s:%s:%s:%d", prefix, ip, path, windowIndex)
}

// Fingerprint keys the last-seen fingerprint hash for an IP.
func Fingerprint(ip string) string { return "fp:" + ip }

// FingerprintChanges keys the rolling fingerprint-change counter for an IP.
func FingerprintChanges(ip string) string { return "fp_changes:" + ip }

// Blocked keys the 24h block record written by honeypot triggers.
func Blocked(ip string) string { return "blocked:" + ip }

// Velocity keys the last-request timestamp used for inter-request gap
// measurement.
func Velocity(ip string) string { return "velocity:" + ip }

// CostBudget keys the per-IP per-endpoint daily spend ledger.
func CostBudget(ip, endpoint string, day time.Time) string {
	return fmt.Sprintf("cost_budget:%s:%s:%s", ip, endpoint, day.UTC().Format("2006-01-02"))
}

// AlertThrottle keys the cool-down marker suppressing duplicate alerts.
func AlertThrottle(alertType, ip string) string {
	return fmt.Sprintf("security_alert_throttle:%s:%s", alertType, ip)
}

// BypassUses keys the daily counter of test-mode bypass grants, surfaced by
// the security monitor.
func BypassUses(day time.Time) string {
	return "bypass_uses:" + day.UTC().Format("2006-01-02")
}
