// Package middleware adapts the admission guard to net/http. It translates
// verdicts into the wire contract: 429 with rate-limit headers, 403 with a
// coded JSON body, 202 decoys for honeypot paths, and threat/budget
// annotation headers on admitted requests.
package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/tripwave/costguard/guard"
	"github.com/tripwave/costguard/honeypot"
)

// Denial codes carried in 403 bodies.
const (
	CodeBotDetected         = "BOT_DETECTED"
	CodeSecurityCheckFailed = "SECURITY_CHECK_FAILED"
)

type denialBody struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	ResetAt string `json:"resetAt,omitempty"`
}

// Protect wraps a billable endpoint with the full admission pipeline under
// the given policy. Decoy paths never reach the guard: they get the
// misleading queued response and a 24h block.
func Protect(g *guard.Guard, cfg guard.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if honeypot.IsDecoyPath(r.URL.Path) {
				g.TriggerHoneypot(r.Context(), r, honeypot.ReasonDecoyPath)
				honeypot.WriteDecoyResponse(w)
				return
			}

			res := g.Check(r.Context(), r, cfg)
			if !res.Allowed {
				writeDenial(w, res)
				return
			}

			if res.ThreatScore != guard.Unknown {
				w.Header().Set("X-Threat-Score", strconv.Itoa(res.ThreatScore))
			}
			if res.DailyRemaining != guard.Unknown {
				w.Header().Set("X-Daily-Remaining", strconv.Itoa(res.DailyRemaining))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeDenial(w http.ResponseWriter, res guard.Result) {
	switch res.Reason {
	case guard.ReasonRateLimit:
		if rl := res.RateLimit; rl != nil {
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(rl.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(rl.ResetTime.Unix(), 10))
		}
		w.Header().Set("Retry-After", strconv.Itoa(res.RetryAfterSeconds))
		writeJSON(w, http.StatusTooManyRequests, denialBody{
			Error:   guard.ReasonRateLimit,
			Message: "Too many requests. Please slow down and try again.",
		})

	case guard.ReasonDailyBudget:
		writeJSON(w, http.StatusTooManyRequests, denialBody{
			Error:   guard.ReasonDailyBudget,
			Message: "Daily request limit reached for this endpoint.",
			ResetAt: res.ResetAt.UTC().Format(time.RFC3339),
		})

	case guard.ReasonBotDetected:
		writeJSON(w, http.StatusForbidden, denialBody{
			Error:   guard.ReasonBotDetected,
			Code:    CodeBotDetected,
			Message: "Automated traffic is not permitted on this endpoint.",
		})

	default:
		// Threat score, honeypot block, manual block: same opaque refusal.
		writeJSON(w, http.StatusForbidden, denialBody{
			Error:   res.Reason,
			Code:    CodeSecurityCheckFailed,
			Message: "Request failed security checks.",
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, body denialBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
