// Package honeypot plants decoy paths and form fields no legitimate client
// ever touches. Any interaction is proof of automated scanning: the IP gets a
// 24h block record, and the response is a plausible-looking success so the
// scanner wastes time instead of learning it was detected.
package honeypot

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tripwave/costguard/keyspace"
	"github.com/tripwave/costguard/store"
)

// decoyPaths are fake internal/admin/debug endpoints. Substring match: a
// scanner probing /old/wp-admin/setup.php still counts.
var decoyPaths = []string{
	"/wp-admin",
	"/wp-login.php",
	"/phpmyadmin",
	"/.env",
	"/.git/config",
	"/admin/config",
	"/api/internal/debug",
	"/api/v1/admin/export",
	"/backup.sql",
	"/config/database.yml",
	"/console/login",
	"/cgi-bin/",
}

// decoyFields are form fields rendered invisibly on booking and lead forms.
// Real users never populate them; autofill bots do.
var decoyFields = []string{
	"website",
	"company_url",
	"fax_number",
	"confirm_email_address",
	"middle_initial_2",
}

// ReasonDecoyPath tags a block caused by touching a decoy endpoint.
const (
	ReasonDecoyPath  = "honeypot_path_access"
	ReasonDecoyField = "honeypot_field_filled"
)

const blockTTL = 24 * time.Hour

// BlockRecord is what gets stored under the per-IP block key.
type BlockRecord struct {
	Reason    string    `json:"reason"`
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
	UserAgent string    `json:"userAgent"`
}

// Trap owns the decoy tables and the per-IP block records.
type Trap struct {
	store store.Store
	log   logrus.FieldLogger
}

// NewTrap creates a honeypot trap.
func NewTrap(s store.Store, log logrus.FieldLogger) *Trap {
	return &Trap{store: s, log: log}
}

// IsDecoyPath reports whether path touches any decoy endpoint.
func IsDecoyPath(path string) bool {
	lower := strings.ToLower(path)
	for _, decoy := range decoyPaths {
		if strings.Contains(lower, decoy) {
			return true
		}
	}
	return false
}

// CheckFormFields reports whether any decoy form field carries a non-empty
// value. Works on parsed form values so it composes with whatever body
// decoding the handler already does.
func CheckFormFields(form url.Values) bool {
	for _, field := range decoyFields {
		if strings.TrimSpace(form.Get(field)) != "" {
			return true
		}
	}
	return false
}

// Trigger writes the 24h block record for the requester, bumps the trigger
// counter, and appends to the bounded honeypot log. Store failures are
// logged; the decoy response is served either way.
func (t *Trap) Trigger(ctx context.Context, r *http.Request, ip, reason string) {
	record := BlockRecord{
		Reason:    reason,
		Path:      r.URL.Path,
		Timestamp: time.Now().UTC(),
		UserAgent: r.Header.Get("User-Agent"),
	}

	t.log.WithFields(logrus.Fields{
		"ip":     ip,
		"path":   record.Path,
		"reason": reason,
	}).Warn("honeypot triggered")

	data, err := json.Marshal(record)
	if err != nil {
		return
	}
	if err := t.store.Set(ctx, keyspace.Blocked(ip), string(data), blockTTL); err != nil {
		t.log.WithError(err).WithField("ip", ip).Warn("honeypot block record failed")
	}
	if _, err := t.store.Incr(ctx, keyspace.HoneypotTriggers); err != nil {
		t.log.WithError(err).Debug("honeypot trigger counter failed")
	}
	if err := t.store.PushCapped(ctx, keyspace.HoneypotLog, string(data), keyspace.HoneypotLogCap); err != nil {
		t.log.WithError(err).Debug("honeypot log append failed")
	}
}

// IsBlocked reports whether a block record exists for ip. Its mere presence
// denies every request from that IP regardless of other scores, until the
// record expires. Store failure fails open.
func (t *Trap) IsBlocked(ctx context.Context, ip string) bool {
	blocked, err := t.store.Exists(ctx, keyspace.Blocked(ip))
	if err != nil {
		t.log.WithError(err).WithField("ip", ip).Warn("block lookup failed, allowing request")
		return false
	}
	return blocked
}

// WriteDecoyResponse serves the misleading 202 "queued" reply: a Retry-After
// and a fabricated queue position instead of anything that reads as a block.
func WriteDecoyResponse(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", "120")
	w.Header().Set("X-Queue-Position", fmt.Sprintf("%d", 40+rand.Intn(200)))
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "queued",
		"message": "Your request has been queued for processing.",
	})
}
