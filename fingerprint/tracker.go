package fingerprint

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tripwave/costguard/keyspace"
	"github.com/tripwave/costguard/store"
)

const (
	fingerprintTTL = 24 * time.Hour
	changeWindow   = time.Hour

	// Five hash changes within the window means a sixth distinct
	// fingerprint from one IP, which is treated as an automation farm.
	maxHashChanges = 5
)

// ReasonInstability tags the anomaly reported when one IP cycles through too
// many fingerprints.
const ReasonInstability = "fingerprint_instability"

// TrackResult reports whether the fingerprint history for an IP looks
// anomalous.
type TrackResult struct {
	IsAnomaly bool
	Reason    string
}

// Tracker persists the last-seen fingerprint hash per IP and counts hash
// changes inside a rolling window.
type Tracker struct {
	store store.Store
	log   logrus.FieldLogger
}

// NewTracker creates a fingerprint tracker.
func NewTracker(s store.Store, log logrus.FieldLogger) *Tracker {
	return &Tracker{store: s, log: log}
}

// Track records the fingerprint for ip and reports instability. Store errors
// fail open: no anomaly is ever reported when history cannot be read.
func (t *Tracker) Track(ctx context.Context, ip string, fp Fingerprint) TrackResult {
	key := keyspace.Fingerprint(ip)

	prev, found, err := t.store.Get(ctx, key)
	if err != nil {
		t.log.WithError(err).WithField("ip", ip).Warn("fingerprint lookup failed, skipping anomaly check")
		return TrackResult{}
	}

	if !found {
		if err := t.store.Set(ctx, key, fp.Hash, fingerprintTTL); err != nil {
			t.log.WithError(err).WithField("ip", ip).Warn("fingerprint store failed")
		}
		return TrackResult{}
	}

	if prev == fp.Hash {
		return TrackResult{}
	}

	// Hash changed: remember the new one and bump the change counter.
	if err := t.store.Set(ctx, key, fp.Hash, fingerprintTTL); err != nil {
		t.log.WithError(err).WithField("ip", ip).Warn("fingerprint store failed")
	}

	changes, _, err := t.store.IncrWindow(ctx, keyspace.FingerprintChanges(ip), changeWindow)
	if err != nil {
		t.log.WithError(err).WithField("ip", ip).Warn("fingerprint change counter failed")
		return TrackResult{}
	}

	if changes >= maxHashChanges {
		t.log.WithFields(logrus.Fields{
			"ip":      ip,
			"changes": changes,
		}).Info("fingerprint instability detected")
		return TrackResult{IsAnomaly: true, Reason: ReasonInstability}
	}
	return TrackResult{}
}
