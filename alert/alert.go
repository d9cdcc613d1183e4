// Package alert notifies operators when admission blocks cross configured
// thresholds. Delivery is best-effort at-most-once: alerts are handed to a
// bounded background worker and dropped when the queue is full, but queued
// alerts are always drained before Close returns. Alerting must never break
// or delay the request path.
package alert

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tripwave/costguard/keyspace"
	"github.com/tripwave/costguard/store"
)

// Type identifies the alert category.
type Type string

const (
	TypeBotDetected Type = "bot_detected"
	TypeRateLimit   Type = "rate_limit_exceeded"
	TypeThreatScore Type = "threat_score_exceeded"
	TypeDailyBudget Type = "daily_budget_exceeded"
	TypeHoneypot    Type = "honeypot_triggered"
	TypeFingerprint Type = "fingerprint_instability"
)

// Data is a single alert event. Transient; nothing outlives the throttle
// marker.
type Data struct {
	Type         Type
	IP           string
	Endpoint     string
	UserAgent    string
	ThreatScore  int
	Reasons      []string
	RequestCount int64
	Threshold    int
	Timestamp    time.Time
}

// Notifier delivers one transactional email.
type Notifier interface {
	Send(ctx context.Context, to, from, subject, html string) error
}

// Config controls gating and delivery.
type Config struct {
	// Environment gates delivery: alerts only leave the process in
	// production.
	Environment string

	Recipient string
	Sender    string

	// ThrottleWindow suppresses duplicate (type, ip) alerts.
	ThrottleWindow time.Duration

	// Minimum cumulative blocks before noisy alert types fire.
	MinBotBlocks       int64
	MinRateLimitBlocks int64

	// MinThreatScore is the floor for threat-score alerts even when the
	// orchestrator blocked at a lower threshold.
	MinThreatScore int

	// QueueSize bounds the background worker queue.
	QueueSize int
}

// Defaults for zero-valued Config fields.
const (
	DefaultThrottleWindow     = 5 * time.Minute
	DefaultMinBotBlocks       = 5
	DefaultMinRateLimitBlocks = 10
	DefaultMinThreatScore     = 60
	DefaultQueueSize          = 64
)

// Normalize fills zero values with defaults.
func (c Config) Normalize() Config {
	if c.ThrottleWindow == 0 {
		c.ThrottleWindow = DefaultThrottleWindow
	}
	if c.MinBotBlocks == 0 {
		c.MinBotBlocks = DefaultMinBotBlocks
	}
	if c.MinRateLimitBlocks == 0 {
		c.MinRateLimitBlocks = DefaultMinRateLimitBlocks
	}
	if c.MinThreatScore == 0 {
		c.MinThreatScore = DefaultMinThreatScore
	}
	if c.QueueSize == 0 {
		c.QueueSize = DefaultQueueSize
	}
	return c
}

// Dispatcher applies the gates and hands accepted alerts to the worker.
type Dispatcher struct {
	store    store.Store
	notifier Notifier
	cfg      Config
	log      logrus.FieldLogger

	queue     chan Data
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewDispatcher creates a dispatcher and starts its delivery worker.
func NewDispatcher(s store.Store, n Notifier, cfg Config, log logrus.FieldLogger) *Dispatcher {
	d := &Dispatcher{
		store:    s,
		notifier: n,
		cfg:      cfg.Normalize(),
		log:      log,
		queue:    make(chan Data, cfg.Normalize().QueueSize),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Send enqueues an alert. Returns false when the environment gate rejects it
// or the queue is full (the event is dropped, by policy). Store-backed gates
// run in the worker so the caller never waits on I/O.
func (d *Dispatcher) Send(data Data) bool {
	if d.cfg.Environment != "production" {
		return false
	}
	if data.Timestamp.IsZero() {
		data.Timestamp = time.Now().UTC()
	}
	select {
	case d.queue <- data:
		return true
	default:
		d.log.WithField("type", data.Type).Warn("alert queue full, dropping alert")
		return false
	}
}

// Close drains the queue and stops the worker. Queued alerts are delivered
// before the process exits.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() { close(d.queue) })
	d.wg.Wait()
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for data := range d.queue {
		d.deliver(data)
	}
}

func (d *Dispatcher) deliver(data Data) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Type gate first: an alert below its noise floor must not claim the
	// throttle marker and silence a later, qualifying one.
	if !d.passesTypeGate(ctx, data) {
		return
	}
	if !d.passesThrottle(ctx, data) {
		return
	}

	subject, html := render(data)
	if err := d.notifier.Send(ctx, d.cfg.Recipient, d.cfg.Sender, subject, html); err != nil {
		// Never retried synchronously, never surfaced to the request path.
		d.log.WithError(err).WithFields(logrus.Fields{
			"type": data.Type,
			"ip":   data.IP,
		}).Error("alert delivery failed")
		return
	}
	d.log.WithFields(logrus.Fields{"type": data.Type, "ip": data.IP}).Info("alert sent")
}

// passesThrottle claims the (type, ip) cool-down marker. A Store failure
// suppresses the alert: better a missed email than a flood during an outage.
func (d *Dispatcher) passesThrottle(ctx context.Context, data Data) bool {
	key := keyspace.AlertThrottle(string(data.Type), data.IP)
	ok, err := d.store.SetNX(ctx, key, "1", d.cfg.ThrottleWindow)
	if err != nil {
		d.log.WithError(err).Debug("alert throttle check failed, suppressing")
		return false
	}
	return ok
}

// passesTypeGate applies the per-type noise floors. Honeypot alerts always
// pass: any honeypot hit is high-confidence.
func (d *Dispatcher) passesTypeGate(ctx context.Context, data Data) bool {
	switch data.Type {
	case TypeHoneypot:
		return true
	case TypeThreatScore:
		return data.ThreatScore >= d.cfg.MinThreatScore
	case TypeBotDetected:
		return d.blockCount(ctx, data.IP) >= d.requiredBlocks(data, d.cfg.MinBotBlocks)
	case TypeRateLimit:
		return d.blockCount(ctx, data.IP) >= d.requiredBlocks(data, d.cfg.MinRateLimitBlocks)
	default:
		return true
	}
}

// requiredBlocks prefers twice the caller's configured threshold when the
// alert carries one; otherwise the per-type default applies.
func (d *Dispatcher) requiredBlocks(data Data, fallback int64) int64 {
	if data.Threshold > 0 {
		return int64(2 * data.Threshold)
	}
	return fallback
}

func (d *Dispatcher) blockCount(ctx context.Context, ip string) int64 {
	all, err := d.store.HGetAll(ctx, keyspace.BlockedIPsHash)
	if err != nil {
		d.log.WithError(err).Debug("block count lookup failed")
		return 0
	}
	n, _ := strconv.ParseInt(all[ip], 10, 64)
	return n
}
