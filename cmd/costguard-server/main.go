// Command costguard-server runs a demo API with every billable endpoint class
// behind the admission layer, plus the operator monitoring routes.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/sirupsen/logrus"

	"github.com/tripwave/costguard/alert"
	"github.com/tripwave/costguard/config"
	"github.com/tripwave/costguard/guard"
	"github.com/tripwave/costguard/middleware"
	"github.com/tripwave/costguard/monitor"
	"github.com/tripwave/costguard/store"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("config load failed")
	}

	backing := buildStore(cfg, log)
	defer backing.Close()

	dispatcher := buildAlerts(backing, cfg, log)
	var alerts guard.AlertSender
	if dispatcher != nil {
		alerts = dispatcher
		defer dispatcher.Close()
	}

	g := guard.New(backing, alerts, guard.Options{TestBypassSecret: cfg.TestBypassSecret}, log)
	mon := monitor.New(backing, log)

	go runCleanup(mon, log)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		status := map[string]string{"status": "ok", "store": "ok"}
		code := http.StatusOK
		if err := backing.Ping(r.Context()); err != nil {
			status["store"] = "unavailable"
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	})

	// Operator routes get a plain per-IP limit; they are cheap but should
	// not be hammerable.
	r.Route("/ops", func(r chi.Router) {
		r.Use(httprate.LimitByIP(30, time.Minute))
		r.Mount("/security", mon.Routes())
	})

	// Demo billable endpoints, each under its own admission policy.
	r.With(middleware.Protect(g, guard.FlightSearch())).Post("/api/flights/search", sampleHandler("flight offers"))
	r.With(middleware.Protect(g, guard.HotelSearch())).Post("/api/hotels/search", sampleHandler("hotel availability"))
	r.With(middleware.Protect(g, guard.CarRental())).Post("/api/cars/search", sampleHandler("car rental offers"))
	r.With(middleware.Protect(g, guard.Booking())).Post("/api/booking/create", sampleHandler("booking"))

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.ListenAddr).Info("costguard server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("shutdown incomplete")
	}
}

// buildStore connects to Redis when configured, otherwise runs on the
// in-process store. Single-process only; fine for local development.
func buildStore(cfg *config.Config, log logrus.FieldLogger) store.Store {
	if cfg.Redis.Addr == "" {
		log.Warn("no redis configured, using in-memory store")
		return store.NewMemoryStore()
	}
	rs := store.NewRedisStore(store.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rs.Ping(ctx); err != nil {
		// Keep the Redis store anyway: every consumer fails open, and the
		// rate limiter falls back to its in-process window map.
		log.WithError(err).Warn("redis unreachable at startup, protection degraded until it recovers")
	} else {
		log.WithField("addr", cfg.Redis.Addr).Info("connected to redis")
	}
	return rs
}

func buildAlerts(s store.Store, cfg *config.Config, log logrus.FieldLogger) *alert.Dispatcher {
	if cfg.Alert.MailgunDomain == "" || cfg.Alert.MailgunAPIKey == "" {
		log.Info("mailgun not configured, alerting disabled")
		return nil
	}
	throttle, err := cfg.AlertThrottle()
	if err != nil {
		throttle = 0 // Normalize supplies the default
	}
	notifier := alert.NewMailgunNotifier(cfg.Alert.MailgunDomain, cfg.Alert.MailgunAPIKey)
	return alert.NewDispatcher(s, notifier, alert.Config{
		Environment:    cfg.Environment,
		Recipient:      cfg.Alert.Recipient,
		Sender:         cfg.Alert.Sender,
		ThrottleWindow: throttle,
	}, log)
}

// runCleanup decays offender counts daily.
func runCleanup(mon *monitor.Monitor, log logrus.FieldLogger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		if err := mon.Cleanup(ctx); err != nil {
			log.WithError(err).Warn("security data cleanup failed")
		}
		cancel()
	}
}

func sampleHandler(what string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// A real deployment calls the billable upstream API here.
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data":    []any{},
			"message": "stub " + what + " response",
		})
	}
}
