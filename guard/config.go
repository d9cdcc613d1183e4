package guard

import (
	"time"

	"github.com/tripwave/costguard/ratelimit"
)

// Config is the per-endpoint-category admission policy, supplied by the
// protected handler at call time.
type Config struct {
	// Endpoint names the billable operation; it namespaces the daily
	// budget ledger.
	Endpoint string

	// DailyBudget caps admitted-for-check requests per IP per endpoint per
	// day.
	DailyBudget int

	// ThreatThreshold blocks requests scoring at or above it.
	ThreatThreshold int

	// SkipAuthenticated lets trusted-session traffic through without bot
	// checks.
	SkipAuthenticated bool

	// Sensitive enables the fast user-agent bot check before any Store
	// I/O. Only payment/booking-class endpoints set this: applying naive
	// UA blocking to search traffic produced unacceptable false-positive
	// rates in production.
	Sensitive bool

	// RateLimit is the endpoint-class window policy.
	RateLimit ratelimit.Config
}

// Defaults for zero-valued Config fields.
const (
	DefaultDailyBudget     = 50
	DefaultThreatThreshold = 60
)

const budgetWindow = 24 * time.Hour

// Normalize fills zero values with defaults.
func (c Config) Normalize() Config {
	if c.Endpoint == "" {
		c.Endpoint = "api"
	}
	if c.DailyBudget == 0 {
		c.DailyBudget = DefaultDailyBudget
	}
	if c.ThreatThreshold == 0 {
		c.ThreatThreshold = DefaultThreatThreshold
	}
	if c.RateLimit.MaxRequests == 0 {
		c.RateLimit.MaxRequests = 100
	}
	if c.RateLimit.Window == 0 {
		c.RateLimit.Window = time.Minute
	}
	if c.RateLimit.KeyPrefix == "" {
		c.RateLimit.KeyPrefix = c.Endpoint
	}
	return c
}

// Endpoint-class presets mirroring the upstream API cost profile: flight
// searches are the most expensive call, generic API traffic the cheapest.

// FlightSearch guards the flight offers search endpoint.
func FlightSearch() Config {
	return Config{
		Endpoint:          "flight_search",
		DailyBudget:       50,
		ThreatThreshold:   60,
		SkipAuthenticated: true,
		RateLimit: ratelimit.Config{
			MaxRequests: 60,
			Window:      time.Minute,
			KeyPrefix:   "flight_search",
			CostWeight:  2.0,
		},
	}
}

// HotelSearch guards the hotel availability endpoint.
func HotelSearch() Config {
	return Config{
		Endpoint:          "hotel_search",
		DailyBudget:       80,
		ThreatThreshold:   60,
		SkipAuthenticated: true,
		RateLimit: ratelimit.Config{
			MaxRequests: 60,
			Window:      time.Minute,
			KeyPrefix:   "hotel_search",
			CostWeight:  1.5,
		},
	}
}

// CarRental guards the car rental search endpoint.
func CarRental() Config {
	return Config{
		Endpoint:          "car_rental",
		DailyBudget:       80,
		ThreatThreshold:   60,
		SkipAuthenticated: true,
		RateLimit: ratelimit.Config{
			MaxRequests: 30,
			Window:      time.Minute,
			KeyPrefix:   "car_rental",
			CostWeight:  1.0,
		},
	}
}

// Booking guards the booking and pre-booking endpoints. Sensitive: these get
// the fast bot-pattern check in addition to everything else.
func Booking() Config {
	return Config{
		Endpoint:        "booking",
		DailyBudget:     20,
		ThreatThreshold: 50,
		Sensitive:       true,
		RateLimit: ratelimit.Config{
			MaxRequests: 20,
			Window:      time.Minute,
			KeyPrefix:   "booking",
			CostWeight:  3.0,
			SkipTrusted: true,
		},
	}
}

// GenericAPI guards everything else that still costs money upstream.
func GenericAPI() Config {
	return Config{
		Endpoint:        "api",
		DailyBudget:     200,
		ThreatThreshold: 70,
		RateLimit: ratelimit.Config{
			MaxRequests: 100,
			Window:      time.Minute,
			KeyPrefix:   "api",
			CostWeight:  1.0,
		},
	}
}
