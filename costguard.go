// Package costguard gates billable upstream travel-API calls behind a layered
// admission pipeline: client identity resolution, request fingerprinting,
// heuristic threat scoring, distributed rate limiting, honeypot traps, and a
// per-IP daily spend ledger. Every layer fails open when the shared store is
// unreachable; protection degrades, the revenue path never breaks.
//
// Most applications only need the middleware:
//
//	g := guard.New(store.NewRedisStore(store.RedisConfig{Addr: "localhost:6379"}), alerts, guard.Options{}, log)
//	mux.Handle("/api/flights/search", middleware.Protect(g, guard.FlightSearch())(searchHandler))
package costguard

import (
	"github.com/tripwave/costguard/guard"
	"github.com/tripwave/costguard/middleware"
)

// Re-export the types most integrations touch.
type (
	Guard   = guard.Guard
	Config  = guard.Config
	Options = guard.Options
	Result  = guard.Result
)

// NewGuard creates the admission orchestrator.
var NewGuard = guard.New

// Protect wraps a handler with the admission pipeline.
var Protect = middleware.Protect

// Endpoint-class presets.
var (
	FlightSearch = guard.FlightSearch
	HotelSearch  = guard.HotelSearch
	CarRental    = guard.CarRental
	Booking      = guard.Booking
	GenericAPI   = guard.GenericAPI
)
