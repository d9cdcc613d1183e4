package ratelimit

import (
	"crypto/subtle"
	"net/http"
)

// Bypass headers for automated end-to-end test traffic. Never meant for
// production clients; the bypass is disabled entirely when no secret is
// configured.
const (
	HeaderTestMode   = "x-test-mode"
	HeaderTestSecret = "x-test-secret"
)

// recognized test modes
var testModes = map[string]bool{
	"e2e":         true,
	"integration": true,
	"load":        true,
}

// TestBypass short-circuits every admission check for recognized test
// traffic carrying the shared secret.
type TestBypass struct {
	secret string
}

// NewTestBypass creates a bypass gate. An empty secret disables it.
func NewTestBypass(secret string) *TestBypass {
	return &TestBypass{secret: secret}
}

// Granted reports whether the request carries a recognized test mode and the
// matching secret. The comparison is constant-time; this header is a standing
// backdoor around every protection layer, so it gets the same care as a
// credential. Malformed values mean "bypass not granted", never an error.
func (b *TestBypass) Granted(r *http.Request) bool {
	if b == nil || b.secret == "" {
		return false
	}
	if !testModes[r.Header.Get(HeaderTestMode)] {
		return false
	}
	got := r.Header.Get(HeaderTestSecret)
	return subtle.ConstantTimeCompare([]byte(got), []byte(b.secret)) == 1
}
