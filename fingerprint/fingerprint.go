// Package fingerprint derives a stable client fingerprint from request
// headers and tracks per-IP fingerprint churn. One IP cycling through many
// fingerprints in a short window is the signature of an automation farm.
package fingerprint

import (
	"fmt"
	"hash/fnv"
	"net/http"
	"strings"
)

// Fingerprint is a non-cryptographic hash over header combinations plus a
// browser-confidence score.
type Fingerprint struct {
	Hash       string
	Components Components
	Confidence int // 0..100, higher means more browser-like
}

// Components are the raw header values the hash is derived from, each
// truncated so minor value drift does not churn the hash.
type Components struct {
	UserAgent          string
	AcceptLanguage     string
	AcceptEncoding     string
	Connection         string
	ClientHintPlatform string
	ClientHintUA       string
}

// component length bounds
const (
	maxUALen       = 200
	maxLangLen     = 64
	maxEncodingLen = 64
	maxConnLen     = 32
	maxHintLen     = 64
)

// Confidence weights. Each signal is something scripted clients routinely
// get wrong or omit.
const (
	weightLongUA        = 15
	weightHasLanguage   = 15
	weightGzip          = 10
	weightBrotli        = 10
	weightHintPlatform  = 20
	weightBrowserMarker = 10
	weightMultiLanguage = 10
	weightFetchMetadata = 10
)

func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}

// Compute builds the fingerprint for a request. Deterministic and cheap; no
// I/O.
func Compute(h http.Header) Fingerprint {
	c := Components{
		UserAgent:          truncate(h.Get("User-Agent"), maxUALen),
		AcceptLanguage:     truncate(h.Get("Accept-Language"), maxLangLen),
		AcceptEncoding:     truncate(h.Get("Accept-Encoding"), maxEncodingLen),
		Connection:         truncate(h.Get("Connection"), maxConnLen),
		ClientHintPlatform: truncate(h.Get("Sec-CH-UA-Platform"), maxHintLen),
		ClientHintUA:       truncate(h.Get("Sec-CH-UA"), maxHintLen),
	}

	hasher := fnv.New64a()
	for _, part := range []string{
		c.UserAgent, c.AcceptLanguage, c.AcceptEncoding,
		c.Connection, c.ClientHintPlatform, c.ClientHintUA,
	} {
		hasher.Write([]byte(part))
		hasher.Write([]byte{'|'})
	}

	return Fingerprint{
		Hash:       fmt.Sprintf("%016x", hasher.Sum64()),
		Components: c,
		Confidence: confidence(c, h),
	}
}

func confidence(c Components, h http.Header) int {
	score := 0
	if len(c.UserAgent) > 50 {
		score += weightLongUA
	}
	if c.AcceptLanguage != "" {
		score += weightHasLanguage
	}
	enc := strings.ToLower(c.AcceptEncoding)
	if strings.Contains(enc, "gzip") {
		score += weightGzip
	}
	if strings.Contains(enc, "br") {
		score += weightBrotli
	}
	if c.ClientHintPlatform != "" {
		score += weightHintPlatform
	}
	if strings.Contains(c.UserAgent, "Mozilla") {
		score += weightBrowserMarker
	}
	if strings.Contains(c.AcceptLanguage, ",") {
		score += weightMultiLanguage
	}
	if h.Get("Sec-Fetch-Mode") != "" || h.Get("Sec-Fetch-Site") != "" {
		score += weightFetchMetadata
	}
	if score > 100 {
		score = 100
	}
	return score
}
