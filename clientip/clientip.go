// Package clientip resolves the canonical client IP from trusted proxy
// headers. The platform always sits behind an edge CDN, so RemoteAddr is the
// edge's address, not the client's.
package clientip

import (
	"net/http"
	"strings"
)

// Loopback is returned when no forwarding header carries a usable address.
const Loopback = "127.0.0.1"

// headerOrder is the strict priority list: CDN edge first, then the hosting
// platform's forwarder, then the generic headers any proxy may set.
var headerOrder = []string{
	"CF-Connecting-IP",
	"X-Vercel-Forwarded-For",
	"X-Forwarded-For",
	"X-Real-IP",
}

// Resolve extracts the client IP from request headers. It never fails; the
// loopback sentinel is returned when nothing usable is present.
func Resolve(h http.Header) string {
	for _, name := range headerOrder {
		v := h.Get(name)
		if v == "" {
			continue
		}
		// X-Forwarded-For may carry a chain; the first entry is the client.
		if i := strings.IndexByte(v, ','); i >= 0 {
			v = v[:i]
		}
		v = strings.TrimSpace(v)
		if v != "" {
			return v
		}
	}
	return Loopback
}

// FromRequest is a convenience wrapper over Resolve.
func FromRequest(r *http.Request) string {
	return Resolve(r.Header)
}
