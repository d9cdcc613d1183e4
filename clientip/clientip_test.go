package clientip

import (
	"net/http"
	"testing"
)

func TestResolve_PriorityOrder(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{
			name:    "cdn header wins over everything",
			headers: map[string]string{"CF-Connecting-IP": "203.0.113.1", "X-Forwarded-For": "198.51.100.2", "X-Real-IP": "192.0.2.3"},
			want:    "203.0.113.1",
		},
		{
			name:    "platform forwarder beats generic headers",
			headers: map[string]string{"X-Vercel-Forwarded-For": "203.0.113.9", "X-Forwarded-For": "198.51.100.2"},
			want:    "203.0.113.9",
		},
		{
			name:    "forwarded-for takes first of chain",
			headers: map[string]string{"X-Forwarded-For": "203.0.113.5, 10.0.0.1, 10.0.0.2"},
			want:    "203.0.113.5",
		},
		{
			name:    "real-ip as last resort",
			headers: map[string]string{"X-Real-IP": "192.0.2.3"},
			want:    "192.0.2.3",
		},
		{
			name:    "no headers falls back to loopback",
			headers: nil,
			want:    Loopback,
		},
		{
			name:    "empty forwarded-for entry skipped",
			headers: map[string]string{"X-Forwarded-For": " , 10.0.0.1", "X-Real-IP": "192.0.2.3"},
			want:    "192.0.2.3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			for k, v := range tt.headers {
				h.Set(k, v)
			}
			if got := Resolve(h); got != tt.want {
				t.Errorf("Resolve() = %q, want %q", got, tt.want)
			}
		})
	}
}
