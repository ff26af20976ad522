package api

import (
	"net/http"
	"strings"
)

const hstsValue = "max-age=63072000; includeSubDomains"

// SecurityHeaders sets response headers that keep session data out of
// caches and frames. HSTS is only sent on requests that arrived over TLS,
// directly or through a proxy that says so.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Cache-Control", "no-store")
		h.Set("Pragma", "no-cache")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		if viaTLS(r) {
			h.Set("Strict-Transport-Security", hstsValue)
		}
		next.ServeHTTP(w, r)
	})
}

func viaTLS(r *http.Request) bool {
	switch {
	case r.TLS != nil:
		return true
	case strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https"):
		return true
	default:
		return strings.Contains(strings.ToLower(r.Header.Get("Forwarded")), "proto=https")
	}
}
