// internal/middleware/security.go
//
// Security-header middleware.
//
// Injects standard headers on every response:
//
//   • Strict-Transport-Security  –  forces HTTPS (2 years)
//   • Content-Security-Policy    –  the API serves JSON only, so nothing loads
//   • X-Frame-Options            –  click-jacking defence
//   • X-Content-Type-Options     –  MIME-sniffing defence
//   • Referrer-Policy            –  drops path/query from Referer
//
// Notes
// -----
// • Headers are set *before* next.ServeHTTP, because nothing written after
//   WriteHeader reaches the client.  Handlers may still override a value.
// • HSTS is skipped on development hosts so a browser never pins
//   `*.localhost` to HTTPS.

package middleware

import (
	"net/http"

	"github.com/BootCodex/BlueOlive/internal/host"
)

var securityHeaders = map[string]string{
	"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
	"X-Frame-Options":         "DENY",
	"X-Content-Type-Options":  "nosniff",
	"Referrer-Policy":         "strict-origin-when-cross-origin",
}

const hsts = "max-age=63072000; includeSubDomains"

// Security sets security headers on every response.
func Security(devMarker string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hdr := w.Header()
			for k, v := range securityHeaders {
				hdr.Set(k, v)
			}
			if !host.IsDev(r.Host, devMarker) {
				hdr.Set("Strict-Transport-Security", hsts)
			}
			next.ServeHTTP(w, r)
		})
	}
}
