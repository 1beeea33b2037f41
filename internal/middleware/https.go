// Package middleware holds small, composable HTTP wrappers: request
// scoping, the HTTPS redirect, and security headers.
package middleware

import (
	"net/http"
	"strings"

	"github.com/BootCodex/BlueOlive/internal/host"
)

// ForceHTTPS wraps h.  A plain-HTTP request on a non-development host gets a
// 308 Permanent Redirect to the HTTPS version of the same URL.  Requests
// already on TLS, forwarded as https by a proxy, or on a development host
// pass through unchanged.
func ForceHTTPS(devMarker string, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.TLS != nil ||
			strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") ||
			host.IsDev(r.Host, devMarker) {
			h.ServeHTTP(w, r)
			return
		}

		target := "https://" + host.Normalize(r.Host) + r.URL.RequestURI()
		http.Redirect(w, r, target, http.StatusPermanentRedirect)
	})
}
