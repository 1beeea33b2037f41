// internal/host/host.go
//
// Host name to (tenant, shop) resolution.
//
// Context
// -------
// Every tenant-scoped request arrives on a host such as
// `shop1.acme.example.com` or, in development, `shop1.acme.localhost`.
// `Resolve` splits the host into labels and picks the tenant and shop
// subdomains from fixed positions, depending on whether the host carries
// the development marker:
//
//	development (marker present)      production (no marker)
//	  1 label   → none, none            ≤2 labels → none, none
//	  2 labels  → [0], none              3 labels → [0], none
//	  3+ labels → [-2], [0]             4+ labels → [-3], [0]
//
// Deeper nesting always takes the two reserved positions, so extra labels
// between the shop and the tenant are ignored.
//
// Notes
// -----
//   - Pure functions only.  No logging, no I/O.
//   - The port, IPv6 brackets, and a trailing root dot are stripped before
//     parsing, and the host is lower-cased.
package host

import (
	"net"
	"strings"
)

// DevMarker is the label that flags a local development host.
const DevMarker = "localhost"

// StripPort removes the :port suffix from h when present.  Bracketed IPv6
// literals lose their brackets.
func StripPort(h string) string {
	if h == "" {
		return h
	}
	if hostPart, _, err := net.SplitHostPort(h); err == nil {
		return hostPart
	}
	if strings.HasPrefix(h, "[") && strings.HasSuffix(h, "]") {
		return h[1 : len(h)-1]
	}
	return h
}

// Normalize lower-cases h, strips the port, and trims a trailing dot.
func Normalize(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = StripPort(h)
	return strings.TrimSuffix(h, ".")
}

// Resolve maps a Host header value to its tenant and shop subdomains.  An
// empty string means the position is absent.  devMarker defaults to
// DevMarker when blank.
func Resolve(h, devMarker string) (tenant, shop string) {
	if devMarker == "" {
		devMarker = DevMarker
	}
	h = Normalize(h)
	if h == "" {
		return "", ""
	}

	parts := strings.Split(h, ".")
	n := len(parts)

	if isDev(parts, strings.ToLower(devMarker)) {
		switch {
		case n == 1:
			return "", ""
		case n == 2:
			return parts[0], ""
		default:
			return parts[n-2], parts[0]
		}
	}

	switch {
	case n <= 2:
		return "", ""
	case n == 3:
		return parts[0], ""
	default:
		return parts[n-3], parts[0]
	}
}

// IsDev reports whether h is a development host under devMarker.
func IsDev(h, devMarker string) bool {
	if devMarker == "" {
		devMarker = DevMarker
	}
	return isDev(strings.Split(Normalize(h), "."), strings.ToLower(devMarker))
}

func isDev(parts []string, marker string) bool {
	for _, p := range parts {
		if p == marker {
			return true
		}
	}
	return false
}
