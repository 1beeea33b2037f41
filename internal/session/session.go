// internal/session/session.go
//
// Sealed session cookie.
//
// Context
//   A successful login stores the principal in a cookie named
//   “blueolive_session”.  The payload is JSON sealed with the same NaCl
//   secretbox used for tenant credentials, so the browser can neither read
//   nor forge it.  There is no server-side session table; logout simply
//   expires the cookie.
//
//   Middleware opens the cookie on every request and attaches the principal
//   to the context before request scoping runs, because the principal's
//   shop assignment decides the search_path.
//
//   TLS usually ends at the proxy, so the Secure attribute follows the
//   http.force_https setting rather than r.TLS alone.
//
// Style
//   Two-space sentence spacing, Oxford comma, terse inline notes.
//
//------------------------------------------------------------------------------

package session

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BootCodex/BlueOlive/internal/auth"
	"github.com/BootCodex/BlueOlive/internal/secret"
)

// CookieName is the session cookie.
const CookieName = "blueolive_session"

// DefaultTTL is the session lifetime.
const DefaultTTL = 14 * 24 * time.Hour

type payload struct {
	P   auth.Principal `json:"p"`
	Exp int64          `json:"e"`
}

// Manager seals and opens session cookies.
type Manager struct {
	sealer secret.Sealer
	ttl    time.Duration
	secure bool
	now    func() time.Time
}

// New returns a Manager.  ttl 0 means DefaultTTL.  secure marks every cookie
// Secure; otherwise only cookies set over a direct TLS connection are.
func New(sealer secret.Sealer, ttl time.Duration, secure bool) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{sealer: sealer, ttl: ttl, secure: secure, now: time.Now}
}

// Login sets a session cookie carrying p.
func (m *Manager) Login(w http.ResponseWriter, r *http.Request, p *auth.Principal) error {
	exp := m.now().Add(m.ttl)
	raw, err := json.Marshal(payload{P: *p, Exp: exp.Unix()})
	if err != nil {
		return fmt.Errorf("session: encode: %w", err)
	}
	sealed, err := m.sealer.Seal(r.Context(), string(raw))
	if err != nil {
		return fmt.Errorf("session: seal: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    sealed,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.secure || r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
		Expires:  exp,
	})
	return nil
}

// Logout clears the session cookie.
func (m *Manager) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure || r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}

// Principal returns the principal sealed in r's cookie.
//
// ok == false when the cookie is missing, tampered with, or expired.
func (m *Manager) Principal(r *http.Request) (*auth.Principal, bool) {
	c, err := r.Cookie(CookieName)
	if err != nil || c.Value == "" {
		return nil, false
	}
	raw, err := m.sealer.Open(r.Context(), c.Value)
	if err != nil {
		zap.L().Debug("session cookie rejected", zap.Error(err))
		return nil, false
	}
	var pl payload
	if err := json.Unmarshal([]byte(raw), &pl); err != nil {
		return nil, false
	}
	if m.now().Unix() >= pl.Exp || !pl.P.Authenticated() {
		return nil, false
	}
	return &pl.P, true
}

// Middleware attaches the session principal, when any, to the context.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p, ok := m.Principal(r); ok {
			r = r.WithContext(auth.WithPrincipal(r.Context(), p))
		}
		next.ServeHTTP(w, r)
	})
}
