// internal/auth/context.go
//
// Authenticated principal carried in the request context.
//
// Usage
// -----
//
//	// After the session cookie is opened.
//	ctx = auth.WithPrincipal(ctx, p)
//
//	// Downstream code retrieves it.
//	p := auth.FromContext(ctx)   // nil when anonymous
//	id, ok := auth.UserID(ctx)   // 0, false when anonymous
//
// Notes
// -----
//   - Superusers live in the control database and carry TenantID 0.
//   - ShopSchema is the shop a regular user is assigned to.  Request scoping
//     prefers it over every other shop rule.
package auth

import "context"

// Roles a shop user can hold.
const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleStaff   = "staff"
)

// Principal is the signed-in user of one request.
type Principal struct {
	UserID      int64  `json:"uid"`
	TenantID    int64  `json:"tid,omitempty"`
	ShopID      int64  `json:"sid,omitempty"`
	ShopSchema  string `json:"ss,omitempty"`
	Username    string `json:"u"`
	Role        string `json:"r,omitempty"`
	IsStaff     bool   `json:"st,omitempty"`
	IsSuperuser bool   `json:"su,omitempty"`
}

// Authenticated reports whether p names a real user.
func (p *Principal) Authenticated() bool { return p != nil && p.UserID > 0 }

// HasRole reports whether p holds role.  Superusers hold every role.
func (p *Principal) HasRole(role string) bool {
	if !p.Authenticated() {
		return false
	}
	return p.IsSuperuser || p.Role == role
}

// principalKey is unexported to avoid context-key collisions.
type principalKey struct{}

// WithPrincipal returns a new context carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal stored in ctx, or nil.
func FromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey{}).(*Principal)
	return p
}

// UserID extracts the signed-in user's id.  It returns (0, false) when the
// request is anonymous.
func UserID(ctx context.Context) (int64, bool) {
	p := FromContext(ctx)
	if !p.Authenticated() {
		return 0, false
	}
	return p.UserID, true
}
