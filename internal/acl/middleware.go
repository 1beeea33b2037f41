// internal/acl/middleware.go
//
// Chi middleware helpers that guard endpoints by principal.

package acl

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/BootCodex/BlueOlive/internal/auth"
	"github.com/BootCodex/BlueOlive/internal/dbrouter"
	"github.com/BootCodex/BlueOlive/internal/module"
)

// RequireAuth answers 401 to anonymous requests.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !auth.FromContext(r.Context()).Authenticated() {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireStaff admits staff and superusers.
func RequireStaff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := auth.FromContext(r.Context())
		switch {
		case !p.Authenticated():
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		case !p.IsStaff && !p.IsSuperuser:
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		default:
			next.ServeHTTP(w, r)
		}
	})
}

// RequireRole ensures the current user holds ANY of the supplied roles.
// Superusers hold every role.
func RequireRole(names ...string) func(http.Handler) http.Handler {
	if len(names) == 0 {
		panic("acl.RequireRole: at least one role name must be supplied")
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := auth.FromContext(r.Context())
			if !p.Authenticated() {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			for _, n := range names {
				if p.HasRole(n) {
					next.ServeHTTP(w, r)
					return
				}
			}
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		})
	}
}

// QuerierSource picks the querier for a module.  *dbrouter.Router
// implements it.
type QuerierSource interface {
	Querier(ctx context.Context, mod string) (dbrouter.Querier, error)
}

// RequirePermission verifies that one of the user's groups grants codename.
// Groups are read from the database the router picks for the request.
func RequirePermission(router QuerierSource, codename string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := auth.FromContext(r.Context())
			if !p.Authenticated() {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			if p.IsSuperuser {
				next.ServeHTTP(w, r)
				return
			}

			q, err := router.Querier(r.Context(), module.ShopUsers)
			if err != nil {
				zap.L().Error("acl querier", zap.Error(err))
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			groups, err := UserGroups(r.Context(), q, p.UserID)
			if err != nil {
				zap.L().Error("acl user groups", zap.Error(err))
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			allowed, err := GroupsAllowed(r.Context(), q, groups, codename)
			if err != nil {
				zap.L().Error("acl groups allowed", zap.Error(err))
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			if !allowed {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
