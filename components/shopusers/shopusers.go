// components/shopusers/shopusers.go
//
// Shop-users component – login flow and tenant user administration.
//
// Context
// -------
//	POST /api/login/          scoped        password login, sets the session cookie
//	POST /api/logout/         scoped        clears the session cookie
//	GET  /api/current_user/   scoped        the signed-in principal or {"user": null}
//	GET  /api/users/          admin         users of the tenant's current schema
//	POST /api/users/          admin         create a user there
//	POST /api/users/groups/   admin         add a user to an auth group
//
// /api/login/ is a login path: it is tenant-scoped even when a public
// prefix covers it, so a regular user can only sign in through their own
// tenant.  Superusers sign in through any tenant.

package shopusers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/BootCodex/BlueOlive/internal/acl"
	"github.com/BootCodex/BlueOlive/internal/auth"
	"github.com/BootCodex/BlueOlive/internal/component"
	"github.com/BootCodex/BlueOlive/internal/core"
	"github.com/BootCodex/BlueOlive/internal/dbrouter"
	"github.com/BootCodex/BlueOlive/internal/module"
	"github.com/BootCodex/BlueOlive/internal/shopuser"
)

// Compile-time assertions.
var (
	_ component.Component   = (*Component)(nil)
	_ component.Initializer = (*Component)(nil)
)

// Users is the part of *shopuser.Store the handlers use.
type Users interface {
	Authenticate(ctx context.Context, username, password string) (*shopuser.User, error)
	List(ctx context.Context) ([]*shopuser.User, error)
	Create(ctx context.Context, nu shopuser.NewUser) (*shopuser.User, error)
	ByUsername(ctx context.Context, username string) (*shopuser.User, error)
	GroupByName(ctx context.Context, name string) (*shopuser.Group, error)
	AddToGroup(ctx context.Context, u *shopuser.User, g *shopuser.Group) error
}

// Sessions is the part of *session.Manager the handlers use.
type Sessions interface {
	Login(w http.ResponseWriter, r *http.Request, p *auth.Principal) error
	Logout(w http.ResponseWriter, r *http.Request)
}

// Component encapsulates login and user administration.
type Component struct {
	users    Users
	sessions Sessions
}

// New is used by tests and by Init.
func New(users Users, sessions Sessions) *Component {
	return &Component{users: users, sessions: sessions}
}

// Name returns the canonical component key.
func (c *Component) Name() string { return "shopusers" }

// Modules declares the user tables, present in control and every shop.
func (c *Component) Modules() map[string]module.Tag {
	return map[string]module.Tag{
		module.Auth:      module.CrossSchema,
		module.ShopUsers: module.CrossSchema,
	}
}

// Init wires the user store and session manager.
func (c *Component) Init(d component.Deps) error {
	if d.Users == nil || d.Sessions == nil {
		return errors.New("shopusers: user store and session manager are required")
	}
	c.users, c.sessions = d.Users, d.Sessions
	return nil
}

// Routes builds the component router.
func (c *Component) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/api/login/", c.login)
	r.Post("/api/logout/", c.logout)
	r.Get("/api/current_user/", c.currentUser)
	r.With(acl.RequireRole(auth.RoleAdmin)).Get("/api/users/", c.listUsers)
	r.With(acl.RequireRole(auth.RoleAdmin)).Post("/api/users/", c.createUser)
	r.With(acl.RequireRole(auth.RoleAdmin)).Post("/api/users/groups/", c.addToGroup)
	return r
}

// Register component at program start.
func init() { component.Register(&Component{}) }

/*──────────────────────────── Handlers ─────────────────────────────────────*/

type credentials struct {
	Username string `json:"username" validate:"required,max=150"`
	Password string `json:"password" validate:"required"`
}

func (c *Component) login(w http.ResponseWriter, r *http.Request) {
	cx := core.New(w, r)
	var in credentials
	if err := cx.Decode(&in); err != nil {
		cx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid credentials"})
		return
	}

	u, err := c.users.Authenticate(r.Context(), in.Username, in.Password)
	switch {
	case errors.Is(err, shopuser.ErrLocked):
		cx.JSON(http.StatusTooManyRequests, map[string]string{"error": "Too many failed attempts"})
		return
	case errors.Is(err, shopuser.ErrInvalidCredentials):
		zap.L().Info("login failed",
			zap.String("username", in.Username),
			zap.Stringer("ip", cx.Info.Geo.IP),
			zap.Bool("bot", cx.Info.UA.IsBot),
		)
		cx.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid credentials"})
		return
	case err != nil:
		cx.Fail("login", err)
		return
	}

	if err := c.sessions.Login(w, r, u.Principal()); err != nil {
		cx.Fail("login session", err)
		return
	}
	cx.JSON(http.StatusOK, map[string]string{"message": "Login successful"})
}

func (c *Component) logout(w http.ResponseWriter, r *http.Request) {
	c.sessions.Logout(w, r)
	core.New(w, r).JSON(http.StatusOK, map[string]string{"message": "Logout successful"})
}

func (c *Component) currentUser(w http.ResponseWriter, r *http.Request) {
	cx := core.New(w, r)
	if !cx.Principal.Authenticated() {
		cx.JSON(http.StatusOK, map[string]any{"user": nil})
		return
	}
	p := cx.Principal
	cx.JSON(http.StatusOK, map[string]any{
		"id":           p.UserID,
		"username":     p.Username,
		"role":         p.Role,
		"tenant_id":    p.TenantID,
		"shop_schema":  p.ShopSchema,
		"is_staff":     p.IsStaff,
		"is_superuser": p.IsSuperuser,
	})
}

func (c *Component) listUsers(w http.ResponseWriter, r *http.Request) {
	cx := core.New(w, r)
	users, err := c.users.List(r.Context())
	if err != nil {
		cx.Fail("list users", err)
		return
	}
	if users == nil {
		users = []*shopuser.User{}
	}
	cx.JSON(http.StatusOK, users)
}

// createUser adds a user to the current schema.  NewUser does not decode
// is_superuser, so superusers are only minted from the CLI.
func (c *Component) createUser(w http.ResponseWriter, r *http.Request) {
	cx := core.New(w, r)
	var nu shopuser.NewUser
	if err := cx.Decode(&nu); err != nil {
		cx.Error(http.StatusBadRequest, err.Error())
		return
	}

	u, err := c.users.Create(r.Context(), nu)
	switch {
	case errors.Is(err, shopuser.ErrDuplicate):
		cx.Error(http.StatusBadRequest, "a user with that username already exists")
	case errors.Is(err, shopuser.ErrTenantRequired):
		cx.Error(http.StatusBadRequest, "No tenant context")
	case err != nil:
		cx.Fail("create user", err)
	default:
		cx.JSON(http.StatusCreated, u)
	}
}

type membership struct {
	Username string `json:"username" validate:"required,max=150"`
	Group    string `json:"group"    validate:"required,max=150"`
}

// addToGroup grants a user the permissions of a group.  User and group
// must live in the same database.
func (c *Component) addToGroup(w http.ResponseWriter, r *http.Request) {
	cx := core.New(w, r)
	var in membership
	if err := cx.Decode(&in); err != nil {
		cx.Error(http.StatusBadRequest, err.Error())
		return
	}

	u, err := c.users.ByUsername(r.Context(), in.Username)
	if errors.Is(err, shopuser.ErrNotFound) {
		cx.Error(http.StatusNotFound, "user not found")
		return
	} else if err != nil {
		cx.Fail("group user", err)
		return
	}
	g, err := c.users.GroupByName(r.Context(), in.Group)
	if errors.Is(err, shopuser.ErrNotFound) {
		cx.Error(http.StatusNotFound, "group not found")
		return
	} else if err != nil {
		cx.Fail("group lookup", err)
		return
	}

	switch err := c.users.AddToGroup(r.Context(), u, g); {
	case errors.Is(err, dbrouter.ErrCrossDatabaseRelation):
		cx.Error(http.StatusBadRequest, "user and group are in different databases")
	case err != nil:
		cx.Fail("add to group", err)
	default:
		cx.JSON(http.StatusOK, map[string]string{"username": u.Username, "group": g.Name})
	}
}
