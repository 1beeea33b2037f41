// internal/shopuser/store.go
//
// Shop-user persistence and authentication.
//
// Context
// -------
// shop_users is a cross-schema module: its table exists in the control
// database and in every shop schema.  The store never picks a database
// itself.  Tenant users go through the router, which hands back the
// request's schema-bound connection, so a user is always read from and
// written to the shop schema the request is scoped to.  Superusers are
// read from the control pool.
//
// Authentication
// --------------
//  1. A key locked out after repeated failures is refused at once.
//  2. Inside a tenant, the tenant's own users are tried first.
//  3. Superusers (control database, no tenant) are tried next.
//  4. A miss still runs bcrypt against a dummy hash, so response time does
//     not reveal whether the username exists.
//
// Notes
// -----
//   - Tenant databases are PostgreSQL.  The control database may be MySQL,
//     so inserts pick RETURNING or LastInsertId from the bind style.
package shopuser

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/BootCodex/BlueOlive/internal/auth"
	"github.com/BootCodex/BlueOlive/internal/database"
	"github.com/BootCodex/BlueOlive/internal/dbrouter"
	"github.com/BootCodex/BlueOlive/internal/logger"
	"github.com/BootCodex/BlueOlive/internal/module"
	"github.com/BootCodex/BlueOlive/internal/registry"
	"github.com/BootCodex/BlueOlive/internal/tenant"
	"github.com/BootCodex/BlueOlive/internal/tenantctx"
)

const userCols = `id, username, email, password, tenant_id, shop_id, shop_schema, role,
	is_staff, is_superuser, is_active, date_joined, last_login`

// Binder checks out schema-bound connections.  *registry.Registry
// implements it.
type Binder interface {
	ApplySchema(ctx context.Context, alias, schema string) (*sqlx.Conn, error)
	ReleaseSchema(conn *sqlx.Conn)
}

// Options tunes a Store.  Zero values take the defaults.
type Options struct {
	MaxAttempts int           // failures before lockout, default 5
	Lockout     time.Duration // default 5m
	Cost        int           // bcrypt cost, default bcrypt.DefaultCost
	Logger      *zap.Logger
}

// Store reads and writes shop users.  Safe for concurrent use.
type Store struct {
	router   *dbrouter.Router
	binder   Binder
	throttle *throttle
	cost     int
	dummy    func() []byte
	log      *zap.Logger
}

// NewStore returns a Store.
func NewStore(router *dbrouter.Router, binder Binder, o Options) *Store {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.Lockout <= 0 {
		o.Lockout = 5 * time.Minute
	}
	if o.Cost == 0 {
		o.Cost = bcrypt.DefaultCost
	}
	if o.Logger == nil {
		o.Logger = zap.L()
	}
	cost := o.Cost
	return &Store{
		router:   router,
		binder:   binder,
		throttle: newThrottle(o.MaxAttempts, o.Lockout, 10000),
		cost:     cost,
		dummy: sync.OnceValue(func() []byte {
			h, _ := bcrypt.GenerateFromPassword([]byte("not-a-real-password"), cost)
			return h
		}),
		log: o.Logger.Named("shopuser"),
	}
}

//
// Lookups
//

// ByUsername returns the user named username as seen from ctx: the bound
// tenant's users first, then superusers.
func (s *Store) ByUsername(ctx context.Context, username string) (*User, error) {
	if t := tenantctx.Tenant(ctx); t != nil {
		q, err := s.router.Querier(ctx, module.ShopUsers)
		if err != nil {
			return nil, err
		}
		u, err := s.one(ctx, q, s.router.DBForRead(ctx, module.ShopUsers),
			`SELECT `+userCols+` FROM shop_users_shopuser WHERE username = ? AND tenant_id = ?`,
			username, t.ID)
		if !errors.Is(err, ErrNotFound) {
			return u, err
		}
	}
	return s.Superuser(ctx, username)
}

// Superuser returns the control-database superuser named username.
func (s *Store) Superuser(ctx context.Context, username string) (*User, error) {
	q, err := s.router.Control()
	if err != nil {
		return nil, err
	}
	return s.one(ctx, q, registry.ControlAlias,
		`SELECT `+userCols+` FROM shop_users_shopuser
		  WHERE username = ? AND tenant_id IS NULL AND is_superuser = TRUE`, username)
}

func (s *Store) one(ctx context.Context, q dbrouter.Querier, alias, query string, args ...any) (*User, error) {
	var u User
	if err := q.GetContext(ctx, &u, q.Rebind(query), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("shopuser: lookup: %w", err)
	}
	u.From(alias)
	return &u, nil
}

// List returns the users of the tenant bound to ctx in its current schema.
// With no tenant bound it lists the superusers.
func (s *Store) List(ctx context.Context) ([]*User, error) {
	var (
		q     dbrouter.Querier
		alias string
		query string
		args  []any
		err   error
	)
	if t := tenantctx.Tenant(ctx); t != nil {
		q, err = s.router.Querier(ctx, module.ShopUsers)
		alias = s.router.DBForRead(ctx, module.ShopUsers)
		query = `SELECT ` + userCols + ` FROM shop_users_shopuser WHERE tenant_id = ? ORDER BY username`
		args = []any{t.ID}
	} else {
		q, err = s.router.Control()
		alias = registry.ControlAlias
		query = `SELECT ` + userCols + ` FROM shop_users_shopuser WHERE tenant_id IS NULL ORDER BY username`
	}
	if err != nil {
		return nil, err
	}

	var out []*User
	if err := q.SelectContext(ctx, &out, q.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("shopuser: list: %w", err)
	}
	for _, u := range out {
		u.From(alias)
	}
	return out, nil
}

// GroupByName returns the auth group visible from ctx.
func (s *Store) GroupByName(ctx context.Context, name string) (*Group, error) {
	q, err := s.router.Querier(ctx, module.Auth)
	if err != nil {
		return nil, err
	}
	var g Group
	if err := q.GetContext(ctx, &g, q.Rebind(`SELECT id, name FROM auth_group WHERE name = ?`), name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("shopuser: group %q: %w", name, err)
	}
	g.From(s.router.DBForRead(ctx, module.Auth))
	return &g, nil
}

//
// Writes
//

// Create inserts a user.  Regular users need a tenant bound to ctx and are
// written to its current shop schema; superusers go to the control
// database with no tenant.
func (s *Store) Create(ctx context.Context, nu NewUser) (*User, error) {
	u := &User{
		Username:    nu.Username,
		Email:       nu.Email,
		ShopSchema:  nu.ShopSchema,
		Role:        nu.Role,
		IsStaff:     nu.IsStaff || nu.IsSuperuser,
		IsSuperuser: nu.IsSuperuser,
		IsActive:    true,
	}
	if u.Role == "" {
		u.Role = auth.RoleStaff
	}
	if nu.ShopID > 0 {
		u.ShopID = sql.NullInt64{Int64: nu.ShopID, Valid: true}
	}

	var (
		q     dbrouter.Querier
		alias string
		err   error
	)
	if nu.IsSuperuser {
		alias = registry.ControlAlias
		if q, err = s.router.Control(); err != nil {
			return nil, err
		}
		u.ShopSchema = ""
	} else {
		t := tenantctx.Tenant(ctx)
		if t == nil {
			return nil, ErrTenantRequired
		}
		u.TenantID = sql.NullInt64{Int64: t.ID, Valid: true}
		if u.ShopSchema == "" {
			u.ShopSchema = tenantctx.ShopSchema(ctx)
		}
		alias = s.router.DBForWrite(ctx, module.ShopUsers)
		if q, err = s.router.Querier(ctx, module.ShopUsers); err != nil {
			return nil, err
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(nu.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("shopuser: hash: %w", err)
	}
	u.Password = string(hash)

	const insert = `INSERT INTO shop_users_shopuser
	        (username, email, password, tenant_id, shop_id, shop_schema, role, is_staff, is_superuser, is_active)
	 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, TRUE)`
	args := []any{u.Username, u.Email, u.Password, u.TenantID, u.ShopID, u.ShopSchema, u.Role, u.IsStaff, u.IsSuperuser}

	if returning(q) {
		err = q.QueryRowxContext(ctx, q.Rebind(insert+` RETURNING id, date_joined`), args...).
			Scan(&u.ID, &u.DateJoined)
	} else {
		var res sql.Result
		if res, err = q.ExecContext(ctx, q.Rebind(insert), args...); err == nil {
			u.ID, err = res.LastInsertId()
			u.DateJoined = time.Now().UTC()
		}
	}
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicate, u.Username)
		}
		return nil, fmt.Errorf("shopuser: create %s: %w", u.Username, err)
	}
	u.From(alias)
	return u, nil
}

// returning reports whether q binds PostgreSQL-style, which also means it
// supports RETURNING.
func returning(q dbrouter.Querier) bool { return q.Rebind("?") == "$1" }

// AddToGroup adds u to g.  Both must come from the same database.
func (s *Store) AddToGroup(ctx context.Context, u *User, g *Group) error {
	if err := dbrouter.Relate(u, g); err != nil {
		return err
	}
	q, err := s.querierFor(ctx, u)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, q.Rebind(
		`INSERT INTO shop_users_shopuser_groups (shopuser_id, group_id) VALUES (?, ?)`), u.ID, g.ID)
	if err != nil && !database.IsUniqueViolation(err) {
		return fmt.Errorf("shopuser: add %s to %s: %w", u.Username, g.Name, err)
	}
	return nil
}

// querierFor returns the database u was loaded from.
func (s *Store) querierFor(ctx context.Context, u *User) (dbrouter.Querier, error) {
	if u.SourceDB() == registry.ControlAlias {
		return s.router.Control()
	}
	return s.router.Querier(ctx, module.ShopUsers)
}

//
// Authentication
//

// Authenticate checks username and password as seen from ctx.
func (s *Store) Authenticate(ctx context.Context, username, password string) (*User, error) {
	key := s.router.DBForRead(ctx, module.ShopUsers) + "/" + strings.ToLower(username)
	if s.throttle.locked(key) {
		s.log.Warn("login locked out", zap.String("username", username))
		return nil, ErrLocked
	}

	u, err := s.ByUsername(ctx, username)
	switch {
	case errors.Is(err, ErrNotFound):
		_ = bcrypt.CompareHashAndPassword(s.dummy(), []byte(password))
		s.throttle.fail(key)
		return nil, ErrInvalidCredentials
	case err != nil:
		return nil, err
	}

	if bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password)) != nil || !u.IsActive {
		s.throttle.fail(key)
		return nil, ErrInvalidCredentials
	}
	s.throttle.reset(key)
	s.touch(ctx, u)
	return u, nil
}

// touch stamps last_login.  Failure is logged, never fatal.
func (s *Store) touch(ctx context.Context, u *User) {
	q, err := s.querierFor(ctx, u)
	if err == nil {
		now := time.Now().UTC()
		_, err = q.ExecContext(ctx, q.Rebind(`UPDATE shop_users_shopuser SET last_login = ? WHERE id = ?`), now, u.ID)
		if err == nil {
			u.LastLogin = sql.NullTime{Time: now, Valid: true}
		}
	}
	if err != nil {
		s.log.Warn("last_login not updated", zap.String("username", u.Username), zap.Error(err))
	}
}

//
// Provisioning hook
//

// CreateTenantAdmin creates the first administrator of t inside schema.
// It binds its own schema-scoped connection, so it works outside a request.
func (s *Store) CreateTenantAdmin(ctx context.Context, t *tenant.Tenant, schema, username, email, password string) error {
	conn, err := s.binder.ApplySchema(ctx, t.Alias(), schema)
	if err != nil {
		return err
	}
	tctx, st := tenantctx.WithTenant(ctx, t, schema)
	st.Bind(conn, s.binder.ReleaseSchema)
	defer st.Clear()

	u, err := s.Create(tctx, NewUser{
		Username:   username,
		Email:      email,
		Password:   password,
		Role:       auth.RoleAdmin,
		ShopSchema: schema,
		IsStaff:    true,
	})
	if err != nil {
		return err
	}
	s.log.Info("tenant admin created",
		zap.String(logger.FieldTenant, t.Slug),
		zap.String(logger.FieldSchema, schema),
		zap.Int64("user_id", u.ID),
	)
	return nil
}
