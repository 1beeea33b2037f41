// Package shopuser stores the people who sign in to a tenant's shops.
//
// Regular users live in the shop schema they were created in, inside their
// tenant's database, and carry that tenant's id.  Superusers live in the
// control database with no tenant and may sign in through any tenant.
package shopuser

import (
	"database/sql"
	"errors"
	"time"

	"github.com/BootCodex/BlueOlive/internal/auth"
	"github.com/BootCodex/BlueOlive/internal/dbrouter"
)

var (
	// ErrNotFound is returned when no user matches.
	ErrNotFound = errors.New("shopuser: not found")
	// ErrDuplicate is returned when the username is taken in its scope.
	ErrDuplicate = errors.New("shopuser: username taken")
	// ErrTenantRequired is returned when a regular user is created with no
	// tenant bound to the context.
	ErrTenantRequired = errors.New("shopuser: regular users require a tenant")
	// ErrInvalidCredentials covers unknown users, wrong passwords, and
	// inactive accounts alike.
	ErrInvalidCredentials = errors.New("shopuser: invalid credentials")
	// ErrLocked is returned while a username is locked out after repeated
	// failures.
	ErrLocked = errors.New("shopuser: too many failed attempts")
)

// User is one row of shop_users_shopuser.
type User struct {
	dbrouter.Origin

	ID          int64         `db:"id"           json:"id"`
	Username    string        `db:"username"     json:"username"`
	Email       string        `db:"email"        json:"email"`
	Password    string        `db:"password"     json:"-"`
	TenantID    sql.NullInt64 `db:"tenant_id"    json:"-"`
	ShopID      sql.NullInt64 `db:"shop_id"      json:"-"`
	ShopSchema  string        `db:"shop_schema"  json:"shop_schema,omitempty"`
	Role        string        `db:"role"         json:"role"`
	IsStaff     bool          `db:"is_staff"     json:"is_staff"`
	IsSuperuser bool          `db:"is_superuser" json:"is_superuser"`
	IsActive    bool          `db:"is_active"    json:"is_active"`
	DateJoined  time.Time     `db:"date_joined"  json:"date_joined"`
	LastLogin   sql.NullTime  `db:"last_login"   json:"-"`
}

// Principal returns the session principal for u.
func (u *User) Principal() *auth.Principal {
	return &auth.Principal{
		UserID:      u.ID,
		TenantID:    u.TenantID.Int64,
		ShopID:      u.ShopID.Int64,
		ShopSchema:  u.ShopSchema,
		Username:    u.Username,
		Role:        u.Role,
		IsStaff:     u.IsStaff,
		IsSuperuser: u.IsSuperuser,
	}
}

// Group is one row of auth_group.
type Group struct {
	dbrouter.Origin

	ID   int64  `db:"id"   json:"id"`
	Name string `db:"name" json:"name"`
}

// NewUser is the input of Create.
type NewUser struct {
	Username    string `json:"username" validate:"required,max=150"`
	Email       string `json:"email"    validate:"omitempty,email"`
	Password    string `json:"password" validate:"required,min=8"`
	Role        string `json:"role"     validate:"omitempty,oneof=admin manager staff"`
	ShopID      int64  `json:"shop_id"`
	ShopSchema  string `json:"-"`
	IsStaff     bool   `json:"is_staff"`
	IsSuperuser bool   `json:"-"`
}
