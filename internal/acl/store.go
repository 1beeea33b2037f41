// internal/acl/store.go
//
// Small query helpers for group-based permissions.
//
// Context
// -------
// Permissions live next to the users, in the auth and shop_users tables of
// whichever database the request is routed to (a shop schema, or the
// control database for superusers):
//
//	auth_group                  (id PK, name)
//	auth_permission             (id PK, codename, name)
//	auth_group_permissions      (group_id, permission_id)
//	shop_users_shopuser_groups  (shopuser_id, group_id)
//
// Middleware needs answers to two questions:
//  1. Which *group names* does user X belong to?        → `UserGroups()`
//  2. Does any of groups G grant permission codename C? → `GroupsAllowed()`
//
// Both take a Querier from the router, so they follow the request's
// search_path.
//
// Notes
// -----
// • Oxford commas, two spaces after periods.
// • Max line length 100 columns.
package acl

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/BootCodex/BlueOlive/internal/dbrouter"
)

// UserGroups returns the group names userID belongs to.
func UserGroups(ctx context.Context, q dbrouter.Querier, userID int64) ([]string, error) {
	const query = `SELECT g.name
                 FROM shop_users_shopuser_groups ug
                 JOIN auth_group g ON g.id = ug.group_id
                WHERE ug.shopuser_id = ?
                ORDER BY g.name`

	groups := make([]string, 0, 4)
	if err := q.SelectContext(ctx, &groups, q.Rebind(query), userID); err != nil {
		return nil, err
	}
	return groups, nil
}

// GroupsAllowed reports whether *any* of groups grants codename.  It runs
// one query using IN (? … ?).
func GroupsAllowed(ctx context.Context, q dbrouter.Querier, groups []string, codename string) (bool, error) {
	if len(groups) == 0 {
		return false, nil
	}
	query, args, err := sqlx.In(`SELECT 1
                 FROM auth_group_permissions gp
                 JOIN auth_group g ON g.id = gp.group_id
                 JOIN auth_permission p ON p.id = gp.permission_id
                WHERE g.name IN (?) AND p.codename = ?
                LIMIT 1`, groups, codename)
	if err != nil {
		return false, err
	}

	var one int
	err = q.QueryRowxContext(ctx, q.Rebind(query), args...).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, err
	default:
		return true, nil
	}
}
