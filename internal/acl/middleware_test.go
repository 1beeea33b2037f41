package acl

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"

	"github.com/BootCodex/BlueOlive/internal/auth"
	"github.com/BootCodex/BlueOlive/internal/dbrouter"
	"github.com/BootCodex/BlueOlive/internal/module"
	"github.com/BootCodex/BlueOlive/internal/registry"
)

type pools map[string]*sqlx.DB

func (p pools) DB(alias string) (*sqlx.DB, error) {
	if db, ok := p[alias]; ok {
		return db, nil
	}
	return nil, fmt.Errorf("%w: %s", registry.ErrUnknownAlias, alias)
}

var ok = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })

func serve(h http.Handler, p *auth.Principal) int {
	req := httptest.NewRequest(http.MethodGet, "/api/debtors/", nil)
	if p != nil {
		req = req.WithContext(auth.WithPrincipal(req.Context(), p))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestRequireStaff(t *testing.T) {
	h := RequireStaff(ok)
	assert.Equal(t, http.StatusUnauthorized, serve(h, nil))
	assert.Equal(t, http.StatusForbidden, serve(h, &auth.Principal{UserID: 1}))
	assert.Equal(t, http.StatusNoContent, serve(h, &auth.Principal{UserID: 1, IsStaff: true}))
	assert.Equal(t, http.StatusNoContent, serve(h, &auth.Principal{UserID: 1, IsSuperuser: true}))
}

func TestRequireRole(t *testing.T) {
	h := RequireRole(auth.RoleAdmin, auth.RoleManager)(ok)
	assert.Equal(t, http.StatusUnauthorized, serve(h, &auth.Principal{}))
	assert.Equal(t, http.StatusForbidden, serve(h, &auth.Principal{UserID: 1, Role: auth.RoleStaff}))
	assert.Equal(t, http.StatusNoContent, serve(h, &auth.Principal{UserID: 1, Role: auth.RoleManager}))
	assert.Equal(t, http.StatusNoContent, serve(h, &auth.Principal{UserID: 1, IsSuperuser: true}))

	assert.Panics(t, func() { RequireRole() })
}

func TestRequirePermission(t *testing.T) {
	db, mock := newDB(t, "mysql")
	router := dbrouter.New(pools{registry.ControlAlias: db}, module.NewTable())
	h := RequirePermission(router, "view_debtor")(ok)

	groups := regexp.QuoteMeta(`FROM shop_users_shopuser_groups`)
	perms := regexp.QuoteMeta(`FROM auth_group_permissions`)

	// granted
	mock.ExpectQuery(groups).WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("cashiers"))
	mock.ExpectQuery(perms).WithArgs("cashiers", "view_debtor").
		WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	assert.Equal(t, http.StatusNoContent, serve(h, &auth.Principal{UserID: 5}))

	// denied
	mock.ExpectQuery(groups).WithArgs(int64(6)).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("guests"))
	mock.ExpectQuery(perms).WithArgs("guests", "view_debtor").
		WillReturnRows(sqlmock.NewRows([]string{"1"}))
	assert.Equal(t, http.StatusForbidden, serve(h, &auth.Principal{UserID: 6}))

	// database down
	mock.ExpectQuery(groups).WithArgs(int64(7)).WillReturnError(fmt.Errorf("conn reset"))
	assert.Equal(t, http.StatusInternalServerError, serve(h, &auth.Principal{UserID: 7}))

	// superusers and anonymous never query
	assert.Equal(t, http.StatusNoContent, serve(h, &auth.Principal{UserID: 1, IsSuperuser: true}))
	assert.Equal(t, http.StatusUnauthorized, serve(h, nil))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequireAuth(t *testing.T) {
	h := RequireAuth(ok)
	assert.Equal(t, http.StatusUnauthorized, serve(h, nil))
	assert.Equal(t, http.StatusNoContent, serve(h, &auth.Principal{UserID: 3}))
}
