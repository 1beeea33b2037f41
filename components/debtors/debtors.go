// components/debtors/debtors.go
//
// Debtors component – customer accounts of one shop.
//
// Context
// -------
// Debtors are a shop module: every query goes through the router, which
// hands back the request's bound connection, so the rows come from the
// shop schema the request was scoped to.
//
//	GET  /api/debtors/        auth           list (?search= on name or account)
//	POST /api/debtors/        admin/manager  create
//	GET  /api/debtors/{id}/   auth           one debtor
//	DELETE /api/debtors/{id}/ delete_debtor  remove a debtor (group permission)

package debtors

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/BootCodex/BlueOlive/internal/acl"
	"github.com/BootCodex/BlueOlive/internal/auth"
	"github.com/BootCodex/BlueOlive/internal/component"
	"github.com/BootCodex/BlueOlive/internal/core"
	"github.com/BootCodex/BlueOlive/internal/database"
	"github.com/BootCodex/BlueOlive/internal/dbrouter"
	"github.com/BootCodex/BlueOlive/internal/module"
)

// Compile-time assertions.
var (
	_ component.Component   = (*Component)(nil)
	_ component.Initializer = (*Component)(nil)
)

// PageSize caps list responses.
const PageSize = 50

// PermDelete is the auth permission codename for removing debtors.
const PermDelete = "delete_debtor"

// Debtor is one row of debtors_debtor.  Money columns stay decimal strings.
type Debtor struct {
	dbrouter.Origin

	ID          int64     `db:"id"           json:"id"`
	AccountNo   string    `db:"account_no"   json:"account_no"   validate:"required,max=20"`
	Name        string    `db:"name"         json:"name"         validate:"required,max=150"`
	Email       string    `db:"email"        json:"email"        validate:"omitempty,email,max=254"`
	Phone       string    `db:"phone"        json:"phone"        validate:"max=20"`
	CreditLimit string    `db:"credit_limit" json:"credit_limit" validate:"omitempty,numeric"`
	Balance     string    `db:"balance"      json:"balance"`
	CreatedAt   time.Time `db:"created_at"   json:"created_at"`
}

const debtorCols = `id, account_no, name, email, phone, credit_limit, balance, created_at`

// Router picks the querier for a module.  *dbrouter.Router implements it.
type Router interface {
	Querier(ctx context.Context, mod string) (dbrouter.Querier, error)
	DBForRead(ctx context.Context, mod string) string
}

// Component serves the debtors API.
type Component struct {
	router Router
}

// New is used by tests and by Init.
func New(r Router) *Component { return &Component{router: r} }

// Name returns the canonical component key.
func (c *Component) Name() string { return "debtors" }

// Modules declares the shop module this component owns.
func (c *Component) Modules() map[string]module.Tag {
	return map[string]module.Tag{module.Debtors: module.Shop}
}

// Init wires the router.
func (c *Component) Init(d component.Deps) error {
	if d.Router == nil {
		return errors.New("debtors: router is required")
	}
	c.router = d.Router
	return nil
}

// Routes builds the component router.
func (c *Component) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(acl.RequireAuth)
	r.Get("/api/debtors/", c.list)
	r.With(acl.RequireRole(auth.RoleAdmin, auth.RoleManager)).Post("/api/debtors/", c.create)
	r.Get("/api/debtors/{id}/", c.get)
	r.With(acl.RequirePermission(c.router, PermDelete)).Delete("/api/debtors/{id}/", c.remove)
	return r
}

// Register component at program start.
func init() { component.Register(&Component{}) }

func (c *Component) querier(ctx context.Context) (dbrouter.Querier, string, error) {
	q, err := c.router.Querier(ctx, module.Debtors)
	if err != nil {
		return nil, "", err
	}
	return q, c.router.DBForRead(ctx, module.Debtors), nil
}

/*──────────────────────────── Handlers ─────────────────────────────────────*/

func (c *Component) list(w http.ResponseWriter, r *http.Request) {
	cx := core.New(w, r)
	q, alias, err := c.querier(r.Context())
	if err != nil {
		cx.Fail("debtors querier", err)
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	query := `SELECT ` + debtorCols + ` FROM debtors_debtor`
	args := []any{}
	if s := r.URL.Query().Get("search"); s != "" {
		query += ` WHERE name LIKE ? OR account_no LIKE ?`
		args = append(args, "%"+s+"%", "%"+s+"%")
	}
	query += fmt.Sprintf(` ORDER BY name, id LIMIT %d OFFSET %d`, PageSize, (page-1)*PageSize)

	out := []*Debtor{}
	if err := q.SelectContext(r.Context(), &out, q.Rebind(query), args...); err != nil {
		cx.Fail("list debtors", err)
		return
	}
	for _, d := range out {
		d.From(alias)
	}
	cx.JSON(http.StatusOK, out)
}

func (c *Component) get(w http.ResponseWriter, r *http.Request) {
	cx := core.New(w, r)
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		cx.Error(http.StatusNotFound, "Not found.")
		return
	}
	q, _, err := c.querier(r.Context())
	if err != nil {
		cx.Fail("debtors querier", err)
		return
	}
	var d Debtor
	err = q.GetContext(r.Context(), &d, q.Rebind(`SELECT `+debtorCols+` FROM debtors_debtor WHERE id = ?`), id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		cx.Error(http.StatusNotFound, "Not found.")
	case err != nil:
		cx.Fail("get debtor", err)
	default:
		cx.JSON(http.StatusOK, &d)
	}
}

func (c *Component) create(w http.ResponseWriter, r *http.Request) {
	cx := core.New(w, r)
	var d Debtor
	if err := cx.Decode(&d); err != nil {
		cx.Error(http.StatusBadRequest, err.Error())
		return
	}
	if d.CreditLimit == "" {
		d.CreditLimit = "0"
	}
	q, _, err := c.querier(r.Context())
	if err != nil {
		cx.Fail("debtors querier", err)
		return
	}

	const insert = `INSERT INTO debtors_debtor (account_no, name, email, phone, credit_limit)
	                VALUES (?, ?, ?, ?, ?)`
	args := []any{d.AccountNo, d.Name, d.Email, d.Phone, d.CreditLimit}

	if q.Rebind("?") == "$1" {
		err = q.QueryRowxContext(r.Context(), q.Rebind(insert+` RETURNING id, balance, created_at`), args...).
			Scan(&d.ID, &d.Balance, &d.CreatedAt)
	} else {
		var res sql.Result
		if res, err = q.ExecContext(r.Context(), q.Rebind(insert), args...); err == nil {
			d.ID, err = res.LastInsertId()
			d.Balance, d.CreatedAt = "0", time.Now().UTC()
		}
	}
	switch {
	case database.IsUniqueViolation(err):
		cx.Error(http.StatusBadRequest, "a debtor with this account number already exists")
	case err != nil:
		cx.Fail("create debtor", err)
	default:
		cx.JSON(http.StatusCreated, &d)
	}
}

func (c *Component) remove(w http.ResponseWriter, r *http.Request) {
	cx := core.New(w, r)
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		cx.Error(http.StatusNotFound, "Not found.")
		return
	}
	q, _, err := c.querier(r.Context())
	if err != nil {
		cx.Fail("debtors querier", err)
		return
	}
	res, err := q.ExecContext(r.Context(), q.Rebind(`DELETE FROM debtors_debtor WHERE id = ?`), id)
	if database.IsForeignKeyViolation(err) {
		cx.Error(http.StatusConflict, "debtor has invoices")
		return
	}
	if err != nil {
		cx.Fail("delete debtor", err)
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		cx.Error(http.StatusNotFound, "Not found.")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
