// internal/core/context.go
//
// Central per-request context.
//
// Context
// -------
// Every component handler builds a *core.Context from the request.  It
// bundles:
//
//   - Tenant     – the scoped tenant, nil on public paths.
//   - ShopSchema – the schema the bound connection is pinned to.
//   - Principal  – the logged-in user, nil when anonymous.
//   - Info       – parsed UA, geo, path, and timestamp.
//   - Request    – the original *http.Request.
//   - Writer     – convenience http.ResponseWriter.
//
// Notes
// -----
// • Components must treat Tenant as read-only.
// • Errors go out as {"detail": "..."} so API clients parse one shape.
// • Oxford commas, two spaces after periods.
package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/BootCodex/BlueOlive/internal/auth"
	"github.com/BootCodex/BlueOlive/internal/config"
	"github.com/BootCodex/BlueOlive/internal/requestinfo"
	"github.com/BootCodex/BlueOlive/internal/tenant"
	"github.com/BootCodex/BlueOlive/internal/tenantctx"
)

// MaxBody caps request bodies read by Decode.
const MaxBody = 1 << 20

// ErrBadRequest wraps every Decode failure.
var ErrBadRequest = errors.New("bad request")

// Context is passed to component handlers.
type Context struct {
	Tenant     *tenant.Tenant      // Scoped tenant
	ShopSchema string              // Bound schema
	Principal  *auth.Principal     // Logged-in user
	Info       *requestinfo.Info   // UA, Geo, path, timestamp
	Request    *http.Request       // Original request
	Writer     http.ResponseWriter // Convenience writer
}

// New builds a Context from the request state left by middleware.
func New(w http.ResponseWriter, r *http.Request) *Context {
	ctx := r.Context()
	return &Context{
		Tenant:     tenantctx.Tenant(ctx),
		ShopSchema: tenantctx.ShopSchema(ctx),
		Principal:  auth.FromContext(ctx),
		Info:       requestinfo.For(r),
		Request:    r,
		Writer:     w,
	}
}

// JSON writes v with status.
func (c *Context) JSON(status int, v any) {
	c.Writer.Header().Set("Content-Type", "application/json")
	c.Writer.WriteHeader(status)
	if err := json.NewEncoder(c.Writer).Encode(v); err != nil {
		zap.L().Warn("write response", zap.Error(err))
	}
}

// Error writes {"detail": msg} with status.
func (c *Context) Error(status int, msg string) {
	c.JSON(status, map[string]string{"detail": msg})
}

// Fail logs err and answers 500 without leaking it.
func (c *Context) Fail(msg string, err error) {
	zap.L().Error(msg, zap.String("path", c.Request.URL.Path), zap.Error(err))
	c.Error(http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
}

// Decode reads a JSON body into v and runs the validator over it.
func (c *Context) Decode(v any) error {
	dec := json.NewDecoder(io.LimitReader(c.Request.Body, MaxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	if err := config.Validate(v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return nil
}
