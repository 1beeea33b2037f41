package component

import (
	"go.uber.org/zap"

	"github.com/BootCodex/BlueOlive/internal/config"
	"github.com/BootCodex/BlueOlive/internal/dbrouter"
	"github.com/BootCodex/BlueOlive/internal/module"
	"github.com/BootCodex/BlueOlive/internal/provision"
	"github.com/BootCodex/BlueOlive/internal/session"
	"github.com/BootCodex/BlueOlive/internal/shopuser"
	"github.com/BootCodex/BlueOlive/internal/tenant"
)

// Deps exposes shared services to Components during Init.
type Deps struct {
	Config    *config.Config
	Router    *dbrouter.Router
	Tenants   *tenant.Store
	Provision *provision.Engine
	Users     *shopuser.Store
	Sessions  *session.Manager
	Modules   *module.Table
	Logger    *zap.Logger
}
