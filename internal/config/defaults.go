// internal/config/defaults.go
//
// Defaults applied between unmarshal and validation.  Only zero values are
// replaced, so YAML and env always win.

package config

import "time"

// DefaultPublicPaths bypass tenant scoping entirely.
var DefaultPublicPaths = []string{
	"/admin",
	"/favicon.ico",
	"/healthz",
	"/metrics",
	"/api/tenants/",
	"/api/current_tenant/",
}

// DefaultLoginPaths are always tenant-scoped, even under a public prefix.
var DefaultLoginPaths = []string{"/api/login/"}

func applyDefaults(c *Config) {
	if c.HTTP.ReadTimeout == 0 {
		c.HTTP.ReadTimeout = 10 * time.Second
	}
	if c.HTTP.WriteTimeout == 0 {
		c.HTTP.WriteTimeout = 15 * time.Second
	}
	if c.HTTP.IdleTimeout == 0 {
		c.HTTP.IdleTimeout = 60 * time.Second
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "pgx"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 15
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = 30 * time.Minute
	}

	t := &c.Tenancy
	if t.DevMarker == "" {
		t.DevMarker = "localhost"
	}
	if t.LookupField == "" {
		t.LookupField = "subdomain"
	}
	if t.PublicPaths == nil {
		t.PublicPaths = append([]string(nil), DefaultPublicPaths...)
	}
	if t.LoginPaths == nil {
		t.LoginPaths = append([]string(nil), DefaultLoginPaths...)
	}
	if t.FallbackSchema == "" {
		t.FallbackSchema = "public"
	}
	if t.TenantHeader == "" {
		t.TenantHeader = "X-Tenant"
	}
	if t.ShopHeader == "" {
		t.ShopHeader = "X-Shop-Schema"
	}
	if t.SSLMode == "" {
		t.SSLMode = "prefer"
	}
	if t.PoolMaxOpen == 0 {
		t.PoolMaxOpen = 5
	}
	if t.PoolMaxIdle == 0 {
		t.PoolMaxIdle = 2
	}
	if t.IdleTTL == 0 {
		t.IdleTTL = 30 * time.Minute
	}
	if t.MaxEntries == 0 {
		t.MaxEntries = 100
	}
	if t.EvictInterval == 0 {
		t.EvictInterval = 5 * time.Minute
	}

	p := &c.Provisioning
	if p.SuperuserPort == 0 {
		p.SuperuserPort = 5432
	}
	if p.MaintenanceDB == "" {
		p.MaintenanceDB = "postgres"
	}
	if p.TenantDBHost == "" {
		p.TenantDBHost = p.SuperuserHost
	}
	if p.TenantDBPort == 0 {
		p.TenantDBPort = p.SuperuserPort
	}
	if p.TenantDBUser == "" {
		p.TenantDBUser = p.SuperuserUser
	}
	if p.TenantDBPassword == "" {
		p.TenantDBPassword = p.SuperuserPassword
	}

	if c.Secrets.Sealer == "" {
		c.Secrets.Sealer = "box"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}
