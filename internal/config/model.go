// internal/config/model.go
//
// Typed configuration model for BlueOlive.
//
// Context
// -------
// These structs define the shape of the configuration tree that
// `internal/config/loader.go` builds from three overlay layers:
//
//   • optional `.env`                             – dotenv values,
//   • `conf/global.yaml`                          – primary static file,
//   • `BLUEOLIVE_`-prefixed environment overrides – highest precedence.
//
// Any value whose string begins with the prefix `vault:` is resolved
// through the Vault client *before* unmarshalling, so the model never
// stores Vault URIs, only plain strings.
//
// Validation happens immediately after unmarshal and defaulting; the app
// fails fast if required fields are missing.
//
// Notes
// -----
//   • Struct tags use `koanf:"…"`, not `yaml:"…"`.
//   • Durations accept Go syntax ("30m", "1h30m").
//   • The `Paths` block is filled at runtime; YAML must not try to set it.

package config

import "time"

//
// HTTP section
//

// HTTP holds web-server tunables.
type HTTP struct {
	ListenAddr   string        `koanf:"listen_addr"   validate:"required,hostname_port"`
	ForceHTTPS   bool          `koanf:"force_https"`
	ReadTimeout  time.Duration `koanf:"read_timeout"  validate:"gte=0"`
	WriteTimeout time.Duration `koanf:"write_timeout" validate:"gte=0"`
	IdleTimeout  time.Duration `koanf:"idle_timeout"  validate:"gte=0"`
	GeoIPPath    string        `koanf:"geoip_path"`
}

//
// Database section
//

// Database describes the control database.
//
// The DSN template stays in YAML so operators can tweak host, port, or
// flags without touching Vault.  The password is kept apart (normally a
// `vault:` reference) and injected at runtime.
type Database struct {
	Driver          string        `koanf:"driver"            validate:"required,oneof=pgx mysql"`
	ControlDSN      string        `koanf:"control_dsn"       validate:"required"`
	ControlPassword string        `koanf:"control_password"`
	MaxOpenConns    int           `koanf:"max_open_conns"    validate:"gte=0"`
	MaxIdleConns    int           `koanf:"max_idle_conns"    validate:"gte=0"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime" validate:"gte=0"`
}

//
// Tenancy section
//

// Tenancy controls request scoping and the connection registry.
type Tenancy struct {
	DevMarker      string        `koanf:"dev_marker"      validate:"required,hostname_rfc1123"`
	LookupField    string        `koanf:"lookup_field"    validate:"required,oneof=subdomain slug"`
	PublicPaths    []string      `koanf:"public_paths"    validate:"dive,startswith=/"`
	LoginPaths     []string      `koanf:"login_paths"     validate:"dive,startswith=/"`
	FallbackSchema string        `koanf:"fallback_schema" validate:"required,sqlident"`
	TenantHeader   string        `koanf:"tenant_header"   validate:"required"`
	ShopHeader     string        `koanf:"shop_header"     validate:"required"`
	SSLMode        string        `koanf:"sslmode"         validate:"required,oneof=disable allow prefer require verify-ca verify-full"`
	PoolMaxOpen    int           `koanf:"pool_max_open"   validate:"gte=1"`
	PoolMaxIdle    int           `koanf:"pool_max_idle"   validate:"gte=0"`
	IdleTTL        time.Duration `koanf:"idle_ttl"        validate:"gte=0"`
	MaxEntries     int           `koanf:"max_entries"     validate:"gte=0"`
	EvictInterval  time.Duration `koanf:"evict_interval"  validate:"gte=0"`
}

//
// Provisioning section
//

// Provisioning carries the superuser credentials used to CREATE DATABASE
// and the defaults stamped onto new tenants.
type Provisioning struct {
	SuperuserHost     string `koanf:"superuser_host"     validate:"required"`
	SuperuserPort     int    `koanf:"superuser_port"     validate:"required,gt=0,lt=65536"`
	SuperuserUser     string `koanf:"superuser_user"     validate:"required"`
	SuperuserPassword string `koanf:"superuser_password"`
	MaintenanceDB     string `koanf:"maintenance_db"     validate:"required"`
	TenantDBHost      string `koanf:"tenant_db_host"     validate:"required"`
	TenantDBPort      int    `koanf:"tenant_db_port"     validate:"required,gt=0,lt=65536"`
	TenantDBUser      string `koanf:"tenant_db_user"     validate:"required"`
	TenantDBPassword  string `koanf:"tenant_db_password"`
}

//
// Secrets section
//

// Secrets selects how tenant credentials are sealed at rest.
type Secrets struct {
	Sealer     string `koanf:"sealer"      validate:"required,oneof=box transit"`
	BoxKey     string `koanf:"box_key"     validate:"required_if=Sealer box"`
	TransitKey string `koanf:"transit_key" validate:"required_if=Sealer transit"`
	SessionKey string `koanf:"session_key" validate:"required"`
}

//
// Log section
//

// Log configures the zap logger.
type Log struct {
	Level string `koanf:"level" validate:"required,oneof=debug info warn error"`
	Dir   string `koanf:"dir"`
	Tee   bool   `koanf:"tee"`
}

//
// Paths section (runtime only)
//

// Paths is resolved at runtime, never set in YAML or env.
type Paths struct {
	Root string // BLUEOLIVE_ROOT or discovered parent
}

//
// Root aggregate
//

// Config is the immutable aggregate returned by Load() and cached in an
// atomic.Pointer for lock-free reads throughout the app lifetime.
type Config struct {
	HTTP         HTTP         `koanf:"http"`
	Database     Database     `koanf:"database"`
	Tenancy      Tenancy      `koanf:"tenancy"`
	Provisioning Provisioning `koanf:"provisioning"`
	Secrets      Secrets      `koanf:"secrets"`
	Log          Log          `koanf:"log"`
	Paths        Paths        `koanf:"-"`
}
