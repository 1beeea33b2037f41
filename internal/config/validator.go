// internal/config/validator.go
//
// Thin wrapper around go-playground/validator.
//
// Context
// -------
// `internal/config/loader.go` calls `validateStruct` immediately after it
// unmarshals the merged Koanf tree and applies defaults.  Any validation
// error aborts startup, so the binary never runs with partial, malformed,
// or missing configuration.
//
// Custom rules
// ------------
//   • sqlident  – a bare PostgreSQL identifier: lower-case letter or
//     underscore, then up to 62 of [a-z0-9_].  Used for schema names.

package config

import (
	"regexp"

	"github.com/go-playground/validator/v10"
)

var sqlIdent = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

//
// validator instance (package-level singleton)
//

var v = newValidator()

func newValidator() *validator.Validate {
	val := validator.New()
	_ = val.RegisterValidation("sqlident", func(fl validator.FieldLevel) bool {
		return sqlIdent.MatchString(fl.Field().String())
	})
	return val
}

//
// public API
//

// validateStruct returns the first validation error, or nil on success.
func validateStruct(c *Config) error {
	return v.Struct(c)
}

// Validate checks any tagged struct with the same rules.  HTTP components
// use it for request bodies.
func Validate(s any) error {
	return v.Struct(s)
}
