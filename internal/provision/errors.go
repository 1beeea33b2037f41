package provision

import "fmt"

// Provisioning steps, as reported in StepError and logs.
const (
	StepCreateDatabase = "create database"
	StepRegister       = "register connection"
	StepMigrate        = "migrate"
	StepHeadOffice     = "head office"
	StepAdmin          = "tenant admin"
	StepCreateSchema   = "create schema"
	StepVersionTable   = "version table"
	StepVerify         = "verify tables"
)

// StepError names the tenant, shop, and step a provisioning run failed at.
type StepError struct {
	Kind   string // "tenant" or "shop"
	Tenant string
	Schema string
	Step   string
	Err    error
}

func (e *StepError) Error() string {
	if e.Schema != "" {
		return fmt.Sprintf("provision %s %s/%s: %s: %v", e.Kind, e.Tenant, e.Schema, e.Step, e.Err)
	}
	return fmt.Sprintf("provision %s %s: %s: %v", e.Kind, e.Tenant, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
