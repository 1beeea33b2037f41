package dbrouter

import "fmt"

// Sourced is implemented by records that remember which alias loaded them.
type Sourced interface {
	SourceDB() string
}

// Origin is embeddable bookkeeping for Sourced.
type Origin struct {
	DB string `db:"-" json:"-"`
}

// SourceDB implements Sourced.
func (o Origin) SourceDB() string { return o.DB }

// From stamps the origin alias.
func (o *Origin) From(alias string) { o.DB = alias }

// AllowRelation reports whether a and b may reference each other.  Records
// with an unknown origin are allowed.
func AllowRelation(a, b Sourced) bool {
	if a == nil || b == nil {
		return true
	}
	da, db := a.SourceDB(), b.SourceDB()
	if da == "" || db == "" {
		return true
	}
	return da == db
}

// Relate returns ErrCrossDatabaseRelation when AllowRelation refuses.
func Relate(a, b Sourced) error {
	if AllowRelation(a, b) {
		return nil
	}
	return fmt.Errorf("%w: %s and %s", ErrCrossDatabaseRelation, a.SourceDB(), b.SourceDB())
}
