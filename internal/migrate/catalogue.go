// internal/migrate/catalogue.go
//
// Migration catalogue: which module owns which version.
//
// File names follow <version>_<module>_<description>.sql.  Module names
// may contain underscores (shop_users, stock_control), so the owner is the
// longest registered module name that prefixes the remainder.

package migrate

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/pressly/goose/v3"

	"github.com/BootCodex/BlueOlive/internal/module"
)

// ErrUnattributed is returned for a migration file no module claims.
var ErrUnattributed = errors.New("migrate: migration has no registered module")

// Migration is one catalogued file.
type Migration struct {
	Version int64
	Module  string
	Name    string
}

// Catalogue lists migrations in version order.
type Catalogue struct {
	list      []Migration
	byVersion map[int64]Migration
}

// Load reads every *.sql file at the root of fsys.
func Load(fsys fs.FS, tags *module.Table) (*Catalogue, error) {
	if tags == nil {
		tags = module.Default()
	}
	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("migrate: list: %w", err)
	}

	mods := tags.Names()
	// Longest first, so shop_users wins over a hypothetical shop.
	sort.Slice(mods, func(i, j int) bool { return len(mods[i]) > len(mods[j]) })

	c := &Catalogue{byVersion: make(map[int64]Migration, len(names))}
	for _, name := range names {
		v, err := goose.NumericComponent(name)
		if err != nil {
			return nil, fmt.Errorf("migrate: %s: %w", name, err)
		}
		if prev, dup := c.byVersion[v]; dup {
			return nil, fmt.Errorf("migrate: version %d used by %s and %s", v, prev.Name, name)
		}
		mod := owner(path.Base(name), mods)
		if mod == "" {
			return nil, fmt.Errorf("%w: %s", ErrUnattributed, name)
		}
		m := Migration{Version: v, Module: mod, Name: name}
		c.list = append(c.list, m)
		c.byVersion[v] = m
	}
	sort.Slice(c.list, func(i, j int) bool { return c.list[i].Version < c.list[j].Version })
	return c, nil
}

func owner(base string, mods []string) string {
	_, rest, ok := strings.Cut(base, "_")
	if !ok {
		return ""
	}
	for _, m := range mods {
		if strings.HasPrefix(rest, m+"_") || rest == m+".sql" {
			return m
		}
	}
	return ""
}

// Migrations returns the catalogue in version order.
func (c *Catalogue) Migrations() []Migration {
	out := make([]Migration, len(c.list))
	copy(out, c.list)
	return out
}

// Module returns the owner of version.
func (c *Catalogue) Module(version int64) (string, bool) {
	m, ok := c.byVersion[version]
	return m.Module, ok
}

// Modules returns the distinct owners in first-version order.
func (c *Catalogue) Modules() []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range c.list {
		if !seen[m.Module] {
			seen[m.Module] = true
			out = append(out, m.Module)
		}
	}
	return out
}
