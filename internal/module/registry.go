// internal/module/registry.go
//
// Module classification table.
//
// Every business module (an app in the migration catalogue, and a key the
// router is asked about) carries exactly one Tag:
//
//	Control      lives only in the control database (tenancy, sessions, admin).
//	Tenant       lives in the tenant database's public schema (shop_core).
//	Shop         lives in every shop schema (debtors, creditors, …).
//	CrossSchema  lives in the control database AND every shop schema
//	             (auth, shop_users).
//
// Components declare their modules in init() through Register.  Unknown
// names classify as Control so a typo can never route data into a tenant.
package module

import (
	"fmt"
	"sort"
	"sync"
)

// Tag classifies a module for routing and migration.
type Tag int

const (
	Control Tag = iota
	Tenant
	Shop
	CrossSchema
)

func (t Tag) String() string {
	switch t {
	case Control:
		return "control"
	case Tenant:
		return "tenant"
	case Shop:
		return "shop"
	case CrossSchema:
		return "cross-schema"
	default:
		return fmt.Sprintf("Tag(%d)", int(t))
	}
}

// Builtin module names.
const (
	Tenancy        = "tenancy"
	Sessions       = "sessions"
	Admin          = "admin"
	ContentTypes   = "contenttypes"
	Auth           = "auth"
	ShopUsers      = "shop_users"
	ShopCore       = "shop_core"
	Debtors        = "debtors"
	Creditors      = "creditors"
	StockControl   = "stock_control"
	CashBook       = "cash_book"
	PurchaseOrders = "purchase_orders"
)

var builtins = map[string]Tag{
	Tenancy:        Control,
	Sessions:       Control,
	Admin:          Control,
	ContentTypes:   Control,
	Auth:           CrossSchema,
	ShopUsers:      CrossSchema,
	ShopCore:       Tenant,
	Debtors:        Shop,
	Creditors:      Shop,
	StockControl:   Shop,
	CashBook:       Shop,
	PurchaseOrders: Shop,
}

// CrossSchemaOrder lists the cross-schema modules in migration order.
var CrossSchemaOrder = []string{Auth, ShopUsers}

// Table maps module names to tags.  Safe for concurrent use.
type Table struct {
	mu   sync.RWMutex
	tags map[string]Tag
}

// NewTable returns a Table seeded with the builtin modules.
func NewTable() *Table {
	t := &Table{tags: make(map[string]Tag, len(builtins))}
	for k, v := range builtins {
		t.tags[k] = v
	}
	return t
}

// Register sets the tag for name, replacing any previous value.
func (t *Table) Register(name string, tag Tag) {
	t.mu.Lock()
	t.tags[name] = tag
	t.mu.Unlock()
}

// Tag returns the tag for name.  Unknown modules are Control.
func (t *Table) Tag(name string) Tag {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if tag, ok := t.tags[name]; ok {
		return tag
	}
	return Control
}

// Known reports whether name was registered.
func (t *Table) Known(name string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.tags[name]
	return ok
}

// Names returns every registered module name, sorted.
func (t *Table) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.tags))
	for k := range t.tags {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

//
// Process-wide default table
//

var defaultTable = NewTable()

// Default returns the process-wide table.
func Default() *Table { return defaultTable }

// Register is called from component init() functions.
func Register(name string, tag Tag) { defaultTable.Register(name, tag) }

// Lookup returns the tag of name in the default table.
func Lookup(name string) Tag { return defaultTable.Tag(name) }
