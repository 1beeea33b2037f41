// internal/component/registry.go
//
// Component registry (cycle-free).
//
// Each concrete component lives under components/<name> and calls
// component.Register() in an init() function.  cmd/web mounts every
// component's Routes() on the root router and, before that, invokes Init()
// with the shared services.
//
// Notes
// -----
//   - Components own business modules.  Mount records each module's tag in
//     the module table before any route is served, so routing and
//     migrations agree on where the component's tables live.
//   - Routes from all components share one URL space.  Two components that
//     register the same method and pattern is a startup error.

package component

import (
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/BootCodex/BlueOlive/internal/module"
)

// Initializer is optional.  If a Component implements it, Mount calls
// Init(deps) once before its routes are attached.
type Initializer interface {
	Init(Deps) error
}

// Component contract.
//
// Modules() may return nil if the component owns no tables.
// Routes() should mount every API endpoint with its full path, e.g:
//
//	r := chi.NewRouter()
//	r.Post("/api/login/", c.login)
//	return r
type Component interface {
	Name() string
	Modules() map[string]module.Tag
	Routes() chi.Router
}

var (
	mu    sync.RWMutex
	comps = map[string]Component{}
)

// Register is invoked from component init() functions.
func Register(c Component) {
	mu.Lock()
	comps[c.Name()] = c
	mu.Unlock()
}

// All returns every registered component ordered by name.
func All() []Component {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]Component, 0, len(comps))
	for _, c := range comps {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Mount tags modules, initialises, and attaches the routes of cs onto r.
func Mount(r chi.Router, cs []Component, d Deps) error {
	tags := d.Modules
	if tags == nil {
		tags = module.Default()
	}
	seen := map[string]string{}

	for _, c := range cs {
		for name, tag := range c.Modules() {
			tags.Register(name, tag)
		}
		if in, ok := c.(Initializer); ok {
			if err := in.Init(d); err != nil {
				return fmt.Errorf("component %s: init: %w", c.Name(), err)
			}
		}

		err := chi.Walk(c.Routes(), func(method, route string, h http.Handler, mws ...func(http.Handler) http.Handler) error {
			key := method + " " + route
			if owner, dup := seen[key]; dup {
				return fmt.Errorf("route %s already mounted by %s", key, owner)
			}
			seen[key] = c.Name()
			r.With(mws...).Method(method, route, h)
			return nil
		})
		if err != nil {
			return fmt.Errorf("component %s: %w", c.Name(), err)
		}
	}
	return nil
}
