// cmd/web/main.go
//
// BlueOlive – HTTP entry point.
//
// Request life-cycle
// ------------------
//
//  1. Bootstrap (internal/app): Vault, config, logger, control DB,
//     registry, sealer, directory, router, runners, users, engine.
//
//  2. Start the registry evictor and mount every registered component.
//
//  3. Middleware chain, outermost first:
//
//     • RequestID, RealIP, Recoverer – chi basics
//     • ForceHTTPS                   – 308 to https outside dev hosts
//     • Security                     – response headers
//     • requestinfo                  – UA, geo, client IP
//     • session                      – principal from the sealed cookie
//     • Scoper                       – tenant, shop schema, bound connection
//
//  4. /metrics and /healthz are public paths, so the Scoper lets them
//     through untouched.
//
//  5. SIGINT/SIGTERM drain the server, stop the evictor, and close pools.
//
// Large comment blocks are framed by blank “//” lines; inline comments use
// a single “//”.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BootCodex/BlueOlive/internal/app"
	"github.com/BootCodex/BlueOlive/internal/component"
	"github.com/BootCodex/BlueOlive/internal/logger"
	"github.com/BootCodex/BlueOlive/internal/middleware"
	"github.com/BootCodex/BlueOlive/internal/requestinfo"
	"github.com/BootCodex/BlueOlive/internal/server"

	_ "github.com/BootCodex/BlueOlive/components/debtors"
	_ "github.com/BootCodex/BlueOlive/components/shopusers"
	_ "github.com/BootCodex/BlueOlive/components/tenancy"
)

const shutdownGrace = 20 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "blueolive:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	//
	// ── 1.  Bootstrap ───────────────────────────────────────────────────
	//
	a, err := app.Build(ctx, app.Options{Tee: logger.IsTTY()})
	if err != nil {
		return err
	}
	defer a.Close()
	log := a.Logger
	cfg := a.Config

	var active int
	if err := a.Control.GetContext(ctx, &active, `SELECT COUNT(*) FROM tenancy_tenant`); err != nil {
		log.Warn("tenant count unavailable", zap.Error(err))
	} else {
		log.Info("control database online", zap.Int("tenants", active))
	}

	//
	// ── 2.  Registry evictor + components ───────────────────────────────
	//
	a.Registry.Start(ctx)

	enricher, err := requestinfo.New(cfg.HTTP.GeoIPPath)
	if err != nil {
		return err
	}
	defer enricher.Close()

	scoper := middleware.NewScoper(a.Tenants, a.Registry, func() middleware.ScopeOptions {
		o := middleware.ScopeOptionsFrom(cfg.Tenancy)
		o.Logger = log
		return o
	}())

	r := chi.NewRouter()
	r.Use(chimw.RequestID, chimw.RealIP, chimw.Recoverer)
	if cfg.HTTP.ForceHTTPS {
		r.Use(func(next http.Handler) http.Handler { return middleware.ForceHTTPS(cfg.Tenancy.DevMarker, next) })
	}
	r.Use(middleware.Security(cfg.Tenancy.DevMarker))
	r.Use(enricher.Middleware)
	r.Use(a.Sessions.Middleware)
	r.Use(scoper.Handler)

	//
	// ── 3.  Ops endpoints ───────────────────────────────────────────────
	//
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := a.Control.PingContext(r.Context()); err != nil {
			http.Error(w, "control database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	err = component.Mount(r, component.All(), component.Deps{
		Config:    cfg,
		Router:    a.Router,
		Tenants:   a.Tenants,
		Provision: a.Engine,
		Users:     a.Users,
		Sessions:  a.Sessions,
		Modules:   a.Modules,
		Logger:    log,
	})
	if err != nil {
		return err
	}

	//
	// ── 4.  Serve until signalled ───────────────────────────────────────
	//
	srv := server.New(cfg.HTTP, r)
	errc := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", srv.Addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return srv.Shutdown(sctx)
}
