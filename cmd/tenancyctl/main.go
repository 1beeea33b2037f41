// cmd/tenancyctl/main.go
//
// BlueOlive – tenancy admin CLI.
//
// Commands
// --------
//
//	create-tenant        insert a tenant and provision its database
//	provision-tenant     re-run provisioning for an existing tenant
//	provision-shop       (re)provision one shop schema
//	create-superuser     add a control-database superuser
//	migrate-control      migrate the control database
//	migrate-all          re-provision every tenant and shop, in parallel
//	backfill-subdomains  derive missing shop subdomains (--dry-run)
//	resolve              show how a Host header maps to tenant and shop
//
// Every command except resolve bootstraps the same services as cmd/web.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, "tenancyctl:", err)
		os.Exit(1)
	}
}
