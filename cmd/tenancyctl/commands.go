package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BootCodex/BlueOlive/internal/app"
	"github.com/BootCodex/BlueOlive/internal/host"
	"github.com/BootCodex/BlueOlive/internal/provision"
	"github.com/BootCodex/BlueOlive/internal/shopuser"
)

// withApp bootstraps, runs fn, and closes.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	a, err := app.Build(ctx, app.Options{Tee: true})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tenancyctl",
		Short:         "Administer BlueOlive tenants, shops, and migrations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newCreateTenantCmd(),
		newProvisionTenantCmd(),
		newProvisionShopCmd(),
		newCreateSuperuserCmd(),
		newMigrateControlCmd(),
		newMigrateAllCmd(),
		newBackfillCmd(),
		newResolveCmd(),
	)
	return root
}

func newCreateTenantCmd() *cobra.Command {
	var req provision.TenantRequest
	cmd := &cobra.Command{
		Use:   "create-tenant",
		Short: "Insert a tenant and provision its database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.CreateTenant(ctx, req)
				if t != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "tenant %d %s (alias %s, database %s)\n", t.ID, t.Slug, t.Alias(), t.DBName)
				}
				return err
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.Name, "name", "", "Tenant name (required)")
	f.StringVar(&req.Slug, "slug", "", "Slug; derived from name when blank")
	f.StringVar(&req.Subdomain, "subdomain", "", "Subdomain; derived from slug when blank")
	f.StringVar(&req.Email, "email", "", "Contact email, also the admin username")
	f.StringVar(&req.AdminPassword, "admin-password", "", "Create a tenant admin with this password")
	f.StringVar(&req.DBName, "db-name", "", "Database name; derived from slug when blank")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newProvisionTenantCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "provision-tenant <slug>",
		Short: "Create, register, and migrate a tenant's database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				t, err := a.Tenants.TenantBySlug(ctx, args[0])
				if err != nil {
					return err
				}
				if err := a.Engine.ProvisionTenant(ctx, t); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "tenant %s provisioned\n", t.Slug)
				return nil
			})
		},
	}
}

func newProvisionShopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "provision-shop <schema>",
		Short: "Create and migrate one shop schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				sh, err := a.Tenants.ShopBySchema(ctx, args[0])
				if err != nil {
					return err
				}
				t, err := a.Tenants.TenantByID(ctx, sh.TenantID)
				if err != nil {
					return err
				}
				if err := a.Registry.Register(ctx, t); err != nil {
					return err
				}
				rep, err := a.Engine.ProvisionShop(ctx, t, sh)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "schema %s: %d applied, %d pre-marked\n", rep.Schema, len(rep.Applied), len(rep.PreMarked))
				fmt.Fprintf(out, "tables: %s\n", strings.Join(rep.Tables, ", "))
				return nil
			})
		},
	}
}

func newCreateSuperuserCmd() *cobra.Command {
	var nu shopuser.NewUser
	cmd := &cobra.Command{
		Use:   "create-superuser",
		Short: "Add a superuser to the control database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			nu.IsSuperuser, nu.IsStaff = true, true
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				u, err := a.Users.Create(ctx, nu)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "superuser %d %s\n", u.ID, u.Username)
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&nu.Username, "username", "", "Username (required)")
	f.StringVar(&nu.Email, "email", "", "Email")
	f.StringVar(&nu.Password, "password", "", "Password (required)")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newMigrateControlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate-control",
		Short: "Apply control-plane migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				res, err := a.MigrateControl(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "control: %d applied, %d pre-marked in %s\n",
					len(res.Applied), len(res.PreMarked), res.Duration)
				return nil
			})
		},
	}
}

func newMigrateAllCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "migrate-all",
		Short: "Re-provision every tenant database and shop schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if _, err := a.MigrateControl(ctx); err != nil {
					return fmt.Errorf("control: %w", err)
				}
				sum, err := a.Engine.ProvisionAll(ctx, limit)
				fmt.Fprintf(cmd.OutOrStdout(), "%d tenants, %d shops migrated, %d failures\n",
					sum.Tenants, sum.Shops, sum.Failed)
				if err != nil {
					a.Logger.Error("migrate-all finished with failures", zap.Error(err))
				}
				return err
			})
		},
	}
	cmd.Flags().IntVar(&limit, "concurrency", 4, "Tenants migrated at once")
	return cmd
}

func newBackfillCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "backfill-subdomains",
		Short: "Populate subdomain for shops that are missing it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				out := cmd.OutOrStdout()
				rows, err := a.Engine.BackfillSubdomains(ctx, dryRun)
				if len(rows) == 0 && err == nil {
					fmt.Fprintln(out, "All shops already have subdomains!")
					return nil
				}
				for _, b := range rows {
					if b.Applied {
						fmt.Fprintf(out, "Updated shop %q (ID: %d) with subdomain: %s\n", b.Name, b.ShopID, b.Subdomain)
					} else {
						fmt.Fprintf(out, "[DRY RUN] Would update shop %q (ID: %d) with subdomain: %s\n", b.Name, b.ShopID, b.Subdomain)
					}
				}
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be updated without updating")
	return cmd
}

func newResolveCmd() *cobra.Command {
	var devMarker string
	cmd := &cobra.Command{
		Use:   "resolve <host>",
		Short: "Show the tenant and shop subdomains a Host header carries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, s := host.Resolve(args[0], devMarker)
			fmt.Fprintf(cmd.OutOrStdout(), "tenant=%q shop=%q\n", t, s)
			return nil
		},
	}
	cmd.Flags().StringVar(&devMarker, "dev-marker", "localhost", "Host substring that selects dev parsing")
	return cmd
}
