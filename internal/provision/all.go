package provision

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BootCodex/BlueOlive/internal/logger"
)

// Summary counts one ProvisionAll run.
type Summary struct {
	Tenants int
	Shops   int
	Failed  int
}

// ProvisionAll re-runs ProvisionTenant and then ProvisionShop for every
// branch shop, limit tenants at a time.  The head office is migrated by
// ProvisionTenant and is not counted in Summary.Shops.  One tenant's failure
// does not stop the others; all failures are returned together.
func (e *Engine) ProvisionAll(ctx context.Context, limit int) (Summary, error) {
	tenants, err := e.store.Tenants(ctx)
	if err != nil {
		return Summary{}, err
	}

	type outcome struct {
		shops  int
		failed int
		err    error
	}
	results := make([]outcome, len(tenants))

	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, t := range tenants {
		g.Go(func() error {
			res := &results[i]
			if err := e.ProvisionTenant(gctx, t); err != nil {
				res.failed++
				res.err = err
				return nil
			}
			shops, err := e.store.ShopsByTenant(gctx, t.ID)
			if err != nil {
				res.failed++
				res.err = fmt.Errorf("tenant %s: %w", t.Slug, err)
				return nil
			}
			for _, sh := range shops {
				if sh.IsHeadOffice {
					continue
				}
				if _, err := e.ProvisionShop(gctx, t, sh); err != nil {
					res.failed++
					res.err = multierr.Append(res.err, err)
					continue
				}
				res.shops++
			}
			e.log.Info("tenant migrated",
				zap.String(logger.FieldTenant, t.Slug),
				zap.Int("shops", res.shops),
				zap.Int("failed", res.failed),
			)
			return nil
		})
	}
	_ = g.Wait()

	sum := Summary{Tenants: len(tenants)}
	var errs error
	for _, r := range results {
		sum.Shops += r.shops
		sum.Failed += r.failed
		errs = multierr.Append(errs, r.err)
	}
	return sum, errs
}
