// Package pricing reconciles index-derived product prices with the
// authoritative platform backend, producing self-consistent price tuples.
package pricing

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/storefront-catalog/internal/catalog/tax"
	"github.com/xenking/storefront-catalog/internal/domain/product"
)

// PriceRecord is an authoritative price quote for one product, already
// tax-adjusted by the platform.
type PriceRecord struct {
	ID        int64
	Signature string

	FinalInclTax   decimal.Decimal
	RegularInclTax decimal.Decimal
	SpecialInclTax decimal.Decimal

	FinalNet   decimal.Decimal
	RegularNet decimal.Decimal
	SpecialNet decimal.Decimal
}

// PriceSource fetches authoritative price records for a batch of SKUs.
type PriceSource interface {
	Prices(ctx context.Context, skus []string) ([]PriceRecord, error)
}

// Observer is notified after a product's price tuple has been updated from
// the platform. Notifications are best-effort and must not block.
type Observer interface {
	PriceUpdated(p *product.Product)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(p *product.Product)

func (f ObserverFunc) PriceUpdated(p *product.Product) { f(p) }

// Config selects the reconciliation mode and sync behavior.
type Config struct {
	// ServerSideTax skips local tax calculation; prices from the index are
	// assumed tax-adjusted already.
	ServerSideTax bool
	// AlwaysSyncPlatformPrices overrides index prices with platform quotes.
	AlwaysSyncPlatformPrices bool
	// ClearPricesBeforeSync nulls the price tuple before the platform call so
	// stale prices are never rendered while the sync is pending.
	ClearPricesBeforeSync bool
	// WaitForPlatformSync makes Reconcile block until the platform responded.
	// When false, Reconcile returns immediately with PriceIsCurrent=false and
	// the sync finishes on a background goroutine against the same product
	// pointers.
	WaitForPlatformSync bool

	Country string
	Region  string
}

// Reconciler orchestrates tax calculation and platform price sync over product
// batches, including nested configurable children.
type Reconciler struct {
	cfg      Config
	rules    tax.RuleProvider
	source   PriceSource
	observer Observer
	lg       *zap.Logger
	now      func() time.Time
}

// New creates a Reconciler. rules may be nil when cfg.ServerSideTax is set;
// source may be nil when cfg.AlwaysSyncPlatformPrices is unset; observer may
// be nil.
func New(cfg Config, rules tax.RuleProvider, source PriceSource, observer Observer, lg *zap.Logger) *Reconciler {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Reconciler{
		cfg:      cfg,
		rules:    rules,
		source:   source,
		observer: observer,
		lg:       lg,
		now:      time.Now,
	}
}

// Reconcile brings the price fields of every product, and of every
// configurable child, to a self-consistent state.
//
// In client-side tax mode it first fetches the tax rules and applies them
// locally; in server-side mode that step is skipped. It then overrides prices
// from the platform when configured to do so.
//
// Unless cfg.WaitForPlatformSync is set, Reconcile may return before the
// platform responded: every product is then marked PriceIsCurrent=false and
// the update lands later in-place on the same pointers. Callers that copy
// products at return time will not observe that update.
func (r *Reconciler) Reconcile(ctx context.Context, products []*product.Product) error {
	if len(products) == 0 {
		return nil
	}

	if !r.cfg.ServerSideTax {
		rules, err := r.rules.Rules(ctx)
		if err != nil {
			return errors.Wrap(err, "fetch tax rules")
		}
		for _, p := range products {
			tax.Calculate(p, rules, r.cfg.Country, r.cfg.Region)
			for _, child := range p.ConfigurableChildren {
				tax.Calculate(child, rules, r.cfg.Country, r.cfg.Region)
			}
		}
	}

	return r.SyncPlatformPrices(ctx, products)
}

// SyncPlatformPrices runs only the platform price override, without the local
// tax step. The cache-hit path uses it directly: cached products already carry
// tax-adjusted fields from the time they were listed.
func (r *Reconciler) SyncPlatformPrices(ctx context.Context, products []*product.Product) error {
	if !r.cfg.AlwaysSyncPlatformPrices || len(products) == 0 {
		return nil
	}

	if r.cfg.ClearPricesBeforeSync {
		for _, p := range products {
			p.ClearPrices()
			for _, child := range p.ConfigurableChildren {
				child.ClearPrices()
			}
		}
	}

	skus := collectSKUs(products)
	r.lg.Debug("starting platform price sync", zap.Strings("skus", skus))

	if r.cfg.WaitForPlatformSync {
		return r.applySync(ctx, products, skus)
	}

	for _, p := range products {
		p.PriceIsCurrent = false
		p.PriceRefreshedAt = nil
	}
	go func() {
		// The early return must not cancel the dispatched batch.
		if err := r.applySync(context.WithoutCancel(ctx), products, skus); err != nil {
			r.lg.Warn("platform price sync failed", zap.Error(err))
		}
	}()
	return nil
}

// collectSKUs gathers the SKU set to sync: all top-level SKUs, expanded to
// children SKUs only for a single-product batch. A list never expands to
// children to keep catalog-page sync cost linear.
func collectSKUs(products []*product.Product) []string {
	seen := make(map[string]struct{}, len(products))
	skus := make([]string, 0, len(products))
	add := func(sku string) {
		if sku == "" {
			return
		}
		if _, ok := seen[sku]; ok {
			return
		}
		seen[sku] = struct{}{}
		skus = append(skus, sku)
	}
	for _, p := range products {
		add(p.SKU)
	}
	if len(products) == 1 {
		for _, child := range products[0].ConfigurableChildren {
			add(child.SKU)
		}
	}
	return skus
}

func (r *Reconciler) applySync(ctx context.Context, products []*product.Product, skus []string) error {
	records, err := r.source.Prices(ctx, skus)
	if err != nil {
		return errors.Wrap(err, "platform prices")
	}

	byID := make(map[int64]PriceRecord, len(records))
	for _, rec := range records {
		byID[rec.ID] = rec
	}

	now := r.now()
	for _, p := range products {
		rec, ok := byID[p.ID]
		if !ok {
			// Missing backend record is not an error, sync is just
			// incomplete for this item.
			continue
		}
		r.applyRecord(p, rec, now)
		for _, child := range p.ConfigurableChildren {
			childRec, ok := byID[child.ID]
			if !ok {
				continue
			}
			r.applyRecord(child, childRec, now)
		}
	}
	return nil
}

// applyRecord copies the platform quote onto the product as one atomic tuple
// update and notifies the observer.
func (r *Reconciler) applyRecord(p *product.Product, rec PriceRecord, now time.Time) {
	p.Signature = rec.Signature

	p.PriceInclTax = product.Dec(rec.FinalInclTax)
	p.OriginalPriceInclTax = product.Dec(rec.RegularInclTax)
	p.SpecialPriceInclTax = product.Dec(rec.SpecialInclTax)

	p.Price = product.Dec(rec.FinalNet)
	p.OriginalPrice = product.Dec(rec.RegularNet)
	p.SpecialPrice = product.Dec(rec.SpecialNet)

	p.PriceTax = product.Dec(rec.FinalInclTax.Sub(rec.FinalNet))
	p.OriginalPriceTax = product.Dec(rec.RegularInclTax.Sub(rec.RegularNet))
	p.SpecialPriceTax = product.Dec(rec.SpecialInclTax.Sub(rec.SpecialNet))

	// A final price at or above the regular price is not a promotion, no
	// matter what the backend reported in its special price field.
	if rec.FinalInclTax.GreaterThanOrEqual(rec.RegularInclTax) {
		p.SpecialPrice = product.Dec(decimal.Zero)
		p.SpecialPriceInclTax = product.Dec(decimal.Zero)
		p.SpecialPriceTax = product.Dec(decimal.Zero)
	}

	p.PriceIsCurrent = true
	refreshed := now
	p.PriceRefreshedAt = &refreshed

	if r.observer != nil {
		r.observer.PriceUpdated(p)
	}
}
