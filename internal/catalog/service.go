// Package catalog resolves products for display across the cache, the search
// index and the platform backend, and owns the observable catalog state.
package catalog

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront-catalog/internal/catalog/variant"
	"github.com/xenking/storefront-catalog/internal/domain/product"
	"github.com/xenking/storefront-catalog/internal/search"
)

// ErrInvalidArgument is returned when a lookup is missing its identifying
// value.
var ErrInvalidArgument = errors.New("missing lookup value")

// UpstreamError wraps a failed search or backend call.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: upstream unavailable: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Store is the persistent product cache consumed by the service. Get returns
// (nil, nil) on a miss; Set is best effort.
type Store interface {
	Get(ctx context.Context, key string) (*product.Product, error)
	Set(ctx context.Context, key string, p *product.Product) error
}

// PriceReconciler brings price fields to a self-consistent state.
// Reconcile runs the full pipeline (tax + platform sync); SyncPlatformPrices
// runs only the platform override, for products whose tax fields are already
// settled.
type PriceReconciler interface {
	Reconcile(ctx context.Context, products []*product.Product) error
	SyncPlatformPrices(ctx context.Context, products []*product.Product) error
}

// AttributeInfo identifies a platform attribute.
type AttributeInfo struct {
	ID   int64
	Code string
}

// AttributeResolver enriches configurable options with attribute metadata and
// human-readable option labels. Out-of-core collaborator.
type AttributeResolver interface {
	Attributes(ctx context.Context, ids []int64) ([]AttributeInfo, error)
	OptionLabel(ctx context.Context, attributeID int64, optionID string) (string, error)
}

// CategoryResolver derives the navigation path for a product's categories.
// Out-of-core collaborator.
type CategoryResolver interface {
	Path(ctx context.Context, refs []product.CategoryRef) ([]Breadcrumb, error)
}

// Deps bundles the service dependencies.
type Deps struct {
	Cache    Store
	Search   search.Client
	Prices   PriceReconciler
	Variants *variant.Resolver

	// Attributes and Categories are optional; when nil the corresponding
	// enrichment is skipped.
	Attributes AttributeResolver
	Categories CategoryResolver

	Logger *zap.Logger
}

// Service is the top-level catalog orchestrator.
type Service struct {
	cache      Store
	search     search.Client
	prices     PriceReconciler
	variants   *variant.Resolver
	attributes AttributeResolver
	categories CategoryResolver

	state *State
	lg    *zap.Logger
}

// NewService creates the catalog service with empty state.
func NewService(deps Deps) *Service {
	lg := deps.Logger
	if lg == nil {
		lg = zap.NewNop()
	}
	variants := deps.Variants
	if variants == nil {
		variants = variant.NewResolver(nil)
	}
	return &Service{
		cache:      deps.Cache,
		search:     deps.Search,
		prices:     deps.Prices,
		variants:   variants,
		attributes: deps.Attributes,
		categories: deps.Categories,
		state:      NewState(),
		lg:         lg,
	}
}

// State exposes the observable catalog state for readers.
func (s *Service) State() *State { return s.state }

// SingleOptions controls a single-product lookup.
type SingleOptions struct {
	// Key is the identifying field, "sku" by default.
	Key   string
	Value string
	// ChildSKU preselects a concrete variant of a configurable product.
	ChildSKU string
	// SetCurrent commits the product (and its resolved variant) into state.
	SetCurrent bool
	// SelectDefaultVariant makes the resolved variant the new current product.
	SelectDefaultVariant bool
}

// SingleBySKU returns SingleOptions for the common sku lookup with state
// commit enabled.
func SingleBySKU(sku string) SingleOptions {
	return SingleOptions{Key: "sku", Value: sku, SetCurrent: true, SelectDefaultVariant: true}
}

// Single resolves one product by an identifying field. The cache is consulted
// first; on a miss the lookup falls through to an exact-match index query.
// Cache hits get their prices re-synced with the platform when so configured.
func (s *Service) Single(ctx context.Context, opts SingleOptions) (*product.Product, error) {
	if opts.Key == "" {
		opts.Key = "sku"
	}
	if opts.Value == "" {
		return nil, errors.Wrapf(ErrInvalidArgument, "field %q", opts.Key)
	}

	key := product.CacheKey(opts.Key, opts.Value)
	cached, err := s.cache.Get(ctx, key)
	if err != nil {
		// A broken cache degrades to the index path.
		s.lg.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		cached = nil
	}

	if cached != nil {
		s.lg.Debug("single resolved from cache", zap.String("key", key))
		p := s.setupProduct(ctx, cached, opts)
		if err := s.prices.SyncPlatformPrices(ctx, []*product.Product{p}); err != nil {
			return nil, &UpstreamError{Op: "price sync", Err: err}
		}
		return p, nil
	}

	listOpts := NewListOptions(search.NewQuery().Match(opts.Key, opts.Value))
	listOpts.PrefetchGroupProducts = false
	listOpts.UpdateState = false
	resp, err := s.List(ctx, listOpts)
	if err != nil {
		return nil, err
	}
	if len(resp.Items) == 0 {
		return nil, errors.Wrapf(product.ErrNotFound, "%s %q", opts.Key, opts.Value)
	}
	return s.setupProduct(ctx, resp.Items[0], opts), nil
}

// setupProduct commits the retrieved product into state and resolves its
// variant. The return value is always the product itself; the resolved
// variant only lands in state as current.
func (s *Service) setupProduct(ctx context.Context, p *product.Product, opts SingleOptions) *product.Product {
	if opts.SetCurrent {
		s.SetOriginal(p)
	}
	if p.Type == product.TypeConfigurable && p.HasConfigurableChildren() {
		s.Configure(ctx, p, variant.Configuration{SKU: opts.ChildSKU}, opts.SelectDefaultVariant)
	} else if opts.SetCurrent {
		s.SetCurrent(p)
	}
	return p
}

// ListOptions controls a paginated catalog query.
type ListOptions struct {
	Query      *search.Query
	Start      int
	Size       int
	EntityType string
	Sort       string
	// CacheByKey is the identity field for per-item cache writes; items
	// lacking it fall back to id.
	CacheByKey string
	// PrefetchGroupProducts resolves grouped-product members after listing.
	PrefetchGroupProducts bool
	// UpdateState commits the page into the catalog state.
	UpdateState bool
}

// NewListOptions returns ListOptions with the defaults of the listing path:
// page size 50, sku cache keys, grouped prefetch and state commit enabled.
func NewListOptions(q *search.Query) ListOptions {
	return ListOptions{
		Query:                 q,
		Size:                  50,
		CacheByKey:            "sku",
		PrefetchGroupProducts: true,
		UpdateState:           true,
	}
}

// List executes the index query, reconciles prices for the whole page, writes
// each item into the cache under its own identity, prefetches grouped-product
// members and optionally commits the page into state.
//
// Search and reconciliation failures are returned to the caller; per-item
// enrichment failures (cache writes, grouped prefetch) are logged and do not
// fail the page.
func (s *Service) List(ctx context.Context, opts ListOptions) (*search.Response, error) {
	resp, err := s.search.Search(ctx, search.Request{
		Query:      opts.Query,
		Start:      opts.Start,
		Size:       opts.Size,
		EntityType: opts.EntityType,
		Sort:       opts.Sort,
	})
	if err != nil {
		return nil, &UpstreamError{Op: "search", Err: err}
	}

	if err := s.prices.Reconcile(ctx, resp.Items); err != nil {
		return nil, &UpstreamError{Op: "reconcile prices", Err: err}
	}

	keyField := opts.CacheByKey
	if keyField == "" {
		keyField = "sku"
	}
	for _, p := range resp.Items {
		field := keyField
		if p.FieldValue(field) == "" {
			field = "id"
		}
		key := product.CacheKey(field, p.FieldValue(field))
		if err := s.cache.Set(ctx, key, p); err != nil {
			s.lg.Warn("cache write failed", zap.String("key", key), zap.Error(err))
		}
		if p.Type == product.TypeGrouped && opts.PrefetchGroupProducts {
			if err := s.SetupAssociated(ctx, p); err != nil {
				s.lg.Warn("associated prefetch failed", zap.String("sku", p.SKU), zap.Error(err))
			}
		}
	}

	if opts.UpdateState {
		s.state.setList(resp.Items)
	}
	return resp, nil
}

// Configure resolves the variant of the given product (the current product
// when nil) matching the configuration. When selectDefaultVariant is set and
// the product has children, the resolved variant becomes the new current
// product; the variant is returned to the caller regardless.
func (s *Service) Configure(ctx context.Context, p *product.Product, cfg variant.Configuration, selectDefaultVariant bool) *product.Product {
	_ = ctx
	if p == nil {
		p = s.state.Current()
	}
	if p == nil {
		s.lg.Debug("configure without a product")
		return nil
	}
	resolved := s.variants.Resolve(p, cfg)
	if selectDefaultVariant && p.HasConfigurableChildren() {
		s.SetCurrent(resolved)
	}
	return resolved
}

// SetCurrent merges the variant's fields over a copy of the original product
// and commits the result as the new current product. The original is never
// mutated in place.
func (s *Service) SetCurrent(v *product.Product) {
	if v == nil {
		s.lg.Debug("unable to update current product")
		return
	}
	s.state.setCurrent(product.Merge(s.state.Original(), v))
}

// SetOriginal records the unconfigured product as retrieved.
func (s *Service) SetOriginal(p *product.Product) {
	if p == nil {
		s.lg.Debug("unable to set original product")
		return
	}
	s.state.setOriginal(p)
}

// Reset restores the current product to the original and clears the variant
// selection state.
func (s *Service) Reset() {
	s.state.reset()
}

// Related stores a product group under the relation key, e.g.
// "related-products".
func (s *Service) Related(key string, items []*product.Product) {
	s.state.setRelated(key, items)
}

// SetupAssociated prefetches the members of a grouped product: each
// associated simple link is fetched (without touching the current-product
// state), attached to its link with quantity 1, and its price accumulated
// into the parent's totals. Individual link failures are logged and do not
// abort the others.
func (s *Service) SetupAssociated(ctx context.Context, p *product.Product) error {
	if p.Type != product.TypeGrouped {
		return nil
	}

	var mu sync.Mutex
	p.Price = product.Dec(decimal.Zero)
	p.PriceInclTax = product.Dec(decimal.Zero)

	g, gctx := errgroup.WithContext(ctx)
	for _, link := range p.ProductLinks {
		if link.LinkType != product.LinkTypeAssociated || link.LinkedProductType != product.TypeSimple {
			continue
		}
		g.Go(func() error {
			assoc, err := s.Single(gctx, SingleOptions{Key: "sku", Value: link.LinkedSKU})
			if err != nil {
				s.lg.Warn("grouped member fetch failed",
					zap.String("parent", p.SKU),
					zap.String("sku", link.LinkedSKU),
					zap.Error(err))
				return nil
			}

			mu.Lock()
			defer mu.Unlock()
			link.Product = assoc
			link.Qty = 1
			if assoc.Price.Valid {
				p.Price = product.Dec(p.Price.Decimal.Add(assoc.Price.Decimal))
			}
			if assoc.PriceInclTax.Valid {
				p.PriceInclTax = product.Dec(p.PriceInclTax.Decimal.Add(assoc.PriceInclTax.Decimal))
			}
			return nil
		})
	}
	return g.Wait()
}

// CheckConfigurableParent issues a reverse lookup for a configurable product
// listing the given simple product as a child and records it as the parent.
// Compensates for the index not storing parent linkage on simple products.
// Failures are logged, non-fatal.
func (s *Service) CheckConfigurableParent(ctx context.Context, p *product.Product) {
	if p == nil || p.Type != product.TypeSimple {
		return
	}
	opts := NewListOptions(search.NewQuery().Match("configurable_children.sku", p.SKU))
	opts.Size = 1
	opts.PrefetchGroupProducts = false
	opts.UpdateState = false

	resp, err := s.List(ctx, opts)
	if err != nil {
		s.lg.Warn("configurable parent lookup failed", zap.String("sku", p.SKU), zap.Error(err))
		return
	}
	if len(resp.Items) > 0 {
		s.state.setParent(resp.Items[0])
	}
}

// SetupVariants builds the selector options and the current configuration for
// a configurable product from attribute metadata. Degrades with a log entry
// when the attribute collaborator is missing or failing.
func (s *Service) SetupVariants(ctx context.Context, p *product.Product) {
	if p == nil || p.Type != product.TypeConfigurable || s.attributes == nil {
		return
	}

	ids := make([]int64, 0, len(p.ConfigurableOptions))
	for _, opt := range p.ConfigurableOptions {
		ids = append(ids, opt.AttributeID)
	}
	attrs, err := s.attributes.Attributes(ctx, ids)
	if err != nil {
		s.lg.Warn("attribute lookup failed", zap.String("sku", p.SKU), zap.Error(err))
		return
	}
	byID := make(map[int64]AttributeInfo, len(attrs))
	for _, a := range attrs {
		byID[a.ID] = a
	}

	for _, opt := range p.ConfigurableOptions {
		bucket := strings.ToLower(opt.Label)
		for _, v := range opt.Values {
			label, err := s.attributes.OptionLabel(ctx, opt.AttributeID, v)
			if err != nil {
				s.lg.Warn("option label lookup failed",
					zap.Int64("attribute", opt.AttributeID),
					zap.String("option", v),
					zap.Error(err))
				continue
			}
			if strings.TrimSpace(label) == "" {
				continue
			}
			s.state.addOption(bucket, variant.SelectedOption{ID: v, Label: label})
		}
	}

	current := s.state.Current()
	if current == nil {
		return
	}
	flat := current.Flatten()
	for _, opt := range p.ConfigurableOptions {
		attr, ok := byID[opt.AttributeID]
		if !ok {
			continue
		}
		val, ok := flat[attr.Code]
		if !ok {
			continue
		}
		label, err := s.attributes.OptionLabel(ctx, opt.AttributeID, val)
		if err != nil {
			label = ""
		}
		s.state.setConfiguration(attr.Code, variant.SelectedOption{ID: val, Label: label})
	}
}

// SetupBreadcrumbs derives the navigation path for the product from its
// category references. Degrades with a log entry on failure.
func (s *Service) SetupBreadcrumbs(ctx context.Context, p *product.Product) {
	if p == nil || s.categories == nil || len(p.Categories) == 0 {
		return
	}
	path, err := s.categories.Path(ctx, p.Categories)
	if err != nil {
		s.lg.Warn("breadcrumb lookup failed", zap.String("sku", p.SKU), zap.Error(err))
		return
	}
	s.state.setBreadcrumbs(Breadcrumbs{Name: p.Name, Routes: path})
}
