package catalog

import (
	"context"
	"strconv"
	"sync"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront-catalog/internal/catalog/variant"
	"github.com/xenking/storefront-catalog/internal/domain/product"
	"github.com/xenking/storefront-catalog/internal/search"
)

type mockStore struct {
	mu       sync.Mutex
	items    map[string]*product.Product
	getErr   error
	setErr   error
	setCalls []string
}

func newMockStore() *mockStore {
	return &mockStore{items: make(map[string]*product.Product)}
}

func (m *mockStore) Get(_ context.Context, key string) (*product.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.items[key], nil
}

func (m *mockStore) Set(_ context.Context, key string, p *product.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setCalls = append(m.setCalls, key)
	if m.setErr != nil {
		return m.setErr
	}
	m.items[key] = p
	return nil
}

type mockSearch struct {
	mu       sync.Mutex
	requests []search.Request
	respond  func(req search.Request) (*search.Response, error)
}

func (m *mockSearch) Search(_ context.Context, req search.Request) (*search.Response, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	if m.respond == nil {
		return &search.Response{}, nil
	}
	return m.respond(req)
}

func respondWith(items ...*product.Product) func(search.Request) (*search.Response, error) {
	return func(search.Request) (*search.Response, error) {
		return &search.Response{Items: items, Total: len(items)}, nil
	}
}

type mockPrices struct {
	mu             sync.Mutex
	reconciled     [][]*product.Product
	synced         [][]*product.Product
	reconcileErr   error
	syncErr        error
	onReconcile    func(products []*product.Product)
	onPlatformSync func(products []*product.Product)
}

func (m *mockPrices) Reconcile(_ context.Context, products []*product.Product) error {
	m.mu.Lock()
	m.reconciled = append(m.reconciled, products)
	m.mu.Unlock()
	if m.onReconcile != nil {
		m.onReconcile(products)
	}
	return m.reconcileErr
}

func (m *mockPrices) SyncPlatformPrices(_ context.Context, products []*product.Product) error {
	m.mu.Lock()
	m.synced = append(m.synced, products)
	m.mu.Unlock()
	if m.onPlatformSync != nil {
		m.onPlatformSync(products)
	}
	return m.syncErr
}

func newTestService(store *mockStore, idx *mockSearch, prices *mockPrices) *Service {
	return NewService(Deps{Cache: store, Search: idx, Prices: prices})
}

func simpleProduct(id int64, sku string, price float64) *product.Product {
	return &product.Product{
		ID:    id,
		SKU:   sku,
		Type:  product.TypeSimple,
		Name:  sku,
		Price: product.DecFloat(price),
	}
}

func TestSingle_InvalidArgument(t *testing.T) {
	svc := newTestService(newMockStore(), &mockSearch{}, &mockPrices{})

	_, err := svc.Single(context.Background(), SingleOptions{Key: "sku"})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestSingle_CacheHit(t *testing.T) {
	store := newMockStore()
	cached := simpleProduct(1, "MUG", 10)
	store.items["sku/MUG"] = cached
	idx := &mockSearch{}
	prices := &mockPrices{}
	svc := newTestService(store, idx, prices)

	got, err := svc.Single(context.Background(), SingleBySKU("MUG"))
	require.NoError(t, err)
	assert.Same(t, cached, got)

	assert.Empty(t, idx.requests, "cache hit never queries the index")
	require.Len(t, prices.synced, 1, "cache hit re-syncs platform prices")
	assert.Same(t, cached, prices.synced[0][0])
	assert.Empty(t, prices.reconciled, "tax was settled when the product was listed")

	require.NotNil(t, svc.State().Current())
	assert.Equal(t, "MUG", svc.State().Current().SKU)
	assert.Same(t, cached, svc.State().Original())
}

func TestSingle_CacheHitSyncFailure(t *testing.T) {
	store := newMockStore()
	store.items["sku/MUG"] = simpleProduct(1, "MUG", 10)
	prices := &mockPrices{syncErr: errors.New("backend down")}
	svc := newTestService(store, &mockSearch{}, prices)

	_, err := svc.Single(context.Background(), SingleBySKU("MUG"))
	var ue *UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "price sync", ue.Op)
}

func TestSingle_CacheMissFallsThroughToIndex(t *testing.T) {
	store := newMockStore()
	found := simpleProduct(2, "SHIRT", 25)
	idx := &mockSearch{respond: respondWith(found)}
	prices := &mockPrices{}
	svc := newTestService(store, idx, prices)

	got, err := svc.Single(context.Background(), SingleBySKU("SHIRT"))
	require.NoError(t, err)
	assert.Same(t, found, got)

	require.Len(t, idx.requests, 1)
	require.Len(t, prices.reconciled, 1, "index products get the full price pipeline")
	assert.Contains(t, store.setCalls, "sku/SHIRT", "resolved product is cached for next time")
}

func TestSingle_CacheErrorDegradesToIndex(t *testing.T) {
	store := newMockStore()
	store.getErr = errors.New("redis down")
	found := simpleProduct(2, "SHIRT", 25)
	idx := &mockSearch{respond: respondWith(found)}
	svc := newTestService(store, idx, &mockPrices{})

	got, err := svc.Single(context.Background(), SingleBySKU("SHIRT"))
	require.NoError(t, err)
	assert.Equal(t, "SHIRT", got.SKU)
}

func TestSingle_NotFound(t *testing.T) {
	svc := newTestService(newMockStore(), &mockSearch{}, &mockPrices{})

	_, err := svc.Single(context.Background(), SingleBySKU("GONE"))
	assert.ErrorIs(t, err, product.ErrNotFound)
}

func TestSingle_ConfigurableResolvesVariant(t *testing.T) {
	childA := &product.Product{ID: 11, SKU: "SHIRT-A", Type: product.TypeSimple, Price: product.DecFloat(20)}
	childB := &product.Product{ID: 12, SKU: "SHIRT-B", Type: product.TypeSimple, Price: product.DecFloat(22)}
	parent := &product.Product{
		ID:                   10,
		SKU:                  "SHIRT",
		Type:                 product.TypeConfigurable,
		Name:                 "Shirt",
		ConfigurableChildren: []*product.Product{childA, childB},
	}
	store := newMockStore()
	store.items["sku/SHIRT"] = parent
	svc := newTestService(store, &mockSearch{}, &mockPrices{})

	opts := SingleBySKU("SHIRT")
	opts.ChildSKU = "SHIRT-B"
	got, err := svc.Single(context.Background(), opts)
	require.NoError(t, err)
	assert.Same(t, parent, got, "the parent is returned, the variant lands in state")

	current := svc.State().Current()
	require.NotNil(t, current)
	assert.Equal(t, "SHIRT-B", current.SKU)
	assert.Equal(t, "Shirt", current.Name, "variant without a name keeps the original's")
	assert.Len(t, current.ConfigurableChildren, 2, "child set survives the merge")
}

func TestList(t *testing.T) {
	t.Run("search error wraps as upstream", func(t *testing.T) {
		idx := &mockSearch{respond: func(search.Request) (*search.Response, error) {
			return nil, errors.New("cluster red")
		}}
		svc := newTestService(newMockStore(), idx, &mockPrices{})

		_, err := svc.List(context.Background(), NewListOptions(search.NewQuery()))
		var ue *UpstreamError
		require.ErrorAs(t, err, &ue)
		assert.Equal(t, "search", ue.Op)
	})

	t.Run("reconcile error wraps as upstream", func(t *testing.T) {
		idx := &mockSearch{respond: respondWith(simpleProduct(1, "MUG", 10))}
		svc := newTestService(newMockStore(), idx, &mockPrices{reconcileErr: errors.New("no rules")})

		_, err := svc.List(context.Background(), NewListOptions(search.NewQuery()))
		var ue *UpstreamError
		require.ErrorAs(t, err, &ue)
		assert.Equal(t, "reconcile prices", ue.Op)
	})

	t.Run("page is cached per item and committed to state", func(t *testing.T) {
		store := newMockStore()
		idx := &mockSearch{respond: respondWith(
			simpleProduct(1, "MUG", 10),
			simpleProduct(2, "SHIRT", 25),
		)}
		svc := newTestService(store, idx, &mockPrices{})

		resp, err := svc.List(context.Background(), NewListOptions(search.NewQuery()))
		require.NoError(t, err)
		assert.Equal(t, 2, resp.Total)
		assert.ElementsMatch(t, []string{"sku/MUG", "sku/SHIRT"}, store.setCalls)
		assert.Len(t, svc.State().List(), 2)
	})

	t.Run("item without cache key falls back to id", func(t *testing.T) {
		store := newMockStore()
		noSKU := &product.Product{ID: 42, Type: product.TypeSimple}
		idx := &mockSearch{respond: respondWith(noSKU)}
		svc := newTestService(store, idx, &mockPrices{})

		_, err := svc.List(context.Background(), NewListOptions(search.NewQuery()))
		require.NoError(t, err)
		assert.Contains(t, store.setCalls, "id/42")
	})

	t.Run("cache write failure does not fail the page", func(t *testing.T) {
		store := newMockStore()
		store.setErr = errors.New("oom")
		idx := &mockSearch{respond: respondWith(simpleProduct(1, "MUG", 10))}
		svc := newTestService(store, idx, &mockPrices{})

		resp, err := svc.List(context.Background(), NewListOptions(search.NewQuery()))
		require.NoError(t, err)
		assert.Len(t, resp.Items, 1)
	})

	t.Run("state untouched when disabled", func(t *testing.T) {
		idx := &mockSearch{respond: respondWith(simpleProduct(1, "MUG", 10))}
		svc := newTestService(newMockStore(), idx, &mockPrices{})

		opts := NewListOptions(search.NewQuery())
		opts.UpdateState = false
		_, err := svc.List(context.Background(), opts)
		require.NoError(t, err)
		assert.Empty(t, svc.State().List())
	})
}

func TestConfigure(t *testing.T) {
	childA := simpleProduct(11, "SHIRT-A", 20)
	childB := simpleProduct(12, "SHIRT-B", 22)
	parent := &product.Product{
		ID:                   10,
		SKU:                  "SHIRT",
		Type:                 product.TypeConfigurable,
		ConfigurableChildren: []*product.Product{childA, childB},
	}

	t.Run("resolves without committing", func(t *testing.T) {
		svc := newTestService(newMockStore(), &mockSearch{}, &mockPrices{})
		got := svc.Configure(context.Background(), parent, variant.Configuration{SKU: "SHIRT-B"}, false)
		require.NotNil(t, got)
		assert.Equal(t, "SHIRT-B", got.SKU)
		assert.Nil(t, svc.State().Current())
	})

	t.Run("commits resolved variant as current", func(t *testing.T) {
		svc := newTestService(newMockStore(), &mockSearch{}, &mockPrices{})
		svc.SetOriginal(parent)
		svc.Configure(context.Background(), parent, variant.Configuration{SKU: "SHIRT-B"}, true)

		current := svc.State().Current()
		require.NotNil(t, current)
		assert.Equal(t, "SHIRT-B", current.SKU)
	})

	t.Run("nil product uses current state", func(t *testing.T) {
		svc := newTestService(newMockStore(), &mockSearch{}, &mockPrices{})
		svc.SetOriginal(parent)
		svc.SetCurrent(parent)

		got := svc.Configure(context.Background(), nil, variant.Configuration{SKU: "SHIRT-A"}, false)
		require.NotNil(t, got)
		assert.Equal(t, "SHIRT-A", got.SKU)
	})

	t.Run("nothing to configure", func(t *testing.T) {
		svc := newTestService(newMockStore(), &mockSearch{}, &mockPrices{})
		assert.Nil(t, svc.Configure(context.Background(), nil, variant.Configuration{}, true))
	})
}

func TestSetCurrentMergesOverOriginal(t *testing.T) {
	svc := newTestService(newMockStore(), &mockSearch{}, &mockPrices{})

	original := &product.Product{
		ID:   1,
		SKU:  "SHIRT",
		Type: product.TypeConfigurable,
		Name: "Shirt",
		ConfigurableChildren: []*product.Product{
			{ID: 2, SKU: "SHIRT-A"},
		},
	}
	svc.SetOriginal(original)
	svc.SetCurrent(&product.Product{ID: 2, SKU: "SHIRT-A", Type: product.TypeSimple, Price: product.DecFloat(20)})

	current := svc.State().Current()
	require.NotNil(t, current)
	assert.Equal(t, "SHIRT-A", current.SKU)
	assert.Equal(t, "Shirt", current.Name)
	assert.Len(t, current.ConfigurableChildren, 1)
	assert.Equal(t, "SHIRT", original.SKU, "original is never mutated")

	// Nil is tolerated and leaves state alone.
	svc.SetCurrent(nil)
	assert.Equal(t, "SHIRT-A", svc.State().Current().SKU)
}

func TestReset(t *testing.T) {
	svc := newTestService(newMockStore(), &mockSearch{}, &mockPrices{})

	original := simpleProduct(1, "MUG", 10)
	svc.SetOriginal(original)
	svc.SetCurrent(simpleProduct(2, "OTHER", 12))
	svc.State().setParent(simpleProduct(3, "PARENT", 0))
	svc.State().setConfiguration("color", variant.SelectedOption{ID: "7"})

	svc.Reset()

	assert.Same(t, original, svc.State().Current())
	assert.Nil(t, svc.State().Parent())
	assert.Empty(t, svc.State().Configuration())

	// Without an original the current product resets to empty.
	fresh := newTestService(newMockStore(), &mockSearch{}, &mockPrices{})
	fresh.Reset()
	require.NotNil(t, fresh.State().Current())
	assert.Empty(t, fresh.State().Current().SKU)
}

func TestRelated(t *testing.T) {
	svc := newTestService(newMockStore(), &mockSearch{}, &mockPrices{})

	items := []*product.Product{simpleProduct(1, "MUG", 10)}
	svc.Related("related-products", items)

	assert.Equal(t, items, svc.State().Related("related-products"))
	assert.Empty(t, svc.State().Related("upsell"))
}

func TestSetupAssociated(t *testing.T) {
	newGrouped := func() *product.Product {
		return &product.Product{
			ID:   1,
			SKU:  "SET",
			Type: product.TypeGrouped,
			ProductLinks: []*product.Link{
				{LinkType: product.LinkTypeAssociated, LinkedProductType: product.TypeSimple, LinkedSKU: "MUG"},
				{LinkType: product.LinkTypeAssociated, LinkedProductType: product.TypeSimple, LinkedSKU: "SHIRT"},
				{LinkType: "upsell", LinkedProductType: product.TypeSimple, LinkedSKU: "HAT"},
			},
		}
	}

	t.Run("sums member prices", func(t *testing.T) {
		store := newMockStore()
		mug := simpleProduct(10, "MUG", 10)
		mug.PriceInclTax = product.DecFloat(11)
		shirt := simpleProduct(11, "SHIRT", 25)
		shirt.PriceInclTax = product.DecFloat(27.5)
		store.items["sku/MUG"] = mug
		store.items["sku/SHIRT"] = shirt
		svc := newTestService(store, &mockSearch{}, &mockPrices{})

		grouped := newGrouped()
		require.NoError(t, svc.SetupAssociated(context.Background(), grouped))

		assert.True(t, grouped.Price.Decimal.Equal(product.DecFloat(35).Decimal))
		assert.True(t, grouped.PriceInclTax.Decimal.Equal(product.DecFloat(38.5).Decimal))
		assert.Same(t, mug, grouped.ProductLinks[0].Product)
		assert.Equal(t, 1, grouped.ProductLinks[0].Qty)
		assert.Nil(t, grouped.ProductLinks[2].Product, "non-associated links stay untouched")
		assert.Nil(t, svc.State().Current(), "member fetches do not touch state")
	})

	t.Run("missing member tolerated", func(t *testing.T) {
		store := newMockStore()
		store.items["sku/MUG"] = simpleProduct(10, "MUG", 10)
		svc := newTestService(store, &mockSearch{}, &mockPrices{})

		grouped := newGrouped()
		require.NoError(t, svc.SetupAssociated(context.Background(), grouped))

		assert.True(t, grouped.Price.Decimal.Equal(product.DecFloat(10).Decimal))
		assert.Nil(t, grouped.ProductLinks[1].Product)
	})

	t.Run("non-grouped is a no-op", func(t *testing.T) {
		svc := newTestService(newMockStore(), &mockSearch{}, &mockPrices{})
		p := simpleProduct(1, "MUG", 10)
		require.NoError(t, svc.SetupAssociated(context.Background(), p))
		assert.True(t, p.Price.Decimal.Equal(product.DecFloat(10).Decimal))
	})
}

func TestListPrefetchesGroupedMembers(t *testing.T) {
	store := newMockStore()
	store.items["sku/MUG"] = simpleProduct(10, "MUG", 10)
	grouped := &product.Product{
		ID:   1,
		SKU:  "SET",
		Type: product.TypeGrouped,
		ProductLinks: []*product.Link{
			{LinkType: product.LinkTypeAssociated, LinkedProductType: product.TypeSimple, LinkedSKU: "MUG"},
		},
	}
	idx := &mockSearch{respond: respondWith(grouped)}
	svc := newTestService(store, idx, &mockPrices{})

	_, err := svc.List(context.Background(), NewListOptions(search.NewQuery()))
	require.NoError(t, err)
	require.NotNil(t, grouped.ProductLinks[0].Product)
	assert.Equal(t, "MUG", grouped.ProductLinks[0].Product.SKU)
}

func TestCheckConfigurableParent(t *testing.T) {
	t.Run("parent recorded", func(t *testing.T) {
		parent := &product.Product{ID: 10, SKU: "SHIRT", Type: product.TypeConfigurable}
		idx := &mockSearch{respond: respondWith(parent)}
		svc := newTestService(newMockStore(), idx, &mockPrices{})

		child := simpleProduct(11, "SHIRT-A", 20)
		svc.CheckConfigurableParent(context.Background(), child)

		assert.Same(t, parent, svc.State().Parent())
		require.Len(t, idx.requests, 1)
		assert.Equal(t, 1, idx.requests[0].Size)
	})

	t.Run("only simple products have parents", func(t *testing.T) {
		idx := &mockSearch{}
		svc := newTestService(newMockStore(), idx, &mockPrices{})

		svc.CheckConfigurableParent(context.Background(), &product.Product{SKU: "SET", Type: product.TypeGrouped})
		assert.Empty(t, idx.requests)
	})

	t.Run("lookup failure is non-fatal", func(t *testing.T) {
		idx := &mockSearch{respond: func(search.Request) (*search.Response, error) {
			return nil, errors.New("timeout")
		}}
		svc := newTestService(newMockStore(), idx, &mockPrices{})

		svc.CheckConfigurableParent(context.Background(), simpleProduct(11, "SHIRT-A", 20))
		assert.Nil(t, svc.State().Parent())
	})
}

type mockAttributes struct {
	attrs  map[int64]AttributeInfo
	labels map[string]string // "attrID/optionID" -> label
	err    error
}

func (m *mockAttributes) Attributes(_ context.Context, ids []int64) ([]AttributeInfo, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := make([]AttributeInfo, 0, len(ids))
	for _, id := range ids {
		if a, ok := m.attrs[id]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *mockAttributes) OptionLabel(_ context.Context, attributeID int64, optionID string) (string, error) {
	return m.labels[strconv.FormatInt(attributeID, 10)+"/"+optionID], nil
}

func TestSetupVariants(t *testing.T) {
	attrs := &mockAttributes{
		attrs: map[int64]AttributeInfo{93: {ID: 93, Code: "color"}},
		labels: map[string]string{
			"93/5": "Blue",
			"93/7": "Red",
		},
	}
	parent := &product.Product{
		ID:   10,
		SKU:  "SHIRT",
		Type: product.TypeConfigurable,
		ConfigurableOptions: []product.ConfigurableOption{
			{AttributeID: 93, Label: "Color", Values: []string{"5", "7", "9"}},
		},
		ConfigurableChildren: []*product.Product{
			{ID: 11, SKU: "SHIRT-A", CustomAttributes: []product.Attribute{{Code: "color", Value: "7"}}},
		},
	}

	svc := NewService(Deps{Cache: newMockStore(), Search: &mockSearch{}, Prices: &mockPrices{}, Attributes: attrs})
	svc.SetOriginal(parent)
	svc.SetCurrent(parent.ConfigurableChildren[0])
	svc.SetupVariants(context.Background(), parent)

	options := svc.State().Options()
	require.Contains(t, options, "color")
	assert.Equal(t, []variant.SelectedOption{{ID: "5", Label: "Blue"}, {ID: "7", Label: "Red"}},
		options["color"], "unlabelled option value 9 is dropped")

	cfg := svc.State().Configuration()
	require.Contains(t, cfg, "color")
	assert.Equal(t, variant.SelectedOption{ID: "7", Label: "Red"}, cfg["color"])
}

func TestSetupVariants_Degrades(t *testing.T) {
	t.Run("no attribute resolver", func(t *testing.T) {
		svc := newTestService(newMockStore(), &mockSearch{}, &mockPrices{})
		svc.SetupVariants(context.Background(), &product.Product{Type: product.TypeConfigurable})
		assert.Empty(t, svc.State().Options())
	})

	t.Run("attribute lookup failure", func(t *testing.T) {
		attrs := &mockAttributes{err: errors.New("service down")}
		svc := NewService(Deps{Cache: newMockStore(), Search: &mockSearch{}, Prices: &mockPrices{}, Attributes: attrs})
		svc.SetupVariants(context.Background(), &product.Product{
			Type:                product.TypeConfigurable,
			ConfigurableOptions: []product.ConfigurableOption{{AttributeID: 93, Label: "Color"}},
		})
		assert.Empty(t, svc.State().Options())
	})
}

type mockCategories struct {
	path []Breadcrumb
	err  error
}

func (m *mockCategories) Path(context.Context, []product.CategoryRef) ([]Breadcrumb, error) {
	return m.path, m.err
}

func TestSetupBreadcrumbs(t *testing.T) {
	cats := &mockCategories{path: []Breadcrumb{{Name: "Men", Slug: "men"}, {Name: "Shirts", Slug: "shirts"}}}
	svc := NewService(Deps{Cache: newMockStore(), Search: &mockSearch{}, Prices: &mockPrices{}, Categories: cats})

	p := &product.Product{
		SKU:        "SHIRT",
		Name:       "Shirt",
		Categories: []product.CategoryRef{{ID: 4, Slug: "shirts", Name: "Shirts"}},
	}
	svc.SetupBreadcrumbs(context.Background(), p)

	bc := svc.State().CurrentBreadcrumbs()
	assert.Equal(t, "Shirt", bc.Name)
	assert.Len(t, bc.Routes, 2)

	t.Run("failure is non-fatal", func(t *testing.T) {
		failing := NewService(Deps{Cache: newMockStore(), Search: &mockSearch{}, Prices: &mockPrices{},
			Categories: &mockCategories{err: errors.New("tree unavailable")}})
		failing.SetupBreadcrumbs(context.Background(), p)
		assert.Empty(t, failing.State().CurrentBreadcrumbs().Name)
	})
}
