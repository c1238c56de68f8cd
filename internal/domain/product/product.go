// Package product defines the catalog product model shared by the search
// index, the platform backend, and the local cache.
package product

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist in any
// retrieval source.
var ErrNotFound = errors.New("product not found")

// Type is the platform product type tag. Behavior branches on it: configurable
// products resolve to one of their children, grouped products aggregate their
// linked simple products.
type Type string

const (
	TypeSimple       Type = "simple"
	TypeConfigurable Type = "configurable"
	TypeGrouped      Type = "grouped"
)

// Attribute is a raw platform attribute attached to a product.
type Attribute struct {
	Code  string
	Value string
}

// ConfigurableOption describes one attribute axis that distinguishes the
// children of a configurable product, e.g. color or size.
type ConfigurableOption struct {
	AttributeID int64
	Label       string
	// Values holds the option value indexes available across children.
	Values []string
}

// LinkTypeAssociated marks links from a grouped product to its members.
const LinkTypeAssociated = "associated"

// Link connects a product to an associated product, e.g. the members of a
// grouped product. Product and Qty are filled in when the link is prefetched.
type Link struct {
	LinkType          string
	LinkedProductType Type
	LinkedSKU         string
	Product           *Product
	Qty               int
}

// CategoryRef points at a category the product belongs to.
type CategoryRef struct {
	ID   int64
	Slug string
	Name string
}

// Product is the central catalog entity. A product may originate from the
// search index (tax-exclusive, possibly stale prices), from the platform
// backend (authoritative, tax-inclusive prices), or from the local cache.
//
// The nine price fields form a single consistency unit: they are updated as a
// set and either all carry values or all are null (Valid=false). When
// PriceIsCurrent is false the fields must not be rendered as-is.
type Product struct {
	ID   int64
	SKU  string
	Type Type

	Name  string
	Slug  string
	Image string

	// Signature is the opaque price version token (sgn) from the platform.
	Signature string

	Price                decimal.NullDecimal
	PriceInclTax         decimal.NullDecimal
	OriginalPrice        decimal.NullDecimal
	OriginalPriceInclTax decimal.NullDecimal
	SpecialPrice         decimal.NullDecimal
	SpecialPriceInclTax  decimal.NullDecimal
	PriceTax             decimal.NullDecimal
	SpecialPriceTax      decimal.NullDecimal
	OriginalPriceTax     decimal.NullDecimal

	PriceIsCurrent   bool
	PriceRefreshedAt *time.Time

	ConfigurableChildren []*Product
	ConfigurableOptions  []ConfigurableOption
	ProductLinks         []*Link
	CustomAttributes     []Attribute
	Categories           []CategoryRef
}

// Dec wraps a decimal into a valid NullDecimal.
func Dec(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

// DecFloat wraps a float into a valid NullDecimal.
func DecFloat(f float64) decimal.NullDecimal {
	return Dec(decimal.NewFromFloat(f))
}

// HasConfigurableChildren reports whether the product carries a non-empty
// child variant set.
func (p *Product) HasConfigurableChildren() bool {
	return p != nil && len(p.ConfigurableChildren) > 0
}

// ClearPrices nulls out the whole price tuple together with the freshness
// metadata. Used before a platform sync so stale index prices are never
// rendered while the sync is pending.
func (p *Product) ClearPrices() {
	p.Price = decimal.NullDecimal{}
	p.PriceInclTax = decimal.NullDecimal{}
	p.OriginalPrice = decimal.NullDecimal{}
	p.OriginalPriceInclTax = decimal.NullDecimal{}
	p.SpecialPrice = decimal.NullDecimal{}
	p.SpecialPriceInclTax = decimal.NullDecimal{}
	p.PriceTax = decimal.NullDecimal{}
	p.SpecialPriceTax = decimal.NullDecimal{}
	p.OriginalPriceTax = decimal.NullDecimal{}
	p.PriceIsCurrent = false
	p.PriceRefreshedAt = nil
}

// Flatten projects the custom attributes into a directly addressable
// code -> value map, so variant configurations can be compared uniformly
// against child attributes.
func (p *Product) Flatten() map[string]string {
	if len(p.CustomAttributes) == 0 {
		return nil
	}
	out := make(map[string]string, len(p.CustomAttributes))
	for _, a := range p.CustomAttributes {
		out[a.Code] = a.Value
	}
	return out
}

// FieldValue returns the product's value for an identity field, or "" when
// the field is absent. Known fields are sku, id and any custom attribute code.
func (p *Product) FieldValue(field string) string {
	switch field {
	case "sku":
		return p.SKU
	case "id":
		if p.ID == 0 {
			return ""
		}
		return decimal.NewFromInt(p.ID).String()
	default:
		for _, a := range p.CustomAttributes {
			if a.Code == field {
				return a.Value
			}
		}
		return ""
	}
}

// CacheKey builds the normalized "<field>/<value>" identity key used by the
// cache store.
func CacheKey(field, value string) string {
	return field + "/" + value
}

// Clone returns a shallow copy of the product. Slice members are shared with
// the receiver; price fields are value types and therefore independent.
func (p *Product) Clone() *Product {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

// Merge overlays a variant's fields over a copy of the original product and
// returns the result. Scalar fields (identity, prices, freshness, image) come
// from the variant; collection fields the variant does not carry, such as the
// child set, options and links, survive from the original. The original is
// never mutated.
func Merge(original, variant *Product) *Product {
	if original == nil {
		return variant.Clone()
	}
	out := original.Clone()

	out.ID = variant.ID
	out.SKU = variant.SKU
	out.Type = variant.Type
	out.Signature = variant.Signature
	if variant.Name != "" {
		out.Name = variant.Name
	}
	if variant.Slug != "" {
		out.Slug = variant.Slug
	}
	if variant.Image != "" {
		out.Image = variant.Image
	}

	out.Price = variant.Price
	out.PriceInclTax = variant.PriceInclTax
	out.OriginalPrice = variant.OriginalPrice
	out.OriginalPriceInclTax = variant.OriginalPriceInclTax
	out.SpecialPrice = variant.SpecialPrice
	out.SpecialPriceInclTax = variant.SpecialPriceInclTax
	out.PriceTax = variant.PriceTax
	out.SpecialPriceTax = variant.SpecialPriceTax
	out.OriginalPriceTax = variant.OriginalPriceTax
	out.PriceIsCurrent = variant.PriceIsCurrent
	out.PriceRefreshedAt = variant.PriceRefreshedAt

	if len(variant.CustomAttributes) > 0 {
		out.CustomAttributes = variant.CustomAttributes
	}
	if len(variant.ConfigurableChildren) > 0 {
		out.ConfigurableChildren = variant.ConfigurableChildren
	}
	if len(variant.ConfigurableOptions) > 0 {
		out.ConfigurableOptions = variant.ConfigurableOptions
	}
	if len(variant.ProductLinks) > 0 {
		out.ProductLinks = variant.ProductLinks
	}
	if len(variant.Categories) > 0 {
		out.Categories = variant.Categories
	}
	return out
}
