// Package variant selects the concrete child of a configurable product that
// matches a partial or complete attribute configuration.
package variant

import (
	"strconv"
	"strings"

	"github.com/xenking/storefront-catalog/internal/domain/product"
)

// SelectedOption is one chosen option value for a configurable attribute.
type SelectedOption struct {
	ID    string
	Label string
}

// Configuration describes the desired variant: either an exact child SKU or a
// set of attribute selections. An empty configuration selects the first child.
type Configuration struct {
	SKU        string
	Attributes map[string]SelectedOption
}

// Resolver picks child variants. The online probe lets a cached page keep an
// image when the selected variant's own image was never fetched.
type Resolver struct {
	online func() bool
}

// NewResolver creates a Resolver. A nil online probe is treated as always
// online.
func NewResolver(online func() bool) *Resolver {
	if online == nil {
		online = func() bool { return true }
	}
	return &Resolver{online: online}
}

// Resolve returns the child variant matching the configuration. A product
// without configurable children is its own resolution. When no child satisfies
// the full match, the first declared child is returned; Resolve never returns
// nil for a non-nil product.
func (r *Resolver) Resolve(p *product.Product, cfg Configuration) *product.Product {
	if !p.HasConfigurableChildren() {
		return p
	}

	var selected *product.Product
	for _, child := range p.ConfigurableChildren {
		if matches(child, cfg) {
			selected = child
			break
		}
	}
	if selected == nil {
		selected = p.ConfigurableChildren[0]
	}

	if selected.Image == "" && !r.online() {
		selected.Image = p.Image
	}
	return selected
}

// matches reports whether the child satisfies the configuration. An explicit
// SKU wins over attribute matching; otherwise every configured attribute must
// equal the child's flattened attribute value.
func matches(child *product.Product, cfg Configuration) bool {
	if cfg.SKU != "" {
		return child.SKU == cfg.SKU
	}
	flat := child.Flatten()
	for code, opt := range cfg.Attributes {
		if !valuesEqual(flat[code], opt.ID) {
			return false
		}
	}
	return true
}

// valuesEqual compares attribute values numerically when both sides parse as
// integers, tolerating string/number representation mismatches between
// sources, and falls back to exact string comparison otherwise.
func valuesEqual(a, b string) bool {
	ai, aerr := strconv.Atoi(strings.TrimSpace(a))
	bi, berr := strconv.Atoi(strings.TrimSpace(b))
	if aerr == nil && berr == nil {
		return ai == bi
	}
	return a == b
}
