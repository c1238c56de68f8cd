// Package tax applies region-specific tax rules to pre-tax product prices.
package tax

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-catalog/internal/domain/product"
)

// Rule is a tax rule for a country/region pair. Rate is a percentage.
type Rule struct {
	Code     string
	Country  string
	Region   string
	Rate     decimal.Decimal
	Priority int
}

// RuleProvider lists the applicable tax rules, ordered by priority.
type RuleProvider interface {
	Rules(ctx context.Context) ([]Rule, error)
}

// Matches reports whether the rule applies to the given country and region.
// An empty or wildcard rule region matches any region.
func (r Rule) Matches(country, region string) bool {
	if !strings.EqualFold(r.Country, country) {
		return false
	}
	return r.Region == "" || r.Region == "*" || strings.EqualFold(r.Region, region)
}

// FindRule returns the first rule matching the country/region, in declared
// (priority) order.
func FindRule(rules []Rule, country, region string) (Rule, bool) {
	for _, r := range rules {
		if r.Matches(country, region) {
			return r, true
		}
	}
	return Rule{}, false
}

var one = decimal.NewFromInt(1)

// Calculate fills the product's tax-inclusive price fields from its pre-tax
// prices using the first matching rule. Pure and idempotent: the incl-tax
// fields are always recomputed from the net fields, so applying it twice with
// unchanged rules yields the same result. When no rule matches, the net prices
// carry over into the incl-tax fields unchanged (fail-open).
//
// Children of a configurable product are not descended into; the caller
// decides the recursion.
func Calculate(p *product.Product, rules []Rule, country, region string) {
	if p == nil || !p.Price.Valid {
		return
	}

	rate := decimal.Zero
	if r, ok := FindRule(rules, country, region); ok {
		rate = r.Rate.Div(decimal.NewFromInt(100))
	}

	price := p.Price.Decimal
	if !p.OriginalPrice.Valid {
		p.OriginalPrice = product.Dec(price)
	}

	special := decimal.Zero
	if p.SpecialPrice.Valid {
		special = p.SpecialPrice.Decimal
	}
	if special.IsPositive() && special.LessThan(price) {
		// Promotion: the special price becomes the effective net price, the
		// previous price is kept as the original. Once swapped, the guard no
		// longer fires on a second application.
		p.OriginalPrice = product.Dec(price)
		price = special
		p.Price = product.Dec(price)
	}

	p.PriceTax = product.Dec(price.Mul(rate))
	p.PriceInclTax = product.Dec(price.Mul(one.Add(rate)))

	orig := p.OriginalPrice.Decimal
	p.OriginalPriceTax = product.Dec(orig.Mul(rate))
	p.OriginalPriceInclTax = product.Dec(orig.Mul(one.Add(rate)))

	if special.IsPositive() {
		p.SpecialPriceTax = product.Dec(special.Mul(rate))
		p.SpecialPriceInclTax = product.Dec(special.Mul(one.Add(rate)))
	} else {
		p.SpecialPrice = product.Dec(decimal.Zero)
		p.SpecialPriceTax = product.Dec(decimal.Zero)
		p.SpecialPriceInclTax = product.Dec(decimal.Zero)
	}
}
