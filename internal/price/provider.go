// Package price computes feed prices, preferring a child's parent pricing.
package price

import (
	"github.com/dshills/catalogfeed/internal/catalog"
)

// Price field names as they appear in the feed
const (
	FieldFinalPrice   = "final_price"
	FieldRegularPrice = "regular_price"
	FieldMaxPrice     = "max_price"
)

// Fields lists every price key in output order
var Fields = []string{FieldFinalPrice, FieldRegularPrice, FieldMaxPrice}

// ParentFinder resolves a product's parent, nil when it has none
type ParentFinder interface {
	ParentOf(childID int64) *catalog.Product
}

// Provider computes prices for products in one run
type Provider struct {
	parents ParentFinder
}

// NewProvider creates a provider. A nil finder means no product has a parent.
func NewProvider(parents ParentFinder) *Provider {
	return &Provider{parents: parents}
}

// GetPrices returns each price key not in ignored. A positive parent price wins,
// otherwise the product's own price is used; absent prices are 0.
func (p *Provider) GetPrices(product *catalog.Product, ignored map[string]bool) map[string]float64 {
	prices := make(map[string]float64, len(Fields))
	if ignored[FieldFinalPrice] && ignored[FieldRegularPrice] && ignored[FieldMaxPrice] {
		return prices
	}

	var parent *catalog.Product
	if p.parents != nil {
		parent = p.parents.ParentOf(product.ID)
	}

	for _, field := range Fields {
		if ignored[field] {
			continue
		}
		if parent != nil {
			if v := pick(parent.Prices, field); v > 0 {
				prices[field] = v
				continue
			}
		}
		prices[field] = max(pick(product.Prices, field), 0)
	}
	return prices
}

func pick(p catalog.Prices, field string) float64 {
	switch field {
	case FieldFinalPrice:
		return p.Final
	case FieldRegularPrice:
		return p.Regular
	case FieldMaxPrice:
		return p.Max
	}
	return 0
}
