package attribute

import (
	"context"

	"github.com/dshills/catalogfeed/internal/catalog"
)

// Source is the catalog access the resolver needs
type Source interface {
	AttributeDefinitions(ctx context.Context, codes []string) (map[string]catalog.AttributeDefinition, error)
	AttributeOptions(ctx context.Context, code string, storeID int64) (map[string]string, error)
	ProductOptions(ctx context.Context, productID int64, code string) (map[string]string, error)
}

// OptionSource loads the value to label map that applies to one product
type OptionSource interface {
	LoadOptionsFor(ctx context.Context, product *catalog.Product) (map[string]string, error)
}

// GlobalOptions serves one attribute's store-wide option labels
type GlobalOptions struct {
	source  Source
	code    string
	storeID int64
}

func (g *GlobalOptions) LoadOptionsFor(ctx context.Context, _ *catalog.Product) (map[string]string, error) {
	return g.source.AttributeOptions(ctx, g.code, g.storeID)
}

// ProductOptions serves option labels defined on each product
type ProductOptions struct {
	source Source
	code   string
}

func (p *ProductOptions) LoadOptionsFor(ctx context.Context, product *catalog.Product) (map[string]string, error) {
	return p.source.ProductOptions(ctx, product.ID, p.code)
}

// optionSourceFor selects the variant from the attribute definition
func optionSourceFor(source Source, def catalog.AttributeDefinition, storeID int64) OptionSource {
	if def.UsesProductOptions {
		return &ProductOptions{source: source, code: def.Code}
	}
	return &GlobalOptions{source: source, code: def.Code, storeID: storeID}
}
