package feed

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/dshills/catalogfeed/internal/attribute"
	"github.com/dshills/catalogfeed/internal/catalog"
	"github.com/dshills/catalogfeed/internal/grouping"
	"github.com/dshills/catalogfeed/internal/logging"
	"github.com/dshills/catalogfeed/internal/modifier"
	"github.com/dshills/catalogfeed/internal/parent"
	"github.com/dshills/catalogfeed/internal/price"
	"github.com/dshills/catalogfeed/internal/sink"
	"github.com/dshills/catalogfeed/internal/stock"
	"github.com/dshills/catalogfeed/pkg/types"
)

// Dependencies are the long-lived collaborators shared by every run.
// None of them hold run state; each run creates its own sessions.
type Dependencies struct {
	Catalog    *catalog.SQLiteSource
	Stock      stock.Resolver
	Attributes *attribute.Resolver
	Grouping   *grouping.Resolver
	Modifiers  *modifier.Pipeline
	Logger     *zap.Logger
}

// NewRowBuilder starts a run for a store-bound specification
func (d Dependencies) NewRowBuilder(ctx context.Context, spec *Specification) (*RowBuilder, error) {
	store, ok := spec.Store()
	if !ok {
		return nil, fmt.Errorf("%w: specification is not bound to a store", types.ErrConfiguration)
	}
	logger := logging.OrNop(d.Logger)

	var provider stock.Provider
	if d.Stock != nil && wantsAny(spec, FieldQty, FieldInStock, FieldIsStockManaged) {
		p, err := d.Stock.Resolve(ctx, store, spec.UseMSI())
		if err != nil {
			return nil, fmt.Errorf("resolve stock provider for store %s: %w", store.Code, err)
		}
		provider = p
	}

	attrs := d.Attributes.NewSession(store.StoreID, spec.Separator())
	if err := attrs.Prefetch(ctx, spec.AttributeFields()); err != nil {
		return nil, err
	}

	parents := parent.New(d.Catalog, store.StoreID)

	var groups *grouping.Session
	if d.Grouping != nil && wantsAny(spec, FieldIsGroupable) {
		groups = d.Grouping.NewSession(attrs)
	}

	return &RowBuilder{
		spec:    spec,
		fields:  spec.Fields(),
		ignored: ignoredPrices(spec),
		parents: parents,
		prices:  price.NewProvider(parents),
		stock:   provider,
		attrs:   attrs,
		groups:  groups,
		logger:  logger,
	}, nil
}

// RowBuilder turns product batches into feed rows for one run. Not safe for concurrent use.
type RowBuilder struct {
	spec    *Specification
	fields  []string
	ignored map[string]bool
	parents *parent.Context
	prices  *price.Provider
	stock   stock.Provider
	attrs   *attribute.Session
	groups  *grouping.Session
	logger  *zap.Logger
}

// Build enriches a batch with parents, stock, prices and attribute labels
func (b *RowBuilder) Build(ctx context.Context, batch []*catalog.Product) ([]sink.Row, error) {
	if len(batch) == 0 {
		return nil, nil
	}
	ids := make([]int64, len(batch))
	for i, p := range batch {
		ids[i] = p.ID
	}

	if err := b.parents.Build(ctx, ids); err != nil {
		return nil, err
	}

	var stocks map[int64]stock.Stock
	if b.stock != nil {
		var err error
		if stocks, err = b.stock.GetStock(ctx, ids); err != nil {
			return nil, fmt.Errorf("failed to load stock: %w", err)
		}
	}

	if b.groups != nil {
		var parentIDs []int64
		for _, p := range batch {
			if pp := b.parents.ParentOf(p.ID); pp != nil && pp.TypeID == types.TypeConfigurable {
				parentIDs = append(parentIDs, pp.ID)
			}
		}
		if err := b.groups.Prepare(ctx, parentIDs); err != nil {
			return nil, err
		}
	}

	rows := make([]sink.Row, 0, len(batch))
	for _, p := range batch {
		row, err := b.row(ctx, p, stocks)
		if err != nil {
			return nil, fmt.Errorf("product %d: %w", p.ID, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (b *RowBuilder) row(ctx context.Context, p *catalog.Product, stocks map[int64]stock.Stock) (sink.Row, error) {
	pp := b.parents.ParentOf(p.ID)
	row := make(sink.Row, len(b.fields)+2)

	var prices map[string]float64
	st, hasStock := stocks[p.ID]

	for _, field := range b.fields {
		switch field {
		case FieldID:
			row[field] = p.ID
		case FieldSKU:
			row[field] = p.SKU
		case FieldTypeID:
			row[field] = p.TypeID
		case FieldParentID:
			if pp != nil {
				row[field] = pp.ID
			} else {
				row[field] = nil
			}
		case FieldParentSKU:
			if pp != nil {
				row[field] = pp.SKU
			} else {
				row[field] = nil
			}
		case price.FieldFinalPrice, price.FieldRegularPrice, price.FieldMaxPrice:
			if prices == nil {
				prices = b.prices.GetPrices(p, b.ignored)
			}
			row[field] = prices[field]
		case FieldQty:
			if hasStock {
				row[field] = st.Qty
			}
		case FieldInStock:
			if hasStock {
				row[field] = st.InStock
			}
		case FieldIsStockManaged:
			if hasStock {
				row[field] = st.IsStockManaged
			}
		case FieldIsGroupable:
			groupable := false
			if b.groups != nil && pp != nil && pp.TypeID == types.TypeConfigurable {
				var err error
				if groupable, err = b.groups.IsGroupable(ctx, p, pp); err != nil {
					return nil, err
				}
			}
			row[field] = groupable
		default:
			src := p
			if pp != nil && !b.spec.IsChildField(field) {
				src = pp
			}
			v, err := b.attrs.Resolve(ctx, src, field)
			if err != nil {
				return nil, err
			}
			row[field] = v
		}
	}

	if b.spec.IncludeChildPrices() && pp != nil {
		row[FieldChildFinalPrice] = max(p.Prices.Final, 0)
		row[FieldChildRegularPrice] = max(p.Prices.Regular, 0)
	}
	return row, nil
}

// ignoredPrices marks every price key the run does not output
func ignoredPrices(spec *Specification) map[string]bool {
	ignored := make(map[string]bool, len(price.Fields))
	for _, f := range price.Fields {
		ignored[f] = !wantsAny(spec, f)
	}
	return ignored
}

func wantsAny(spec *Specification, fields ...string) bool {
	for _, want := range fields {
		for _, f := range spec.Fields() {
			if f == want {
				return true
			}
		}
	}
	return false
}
