package stock

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/dshills/catalogfeed/internal/catalog"
	"github.com/dshills/catalogfeed/internal/logging"
	"github.com/dshills/catalogfeed/pkg/types"
)

// MSISource is the catalog access the multi-source provider needs
type MSISource interface {
	ProductRefs(ctx context.Context, ids []int64) (map[int64]catalog.ProductRef, error)
	SourceItems(ctx context.Context, skus []string, stockID int64) (catalog.SourceItemSet, error)
	ReservationQtys(ctx context.Context, skus []string, stockID int64) (map[string]float64, error)
}

// LegacySource is the catalog access the legacy provider needs
type LegacySource interface {
	ProductRefs(ctx context.Context, ids []int64) (map[int64]catalog.ProductRef, error)
	StockItems(ctx context.Context, ids []int64) (map[int64]catalog.StockItem, error)
}

// MSIProvider computes stock from source items plus open reservations
type MSIProvider struct {
	source  MSISource
	stockID int64
	logger  *zap.Logger
}

// NewMSIProvider creates a provider for one stock
func NewMSIProvider(source MSISource, stockID int64, logger *zap.Logger) *MSIProvider {
	return &MSIProvider{source: source, stockID: stockID, logger: logging.OrNop(logger)}
}

func (p *MSIProvider) GetStock(ctx context.Context, productIDs []int64) (map[int64]Stock, error) {
	// One query resolves every SKU; ids without a SKU are skipped silently
	refs, err := p.source.ProductRefs(ctx, productIDs)
	if err != nil {
		return nil, err
	}

	var skus []string
	seen := make(map[string]bool, len(refs))
	for _, ref := range refs {
		if ref.SKU != "" && !seen[ref.SKU] {
			seen[ref.SKU] = true
			skus = append(skus, ref.SKU)
		}
	}
	if len(skus) == 0 {
		return map[int64]Stock{}, nil
	}

	items, err := p.source.SourceItems(ctx, skus, p.stockID)
	if err != nil {
		return nil, err
	}
	reserved, err := p.source.ReservationQtys(ctx, skus, p.stockID)
	if err != nil {
		return nil, err
	}

	result := make(map[int64]Stock, len(refs))
	for _, id := range productIDs {
		ref, ok := refs[id]
		if !ok || ref.SKU == "" {
			continue
		}
		if _, done := result[id]; done {
			continue
		}

		item, ok := items.Items[ref.SKU]
		if !ok {
			fields := []zap.Field{zap.Int64("product_id", id), zap.String("sku", ref.SKU)}
			if cause := items.Invalid[ref.SKU]; cause != nil {
				p.logger.Warn("invalid source item", append(fields, zap.Error(cause))...)
			} else {
				p.logger.Warn("no source item for product", fields...)
			}
			continue
		}

		qty := item.Qty + reserved[ref.SKU]
		result[id] = Stock{
			Qty:            qty,
			InStock:        msiInStock(ref.TypeID, item, qty),
			IsStockManaged: item.ManageStock,
		}
	}
	return result, nil
}

// msiInStock applies the salability rules in priority order
func msiInStock(typeID string, item catalog.SourceItem, qty float64) bool {
	if !item.ManageStock {
		return true
	}
	if types.IsCompositeType(typeID) && item.IsSalable != nil {
		return *item.IsSalable
	}
	if item.IsSalable != nil && !*item.IsSalable {
		return false
	}
	return qty > item.MinQty
}

// LegacyProvider computes stock from single-source stock items
type LegacyProvider struct {
	source LegacySource
}

// NewLegacyProvider creates the provider
func NewLegacyProvider(source LegacySource) *LegacyProvider {
	return &LegacyProvider{source: source}
}

func (p *LegacyProvider) GetStock(ctx context.Context, productIDs []int64) (map[int64]Stock, error) {
	refs, err := p.source.ProductRefs(ctx, productIDs)
	if err != nil {
		return nil, err
	}
	items, err := p.source.StockItems(ctx, productIDs)
	if err != nil {
		return nil, err
	}

	result := make(map[int64]Stock, len(items))
	for id, item := range items {
		ref, ok := refs[id]
		if !ok {
			continue
		}
		result[id] = Stock{
			Qty:            item.Qty,
			InStock:        legacyInStock(ref.TypeID, item),
			IsStockManaged: item.ManageStock,
		}
	}
	return result, nil
}

func legacyInStock(typeID string, item catalog.StockItem) bool {
	if !item.ManageStock {
		return true
	}
	if types.IsCompositeType(typeID) || !item.IsInStock {
		return item.IsInStock
	}
	return item.Qty > item.MinQty
}

func isNotFound(err error) bool {
	return errors.Is(err, types.ErrNotFound)
}
