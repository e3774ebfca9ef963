package catalog

import (
	"strconv"

	"github.com/dshills/catalogfeed/pkg/types"
)

// DefaultStoreID is the admin scope every store-scoped value falls back to
const DefaultStoreID int64 = 0

// Well-known attribute codes
const (
	AttrStatus     = "status"
	AttrVisibility = "visibility"
	AttrName       = "name"
)

// Relation types between a parent and a child product
const (
	RelationSuperLink = "super_link" // configurable parent to simple child
	RelationGrouped   = "grouped"    // grouped parent to associated product
)

// Product is one catalog product loaded for a single store view
type Product struct {
	ID      int64
	SKU     string
	TypeID  string
	StoreID int64

	// Attributes holds raw store-scoped values, already resolved against the default scope
	Attributes map[string]string
	Prices     Prices
}

// Prices are the indexed prices of a product in one store
type Prices struct {
	Final   float64
	Regular float64
	Max     float64
}

// Attribute returns the raw value for code, or "" when absent
func (p *Product) Attribute(code string) string {
	if p == nil || p.Attributes == nil {
		return ""
	}
	return p.Attributes[code]
}

// Status returns the numeric status, disabled when absent or malformed
func (p *Product) Status() int {
	v, err := strconv.Atoi(p.Attribute(AttrStatus))
	if err != nil {
		return types.StatusDisabled
	}
	return v
}

// Visibility returns the numeric visibility, not-visible when absent or malformed
func (p *Product) Visibility() int {
	v, err := strconv.Atoi(p.Attribute(AttrVisibility))
	if err != nil {
		return types.VisibilityNotVisible
	}
	return v
}

// Relation links a child product to a parent
type Relation struct {
	ParentID int64
	ChildID  int64
	Type     string
}

// AttributeDefinition describes how an attribute's raw values are stored
type AttributeDefinition struct {
	Code               string
	FrontendInput      string // text, select, multiselect, boolean, price, decimal, date
	IsSwatch           bool
	UsesProductOptions bool
}

// Frontend input types
const (
	InputText         = "text"
	InputSelect       = "select"
	InputMultiselect  = "multiselect"
	InputBoolean      = "boolean"
	InputPrice        = "price"
	InputDecimal      = "decimal"
	InputSwatchVisual = "swatch_visual"
	InputSwatchText   = "swatch_text"
)

// StockItem is a legacy single-source stock row
type StockItem struct {
	ProductID   int64
	Qty         float64
	IsInStock   bool
	ManageStock bool
	MinQty      float64
}

// SourceItem is aggregated multi-source stock for one SKU within a stock
type SourceItem struct {
	SKU         string
	StockID     int64
	Qty         float64
	IsSalable   *bool // Nullable: no salability signal indexed
	ManageStock bool
	MinQty      float64
}

// Store maps a store code to its ids
type Store struct {
	Code    string
	StoreID int64
	StockID int64
}
