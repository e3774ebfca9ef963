// Package feed builds feed specifications, turns product batches into rows and runs feed tasks.
package feed

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/dshills/catalogfeed/internal/attribute"
	"github.com/dshills/catalogfeed/internal/catalog"
	"github.com/dshills/catalogfeed/internal/price"
	"github.com/dshills/catalogfeed/pkg/types"
)

// Built-in row fields. Any other requested field is read as an attribute code.
const (
	FieldID                = "id"
	FieldSKU               = "sku"
	FieldTypeID            = "type_id"
	FieldParentID          = "parent_id"
	FieldParentSKU         = "parent_sku"
	FieldQty               = "qty"
	FieldInStock           = "in_stock"
	FieldIsStockManaged    = "is_stock_managed"
	FieldIsGroupable       = "is_groupable"
	FieldChildFinalPrice   = "child_final_price"
	FieldChildRegularPrice = "child_regular_price"
)

// DefaultFields is used when a payload names no fields
var DefaultFields = []string{
	FieldID, FieldSKU, FieldTypeID, catalog.AttrName,
	price.FieldFinalPrice, price.FieldRegularPrice, price.FieldMaxPrice,
	FieldQty, FieldInStock, FieldIsStockManaged,
	FieldParentID, FieldIsGroupable,
}

var builtinFields = map[string]bool{
	FieldID: true, FieldSKU: true, FieldTypeID: true, FieldParentID: true, FieldParentSKU: true,
	FieldQty: true, FieldInStock: true, FieldIsStockManaged: true, FieldIsGroupable: true,
	price.FieldFinalPrice: true, price.FieldRegularPrice: true, price.FieldMaxPrice: true,
}

// Payload is the serialized task payload a Specification is built from
type Payload struct {
	Format             string   `json:"format"`
	Fields             []string `json:"fields,omitempty"`
	IgnoredFields      []string `json:"ignored_fields,omitempty"`
	ChildFields        []string `json:"child_fields,omitempty"`
	Separator          string   `json:"separator,omitempty"`
	StoreCode          string   `json:"store_code"`
	ExcludedProductIDs []int64  `json:"excluded_product_ids,omitempty"`
	IncludeChildPrices bool     `json:"include_child_prices,omitempty"`
	PresignedURL       string   `json:"presigned_url"`
	UseMSI             bool     `json:"use_msi,omitempty"`
}

// Encode serializes the payload for storage on a task
func (p Payload) Encode() ([]byte, error) {
	return json.Marshal(p)
}

// Specification is the immutable description of one feed run
type Specification struct {
	format             string
	fields             []string
	ignored            map[string]bool
	childFields        map[string]bool
	separator          string
	storeCode          string
	excludedProductIDs []int64
	includeChildPrices bool
	presignedURL       string
	useMSI             bool

	store catalog.Store
	bound bool
}

// BuildSpecification parses and validates a task payload. Format support is
// checked later by the sink, which owns the registries.
func BuildSpecification(payload []byte) (*Specification, error) {
	if len(payload) == 0 {
		return nil, types.NewValidationError("payload is empty")
	}
	var p Payload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, types.NewValidationError(fmt.Sprintf("malformed payload: %v", err))
	}
	return NewSpecification(p)
}

// NewSpecification validates p and builds a specification from it
func NewSpecification(p Payload) (*Specification, error) {
	return newSpecification(p, true)
}

// NewRowSpecification builds a specification used only to build rows, as live sync
// does. It has no upload target.
func NewRowSpecification(p Payload) (*Specification, error) {
	p.PresignedURL = ""
	return newSpecification(p, false)
}

func newSpecification(p Payload, needUpload bool) (*Specification, error) {
	var msgs []string
	if strings.TrimSpace(p.StoreCode) == "" {
		msgs = append(msgs, "store_code is required")
	}
	if needUpload {
		if p.PresignedURL == "" {
			msgs = append(msgs, "presigned_url is required")
		} else if u, err := url.Parse(p.PresignedURL); err != nil || u.Scheme == "" || u.Host == "" {
			msgs = append(msgs, fmt.Sprintf("presigned_url %q is not an absolute URL", p.PresignedURL))
		}
	}
	for _, id := range p.ExcludedProductIDs {
		if id <= 0 {
			msgs = append(msgs, fmt.Sprintf("excluded_product_ids contains invalid id %d", id))
			break
		}
	}
	if len(msgs) > 0 {
		return nil, types.NewValidationError(msgs...)
	}

	fields := normalizeList(p.Fields)
	if len(fields) == 0 {
		fields = DefaultFields
	}
	separator := p.Separator
	if separator == "" {
		separator = attribute.DefaultSeparator
	}

	return &Specification{
		format:             strings.ToLower(strings.TrimSpace(p.Format)),
		fields:             append([]string(nil), fields...),
		ignored:            toSet(p.IgnoredFields),
		childFields:        toSet(p.ChildFields),
		separator:          separator,
		storeCode:          strings.TrimSpace(p.StoreCode),
		excludedProductIDs: append([]int64(nil), p.ExcludedProductIDs...),
		includeChildPrices: p.IncludeChildPrices,
		presignedURL:       p.PresignedURL,
		useMSI:             p.UseMSI,
	}, nil
}

// WithStore returns a copy bound to the resolved store
func (s *Specification) WithStore(store catalog.Store) *Specification {
	cp := *s
	cp.store = store
	cp.bound = true
	return &cp
}

func (s *Specification) Format() string       { return s.format }
func (s *Specification) PresignedURL() string { return s.presignedURL }
func (s *Specification) Separator() string    { return s.separator }
func (s *Specification) StoreCode() string    { return s.storeCode }
func (s *Specification) UseMSI() bool         { return s.useMSI }

func (s *Specification) IncludeChildPrices() bool { return s.includeChildPrices }

// Store returns the bound store and whether WithStore was called
func (s *Specification) Store() (catalog.Store, bool) { return s.store, s.bound }

// StoreID is the bound store's id, the default scope when unbound
func (s *Specification) StoreID() int64 { return s.store.StoreID }

// ExcludedProductIDs returns a copy of the excluded ids
func (s *Specification) ExcludedProductIDs() []int64 {
	return append([]int64(nil), s.excludedProductIDs...)
}

// Fields returns the requested fields minus ignored ones, in request order
func (s *Specification) Fields() []string {
	out := make([]string, 0, len(s.fields))
	for _, f := range s.fields {
		if !s.ignored[f] {
			out = append(out, f)
		}
	}
	return out
}

// IsIgnored reports whether field is excluded from output
func (s *Specification) IsIgnored(field string) bool { return s.ignored[field] }

// IsChildField reports whether field is always read from the child product
func (s *Specification) IsChildField(field string) bool { return s.childFields[field] }

// AttributeFields returns the requested fields that are attribute codes
func (s *Specification) AttributeFields() []string {
	var out []string
	for _, f := range s.Fields() {
		if !builtinFields[f] {
			out = append(out, f)
		}
	}
	return out
}

func normalizeList(values []string) []string {
	var out []string
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range normalizeList(values) {
		set[v] = true
	}
	return set
}
