package types

// Product type identifiers
const (
	TypeSimple       = "simple"
	TypeVirtual      = "virtual"
	TypeConfigurable = "configurable"
	TypeGrouped      = "grouped"
	TypeBundle       = "bundle"
)

// Product visibility values
const (
	VisibilityNotVisible = 1
	VisibilityInCatalog  = 2
	VisibilityInSearch   = 3
	VisibilityBoth       = 4
)

// Product status values
const (
	StatusEnabled  = 1
	StatusDisabled = 2
)

// Entity types tracked by the ledger
const (
	EntityProduct  = "product"
	EntityCategory = "category"
)

// IsCompositeType reports whether typeID aggregates child products
func IsCompositeType(typeID string) bool {
	switch typeID {
	case TypeConfigurable, TypeGrouped, TypeBundle:
		return true
	}
	return false
}
