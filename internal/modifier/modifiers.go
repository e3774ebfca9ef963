package modifier

import (
	"context"
	"strconv"

	"github.com/dshills/catalogfeed/internal/catalog"
	"github.com/dshills/catalogfeed/pkg/types"
)

// ProductTypeID drops configurable and grouped products; their children are exported instead
type ProductTypeID struct{ Nop }

func (ProductTypeID) Name() string { return "product_type_id" }

func (ProductTypeID) ProcessAfterLoad(_ context.Context, coll *catalog.Collection, _ Spec) error {
	q := coll.Query()
	q.ExcludeTypes = appendMissing(q.ExcludeTypes, types.TypeConfigurable, types.TypeGrouped)
	return nil
}

func (ProductTypeID) ProcessAfterFetchItems(_ context.Context, batch []*catalog.Product, _ Spec) ([]*catalog.Product, error) {
	return keep(batch, func(p *catalog.Product) bool {
		return p.TypeID != types.TypeConfigurable && p.TypeID != types.TypeGrouped
	}), nil
}

// Status drops disabled products
type Status struct{ Nop }

func (Status) Name() string { return "status" }

func (Status) ProcessAfterLoad(_ context.Context, coll *catalog.Collection, _ Spec) error {
	coll.Query().OnlyEnabled = true
	return nil
}

// ExcludeProductIDs drops the ids excluded by the feed specification
type ExcludeProductIDs struct{ Nop }

func (ExcludeProductIDs) Name() string { return "exclude_product_ids" }

func (ExcludeProductIDs) ProcessAfterLoad(_ context.Context, coll *catalog.Collection, spec Spec) error {
	ids := spec.ExcludedProductIDs()
	if len(ids) == 0 {
		return nil
	}
	q := coll.Query()
	q.ExcludeIDs = append(append([]int64(nil), q.ExcludeIDs...), ids...)
	return nil
}

// VisibilitySource is the catalog access ExcludeByVisibility needs
type VisibilitySource interface {
	Relations(ctx context.Context, childIDs []int64, relTypes ...string) ([]catalog.Relation, error)
	AttributeValues(ctx context.Context, ids []int64, storeID int64, code string) (map[int64]string, error)
}

// ExcludeByVisibility drops a simple child linked to configurable parents when every such
// parent is "not visible individually" in the store (store value, else default scope)
type ExcludeByVisibility struct {
	Nop
	source VisibilitySource
}

// NewExcludeByVisibility creates the modifier
func NewExcludeByVisibility(source VisibilitySource) *ExcludeByVisibility {
	return &ExcludeByVisibility{source: source}
}

func (*ExcludeByVisibility) Name() string { return "exclude_by_visibility" }

func (m *ExcludeByVisibility) ProcessAfterFetchItems(ctx context.Context, batch []*catalog.Product, spec Spec) ([]*catalog.Product, error) {
	var childIDs []int64
	for _, p := range batch {
		if p.TypeID == types.TypeSimple || p.TypeID == types.TypeVirtual {
			childIDs = append(childIDs, p.ID)
		}
	}
	if len(childIDs) == 0 {
		return batch, nil
	}

	relations, err := m.source.Relations(ctx, childIDs, catalog.RelationSuperLink)
	if err != nil {
		return nil, err
	}
	if len(relations) == 0 {
		return batch, nil
	}

	parentsByChild := make(map[int64][]int64)
	var parentIDs []int64
	seen := make(map[int64]bool)
	for _, r := range relations {
		parentsByChild[r.ChildID] = append(parentsByChild[r.ChildID], r.ParentID)
		if !seen[r.ParentID] {
			seen[r.ParentID] = true
			parentIDs = append(parentIDs, r.ParentID)
		}
	}

	visibility, err := m.source.AttributeValues(ctx, parentIDs, spec.StoreID(), catalog.AttrVisibility)
	if err != nil {
		return nil, err
	}

	return keep(batch, func(p *catalog.Product) bool {
		parents, ok := parentsByChild[p.ID]
		if !ok {
			return true
		}
		for _, parentID := range parents {
			v, err := strconv.Atoi(visibility[parentID])
			if err != nil || v != types.VisibilityNotVisible {
				return true
			}
		}
		return false
	}), nil
}

func keep(batch []*catalog.Product, pred func(*catalog.Product) bool) []*catalog.Product {
	out := make([]*catalog.Product, 0, len(batch))
	for _, p := range batch {
		if pred(p) {
			out = append(out, p)
		}
	}
	return out
}

func appendMissing(list []string, values ...string) []string {
	out := append([]string(nil), list...)
	for _, v := range values {
		found := false
		for _, existing := range out {
			if existing == v {
				found = true
				break
			}
		}
		if !found {
			out = append(out, v)
		}
	}
	return out
}
