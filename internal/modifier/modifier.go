// Package modifier narrows and filters product collections before and after load.
package modifier

import (
	"context"
	"fmt"

	"github.com/dshills/catalogfeed/internal/catalog"
)

// Spec is the read-only view of a feed specification that modifiers consult
type Spec interface {
	StoreID() int64
	ExcludedProductIDs() []int64
}

// Modifier edits a collection query before load and/or filters each fetched batch.
// Implementations must not mutate spec.
type Modifier interface {
	Name() string
	ProcessAfterLoad(ctx context.Context, coll *catalog.Collection, spec Spec) error
	ProcessAfterFetchItems(ctx context.Context, batch []*catalog.Product, spec Spec) ([]*catalog.Product, error)
}

// Nop provides no-op defaults for modifiers that only need one phase
type Nop struct{}

func (Nop) ProcessAfterLoad(context.Context, *catalog.Collection, Spec) error { return nil }

func (Nop) ProcessAfterFetchItems(_ context.Context, batch []*catalog.Product, _ Spec) ([]*catalog.Product, error) {
	return batch, nil
}

// Pipeline applies modifiers in the order they were given
type Pipeline struct {
	modifiers []Modifier
}

// NewPipeline creates a pipeline. Order is significant and caller-defined.
func NewPipeline(modifiers ...Modifier) *Pipeline {
	return &Pipeline{modifiers: modifiers}
}

// Names lists the configured modifiers in order
func (p *Pipeline) Names() []string {
	names := make([]string, len(p.modifiers))
	for i, m := range p.modifiers {
		names[i] = m.Name()
	}
	return names
}

// Apply runs every after-load step now and registers every after-fetch step on the collection
func (p *Pipeline) Apply(ctx context.Context, coll *catalog.Collection, spec Spec) error {
	for _, m := range p.modifiers {
		if err := m.ProcessAfterLoad(ctx, coll, spec); err != nil {
			return fmt.Errorf("modifier %s: %w", m.Name(), err)
		}
	}
	for _, m := range p.modifiers {
		coll.AddAfterFetch(func(ctx context.Context, batch []*catalog.Product) ([]*catalog.Product, error) {
			out, err := m.ProcessAfterFetchItems(ctx, batch, spec)
			if err != nil {
				return nil, fmt.Errorf("modifier %s: %w", m.Name(), err)
			}
			return out, nil
		})
	}
	return nil
}

// DefaultPipeline returns the standard order: status, product type, excluded ids, visibility
func DefaultPipeline(source VisibilitySource) *Pipeline {
	return NewPipeline(
		Status{},
		ProductTypeID{},
		ExcludeProductIDs{},
		NewExcludeByVisibility(source),
	)
}
