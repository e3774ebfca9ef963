// Package grouping decides which simple products represent their parent in the feed.
package grouping

import (
	"context"
	"fmt"

	"github.com/dshills/catalogfeed/internal/catalog"
)

// DefaultAttributes are considered when none are configured
var DefaultAttributes = []string{"color"}

// Config selects the attributes that split a parent into groups
type Config struct {
	AttributesToConsider []string
	OnlySwatchAttributes bool
}

// ConfigurableSource lists each parent's configurable attributes in their defined order
type ConfigurableSource interface {
	ConfigurableAttributes(ctx context.Context, parentIDs []int64) (map[int64][]string, error)
}

// Labeler resolves attribute definitions and display labels
type Labeler interface {
	Definition(ctx context.Context, code string) (*catalog.AttributeDefinition, error)
	Label(ctx context.Context, product *catalog.Product, code string) (string, error)
}

// Resolver holds configuration and creates per-run sessions
type Resolver struct {
	consider   map[string]bool
	onlySwatch bool
	source     ConfigurableSource
}

// NewResolver creates a resolver. An empty attribute list uses DefaultAttributes.
func NewResolver(cfg Config, source ConfigurableSource) *Resolver {
	attrs := cfg.AttributesToConsider
	if len(attrs) == 0 {
		attrs = DefaultAttributes
	}
	consider := make(map[string]bool, len(attrs))
	for _, a := range attrs {
		consider[a] = true
	}
	return &Resolver{consider: consider, onlySwatch: cfg.OnlySwatchAttributes, source: source}
}

type seenKey struct {
	parentID int64
	code     string
	label    string
}

// Session holds the first-come-first-served state of one run. Not safe for concurrent use.
type Session struct {
	resolver *Resolver
	labeler  Labeler

	parentAttributes map[int64][]string
	seen             map[seenKey]bool
}

// NewSession starts a run using labeler for attribute labels
func (r *Resolver) NewSession(labeler Labeler) *Session {
	s := &Session{resolver: r, labeler: labeler}
	s.Reset()
	return s
}

// Reset clears the seen values and cached parent attributes. Call once per run, not per product.
func (s *Session) Reset() {
	s.parentAttributes = make(map[int64][]string)
	s.seen = make(map[seenKey]bool)
}

// Prepare loads configurable attributes for many parents in one query
func (s *Session) Prepare(ctx context.Context, parentIDs []int64) error {
	var missing []int64
	for _, id := range parentIDs {
		if _, ok := s.parentAttributes[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	attrs, err := s.resolver.source.ConfigurableAttributes(ctx, missing)
	if err != nil {
		return fmt.Errorf("failed to load configurable attributes: %w", err)
	}
	for _, id := range missing {
		// parents without attributes are cached as empty
		s.parentAttributes[id] = attrs[id]
	}
	return nil
}

// IsGroupable reports whether simple is the first product of parent seen with its
// value of the first eligible configurable attribute
func (s *Session) IsGroupable(ctx context.Context, simple, parent *catalog.Product) (bool, error) {
	if simple == nil || parent == nil {
		return false, nil
	}
	if err := s.Prepare(ctx, []int64{parent.ID}); err != nil {
		return false, err
	}

	for _, code := range s.parentAttributes[parent.ID] {
		if !s.resolver.consider[code] {
			continue
		}
		if s.resolver.onlySwatch {
			def, err := s.labeler.Definition(ctx, code)
			if err != nil {
				return false, err
			}
			if !isSwatch(def) {
				continue
			}
		}

		label, err := s.labeler.Label(ctx, simple, code)
		if err != nil {
			return false, err
		}
		if label == "" {
			continue
		}

		key := seenKey{parentID: parent.ID, code: code, label: label}
		if s.seen[key] {
			return false, nil
		}
		s.seen[key] = true
		return true, nil
	}
	return false, nil
}

func isSwatch(def *catalog.AttributeDefinition) bool {
	if def == nil {
		return false
	}
	return def.IsSwatch || def.FrontendInput == catalog.InputSwatchVisual || def.FrontendInput == catalog.InputSwatchText
}
