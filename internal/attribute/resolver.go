package attribute

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/dshills/catalogfeed/internal/catalog"
	"github.com/dshills/catalogfeed/internal/logging"
)

const (
	// DefaultSeparator joins multiselect labels
	DefaultSeparator = "|"

	defaultCacheSize = 4096
)

// Resolver creates per-run sessions. It holds no run state itself.
type Resolver struct {
	source    Source
	logger    *zap.Logger
	cacheSize int
}

// NewResolver creates a resolver. cacheSize bounds each session cache; 0 uses the default.
func NewResolver(source Source, logger *zap.Logger, cacheSize int) *Resolver {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	return &Resolver{source: source, logger: logging.OrNop(logger), cacheSize: cacheSize}
}

type productOptionKey struct {
	productID int64
	code      string
}

// Session resolves values for one run in one store. Not safe for concurrent use.
type Session struct {
	source    Source
	logger    *zap.Logger
	storeID   int64
	separator string

	definitions    *lru.Cache[string, *catalog.AttributeDefinition]
	globalOptions  *lru.Cache[string, map[string]string]
	productOptions *lru.Cache[productOptionKey, map[string]string]
}

// NewSession starts a run for storeID. An empty separator uses DefaultSeparator.
func (r *Resolver) NewSession(storeID int64, separator string) *Session {
	if separator == "" {
		separator = DefaultSeparator
	}
	// lru.New only fails on a non-positive size
	defs, _ := lru.New[string, *catalog.AttributeDefinition](r.cacheSize)
	global, _ := lru.New[string, map[string]string](r.cacheSize)
	perProduct, _ := lru.New[productOptionKey, map[string]string](r.cacheSize)

	return &Session{
		source:         r.source,
		logger:         r.logger,
		storeID:        storeID,
		separator:      separator,
		definitions:    defs,
		globalOptions:  global,
		productOptions: perProduct,
	}
}

// Reset drops every cached definition and option map
func (s *Session) Reset() {
	s.definitions.Purge()
	s.globalOptions.Purge()
	s.productOptions.Purge()
}

// Definition returns the attribute definition, or nil when the attribute is unknown
func (s *Session) Definition(ctx context.Context, code string) (*catalog.AttributeDefinition, error) {
	if def, ok := s.definitions.Get(code); ok {
		return def, nil
	}
	defs, err := s.source.AttributeDefinitions(ctx, []string{code})
	if err != nil {
		return nil, fmt.Errorf("failed to load attribute %s: %w", code, err)
	}
	var def *catalog.AttributeDefinition
	if d, ok := defs[code]; ok {
		def = &d
	}
	// unknown attributes are cached as nil too
	s.definitions.Add(code, def)
	return def, nil
}

// Prefetch loads definitions for many codes in one query
func (s *Session) Prefetch(ctx context.Context, codes []string) error {
	var missing []string
	for _, code := range codes {
		if !s.definitions.Contains(code) {
			missing = append(missing, code)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	defs, err := s.source.AttributeDefinitions(ctx, missing)
	if err != nil {
		return fmt.Errorf("failed to load attributes: %w", err)
	}
	for _, code := range missing {
		var def *catalog.AttributeDefinition
		if d, ok := defs[code]; ok {
			def = &d
		}
		s.definitions.Add(code, def)
	}
	return nil
}

// options returns the label map for a product's attribute
func (s *Session) options(ctx context.Context, product *catalog.Product, def catalog.AttributeDefinition) (map[string]string, error) {
	if def.UsesProductOptions {
		key := productOptionKey{productID: product.ID, code: def.Code}
		if m, ok := s.productOptions.Get(key); ok {
			return m, nil
		}
		m, err := optionSourceFor(s.source, def, s.storeID).LoadOptionsFor(ctx, product)
		if err != nil {
			return nil, err
		}
		s.productOptions.Add(key, m)
		return m, nil
	}

	if m, ok := s.globalOptions.Get(def.Code); ok {
		return m, nil
	}
	m, err := optionSourceFor(s.source, def, s.storeID).LoadOptionsFor(ctx, product)
	if err != nil {
		return nil, err
	}
	s.globalOptions.Add(def.Code, m)
	return m, nil
}

// Resolve converts the product's raw value for code. A missing value resolves to nil.
//
//	select, swatch  -> option label (raw value when the option is unknown)
//	multiselect     -> labels joined by the session separator
//	boolean         -> bool
//	price, decimal  -> float64
//	anything else   -> raw string
func (s *Session) Resolve(ctx context.Context, product *catalog.Product, code string) (interface{}, error) {
	raw := product.Attribute(code)
	if raw == "" {
		return nil, nil
	}

	def, err := s.Definition(ctx, code)
	if err != nil {
		return nil, err
	}
	if def == nil {
		return raw, nil
	}

	switch def.FrontendInput {
	case catalog.InputSelect, catalog.InputSwatchVisual, catalog.InputSwatchText:
		opts, err := s.options(ctx, product, *def)
		if err != nil {
			return nil, err
		}
		if label, ok := opts[raw]; ok {
			return label, nil
		}
		return raw, nil

	case catalog.InputMultiselect:
		opts, err := s.options(ctx, product, *def)
		if err != nil {
			return nil, err
		}
		var labels []string
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if label, ok := opts[part]; ok {
				labels = append(labels, label)
			} else {
				labels = append(labels, part)
			}
		}
		return strings.Join(labels, s.separator), nil

	case catalog.InputBoolean:
		return raw == "1" || strings.EqualFold(raw, "true"), nil

	case catalog.InputPrice, catalog.InputDecimal:
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			s.logger.Warn("non-numeric attribute value",
				zap.Int64("product_id", product.ID),
				zap.String("attribute", code),
				zap.String("value", raw))
			return nil, nil
		}
		return v, nil
	}

	return raw, nil
}

// Label resolves code to its display string, "" when missing
func (s *Session) Label(ctx context.Context, product *catalog.Product, code string) (string, error) {
	v, err := s.Resolve(ctx, product, code)
	if err != nil || v == nil {
		return "", err
	}
	switch val := v.(type) {
	case string:
		return val, nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(val), nil
	}
	return fmt.Sprint(v), nil
}
