// Package ledger records which catalog entities need syncing. It only writes ledger
// rows; the sync drain and feed export read them later.
package ledger

import (
	"context"
	"fmt"
	"iter"

	"go.uber.org/zap"

	"github.com/dshills/catalogfeed/internal/logging"
	"github.com/dshills/catalogfeed/internal/metrics"
	"github.com/dshills/catalogfeed/internal/storage"
	"github.com/dshills/catalogfeed/pkg/types"
)

// Store is the ledger persistence this package needs
type Store interface {
	NewEntity() *storage.IndexingEntity
	ListEntities(ctx context.Context, filter storage.LedgerFilter, needTotal bool) (*storage.EntityList, error)
	LookupKeys(ctx context.Context, entityType, siteID string, targetIDs []int64) (map[storage.EntityKey]struct{}, error)
	InsertEntities(ctx context.Context, entities []*storage.IndexingEntity) error
	MarkNextAction(ctx context.Context, entityType, siteID string, key storage.EntityKey, action types.Action) (int64, error)
}

// Candidate is an entity that may need a ledger row. ParentID 0 means no parent.
type Candidate struct {
	TargetID int64
	ParentID int64
	Subtype  string
}

func (c Candidate) key() storage.EntityKey {
	return storage.EntityKey{TargetID: c.TargetID, ParentID: c.ParentID}
}

// Ledger creates and marks ledger rows
type Ledger struct {
	store   Store
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// New creates a ledger. m may be nil.
func New(store Store, m *metrics.Metrics, logger *zap.Logger) *Ledger {
	return &Ledger{store: store, metrics: m, logger: logging.OrNop(logger)}
}

// FilterEntitiesToAdd looks up existing keys for the candidates in one bulk query and
// returns a lazy sequence of candidates without a row. Subtypes, when given, narrow the
// candidates; they are not part of the identity key. Candidates repeated in the input are
// yielded once per range. The existence snapshot is taken by this call, so ranging again
// does not see rows inserted in between; call FilterEntitiesToAdd again for that.
func (l *Ledger) FilterEntitiesToAdd(ctx context.Context, candidates []Candidate, entityType, siteID string, subtypes []string) (iter.Seq[Candidate], error) {
	allowed := make(map[string]bool, len(subtypes))
	for _, s := range subtypes {
		allowed[s] = true
	}

	var ids []int64
	seenID := make(map[int64]bool, len(candidates))
	for _, c := range candidates {
		if !seenID[c.TargetID] {
			seenID[c.TargetID] = true
			ids = append(ids, c.TargetID)
		}
	}

	existing, err := l.store.LookupKeys(ctx, entityType, siteID, ids)
	if err != nil {
		return nil, err
	}

	return func(yield func(Candidate) bool) {
		emitted := make(map[storage.EntityKey]bool)
		for _, c := range candidates {
			if len(allowed) > 0 && !allowed[c.Subtype] {
				continue
			}
			k := c.key()
			if _, ok := existing[k]; ok || emitted[k] {
				continue
			}
			emitted[k] = true
			if !yield(c) {
				return
			}
		}
	}, nil
}

// EnsureEntityExists inserts rows, queued for upsert, for candidates that have none.
// The insert is all-or-nothing per call; a failure is logged and returned so callers
// can carry on with other groups.
func (l *Ledger) EnsureEntityExists(ctx context.Context, candidates []Candidate, entityType, siteID string) (int, error) {
	missing, err := l.FilterEntitiesToAdd(ctx, candidates, entityType, siteID, nil)
	if err != nil {
		l.logger.Error("failed to look up ledger keys",
			zap.String("entity_type", entityType), zap.String("site_id", siteID), zap.Error(err))
		return 0, err
	}

	var entities []*storage.IndexingEntity
	for c := range missing {
		e := l.store.NewEntity()
		e.TargetEntityType = entityType
		e.TargetEntitySubtype = c.Subtype
		e.TargetID = c.TargetID
		if c.ParentID > 0 {
			parentID := c.ParentID
			e.TargetParentID = &parentID
		}
		e.SiteID = siteID
		e.NextAction = types.ActionUpsert
		entities = append(entities, e)
	}
	if len(entities) == 0 {
		return 0, nil
	}

	if err := l.store.InsertEntities(ctx, entities); err != nil {
		l.logger.Error("failed to insert ledger entities",
			zap.String("entity_type", entityType),
			zap.String("site_id", siteID),
			zap.Int("count", len(entities)),
			zap.Error(err))
		return 0, fmt.Errorf("ensure %d %s entities for site %s: %w", len(entities), entityType, siteID, err)
	}
	l.metrics.EntitiesInserted(entityType, len(entities))
	return len(entities), nil
}

// Mark queues action on every existing row for the candidates and returns how many rows changed
func (l *Ledger) Mark(ctx context.Context, candidates []Candidate, entityType, siteID string, action types.Action) (int64, error) {
	var total int64
	for _, c := range candidates {
		n, err := l.store.MarkNextAction(ctx, entityType, siteID, c.key(), action)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// MarkTargets queues action on every row of the target ids, whatever their parent
func (l *Ledger) MarkTargets(ctx context.Context, targetIDs []int64, entityType, siteID string, action types.Action) (int64, error) {
	if len(targetIDs) == 0 {
		return 0, nil
	}
	list, err := l.store.ListEntities(ctx, storage.LedgerFilter{
		EntityType: entityType,
		SiteIDs:    []string{siteID},
		TargetIDs:  targetIDs,
	}, false)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, e := range list.Items {
		n, err := l.store.MarkNextAction(ctx, entityType, siteID, e.Key(), action)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}
