package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/catalogfeed/internal/config"
	"github.com/dshills/catalogfeed/internal/feed"
	"github.com/dshills/catalogfeed/internal/logging"
	"github.com/dshills/catalogfeed/internal/metrics"
	"github.com/dshills/catalogfeed/internal/sink"
	"github.com/dshills/catalogfeed/internal/storage"
	"github.com/dshills/catalogfeed/pkg/types"
)

// ErrSyncInProgress is returned when another drain holds the run lock
var ErrSyncInProgress = errors.New("entity sync already in progress")

// Defaults
const (
	DefaultLockTTL   = 30 * time.Minute
	DefaultBatchSize = 100
)

// Store is the ledger persistence the drain needs
type Store interface {
	ListEntities(ctx context.Context, filter storage.LedgerFilter, needTotal bool) (*storage.EntityList, error)
	ClaimEntity(ctx context.Context, id int64, now, staleBefore int64) (bool, error)
	SettleEntity(ctx context.Context, id, revision int64, executed types.Action, at int64) (bool, error)
	ReleaseEntity(ctx context.Context, id int64) error
}

// RowSource builds product rows for a store, keyed by product id
type RowSource interface {
	ProductRows(ctx context.Context, payload feed.Payload, ids []int64) (map[int64]sink.Row, error)
}

// Dispatcher delivers one event and reports whether it was accepted
type Dispatcher interface {
	Send(ctx context.Context, store config.Store, topic string, body interface{}) bool
}

// Config contains configuration for the drain
type Config struct {
	Workers   int           // Concurrent dispatches per batch (default: 1)
	BatchSize int           // Ledger rows claimed per page (default: 100)
	LockTTL   time.Duration // Age after which a claim is considered abandoned (default: 30m)
	Fields    []string      // Row fields sent with product upserts (default: feed.DefaultFields)
}

// Event is the JSON body sent for one ledger row
type Event struct {
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	ID         int64     `json:"id"`
	ParentID   *int64    `json:"parent_id"`
	Data       sink.Row  `json:"data,omitempty"`
	SentAt     time.Time `json:"sent_at"`
}

// EntityResult is the outcome for one ledger row
type EntityResult struct {
	Store      string
	EntityType string
	EntityID   int64
	TargetID   int64
	Action     types.Action
	OK         bool
}

// Statistics contains statistics about one store's drain
type Statistics struct {
	Store         string
	SiteID        string
	Claimed       int
	Dispatched    int
	Failed        int
	Conflicts     int
	Duration      time.Duration
	ErrorMessages []string
}

// Syncer drains pending ledger rows into the live-sync API
type Syncer struct {
	store      Store
	rows       RowSource
	dispatcher Dispatcher
	cfg        Config
	metrics    *metrics.Metrics
	logger     *zap.Logger
	lock       RunLock
	now        func() time.Time
}

// New creates a syncer. m may be nil.
func New(store Store, rows RowSource, dispatcher Dispatcher, cfg Config, m *metrics.Metrics, logger *zap.Logger) *Syncer {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTTL
	}
	return &Syncer{
		store:      store,
		rows:       rows,
		dispatcher: dispatcher,
		cfg:        cfg,
		metrics:    m,
		logger:     logging.OrNop(logger),
		now:        time.Now,
	}
}

// Sync drains every store in turn. Stores without usable sync settings are logged and
// skipped. report, when set, is called once per processed ledger row.
func (s *Syncer) Sync(ctx context.Context, stores []config.Store, report func(EntityResult)) ([]*Statistics, error) {
	if !s.lock.TryAcquire() {
		return nil, ErrSyncInProgress
	}
	defer s.lock.Release()

	var all []*Statistics
	for _, store := range stores {
		if err := ctx.Err(); err != nil {
			return all, err
		}
		if !store.SyncEnabled {
			continue
		}
		if err := store.SyncCredentials(); err != nil {
			s.logger.Warn("store skipped", zap.String("store", store.Code), zap.Error(err))
			all = append(all, &Statistics{Store: store.Code, SiteID: store.SiteID, ErrorMessages: []string{err.Error()}})
			continue
		}
		stats, err := s.syncStore(ctx, store, report)
		all = append(all, stats)
		if err != nil {
			return all, fmt.Errorf("store %s: %w", store.Code, err)
		}
	}
	return all, nil
}

func (s *Syncer) syncStore(ctx context.Context, store config.Store, report func(EntityResult)) (*Statistics, error) {
	start := s.now()
	stats := &Statistics{Store: store.Code, SiteID: store.SiteID}
	logger := s.logger.With(zap.String("store", store.Code), zap.String("site_id", store.SiteID))

	var afterID int64
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		now := s.now().Unix()
		list, err := s.store.ListEntities(ctx, storage.LedgerFilter{
			SiteIDs:     []string{store.SiteID},
			NextActions: []types.Action{types.ActionUpsert, types.ActionDelete},
			Unlocked:    true,
			StaleBefore: now - int64(s.cfg.LockTTL.Seconds()),
			AfterID:     afterID,
			Limit:       s.cfg.BatchSize,
		}, false)
		if err != nil {
			return stats, fmt.Errorf("failed to list pending entities: %w", err)
		}
		if len(list.Items) == 0 {
			break
		}
		afterID = list.Items[len(list.Items)-1].ID

		claimed := s.claim(ctx, list.Items, now, stats)
		if err := s.dispatchBatch(ctx, store, claimed, stats, report); err != nil {
			return stats, err
		}
		if len(list.Items) < s.cfg.BatchSize {
			break
		}
	}

	stats.Duration = s.now().Sub(start)
	logger.Info("entity sync completed",
		zap.Int("claimed", stats.Claimed),
		zap.Int("dispatched", stats.Dispatched),
		zap.Int("failed", stats.Failed),
		zap.Int("conflicts", stats.Conflicts),
		zap.Duration("duration", stats.Duration))
	return stats, nil
}

// claim locks each row with a compare-and-set; rows another worker holds are skipped
func (s *Syncer) claim(ctx context.Context, entities []*storage.IndexingEntity, now int64, stats *Statistics) []*storage.IndexingEntity {
	staleBefore := now - int64(s.cfg.LockTTL.Seconds())
	claimed := make([]*storage.IndexingEntity, 0, len(entities))
	for _, e := range entities {
		ok, err := s.store.ClaimEntity(ctx, e.ID, now, staleBefore)
		if err != nil {
			stats.ErrorMessages = append(stats.ErrorMessages, fmt.Sprintf("claim %d: %v", e.ID, err))
			continue
		}
		if !ok {
			stats.Conflicts++
			s.metrics.ClaimConflict()
			continue
		}
		claimed = append(claimed, e)
	}
	stats.Claimed += len(claimed)
	return claimed
}

func (s *Syncer) dispatchBatch(ctx context.Context, store config.Store, entities []*storage.IndexingEntity, stats *Statistics, report func(EntityResult)) error {
	if len(entities) == 0 {
		return nil
	}

	var upsertIDs []int64
	for _, e := range entities {
		if e.TargetEntityType == types.EntityProduct && e.NextAction == types.ActionUpsert {
			upsertIDs = append(upsertIDs, e.TargetID)
		}
	}
	rows := map[int64]sink.Row{}
	if len(upsertIDs) > 0 {
		var err error
		rows, err = s.rows.ProductRows(ctx, feed.Payload{StoreCode: store.Code, Fields: s.cfg.Fields, UseMSI: store.UseMSI}, upsertIDs)
		if err != nil {
			// nothing was sent; give the rows back
			s.releaseAll(entities, stats)
			return fmt.Errorf("failed to build product rows: %w", err)
		}
	}

	var mu sync.Mutex // Protect stats and report

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for _, e := range entities {
		g.Go(func() error {
			ok, err := s.dispatchOne(gctx, store, e, rows)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				stats.ErrorMessages = append(stats.ErrorMessages, fmt.Sprintf("entity %d: %v", e.ID, err))
			}
			if ok {
				stats.Dispatched++
			} else {
				stats.Failed++
			}
			if report != nil {
				report(EntityResult{Store: store.Code, EntityType: e.TargetEntityType, EntityID: e.ID, TargetID: e.TargetID, Action: e.NextAction, OK: ok})
			}
			// per-entity failures never stop the batch
			return nil
		})
	}
	return g.Wait()
}

// dispatchOne sends one row and settles its ledger state: completed (or removed after a
// delete) on success unless a newer action was queued meanwhile, released on failure
// so a later drain retries it
func (s *Syncer) dispatchOne(ctx context.Context, store config.Store, e *storage.IndexingEntity, rows map[int64]sink.Row) (bool, error) {
	action := e.NextAction
	event := Event{
		EntityType: e.TargetEntityType,
		ID:         e.TargetID,
		ParentID:   e.TargetParentID,
		SentAt:     s.now().UTC(),
	}
	if action == types.ActionUpsert && e.TargetEntityType == types.EntityProduct {
		row, ok := rows[e.TargetID]
		if !ok {
			// gone or disabled in this store
			action = types.ActionDelete
		}
		event.Data = row
	}
	event.Action = action.String()
	topic := e.TargetEntityType + "/" + action.String()

	// settle even if the drain is being cancelled
	settleCtx := context.WithoutCancel(ctx)
	if !s.dispatcher.Send(ctx, store, topic, event) {
		if err := s.store.ReleaseEntity(settleCtx, e.ID); err != nil {
			return false, fmt.Errorf("release after failed dispatch: %w", err)
		}
		return false, nil
	}

	settled, err := s.store.SettleEntity(settleCtx, e.ID, e.Revision, action, s.now().Unix())
	if err != nil {
		return true, fmt.Errorf("settle: %w", err)
	}
	if !settled {
		s.logger.Debug("newer action queued during dispatch",
			zap.String("store", store.Code), zap.Int64("entity_id", e.ID), zap.Int64("target_id", e.TargetID))
	}
	return true, nil
}

func (s *Syncer) releaseAll(entities []*storage.IndexingEntity, stats *Statistics) {
	for _, e := range entities {
		if err := s.store.ReleaseEntity(context.Background(), e.ID); err != nil {
			stats.ErrorMessages = append(stats.ErrorMessages, fmt.Sprintf("release %d: %v", e.ID, err))
		}
	}
}
