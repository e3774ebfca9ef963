package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/catalogfeed/internal/catalog"
	"github.com/dshills/catalogfeed/internal/logging"
	"github.com/dshills/catalogfeed/internal/modifier"
	"github.com/dshills/catalogfeed/internal/sink"
)

// Sink receives the rows of one run
type Sink interface {
	Initiate(ctx context.Context, spec sink.Spec) error
	AddData(ctx context.Context, rows []sink.Row, taskID int64) error
	Commit(ctx context.Context, taskID int64, deleteFileAfter bool) (int64, error)
	Rollback() error
}

// SinkFactory creates a fresh sink per run
type SinkFactory func() Sink

// Result summarizes one generated feed
type Result struct {
	Rows     int
	Bytes    int64
	Duration time.Duration
}

// Generator streams a catalog through the modifier pipeline and row builder into a sink
type Generator struct {
	deps      Dependencies
	newSink   SinkFactory
	batchSize int
	logger    *zap.Logger
}

// NewGenerator creates a generator. batchSize 0 uses catalog.DefaultBatchSize.
func NewGenerator(deps Dependencies, newSink SinkFactory, batchSize int) *Generator {
	if deps.Modifiers == nil {
		deps.Modifiers = modifier.DefaultPipeline(deps.Catalog)
	}
	return &Generator{
		deps:      deps,
		newSink:   newSink,
		batchSize: batchSize,
		logger:    logging.OrNop(deps.Logger),
	}
}

// Execute generates and uploads the feed described by spec for taskID.
// The sink is rolled back on any failure before commit.
func (g *Generator) Execute(ctx context.Context, spec *Specification, taskID int64) (Result, error) {
	start := time.Now()

	store, err := g.deps.Catalog.StoreByCode(ctx, spec.StoreCode())
	if err != nil {
		return Result{}, fmt.Errorf("resolve store %q: %w", spec.StoreCode(), err)
	}
	bound := spec.WithStore(store)

	coll := catalog.NewCollection(g.deps.Catalog, catalog.Query{StoreID: store.StoreID, BatchSize: g.batchSize})
	if err := g.deps.Modifiers.Apply(ctx, coll, bound); err != nil {
		return Result{}, err
	}

	builder, err := g.deps.NewRowBuilder(ctx, bound)
	if err != nil {
		return Result{}, err
	}

	out := g.newSink()
	if err := out.Initiate(ctx, bound); err != nil {
		return Result{}, err
	}

	logger := g.logger.With(zap.Int64("task_id", taskID), zap.String("store", store.Code))
	logger.Info("feed generation started",
		zap.String("format", bound.Format()),
		zap.Strings("modifiers", g.deps.Modifiers.Names()))

	var rows int
	for batch, err := range coll.Batches(ctx) {
		if err != nil {
			return Result{}, g.abort(out, err)
		}
		built, err := builder.Build(ctx, batch)
		if err != nil {
			return Result{}, g.abort(out, err)
		}
		if err := out.AddData(ctx, built, taskID); err != nil {
			return Result{}, g.abort(out, err)
		}
		rows += len(built)
		logger.Debug("feed batch written", zap.Int("batch_rows", len(built)), zap.Int("rows", rows))
	}

	size, err := out.Commit(ctx, taskID, true)
	if err != nil {
		return Result{}, err
	}

	res := Result{Rows: rows, Bytes: size, Duration: time.Since(start)}
	logger.Info("feed generation completed",
		zap.Int("rows", res.Rows),
		zap.Int64("bytes", res.Bytes),
		zap.Duration("duration", res.Duration))
	return res, nil
}

func (g *Generator) abort(out Sink, cause error) error {
	if err := out.Rollback(); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}
