package main

import (
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/dshills/catalogfeed/internal/apiclient"
	"github.com/dshills/catalogfeed/internal/attribute"
	"github.com/dshills/catalogfeed/internal/catalog"
	"github.com/dshills/catalogfeed/internal/config"
	"github.com/dshills/catalogfeed/internal/feed"
	"github.com/dshills/catalogfeed/internal/grouping"
	"github.com/dshills/catalogfeed/internal/ledger"
	"github.com/dshills/catalogfeed/internal/logging"
	"github.com/dshills/catalogfeed/internal/metrics"
	"github.com/dshills/catalogfeed/internal/sink"
	"github.com/dshills/catalogfeed/internal/stock"
	"github.com/dshills/catalogfeed/internal/storage"
	"github.com/dshills/catalogfeed/internal/syncer"
	"github.com/dshills/catalogfeed/internal/upload"
)

// Stock resolver priorities; lower runs first
const (
	msiSortOrder    = 10
	legacySortOrder = 20
)

// app holds every wired component for one command invocation
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics

	store     *storage.SQLiteStorage
	catalogDB *sql.DB

	deps     feed.Dependencies
	executor *feed.Executor
	syncer   *syncer.Syncer
	observer *ledger.Observer
}

func newApp(opts *rootOptions) (*app, error) {
	cfg, err := config.Load(opts.envFile)
	if err != nil {
		return nil, err
	}
	if opts.debug {
		cfg.Debug = true
		cfg.LogLevel = "debug"
	}

	logger, err := logging.New(logging.Config{Level: cfg.LogLevel, Development: cfg.Debug})
	if err != nil {
		return nil, err
	}

	store, err := storage.NewSQLiteStorage(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}
	catalogDB, err := storage.OpenDB(cfg.CatalogDBPath)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to open catalog database: %w", err)
	}

	m := metrics.New(nil)
	source := catalog.NewSQLiteSource(catalogDB)
	deps := feed.Dependencies{
		Catalog: source,
		Stock: stock.NewCompositeResolver(logger,
			stock.NewMSIResolver(source, source, source, msiSortOrder, logger),
			stock.NewLegacyResolver(source, legacySortOrder),
		),
		Attributes: attribute.NewResolver(source, logger, 0),
		Grouping: grouping.NewResolver(grouping.Config{
			AttributesToConsider: cfg.Grouping.AttributesToConsider,
			OnlySwatchAttributes: cfg.Grouping.OnlySwatchAttributes,
		}, source),
		Logger: logger,
	}

	formatters, writers := sink.DefaultRegistries()
	uploader := upload.NewClient(0, logger)
	newSink := func() feed.Sink {
		return sink.New(formatters, writers, nil, uploader, store, sink.Options{
			TmpDir:      cfg.TmpDir,
			Debug:       cfg.Debug,
			RetainFiles: cfg.RetainFiles,
		}, logger)
	}
	generator := feed.NewGenerator(deps, newSink, cfg.BatchSize)

	client := apiclient.New(apiclient.Options{RPS: cfg.Sync.RPS, Burst: cfg.Sync.Burst}, m, logger)
	sy := syncer.New(store, deps, client, syncer.Config{
		Workers:   cfg.Sync.Workers,
		BatchSize: cfg.BatchSize,
		LockTTL:   cfg.Sync.LockTTL,
	}, m, logger)

	l := ledger.New(store, m, logger)

	return &app{
		cfg:       cfg,
		logger:    logger,
		metrics:   m,
		store:     store,
		catalogDB: catalogDB,
		deps:      deps,
		executor:  feed.NewExecutor(store, generator, m, logger),
		syncer:    sy,
		observer:  ledger.NewObserver(l, source, cfg.Stores, ledger.SyncEnabled),
	}, nil
}

// Close releases both databases and flushes the logger
func (a *app) Close() error {
	err := errors.Join(a.store.Close(), a.catalogDB.Close())
	_ = a.logger.Sync()
	return err
}

// stores applies the --stores/--sites filters; a filter that matches nothing is an error
func (a *app) stores(f *storeFilter) ([]config.Store, error) {
	codes, sites := config.SplitList(f.codes), config.SplitList(f.sites)
	stores := a.cfg.FilterStores(codes, sites)
	if len(stores) == 0 {
		if len(codes) > 0 || len(sites) > 0 {
			return nil, fmt.Errorf("no configured store matches --stores=%q --sites=%q", f.codes, f.sites)
		}
		return nil, errors.New("no stores configured")
	}
	return stores, nil
}
