package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dshills/catalogfeed/pkg/types"
)

// Sentinel errors re-exported for callers that only import storage
var (
	// ErrNotFound is returned when a requested row doesn't exist
	ErrNotFound = types.ErrNotFound
	// ErrAlreadyExists is returned on a unique-constraint violation
	ErrAlreadyExists = types.ErrAlreadyExists
	// ErrCouldNotSave is returned on any other write failure
	ErrCouldNotSave = types.ErrCouldNotSave
)

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite benefits from single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// OpenDB opens a SQLite handle with the storage pragmas applied, without migrations.
// The catalog reader uses it for the external catalog database.
func OpenDB(dbPath string) (*sql.DB, error) {
	return openDatabase(dbPath)
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Apply migrations
	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// NewWithDB wraps an already opened handle. Migrations are not applied.
func NewWithDB(db *sql.DB) *SQLiteStorage {
	return &SQLiteStorage{db: db}
}

// DB exposes the underlying handle
func (s *SQLiteStorage) DB() *sql.DB {
	return s.db
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx, storage: s}, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

// querier returns the transaction querier
func (t *sqliteTx) querier() querier {
	return t.tx
}

// querier returns the DB querier
func (s *SQLiteStorage) querier() querier {
	return s.db
}

// isUniqueViolation matches the constraint error text produced by both SQLite drivers
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed: UNIQUE")
}

// classifyWriteError maps a driver error onto the storage taxonomy
func classifyWriteError(op string, err error) error {
	if isUniqueViolation(err) {
		return fmt.Errorf("%s: %w: %v", op, ErrAlreadyExists, err)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrCouldNotSave, err)
}

// placeholders returns "?, ?, ?" for n arguments
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// chunkInt64 splits ids into slices of at most size elements
func chunkInt64(ids []int64, size int) [][]int64 {
	var chunks [][]int64
	for i := 0; i < len(ids); i += size {
		end := i + size
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[i:end])
	}
	return chunks
}

// Transaction delegations

func (t *sqliteTx) NewEntity() *IndexingEntity {
	return t.storage.NewEntity()
}

func (t *sqliteTx) GetEntity(ctx context.Context, id int64) (*IndexingEntity, error) {
	return t.storage.getEntityWithQuerier(ctx, t.querier(), id)
}

func (t *sqliteTx) ListEntities(ctx context.Context, filter LedgerFilter, needTotal bool) (*EntityList, error) {
	return t.storage.listEntitiesWithQuerier(ctx, t.querier(), filter, needTotal)
}

func (t *sqliteTx) SaveEntity(ctx context.Context, entity *IndexingEntity) (*IndexingEntity, error) {
	return t.storage.saveEntityWithQuerier(ctx, t.querier(), entity)
}

func (t *sqliteTx) DeleteEntity(ctx context.Context, entity *IndexingEntity) error {
	return t.storage.deleteEntityByIDWithQuerier(ctx, t.querier(), entity.ID)
}

func (t *sqliteTx) DeleteEntityByID(ctx context.Context, id int64) error {
	return t.storage.deleteEntityByIDWithQuerier(ctx, t.querier(), id)
}

func (t *sqliteTx) CountEntities(ctx context.Context, filter LedgerFilter) (int, error) {
	return t.storage.countEntitiesWithQuerier(ctx, t.querier(), filter)
}

func (t *sqliteTx) UniqueEntityTypes(ctx context.Context, siteID string) ([]string, error) {
	return t.storage.uniqueEntityTypesWithQuerier(ctx, t.querier(), siteID)
}

func (t *sqliteTx) CountByAction(ctx context.Context, siteID string) (map[types.Action]int, error) {
	return t.storage.countByActionWithQuerier(ctx, t.querier(), siteID)
}

func (t *sqliteTx) LookupKeys(ctx context.Context, entityType, siteID string, targetIDs []int64) (map[EntityKey]struct{}, error) {
	return t.storage.lookupKeysWithQuerier(ctx, t.querier(), entityType, siteID, targetIDs)
}

func (t *sqliteTx) InsertEntities(ctx context.Context, entities []*IndexingEntity) error {
	return t.storage.insertEntitiesWithQuerier(ctx, t.querier(), entities)
}

func (t *sqliteTx) MarkNextAction(ctx context.Context, entityType, siteID string, key EntityKey, action types.Action) (int64, error) {
	return t.storage.markNextActionWithQuerier(ctx, t.querier(), entityType, siteID, key, action)
}

func (t *sqliteTx) ClaimEntity(ctx context.Context, id int64, now, staleBefore int64) (bool, error) {
	return t.storage.claimEntityWithQuerier(ctx, t.querier(), id, now, staleBefore)
}

func (t *sqliteTx) SettleEntity(ctx context.Context, id, revision int64, executed types.Action, at int64) (bool, error) {
	return t.storage.settleEntityWithQuerier(ctx, t.querier(), id, revision, executed, at)
}

func (t *sqliteTx) ReleaseEntity(ctx context.Context, id int64) error {
	return t.storage.releaseEntityWithQuerier(ctx, t.querier(), id)
}

func (t *sqliteTx) CreateTask(ctx context.Context, task *Task) error {
	return t.storage.createTaskWithQuerier(ctx, t.querier(), task)
}

func (t *sqliteTx) GetTask(ctx context.Context, id int64) (*Task, error) {
	return t.storage.getTaskWithQuerier(ctx, t.querier(), id)
}

func (t *sqliteTx) ListTasks(ctx context.Context, status TaskStatus, limit int) ([]*Task, error) {
	return t.storage.listTasksWithQuerier(ctx, t.querier(), status, limit)
}

func (t *sqliteTx) UpdateTaskStatus(ctx context.Context, id int64, status TaskStatus, errorDetail string) error {
	return t.storage.updateTaskStatusWithQuerier(ctx, t.querier(), id, status, errorDetail)
}

func (t *sqliteTx) UpdateTaskFileSize(ctx context.Context, id int64, size int64) error {
	return t.storage.updateTaskFileSizeWithQuerier(ctx, t.querier(), id, size)
}

func (t *sqliteTx) Close() error {
	// Transactions don't close the underlying database
	return nil
}

func (t *sqliteTx) BeginTx(ctx context.Context) (Tx, error) {
	// SQLite does not support true nested transactions
	return nil, errors.New("nested transactions not supported")
}
