package storage

import (
	"context"
	"time"

	"github.com/dshills/catalogfeed/pkg/types"
)

// Storage defines the interface for persisting the indexing ledger and feed tasks
type Storage interface {
	// Ledger operations
	NewEntity() *IndexingEntity
	GetEntity(ctx context.Context, id int64) (*IndexingEntity, error)
	ListEntities(ctx context.Context, filter LedgerFilter, needTotal bool) (*EntityList, error)
	SaveEntity(ctx context.Context, entity *IndexingEntity) (*IndexingEntity, error)
	DeleteEntity(ctx context.Context, entity *IndexingEntity) error
	DeleteEntityByID(ctx context.Context, id int64) error
	CountEntities(ctx context.Context, filter LedgerFilter) (int, error)
	UniqueEntityTypes(ctx context.Context, siteID string) ([]string, error)
	CountByAction(ctx context.Context, siteID string) (map[types.Action]int, error)

	// Bulk ledger operations
	LookupKeys(ctx context.Context, entityType, siteID string, targetIDs []int64) (map[EntityKey]struct{}, error)
	InsertEntities(ctx context.Context, entities []*IndexingEntity) error
	MarkNextAction(ctx context.Context, entityType, siteID string, key EntityKey, action types.Action) (int64, error)

	// Lock operations
	ClaimEntity(ctx context.Context, id int64, now, staleBefore int64) (bool, error)
	SettleEntity(ctx context.Context, id, revision int64, executed types.Action, at int64) (bool, error)
	ReleaseEntity(ctx context.Context, id int64) error

	// Task operations
	CreateTask(ctx context.Context, task *Task) error
	GetTask(ctx context.Context, id int64) (*Task, error)
	ListTasks(ctx context.Context, status TaskStatus, limit int) ([]*Task, error)
	UpdateTaskStatus(ctx context.Context, id int64, status TaskStatus, errorDetail string) error
	UpdateTaskFileSize(ctx context.Context, id int64, size int64) error

	// Database operations
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx represents a database transaction
type Tx interface {
	Commit() error
	Rollback() error
	Storage // Embed Storage interface for transaction operations
}

// Column limits enforced before any write
const (
	MaxEntityTypeLength = 50
	MaxSiteIDLength     = 20

	// lookupChunkSize bounds the number of ids bound into one IN (...) clause
	lookupChunkSize = 100
)

// IndexingEntity is one ledger row tracking a catalog entity that needs syncing
type IndexingEntity struct {
	ID                  int64
	TargetEntityType    string
	TargetEntitySubtype string
	TargetID            int64
	TargetParentID      *int64 // Nullable
	SiteID              string
	IsIndexable         bool
	NextAction          types.Action
	LastAction          types.Action
	LockTimestamp       *int64 // Nullable, unix seconds
	LastActionTimestamp *int64 // Nullable, unix seconds
	Revision            int64  // Incremented by every queued action
}

// Key returns the composite identity of the entity within its type and site
func (e *IndexingEntity) Key() EntityKey {
	key := EntityKey{TargetID: e.TargetID}
	if e.TargetParentID != nil {
		key.ParentID = *e.TargetParentID
	}
	return key
}

// EntityKey identifies a ledger row within one (entity type, site) scope.
// A ParentID of 0 means "no parent".
type EntityKey struct {
	TargetID int64
	ParentID int64
}

// LedgerFilter narrows ledger queries. Zero values mean "no constraint".
type LedgerFilter struct {
	EntityType  string
	SiteIDs     []string
	TargetIDs   []int64
	NextActions []types.Action
	IsIndexable *bool
	// Unlocked restricts to rows without a lock, or whose lock is older than StaleBefore
	Unlocked    bool
	StaleBefore int64
	AfterID     int64
	Limit       int
	Offset      int
}

// EntityList is the result of a ledger list query
type EntityList struct {
	Items []*IndexingEntity
	Total int // Only populated when requested
}

// TaskStatus is the lifecycle state of a feed task
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskSuccess    TaskStatus = "success"
	TaskError      TaskStatus = "error"
)

// Task types
const (
	TaskTypeFeedGeneration = "feed_generation"
)

// Task is a unit of feed-generation work
type Task struct {
	ID          int64
	Type        string
	Payload     []byte
	Status      TaskStatus
	ErrorDetail *string // Nullable
	FileSize    *int64  // Nullable, bytes uploaded
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// canTransition reports whether a task may move from one status to another
func canTransition(from, to TaskStatus) bool {
	switch from {
	case TaskPending:
		return to == TaskProcessing || to == TaskError
	case TaskProcessing:
		return to == TaskSuccess || to == TaskError
	}
	return false
}
