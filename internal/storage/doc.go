// Package storage provides SQLite-based persistence for the indexing ledger
// and the feed task queue.
//
// The storage layer manages:
//   - Indexing entities: one row per catalog entity that must be pushed to the
//     remote search service, with its queued and last executed action
//   - Row locks used by concurrent sync workers
//   - Feed generation tasks and their status lifecycle
//
// # Database Schema
//
// Tables:
//   - indexing_entities: ledger rows, unique on
//     (target_entity_type, target_id, IFNULL(target_parent_id, 0), site_id)
//   - tasks: feed generation tasks (pending, processing, success, error)
//   - schema_version: applied migrations, compared with semver
//
// # Basic Usage
//
//	store, err := storage.NewSQLiteStorage("~/.catalogfeed/ledger.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
//	entity := store.NewEntity()
//	entity.TargetID = 42
//	entity.SiteID = "1"
//	entity.NextAction = types.ActionUpsert
//	saved, err := store.SaveEntity(ctx, entity)
//
// # Transactions
//
// Use transactions for atomic operations:
//
//	tx, err := store.BeginTx(ctx)
//	if err != nil {
//	    return err
//	}
//	defer tx.Rollback()
//
//	if _, err := tx.SaveEntity(ctx, entity); err != nil {
//	    return err
//	}
//	if err := tx.UpdateTaskStatus(ctx, taskID, storage.TaskSuccess, ""); err != nil {
//	    return err
//	}
//	return tx.Commit()
//
// # Locking
//
// ClaimEntity is a compare-and-set: a single UPDATE that only matches rows
// whose lock_timestamp is NULL or older than the stale cutoff. A worker that
// gets false must skip the row.
//
// Every queued action bumps the row's revision. SettleEntity only records a
// delivered action, or deletes the row after a delivered delete, while the
// revision is still the one the worker read. Otherwise it clears the lock and
// leaves the newer action for the next drain.
//
// # Errors
//
// Writes map driver errors onto the shared taxonomy: unique violations wrap
// ErrAlreadyExists, other write failures wrap ErrCouldNotSave, and invalid
// rows return a *types.ValidationError before touching the database.
//
// # Build Modes
//
// The default build uses modernc.org/sqlite (no cgo). Building with the
// sqlite_cgo tag switches to github.com/mattn/go-sqlite3.
package storage
