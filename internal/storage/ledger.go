package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/dshills/catalogfeed/pkg/types"
)

const entityColumns = `id, target_entity_type, target_entity_subtype, target_id, target_parent_id, site_id,
       is_indexable, next_action, last_action, lock_timestamp, last_action_timestamp, revision`

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanEntity reads one ledger row and casts every column to its semantic type.
// Actions come back as canonical strings, nullable ints stay nil.
func scanEntity(row rowScanner) (*IndexingEntity, error) {
	var (
		entity     IndexingEntity
		subtype    sql.NullString
		parentID   sql.NullInt64
		indexable  int64
		nextAction sql.NullString
		lastAction sql.NullString
		lockTS     sql.NullInt64
		lastTS     sql.NullInt64
	)
	err := row.Scan(
		&entity.ID, &entity.TargetEntityType, &subtype, &entity.TargetID, &parentID, &entity.SiteID,
		&indexable, &nextAction, &lastAction, &lockTS, &lastTS, &entity.Revision,
	)
	if err != nil {
		return nil, err
	}

	entity.TargetEntitySubtype = subtype.String
	entity.IsIndexable = indexable != 0
	if parentID.Valid {
		v := parentID.Int64
		entity.TargetParentID = &v
	}
	if lockTS.Valid {
		v := lockTS.Int64
		entity.LockTimestamp = &v
	}
	if lastTS.Valid {
		v := lastTS.Int64
		entity.LastActionTimestamp = &v
	}

	if entity.NextAction, err = types.ParseAction(nextAction.String); err != nil {
		return nil, fmt.Errorf("entity %d next_action: %w", entity.ID, err)
	}
	if entity.LastAction, err = types.ParseAction(lastAction.String); err != nil {
		return nil, fmt.Errorf("entity %d last_action: %w", entity.ID, err)
	}

	return &entity, nil
}

// nullableInt64 converts an optional value to a driver argument
func nullableInt64(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

// NewEntity returns an unsaved ledger row with defaults applied
func (s *SQLiteStorage) NewEntity() *IndexingEntity {
	return &IndexingEntity{
		TargetEntityType: types.EntityProduct,
		IsIndexable:      true,
		NextAction:       types.ActionNone,
		LastAction:       types.ActionNone,
	}
}

// getEntityWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) getEntityWithQuerier(ctx context.Context, q querier, id int64) (*IndexingEntity, error) {
	query := `SELECT ` + entityColumns + ` FROM indexing_entities WHERE id = ?`
	entity, err := scanEntity(q.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("indexing entity %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return entity, nil
}

func (s *SQLiteStorage) GetEntity(ctx context.Context, id int64) (*IndexingEntity, error) {
	return s.getEntityWithQuerier(ctx, s.querier(), id)
}

// buildLedgerWhere renders a LedgerFilter into a WHERE clause and its arguments
func buildLedgerWhere(filter LedgerFilter) (string, []interface{}) {
	var (
		clauses []string
		args    []interface{}
	)

	if filter.EntityType != "" {
		clauses = append(clauses, "target_entity_type = ?")
		args = append(args, filter.EntityType)
	}
	if len(filter.SiteIDs) > 0 {
		clauses = append(clauses, "site_id IN ("+placeholders(len(filter.SiteIDs))+")")
		for _, site := range filter.SiteIDs {
			args = append(args, site)
		}
	}
	if len(filter.TargetIDs) > 0 {
		clauses = append(clauses, "target_id IN ("+placeholders(len(filter.TargetIDs))+")")
		for _, id := range filter.TargetIDs {
			args = append(args, id)
		}
	}
	if len(filter.NextActions) > 0 {
		clauses = append(clauses, "next_action IN ("+placeholders(len(filter.NextActions))+")")
		for _, action := range filter.NextActions {
			args = append(args, action.String())
		}
	}
	if filter.IsIndexable != nil {
		clauses = append(clauses, "is_indexable = ?")
		args = append(args, boolToInt(*filter.IsIndexable))
	}
	if filter.Unlocked {
		clauses = append(clauses, "(lock_timestamp IS NULL OR lock_timestamp < ?)")
		args = append(args, filter.StaleBefore)
	}
	if filter.AfterID > 0 {
		clauses = append(clauses, "id > ?")
		args = append(args, filter.AfterID)
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// listEntitiesWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) listEntitiesWithQuerier(ctx context.Context, q querier, filter LedgerFilter, needTotal bool) (*EntityList, error) {
	where, args := buildLedgerWhere(filter)

	query := `SELECT ` + entityColumns + ` FROM indexing_entities` + where + ` ORDER BY id`
	pageArgs := append([]interface{}{}, args...)
	if filter.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		pageArgs = append(pageArgs, filter.Limit, filter.Offset)
	}

	rows, err := q.QueryContext(ctx, query, pageArgs...)
	if err != nil {
		return nil, fmt.Errorf("failed to list indexing entities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := &EntityList{Items: make([]*IndexingEntity, 0)}
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		result.Items = append(result.Items, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if needTotal {
		countQuery := `SELECT COUNT(*) FROM indexing_entities` + where
		if err := q.QueryRowContext(ctx, countQuery, args...).Scan(&result.Total); err != nil {
			return nil, fmt.Errorf("failed to count indexing entities: %w", err)
		}
	}

	return result, nil
}

func (s *SQLiteStorage) ListEntities(ctx context.Context, filter LedgerFilter, needTotal bool) (*EntityList, error) {
	return s.listEntitiesWithQuerier(ctx, s.querier(), filter, needTotal)
}

// saveEntityWithQuerier inserts a new row or updates an existing one, by presence of ID
func (s *SQLiteStorage) saveEntityWithQuerier(ctx context.Context, q querier, entity *IndexingEntity) (*IndexingEntity, error) {
	if err := ValidateEntity(entity); err != nil {
		return nil, err
	}

	if entity.ID == 0 {
		query := `
			INSERT INTO indexing_entities (
				target_entity_type, target_entity_subtype, target_id, target_parent_id, site_id,
				is_indexable, next_action, last_action, lock_timestamp, last_action_timestamp
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			RETURNING id
		`
		err := q.QueryRowContext(ctx, query,
			entity.TargetEntityType, entity.TargetEntitySubtype, entity.TargetID, nullableInt64(entity.TargetParentID),
			entity.SiteID, boolToInt(entity.IsIndexable), entity.NextAction.String(), entity.LastAction.String(),
			nullableInt64(entity.LockTimestamp), nullableInt64(entity.LastActionTimestamp),
		).Scan(&entity.ID)
		if err != nil {
			return nil, classifyWriteError("failed to insert indexing entity", err)
		}
		return entity, nil
	}

	query := `
		UPDATE indexing_entities
		SET target_entity_type = ?, target_entity_subtype = ?, target_id = ?, target_parent_id = ?, site_id = ?,
		    is_indexable = ?, next_action = ?, last_action = ?, lock_timestamp = ?, last_action_timestamp = ?,
		    revision = revision + 1
		WHERE id = ?
	`
	result, err := q.ExecContext(ctx, query,
		entity.TargetEntityType, entity.TargetEntitySubtype, entity.TargetID, nullableInt64(entity.TargetParentID),
		entity.SiteID, boolToInt(entity.IsIndexable), entity.NextAction.String(), entity.LastAction.String(),
		nullableInt64(entity.LockTimestamp), nullableInt64(entity.LastActionTimestamp), entity.ID,
	)
	if err != nil {
		return nil, classifyWriteError("failed to update indexing entity", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, classifyWriteError("failed to update indexing entity", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("indexing entity %d: %w", entity.ID, ErrNotFound)
	}
	return entity, nil
}

func (s *SQLiteStorage) SaveEntity(ctx context.Context, entity *IndexingEntity) (*IndexingEntity, error) {
	return s.saveEntityWithQuerier(ctx, s.querier(), entity)
}

// deleteEntityByIDWithQuerier deletes one row. An absent id yields ErrNotFound.
func (s *SQLiteStorage) deleteEntityByIDWithQuerier(ctx context.Context, q querier, id int64) error {
	result, err := q.ExecContext(ctx, `DELETE FROM indexing_entities WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete indexing entity %d: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("indexing entity %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStorage) DeleteEntity(ctx context.Context, entity *IndexingEntity) error {
	return s.deleteEntityByIDWithQuerier(ctx, s.querier(), entity.ID)
}

func (s *SQLiteStorage) DeleteEntityByID(ctx context.Context, id int64) error {
	return s.deleteEntityByIDWithQuerier(ctx, s.querier(), id)
}

// countEntitiesWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) countEntitiesWithQuerier(ctx context.Context, q querier, filter LedgerFilter) (int, error) {
	where, args := buildLedgerWhere(filter)
	var count int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM indexing_entities`+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count indexing entities: %w", err)
	}
	return count, nil
}

func (s *SQLiteStorage) CountEntities(ctx context.Context, filter LedgerFilter) (int, error) {
	return s.countEntitiesWithQuerier(ctx, s.querier(), filter)
}

// uniqueEntityTypesWithQuerier lists distinct entity types, optionally for one site
func (s *SQLiteStorage) uniqueEntityTypesWithQuerier(ctx context.Context, q querier, siteID string) ([]string, error) {
	query := `SELECT DISTINCT target_entity_type FROM indexing_entities`
	var args []interface{}
	if siteID != "" {
		query += ` WHERE site_id = ?`
		args = append(args, siteID)
	}
	query += ` ORDER BY target_entity_type`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list entity types: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entityTypes := make([]string, 0)
	for rows.Next() {
		var entityType string
		if err := rows.Scan(&entityType); err != nil {
			return nil, err
		}
		entityTypes = append(entityTypes, entityType)
	}
	return entityTypes, rows.Err()
}

func (s *SQLiteStorage) UniqueEntityTypes(ctx context.Context, siteID string) ([]string, error) {
	return s.uniqueEntityTypesWithQuerier(ctx, s.querier(), siteID)
}

// countByActionWithQuerier groups rows by their queued action
func (s *SQLiteStorage) countByActionWithQuerier(ctx context.Context, q querier, siteID string) (map[types.Action]int, error) {
	query := `SELECT next_action, COUNT(*) FROM indexing_entities`
	var args []interface{}
	if siteID != "" {
		query += ` WHERE site_id = ?`
		args = append(args, siteID)
	}
	query += ` GROUP BY next_action`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count by action: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := map[types.Action]int{
		types.ActionUpsert: 0,
		types.ActionDelete: 0,
		types.ActionNone:   0,
	}
	for rows.Next() {
		var (
			raw   string
			count int
		)
		if err := rows.Scan(&raw, &count); err != nil {
			return nil, err
		}
		action, err := types.ParseAction(raw)
		if err != nil {
			return nil, err
		}
		counts[action] += count
	}
	return counts, rows.Err()
}

func (s *SQLiteStorage) CountByAction(ctx context.Context, siteID string) (map[types.Action]int, error) {
	return s.countByActionWithQuerier(ctx, s.querier(), siteID)
}

// lookupKeysWithQuerier returns the existing (target, parent) keys for the candidate ids,
// querying in chunks to bound the IN clause
func (s *SQLiteStorage) lookupKeysWithQuerier(ctx context.Context, q querier, entityType, siteID string, targetIDs []int64) (map[EntityKey]struct{}, error) {
	keys := make(map[EntityKey]struct{})
	for _, chunk := range chunkInt64(targetIDs, lookupChunkSize) {
		query := `
			SELECT target_id, IFNULL(target_parent_id, 0)
			FROM indexing_entities
			WHERE target_entity_type = ? AND site_id = ? AND target_id IN (` + placeholders(len(chunk)) + `)`
		args := make([]interface{}, 0, len(chunk)+2)
		args = append(args, entityType, siteID)
		for _, id := range chunk {
			args = append(args, id)
		}

		rows, err := q.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to look up ledger keys: %w", err)
		}
		for rows.Next() {
			var key EntityKey
			if err := rows.Scan(&key.TargetID, &key.ParentID); err != nil {
				_ = rows.Close()
				return nil, err
			}
			keys[key] = struct{}{}
		}
		err = rows.Err()
		_ = rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return keys, nil
}

func (s *SQLiteStorage) LookupKeys(ctx context.Context, entityType, siteID string, targetIDs []int64) (map[EntityKey]struct{}, error) {
	return s.lookupKeysWithQuerier(ctx, s.querier(), entityType, siteID, targetIDs)
}

// insertEntitiesWithQuerier validates every row before writing any of them
func (s *SQLiteStorage) insertEntitiesWithQuerier(ctx context.Context, q querier, entities []*IndexingEntity) error {
	for _, entity := range entities {
		if err := ValidateEntity(entity); err != nil {
			return err
		}
	}

	for _, entity := range entities {
		entity.ID = 0
		if _, err := s.saveEntityWithQuerier(ctx, q, entity); err != nil {
			return err
		}
	}
	return nil
}

// InsertEntities writes all rows in one transaction; a failure writes none of them
func (s *SQLiteStorage) InsertEntities(ctx context.Context, entities []*IndexingEntity) error {
	if len(entities) == 0 {
		return nil
	}

	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := tx.InsertEntities(ctx, entities); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return classifyWriteError("failed to commit indexing entities", err)
	}
	return nil
}

// markNextActionWithQuerier queues an action for an existing row and returns rows affected
func (s *SQLiteStorage) markNextActionWithQuerier(ctx context.Context, q querier, entityType, siteID string, key EntityKey, action types.Action) (int64, error) {
	if !action.Valid() {
		return 0, types.NewValidationError(fmt.Sprintf("next_action %q is not a known action", action))
	}
	query := `
		UPDATE indexing_entities
		SET next_action = ?, revision = revision + 1
		WHERE target_entity_type = ? AND site_id = ? AND target_id = ? AND IFNULL(target_parent_id, 0) = ?
	`
	result, err := q.ExecContext(ctx, query, action.String(), entityType, siteID, key.TargetID, key.ParentID)
	if err != nil {
		return 0, classifyWriteError("failed to mark next action", err)
	}
	return result.RowsAffected()
}

func (s *SQLiteStorage) MarkNextAction(ctx context.Context, entityType, siteID string, key EntityKey, action types.Action) (int64, error) {
	return s.markNextActionWithQuerier(ctx, s.querier(), entityType, siteID, key, action)
}

// claimEntityWithQuerier sets lock_timestamp only if the row is unlocked or its lock is stale.
// The single UPDATE makes the check-and-set atomic.
func (s *SQLiteStorage) claimEntityWithQuerier(ctx context.Context, q querier, id int64, now, staleBefore int64) (bool, error) {
	query := `
		UPDATE indexing_entities
		SET lock_timestamp = ?
		WHERE id = ? AND (lock_timestamp IS NULL OR lock_timestamp < ?)
	`
	result, err := q.ExecContext(ctx, query, now, id, staleBefore)
	if err != nil {
		return false, classifyWriteError("failed to claim indexing entity", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (s *SQLiteStorage) ClaimEntity(ctx context.Context, id int64, now, staleBefore int64) (bool, error) {
	return s.claimEntityWithQuerier(ctx, s.querier(), id, now, staleBefore)
}

// settleEntityWithQuerier records a delivered action, but only while the row still
// holds the revision that was sent. A delivered delete removes the row. When a newer
// action was queued in the meantime only the lock is cleared, so the next drain sends it.
func (s *SQLiteStorage) settleEntityWithQuerier(ctx context.Context, q querier, id, revision int64, executed types.Action, at int64) (bool, error) {
	var (
		result sql.Result
		err    error
	)
	if executed == types.ActionDelete {
		result, err = q.ExecContext(ctx, `DELETE FROM indexing_entities WHERE id = ? AND revision = ?`, id, revision)
	} else {
		query := `
			UPDATE indexing_entities
			SET last_action = ?, last_action_timestamp = ?, next_action = ?, lock_timestamp = NULL
			WHERE id = ? AND revision = ?
		`
		result, err = q.ExecContext(ctx, query, executed.String(), at, types.ActionNone.String(), id, revision)
	}
	if err != nil {
		return false, classifyWriteError("failed to settle indexing entity", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 1 {
		return true, nil
	}

	if err := s.releaseEntityWithQuerier(ctx, q, id); err != nil {
		return false, err
	}
	return false, nil
}

// SettleEntity runs the conditional settle and the fallback release in one transaction
func (s *SQLiteStorage) SettleEntity(ctx context.Context, id, revision int64, executed types.Action, at int64) (bool, error) {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	settled, err := tx.SettleEntity(ctx, id, revision, executed, at)
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, classifyWriteError("failed to commit settle", err)
	}
	return settled, nil
}

// releaseEntityWithQuerier clears the lock without touching the actions
func (s *SQLiteStorage) releaseEntityWithQuerier(ctx context.Context, q querier, id int64) error {
	_, err := q.ExecContext(ctx, `UPDATE indexing_entities SET lock_timestamp = NULL WHERE id = ?`, id)
	if err != nil {
		return classifyWriteError("failed to release indexing entity", err)
	}
	return nil
}

func (s *SQLiteStorage) ReleaseEntity(ctx context.Context, id int64) error {
	return s.releaseEntityWithQuerier(ctx, s.querier(), id)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
