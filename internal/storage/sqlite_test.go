package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/catalogfeed/pkg/types"
)

func setupTestDB(t *testing.T) *SQLiteStorage {
	// Use in-memory database for testing
	storage, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	require.NotNil(t, storage)
	t.Cleanup(func() { _ = storage.Close() })
	return storage
}

func int64Ptr(v int64) *int64 { return &v }

func newTestEntity(s *SQLiteStorage, targetID int64, siteID string) *IndexingEntity {
	e := s.NewEntity()
	e.TargetID = targetID
	e.SiteID = siteID
	e.NextAction = types.ActionUpsert
	return e
}

func TestNewSQLiteStorage(t *testing.T) {
	storage := setupTestDB(t)
	assert.NotNil(t, storage.db)
	assert.NotNil(t, storage.DB())
}

func TestClose(t *testing.T) {
	storage, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	assert.NoError(t, storage.Close())
}

func TestNewEntity_Defaults(t *testing.T) {
	storage := setupTestDB(t)
	e := storage.NewEntity()

	assert.Equal(t, types.EntityProduct, e.TargetEntityType)
	assert.True(t, e.IsIndexable)
	assert.Equal(t, types.ActionNone, e.NextAction)
	assert.Equal(t, types.ActionNone, e.LastAction)
	assert.Zero(t, e.ID)
}

func TestSaveAndGetEntity(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	e := newTestEntity(storage, 10, "1")
	e.TargetParentID = int64Ptr(5)
	e.TargetEntitySubtype = types.TypeSimple

	saved, err := storage.SaveEntity(ctx, e)
	require.NoError(t, err)
	assert.Greater(t, saved.ID, int64(0))

	got, err := storage.GetEntity(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), got.TargetID)
	require.NotNil(t, got.TargetParentID)
	assert.Equal(t, int64(5), *got.TargetParentID)
	assert.Equal(t, types.TypeSimple, got.TargetEntitySubtype)
	assert.Equal(t, types.ActionUpsert, got.NextAction)
	assert.Equal(t, types.ActionNone, got.LastAction)
	assert.True(t, got.IsIndexable)
	assert.Nil(t, got.LockTimestamp)
	assert.Nil(t, got.LastActionTimestamp)
}

func TestGetEntity_NotFound(t *testing.T) {
	storage := setupTestDB(t)

	_, err := storage.GetEntity(context.Background(), 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveEntity_Update(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	saved, err := storage.SaveEntity(ctx, newTestEntity(storage, 10, "1"))
	require.NoError(t, err)

	saved.IsIndexable = false
	saved.NextAction = types.ActionDelete
	_, err = storage.SaveEntity(ctx, saved)
	require.NoError(t, err)

	got, err := storage.GetEntity(ctx, saved.ID)
	require.NoError(t, err)
	assert.False(t, got.IsIndexable)
	assert.Equal(t, types.ActionDelete, got.NextAction)
}

func TestSaveEntity_UpdateMissing(t *testing.T) {
	storage := setupTestDB(t)

	e := newTestEntity(storage, 10, "1")
	e.ID = 12345
	_, err := storage.SaveEntity(context.Background(), e)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveEntity_Duplicate(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	_, err := storage.SaveEntity(ctx, newTestEntity(storage, 10, "1"))
	require.NoError(t, err)

	// Same key with a NULL parent must collide
	_, err = storage.SaveEntity(ctx, newTestEntity(storage, 10, "1"))
	assert.ErrorIs(t, err, ErrAlreadyExists)

	// Different parent is a different key
	withParent := newTestEntity(storage, 10, "1")
	withParent.TargetParentID = int64Ptr(3)
	_, err = storage.SaveEntity(ctx, withParent)
	assert.NoError(t, err)

	// Different site is a different key
	_, err = storage.SaveEntity(ctx, newTestEntity(storage, 10, "2"))
	assert.NoError(t, err)
}

func TestSaveEntity_Invalid(t *testing.T) {
	storage := setupTestDB(t)

	e := newTestEntity(storage, 0, "")
	_, err := storage.SaveEntity(context.Background(), e)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrValidation)

	var verr *types.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Len(t, verr.Messages, 2)
}

func TestDeleteEntity(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	saved, err := storage.SaveEntity(ctx, newTestEntity(storage, 10, "1"))
	require.NoError(t, err)

	require.NoError(t, storage.DeleteEntity(ctx, saved))
	_, err = storage.GetEntity(ctx, saved.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, storage.DeleteEntityByID(ctx, saved.ID), ErrNotFound)
}

func TestListEntities(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		e := newTestEntity(storage, i, "1")
		if i%2 == 0 {
			e.NextAction = types.ActionNone
		}
		_, err := storage.SaveEntity(ctx, e)
		require.NoError(t, err)
	}
	_, err := storage.SaveEntity(ctx, newTestEntity(storage, 1, "2"))
	require.NoError(t, err)

	t.Run("all with total", func(t *testing.T) {
		list, err := storage.ListEntities(ctx, LedgerFilter{}, true)
		require.NoError(t, err)
		assert.Len(t, list.Items, 6)
		assert.Equal(t, 6, list.Total)
	})

	t.Run("site and action", func(t *testing.T) {
		list, err := storage.ListEntities(ctx, LedgerFilter{
			SiteIDs:     []string{"1"},
			NextActions: []types.Action{types.ActionUpsert},
		}, false)
		require.NoError(t, err)
		assert.Len(t, list.Items, 3)
		assert.Zero(t, list.Total)
	})

	t.Run("paged", func(t *testing.T) {
		list, err := storage.ListEntities(ctx, LedgerFilter{Limit: 2, Offset: 2}, true)
		require.NoError(t, err)
		require.Len(t, list.Items, 2)
		assert.Equal(t, int64(3), list.Items[0].TargetID)
		assert.Equal(t, 6, list.Total)
	})

	t.Run("after id", func(t *testing.T) {
		first, err := storage.ListEntities(ctx, LedgerFilter{Limit: 1}, false)
		require.NoError(t, err)
		rest, err := storage.ListEntities(ctx, LedgerFilter{AfterID: first.Items[0].ID}, false)
		require.NoError(t, err)
		assert.Len(t, rest.Items, 5)
	})

	t.Run("target ids", func(t *testing.T) {
		count, err := storage.CountEntities(ctx, LedgerFilter{TargetIDs: []int64{1, 2}})
		require.NoError(t, err)
		assert.Equal(t, 3, count)
	})
}

func TestUniqueEntityTypes(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	_, err := storage.SaveEntity(ctx, newTestEntity(storage, 1, "1"))
	require.NoError(t, err)
	category := newTestEntity(storage, 1, "2")
	category.TargetEntityType = types.EntityCategory
	_, err = storage.SaveEntity(ctx, category)
	require.NoError(t, err)

	all, err := storage.UniqueEntityTypes(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{types.EntityCategory, types.EntityProduct}, all)

	site1, err := storage.UniqueEntityTypes(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, []string{types.EntityProduct}, site1)
}

func TestCountByAction(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	_, err := storage.SaveEntity(ctx, newTestEntity(storage, 1, "1"))
	require.NoError(t, err)
	del := newTestEntity(storage, 2, "1")
	del.NextAction = types.ActionDelete
	_, err = storage.SaveEntity(ctx, del)
	require.NoError(t, err)

	counts, err := storage.CountByAction(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, 1, counts[types.ActionUpsert])
	assert.Equal(t, 1, counts[types.ActionDelete])
	assert.Equal(t, 0, counts[types.ActionNone])
}

func TestLookupKeys_Chunked(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	var entities []*IndexingEntity
	for i := int64(1); i <= 250; i++ {
		e := newTestEntity(storage, i, "1")
		if i == 7 {
			e.TargetParentID = int64Ptr(100)
		}
		entities = append(entities, e)
	}
	require.NoError(t, storage.InsertEntities(ctx, entities))

	ids := make([]int64, 0, 260)
	for i := int64(1); i <= 260; i++ {
		ids = append(ids, i)
	}
	keys, err := storage.LookupKeys(ctx, types.EntityProduct, "1", ids)
	require.NoError(t, err)
	assert.Len(t, keys, 250)
	assert.Contains(t, keys, EntityKey{TargetID: 7, ParentID: 100})
	assert.NotContains(t, keys, EntityKey{TargetID: 7})
	assert.Contains(t, keys, EntityKey{TargetID: 250})

	other, err := storage.LookupKeys(ctx, types.EntityProduct, "2", ids)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestInsertEntities_AllOrNothing(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	_, err := storage.SaveEntity(ctx, newTestEntity(storage, 3, "1"))
	require.NoError(t, err)

	batch := []*IndexingEntity{
		newTestEntity(storage, 1, "1"),
		newTestEntity(storage, 2, "1"),
		newTestEntity(storage, 3, "1"), // duplicate
	}
	err = storage.InsertEntities(ctx, batch)
	assert.ErrorIs(t, err, ErrAlreadyExists)

	count, err := storage.CountEntities(ctx, LedgerFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// A validation failure writes nothing either
	bad := newTestEntity(storage, 4, "1")
	bad.SiteID = "this-site-id-is-way-too-long"
	err = storage.InsertEntities(ctx, []*IndexingEntity{newTestEntity(storage, 5, "1"), bad})
	assert.ErrorIs(t, err, types.ErrValidation)

	count, err = storage.CountEntities(ctx, LedgerFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMarkNextAction(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	e := newTestEntity(storage, 8, "1")
	e.NextAction = types.ActionNone
	e.TargetParentID = int64Ptr(2)
	saved, err := storage.SaveEntity(ctx, e)
	require.NoError(t, err)

	n, err := storage.MarkNextAction(ctx, types.EntityProduct, "1", EntityKey{TargetID: 8, ParentID: 2}, types.ActionDelete)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := storage.GetEntity(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ActionDelete, got.NextAction)

	n, err = storage.MarkNextAction(ctx, types.EntityProduct, "1", EntityKey{TargetID: 8}, types.ActionDelete)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = storage.MarkNextAction(ctx, types.EntityProduct, "1", EntityKey{TargetID: 8}, types.Action("bogus"))
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestClaimEntity(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	saved, err := storage.SaveEntity(ctx, newTestEntity(storage, 1, "1"))
	require.NoError(t, err)

	now := time.Now().Unix()
	staleBefore := now - 1800

	ok, err := storage.ClaimEntity(ctx, saved.ID, now, staleBefore)
	require.NoError(t, err)
	assert.True(t, ok)

	// Second claim while the lock is fresh fails
	ok, err = storage.ClaimEntity(ctx, saved.ID, now+1, staleBefore)
	require.NoError(t, err)
	assert.False(t, ok)

	// Once the lock is older than the cutoff it can be taken over
	ok, err = storage.ClaimEntity(ctx, saved.ID, now+3600, now+1)
	require.NoError(t, err)
	assert.True(t, ok)

	// Locked rows are hidden from an unlocked listing
	list, err := storage.ListEntities(ctx, LedgerFilter{Unlocked: true, StaleBefore: now}, false)
	require.NoError(t, err)
	assert.Empty(t, list.Items)

	require.NoError(t, storage.ReleaseEntity(ctx, saved.ID))
	got, err := storage.GetEntity(ctx, saved.ID)
	require.NoError(t, err)
	assert.Nil(t, got.LockTimestamp)
	assert.Equal(t, types.ActionUpsert, got.NextAction)
}

func TestSettleEntity(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().Unix()

	t.Run("records a delivered upsert", func(t *testing.T) {
		saved, err := storage.SaveEntity(ctx, newTestEntity(storage, 1, "1"))
		require.NoError(t, err)
		_, err = storage.ClaimEntity(ctx, saved.ID, now, now-60)
		require.NoError(t, err)

		settled, err := storage.SettleEntity(ctx, saved.ID, saved.Revision, types.ActionUpsert, now)
		require.NoError(t, err)
		assert.True(t, settled)

		got, err := storage.GetEntity(ctx, saved.ID)
		require.NoError(t, err)
		assert.Equal(t, types.ActionNone, got.NextAction)
		assert.Equal(t, types.ActionUpsert, got.LastAction)
		require.NotNil(t, got.LastActionTimestamp)
		assert.Equal(t, now, *got.LastActionTimestamp)
		assert.Nil(t, got.LockTimestamp)
	})

	t.Run("removes a delivered delete", func(t *testing.T) {
		e := newTestEntity(storage, 2, "1")
		e.NextAction = types.ActionDelete
		saved, err := storage.SaveEntity(ctx, e)
		require.NoError(t, err)

		settled, err := storage.SettleEntity(ctx, saved.ID, saved.Revision, types.ActionDelete, now)
		require.NoError(t, err)
		assert.True(t, settled)
		_, err = storage.GetEntity(ctx, saved.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("newer action only releases the lock", func(t *testing.T) {
		saved, err := storage.SaveEntity(ctx, newTestEntity(storage, 3, "1"))
		require.NoError(t, err)
		_, err = storage.ClaimEntity(ctx, saved.ID, now, now-60)
		require.NoError(t, err)
		_, err = storage.MarkNextAction(ctx, types.EntityProduct, "1", saved.Key(), types.ActionDelete)
		require.NoError(t, err)

		for _, executed := range []types.Action{types.ActionUpsert, types.ActionDelete} {
			settled, err := storage.SettleEntity(ctx, saved.ID, saved.Revision, executed, now)
			require.NoError(t, err)
			assert.False(t, settled)
		}

		got, err := storage.GetEntity(ctx, saved.ID)
		require.NoError(t, err)
		assert.Equal(t, types.ActionDelete, got.NextAction)
		assert.Equal(t, types.ActionNone, got.LastAction)
		assert.Equal(t, saved.Revision+1, got.Revision)
		assert.Nil(t, got.LockTimestamp)
	})

	t.Run("missing row", func(t *testing.T) {
		settled, err := storage.SettleEntity(ctx, 999, 0, types.ActionUpsert, now)
		require.NoError(t, err)
		assert.False(t, settled)
	})
}

func TestTransaction(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	t.Run("commit", func(t *testing.T) {
		tx, err := storage.BeginTx(ctx)
		require.NoError(t, err)
		_, err = tx.SaveEntity(ctx, newTestEntity(storage, 1, "1"))
		require.NoError(t, err)
		require.NoError(t, tx.Commit())

		count, err := storage.CountEntities(ctx, LedgerFilter{})
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("rollback", func(t *testing.T) {
		tx, err := storage.BeginTx(ctx)
		require.NoError(t, err)
		_, err = tx.SaveEntity(ctx, newTestEntity(storage, 2, "1"))
		require.NoError(t, err)
		require.NoError(t, tx.Rollback())

		count, err := storage.CountEntities(ctx, LedgerFilter{})
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("nested", func(t *testing.T) {
		tx, err := storage.BeginTx(ctx)
		require.NoError(t, err)
		defer func() { _ = tx.Rollback() }()
		_, err = tx.BeginTx(ctx)
		assert.Error(t, err)
	})
}
