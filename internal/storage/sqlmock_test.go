package storage

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/catalogfeed/pkg/types"
)

func newMockStorage(t *testing.T) (*SQLiteStorage, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(db), mock
}

func TestSaveEntity_ClassifiesDriverErrors(t *testing.T) {
	tests := []struct {
		name    string
		dbErr   error
		wantErr error
	}{
		{
			name:    "unique violation",
			dbErr:   errors.New("UNIQUE constraint failed: index 'idx_indexing_entities_unique'"),
			wantErr: ErrAlreadyExists,
		},
		{
			name:    "modernc unique violation",
			dbErr:   errors.New("constraint failed: UNIQUE constraint failed (2067)"),
			wantErr: ErrAlreadyExists,
		},
		{
			name:    "disk full",
			dbErr:   errors.New("database or disk is full"),
			wantErr: ErrCouldNotSave,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			storage, mock := newMockStorage(t)
			mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO indexing_entities")).WillReturnError(tt.dbErr)

			_, err := storage.SaveEntity(context.Background(), validEntity())
			assert.ErrorIs(t, err, tt.wantErr)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestClaimEntity_RowsAffected(t *testing.T) {
	storage, mock := newMockStorage(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE indexing_entities")).
		WithArgs(int64(100), int64(7), int64(50)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := storage.ClaimEntity(context.Background(), 7, 100, 50)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSettleEntity_StaleRevisionReleasesInTransaction(t *testing.T) {
	storage, mock := newMockStorage(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM indexing_entities WHERE id = ? AND revision = ?")).
		WithArgs(int64(7), int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE indexing_entities SET lock_timestamp = NULL WHERE id = ?")).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	settled, err := storage.SettleEntity(context.Background(), 7, 2, types.ActionDelete, 100)
	require.NoError(t, err)
	assert.False(t, settled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSettleEntity_RollsBackOnError(t *testing.T) {
	storage, mock := newMockStorage(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE indexing_entities")).
		WillReturnError(errors.New("database is locked"))
	mock.ExpectRollback()

	_, err := storage.SettleEntity(context.Background(), 7, 2, types.ActionUpsert, 100)
	assert.ErrorIs(t, err, ErrCouldNotSave)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountByAction_UnknownStoredValue(t *testing.T) {
	storage, mock := newMockStorage(t)

	rows := sqlmock.NewRows([]string{"next_action", "count"}).
		AddRow("upsert", 2).
		AddRow("reindex", 1)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT next_action, COUNT(*)")).WillReturnRows(rows)

	_, err := storage.CountByAction(context.Background(), "")
	assert.ErrorIs(t, err, types.ErrValidation)
}
