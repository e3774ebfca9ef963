package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndGetTask(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	task := &Task{Payload: []byte(`{"stores":["default"]}`)}
	require.NoError(t, storage.CreateTask(ctx, task))
	assert.Greater(t, task.ID, int64(0))
	assert.Equal(t, TaskPending, task.Status)
	assert.Equal(t, TaskTypeFeedGeneration, task.Type)

	got, err := storage.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.Payload, got.Payload)
	assert.Equal(t, TaskPending, got.Status)
	assert.Nil(t, got.ErrorDetail)
	assert.Nil(t, got.FileSize)
}

func TestGetTask_NotFound(t *testing.T) {
	storage := setupTestDB(t)

	_, err := storage.GetTask(context.Background(), 404)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateTaskStatus_Transitions(t *testing.T) {
	tests := []struct {
		name    string
		path    []TaskStatus
		wantErr bool
	}{
		{name: "happy path", path: []TaskStatus{TaskProcessing, TaskSuccess}},
		{name: "fails while processing", path: []TaskStatus{TaskProcessing, TaskError}},
		{name: "rejected before start", path: []TaskStatus{TaskError}},
		{name: "skip processing", path: []TaskStatus{TaskSuccess}, wantErr: true},
		{name: "terminal is final", path: []TaskStatus{TaskProcessing, TaskSuccess, TaskProcessing}, wantErr: true},
		{name: "no self loop", path: []TaskStatus{TaskProcessing, TaskProcessing}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			storage := setupTestDB(t)
			ctx := context.Background()

			task := &Task{Payload: []byte(`{}`)}
			require.NoError(t, storage.CreateTask(ctx, task))

			var err error
			for _, status := range tt.path {
				if err = storage.UpdateTaskStatus(ctx, task.ID, status, ""); err != nil {
					break
				}
			}
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrCouldNotSave)
				return
			}
			require.NoError(t, err)

			got, err := storage.GetTask(ctx, task.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.path[len(tt.path)-1], got.Status)
		})
	}
}

func TestUpdateTaskStatus_ErrorDetail(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	task := &Task{Payload: []byte(`{}`)}
	require.NoError(t, storage.CreateTask(ctx, task))
	require.NoError(t, storage.UpdateTaskStatus(ctx, task.ID, TaskProcessing, ""))
	require.NoError(t, storage.UpdateTaskStatus(ctx, task.ID, TaskError, "upload failed: 403"))

	got, err := storage.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ErrorDetail)
	assert.Equal(t, "upload failed: 403", *got.ErrorDetail)
}

func TestUpdateTaskFileSize(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	task := &Task{Payload: []byte(`{}`)}
	require.NoError(t, storage.CreateTask(ctx, task))
	require.NoError(t, storage.UpdateTaskFileSize(ctx, task.ID, 2048))

	got, err := storage.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, got.FileSize)
	assert.Equal(t, int64(2048), *got.FileSize)

	assert.ErrorIs(t, storage.UpdateTaskFileSize(ctx, 999, 1), ErrNotFound)
}

func TestListTasks(t *testing.T) {
	storage := setupTestDB(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, storage.CreateTask(ctx, &Task{Payload: []byte(`{}`)}))
	}
	require.NoError(t, storage.UpdateTaskStatus(ctx, 1, TaskProcessing, ""))

	pending, err := storage.ListTasks(ctx, TaskPending, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Less(t, pending[0].ID, pending[1].ID)

	limited, err := storage.ListTasks(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
