package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const taskColumns = `id, type, payload, status, error_detail, file_size, created_at, updated_at`

func scanTask(row rowScanner) (*Task, error) {
	var (
		task        Task
		status      string
		errorDetail sql.NullString
		fileSize    sql.NullInt64
	)
	err := row.Scan(&task.ID, &task.Type, &task.Payload, &status, &errorDetail, &fileSize, &task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		return nil, err
	}
	task.Status = TaskStatus(status)
	if errorDetail.Valid {
		task.ErrorDetail = &errorDetail.String
	}
	if fileSize.Valid {
		v := fileSize.Int64
		task.FileSize = &v
	}
	return &task, nil
}

// createTaskWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) createTaskWithQuerier(ctx context.Context, q querier, task *Task) error {
	if task.Type == "" {
		task.Type = TaskTypeFeedGeneration
	}
	if task.Status == "" {
		task.Status = TaskPending
	}

	query := `
		INSERT INTO tasks (type, payload, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id
	`
	now := time.Now().UTC()
	if err := q.QueryRowContext(ctx, query, task.Type, task.Payload, string(task.Status), now, now).Scan(&task.ID); err != nil {
		return classifyWriteError("failed to create task", err)
	}
	task.CreatedAt = now
	task.UpdatedAt = now
	return nil
}

func (s *SQLiteStorage) CreateTask(ctx context.Context, task *Task) error {
	return s.createTaskWithQuerier(ctx, s.querier(), task)
}

// getTaskWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) getTaskWithQuerier(ctx context.Context, q querier, id int64) (*Task, error) {
	task, err := scanTask(q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return task, nil
}

func (s *SQLiteStorage) GetTask(ctx context.Context, id int64) (*Task, error) {
	return s.getTaskWithQuerier(ctx, s.querier(), id)
}

// listTasksWithQuerier lists tasks oldest first. An empty status lists all tasks.
func (s *SQLiteStorage) listTasksWithQuerier(ctx context.Context, q querier, status TaskStatus, limit int) ([]*Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	var args []interface{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	tasks := make([]*Task, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func (s *SQLiteStorage) ListTasks(ctx context.Context, status TaskStatus, limit int) ([]*Task, error) {
	return s.listTasksWithQuerier(ctx, s.querier(), status, limit)
}

// updateTaskStatusWithQuerier moves a task along pending -> processing -> success|error.
// The current status is part of the WHERE clause so a concurrent writer can't skip a state.
func (s *SQLiteStorage) updateTaskStatusWithQuerier(ctx context.Context, q querier, id int64, status TaskStatus, errorDetail string) error {
	task, err := s.getTaskWithQuerier(ctx, q, id)
	if err != nil {
		return err
	}
	if !canTransition(task.Status, status) {
		return fmt.Errorf("%w: task %d cannot move from %s to %s", ErrCouldNotSave, id, task.Status, status)
	}

	var detail interface{}
	if errorDetail != "" {
		detail = errorDetail
	}

	query := `UPDATE tasks SET status = ?, error_detail = ?, updated_at = ? WHERE id = ? AND status = ?`
	result, err := q.ExecContext(ctx, query, string(status), detail, time.Now().UTC(), id, string(task.Status))
	if err != nil {
		return classifyWriteError("failed to update task status", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: task %d changed status concurrently", ErrCouldNotSave, id)
	}
	return nil
}

func (s *SQLiteStorage) UpdateTaskStatus(ctx context.Context, id int64, status TaskStatus, errorDetail string) error {
	return s.updateTaskStatusWithQuerier(ctx, s.querier(), id, status, errorDetail)
}

// updateTaskFileSizeWithQuerier records the uploaded byte size
func (s *SQLiteStorage) updateTaskFileSizeWithQuerier(ctx context.Context, q querier, id int64, size int64) error {
	result, err := q.ExecContext(ctx, `UPDATE tasks SET file_size = ?, updated_at = ? WHERE id = ?`, size, time.Now().UTC(), id)
	if err != nil {
		return classifyWriteError("failed to update task file size", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStorage) UpdateTaskFileSize(ctx context.Context, id int64, size int64) error {
	return s.updateTaskFileSizeWithQuerier(ctx, s.querier(), id, size)
}
