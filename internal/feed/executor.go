package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/catalogfeed/internal/logging"
	"github.com/dshills/catalogfeed/internal/metrics"
	"github.com/dshills/catalogfeed/internal/storage"
	"github.com/dshills/catalogfeed/pkg/types"
)

// TaskStore is the task persistence the executor needs
type TaskStore interface {
	CreateTask(ctx context.Context, task *storage.Task) error
	GetTask(ctx context.Context, id int64) (*storage.Task, error)
	ListTasks(ctx context.Context, status storage.TaskStatus, limit int) ([]*storage.Task, error)
	UpdateTaskStatus(ctx context.Context, id int64, status storage.TaskStatus, errorDetail string) error
}

// FeedGenerator runs one feed specification
type FeedGenerator interface {
	Execute(ctx context.Context, spec *Specification, taskID int64) (Result, error)
}

// TaskResult is the outcome of one executed task
type TaskResult struct {
	TaskID  int64
	Status  storage.TaskStatus
	Result  Result
	Err     error
	Started time.Time
	Ended   time.Time
}

// Executor drives feed tasks through pending, processing, then success or error.
// Each task runs once per call; retrying is left to whoever enqueues.
type Executor struct {
	tasks     TaskStore
	generator FeedGenerator
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewExecutor creates an executor. m may be nil.
func NewExecutor(tasks TaskStore, generator FeedGenerator, m *metrics.Metrics, logger *zap.Logger) *Executor {
	return &Executor{tasks: tasks, generator: generator, metrics: m, logger: logging.OrNop(logger)}
}

// Enqueue validates payload and stores it as a pending feed task
func (e *Executor) Enqueue(ctx context.Context, payload Payload) (*storage.Task, error) {
	if _, err := NewSpecification(payload); err != nil {
		return nil, err
	}
	raw, err := payload.Encode()
	if err != nil {
		return nil, fmt.Errorf("%w: encode payload: %v", types.ErrValidation, err)
	}
	task := &storage.Task{Type: storage.TaskTypeFeedGeneration, Payload: raw}
	if err := e.tasks.CreateTask(ctx, task); err != nil {
		return nil, err
	}
	e.logger.Info("feed task enqueued", zap.Int64("task_id", task.ID), zap.String("store", payload.StoreCode))
	return task, nil
}

// GetTask returns a task by id
func (e *Executor) GetTask(ctx context.Context, id int64) (*storage.Task, error) {
	return e.tasks.GetTask(ctx, id)
}

// ExecuteByID loads and runs one task
func (e *Executor) ExecuteByID(ctx context.Context, id int64) (TaskResult, error) {
	task, err := e.tasks.GetTask(ctx, id)
	if err != nil {
		return TaskResult{TaskID: id, Err: err}, err
	}
	return e.Execute(ctx, task)
}

// Execute runs a pending task and records its final status. A payload that does not
// build a specification fails the task before any file is opened.
func (e *Executor) Execute(ctx context.Context, task *storage.Task) (TaskResult, error) {
	res := TaskResult{TaskID: task.ID, Started: time.Now()}
	logger := e.logger.With(zap.Int64("task_id", task.ID))

	if task.Status != "" && task.Status != storage.TaskPending {
		res.Err = fmt.Errorf("%w: task %d is %s, not pending", types.ErrValidation, task.ID, task.Status)
		res.Status = task.Status
		res.Ended = time.Now()
		return res, res.Err
	}

	var spec *Specification
	var err error
	if task.Type != storage.TaskTypeFeedGeneration {
		err = types.NewValidationError(fmt.Sprintf("unsupported task type %q", task.Type))
	} else {
		spec, err = BuildSpecification(task.Payload)
	}
	if err != nil {
		return e.fail(ctx, logger, res, err), err
	}

	if err := e.tasks.UpdateTaskStatus(ctx, task.ID, storage.TaskProcessing, ""); err != nil {
		res.Err = err
		res.Ended = time.Now()
		return res, err
	}

	res.Result, err = e.generator.Execute(ctx, spec, task.ID)
	if err != nil {
		return e.fail(ctx, logger, res, err), err
	}

	res.Status = storage.TaskSuccess
	res.Ended = time.Now()
	// the feed is already uploaded; recording must survive cancellation
	if err := e.tasks.UpdateTaskStatus(context.WithoutCancel(ctx), task.ID, storage.TaskSuccess, ""); err != nil {
		res.Err = err
		return res, err
	}
	e.metrics.TaskFinished(string(storage.TaskSuccess), res.Ended.Sub(res.Started), res.Result.Rows, res.Result.Bytes)
	logger.Info("feed task succeeded", zap.Int("rows", res.Result.Rows), zap.Int64("bytes", res.Result.Bytes))
	return res, nil
}

func (e *Executor) fail(ctx context.Context, logger *zap.Logger, res TaskResult, cause error) TaskResult {
	res.Status = storage.TaskError
	res.Err = cause
	res.Ended = time.Now()

	if err := e.tasks.UpdateTaskStatus(context.WithoutCancel(ctx), res.TaskID, storage.TaskError, cause.Error()); err != nil {
		logger.Error("failed to record task error", zap.Error(err))
		res.Err = errors.Join(cause, err)
	}
	e.metrics.TaskFinished(string(storage.TaskError), res.Ended.Sub(res.Started), 0, 0)
	logger.Error("feed task failed", zap.Error(cause))
	return res
}

// RunPending executes up to limit pending tasks in id order, one at a time.
// A failed task does not stop the drain; report is called after each task.
func (e *Executor) RunPending(ctx context.Context, limit int, report func(TaskResult)) ([]TaskResult, error) {
	tasks, err := e.tasks.ListTasks(ctx, storage.TaskPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending tasks: %w", err)
	}

	results := make([]TaskResult, 0, len(tasks))
	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, _ := e.Execute(ctx, task)
		results = append(results, res)
		if report != nil {
			report(res)
		}
	}
	return results, nil
}
