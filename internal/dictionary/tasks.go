package dictionary

import (
	"context"
	"fmt"
	"sync"

	"github.com/wecrm/crmchat/internal/model"
	"go.uber.org/zap"
)

// TaskBackend is the subset of the REST client the task store uses.
type TaskBackend interface {
	Tasks(ctx context.Context, hash string) ([]model.Task, error)
	DeleteTask(ctx context.Context, hash string, taskID int64) error
}

// Tasks holds the user's task list.
type Tasks struct {
	creds   Credentials
	backend TaskBackend
	logger  *zap.Logger

	mu      sync.Mutex
	tasks   []model.Task
	loading int
	err     string
}

// NewTasks creates an empty task store.
func NewTasks(creds Credentials, backend TaskBackend, logger *zap.Logger) *Tasks {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tasks{
		creds:   creds,
		backend: backend,
		logger:  logger.Named("tasks"),
	}
}

// Fetch replaces the task list. On failure the list is left unchanged.
func (t *Tasks) Fetch(ctx context.Context) ([]model.Task, error) {
	t.begin()
	defer t.end()

	hash, err := t.creds.Hash(ctx)
	if err != nil {
		t.fail("task fetch skipped", err)
		return nil, err
	}
	tasks, err := t.backend.Tasks(ctx, hash)
	if err != nil {
		err = fmt.Errorf("fetch tasks: %w", err)
		t.fail("task fetch failed", err)
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.tasks = tasks
	return t.snapshot(), nil
}

// Delete removes a task on the server, then from the local list.
func (t *Tasks) Delete(ctx context.Context, taskID int64) error {
	t.begin()
	defer t.end()

	hash, err := t.creds.Hash(ctx)
	if err != nil {
		t.fail("task delete skipped", err)
		return err
	}
	if err := t.backend.DeleteTask(ctx, hash, taskID); err != nil {
		err = fmt.Errorf("delete task %d: %w", taskID, err)
		t.fail("task delete failed", err)
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	kept := t.tasks[:0]
	for _, task := range t.tasks {
		if task.ID != taskID {
			kept = append(kept, task)
		}
	}
	t.tasks = kept
	t.logger.Info("task deleted", zap.Int64("task_id", taskID))
	return nil
}

// List returns a snapshot of the task list.
func (t *Tasks) List() []model.Task {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshot()
}

// Loading reports whether a request is in flight.
func (t *Tasks) Loading() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loading > 0
}

// Err returns the last recorded error message, or "".
func (t *Tasks) Err() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *Tasks) snapshot() []model.Task {
	out := make([]model.Task, len(t.tasks))
	copy(out, t.tasks)
	return out
}

func (t *Tasks) begin() {
	t.mu.Lock()
	t.loading++
	t.err = ""
	t.mu.Unlock()
}

func (t *Tasks) end() {
	t.mu.Lock()
	t.loading--
	t.mu.Unlock()
}

func (t *Tasks) fail(msg string, err error) {
	t.logger.Error(msg, zap.Error(err))
	t.mu.Lock()
	t.err = err.Error()
	t.mu.Unlock()
}
