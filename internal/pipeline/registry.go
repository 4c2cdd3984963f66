package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	merrors "murmur/internal/errors"
	"murmur/internal/logging"
)

// InMemoryRegistry implements Registry with in-memory storage. Live tasks
// stay in a map for as long as they are non-terminal; terminal tasks move to
// an expiring cache and are evicted after the retention window, by which time
// the client is expected to have fetched the result. Nothing survives a
// process restart; a client polling a lost task id gets not-found and must
// resubmit.
type InMemoryRegistry struct {
	mu       sync.RWMutex
	live     map[string]*Task
	done     *expirable.LRU[string, Task]
	logger   logging.Logger
	onFinish func(task Task)
}

// RegistryOption customises the registry.
type RegistryOption func(*InMemoryRegistry)

// WithFinishHook registers a callback invoked once per task on its terminal
// transition, outside the registry lock.
func WithFinishHook(hook func(task Task)) RegistryOption {
	return func(r *InMemoryRegistry) {
		r.onFinish = hook
	}
}

// NewInMemoryRegistry creates a registry retaining up to maxTerminal finished
// tasks for the retention window.
func NewInMemoryRegistry(maxTerminal int, retention time.Duration, logger logging.Logger, opts ...RegistryOption) *InMemoryRegistry {
	if maxTerminal <= 0 {
		maxTerminal = 4096
	}
	if retention <= 0 {
		retention = 10 * time.Minute
	}
	r := &InMemoryRegistry{
		live:   make(map[string]*Task),
		done:   expirable.NewLRU[string, Task](maxTerminal, nil, retention),
		logger: logging.OrNop(logger),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *InMemoryRegistry) Create(ctx context.Context, sourceKey string, hint SubmissionHint) (Task, error) {
	if sourceKey == "" {
		return Task{}, merrors.New(merrors.KindInvalidInput, "registry.create", "source key is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	task := &Task{
		ID:         "task-" + uuid.New().String(),
		Status:     StatusPending,
		StageIndex: int(StagePending),
		StageLabel: StagePending.Label(),
		Progress:   0,
		SourceKey:  sourceKey,
		Hint:       hint,
		CreatedAt:  time.Now(),
	}
	r.live[task.ID] = task
	return *task, nil
}

func (r *InMemoryRegistry) Get(ctx context.Context, taskID string) (Task, error) {
	r.mu.RLock()
	if task, ok := r.live[taskID]; ok {
		snapshot := *task
		r.mu.RUnlock()
		return snapshot, nil
	}
	r.mu.RUnlock()

	if task, ok := r.done.Get(taskID); ok {
		return task, nil
	}
	return Task{}, merrors.New(merrors.KindTaskNotFound, "registry.get", "task "+taskID+" not found")
}

func (r *InMemoryRegistry) SetStage(ctx context.Context, taskID string, stage StageID, floor int) error {
	return r.mutate(taskID, "registry.set_stage", func(task *Task) {
		task.Status = StatusProcessing
		task.StageIndex = int(stage)
		task.StageLabel = stage.Label()
		if floor > task.Progress {
			task.Progress = clampProgress(floor)
		}
	})
}

func (r *InMemoryRegistry) SetProgress(ctx context.Context, taskID string, progress int) error {
	return r.mutate(taskID, "registry.set_progress", func(task *Task) {
		// Monotonic: a stale or cosmetic update below the current value is
		// dropped, never applied.
		if progress > task.Progress {
			task.Progress = clampProgress(progress)
		}
	})
}

func (r *InMemoryRegistry) SetResult(ctx context.Context, taskID string, result Result) error {
	return r.mutate(taskID, "registry.set_result", func(task *Task) {
		now := time.Now()
		task.Status = StatusCompleted
		task.Progress = ProgressComplete
		task.Result = &result
		task.CompletedAt = &now
	})
}

func (r *InMemoryRegistry) SetError(ctx context.Context, taskID string, kind merrors.Kind, message string) error {
	return r.mutate(taskID, "registry.set_error", func(task *Task) {
		// Progress is deliberately left where it was so the client can show
		// the stalled bar alongside the error.
		now := time.Now()
		task.Status = StatusFailed
		task.Error = &ErrorDetail{Kind: kind, Message: message}
		task.CompletedAt = &now
	})
}

// mutate applies fn atomically to a live task. Mutations of unknown or
// already-terminal tasks are invariant violations: logged and rejected, never
// silently applied.
func (r *InMemoryRegistry) mutate(taskID string, op string, fn func(task *Task)) error {
	r.mu.Lock()
	task, ok := r.live[taskID]
	if !ok {
		r.mu.Unlock()
		if _, finished := r.done.Get(taskID); finished {
			r.logger.Warn("%s: rejected mutation of terminal task %s", op, taskID)
			return merrors.New(merrors.KindTaskTerminal, op, "task "+taskID+" is terminal")
		}
		r.logger.Warn("%s: rejected mutation of unknown task %s", op, taskID)
		return merrors.New(merrors.KindTaskNotFound, op, "task "+taskID+" not found")
	}

	fn(task)

	var finished *Task
	if task.Status.Terminal() {
		delete(r.live, taskID)
		snapshot := *task
		r.done.Add(taskID, snapshot)
		finished = &snapshot
	}
	r.mu.Unlock()

	if finished != nil && r.onFinish != nil {
		r.onFinish(*finished)
	}
	return nil
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > ProgressComplete {
		return ProgressComplete
	}
	return p
}
