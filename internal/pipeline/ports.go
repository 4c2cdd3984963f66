package pipeline

import (
	"context"
	"time"

	"murmur/internal/ai"
	merrors "murmur/internal/errors"
)

// Status represents the lifecycle state of a task
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further mutation is permitted.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// StageID is the ordered index of a pipeline stage. Each stage owns a
// sub-range of the 0-100 progress scale.
type StageID int

const (
	StagePending StageID = iota
	StageTranscribing
	StageAnalyzing
	StageFinalizing
)

// Label returns the human-readable stage name shown to polling clients.
func (s StageID) Label() string {
	switch s {
	case StagePending:
		return "pending"
	case StageTranscribing:
		return "transcribing"
	case StageAnalyzing:
		return "analyzing"
	case StageFinalizing:
		return "finalizing"
	default:
		return "unknown"
	}
}

// Progress ownership per stage.
const (
	ProgressFloor      = 10  // work acknowledged, distinct from the client's 0% upload state
	TranscribeCeiling  = 60  // transcribing owns [floor, 60]
	AnalyzeCeiling     = 95  // analyzing owns [60, 95]
	ProgressComplete   = 100 // finalizing owns [95, 100]
)

// Result is the assembled payload attached when a task completes.
type Result struct {
	Transcript   string          `json:"transcript"`
	Language     string          `json:"language,omitempty"`
	Emotion      ai.EmotionLabel `json:"emotion"`
	Feedback     string          `json:"feedback"`
	Polish       string          `json:"polish"`
	LearningNote string          `json:"learning_note,omitempty"`
}

// ErrorDetail is the structured failure attached when a task fails. The kind
// is from the closed error taxonomy; presentation is the client's concern.
type ErrorDetail struct {
	Kind    merrors.Kind `json:"kind"`
	Message string       `json:"message"`
}

// SubmissionHint carries optional client-declared media metadata.
type SubmissionHint struct {
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	SizeBytes       int64   `json:"size_bytes,omitempty"`
}

// Task is the server-side record of one submission's processing lifecycle.
// The registry owns every Task; coordinators hold only the task id and route
// all mutations through the registry.
type Task struct {
	ID          string         `json:"task_id"`
	Status      Status         `json:"status"`
	StageIndex  int            `json:"stage_index"`
	StageLabel  string         `json:"stage"`
	Progress    int            `json:"progress"`
	SourceKey   string         `json:"source_key"`
	Hint        SubmissionHint `json:"hint,omitzero"`
	Result      *Result        `json:"result,omitempty"`
	Error       *ErrorDetail   `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// Registry is the single source of truth for task state, read by the polling
// endpoint and written by exactly one coordinator per task. Every method
// returns or accepts snapshots; callers never share mutable task state.
type Registry interface {
	// Create registers a new pending task for sourceKey.
	Create(ctx context.Context, sourceKey string, hint SubmissionHint) (Task, error)

	// Get returns a snapshot, or a task-not-found error.
	Get(ctx context.Context, taskID string) (Task, error)

	// SetStage moves the task to a stage, raising progress to at least floor.
	SetStage(ctx context.Context, taskID string, stage StageID, floor int) error

	// SetProgress raises progress; regressions are ignored, never applied.
	SetProgress(ctx context.Context, taskID string, progress int) error

	// SetResult attaches the payload and completes the task at 100%.
	SetResult(ctx context.Context, taskID string, result Result) error

	// SetError fails the task, leaving progress where it was.
	SetError(ctx context.Context, taskID string, kind merrors.Kind, message string) error
}
