package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	merrors "murmur/internal/errors"
	"murmur/internal/logging"
)

func newTestRegistry(t *testing.T) *InMemoryRegistry {
	t.Helper()
	return NewInMemoryRegistry(64, time.Minute, logging.Nop())
}

func TestRegistryCreate(t *testing.T) {
	ctx := context.Background()
	registry := newTestRegistry(t)

	task, err := registry.Create(ctx, "recordings/a/voice.m4a", SubmissionHint{DurationSeconds: 30})
	require.NoError(t, err)

	assert.NotEmpty(t, task.ID)
	assert.Equal(t, StatusPending, task.Status)
	assert.Equal(t, 0, task.Progress)
	assert.Equal(t, "pending", task.StageLabel)
	assert.Equal(t, "recordings/a/voice.m4a", task.SourceKey)
	assert.False(t, task.CreatedAt.IsZero())
}

func TestRegistryCreateRequiresSource(t *testing.T) {
	registry := newTestRegistry(t)

	_, err := registry.Create(context.Background(), "", SubmissionHint{})
	require.Error(t, err)
	assert.Equal(t, merrors.KindInvalidInput, merrors.KindOf(err))
}

func TestRegistryGetUnknown(t *testing.T) {
	registry := newTestRegistry(t)

	_, err := registry.Get(context.Background(), "task-nope")
	require.Error(t, err)
	assert.Equal(t, merrors.KindTaskNotFound, merrors.KindOf(err))
}

func TestRegistryProgressIsMonotonic(t *testing.T) {
	ctx := context.Background()
	registry := newTestRegistry(t)
	task, err := registry.Create(ctx, "recordings/a/voice.m4a", SubmissionHint{})
	require.NoError(t, err)

	require.NoError(t, registry.SetProgress(ctx, task.ID, 40))
	require.NoError(t, registry.SetProgress(ctx, task.ID, 25)) // regression dropped
	require.NoError(t, registry.SetProgress(ctx, task.ID, 41))

	got, err := registry.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 41, got.Progress)
}

func TestRegistryStageRaisesProgressFloor(t *testing.T) {
	ctx := context.Background()
	registry := newTestRegistry(t)
	task, err := registry.Create(ctx, "recordings/a/voice.m4a", SubmissionHint{})
	require.NoError(t, err)

	require.NoError(t, registry.SetStage(ctx, task.ID, StageTranscribing, ProgressFloor))
	got, err := registry.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, got.Status)
	assert.Equal(t, "transcribing", got.StageLabel)
	assert.Equal(t, ProgressFloor, got.Progress)

	// Entering a later stage never regresses progress already past the floor.
	require.NoError(t, registry.SetProgress(ctx, task.ID, 70))
	require.NoError(t, registry.SetStage(ctx, task.ID, StageAnalyzing, TranscribeCeiling))
	got, err = registry.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 70, got.Progress)
}

func TestRegistryTerminalMutationRejected(t *testing.T) {
	ctx := context.Background()
	registry := newTestRegistry(t)
	task, err := registry.Create(ctx, "recordings/a/voice.m4a", SubmissionHint{})
	require.NoError(t, err)

	require.NoError(t, registry.SetError(ctx, task.ID, merrors.KindTimeout, "transcription timed out"))

	err = registry.SetProgress(ctx, task.ID, 80)
	require.Error(t, err)
	assert.Equal(t, merrors.KindTaskTerminal, merrors.KindOf(err))

	err = registry.SetResult(ctx, task.ID, Result{Transcript: "late"})
	require.Error(t, err)
	assert.Equal(t, merrors.KindTaskTerminal, merrors.KindOf(err))

	// The terminal snapshot is untouched.
	got, err := registry.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Nil(t, got.Result)
	require.NotNil(t, got.Error)
	assert.Equal(t, merrors.KindTimeout, got.Error.Kind)
}

func TestRegistryFailureKeepsProgress(t *testing.T) {
	ctx := context.Background()
	registry := newTestRegistry(t)
	task, err := registry.Create(ctx, "recordings/a/voice.m4a", SubmissionHint{})
	require.NoError(t, err)

	require.NoError(t, registry.SetStage(ctx, task.ID, StageTranscribing, ProgressFloor))
	require.NoError(t, registry.SetProgress(ctx, task.ID, 34))
	require.NoError(t, registry.SetError(ctx, task.ID, merrors.KindProvider, "asr exploded"))

	got, err := registry.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 34, got.Progress)
}

func TestRegistryCompletionPinsProgress(t *testing.T) {
	ctx := context.Background()
	registry := newTestRegistry(t)
	task, err := registry.Create(ctx, "recordings/a/voice.m4a", SubmissionHint{})
	require.NoError(t, err)

	require.NoError(t, registry.SetResult(ctx, task.ID, Result{Transcript: "hello"}))
	got, err := registry.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, ProgressComplete, got.Progress)
	require.NotNil(t, got.Result)
	assert.Equal(t, "hello", got.Result.Transcript)
	assert.NotNil(t, got.CompletedAt)
}

func TestRegistryTerminalRetentionEviction(t *testing.T) {
	ctx := context.Background()
	registry := NewInMemoryRegistry(64, 50*time.Millisecond, logging.Nop())
	task, err := registry.Create(ctx, "recordings/a/voice.m4a", SubmissionHint{})
	require.NoError(t, err)
	require.NoError(t, registry.SetResult(ctx, task.ID, Result{Transcript: "hello"}))

	_, err = registry.Get(ctx, task.ID)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, err := registry.Get(ctx, task.ID)
		return merrors.KindOf(err) == merrors.KindTaskNotFound
	}, 2*time.Second, 20*time.Millisecond, "terminal task should be evicted after the retention window")
}

func TestRegistryFinishHook(t *testing.T) {
	ctx := context.Background()
	var mu sync.Mutex
	var finished []Task
	registry := NewInMemoryRegistry(64, time.Minute, logging.Nop(), WithFinishHook(func(task Task) {
		mu.Lock()
		finished = append(finished, task)
		mu.Unlock()
	}))

	task, err := registry.Create(ctx, "recordings/a/voice.m4a", SubmissionHint{})
	require.NoError(t, err)
	require.NoError(t, registry.SetResult(ctx, task.ID, Result{Transcript: "hi"}))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, finished, 1)
	assert.Equal(t, StatusCompleted, finished[0].Status)
}

// Concurrent polls must never observe a torn update: the stage label and the
// progress value always belong to the same transition.
func TestRegistrySnapshotsAreNeverTorn(t *testing.T) {
	ctx := context.Background()
	registry := newTestRegistry(t)
	task, err := registry.Create(ctx, "recordings/a/voice.m4a", SubmissionHint{})
	require.NoError(t, err)

	stageFloor := map[string]int{
		"pending":      0,
		"transcribing": ProgressFloor,
		"analyzing":    TranscribeCeiling,
		"finalizing":   AnalyzeCeiling,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, stage := range []StageID{StageTranscribing, StageAnalyzing, StageFinalizing} {
			floor := stageFloor[stage.Label()]
			_ = registry.SetStage(ctx, task.ID, stage, floor)
			for p := floor; p < floor+10; p++ {
				_ = registry.SetProgress(ctx, task.ID, p)
			}
		}
		_ = registry.SetResult(ctx, task.ID, Result{Transcript: "done"})
	}()

	lastProgress := 0
	for {
		got, err := registry.Get(ctx, task.ID)
		require.NoError(t, err)

		floor, known := stageFloor[got.StageLabel]
		if got.Status == StatusCompleted {
			assert.Equal(t, ProgressComplete, got.Progress)
			break
		}
		require.True(t, known, "unexpected stage label %q", got.StageLabel)
		assert.GreaterOrEqual(t, got.Progress, floor, "progress below the floor of stage %q", got.StageLabel)
		assert.GreaterOrEqual(t, got.Progress, lastProgress, "progress regressed between polls")
		lastProgress = got.Progress
	}
	<-done
}
