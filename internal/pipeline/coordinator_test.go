package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"murmur/internal/ai"
	merrors "murmur/internal/errors"
	"murmur/internal/logging"
)

func fastConfig() CoordinatorConfig {
	return CoordinatorConfig{
		TranscribeTimeout: time.Second,
		AnalyzeTimeout:    time.Second,
		FinalizeTimeout:   time.Second,
		ProgressTick:      10 * time.Millisecond,
		LearningNote:      true,
	}
}

func runTask(t *testing.T, registry *InMemoryRegistry, coordinator *Coordinator) Task {
	t.Helper()
	ctx := context.Background()
	task, err := registry.Create(ctx, "recordings/a/voice.m4a", SubmissionHint{DurationSeconds: 30})
	require.NoError(t, err)

	coordinator.Run(ctx, task.ID, task.SourceKey)

	got, err := registry.Get(ctx, task.ID)
	require.NoError(t, err)
	return got
}

func TestCoordinatorHappyPath(t *testing.T) {
	registry := newTestRegistry(t)
	transcriber := &ai.MockTranscriber{Result: ai.Transcript{Text: "today was calm", Language: "en"}}
	analyzer := &ai.MockAnalyzer{
		Emotion:      ai.EmotionCalm,
		Feedback:     "Sounds like a peaceful day.",
		Polish:       "Today was a calm day.",
		LearningNote: "Name the feeling directly.",
	}
	coordinator := NewCoordinator(registry, transcriber, analyzer, fastConfig(), logging.Nop(), nil)

	got := runTask(t, registry, coordinator)

	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, ProgressComplete, got.Progress)
	require.NotNil(t, got.Result)
	assert.Equal(t, "today was calm", got.Result.Transcript)
	assert.Equal(t, "en", got.Result.Language)
	assert.Equal(t, ai.EmotionCalm, got.Result.Emotion)
	assert.Equal(t, "Sounds like a peaceful day.", got.Result.Feedback)
	assert.Equal(t, "Today was a calm day.", got.Result.Polish)
	assert.Equal(t, "Name the feeling directly.", got.Result.LearningNote)
	assert.Nil(t, got.Error)
	assert.Equal(t, []string{"recordings/a/voice.m4a"}, transcriber.Calls())
}

func TestCoordinatorProgressMilestones(t *testing.T) {
	registry := newTestRegistry(t)
	transcriber := &ai.MockTranscriber{
		Result: ai.Transcript{Text: "long entry"},
		Delay:  80 * time.Millisecond,
	}
	analyzer := &ai.MockAnalyzer{Delay: 80 * time.Millisecond}
	coordinator := NewCoordinator(registry, transcriber, analyzer, fastConfig(), logging.Nop(), nil)

	ctx := context.Background()
	task, err := registry.Create(ctx, "recordings/a/voice.m4a", SubmissionHint{})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		coordinator.Run(ctx, task.ID, task.SourceKey)
	}()

	sawTranscribing := false
	sawAnalyzing := false
	lastProgress := 0
	for {
		got, err := registry.Get(ctx, task.ID)
		require.NoError(t, err)

		assert.GreaterOrEqual(t, got.Progress, lastProgress, "sequential polls must be non-decreasing")
		lastProgress = got.Progress

		switch got.StageLabel {
		case "transcribing":
			sawTranscribing = true
			assert.GreaterOrEqual(t, got.Progress, ProgressFloor)
			assert.Less(t, got.Progress, TranscribeCeiling, "cosmetic ticks must stay below the stage ceiling")
		case "analyzing":
			sawAnalyzing = true
			assert.GreaterOrEqual(t, got.Progress, TranscribeCeiling)
			assert.Less(t, got.Progress, AnalyzeCeiling)
		}

		if got.Status.Terminal() {
			assert.Equal(t, StatusCompleted, got.Status)
			assert.Equal(t, ProgressComplete, got.Progress)
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	<-done

	assert.True(t, sawTranscribing, "poller should observe the transcribing stage")
	assert.True(t, sawAnalyzing, "poller should observe the analyzing stage")
}

func TestCoordinatorSourceNotFoundFailsFast(t *testing.T) {
	registry := newTestRegistry(t)
	transcriber := &ai.MockTranscriber{
		Err: merrors.New(merrors.KindSourceNotFound, "blobstore.stat", "object recordings/a/voice.m4a not found"),
	}
	coordinator := NewCoordinator(registry, transcriber, &ai.MockAnalyzer{}, fastConfig(), logging.Nop(), nil)

	got := runTask(t, registry, coordinator)

	assert.Equal(t, StatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, merrors.KindSourceNotFound, got.Error.Kind)
	assert.Equal(t, "transcribing", got.StageLabel, "task must never reach analyzing")
	assert.LessOrEqual(t, got.Progress, TranscribeCeiling)
}

func TestCoordinatorTranscriptionTimeout(t *testing.T) {
	registry := newTestRegistry(t)
	cfg := fastConfig()
	cfg.TranscribeTimeout = 50 * time.Millisecond
	transcriber := &ai.MockTranscriber{
		Result: ai.Transcript{Text: "never delivered"},
		Delay:  500 * time.Millisecond,
	}
	coordinator := NewCoordinator(registry, transcriber, &ai.MockAnalyzer{}, cfg, logging.Nop(), nil)

	got := runTask(t, registry, coordinator)

	assert.Equal(t, StatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, merrors.KindTimeout, got.Error.Kind)
	assert.LessOrEqual(t, got.Progress, TranscribeCeiling, "progress must not advance into the analyzing range")
}

func TestCoordinatorNonCriticalBranchDegrades(t *testing.T) {
	registry := newTestRegistry(t)
	transcriber := &ai.MockTranscriber{Result: ai.Transcript{Text: "entry"}}
	analyzer := &ai.MockAnalyzer{
		Emotion:   ai.EmotionJoy,
		Feedback:  "Nice.",
		PolishErr: errors.New("polish model unavailable"),
	}
	cfg := fastConfig()
	cfg.LearningNote = true // note depends on polish; degraded polish skips it
	coordinator := NewCoordinator(registry, transcriber, analyzer, cfg, logging.Nop(), nil)

	got := runTask(t, registry, coordinator)

	assert.Equal(t, StatusCompleted, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, "entry", got.Result.Transcript)
	assert.Equal(t, ai.EmotionJoy, got.Result.Emotion)
	assert.Empty(t, got.Result.Polish, "failed non-critical branch degrades to the default value")
	assert.Empty(t, got.Result.LearningNote)
}

func TestCoordinatorEmotionDegradesToNeutral(t *testing.T) {
	registry := newTestRegistry(t)
	transcriber := &ai.MockTranscriber{Result: ai.Transcript{Text: "entry"}}
	analyzer := &ai.MockAnalyzer{EmotionErr: errors.New("classifier down")}
	coordinator := NewCoordinator(registry, transcriber, analyzer, fastConfig(), logging.Nop(), nil)

	got := runTask(t, registry, coordinator)

	assert.Equal(t, StatusCompleted, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, ai.EmotionNeutral, got.Result.Emotion)
}

func TestCoordinatorCriticalBranchFailsTask(t *testing.T) {
	registry := newTestRegistry(t)
	transcriber := &ai.MockTranscriber{Result: ai.Transcript{Text: "entry"}}
	analyzer := &ai.MockAnalyzer{PolishErr: errors.New("polish model unavailable")}
	cfg := fastConfig()
	cfg.Policy = PolicyFromBranches([]string{"polish"})
	coordinator := NewCoordinator(registry, transcriber, analyzer, cfg, logging.Nop(), nil)

	got := runTask(t, registry, coordinator)

	assert.Equal(t, StatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Nil(t, got.Result, "a task reaches exactly one terminal state")
}

func TestCoordinatorLearningNoteFailureIsNotFatal(t *testing.T) {
	registry := newTestRegistry(t)
	transcriber := &ai.MockTranscriber{Result: ai.Transcript{Text: "entry"}}
	analyzer := &ai.MockAnalyzer{
		Polish:  "Polished entry.",
		NoteErr: errors.New("note generation failed"),
	}
	coordinator := NewCoordinator(registry, transcriber, analyzer, fastConfig(), logging.Nop(), nil)

	got := runTask(t, registry, coordinator)

	assert.Equal(t, StatusCompleted, got.Status)
	require.NotNil(t, got.Result)
	assert.Empty(t, got.Result.LearningNote)
}

func TestPolicyFromBranches(t *testing.T) {
	policy := PolicyFromBranches([]string{"emotion", "polish"})
	assert.True(t, policy.Emotion)
	assert.False(t, policy.Feedback)
	assert.True(t, policy.Polish)
}
