package pipeline

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"murmur/internal/ai"
	merrors "murmur/internal/errors"
	"murmur/internal/logging"
	"murmur/internal/observability"
)

// BranchPolicy marks which analyzing-stage branches are critical. A critical
// branch failure fails the whole task; a non-critical failure substitutes a
// default value. Transcription is always critical and is not part of the
// policy. Which branches are critical is a product decision, so it arrives
// here as configuration.
type BranchPolicy struct {
	Emotion  bool
	Feedback bool
	Polish   bool
}

// PolicyFromBranches builds a policy from configured branch names.
func PolicyFromBranches(names []string) BranchPolicy {
	var policy BranchPolicy
	for _, name := range names {
		switch name {
		case "emotion":
			policy.Emotion = true
		case "feedback":
			policy.Feedback = true
		case "polish":
			policy.Polish = true
		}
	}
	return policy
}

// CoordinatorConfig bounds each stage and tunes cosmetic progress.
type CoordinatorConfig struct {
	TranscribeTimeout time.Duration
	AnalyzeTimeout    time.Duration
	FinalizeTimeout   time.Duration
	ProgressTick      time.Duration
	Policy            BranchPolicy
	LearningNote      bool
}

func (c CoordinatorConfig) withDefaults() CoordinatorConfig {
	if c.TranscribeTimeout <= 0 {
		c.TranscribeTimeout = 2 * time.Minute
	}
	if c.AnalyzeTimeout <= 0 {
		c.AnalyzeTimeout = 90 * time.Second
	}
	if c.FinalizeTimeout <= 0 {
		c.FinalizeTimeout = 30 * time.Second
	}
	if c.ProgressTick <= 0 {
		c.ProgressTick = 550 * time.Millisecond
	}
	return c
}

// Coordinator runs the processing state machine for one task at a time:
// pending -> transcribing -> analyzing -> finalizing -> completed|failed.
// It holds no task state of its own; every transition goes through the
// registry. Exactly one Run per task id is launched, at task creation.
type Coordinator struct {
	registry    Registry
	transcriber ai.Transcriber
	analyzer    ai.Analyzer
	cfg         CoordinatorConfig
	logger      logging.Logger
	metrics     *observability.MetricsCollector
}

// NewCoordinator wires the pipeline's collaborators together.
func NewCoordinator(registry Registry, transcriber ai.Transcriber, analyzer ai.Analyzer, cfg CoordinatorConfig, logger logging.Logger, metrics *observability.MetricsCollector) *Coordinator {
	if metrics == nil {
		metrics = &observability.MetricsCollector{}
	}
	return &Coordinator{
		registry:    registry,
		transcriber: transcriber,
		analyzer:    analyzer,
		cfg:         cfg.withDefaults(),
		logger:      logging.OrNop(logger),
		metrics:     metrics,
	}
}

// Run processes the task to a terminal state. It never returns a collaborator
// error to the caller; every failure becomes either a degraded value or a
// failed task transition.
func (c *Coordinator) Run(ctx context.Context, taskID string, sourceKey string) {
	c.metrics.RecordTaskStarted(ctx)

	// Transcribing: owns [floor, 60].
	if err := c.registry.SetStage(ctx, taskID, StageTranscribing, ProgressFloor); err != nil {
		c.logger.Error("task %s: enter transcribing: %v", taskID, err)
		return
	}

	transcript, err := c.transcribe(ctx, taskID, sourceKey)
	if err != nil {
		c.fail(ctx, taskID, err)
		return
	}
	if err := c.checkAbandoned(ctx, taskID); err != nil {
		return
	}

	// Analyzing: owns [60, 95].
	if err := c.registry.SetStage(ctx, taskID, StageAnalyzing, TranscribeCeiling); err != nil {
		c.logger.Error("task %s: enter analyzing: %v", taskID, err)
		return
	}

	analysis, err := c.analyze(ctx, taskID, transcript.Text)
	if err != nil {
		c.fail(ctx, taskID, err)
		return
	}
	if err := c.checkAbandoned(ctx, taskID); err != nil {
		return
	}

	// Finalizing: owns [95, 100].
	if err := c.registry.SetStage(ctx, taskID, StageFinalizing, AnalyzeCeiling); err != nil {
		c.logger.Error("task %s: enter finalizing: %v", taskID, err)
		return
	}

	result := c.finalize(ctx, transcript, analysis)
	if err := c.registry.SetResult(ctx, taskID, result); err != nil {
		c.logger.Error("task %s: set result: %v", taskID, err)
		return
	}

	c.metrics.RecordTaskFinished(ctx, false, "")
	c.logger.Info("task %s: completed", taskID)
}

func (c *Coordinator) transcribe(ctx context.Context, taskID string, sourceKey string) (ai.Transcript, error) {
	started := time.Now()
	defer func() {
		c.metrics.RecordStageDuration(ctx, StageTranscribing.Label(), time.Since(started))
	}()

	smoother := c.smoothProgress(taskID, ProgressFloor, TranscribeCeiling)
	defer smoother.stop()

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.TranscribeTimeout)
	defer cancel()

	transcript, err := c.transcriber.Transcribe(callCtx, sourceKey)
	c.recordCall(ctx, "transcription", started, err)
	if err != nil {
		return ai.Transcript{}, err
	}
	return transcript, nil
}

type analysis struct {
	emotion  ai.EmotionLabel
	feedback string
	polish   string
}

// analyze launches the three branches concurrently and waits for all of
// them; partial results are held locally and surfaced only when the whole
// stage completes.
func (c *Coordinator) analyze(ctx context.Context, taskID string, transcript string) (analysis, error) {
	started := time.Now()
	defer func() {
		c.metrics.RecordStageDuration(ctx, StageAnalyzing.Label(), time.Since(started))
	}()

	smoother := c.smoothProgress(taskID, TranscribeCeiling, AnalyzeCeiling)
	defer smoother.stop()

	stageCtx, cancel := context.WithTimeout(ctx, c.cfg.AnalyzeTimeout)
	defer cancel()

	out := analysis{emotion: ai.EmotionNeutral}
	g, groupCtx := errgroup.WithContext(stageCtx)

	g.Go(func() error {
		callStart := time.Now()
		label, err := c.analyzer.ClassifyEmotion(groupCtx, transcript)
		c.recordCall(ctx, "emotion", callStart, err)
		if err != nil {
			return c.branchOutcome(taskID, "emotion", c.cfg.Policy.Emotion, err)
		}
		out.emotion = label
		return nil
	})

	g.Go(func() error {
		callStart := time.Now()
		feedback, err := c.analyzer.GenerateFeedback(groupCtx, transcript)
		c.recordCall(ctx, "feedback", callStart, err)
		if err != nil {
			return c.branchOutcome(taskID, "feedback", c.cfg.Policy.Feedback, err)
		}
		out.feedback = feedback
		return nil
	})

	g.Go(func() error {
		callStart := time.Now()
		polish, err := c.analyzer.PolishTranscript(groupCtx, transcript)
		c.recordCall(ctx, "polish", callStart, err)
		if err != nil {
			return c.branchOutcome(taskID, "polish", c.cfg.Policy.Polish, err)
		}
		out.polish = polish
		return nil
	})

	if err := g.Wait(); err != nil {
		return analysis{}, err
	}
	return out, nil
}

// branchOutcome turns a branch failure into either a stage failure (critical)
// or a logged degradation (non-critical, default value already in place).
func (c *Coordinator) branchOutcome(taskID string, branch string, critical bool, err error) error {
	if critical {
		c.logger.Error("task %s: critical branch %s failed: %v", taskID, branch, err)
		return err
	}
	c.logger.Warn("task %s: branch %s degraded to default: %v", taskID, branch, err)
	return nil
}

func (c *Coordinator) finalize(ctx context.Context, transcript ai.Transcript, a analysis) Result {
	started := time.Now()
	defer func() {
		c.metrics.RecordStageDuration(ctx, StageFinalizing.Label(), time.Since(started))
	}()

	result := Result{
		Transcript: transcript.Text,
		Language:   transcript.Language,
		Emotion:    a.emotion,
		Feedback:   a.feedback,
		Polish:     a.polish,
	}

	if c.cfg.LearningNote && a.polish != "" {
		noteCtx, cancel := context.WithTimeout(ctx, c.cfg.FinalizeTimeout)
		defer cancel()
		callStart := time.Now()
		note, err := c.analyzer.GenerateLearningNote(noteCtx, transcript.Text, a.polish)
		c.recordCall(ctx, "learning_note", callStart, err)
		if err != nil {
			c.logger.Warn("learning note degraded to absent: %v", err)
		} else {
			result.LearningNote = note
		}
	}
	return result
}

func (c *Coordinator) fail(ctx context.Context, taskID string, cause error) {
	kind := merrors.KindOf(cause)
	detail := merrors.Detail(cause)
	if err := c.registry.SetError(ctx, taskID, kind, detail); err != nil {
		c.logger.Error("task %s: set error: %v", taskID, err)
		return
	}
	c.metrics.RecordTaskFinished(ctx, true, string(kind))
	c.logger.Warn("task %s: failed: kind=%s detail=%s", taskID, kind, detail)
}

// checkAbandoned fails the task when the surrounding context is gone, e.g.
// during shutdown, instead of leaving it non-terminal forever.
func (c *Coordinator) checkAbandoned(ctx context.Context, taskID string) error {
	if err := ctx.Err(); err != nil {
		c.fail(ctx, taskID, merrors.Wrap(merrors.KindInternal, "pipeline.run", err))
		return err
	}
	return nil
}

func (c *Coordinator) recordCall(ctx context.Context, name string, started time.Time, err error) {
	status := "ok"
	if err != nil {
		status = string(merrors.KindOf(err))
	}
	c.metrics.RecordCollaboratorCall(ctx, name, status, time.Since(started))
}
