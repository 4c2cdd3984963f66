package ai

import (
	"context"
	"sync"
	"time"
)

// MockTranscriber implements Transcriber for tests. Each call waits Delay
// (observing ctx) and returns either Err or Result.
type MockTranscriber struct {
	Result Transcript
	Err    error
	Delay  time.Duration

	mu    sync.Mutex
	calls []string
}

func (m *MockTranscriber) Transcribe(ctx context.Context, objectKey string) (Transcript, error) {
	m.mu.Lock()
	m.calls = append(m.calls, objectKey)
	m.mu.Unlock()

	if err := sleepCtx(ctx, m.Delay); err != nil {
		return Transcript{}, err
	}
	if m.Err != nil {
		return Transcript{}, m.Err
	}
	return m.Result, nil
}

// Calls returns the object keys received so far.
func (m *MockTranscriber) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// MockAnalyzer implements Analyzer for tests with per-method canned results
// and failures.
type MockAnalyzer struct {
	Emotion      EmotionLabel
	EmotionErr   error
	Feedback     string
	FeedbackErr  error
	Polish       string
	PolishErr    error
	LearningNote string
	NoteErr      error
	Delay        time.Duration
}

func (m *MockAnalyzer) ClassifyEmotion(ctx context.Context, transcript string) (EmotionLabel, error) {
	if err := sleepCtx(ctx, m.Delay); err != nil {
		return "", err
	}
	if m.EmotionErr != nil {
		return "", m.EmotionErr
	}
	if m.Emotion == "" {
		return EmotionNeutral, nil
	}
	return m.Emotion, nil
}

func (m *MockAnalyzer) GenerateFeedback(ctx context.Context, transcript string) (string, error) {
	if err := sleepCtx(ctx, m.Delay); err != nil {
		return "", err
	}
	if m.FeedbackErr != nil {
		return "", m.FeedbackErr
	}
	if m.Feedback == "" {
		return "Thanks for sharing today.", nil
	}
	return m.Feedback, nil
}

func (m *MockAnalyzer) PolishTranscript(ctx context.Context, transcript string) (string, error) {
	if err := sleepCtx(ctx, m.Delay); err != nil {
		return "", err
	}
	if m.PolishErr != nil {
		return "", m.PolishErr
	}
	if m.Polish == "" {
		return transcript, nil
	}
	return m.Polish, nil
}

func (m *MockAnalyzer) GenerateLearningNote(ctx context.Context, transcript string, polish string) (string, error) {
	if err := sleepCtx(ctx, m.Delay); err != nil {
		return "", err
	}
	if m.NoteErr != nil {
		return "", m.NoteErr
	}
	return m.LearningNote, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
