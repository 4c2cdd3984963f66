package ai

import "context"

// Transcript is the output of the speech-to-text collaborator.
type Transcript struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
}

// Transcriber converts a stored media object into text.
type Transcriber interface {
	Transcribe(ctx context.Context, objectKey string) (Transcript, error)
}

// EmotionLabel is one of a fixed enumerated set; the classifier never invents
// labels outside it.
type EmotionLabel string

const (
	EmotionJoy     EmotionLabel = "joy"
	EmotionCalm    EmotionLabel = "calm"
	EmotionSadness EmotionLabel = "sadness"
	EmotionAnger   EmotionLabel = "anger"
	EmotionAnxiety EmotionLabel = "anxiety"
	EmotionNeutral EmotionLabel = "neutral"
)

// EmotionLabels lists every label the classifier may return.
func EmotionLabels() []EmotionLabel {
	return []EmotionLabel{EmotionJoy, EmotionCalm, EmotionSadness, EmotionAnger, EmotionAnxiety, EmotionNeutral}
}

// ParseEmotion validates a raw label against the closed set.
func ParseEmotion(raw string) (EmotionLabel, bool) {
	for _, label := range EmotionLabels() {
		if string(label) == raw {
			return label, true
		}
	}
	return "", false
}

// Analyzer is the text collaborator behind the analyzing and finalizing
// stages. Every method is one independent external call.
type Analyzer interface {
	ClassifyEmotion(ctx context.Context, transcript string) (EmotionLabel, error)
	GenerateFeedback(ctx context.Context, transcript string) (string, error)
	PolishTranscript(ctx context.Context, transcript string) (string, error)
	GenerateLearningNote(ctx context.Context, transcript string, polish string) (string, error)
}
