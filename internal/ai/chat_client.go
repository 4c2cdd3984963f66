package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"

	merrors "murmur/internal/errors"
	"murmur/internal/logging"
)

// Config holds provider connection settings shared by the AI clients.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
	Headers map[string]string
}

// ChatClient implements Analyzer over an OpenAI-compatible chat completions
// API.
type ChatClient struct {
	model      string
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     logging.Logger
	headers    map[string]string
}

// NewChatClient constructs an analyzer that speaks the OpenAI-compatible
// chat completions API using the provided configuration.
func NewChatClient(config Config, logger logging.Logger) *ChatClient {
	timeout := 60 * time.Second
	if config.Timeout > 0 {
		timeout = config.Timeout
	}
	return &ChatClient{
		model:      config.Model,
		apiKey:     config.APIKey,
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.OrNop(logger),
		headers:    config.Headers,
	}
}

const emotionSystemPrompt = `You label the emotional tone of a voice journal entry.
Respond with a JSON object of exactly this shape: {"emotion": "<label>"}.
The label must be one of: joy, calm, sadness, anger, anxiety, neutral.`

func (c *ChatClient) ClassifyEmotion(ctx context.Context, transcript string) (EmotionLabel, error) {
	const op = "ai.emotion"
	raw, err := c.complete(ctx, op, emotionSystemPrompt, transcript)
	if err != nil {
		return "", err
	}

	var parsed struct {
		Emotion string `json:"emotion"`
	}
	if jsonErr := json.Unmarshal([]byte(raw), &parsed); jsonErr != nil {
		// Models occasionally wrap the object in prose or markdown fences.
		repaired, repairErr := jsonrepair.JSONRepair(raw)
		if repairErr != nil {
			return "", merrors.Wrapf(merrors.KindProvider, op, jsonErr, "unparseable emotion response")
		}
		if jsonErr = json.Unmarshal([]byte(repaired), &parsed); jsonErr != nil {
			return "", merrors.Wrapf(merrors.KindProvider, op, jsonErr, "unparseable emotion response")
		}
	}

	label, ok := ParseEmotion(strings.ToLower(strings.TrimSpace(parsed.Emotion)))
	if !ok {
		return "", merrors.New(merrors.KindProvider, op, fmt.Sprintf("emotion label %q outside the allowed set", parsed.Emotion))
	}
	return label, nil
}

const feedbackSystemPrompt = `You are a warm, concise journaling companion.
Given a journal entry transcript, reply with one or two short sentences of
supportive feedback. Reply with the feedback text only.`

func (c *ChatClient) GenerateFeedback(ctx context.Context, transcript string) (string, error) {
	return c.complete(ctx, "ai.feedback", feedbackSystemPrompt, transcript)
}

const polishSystemPrompt = `Rewrite the journal entry transcript into clean,
well-punctuated prose. Preserve the author's voice and meaning. Reply with
the rewritten text only.`

func (c *ChatClient) PolishTranscript(ctx context.Context, transcript string) (string, error) {
	return c.complete(ctx, "ai.polish", polishSystemPrompt, transcript)
}

const learningNoteSystemPrompt = `Compare the original transcript with the
polished version and name one concrete phrasing improvement the author could
learn from, in a single short sentence. Reply with the note only.`

func (c *ChatClient) GenerateLearningNote(ctx context.Context, transcript string, polish string) (string, error) {
	user := fmt.Sprintf("Original:\n%s\n\nPolished:\n%s", transcript, polish)
	return c.complete(ctx, "ai.learning_note", learningNoteSystemPrompt, user)
}

func (c *ChatClient) complete(ctx context.Context, op string, system string, user string) (string, error) {
	reqBody := map[string]any{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": user},
		},
		"temperature": 0.4,
		"stream":      false,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", merrors.Wrap(merrors.KindInternal, op, err)
	}

	endpoint := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", merrors.Wrap(merrors.KindInternal, op, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}

	c.logger.Debug("%s: POST %s model=%s", op, endpoint, c.model)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", wrapTransportError(op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", merrors.Wrap(merrors.KindNetwork, op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", mapProviderStatus(op, resp.StatusCode, respBody)
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", merrors.Wrapf(merrors.KindProvider, op, err, "unparseable completion response")
	}
	if len(parsed.Choices) == 0 {
		return "", merrors.New(merrors.KindProvider, op, "completion response has no choices")
	}

	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if content == "" {
		return "", merrors.New(merrors.KindProvider, op, "completion response is empty")
	}
	return content, nil
}

func wrapTransportError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return merrors.Wrapf(merrors.KindTimeout, op, err, "collaborator call timed out")
	}
	var urlTimeout interface{ Timeout() bool }
	if errors.As(err, &urlTimeout) && urlTimeout.Timeout() {
		return merrors.Wrapf(merrors.KindTimeout, op, err, "collaborator call timed out")
	}
	return merrors.Wrap(merrors.KindNetwork, op, err)
}

func mapProviderStatus(op string, status int, body []byte) error {
	detail := strings.TrimSpace(string(body))
	if len(detail) > 512 {
		detail = detail[:512]
	}
	return merrors.Wrapf(merrors.KindProvider, op,
		fmt.Errorf("status %d: %s", status, detail), "provider returned status %d", status)
}
