package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvLookup resolves the value for an environment variable.
type EnvLookup func(string) (string, bool)

// DefaultEnvLookup delegates to os.LookupEnv.
func DefaultEnvLookup(key string) (string, bool) {
	return os.LookupEnv(key)
}

// Option customises the loader behaviour.
type Option func(*loadOptions)

type loadOptions struct {
	envLookup EnvLookup
}

// WithEnv overrides the environment lookup, mainly for tests.
func WithEnv(lookup EnvLookup) Option {
	return func(o *loadOptions) {
		o.envLookup = lookup
	}
}

// Config holds the full runtime configuration for the media pipeline server.
type Config struct {
	// Server
	Port        int
	Environment string

	// Logging
	LogLevel  string
	LogFormat string

	// Metrics
	MetricsEnabled bool
	MetricsPort    int

	// Storage
	BlobDir             string
	StoragePublicURL    string
	SigningSecret       string
	GrantTTL            time.Duration
	AllowedContentTypes []string

	// Client upload transport
	UploadTimeout time.Duration

	// Pipeline
	TranscribeTimeout time.Duration
	AnalyzeTimeout    time.Duration
	FinalizeTimeout   time.Duration
	ProgressTick      time.Duration
	CriticalBranches  []string
	LearningNote      bool

	// Task registry
	TaskRetention   time.Duration
	MaxTrackedTasks int

	// AI providers
	ASRBaseURL string
	ASRModel   string
	ASRAPIKey  string
	LLMBaseURL string
	LLMModel   string
	LLMAPIKey  string
	AITimeout  time.Duration
}

const envPrefix = "MURMUR_"

// Load builds the configuration from defaults overridden by environment
// variables. The signing secret has no default; storage URL signing refuses
// to start without one.
func Load(opts ...Option) (Config, error) {
	options := loadOptions{envLookup: DefaultEnvLookup}
	for _, opt := range opts {
		opt(&options)
	}
	env := options.envLookup

	cfg := Config{
		Port:        8080,
		Environment: "development",
		LogLevel:    "info",
		LogFormat:   "text",

		MetricsEnabled: false,
		MetricsPort:    9090,

		BlobDir:          "data/blobs",
		StoragePublicURL: "http://localhost:8080/storage",
		GrantTTL:         time.Hour,
		AllowedContentTypes: []string{
			"audio/mpeg", "audio/mp4", "audio/x-m4a", "audio/wav", "audio/webm",
		},

		UploadTimeout: 5 * time.Minute,

		TranscribeTimeout: 2 * time.Minute,
		AnalyzeTimeout:    90 * time.Second,
		FinalizeTimeout:   30 * time.Second,
		ProgressTick:      550 * time.Millisecond,
		CriticalBranches:  nil,
		LearningNote:      true,

		TaskRetention:   10 * time.Minute,
		MaxTrackedTasks: 4096,

		ASRBaseURL: "https://api.openai.com/v1",
		ASRModel:   "whisper-1",
		LLMBaseURL: "https://api.openai.com/v1",
		LLMModel:   "gpt-4o-mini",
		AITimeout:  60 * time.Second,
	}

	setInt(env, "PORT", &cfg.Port)
	setString(env, "ENVIRONMENT", &cfg.Environment)
	setString(env, "LOG_LEVEL", &cfg.LogLevel)
	setString(env, "LOG_FORMAT", &cfg.LogFormat)

	setBool(env, "METRICS_ENABLED", &cfg.MetricsEnabled)
	setInt(env, "METRICS_PORT", &cfg.MetricsPort)

	setString(env, "BLOB_DIR", &cfg.BlobDir)
	setString(env, "STORAGE_PUBLIC_URL", &cfg.StoragePublicURL)
	setString(env, "SIGNING_SECRET", &cfg.SigningSecret)
	setDuration(env, "GRANT_TTL", &cfg.GrantTTL)
	setList(env, "ALLOWED_CONTENT_TYPES", &cfg.AllowedContentTypes)

	setDuration(env, "UPLOAD_TIMEOUT", &cfg.UploadTimeout)

	setDuration(env, "TRANSCRIBE_TIMEOUT", &cfg.TranscribeTimeout)
	setDuration(env, "ANALYZE_TIMEOUT", &cfg.AnalyzeTimeout)
	setDuration(env, "FINALIZE_TIMEOUT", &cfg.FinalizeTimeout)
	setDuration(env, "PROGRESS_TICK", &cfg.ProgressTick)
	setList(env, "CRITICAL_BRANCHES", &cfg.CriticalBranches)
	setBool(env, "LEARNING_NOTE", &cfg.LearningNote)

	setDuration(env, "TASK_RETENTION", &cfg.TaskRetention)
	setInt(env, "MAX_TRACKED_TASKS", &cfg.MaxTrackedTasks)

	setString(env, "ASR_BASE_URL", &cfg.ASRBaseURL)
	setString(env, "ASR_MODEL", &cfg.ASRModel)
	setString(env, "ASR_API_KEY", &cfg.ASRAPIKey)
	setString(env, "LLM_BASE_URL", &cfg.LLMBaseURL)
	setString(env, "LLM_MODEL", &cfg.LLMModel)
	setString(env, "LLM_API_KEY", &cfg.LLMAPIKey)
	setDuration(env, "AI_TIMEOUT", &cfg.AITimeout)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	if c.GrantTTL <= 0 {
		return fmt.Errorf("config: grant TTL must be positive, got %s", c.GrantTTL)
	}
	if c.TaskRetention <= 0 {
		return fmt.Errorf("config: task retention must be positive, got %s", c.TaskRetention)
	}
	if c.MaxTrackedTasks <= 0 {
		return fmt.Errorf("config: max tracked tasks must be positive, got %d", c.MaxTrackedTasks)
	}
	if c.ProgressTick <= 0 {
		return fmt.Errorf("config: progress tick must be positive, got %s", c.ProgressTick)
	}
	for _, branch := range c.CriticalBranches {
		switch branch {
		case "emotion", "feedback", "polish":
		default:
			return fmt.Errorf("config: unknown critical branch %q", branch)
		}
	}
	return nil
}

func setString(env EnvLookup, key string, target *string) {
	if raw, ok := env(envPrefix + key); ok && strings.TrimSpace(raw) != "" {
		*target = strings.TrimSpace(raw)
	}
}

func setInt(env EnvLookup, key string, target *int) {
	if raw, ok := env(envPrefix + key); ok {
		if value, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil {
			*target = value
		}
	}
}

func setBool(env EnvLookup, key string, target *bool) {
	if raw, ok := env(envPrefix + key); ok {
		if value, err := strconv.ParseBool(strings.TrimSpace(raw)); err == nil {
			*target = value
		}
	}
}

func setDuration(env EnvLookup, key string, target *time.Duration) {
	if raw, ok := env(envPrefix + key); ok {
		if value, err := time.ParseDuration(strings.TrimSpace(raw)); err == nil && value > 0 {
			*target = value
		}
	}
}

func setList(env EnvLookup, key string, target *[]string) {
	raw, ok := env(envPrefix + key)
	if !ok {
		return
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	*target = values
}
