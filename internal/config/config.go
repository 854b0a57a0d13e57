package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/jwebster45206/boothill-gm/pkg/engine"
	"github.com/jwebster45206/boothill-gm/pkg/narrative"
)

// LLM providers.
const (
	ProviderNone      = "none"
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
)

// Token estimators.
const (
	EstimatorWords    = "words"
	EstimatorTiktoken = "tiktoken"
)

type Config struct {
	Port         string     `envconfig:"PORT" default:"8080"`
	MetricsPort  string     `envconfig:"METRICS_PORT" default:"9090"`
	Environment  string     `envconfig:"ENVIRONMENT" default:"development"`
	LogLevelName string     `envconfig:"LOG_LEVEL" default:"info"`
	LogLevel     slog.Level `ignored:"true"`

	RedisURL   string        `envconfig:"REDIS_URL" default:"localhost:6379"`
	SessionTTL time.Duration `envconfig:"SESSION_TTL" default:"24h"`
	WorkerID   string        `envconfig:"WORKER_ID"`

	// LLM
	LLMProvider     string        `envconfig:"LLM_PROVIDER" default:"none"`
	ModelName       string        `envconfig:"MODEL_NAME" default:"claude-3-5-haiku-latest"`
	AnthropicAPIKey string        `envconfig:"ANTHROPIC_API_KEY"`
	OpenAIAPIKey    string        `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL   string        `envconfig:"OPENAI_BASE_URL"`
	OllamaURL       string        `envconfig:"OLLAMA_URL" default:"http://localhost:11434"`
	LLMTimeout      time.Duration `envconfig:"LLM_TIMEOUT" default:"60s"`
	LLMMaxRetries   int           `envconfig:"LLM_MAX_RETRIES" default:"2"`
	LLMRateLimit    float64       `envconfig:"LLM_RATE_LIMIT" default:"1"`

	// Decisions and context
	DecisionHistoryCap  int           `envconfig:"DECISION_HISTORY_CAP" default:"12"`
	DecisionMinInterval time.Duration `envconfig:"DECISION_MIN_INTERVAL" default:"30s"`
	DecisionThreshold   float64       `envconfig:"DECISION_THRESHOLD" default:"0.6"`
	ContextMaxTokens    int           `envconfig:"CONTEXT_MAX_TOKENS" default:"2000"`
	TokenEstimator      string        `envconfig:"TOKEN_ESTIMATOR" default:"words"`
}

// Load reads configuration from the environment, after loading a .env file
// from the working directory if one exists.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv reads configuration from the environment only.
func FromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	cfg.LogLevel = parseLogLevel(cfg.LogLevelName)
	cfg.LLMProvider = strings.ToLower(strings.TrimSpace(cfg.LLMProvider))
	if cfg.LLMProvider == "" {
		cfg.LLMProvider = ProviderNone
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values envconfig cannot.
func (c *Config) Validate() error {
	switch c.LLMProvider {
	case ProviderNone, ProviderAnthropic, ProviderOpenAI, ProviderOllama:
	default:
		return fmt.Errorf("unsupported LLM_PROVIDER %q", c.LLMProvider)
	}
	if c.DecisionThreshold < 0 || c.DecisionThreshold > 1 {
		return fmt.Errorf("DECISION_THRESHOLD must be between 0 and 1, got %v", c.DecisionThreshold)
	}
	if c.LLMMaxRetries < 0 {
		return fmt.Errorf("LLM_MAX_RETRIES cannot be negative")
	}
	switch c.TokenEstimator {
	case EstimatorWords, EstimatorTiktoken:
	default:
		return fmt.Errorf("unsupported TOKEN_ESTIMATOR %q", c.TokenEstimator)
	}
	return nil
}

// APIConfig returns the decision generation settings, or nil when no LLM
// provider is usable. A nil config makes the engine use fallback decisions.
func (c *Config) APIConfig() *engine.APIConfig {
	switch c.LLMProvider {
	case ProviderAnthropic:
		if c.AnthropicAPIKey == "" {
			return nil
		}
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return nil
		}
	case ProviderOllama:
		if c.OllamaURL == "" {
			return nil
		}
	default:
		return nil
	}
	return &engine.APIConfig{
		Provider:         c.LLMProvider,
		Model:            c.ModelName,
		MaxRetries:       c.LLMMaxRetries,
		Timeout:          c.LLMTimeout,
		RateLimit:        c.LLMRateLimit,
		MaxContextTokens: c.ContextMaxTokens,
	}
}

// Detection returns the decision detection settings.
func (c *Config) Detection() engine.DetectionConfig {
	d := engine.DefaultDetectionConfig()
	d.MinInterval = c.DecisionMinInterval
	d.Threshold = c.DecisionThreshold
	return d
}

// Estimator returns the token estimator used to budget narrative context.
func (c *Config) Estimator() (narrative.TokenEstimator, error) {
	if c.TokenEstimator == EstimatorTiktoken {
		return narrative.NewTiktokenEstimator(c.ModelName)
	}
	return narrative.WordEstimator{WordsPerToken: narrative.DefaultWordsPerToken}, nil
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
