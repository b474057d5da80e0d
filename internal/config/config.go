package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the scribe gateway service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Session protocol configuration
	IdleSessionTimeout int `envconfig:"IDLE_SESSION_TIMEOUT" default:"300"` // Seconds without client traffic before the connection is closed
	MaxSessionSeconds  int `envconfig:"MAX_SESSION_SECONDS" default:"7200"` // Upper bound on captured audio duration per session

	// Audio configuration
	AudioEncryptionKey string  `envconfig:"AUDIO_ENCRYPTION_KEY" default:""`      // Base64 AES key (16, 24 or 32 bytes); empty disables at-rest encryption
	VADEnergyThreshold float64 `envconfig:"VAD_ENERGY_THRESHOLD" default:"500.0"` // RMS energy threshold for the silence gate
	VADSilenceFrames   int     `envconfig:"VAD_SILENCE_FRAMES" default:"10"`      // Frames of silence to mark speech end

	// Inference orchestration
	WorkerPoolSize int `envconfig:"WORKER_POOL_SIZE" default:"2"` // Fixed number of inference workers
	QueueCapacity  int `envconfig:"QUEUE_CAPACITY" default:"16"`  // Bounded job queue size; submissions past this fail fast
	JobTimeout     int `envconfig:"JOB_TIMEOUT" default:"300"`    // Whole-job deadline in seconds
	BatchMaxSize   int `envconfig:"BATCH_MAX_SIZE" default:"1"`   // >1 lets a worker coalesce summarization calls
	BatchLingerMS  int `envconfig:"BATCH_LINGER_MS" default:"50"` // How long a worker waits to fill a batch

	// Transcription engine selection
	STTEngine string `envconfig:"STT_ENGINE" default:"deepgram"` // deepgram or google

	// Deepgram STT API configuration
	DeepgramAPIKey   string `envconfig:"DEEPGRAM_API_KEY" default:""`
	DeepgramModel    string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"` // nova-2, enhanced, base
	DeepgramLanguage string `envconfig:"DEEPGRAM_LANGUAGE" default:"en"`  // Language code (en, es, fr, etc.)

	// Google Cloud Speech configuration
	GoogleProjectID       string `envconfig:"GOOGLE_PROJECT_ID" default:""`
	GoogleSpeechLocation  string `envconfig:"GOOGLE_SPEECH_LOCATION" default:"global"`
	GoogleSpeechLanguage  string `envconfig:"GOOGLE_SPEECH_LANGUAGE" default:"en-US"`
	GoogleSpeechModel     string `envconfig:"GOOGLE_SPEECH_MODEL" default:"long"`
	GoogleCredentialsJSON string `envconfig:"GOOGLE_CREDENTIALS_JSON" default:""` // Inline service account JSON; falls back to ADC when empty

	// Speaker labeling service (optional; empty URL disables labeling)
	DiarizerURL     string `envconfig:"DIARIZER_URL" default:""`
	DiarizerTimeout int    `envconfig:"DIARIZER_TIMEOUT" default:"30"` // seconds

	// Summarization provider chain
	ProviderOrder        string `envconfig:"LLM_PROVIDER_ORDER" default:"vllm,grok"` // Comma-separated, tried in order
	ProviderRetries      int    `envconfig:"LLM_MAX_RETRIES" default:"3"`            // Attempts per provider before failing over
	ProviderBackoffMS    int    `envconfig:"LLM_BACKOFF_MS" default:"1000"`          // Initial retry backoff in milliseconds
	ProviderBackoffMaxMS int    `envconfig:"LLM_BACKOFF_MAX_MS" default:"8000"`      // Backoff ceiling in milliseconds
	ProviderTimeout      int    `envconfig:"LLM_REQUEST_TIMEOUT" default:"60"`       // Per-call timeout in seconds

	// OpenAI provider
	OpenAIAPIKey  string `envconfig:"OPENAI_API_KEY" default:""`
	OpenAIModel   string `envconfig:"OPENAI_MODEL_ID" default:"gpt-4o-mini"`
	OpenAIBaseURL string `envconfig:"OPENAI_BASE_URL" default:""`

	// Azure OpenAI provider
	AzureOpenAIEndpoint   string `envconfig:"AZURE_OPENAI_ENDPOINT" default:""`
	AzureOpenAIDeployment string `envconfig:"AZURE_OPENAI_DEPLOYMENT" default:""`
	AzureOpenAIAPIKey     string `envconfig:"AZURE_OPENAI_API_KEY" default:""`
	AzureOpenAIAPIVersion string `envconfig:"AZURE_OPENAI_API_VERSION" default:"2024-05-01-preview"`

	// vLLM provider (self-hosted, OpenAI-compatible)
	VLLMBaseURL string `envconfig:"VLLM_BASE_URL" default:"http://localhost:8001"`
	VLLMModel   string `envconfig:"VLLM_MODEL_ID" default:"meta-llama-3-8b-instruct"`
	VLLMAPIKey  string `envconfig:"VLLM_API_KEY" default:""`

	// Ollama provider (local, OpenAI-compatible)
	OllamaBaseURL string `envconfig:"OLLAMA_BASE_URL" default:"http://localhost:11434"`
	OllamaModel   string `envconfig:"OLLAMA_MODEL_ID" default:"llama3.1:8b"`

	// xAI Grok provider
	XAIAPIKey  string `envconfig:"XAI_API_KEY" default:""`
	XAIBaseURL string `envconfig:"XAI_BASE_URL" default:"https://api.x.ai"`
	XAIModel   string `envconfig:"XAI_MODEL_ID" default:"grok-3"`

	// Google Gemini provider (OpenAI-compatible endpoint)
	GeminiAPIKey  string `envconfig:"GOOGLE_GEMINI_API_KEY" default:""`
	GeminiModel   string `envconfig:"GOOGLE_GEMINI_MODEL_ID" default:"gemini-1.5-pro-latest"`
	GeminiBaseURL string `envconfig:"GOOGLE_GEMINI_BASE_URL" default:"https://generativelanguage.googleapis.com/v1beta/openai"`

	// Anthropic Claude provider
	AnthropicAPIKey  string `envconfig:"ANTHROPIC_API_KEY" default:""`
	AnthropicModel   string `envconfig:"ANTHROPIC_MODEL_ID" default:"claude-3-sonnet-20240229"`
	AnthropicBaseURL string `envconfig:"ANTHROPIC_BASE_URL" default:"https://api.anthropic.com"`

	// Post-meeting workflow fan-out
	SlackWebhookURL string `envconfig:"MEETING_SLACK_WEBHOOK_URL" default:""` // Slack incoming webhook; empty disables
	MeetingLogPath  string `envconfig:"MEETING_LOG_PATH" default:""`          // JSONL audit log path; empty disables

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validate checks fields that are required for the selected engine.
// Provider credentials are not checked here: providers missing their keys
// are skipped with a warning when the chain is assembled.
func validate(cfg *Config) error {
	switch cfg.STTEngine {
	case "deepgram":
		if cfg.DeepgramAPIKey == "" {
			return fmt.Errorf("DEEPGRAM_API_KEY is required when STT_ENGINE=deepgram")
		}
	case "google":
		if cfg.GoogleProjectID == "" {
			return fmt.Errorf("GOOGLE_PROJECT_ID is required when STT_ENGINE=google")
		}
	default:
		return fmt.Errorf("unknown STT_ENGINE %q (expected deepgram or google)", cfg.STTEngine)
	}

	if cfg.WorkerPoolSize < 1 {
		return fmt.Errorf("WORKER_POOL_SIZE must be at least 1")
	}
	if cfg.QueueCapacity < 0 {
		return fmt.Errorf("QUEUE_CAPACITY must not be negative")
	}

	return nil
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
