package config

import (
	"os"
	"testing"
)

func TestLoad(t *testing.T) {
	// Set required environment variables
	os.Setenv("DEEPGRAM_API_KEY", "test-deepgram-key")
	defer os.Unsetenv("DEEPGRAM_API_KEY")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.DeepgramAPIKey != "test-deepgram-key" {
		t.Errorf("Expected DeepgramAPIKey 'test-deepgram-key', got '%s'", cfg.DeepgramAPIKey)
	}

	if cfg.STTEngine != "deepgram" {
		t.Errorf("Expected default STTEngine 'deepgram', got '%s'", cfg.STTEngine)
	}
}

func TestLoad_MissingEngineKey(t *testing.T) {
	// Clear environment variables
	os.Unsetenv("DEEPGRAM_API_KEY")
	os.Unsetenv("STT_ENGINE")

	_, err := Load()
	if err == nil {
		t.Error("Expected error when the deepgram engine has no API key")
	}
}

func TestLoad_GoogleEngine(t *testing.T) {
	os.Setenv("STT_ENGINE", "google")
	os.Setenv("GOOGLE_PROJECT_ID", "test-project")
	defer os.Unsetenv("STT_ENGINE")
	defer os.Unsetenv("GOOGLE_PROJECT_ID")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.GoogleProjectID != "test-project" {
		t.Errorf("Expected GoogleProjectID 'test-project', got '%s'", cfg.GoogleProjectID)
	}

	if cfg.GoogleSpeechLocation != "global" {
		t.Errorf("Expected default GoogleSpeechLocation 'global', got '%s'", cfg.GoogleSpeechLocation)
	}
}

func TestLoad_UnknownEngine(t *testing.T) {
	os.Setenv("STT_ENGINE", "whisper")
	defer os.Unsetenv("STT_ENGINE")

	_, err := Load()
	if err == nil {
		t.Error("Expected error for unknown STT_ENGINE")
	}
}

func TestLoad_Defaults(t *testing.T) {
	os.Setenv("DEEPGRAM_API_KEY", "test-deepgram-key")
	defer os.Unsetenv("DEEPGRAM_API_KEY")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	// Check defaults
	if cfg.Port != "8080" {
		t.Errorf("Expected default Port '8080', got '%s'", cfg.Port)
	}

	if cfg.DeepgramModel != "nova-2" {
		t.Errorf("Expected default DeepgramModel 'nova-2', got '%s'", cfg.DeepgramModel)
	}

	if cfg.DeepgramLanguage != "en" {
		t.Errorf("Expected default DeepgramLanguage 'en', got '%s'", cfg.DeepgramLanguage)
	}

	if cfg.WorkerPoolSize != 2 {
		t.Errorf("Expected default WorkerPoolSize 2, got %d", cfg.WorkerPoolSize)
	}

	if cfg.QueueCapacity != 16 {
		t.Errorf("Expected default QueueCapacity 16, got %d", cfg.QueueCapacity)
	}

	if cfg.JobTimeout != 300 {
		t.Errorf("Expected default JobTimeout 300, got %d", cfg.JobTimeout)
	}

	if cfg.BatchMaxSize != 1 {
		t.Errorf("Expected default BatchMaxSize 1, got %d", cfg.BatchMaxSize)
	}

	if cfg.VADEnergyThreshold != 500.0 {
		t.Errorf("Expected default VADEnergyThreshold 500.0, got %f", cfg.VADEnergyThreshold)
	}

	if cfg.VADSilenceFrames != 10 {
		t.Errorf("Expected default VADSilenceFrames 10, got %d", cfg.VADSilenceFrames)
	}

	if cfg.MaxSessionSeconds != 7200 {
		t.Errorf("Expected default MaxSessionSeconds 7200, got %d", cfg.MaxSessionSeconds)
	}
}

func TestLoad_ProviderDefaults(t *testing.T) {
	os.Setenv("DEEPGRAM_API_KEY", "test-deepgram-key")
	defer os.Unsetenv("DEEPGRAM_API_KEY")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.ProviderOrder != "vllm,grok" {
		t.Errorf("Expected default ProviderOrder 'vllm,grok', got '%s'", cfg.ProviderOrder)
	}

	if cfg.ProviderRetries != 3 {
		t.Errorf("Expected default ProviderRetries 3, got %d", cfg.ProviderRetries)
	}

	if cfg.ProviderBackoffMS != 1000 {
		t.Errorf("Expected default ProviderBackoffMS 1000, got %d", cfg.ProviderBackoffMS)
	}

	if cfg.VLLMBaseURL != "http://localhost:8001" {
		t.Errorf("Expected default VLLMBaseURL 'http://localhost:8001', got '%s'", cfg.VLLMBaseURL)
	}

	if cfg.OllamaModel != "llama3.1:8b" {
		t.Errorf("Expected default OllamaModel 'llama3.1:8b', got '%s'", cfg.OllamaModel)
	}

	if cfg.XAIModel != "grok-3" {
		t.Errorf("Expected default XAIModel 'grok-3', got '%s'", cfg.XAIModel)
	}

	if cfg.AzureOpenAIAPIVersion != "2024-05-01-preview" {
		t.Errorf("Expected default AzureOpenAIAPIVersion '2024-05-01-preview', got '%s'", cfg.AzureOpenAIAPIVersion)
	}

	if cfg.AnthropicModel != "claude-3-sonnet-20240229" {
		t.Errorf("Expected default AnthropicModel 'claude-3-sonnet-20240229', got '%s'", cfg.AnthropicModel)
	}
}

func TestLoadFromEnv(t *testing.T) {
	os.Setenv("DEEPGRAM_API_KEY", "test-deepgram-key")
	defer os.Unsetenv("DEEPGRAM_API_KEY")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.DeepgramAPIKey != "test-deepgram-key" {
		t.Errorf("Expected DeepgramAPIKey 'test-deepgram-key', got '%s'", cfg.DeepgramAPIKey)
	}
}

func TestGetEnv(t *testing.T) {
	os.Setenv("TEST_KEY", "test-value")
	defer os.Unsetenv("TEST_KEY")

	value := GetEnv("TEST_KEY", "default")
	if value != "test-value" {
		t.Errorf("Expected 'test-value', got '%s'", value)
	}

	value = GetEnv("NON_EXISTENT_KEY", "default")
	if value != "default" {
		t.Errorf("Expected 'default', got '%s'", value)
	}
}

func TestConfig_ResilienceDefaults(t *testing.T) {
	os.Setenv("DEEPGRAM_API_KEY", "test-deepgram-key")
	defer os.Unsetenv("DEEPGRAM_API_KEY")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	// Check resilience defaults
	if cfg.CircuitBreakerMaxFailures != 5 {
		t.Errorf("Expected default CircuitBreakerMaxFailures 5, got %d", cfg.CircuitBreakerMaxFailures)
	}

	if cfg.CircuitBreakerResetTimeout != 30 {
		t.Errorf("Expected default CircuitBreakerResetTimeout 30, got %d", cfg.CircuitBreakerResetTimeout)
	}
}

func TestConfig_ObservabilityDefaults(t *testing.T) {
	os.Setenv("DEEPGRAM_API_KEY", "test-deepgram-key")
	// Clear LOG_LEVEL to ensure we get the default
	os.Unsetenv("LOG_LEVEL")
	defer os.Unsetenv("DEEPGRAM_API_KEY")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	// Check observability defaults
	// The default should be "info" (lowercase) as defined in config.go
	if cfg.LogLevel != "info" {
		t.Errorf("Expected default LogLevel 'info', got '%s'", cfg.LogLevel)
	}

	if cfg.LogPretty {
		t.Error("Expected default LogPretty false, got true")
	}

	if !cfg.MetricsEnabled {
		t.Error("Expected default MetricsEnabled true, got false")
	}
}
