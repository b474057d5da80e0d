package summarize

import (
	"context"
	"errors"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/briefroom/scribe-gateway/internal/config"
)

// OpenAICompatProvider serves every backend that speaks the OpenAI
// chat-completions wire format: OpenAI itself, Azure deployments,
// self-hosted vLLM and Ollama, xAI Grok, and Gemini's compatibility
// endpoint. Only the client configuration and model differ per backend.
type OpenAICompatProvider struct {
	name     string
	client   *openai.Client
	model    string
	jsonMode bool
}

func newOpenAICompat(name string, clientConfig openai.ClientConfig, model string, jsonMode bool) *OpenAICompatProvider {
	return &OpenAICompatProvider{
		name:     name,
		client:   openai.NewClientWithConfig(clientConfig),
		model:    model,
		jsonMode: jsonMode,
	}
}

// NewOpenAIProvider targets api.openai.com, or OPENAI_BASE_URL when set
func NewOpenAIProvider(cfg *config.Config) *OpenAICompatProvider {
	clientConfig := openai.DefaultConfig(cfg.OpenAIAPIKey)
	if cfg.OpenAIBaseURL != "" {
		clientConfig.BaseURL = normalizeBaseURL(cfg.OpenAIBaseURL)
	}
	return newOpenAICompat("openai", clientConfig, cfg.OpenAIModel, true)
}

// NewAzureProvider targets an Azure OpenAI deployment
func NewAzureProvider(cfg *config.Config) *OpenAICompatProvider {
	clientConfig := openai.DefaultAzureConfig(cfg.AzureOpenAIAPIKey, cfg.AzureOpenAIEndpoint)
	clientConfig.APIVersion = cfg.AzureOpenAIAPIVersion
	return newOpenAICompat("azure", clientConfig, cfg.AzureOpenAIDeployment, true)
}

// NewVLLMProvider targets a self-hosted vLLM server
func NewVLLMProvider(cfg *config.Config) *OpenAICompatProvider {
	key := cfg.VLLMAPIKey
	if key == "" {
		key = "EMPTY" // vLLM accepts any bearer token unless auth is enabled
	}
	clientConfig := openai.DefaultConfig(key)
	clientConfig.BaseURL = normalizeBaseURL(cfg.VLLMBaseURL)
	return newOpenAICompat("vllm", clientConfig, cfg.VLLMModel, true)
}

// NewOllamaProvider targets a local Ollama daemon
func NewOllamaProvider(cfg *config.Config) *OpenAICompatProvider {
	clientConfig := openai.DefaultConfig("ollama") // Ollama ignores the key
	clientConfig.BaseURL = normalizeBaseURL(cfg.OllamaBaseURL)
	return newOpenAICompat("ollama", clientConfig, cfg.OllamaModel, false)
}

// NewGrokProvider targets the xAI API
func NewGrokProvider(cfg *config.Config) *OpenAICompatProvider {
	clientConfig := openai.DefaultConfig(cfg.XAIAPIKey)
	clientConfig.BaseURL = normalizeBaseURL(cfg.XAIBaseURL)
	return newOpenAICompat("grok", clientConfig, cfg.XAIModel, false)
}

// NewGeminiProvider targets Gemini's OpenAI-compatible endpoint
func NewGeminiProvider(cfg *config.Config) *OpenAICompatProvider {
	clientConfig := openai.DefaultConfig(cfg.GeminiAPIKey)
	clientConfig.BaseURL = normalizeBaseURL(cfg.GeminiBaseURL)
	return newOpenAICompat("gemini", clientConfig, cfg.GeminiModel, false)
}

// normalizeBaseURL appends the /v1 path segment the client expects when
// the configured URL stops at the host.
func normalizeBaseURL(base string) string {
	trimmed := strings.TrimRight(base, "/")
	if strings.Contains(trimmed, "/v1") || strings.HasSuffix(trimmed, "/openai") {
		return trimmed
	}
	return trimmed + "/v1"
}

// Name returns the chain name of this backend
func (p *OpenAICompatProvider) Name() string {
	return p.name
}

// Summarize sends the transcript through the chat-completions API and
// validates the JSON the model returns.
func (p *OpenAICompatProvider) Summarize(ctx context.Context, transcript string) (*Result, error) {
	req := openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: transcript,
			},
		},
		Temperature: 0.1, // Low temperature for factual output
		MaxTokens:   600,
	}
	if p.jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, NewError(p.name, classifyTransportError(ctx, err), err)
	}
	if len(resp.Choices) == 0 {
		return nil, NewError(p.name, KindInvalidResponse, errors.New("no choices in response"))
	}

	result, err := ParseResult(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, NewError(p.name, KindInvalidResponse, err)
	}
	return result, nil
}
