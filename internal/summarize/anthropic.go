package summarize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/briefroom/scribe-gateway/internal/config"
)

const anthropicVersion = "2023-06-01"

// anthropicSystemPrompt mirrors systemPrompt for the Messages API, where
// the system instruction travels in its own field.
const anthropicSystemPrompt = "You are a meticulous meeting assistant. Provide JSON with a 'summary' (≤120 words) " +
	"and an 'actions' array where each item has 'task', 'assignee', 'due'."

// AnthropicProvider calls the Anthropic Messages API. Anthropic does not
// expose an OpenAI-compatible surface, so this provider speaks the
// Messages wire format directly.
type AnthropicProvider struct {
	apiKey     string
	apiURL     string
	model      string
	httpClient *http.Client
}

// AnthropicRequest represents the request payload for the Messages API
type AnthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
	System      string             `json:"system"`
	Messages    []AnthropicMessage `json:"messages"`
}

// AnthropicMessage is one conversation turn
type AnthropicMessage struct {
	Role    string             `json:"role"`
	Content []AnthropicContent `json:"content"`
}

// AnthropicContent is one part of a message body
type AnthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicResponse struct {
	Content    []AnthropicContent `json:"content"`
	OutputText string             `json:"output_text"`
}

// NewAnthropicProvider creates a Messages API client
func NewAnthropicProvider(cfg *config.Config) *AnthropicProvider {
	return &AnthropicProvider{
		apiKey:     cfg.AnthropicAPIKey,
		apiURL:     strings.TrimRight(cfg.AnthropicBaseURL, "/") + "/v1/messages",
		model:      cfg.AnthropicModel,
		httpClient: &http.Client{},
	}
}

// Name returns the chain name of this backend
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// Summarize sends the transcript through the Messages API and validates
// the JSON the model returns. Text parts of the response are concatenated
// before parsing.
func (p *AnthropicProvider) Summarize(ctx context.Context, transcript string) (*Result, error) {
	reqBody := AnthropicRequest{
		Model:       p.model,
		MaxTokens:   600,
		Temperature: 0.1,
		System:      anthropicSystemPrompt,
		Messages: []AnthropicMessage{
			{
				Role: "user",
				Content: []AnthropicContent{
					{Type: "text", Text: transcript},
				},
			},
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, NewError(p.Name(), KindUnavailable, fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, NewError(p.Name(), KindUnavailable, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, NewError(p.Name(), classifyTransportError(ctx, err), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, NewError(p.Name(), KindUnavailable,
			fmt.Errorf("anthropic API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var parsed anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, NewError(p.Name(), KindInvalidResponse, fmt.Errorf("failed to decode response: %w", err))
	}

	var combined strings.Builder
	for _, part := range parsed.Content {
		combined.WriteString(part.Text)
	}
	text := combined.String()
	if text == "" {
		text = parsed.OutputText
	}

	result, err := ParseResult(text)
	if err != nil {
		return nil, NewError(p.Name(), KindInvalidResponse, err)
	}
	return result, nil
}
