package summarize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/briefroom/scribe-gateway/internal/config"
	"github.com/briefroom/scribe-gateway/internal/observability"
	"github.com/briefroom/scribe-gateway/internal/resilience"
)

// Diagnostic records why one provider in the chain gave up.
type Diagnostic struct {
	Provider string    `json:"provider"`
	Kind     ErrorKind `json:"kind"`
	Message  string    `json:"message"`
}

// ChainError reports that every configured provider was exhausted. It
// carries one diagnostic per provider in chain order.
type ChainError struct {
	Diagnostics []Diagnostic
}

func (e *ChainError) Error() string {
	if len(e.Diagnostics) == 0 {
		return "all providers failed: none configured"
	}
	parts := make([]string, 0, len(e.Diagnostics))
	for _, d := range e.Diagnostics {
		parts = append(parts, fmt.Sprintf("%s: %s", d.Provider, d.Kind))
	}
	return "all providers failed: " + strings.Join(parts, "; ")
}

// Registry walks an ordered provider chain: up to R attempts per provider
// with capped exponential backoff on unavailable/timeout failures, then
// failover to the next provider. An invalid response fails over without
// retrying. The first valid result wins.
type Registry struct {
	providers   []Provider
	breakers    map[string]*resilience.CircuitBreaker
	retries     int
	backoff     time.Duration
	backoffMax  time.Duration
	callTimeout time.Duration
	logger      zerolog.Logger
}

// NewRegistry builds the provider chain from LLM_PROVIDER_ORDER. Entries
// whose credentials are missing are skipped with a warning, as are
// unknown names. An empty chain is allowed; it fails jobs at request time
// rather than preventing startup.
func NewRegistry(cfg *config.Config) *Registry {
	logger := observability.WithComponent("summarize")

	var providers []Provider
	seen := make(map[string]bool)
	for _, raw := range strings.Split(cfg.ProviderOrder, ",") {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" {
			continue
		}
		provider := buildProvider(name, cfg, logger)
		if provider == nil || seen[provider.Name()] {
			continue
		}
		seen[provider.Name()] = true
		providers = append(providers, provider)
	}
	if len(providers) == 0 {
		logger.Error().Msg("No summarization providers configured; summaries will be unavailable")
	}

	breakers := make(map[string]*resilience.CircuitBreaker, len(providers))
	for _, p := range providers {
		breakers[p.Name()] = resilience.NewCircuitBreaker(
			p.Name(),
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
		)
	}

	return &Registry{
		providers:   providers,
		breakers:    breakers,
		retries:     cfg.ProviderRetries,
		backoff:     time.Duration(cfg.ProviderBackoffMS) * time.Millisecond,
		backoffMax:  time.Duration(cfg.ProviderBackoffMaxMS) * time.Millisecond,
		callTimeout: time.Duration(cfg.ProviderTimeout) * time.Second,
		logger:      logger,
	}
}

func buildProvider(name string, cfg *config.Config, logger zerolog.Logger) Provider {
	switch name {
	case "vllm":
		return NewVLLMProvider(cfg)

	case "ollama":
		return NewOllamaProvider(cfg)

	case "grok", "xai":
		if cfg.XAIAPIKey == "" {
			logger.Warn().Msg("Skipping Grok provider because XAI_API_KEY is not set")
			return nil
		}
		return NewGrokProvider(cfg)

	case "openai", "openai-o1":
		if cfg.OpenAIAPIKey == "" {
			logger.Warn().Msg("Skipping OpenAI provider because OPENAI_API_KEY is not set")
			return nil
		}
		return NewOpenAIProvider(cfg)

	case "azure", "azure-openai":
		if cfg.AzureOpenAIEndpoint == "" || cfg.AzureOpenAIDeployment == "" || cfg.AzureOpenAIAPIKey == "" {
			logger.Warn().Msg("Skipping Azure OpenAI provider because AZURE_OPENAI_ENDPOINT/DEPLOYMENT/API_KEY are not fully set")
			return nil
		}
		return NewAzureProvider(cfg)

	case "claude", "anthropic":
		if cfg.AnthropicAPIKey == "" {
			logger.Warn().Msg("Skipping Claude provider because ANTHROPIC_API_KEY is not set")
			return nil
		}
		return NewAnthropicProvider(cfg)

	case "gemini":
		if cfg.GeminiAPIKey == "" {
			logger.Warn().Msg("Skipping Gemini provider because GOOGLE_GEMINI_API_KEY is not set")
			return nil
		}
		return NewGeminiProvider(cfg)

	default:
		logger.Warn().Str("provider", name).Msg("Unknown provider in LLM_PROVIDER_ORDER; skipping")
		return nil
	}
}

// Providers lists the chain in failover order.
func (r *Registry) Providers() []string {
	names := make([]string, len(r.providers))
	for i, p := range r.providers {
		names[i] = p.Name()
	}
	return names
}

// Summarize runs the transcript through the provider chain and returns
// the first valid result. An empty transcript short-circuits to an empty
// result without touching any provider. Exhausting the chain returns a
// *ChainError with per-provider diagnostics.
func (r *Registry) Summarize(ctx context.Context, transcript string) (*Result, error) {
	if strings.TrimSpace(transcript) == "" {
		return EmptyResult(), nil
	}

	diagnostics := make([]Diagnostic, 0, len(r.providers))

	for _, provider := range r.providers {
		result, diag := r.tryProvider(ctx, provider, transcript)
		if result != nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		diagnostics = append(diagnostics, diag)
	}

	return nil, &ChainError{Diagnostics: diagnostics}
}

// tryProvider runs the retry loop for one provider. It returns a non-nil
// result on success, otherwise a diagnostic describing the final failure.
func (r *Registry) tryProvider(ctx context.Context, provider Provider, transcript string) (*Result, Diagnostic) {
	name := provider.Name()
	breaker := r.breakers[name]

	retries := r.retries
	if retries < 1 {
		retries = 1
	}

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		var result *Result
		err := breaker.Call(func() error {
			callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
			defer cancel()

			var callErr error
			result, callErr = provider.Summarize(callCtx, transcript)
			return callErr
		})
		observability.UpdateCircuitBreakerState(name, int(breaker.GetState()))

		if err == nil {
			r.logger.Info().Str("provider", name).Int("attempt", attempt).Msg("Provider produced a valid summary")
			observability.RecordProviderRequest(name, "success")
			return result, Diagnostic{}
		}

		lastErr = err
		observability.IncrementCircuitBreakerFailures(name)

		if errors.Is(err, resilience.ErrCircuitOpen) {
			r.logger.Warn().Str("provider", name).Msg("Circuit open; skipping provider")
			observability.RecordProviderRequest(name, "circuit_open")
			break
		}

		kind := KindOf(err)
		observability.RecordProviderRequest(name, string(kind))

		if !Retryable(kind) {
			r.logger.Warn().Str("provider", name).Err(err).Msg("Provider returned an invalid response; failing over")
			break
		}
		if attempt == retries {
			break
		}

		delay := resilience.CalculateBackoff(attempt-1, r.backoff, r.backoffMax, 2.0)
		r.logger.Warn().
			Str("provider", name).
			Int("attempt", attempt).
			Int("max_attempts", retries).
			Dur("backoff", delay).
			Err(err).
			Msg("Provider call failed; retrying")
		if sleepErr := resilience.SleepWithContext(ctx, delay); sleepErr != nil {
			lastErr = sleepErr
			break
		}
	}

	return nil, Diagnostic{Provider: name, Kind: KindOf(lastErr), Message: lastErr.Error()}
}
