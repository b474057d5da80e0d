package summarize

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// systemPrompt steers every chat-completions backend toward the JSON
// shape ParseResult expects.
const systemPrompt = "You are a meticulous meeting assistant. Given a diarised transcript, " +
	"produce JSON with 'summary' (≤120 words) and 'actions' (each with 'task', 'assignee', 'due')."

// Action is one structured action item extracted from the meeting.
type Action struct {
	Task     string `json:"task"`
	Assignee string `json:"assignee,omitempty"`
	Due      string `json:"due,omitempty"`
}

// Result is a validated provider response.
type Result struct {
	Summary string   `json:"summary"`
	Actions []Action `json:"actions"`
}

// EmptyResult is the valid result for a transcript with no speech.
func EmptyResult() *Result {
	return &Result{Summary: "", Actions: []Action{}}
}

// ErrorKind classifies provider failures. Unavailable and timeout are
// retryable on the same provider; an invalid response advances the chain
// immediately since malformed output tends to recur.
type ErrorKind string

const (
	KindUnavailable     ErrorKind = "provider_unavailable"
	KindTimeout         ErrorKind = "provider_timeout"
	KindInvalidResponse ErrorKind = "invalid_response"
)

// Error is a classified failure from a single provider call.
type Error struct {
	Provider string
	Kind     ErrorKind
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err as a classified provider failure
func NewError(provider string, kind ErrorKind, err error) *Error {
	return &Error{Provider: provider, Kind: kind, Err: err}
}

// KindOf extracts the failure kind from an error chain, defaulting to
// unavailable for unclassified errors.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnavailable
}

// Retryable reports whether the same provider may be tried again.
func Retryable(kind ErrorKind) bool {
	return kind == KindUnavailable || kind == KindTimeout
}

// Provider produces a structured meeting summary from a diarised
// transcript. Implementations classify their failures via Error so the
// registry can decide between retrying and failing over.
type Provider interface {
	Name() string
	Summarize(ctx context.Context, transcript string) (*Result, error)
}

// ParseResult decodes a provider completion into a Result. Models often
// wrap JSON in markdown code fences despite instructions, so a failed
// direct parse retries on the fence-stripped content. Missing fields
// default to empty; type mismatches are invalid.
func ParseResult(content string) (*Result, error) {
	trimmed := strings.TrimSpace(content)

	var result Result
	if err := json.Unmarshal([]byte(trimmed), &result); err != nil {
		extracted := extractJSONFromMarkdown(trimmed)
		if err2 := json.Unmarshal([]byte(extracted), &result); err2 != nil {
			return nil, fmt.Errorf("response is not valid summary JSON: %w", err2)
		}
	}

	if result.Actions == nil {
		result.Actions = []Action{}
	}
	return &result, nil
}

// extractJSONFromMarkdown extracts JSON from markdown code blocks
func extractJSONFromMarkdown(content string) string {
	content = strings.TrimSpace(content)

	if strings.HasPrefix(content, "```json") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimSuffix(content, "```")
	} else if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(content, "```")
	}

	return strings.TrimSpace(content)
}

// classifyTransportError maps transport-level failures onto retryable
// kinds: a blown deadline is a timeout, everything else counts as the
// provider being unavailable.
func classifyTransportError(ctx context.Context, err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnavailable
}
