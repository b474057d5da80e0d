package session

import (
	"github.com/briefroom/scribe-gateway/internal/summarize"
)

// Client→server control message types.
const (
	msgTypeStart = "start"
	msgTypeStop  = "stop"
)

// Server→client message types.
const (
	msgTypeStatus            = "status"
	msgTypePartialTranscript = "partial_transcript"
	msgTypeFinal             = "final"
)

// Error codes raised by the session layer itself; pipeline failure codes
// arrive through the job event stream.
const (
	errCodeQueueFull = "queue_full"
	errCodeCapacity  = "capacity_exceeded"
	errCodeSnapshot  = "snapshot_failed"
)

// controlMessage is a client→server text frame.
type controlMessage struct {
	Type       string `json:"type"`
	SampleRate int    `json:"sampleRate,omitempty"`
}

// statusMessage reports pipeline progress to the client.
type statusMessage struct {
	Type   string `json:"type"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// partialTranscriptMessage forwards one transcript segment as soon as the
// engine produces it.
type partialTranscriptMessage struct {
	Type    string  `json:"type"`
	Text    string  `json:"text"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker,omitempty"`
	Seq     int     `json:"seq"`
}

// finalMessage is the exactly-once terminal message for a capture cycle.
// Success populates Summary, Actions and Transcript; failure populates
// Error with a code, Message with a human-readable description and, for
// provider-chain exhaustion, the per-provider failures.
type finalMessage struct {
	Type       string                 `json:"type"`
	Summary    *string                `json:"summary,omitempty"`
	Actions    []summarize.Action     `json:"actions,omitempty"`
	Transcript *string                `json:"transcript,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Message    string                 `json:"message,omitempty"`
	Providers  []summarize.Diagnostic `json:"providers,omitempty"`
}
