package orchestrator

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/briefroom/scribe-gateway/internal/stt"
	"github.com/briefroom/scribe-gateway/internal/summarize"
)

// Progress statuses emitted while a job moves through the pipeline.
// StatusQueued is emitted by the session handler on a successful Submit;
// the rest are emitted by the worker that claims the job.
const (
	StatusQueued         = "queued"
	StatusTranscribing   = "transcribing"
	StatusLabeling       = "labeling"
	StatusLabelingFailed = "labeling_failed"
	StatusSummarizing    = "summarizing"
)

// Terminal error codes carried by a final event.
const (
	ErrCodeTranscription = "transcription_failed"
	ErrCodeAllProviders  = "all_providers_failed"
	ErrCodeJobTimeout    = "job_timeout"
)

// EventType discriminates progress events on a job's stream.
type EventType string

const (
	EventStatus  EventType = "status"
	EventSegment EventType = "segment"
	EventFinal   EventType = "final"
)

// Event is one progress update flowing from a worker back to the session
// that submitted the job. Stream contract: zero or more status and segment
// events in pipeline order, then exactly one final event, then the channel
// closes. A final event carries either a Result or an Err, never both.
type Event struct {
	Type    EventType
	Status  string       // set for EventStatus
	Detail  string       // optional human-readable context for a status
	Segment *stt.Segment // set for EventSegment

	Result     *summarize.Result // set for a successful EventFinal
	Transcript string            // full plain transcript on success
	Err        *JobError         // set for a failed EventFinal
}

// JobError is the terminal failure attached to a final event.
type JobError struct {
	Code        string
	Message     string
	Diagnostics []summarize.Diagnostic // per-provider detail for ErrCodeAllProviders
}

func (e *JobError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Job is an immutable snapshot of one session's captured audio awaiting
// inference. The queue owns it until a worker claims it; the submitting
// session only reads the event stream and may abandon it.
type Job struct {
	ID         string
	SessionID  string
	Audio      []byte
	SampleRate int
	EnqueuedAt time.Time

	events      chan Event
	abandoned   chan struct{}
	abandonOnce sync.Once
}

const eventBuffer = 32

// NewJob wraps a session's audio snapshot into a queueable inference job.
func NewJob(sessionID string, audio []byte, sampleRate int) *Job {
	return &Job{
		ID:         uuid.New().String(),
		SessionID:  sessionID,
		Audio:      audio,
		SampleRate: sampleRate,
		EnqueuedAt: time.Now(),
		events:     make(chan Event, eventBuffer),
		abandoned:  make(chan struct{}),
	}
}

// Events streams progress updates for this job. The worker closes the
// channel after the final event, or without any events when the job was
// abandoned before a worker claimed it.
func (j *Job) Events() <-chan Event {
	return j.events
}

// Abandon detaches the submitting session from the job. A job no worker
// has claimed yet is skipped entirely; a job already running continues to
// completion with its remaining events discarded.
func (j *Job) Abandon() {
	j.abandonOnce.Do(func() {
		close(j.abandoned)
	})
}

func (j *Job) isAbandoned() bool {
	select {
	case <-j.abandoned:
		return true
	default:
		return false
	}
}

// emit delivers an event in order, blocking on a slow consumer, unless the
// session has abandoned the job.
func (j *Job) emit(ev Event) {
	select {
	case j.events <- ev:
	case <-j.abandoned:
	}
}

func (j *Job) emitStatus(status, detail string) {
	j.emit(Event{Type: EventStatus, Status: status, Detail: detail})
}

func (j *Job) emitSegment(seg stt.Segment) {
	s := seg
	j.emit(Event{Type: EventSegment, Segment: &s})
}

func (j *Job) emitFinal(result *summarize.Result, transcript string) {
	j.emit(Event{Type: EventFinal, Result: result, Transcript: transcript})
}

func (j *Job) emitFinalError(jerr *JobError) {
	j.emit(Event{Type: EventFinal, Err: jerr})
}
