package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/briefroom/scribe-gateway/internal/audio"
	"github.com/briefroom/scribe-gateway/internal/config"
	"github.com/briefroom/scribe-gateway/internal/diarize"
	"github.com/briefroom/scribe-gateway/internal/observability"
	"github.com/briefroom/scribe-gateway/internal/stt"
	"github.com/briefroom/scribe-gateway/internal/summarize"
)

const (
	queueBackend    = "inference"
	dispatchTimeout = 15 * time.Second
)

// ErrQueueFull is returned by Submit when the bounded queue is at capacity.
var ErrQueueFull = errors.New("inference queue is full")

// Summarizer produces the meeting result for a finished transcript.
// *summarize.Registry is the production implementation.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) (*summarize.Result, error)
}

// Outcome is the payload handed to dispatchers after a successful job.
type Outcome struct {
	SessionID   string             `json:"session_id"`
	JobID       string             `json:"job_id"`
	Summary     string             `json:"summary"`
	Actions     []summarize.Action `json:"actions"`
	Transcript  string             `json:"transcript"`
	CompletedAt time.Time          `json:"completed_at"`
}

// Dispatcher receives completed meetings for side-channel delivery, such
// as a chat notification or an audit log. Implementations must be safe for
// concurrent use by multiple workers.
type Dispatcher interface {
	Name() string
	Dispatch(ctx context.Context, outcome Outcome) error
}

// Orchestrator owns the bounded job queue and the fixed worker pool that
// drains it. Sessions talk to workers only through Submit and the per-job
// event stream; workers share no mutable state with the connection layer.
type Orchestrator struct {
	config      *config.Config
	engine      stt.Engine
	labeler     diarize.Labeler
	summarizer  Summarizer
	dispatchers []Dispatcher

	queue  chan *Job
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger zerolog.Logger
}

// New assembles the inference pipeline. labeler may be nil when speaker
// labeling is disabled; dispatchers may be empty.
func New(cfg *config.Config, engine stt.Engine, labeler diarize.Labeler, summarizer Summarizer, dispatchers ...Dispatcher) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		config:      cfg,
		engine:      engine,
		labeler:     labeler,
		summarizer:  summarizer,
		dispatchers: dispatchers,
		queue:       make(chan *Job, cfg.QueueCapacity),
		ctx:         ctx,
		cancel:      cancel,
		logger:      observability.WithComponent("orchestrator"),
	}
}

// Start launches the worker pool.
func (o *Orchestrator) Start() {
	for i := 0; i < o.config.WorkerPoolSize; i++ {
		o.wg.Add(1)
		go o.worker(i)
	}
	if o.config.BatchMaxSize > 1 {
		o.logger.Warn().
			Int("batch_max_size", o.config.BatchMaxSize).
			Int("batch_linger_ms", o.config.BatchLingerMS).
			Msg("Batching requested but no configured provider accepts batched transcripts; jobs are dispatched singly")
	}
	o.logger.Info().
		Int("workers", o.config.WorkerPoolSize).
		Int("queue_capacity", o.config.QueueCapacity).
		Msg("Inference orchestrator started")
}

// Submit offers a job to the queue without blocking. When the queue is at
// capacity the job is rejected with ErrQueueFull so the caller can surface
// the failure to its client immediately.
func (o *Orchestrator) Submit(job *Job) error {
	select {
	case o.queue <- job:
		observability.UpdateQueueDepth(len(o.queue), queueBackend)
		return nil
	default:
		observability.RecordJobRejected("queue_full")
		return ErrQueueFull
	}
}

// QueueDepth reports how many jobs are waiting for a worker.
func (o *Orchestrator) QueueDepth() int {
	return len(o.queue)
}

// Shutdown stops the pool after each worker finishes its current job.
// Jobs still queued are never claimed; their sessions abandon them as the
// server closes connections.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.cancel()
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		o.logger.Info().Msg("Inference orchestrator stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) worker(id int) {
	defer o.wg.Done()
	logger := o.logger.With().Int("worker", id).Logger()
	for {
		select {
		case <-o.ctx.Done():
			return
		case job := <-o.queue:
			observability.UpdateQueueDepth(len(o.queue), queueBackend)
			o.process(job, logger)
		}
	}
}

// process runs one claimed job through the pipeline and always leaves the
// event stream closed behind it.
func (o *Orchestrator) process(job *Job, logger zerolog.Logger) {
	defer close(job.events)

	if job.isAbandoned() {
		logger.Debug().Str("job_id", job.ID).Msg("Skipping job abandoned before start")
		return
	}

	logger = logger.With().
		Str("session_id", job.SessionID).
		Str("job_id", job.ID).
		Logger()
	logger.Info().
		Dur("queue_wait", time.Since(job.EnqueuedAt)).
		Int("audio_bytes", len(job.Audio)).
		Msg("Worker claimed job")

	metrics := observability.NewJobMetrics(job.ID)
	metrics.RecordJobStart()

	ctx, cancel := context.WithTimeout(o.ctx, time.Duration(o.config.JobTimeout)*time.Second)
	defer cancel()

	reason := o.run(ctx, job, metrics, logger)
	metrics.RecordJobEnd(reason)
	if reason == "" {
		logger.Info().Msg("Job completed")
	} else {
		logger.Warn().Str("reason", reason).Msg("Job failed")
	}
}

// run executes the pipeline stages in order and emits exactly one final
// event. The returned reason is empty on success.
func (o *Orchestrator) run(ctx context.Context, job *Job, metrics *observability.Metrics, logger zerolog.Logger) string {
	segments, err := o.transcribe(ctx, job, metrics)
	if err != nil {
		jerr := transcribeFailure(ctx, err)
		job.emitFinalError(jerr)
		return jerr.Code
	}

	labeled := o.label(ctx, job, segments, metrics, logger)

	job.emitStatus(StatusSummarizing, "")
	metrics.RecordSummarizeStart()
	result, err := o.summarizer.Summarize(ctx, diarize.RenderTranscript(labeled))
	if err != nil {
		metrics.RecordSummarizeEnd(false)
		jerr := summarizeFailure(ctx, err)
		job.emitFinalError(jerr)
		return jerr.Code
	}
	metrics.RecordSummarizeEnd(true)

	transcript := diarize.PlainTranscript(labeled)
	job.emitFinal(result, transcript)
	o.dispatch(job, result, transcript, logger)
	return ""
}

// transcribe streams engine segments to the session the moment they are
// produced and returns the collected sequence. A snapshot the energy gate
// classifies as silent skips the engine call and behaves exactly like an
// engine that produced no segments.
func (o *Orchestrator) transcribe(ctx context.Context, job *Job, metrics *observability.Metrics) ([]stt.Segment, error) {
	job.emitStatus(StatusTranscribing, "")
	metrics.RecordTranscribeStart()

	if !o.hasSpeech(job) {
		metrics.RecordTranscribeEnd(true)
		return nil, nil
	}

	segments, errc := o.engine.Transcribe(ctx, job.Audio, job.SampleRate)
	collected := make([]stt.Segment, 0, 16)
	for seg := range segments {
		observability.RecordSegmentEmitted()
		job.emitSegment(seg)
		collected = append(collected, seg)
	}
	if err := <-errc; err != nil {
		metrics.RecordTranscribeEnd(false)
		return nil, err
	}
	metrics.RecordTranscribeEnd(true)
	return collected, nil
}

// hasSpeech runs the energy gate over the snapshot. Decode failures fall
// through to the engine so a real transcription error is surfaced instead
// of a silent skip.
func (o *Orchestrator) hasSpeech(job *Job) bool {
	if len(job.Audio) == 0 {
		return false
	}
	samples, err := audio.DecodeSamples(job.Audio)
	if err != nil {
		return true
	}
	vad := &audio.VADConfig{
		EnergyThreshold: o.config.VADEnergyThreshold,
		SilenceFrames:   o.config.VADSilenceFrames,
		FrameSize:       audio.FrameSizeForRate(job.SampleRate),
	}
	return audio.HasSpeech(samples, vad)
}

// label attaches speaker names when a labeler is configured. Labeling is
// best-effort: a failure downgrades the job to unlabeled segments and a
// warning status instead of aborting it.
func (o *Orchestrator) label(ctx context.Context, job *Job, segments []stt.Segment, metrics *observability.Metrics, logger zerolog.Logger) []stt.Segment {
	if o.labeler == nil || len(segments) == 0 {
		return segments
	}
	job.emitStatus(StatusLabeling, "")
	metrics.RecordDiarizeStart()
	labeled, err := o.labeler.Label(ctx, job.Audio, job.SampleRate, segments)
	if err != nil {
		metrics.RecordDiarizeEnd(false)
		logger.Warn().Err(err).Msg("Speaker labeling failed, continuing with unlabeled transcript")
		job.emitStatus(StatusLabelingFailed, err.Error())
		return segments
	}
	metrics.RecordDiarizeEnd(true)
	return labeled
}

// dispatch fans the completed meeting out to the configured hooks. Hook
// failures are logged and never affect the job outcome.
func (o *Orchestrator) dispatch(job *Job, result *summarize.Result, transcript string, logger zerolog.Logger) {
	if len(o.dispatchers) == 0 {
		return
	}
	outcome := Outcome{
		SessionID:   job.SessionID,
		JobID:       job.ID,
		Summary:     result.Summary,
		Actions:     result.Actions,
		Transcript:  transcript,
		CompletedAt: time.Now().UTC(),
	}
	// Independent of the job deadline: the result is already delivered.
	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()
	for _, d := range o.dispatchers {
		if err := d.Dispatch(ctx, outcome); err != nil {
			logger.Error().Err(err).Str("dispatcher", d.Name()).Msg("Workflow dispatch failed")
		}
	}
}

// transcribeFailure maps a transcription error to its terminal code. The
// whole-job deadline takes precedence over the stage error it interrupted.
func transcribeFailure(ctx context.Context, err error) *JobError {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &JobError{Code: ErrCodeJobTimeout, Message: "job exceeded its processing deadline during transcription"}
	}
	return &JobError{Code: ErrCodeTranscription, Message: err.Error()}
}

// summarizeFailure maps registry errors to terminal codes; provider-chain
// exhaustion keeps the per-provider diagnostics for the client.
func summarizeFailure(ctx context.Context, err error) *JobError {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &JobError{Code: ErrCodeJobTimeout, Message: "job exceeded its processing deadline during summarization"}
	}
	var chain *summarize.ChainError
	if errors.As(err, &chain) {
		return &JobError{Code: ErrCodeAllProviders, Message: chain.Error(), Diagnostics: chain.Diagnostics}
	}
	return &JobError{Code: ErrCodeAllProviders, Message: err.Error()}
}
