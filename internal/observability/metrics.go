package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scribe_gateway_active_sessions",
		Help: "Number of active capture sessions",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scribe_gateway_sessions_total",
		Help: "Total number of capture sessions handled",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "scribe_gateway_session_duration_seconds",
		Help:    "Duration of capture sessions in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
	})

	protocolErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scribe_gateway_protocol_errors_total",
		Help: "Total number of malformed client messages",
	}, []string{"reason"})

	// Inference job metrics
	inferenceJobs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scribe_gateway_inference_jobs_total",
		Help: "Total number of inference jobs processed",
	})

	inferenceJobFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scribe_gateway_inference_job_failures_total",
		Help: "Total number of inference jobs that resulted in error",
	}, []string{"reason"})

	jobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "scribe_gateway_inference_job_duration_seconds",
		Help:    "End-to-end latency for inference jobs",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40},
	})

	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "scribe_gateway_inference_queue_depth",
		Help: "Current depth of the inference queue",
	}, []string{"backend"})

	// Stage metrics
	transcribeLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "scribe_gateway_asr_latency_seconds",
		Help:    "Latency of transcription per job",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40},
	})

	transcribeRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scribe_gateway_asr_requests_total",
		Help: "Total number of transcription requests",
	}, []string{"status"})

	diarizeLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "scribe_gateway_diarization_latency_seconds",
		Help:    "Latency of speaker labeling per job",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10},
	})

	diarizeRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scribe_gateway_diarization_requests_total",
		Help: "Total number of speaker labeling requests",
	}, []string{"status"})

	summarizeLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "scribe_gateway_llm_latency_seconds",
		Help:    "Latency of summarization per job",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20},
	})

	summarizeRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scribe_gateway_llm_requests_total",
		Help: "Total number of summarization stage runs",
	}, []string{"status"})

	providerRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scribe_gateway_provider_requests_total",
		Help: "Total number of summarization provider calls",
	}, []string{"provider", "status"})

	segmentsEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scribe_gateway_transcript_segments_total",
		Help: "Total number of transcript segments forwarded to clients",
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scribe_gateway_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "scribe_gateway_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scribe_gateway_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scribe_gateway_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "in" for client frames
)

// Metrics tracks timings for a single session or inference job
type Metrics struct {
	id              string
	startTime       time.Time
	transcribeStart time.Time
	diarizeStart    time.Time
	summarizeStart  time.Time
	mu              sync.Mutex
}

// NewSessionMetrics creates a metrics tracker for a capture session
func NewSessionMetrics(sessionID string) *Metrics {
	return &Metrics{
		id:        sessionID,
		startTime: time.Now(),
	}
}

// NewJobMetrics creates a metrics tracker for an inference job
func NewJobMetrics(jobID string) *Metrics {
	return &Metrics{
		id:        jobID,
		startTime: time.Now(),
	}
}

// RecordSessionStart records the start of a capture session
func (m *Metrics) RecordSessionStart() {
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordSessionEnd records the end of a capture session
func (m *Metrics) RecordSessionEnd() {
	activeSessions.Dec()
	duration := time.Since(m.startTime).Seconds()
	sessionDuration.Observe(duration)
}

// RecordJobStart records that a worker picked up an inference job
func (m *Metrics) RecordJobStart() {
	m.mu.Lock()
	m.startTime = time.Now()
	m.mu.Unlock()
	inferenceJobs.Inc()
}

// RecordJobEnd records the end of an inference job; reason is empty on success
func (m *Metrics) RecordJobEnd(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	duration := time.Since(m.startTime).Seconds()
	jobDuration.Observe(duration)

	if reason != "" {
		inferenceJobFailures.WithLabelValues(reason).Inc()
	}
}

// RecordTranscribeStart records the start of the transcription stage
func (m *Metrics) RecordTranscribeStart() {
	m.mu.Lock()
	m.transcribeStart = time.Now()
	m.mu.Unlock()
}

// RecordTranscribeEnd records the end of the transcription stage
func (m *Metrics) RecordTranscribeEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.transcribeStart.IsZero() {
		latency := time.Since(m.transcribeStart).Seconds()
		transcribeLatency.Observe(latency)
	}

	status := "success"
	if !success {
		status = "error"
	}
	transcribeRequests.WithLabelValues(status).Inc()
}

// RecordDiarizeStart records the start of the speaker labeling stage
func (m *Metrics) RecordDiarizeStart() {
	m.mu.Lock()
	m.diarizeStart = time.Now()
	m.mu.Unlock()
}

// RecordDiarizeEnd records the end of the speaker labeling stage
func (m *Metrics) RecordDiarizeEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.diarizeStart.IsZero() {
		latency := time.Since(m.diarizeStart).Seconds()
		diarizeLatency.Observe(latency)
	}

	status := "success"
	if !success {
		status = "error"
	}
	diarizeRequests.WithLabelValues(status).Inc()
}

// RecordSummarizeStart records the start of the summarization stage
func (m *Metrics) RecordSummarizeStart() {
	m.mu.Lock()
	m.summarizeStart = time.Now()
	m.mu.Unlock()
}

// RecordSummarizeEnd records the end of the summarization stage
func (m *Metrics) RecordSummarizeEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.summarizeStart.IsZero() {
		latency := time.Since(m.summarizeStart).Seconds()
		summarizeLatency.Observe(latency)
	}

	status := "success"
	if !success {
		status = "error"
	}
	summarizeRequests.WithLabelValues(status).Inc()
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordAudioBytes records audio bytes processed
func (m *Metrics) RecordAudioBytes(direction string, bytes int64) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

// RecordProtocolError counts a malformed client message
func RecordProtocolError(reason string) {
	protocolErrors.WithLabelValues(reason).Inc()
}

// RecordSegmentEmitted counts a transcript segment forwarded to a client
func RecordSegmentEmitted() {
	segmentsEmitted.Inc()
}

// RecordProviderRequest counts a summarization provider call
func RecordProviderRequest(provider, status string) {
	providerRequests.WithLabelValues(provider, status).Inc()
}

// UpdateQueueDepth sets the current inference queue depth for a backend
func UpdateQueueDepth(depth int, backend string) {
	queueDepth.WithLabelValues(backend).Set(float64(depth))
}

// RecordJobRejected counts a job refused before it entered the queue
func RecordJobRejected(reason string) {
	inferenceJobFailures.WithLabelValues(reason).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
