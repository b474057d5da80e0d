package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/briefroom/scribe-gateway/internal/audio"
	"github.com/briefroom/scribe-gateway/internal/config"
	"github.com/briefroom/scribe-gateway/internal/observability"
	"github.com/briefroom/scribe-gateway/internal/orchestrator"
	"github.com/briefroom/scribe-gateway/internal/summarize"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// In production, validate origin against the deployment's allowed
		// hosts. For now, allow all origins (development only)
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

const (
	defaultSampleRate = 16000
	writeTimeout      = 10 * time.Second
	outboundBuffer    = 64
)

// state tracks where a capture cycle is within its lifecycle.
type state int

const (
	stateIdle state = iota
	stateCapturing
	stateFinalizing
)

func (s state) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateCapturing:
		return "capturing"
	case stateFinalizing:
		return "finalizing"
	default:
		return "unknown"
	}
}

// Session holds the state of a single transcription connection. One
// capture cycle runs Idle → Capturing → Finalizing and back to Idle after
// the terminal message, so a client can record several meetings over one
// connection.
type Session struct {
	conn   *websocket.Conn
	config *config.Config
	orch   *orchestrator.Orchestrator

	id string

	// State machine, guarded by mu. The read loop owns the transitions;
	// the job event pump flips Finalizing back to Idle on the terminal
	// message.
	mu          sync.Mutex
	state       state
	sampleRate  int
	accumulator *audio.Accumulator
	job         *orchestrator.Job
	finalSent   bool

	// protocolErrors is only touched by the read loop.
	protocolErrors int

	cipher *audio.ChunkCipher

	// outbound serializes all writes through a single writer goroutine,
	// per the gorilla concurrency rules.
	outbound chan []byte
	done     chan struct{}

	correlationID string
	metrics       *observability.Metrics
	logger        zerolog.Logger
}

// NewSession creates a session for an upgraded connection.
func NewSession(conn *websocket.Conn, cfg *config.Config, orch *orchestrator.Orchestrator) *Session {
	id := uuid.New().String()
	correlationID := observability.NewCorrelationID()
	logger := observability.WithCorrelationID(correlationID).
		With().
		Str("session_id", id).
		Logger()

	var chunkCipher *audio.ChunkCipher
	if cfg.AudioEncryptionKey != "" {
		c, err := audio.NewChunkCipher(cfg.AudioEncryptionKey)
		if err != nil {
			logger.Error().Err(err).Msg("Invalid audio encryption key, storing audio unencrypted")
		} else {
			chunkCipher = c
		}
	}

	metrics := observability.NewSessionMetrics(id)
	metrics.RecordSessionStart()

	return &Session{
		conn:          conn,
		config:        cfg,
		orch:          orch,
		id:            id,
		state:         stateIdle,
		cipher:        chunkCipher,
		outbound:      make(chan []byte, outboundBuffer),
		done:          make(chan struct{}),
		correlationID: correlationID,
		metrics:       metrics,
		logger:        logger,
	}
}

// HandleWS is the entry point for transcription WebSocket connections.
func HandleWS(cfg *config.Config, orch *orchestrator.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("Failed to upgrade connection to WebSocket: %v", err)
			return
		}
		defer conn.Close()

		session := NewSession(conn, cfg, orch)
		log.Printf("New transcription session connected: %s", session.id)

		go session.writeLoop()
		session.readLoop()
	}
}

// readLoop consumes client frames until disconnect or idle timeout. It is
// the only goroutine that drives state transitions out of Idle.
func (s *Session) readLoop() {
	defer s.cleanup()

	idleTimeout := time.Duration(s.config.IdleSessionTimeout) * time.Second
	for {
		if idleTimeout > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(idleTimeout))
		}

		msgType, payload, err := s.conn.ReadMessage()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				s.logger.Info().Msg("Idle session timed out, closing connection")
			} else if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			s.handleAudioFrame(payload)
		case websocket.TextMessage:
			s.handleControlMessage(payload)
		}
	}
}

// writeLoop is the single writer for the connection. After a write error
// it keeps draining so senders never block on a dead connection.
func (s *Session) writeLoop() {
	var dead bool
	for {
		select {
		case msg := <-s.outbound:
			if dead {
				continue
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.logger.Warn().Err(err).Msg("WebSocket write failed")
				dead = true
			}
		case <-s.done:
			return
		}
	}
}

func (s *Session) cleanup() {
	s.mu.Lock()
	job := s.job
	s.job = nil
	s.mu.Unlock()
	if job != nil {
		// An unstarted job is skipped outright; a running one finishes and
		// its result is dropped.
		job.Abandon()
	}
	close(s.done)
	s.metrics.RecordSessionEnd()
	s.logger.Info().Int("protocol_errors", s.protocolErrors).Msg("Session closed")
}

func (s *Session) handleControlMessage(payload []byte) {
	var msg controlMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		s.protocolError("malformed_control_message", err.Error())
		return
	}

	switch msg.Type {
	case msgTypeStart:
		s.handleStart(msg)
	case msgTypeStop:
		s.handleStop()
	default:
		s.protocolError("unknown_message_type", fmt.Sprintf("unknown control message type %q", msg.Type))
	}
}

// handleStart opens a capture cycle. A start during Capturing discards
// the buffered audio and begins over; a start during Finalizing is a
// protocol error because the previous cycle has not produced its terminal
// message yet.
func (s *Session) handleStart(msg controlMessage) {
	sampleRate := msg.SampleRate
	if sampleRate == 0 {
		sampleRate = defaultSampleRate
	}
	if sampleRate < 0 {
		s.protocolError("invalid_sample_rate", fmt.Sprintf("sample rate %d", msg.SampleRate))
		return
	}

	s.mu.Lock()
	if s.state == stateFinalizing {
		s.mu.Unlock()
		s.protocolError("start_while_finalizing", "start received before the previous capture finished")
		return
	}
	restarted := s.state == stateCapturing
	s.state = stateCapturing
	s.sampleRate = sampleRate
	s.finalSent = false
	maxBytes := audio.MaxBytesForDuration(s.config.MaxSessionSeconds, sampleRate)
	s.accumulator = audio.NewAccumulator(maxBytes, s.cipher)
	s.mu.Unlock()

	if restarted {
		s.logger.Info().Int("sample_rate", sampleRate).Msg("Capture restarted, discarding buffered audio")
	} else {
		s.logger.Info().Int("sample_rate", sampleRate).Msg("Capture started")
	}
}

// handleAudioFrame appends one binary PCM frame to the capture buffer.
func (s *Session) handleAudioFrame(frame []byte) {
	s.mu.Lock()
	if s.state != stateCapturing {
		s.mu.Unlock()
		s.protocolError("unexpected_audio_frame", fmt.Sprintf("binary frame in state %s", s.state))
		return
	}
	if err := audio.ValidateFrame(frame); err != nil {
		s.mu.Unlock()
		s.protocolError("misaligned_frame", err.Error())
		return
	}

	if err := s.accumulator.Append(frame); err != nil {
		s.state = stateIdle
		s.accumulator = nil
		finalize := s.claimFinalLocked()
		s.mu.Unlock()
		s.logger.Warn().Err(err).Msg("Capture aborted, buffer rejected frame")
		if finalize {
			if errors.Is(err, audio.ErrCapacityExceeded) {
				s.sendFinalError(errCodeCapacity, "capture exceeded the maximum session duration", nil)
			} else {
				s.sendFinalError(errCodeCapacity, err.Error(), nil)
			}
		}
		return
	}
	s.mu.Unlock()

	s.metrics.RecordAudioBytes("in", int64(len(frame)))
}

// handleStop snapshots the capture into a job and hands it to the
// orchestrator. Queue-full and snapshot failures terminate the cycle
// immediately; no job exists afterwards.
func (s *Session) handleStop() {
	s.mu.Lock()
	if s.state != stateCapturing {
		s.mu.Unlock()
		s.protocolError("stop_outside_capture", fmt.Sprintf("stop in state %s", s.state))
		return
	}

	snapshot, err := s.accumulator.Snapshot()
	if err != nil {
		s.state = stateIdle
		s.accumulator = nil
		finalize := s.claimFinalLocked()
		s.mu.Unlock()
		s.logger.Error().Err(err).Msg("Audio snapshot failed")
		if finalize {
			s.sendFinalError(errCodeSnapshot, "captured audio could not be recovered", nil)
		}
		return
	}

	job := orchestrator.NewJob(s.id, snapshot, s.sampleRate)
	if err := s.orch.Submit(job); err != nil {
		s.state = stateIdle
		s.accumulator = nil
		finalize := s.claimFinalLocked()
		s.mu.Unlock()
		if errors.Is(err, orchestrator.ErrQueueFull) {
			s.logger.Warn().Msg("Inference queue full, rejecting capture")
			if finalize {
				s.sendFinalError(errCodeQueueFull, "inference queue is full, try again later", nil)
			}
		} else {
			s.logger.Error().Err(err).Msg("Job submission failed")
			if finalize {
				s.sendFinalError(errCodeQueueFull, err.Error(), nil)
			}
		}
		return
	}

	s.state = stateFinalizing
	s.accumulator = nil
	s.job = job
	s.mu.Unlock()

	s.logger.Info().
		Str("job_id", job.ID).
		Int("audio_bytes", len(snapshot)).
		Msg("Capture submitted for inference")
	s.sendStatus(orchestrator.StatusQueued, "")
	go s.pumpJobEvents(job)
}

// pumpJobEvents forwards worker progress to the client in arrival order
// and re-arms the session when the terminal message lands.
func (s *Session) pumpJobEvents(job *orchestrator.Job) {
	for {
		select {
		case ev, ok := <-job.Events():
			if !ok {
				return
			}
			switch ev.Type {
			case orchestrator.EventStatus:
				s.sendStatus(ev.Status, ev.Detail)
			case orchestrator.EventSegment:
				seg := ev.Segment
				s.send(partialTranscriptMessage{
					Type:    msgTypePartialTranscript,
					Text:    seg.Text,
					Start:   seg.Start,
					End:     seg.End,
					Speaker: seg.Speaker,
					Seq:     seg.Seq,
				})
			case orchestrator.EventFinal:
				s.deliverFinal(ev)
			}
		case <-s.done:
			return
		}
	}
}

// deliverFinal emits the terminal message and returns the session to Idle
// so the client can begin another capture on the same connection.
func (s *Session) deliverFinal(ev orchestrator.Event) {
	s.mu.Lock()
	if !s.claimFinalLocked() {
		s.mu.Unlock()
		s.logger.Error().Msg("Dropping duplicate terminal message")
		return
	}
	s.state = stateIdle
	s.job = nil
	s.mu.Unlock()

	if ev.Err != nil {
		s.sendFinalError(ev.Err.Code, ev.Err.Message, ev.Err.Diagnostics)
		return
	}

	summary := ev.Result.Summary
	transcript := ev.Transcript
	s.send(finalMessage{
		Type:       msgTypeFinal,
		Summary:    &summary,
		Actions:    ev.Result.Actions,
		Transcript: &transcript,
	})
}

// claimFinalLocked reserves the single terminal message for this capture
// cycle. Callers must hold mu.
func (s *Session) claimFinalLocked() bool {
	if s.finalSent {
		return false
	}
	s.finalSent = true
	return true
}

// protocolError logs and counts a malformed client frame. The frame is
// dropped and the connection stays open.
func (s *Session) protocolError(reason, detail string) {
	observability.RecordProtocolError(reason)
	s.protocolErrors++
	s.logger.Warn().
		Str("reason", reason).
		Str("detail", detail).
		Int("count", s.protocolErrors).
		Msg("Protocol error, dropping frame")
}

func (s *Session) sendStatus(status, detail string) {
	s.send(statusMessage{Type: msgTypeStatus, Status: status, Detail: detail})
}

func (s *Session) sendFinalError(code, message string, providers []summarize.Diagnostic) {
	s.send(finalMessage{
		Type:      msgTypeFinal,
		Error:     code,
		Message:   message,
		Providers: providers,
	})
}

// send marshals a server message onto the writer queue. It blocks on a
// full queue while the connection is alive so event order is preserved.
func (s *Session) send(v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to marshal outbound message")
		return
	}
	select {
	case s.outbound <- payload:
	case <-s.done:
	}
}
