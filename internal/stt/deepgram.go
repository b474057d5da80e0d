package stt

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"github.com/briefroom/scribe-gateway/internal/config"
	"github.com/briefroom/scribe-gateway/internal/observability"
	"github.com/briefroom/scribe-gateway/internal/resilience"
)

// writeChunkSize is the number of PCM bytes sent to Deepgram per Write.
// Deepgram's live API prefers many small writes over one oversized frame.
const writeChunkSize = 8192

// DeepgramEngine transcribes recordings through Deepgram's live WebSocket
// API. Each Transcribe call opens a fresh socket, streams the full
// recording into it, and emits one Segment per finalized utterance as
// Deepgram reports them.
type DeepgramEngine struct {
	cfg            *config.Config
	circuitBreaker *resilience.CircuitBreaker
}

// NewDeepgramEngine creates a Deepgram-backed transcription engine
func NewDeepgramEngine(cfg *config.Config) *DeepgramEngine {
	return &DeepgramEngine{
		cfg: cfg,
		circuitBreaker: resilience.NewCircuitBreaker(
			"deepgram",
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
		),
	}
}

// Name returns the engine identifier used in logs and metrics
func (e *DeepgramEngine) Name() string {
	return "deepgram"
}

// blobCallbackHandler implements the LiveMessageCallback interface for a
// single recording. We embed the default handler and only override the
// methods we care about: Message for results, Error for stream failures,
// and Close to learn when Deepgram has flushed everything.
type blobCallbackHandler struct {
	*websocketv1api.DefaultCallbackHandler
	onMessage func(mr *msginterfaces.MessageResponse)
	onError   func(er *msginterfaces.ErrorResponse)
	onClose   func()
}

func (h *blobCallbackHandler) Message(mr *msginterfaces.MessageResponse) error {
	h.onMessage(mr)
	return nil
}

func (h *blobCallbackHandler) Error(er *msginterfaces.ErrorResponse) error {
	h.onError(er)
	return nil
}

func (h *blobCallbackHandler) Close(cr *msginterfaces.CloseResponse) error {
	h.onClose()
	return nil
}

// Transcribe streams the recording through a fresh Deepgram socket. The
// circuit breaker protects the whole exchange; when it is open the error
// channel reports resilience.ErrCircuitOpen without touching the network.
func (e *DeepgramEngine) Transcribe(ctx context.Context, audio []byte, sampleRate int) (<-chan Segment, <-chan error) {
	segments := make(chan Segment, 16)
	errc := make(chan error, 1)

	go func() {
		defer close(segments)
		defer close(errc)

		err := e.circuitBreaker.Call(func() error {
			return e.stream(ctx, audio, sampleRate, segments)
		})

		observability.UpdateCircuitBreakerState("deepgram", int(e.circuitBreaker.GetState()))
		if err != nil {
			observability.IncrementCircuitBreakerFailures("deepgram")
			errc <- err
		}
	}()

	return segments, errc
}

func (e *DeepgramEngine) stream(ctx context.Context, audio []byte, sampleRate int, segments chan<- Segment) error {
	dgCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// done fires when Deepgram closes the stream or reports an error,
	// whichever comes first.
	done := make(chan struct{})
	var once sync.Once
	finish := func() { once.Do(func() { close(done) }) }

	var (
		mu        sync.Mutex
		seq       int
		streamErr error
	)

	// Create Deepgram transcription options (v3 API). Interim results are
	// off: with a complete recording every Results message is a finalized
	// utterance and maps straight onto a Segment.
	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          e.cfg.DeepgramModel,
		Language:       e.cfg.DeepgramLanguage,
		Punctuate:      true,
		InterimResults: false,
		Encoding:       "linear16", // 16-bit little-endian PCM
		Channels:       1,          // Mono
		SampleRate:     sampleRate,
	}

	// Create callback struct that implements LiveMessageCallback interface
	callback := &blobCallbackHandler{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		onMessage: func(mr *msginterfaces.MessageResponse) {
			if mr == nil {
				return
			}

			switch mr.Type {
			case "Metadata":
				log.Printf("Deepgram metadata: %+v", mr.Metadata)

			case "Results", "Message":
				// MessageResponse has Channel directly (not Results.Channels)
				if len(mr.Channel.Alternatives) == 0 || !mr.IsFinal {
					return
				}

				// Best alternative first
				alt := mr.Channel.Alternatives[0]
				text := strings.TrimSpace(alt.Transcript)
				if text == "" {
					return
				}

				start := mr.Start
				duration := mr.Duration
				if len(alt.Words) > 0 && duration == 0 {
					// Fallback: derive timing from words if not provided
					start = alt.Words[0].Start
					lastWord := alt.Words[len(alt.Words)-1]
					duration = lastWord.End - start
				}

				mu.Lock()
				seg := Segment{
					Text:       text,
					Start:      start,
					End:        start + duration,
					Seq:        seq,
					Confidence: alt.Confidence,
				}
				seq++
				mu.Unlock()

				select {
				case segments <- seg:
					log.Printf("Deepgram utterance %d: %s (confidence: %.2f)", seg.Seq, text, alt.Confidence)
				case <-dgCtx.Done():
				}

			default:
				log.Printf("Deepgram: Received unknown message type: %s", mr.Type)
			}
		},
		onError: func(er *msginterfaces.ErrorResponse) {
			log.Printf("Deepgram error: %+v", er)
			mu.Lock()
			if streamErr == nil {
				streamErr = fmt.Errorf("deepgram stream error: %+v", er)
			}
			mu.Unlock()
			finish()
		},
		onClose: finish,
	}

	// Create Deepgram WebSocket client using callback (v3 API)
	// Using nil for cOptions to use defaults
	client, err := listenClient.NewWSUsingCallback(
		dgCtx,
		e.cfg.DeepgramAPIKey,
		nil, // ClientOptions - nil uses defaults
		tOptions,
		callback,
	)
	if err != nil {
		return fmt.Errorf("failed to create Deepgram client: %w", err)
	}

	// Stream the recording in chunks.
	// WSCallback uses Write for sending audio (returns bytes written and error)
	for offset := 0; offset < len(audio); offset += writeChunkSize {
		end := offset + writeChunkSize
		if end > len(audio) {
			end = len(audio)
		}
		if _, err := client.Write(audio[offset:end]); err != nil {
			return fmt.Errorf("failed to send audio to Deepgram: %w", err)
		}

		select {
		case <-dgCtx.Done():
			return dgCtx.Err()
		default:
		}
	}

	// Tell Deepgram the recording is complete and wait for it to flush
	// the remaining results. WSCallback Finish() doesn't return an error.
	client.Finish()

	select {
	case <-done:
	case <-dgCtx.Done():
		return dgCtx.Err()
	}

	mu.Lock()
	defer mu.Unlock()
	return streamErr
}

// Close releases engine resources. Sockets are scoped to Transcribe
// calls, so there is nothing persistent to tear down.
func (e *DeepgramEngine) Close() error {
	return nil
}
