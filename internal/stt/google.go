package stt

import (
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/auth/credentials"
	speech "cloud.google.com/go/speech/apiv2"
	"cloud.google.com/go/speech/apiv2/speechpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/briefroom/scribe-gateway/internal/config"
	"github.com/briefroom/scribe-gateway/internal/observability"
)

// cloudSpeechScope is the OAuth scope required by the Speech-to-Text API.
const cloudSpeechScope = "https://www.googleapis.com/auth/cloud-platform"

// GoogleEngine transcribes recordings through Google Cloud Speech-to-Text
// v2 streaming recognition. Each Transcribe call opens one gRPC stream,
// feeds it the recording, and emits a Segment per final recognition
// result.
type GoogleEngine struct {
	cfg *config.Config
}

// NewGoogleEngine creates a Cloud Speech-backed transcription engine
func NewGoogleEngine(cfg *config.Config) *GoogleEngine {
	return &GoogleEngine{cfg: cfg}
}

// Name returns the engine identifier used in logs and metrics
func (e *GoogleEngine) Name() string {
	return "google"
}

// Transcribe streams the recording through Cloud Speech and forwards
// final results on the returned segment channel.
func (e *GoogleEngine) Transcribe(ctx context.Context, audio []byte, sampleRate int) (<-chan Segment, <-chan error) {
	segments := make(chan Segment, 16)
	errc := make(chan error, 1)

	go func() {
		defer close(segments)
		defer close(errc)

		if err := e.stream(ctx, audio, sampleRate, segments); err != nil {
			errc <- err
		}
	}()

	return segments, errc
}

func (e *GoogleEngine) clientOptions() ([]option.ClientOption, error) {
	var opts []option.ClientOption

	if e.cfg.GoogleCredentialsJSON != "" {
		creds, err := credentials.DetectDefault(&credentials.DetectOptions{
			CredentialsJSON: []byte(e.cfg.GoogleCredentialsJSON),
			Scopes:          []string{cloudSpeechScope},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to load Google credentials: %w", err)
		}
		opts = append(opts, option.WithAuthCredentials(creds))
	}

	// Regional recognizers live behind regional endpoints.
	if e.cfg.GoogleSpeechLocation != "global" {
		endpoint := fmt.Sprintf("%s-speech.googleapis.com:443", e.cfg.GoogleSpeechLocation)
		opts = append(opts, option.WithEndpoint(endpoint))
	}

	return opts, nil
}

func (e *GoogleEngine) stream(ctx context.Context, audio []byte, sampleRate int, segments chan<- Segment) error {
	logger := observability.WithComponent("stt.google")

	opts, err := e.clientOptions()
	if err != nil {
		return err
	}

	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create speech client: %w", err)
	}
	defer client.Close()

	stream, err := client.StreamingRecognize(ctx)
	if err != nil {
		return fmt.Errorf("failed to open recognize stream: %w", err)
	}

	recognizer := fmt.Sprintf("projects/%s/locations/%s/recognizers/_",
		e.cfg.GoogleProjectID, e.cfg.GoogleSpeechLocation)

	// The first request carries the recognition config, subsequent ones
	// carry audio.
	configReq := &speechpb.StreamingRecognizeRequest{
		Recognizer: recognizer,
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Model:         e.cfg.GoogleSpeechModel,
					LanguageCodes: []string{e.cfg.GoogleSpeechLanguage},
					DecodingConfig: &speechpb.RecognitionConfig_ExplicitDecodingConfig{
						ExplicitDecodingConfig: &speechpb.ExplicitDecodingConfig{
							Encoding:          speechpb.ExplicitDecodingConfig_LINEAR16,
							SampleRateHertz:   int32(sampleRate),
							AudioChannelCount: 1,
						},
					},
					Features: &speechpb.RecognitionFeatures{},
				},
				StreamingFeatures: &speechpb.StreamingRecognitionFeatures{
					InterimResults: false,
				},
			},
		},
	}
	if err := stream.Send(configReq); err != nil {
		return fmt.Errorf("failed to send recognition config: %w", err)
	}

	// Receive results concurrently with sending so long recordings do not
	// deadlock on gRPC flow control.
	recvDone := make(chan error, 1)
	go func() {
		seq := 0
		prevEnd := 0.0
		for {
			resp, err := stream.Recv()
			if err == io.EOF {
				recvDone <- nil
				return
			}
			if err != nil {
				recvDone <- classifyStreamError(err)
				return
			}

			for _, result := range resp.GetResults() {
				if !result.GetIsFinal() || len(result.GetAlternatives()) == 0 {
					continue
				}
				alt := result.GetAlternatives()[0]
				text := strings.TrimSpace(alt.GetTranscript())
				if text == "" {
					continue
				}

				end := prevEnd
				if off := result.GetResultEndOffset(); off != nil {
					end = off.AsDuration().Seconds()
				}

				seg := Segment{
					Text:       text,
					Start:      prevEnd,
					End:        end,
					Seq:        seq,
					Confidence: float64(alt.GetConfidence()),
				}
				prevEnd = end
				seq++

				select {
				case segments <- seg:
					logger.Debug().Int("seq", seg.Seq).Str("text", text).Msg("Cloud Speech final result")
				case <-ctx.Done():
					recvDone <- ctx.Err()
					return
				}
			}
		}
	}()

	const chunkSize = 8192
	for offset := 0; offset < len(audio); offset += chunkSize {
		end := offset + chunkSize
		if end > len(audio) {
			end = len(audio)
		}
		audioReq := &speechpb.StreamingRecognizeRequest{
			StreamingRequest: &speechpb.StreamingRecognizeRequest_Audio{
				Audio: audio[offset:end],
			},
		}
		if err := stream.Send(audioReq); err != nil {
			if err == io.EOF {
				// Server closed the stream; Recv surfaces the real error.
				break
			}
			return fmt.Errorf("failed to send audio: %w", err)
		}

		select {
		case <-ctx.Done():
			_ = stream.CloseSend()
			<-recvDone
			return ctx.Err()
		default:
		}
	}

	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("failed to close send direction: %w", err)
	}

	return <-recvDone
}

// classifyStreamError unwraps gRPC status codes into readable errors.
// Aborted streams (Cloud Speech enforces a max stream duration) are
// called out explicitly since they indicate recordings that should be
// split before submission.
func classifyStreamError(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("speech stream failed: %w", err)
	}
	if st.Code() == codes.Aborted && strings.Contains(st.Message(), "max duration") {
		return fmt.Errorf("speech stream exceeded max duration: %w", err)
	}
	return fmt.Errorf("speech stream failed (%s): %w", st.Code(), err)
}

// Close releases engine resources. Clients are scoped to Transcribe
// calls, so there is nothing persistent to tear down.
func (e *GoogleEngine) Close() error {
	return nil
}
