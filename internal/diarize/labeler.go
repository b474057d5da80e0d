package diarize

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/briefroom/scribe-gateway/internal/config"
	"github.com/briefroom/scribe-gateway/internal/stt"
)

// UnknownSpeaker is the label used when no diarization turn covers a
// segment, and when labeling was skipped or failed entirely.
const UnknownSpeaker = "Unknown"

// Labeler assigns speaker labels to transcript segments. Implementations
// leave the input slice untouched and return a labeled copy; callers fall
// back to the unlabeled segments when labeling fails, so a Labeler error
// is never fatal to the job.
type Labeler interface {
	Label(ctx context.Context, audio []byte, sampleRate int, segments []stt.Segment) ([]stt.Segment, error)
}

// Turn is one speaker interval reported by the diarization service.
type Turn struct {
	Speaker string  `json:"speaker"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

type labelRequest struct {
	Audio      string `json:"audio"` // base64 S16LE PCM
	SampleRate int    `json:"sample_rate"`
}

type labelResponse struct {
	Turns []Turn `json:"turns"`
}

// HTTPLabeler sends the recording to an external diarization sidecar and
// maps the returned speaker turns onto the transcript segments.
type HTTPLabeler struct {
	url        string
	httpClient *http.Client
}

// NewHTTPLabeler creates a labeler targeting the configured sidecar
func NewHTTPLabeler(cfg *config.Config) *HTTPLabeler {
	return &HTTPLabeler{
		url: cfg.DiarizerURL,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.DiarizerTimeout) * time.Second,
		},
	}
}

// FromConfig returns the configured labeler, or nil when DIARIZER_URL is
// unset and labeling is disabled.
func FromConfig(cfg *config.Config) Labeler {
	if cfg.DiarizerURL == "" {
		return nil
	}
	return NewHTTPLabeler(cfg)
}

// Label posts the recording to the diarizer and assigns its speaker turns
// to the segments by temporal overlap.
func (l *HTTPLabeler) Label(ctx context.Context, audio []byte, sampleRate int, segments []stt.Segment) ([]stt.Segment, error) {
	if len(segments) == 0 {
		return segments, nil
	}

	reqBody := labelRequest{
		Audio:      base64.StdEncoding.EncodeToString(audio),
		SampleRate: sampleRate,
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal diarizer request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create diarizer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call diarizer: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("diarizer returned status %d", resp.StatusCode)
	}

	var parsed labelResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode diarizer response: %w", err)
	}

	return AssignSpeakers(segments, parsed.Turns), nil
}

// AssignSpeakers labels each segment with the speaker whose turns overlap
// it the most. Segments no turn touches keep an empty Speaker; rendering
// substitutes UnknownSpeaker for those.
func AssignSpeakers(segments []stt.Segment, turns []Turn) []stt.Segment {
	labeled := make([]stt.Segment, len(segments))
	copy(labeled, segments)

	for i := range labeled {
		best := ""
		bestOverlap := 0.0
		bySpeaker := make(map[string]float64)
		for _, turn := range turns {
			o := overlap(labeled[i].Start, labeled[i].End, turn.Start, turn.End)
			if o <= 0 {
				continue
			}
			bySpeaker[turn.Speaker] += o
			if bySpeaker[turn.Speaker] > bestOverlap {
				bestOverlap = bySpeaker[turn.Speaker]
				best = turn.Speaker
			}
		}
		labeled[i].Speaker = best
	}
	return labeled
}

func overlap(aStart, aEnd, bStart, bEnd float64) float64 {
	start := math.Max(aStart, bStart)
	end := math.Min(aEnd, bEnd)
	return end - start
}

// RenderTranscript flattens segments into the "Speaker: text" form the
// summarization prompt consumes, one utterance after another.
func RenderTranscript(segments []stt.Segment) string {
	lines := make([]string, 0, len(segments))
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		speaker := seg.Speaker
		if speaker == "" {
			speaker = UnknownSpeaker
		}
		lines = append(lines, fmt.Sprintf("%s: %s", speaker, text))
	}
	return strings.Join(lines, " ")
}

// PlainTranscript joins segment texts without speaker prefixes, for the
// client-facing transcript field.
func PlainTranscript(segments []stt.Segment) string {
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, " ")
}
