package stt

import "context"

// Segment is one finalized utterance produced by a transcription engine.
// Segments for a recording are emitted in order of Seq, with Start/End
// expressed in seconds from the beginning of the audio.
type Segment struct {
	Text       string  `json:"text"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Speaker    string  `json:"speaker,omitempty"`
	Seq        int     `json:"seq"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Engine transcribes a complete PCM recording into an ordered stream of
// segments. Transcription starts when Transcribe is called, not before:
// segments arrive on the returned channel as the engine produces them, so
// callers can forward partial results while the rest of the audio is still
// being processed.
//
// The engine closes both channels when it is done. The error channel
// carries at most one value; a nil read (or a closed channel) after the
// segment channel is drained means the recording transcribed cleanly.
// Cancelling the context stops the stream.
type Engine interface {
	// Name identifies the engine in logs and metrics ("deepgram", "google").
	Name() string

	// Transcribe streams the transcription of a 16-bit little-endian mono
	// PCM recording sampled at sampleRate Hz.
	Transcribe(ctx context.Context, audio []byte, sampleRate int) (<-chan Segment, <-chan error)

	// Close releases any resources held by the engine.
	Close() error
}

// Collect drains a segment stream into a slice, returning the segments
// received before the stream ended and the terminal error, if any.
// Segments received before a mid-stream failure are returned alongside
// the error so callers can decide whether a partial transcript is usable.
func Collect(segments <-chan Segment, errc <-chan error) ([]Segment, error) {
	var out []Segment
	for seg := range segments {
		out = append(out, seg)
	}
	return out, <-errc
}
