package stt

import (
	"errors"
	"strings"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/briefroom/scribe-gateway/internal/config"
)

func TestCollect(t *testing.T) {
	segments := make(chan Segment, 3)
	errc := make(chan error, 1)

	segments <- Segment{Text: "hello", Seq: 0}
	segments <- Segment{Text: "world", Seq: 1}
	close(segments)
	close(errc)

	got, err := Collect(segments, errc)
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 segments, got %d", len(got))
	}
	if got[0].Text != "hello" || got[1].Text != "world" {
		t.Errorf("Expected segments in order, got %v", got)
	}
}

func TestCollect_Error(t *testing.T) {
	segments := make(chan Segment, 1)
	errc := make(chan error, 1)

	segments <- Segment{Text: "partial", Seq: 0}
	errc <- errors.New("stream broke")
	close(segments)
	close(errc)

	got, err := Collect(segments, errc)
	if err == nil {
		t.Error("Expected error, got nil")
	}
	if len(got) != 1 {
		t.Errorf("Expected partial segments to survive, got %d", len(got))
	}
}

func TestNewEngine_Deepgram(t *testing.T) {
	cfg := &config.Config{
		STTEngine:      "deepgram",
		DeepgramAPIKey: "test-key",
		DeepgramModel:  "nova-2",
	}

	engine, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if engine.Name() != "deepgram" {
		t.Errorf("Expected engine name 'deepgram', got %s", engine.Name())
	}
}

func TestNewEngine_DeepgramMissingKey(t *testing.T) {
	cfg := &config.Config{STTEngine: "deepgram"}

	_, err := NewEngine(cfg)
	if err == nil {
		t.Error("Expected error for missing DEEPGRAM_API_KEY, got nil")
	}
}

func TestNewEngine_Google(t *testing.T) {
	cfg := &config.Config{
		STTEngine:            "google",
		GoogleProjectID:      "test-project",
		GoogleSpeechLocation: "global",
	}

	engine, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if engine.Name() != "google" {
		t.Errorf("Expected engine name 'google', got %s", engine.Name())
	}
}

func TestNewEngine_CaseInsensitive(t *testing.T) {
	cfg := &config.Config{
		STTEngine:      "Deepgram",
		DeepgramAPIKey: "test-key",
	}

	engine, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if engine.Name() != "deepgram" {
		t.Errorf("Expected engine name 'deepgram', got %s", engine.Name())
	}
}

func TestNewEngine_Unsupported(t *testing.T) {
	cfg := &config.Config{STTEngine: "whisper"}

	_, err := NewEngine(cfg)
	if err == nil {
		t.Error("Expected error for unsupported engine, got nil")
	}
	if !strings.Contains(err.Error(), "whisper") {
		t.Errorf("Expected error to name the engine, got %v", err)
	}
}

func TestClassifyStreamError_Aborted(t *testing.T) {
	err := status.Error(codes.Aborted, "the stream hit the max duration of 5 minutes")

	classified := classifyStreamError(err)
	if !strings.Contains(classified.Error(), "max duration") {
		t.Errorf("Expected max duration classification, got %v", classified)
	}
}

func TestClassifyStreamError_Unavailable(t *testing.T) {
	err := status.Error(codes.Unavailable, "connection reset")

	classified := classifyStreamError(err)
	if !strings.Contains(classified.Error(), "Unavailable") {
		t.Errorf("Expected code in message, got %v", classified)
	}
}
