package audio

import (
	"testing"
)

// 20ms frames at the default 16kHz capture rate
const testFrameSize = 320

func captureConfig() *VADConfig {
	return &VADConfig{
		EnergyThreshold: 500.0,
		SilenceFrames:   10,
		FrameSize:       testFrameSize,
	}
}

func loudFrame() []int16 {
	samples := make([]int16, testFrameSize)
	for i := range samples {
		samples[i] = 5000
	}
	return samples
}

func quietFrame() []int16 {
	samples := make([]int16, testFrameSize)
	for i := range samples {
		samples[i] = 10
	}
	return samples
}

func TestVADDetector_DetectsSpeechOnset(t *testing.T) {
	vad := NewVADDetector(captureConfig())

	for i := 0; i < 5; i++ {
		isSpeaking, speechStarted, _ := vad.ProcessFrame(loudFrame())
		if !isSpeaking {
			t.Errorf("Expected speech detection on frame %d", i)
		}
		if i == 0 && !speechStarted {
			t.Error("Expected speech to start on first loud frame")
		}
		if i > 0 && speechStarted {
			t.Errorf("Expected no repeated start signal on frame %d", i)
		}
	}
}

func TestVADDetector_QuietFramesStaySilent(t *testing.T) {
	vad := NewVADDetector(captureConfig())

	for i := 0; i < 15; i++ {
		isSpeaking, started, _ := vad.ProcessFrame(quietFrame())
		if isSpeaking || started {
			t.Errorf("Expected silence on frame %d", i)
		}
	}
}

func TestVADDetector_SpeechEndsAfterSilenceRun(t *testing.T) {
	cfg := captureConfig()
	vad := NewVADDetector(cfg)

	for i := 0; i < 5; i++ {
		vad.ProcessFrame(loudFrame())
	}

	// Speech should end only after SilenceFrames consecutive quiet frames
	endedAt := -1
	for i := 0; i < 15; i++ {
		_, _, ended := vad.ProcessFrame(quietFrame())
		if ended {
			endedAt = i
			break
		}
	}

	if endedAt != cfg.SilenceFrames-1 {
		t.Errorf("Expected speech to end on quiet frame %d, got %d", cfg.SilenceFrames-1, endedAt)
	}
}

func TestVADDetector_BriefPauseDoesNotEndSpeech(t *testing.T) {
	vad := NewVADDetector(captureConfig())

	vad.ProcessFrame(loudFrame())

	// A pause shorter than SilenceFrames followed by speech again
	for i := 0; i < 5; i++ {
		vad.ProcessFrame(quietFrame())
	}
	isSpeaking, started, _ := vad.ProcessFrame(loudFrame())

	if !isSpeaking {
		t.Error("Expected detector to still be speaking after a brief pause")
	}
	if started {
		t.Error("Expected no new start signal across a brief pause")
	}
}

func TestVADDetector_ThresholdControlsSensitivity(t *testing.T) {
	medium := make([]int16, testFrameSize)
	for i := range medium {
		medium[i] = 1000
	}

	sensitive := NewVADDetector(&VADConfig{EnergyThreshold: 100.0, SilenceFrames: 10, FrameSize: testFrameSize})
	if isSpeaking, _, _ := sensitive.ProcessFrame(medium); !isSpeaking {
		t.Error("Expected low threshold to detect medium-energy audio as speech")
	}

	strict := NewVADDetector(&VADConfig{EnergyThreshold: 5000.0, SilenceFrames: 10, FrameSize: testFrameSize})
	if isSpeaking, _, _ := strict.ProcessFrame(medium); isSpeaking {
		t.Error("Expected high threshold to classify medium-energy audio as silence")
	}
}

func TestVADDetector_Reset(t *testing.T) {
	vad := NewVADDetector(captureConfig())

	vad.ProcessFrame(loudFrame())
	if !vad.IsSpeaking() {
		t.Fatal("Expected speech to be detected")
	}

	vad.Reset()
	if vad.IsSpeaking() {
		t.Error("Expected speech state to be false after reset")
	}
}

func TestDefaultVADConfig(t *testing.T) {
	config := DefaultVADConfig()
	if config.EnergyThreshold != 500.0 {
		t.Errorf("Expected default EnergyThreshold 500.0, got %f", config.EnergyThreshold)
	}
	if config.SilenceFrames != 10 {
		t.Errorf("Expected default SilenceFrames 10, got %d", config.SilenceFrames)
	}
	if config.FrameSize != testFrameSize {
		t.Errorf("Expected default FrameSize %d, got %d", testFrameSize, config.FrameSize)
	}
}

func TestHasSpeech_SilentRecording(t *testing.T) {
	silent := make([]int16, 16000)
	for i := range silent {
		silent[i] = 5
	}

	if HasSpeech(silent, captureConfig()) {
		t.Error("Expected all-silent recording to have no speech")
	}
}

func TestHasSpeech_SingleUtteranceInQuietCapture(t *testing.T) {
	// One loud 20ms frame in the middle of a second of near-silence;
	// whole-recording RMS would stay below the threshold here
	mixed := make([]int16, 16000)
	for i := range mixed {
		mixed[i] = 5
	}
	for i := 8000; i < 8000+testFrameSize; i++ {
		mixed[i] = 5000
	}

	if !HasSpeech(mixed, captureConfig()) {
		t.Error("Expected recording with one loud frame to have speech")
	}
}

func TestHasSpeech_EmptyRecording(t *testing.T) {
	if HasSpeech(nil, captureConfig()) {
		t.Error("Expected empty recording to have no speech")
	}
	if HasSpeech([]int16{}, captureConfig()) {
		t.Error("Expected zero-length recording to have no speech")
	}
}

func TestHasSpeech_ShortTailFrame(t *testing.T) {
	// Recording that is not a whole number of frames; the loud partial
	// tail must still be scanned
	short := make([]int16, testFrameSize+40)
	for i := testFrameSize; i < len(short); i++ {
		short[i] = 5000
	}

	if !HasSpeech(short, captureConfig()) {
		t.Error("Expected loud partial tail frame to count as speech")
	}
}

func TestHasSpeech_NilConfigUsesDefaults(t *testing.T) {
	loud := make([]int16, 1600)
	for i := range loud {
		loud[i] = 5000
	}

	if !HasSpeech(loud, nil) {
		t.Error("Expected loud recording to have speech with default config")
	}
}

func TestFrameSizeForRate(t *testing.T) {
	if got := FrameSizeForRate(16000); got != 320 {
		t.Errorf("Expected frame size 320 at 16kHz, got %d", got)
	}
	if got := FrameSizeForRate(8000); got != 160 {
		t.Errorf("Expected frame size 160 at 8kHz, got %d", got)
	}
	if got := FrameSizeForRate(44100); got != 882 {
		t.Errorf("Expected frame size 882 at 44.1kHz, got %d", got)
	}
	if got := FrameSizeForRate(0); got != 1 {
		t.Errorf("Expected minimum frame size 1, got %d", got)
	}
}
