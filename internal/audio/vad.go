package audio

// VADConfig holds configuration for voice activity detection
type VADConfig struct {
	EnergyThreshold float64 // RMS energy above which a frame counts as speech
	SilenceFrames   int     // Consecutive quiet frames that mark the end of speech
	FrameSize       int     // Samples per frame; FrameSizeForRate gives 20ms frames
}

// DefaultVADConfig returns a default VAD configuration tuned for
// 16 kHz capture audio
func DefaultVADConfig() *VADConfig {
	return &VADConfig{
		EnergyThreshold: 500.0,
		SilenceFrames:   10,  // 200ms of silence (10 frames * 20ms)
		FrameSize:       320, // 20ms at 16kHz
	}
}

// VADDetector tracks speech activity across consecutive frames
type VADDetector struct {
	config     *VADConfig
	silenceRun int
	isSpeaking bool
}

// NewVADDetector creates a new VAD detector
func NewVADDetector(config *VADConfig) *VADDetector {
	if config == nil {
		config = DefaultVADConfig()
	}
	return &VADDetector{config: config}
}

// ProcessFrame classifies one frame and returns
// (isSpeaking, speechStarted, speechEnded)
func (v *VADDetector) ProcessFrame(samples []int16) (bool, bool, bool) {
	frameHasSpeech := CalculateRMS(samples) > v.config.EnergyThreshold

	var speechStarted, speechEnded bool

	if frameHasSpeech {
		v.silenceRun = 0
		if !v.isSpeaking {
			speechStarted = true
			v.isSpeaking = true
		}
	} else {
		v.silenceRun++
		if v.isSpeaking && v.silenceRun >= v.config.SilenceFrames {
			speechEnded = true
			v.isSpeaking = false
			v.silenceRun = 0
		}
	}

	return v.isSpeaking, speechStarted, speechEnded
}

// Reset clears the detector state
func (v *VADDetector) Reset() {
	v.silenceRun = 0
	v.isSpeaking = false
}

// IsSpeaking returns whether speech is currently detected
func (v *VADDetector) IsSpeaking() bool {
	return v.isSpeaking
}

// FrameSizeForRate returns the samples per 20ms VAD frame at a sample rate
func FrameSizeForRate(sampleRate int) int {
	size := sampleRate / 50
	if size < 1 {
		size = 1
	}
	return size
}

// HasSpeech scans a full recording frame by frame and reports whether any
// frame crosses the energy threshold. Whole-recording RMS would miss a
// single utterance inside a long quiet capture, so frames are checked
// individually.
func HasSpeech(samples []int16, config *VADConfig) bool {
	if len(samples) == 0 {
		return false
	}
	if config == nil {
		config = DefaultVADConfig()
	}

	frameSize := config.FrameSize
	if frameSize < 1 {
		frameSize = DefaultVADConfig().FrameSize
	}

	detector := NewVADDetector(config)
	for start := 0; start < len(samples); start += frameSize {
		end := start + frameSize
		if end > len(samples) {
			end = len(samples)
		}
		if _, started, _ := detector.ProcessFrame(samples[start:end]); started {
			return true
		}
	}
	return false
}
