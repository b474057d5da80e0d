package audio

import (
	"fmt"
	"math"
)

const bytesPerSample = 2 // 16-bit signed little-endian

// ValidateFrame checks that a binary frame can hold whole 16-bit samples
func ValidateFrame(data []byte) error {
	if len(data)%bytesPerSample != 0 {
		return fmt.Errorf("frame length %d is not 16-bit aligned", len(data))
	}
	return nil
}

// DecodeSamples converts S16LE PCM bytes to samples
func DecodeSamples(pcmData []byte) ([]int16, error) {
	if err := ValidateFrame(pcmData); err != nil {
		return nil, err
	}

	samples := make([]int16, len(pcmData)/bytesPerSample)
	for i := 0; i < len(samples); i++ {
		// Little-endian 16-bit signed integer
		samples[i] = int16(pcmData[i*2]) | int16(pcmData[i*2+1])<<8
	}
	return samples, nil
}

// EncodeSamples converts samples to S16LE PCM bytes
func EncodeSamples(samples []int16) []byte {
	pcmData := make([]byte, len(samples)*bytesPerSample)
	for i, sample := range samples {
		pcmData[i*2] = byte(sample)
		pcmData[i*2+1] = byte(sample >> 8)
	}
	return pcmData
}

// DurationSeconds returns the play time of a PCM byte count at a sample rate
func DurationSeconds(byteLen int64, sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}
	return float64(byteLen) / float64(bytesPerSample) / float64(sampleRate)
}

// MaxBytesForDuration returns the PCM byte bound for a capture duration
func MaxBytesForDuration(seconds, sampleRate int) int64 {
	if seconds <= 0 || sampleRate <= 0 {
		return 0
	}
	return int64(seconds) * int64(sampleRate) * bytesPerSample
}

// NormalizeAudio normalizes audio samples to prevent clipping
func NormalizeAudio(samples []int16, maxAmplitude int16) []int16 {
	if len(samples) == 0 {
		return samples
	}

	// Find maximum amplitude
	maxVal := int16(0)
	for _, sample := range samples {
		abs := sample
		if abs < 0 {
			abs = -abs
		}
		if abs > maxVal {
			maxVal = abs
		}
	}

	// If already within range, return as-is
	if maxVal <= maxAmplitude {
		return samples
	}

	// Normalize
	ratio := float64(maxAmplitude) / float64(maxVal)
	normalized := make([]int16, len(samples))
	for i, sample := range samples {
		normalized[i] = int16(float64(sample) * ratio)
	}

	return normalized
}

// CalculateRMS calculates the root mean square (RMS) of audio samples
// Useful for detecting audio levels and silence
func CalculateRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}

	return math.Sqrt(sum / float64(len(samples)))
}
