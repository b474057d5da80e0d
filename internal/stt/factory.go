package stt

import (
	"fmt"
	"log"
	"strings"

	"github.com/briefroom/scribe-gateway/internal/config"
)

// NewEngine creates the transcription engine selected by STT_ENGINE
func NewEngine(cfg *config.Config) (Engine, error) {
	name := strings.ToLower(cfg.STTEngine)

	switch name {
	case "deepgram":
		if cfg.DeepgramAPIKey == "" {
			return nil, fmt.Errorf("DEEPGRAM_API_KEY environment variable is not set")
		}
		log.Printf("[STT Factory] Creating Deepgram engine (model: %s, language: %s)", cfg.DeepgramModel, cfg.DeepgramLanguage)
		return NewDeepgramEngine(cfg), nil

	case "google":
		if cfg.GoogleProjectID == "" {
			return nil, fmt.Errorf("GOOGLE_PROJECT_ID environment variable is not set")
		}
		log.Printf("[STT Factory] Creating Google Cloud Speech engine (project: %s, location: %s)", cfg.GoogleProjectID, cfg.GoogleSpeechLocation)
		return NewGoogleEngine(cfg), nil

	default:
		return nil, fmt.Errorf("unsupported STT engine: %s. Supported: deepgram, google", cfg.STTEngine)
	}
}
