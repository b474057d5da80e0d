// Package workflow delivers completed meeting outcomes to downstream
// systems: a Slack webhook and a local JSONL audit log. Extend as needed
// for ticketing or calendar integrations.
package workflow

import (
	"github.com/briefroom/scribe-gateway/internal/config"
	"github.com/briefroom/scribe-gateway/internal/orchestrator"
)

// FromConfig assembles the dispatchers enabled by the environment.
func FromConfig(cfg *config.Config) []orchestrator.Dispatcher {
	var dispatchers []orchestrator.Dispatcher
	if cfg.SlackWebhookURL != "" {
		dispatchers = append(dispatchers, NewSlackDispatcher(cfg))
	}
	if cfg.MeetingLogPath != "" {
		dispatchers = append(dispatchers, NewAuditLog(cfg.MeetingLogPath))
	}
	return dispatchers
}
