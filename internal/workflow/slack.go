package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/briefroom/scribe-gateway/internal/config"
	"github.com/briefroom/scribe-gateway/internal/orchestrator"
)

// Block Kit fragments, limited to the section/mrkdwn subset the
// notification uses.
type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type slackBlock struct {
	Type string    `json:"type"`
	Text slackText `json:"text"`
}

type slackPayload struct {
	Blocks []slackBlock `json:"blocks"`
}

// SlackDispatcher posts meeting outcomes to a Slack incoming webhook.
type SlackDispatcher struct {
	webhookURL string
	client     *http.Client
}

func NewSlackDispatcher(cfg *config.Config) *SlackDispatcher {
	return &SlackDispatcher{
		webhookURL: cfg.SlackWebhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *SlackDispatcher) Name() string { return "slack" }

func (d *SlackDispatcher) Dispatch(ctx context.Context, outcome orchestrator.Outcome) error {
	blocks := []slackBlock{{
		Type: "section",
		Text: slackText{Type: "mrkdwn", Text: fmt.Sprintf("*Meeting Summary*\n%s", outcome.Summary)},
	}}

	if len(outcome.Actions) > 0 {
		lines := make([]string, 0, len(outcome.Actions))
		for _, item := range outcome.Actions {
			task := item.Task
			if task == "" {
				task = "Task"
			}
			assignee := item.Assignee
			if assignee == "" {
				assignee = "Unassigned"
			}
			due := item.Due
			if due == "" {
				due = "TBD"
			}
			lines = append(lines, fmt.Sprintf("• *%s* — %s (due %s)", task, assignee, due))
		}
		blocks = append(blocks, slackBlock{
			Type: "section",
			Text: slackText{Type: "mrkdwn", Text: "*Action Items*\n" + strings.Join(lines, "\n")},
		})
	}

	b, err := json.Marshal(slackPayload{Blocks: blocks})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack notification failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}
	return nil
}
