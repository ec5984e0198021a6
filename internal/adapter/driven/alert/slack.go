// Package alert provides the transports that deliver failure alerts outside
// the process: Slack incoming webhooks, SMTP email and Google Cloud Pub/Sub.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ericfisherdev/buildpulse/internal/domain/model"
	"github.com/ericfisherdev/buildpulse/internal/domain/port/driven"
)

var _ driven.AlertTransport = (*SlackTransport)(nil)

// SlackTransport posts alerts to a Slack incoming webhook.
type SlackTransport struct {
	webhookURL string
	client     *http.Client
}

// NewSlackTransport creates a SlackTransport. A nil client uses http.DefaultClient;
// the per-call deadline comes from the context.
func NewSlackTransport(webhookURL string, client *http.Client) *SlackTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &SlackTransport{webhookURL: webhookURL, client: client}
}

type slackMessage struct {
	Text   string       `json:"text"`
	Blocks []slackBlock `json:"blocks"`
}

type slackBlock struct {
	Type string     `json:"type"`
	Text *slackText `json:"text,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Name implements driven.AlertTransport.
func (s *SlackTransport) Name() string { return "slack" }

// Deliver implements driven.AlertTransport.
func (s *SlackTransport) Deliver(ctx context.Context, a model.Alert) error {
	body, err := json.Marshal(buildSlackMessage(a))
	if err != nil {
		return fmt.Errorf("marshal slack message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post to slack webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}

	return nil
}

func buildSlackMessage(a model.Alert) slackMessage {
	emoji := ":red_circle:"
	if a.Kind == model.AlertKindRecovery {
		emoji = ":large_green_circle:"
	}

	return slackMessage{
		Text: a.Title,
		Blocks: []slackBlock{
			{
				Type: "header",
				Text: &slackText{Type: "plain_text", Text: a.Title},
			},
			{
				Type: "section",
				Text: &slackText{Type: "mrkdwn", Text: emoji + " " + toMrkdwn(a.Body)},
			},
		},
	}
}

// toMrkdwn rewrites CommonMark bold into Slack's single-asterisk form and drops
// the hard-break trailing spaces.
func toMrkdwn(md string) string {
	md = strings.ReplaceAll(md, "**", "*")
	return strings.ReplaceAll(md, "  \n", "\n")
}
