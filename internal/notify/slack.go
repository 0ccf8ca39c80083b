package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"sanadbot/internal/core"
)

// Slack delivers notifications via an incoming webhook.
type Slack struct {
	webhookURL string
	client     *http.Client
	clock      core.Clock
}

// NewSlack builds the channel. An empty webhook makes Send a no-op.
func NewSlack(webhookURL string, clock core.Clock) *Slack {
	return &Slack{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 5 * time.Second},
		clock:      clock,
	}
}

func (s *Slack) Name() string { return "slack" }

func (s *Slack) Send(ctx context.Context, level core.NotifyLevel, title, message string) error {
	if s.webhookURL == "" {
		return nil
	}

	color := "#36a64f"
	switch level {
	case core.NotifyL2:
		color = "#ffcc00"
	case core.NotifyL3:
		color = "#ff0000"
	case core.NotifyL4:
		color = "#8b0000"
	}

	payload := map[string]interface{}{
		"attachments": []map[string]interface{}{
			{
				"color":   color,
				"pretext": fmt.Sprintf("[%s] %s", level.String(), title),
				"text":    message,
				"ts":      s.clock.Now().Unix(),
				"footer":  "sanadbot",
			},
		},
	}

	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewBuffer(jsonBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack webhook failed with status: %d", resp.StatusCode)
	}
	return nil
}
