package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/c360/eventgate/errors"
)

// SlackExecutor posts messages to Slack incoming webhooks
type SlackExecutor struct {
	client *http.Client
}

// NewSlackExecutor creates an executor with the given request timeout
func NewSlackExecutor(timeout time.Duration) *SlackExecutor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SlackExecutor{
		client: &http.Client{Timeout: timeout},
	}
}

// Kind returns KindSlack
func (e *SlackExecutor) Kind() Kind {
	return KindSlack
}

// slackMessage is the incoming-webhook request body
type slackMessage struct {
	Text    string `json:"text"`
	Channel string `json:"channel,omitempty"`
}

// Execute sends the rendered message to the configured webhook. Slack's
// incoming webhooks answer 200 "ok" on success.
func (e *SlackExecutor) Execute(ctx context.Context, action Action, payload []byte) error {
	cfg := action.Slack
	if cfg == nil {
		return errors.WrapInvalid(errors.ErrInvalidAction, "SlackExecutor", "Execute",
			"slack action has no configuration")
	}

	target, err := resolveURL(cfg.WebhookURL, cfg.WebhookURLEnv)
	if err != nil {
		return errors.WrapInvalid(err, "SlackExecutor", "Execute",
			"slack webhook url could not be resolved")
	}

	text := string(payload)
	if cfg.MessageTemplate != "" {
		text = renderTemplate(cfg.MessageTemplate, payload)
	}

	body, err := json.Marshal(slackMessage{Text: text, Channel: cfg.Channel})
	if err != nil {
		return errors.WrapInvalid(err, "SlackExecutor", "Execute",
			"failed to encode slack message")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return errors.WrapInvalid(err, "SlackExecutor", "Execute",
			"failed to build slack request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return errors.WrapTransient(err, "SlackExecutor", "Execute",
			fmt.Sprintf("slack POST to %s failed", target))
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	return classifyStatus(resp.StatusCode, "SlackExecutor", target)
}
