package actions

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/c360/eventgate/errors"
)

// WebhookExecutor posts event payloads to HTTP endpoints
type WebhookExecutor struct {
	client *http.Client
}

// NewWebhookExecutor creates an executor with the given request timeout
func NewWebhookExecutor(timeout time.Duration) *WebhookExecutor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WebhookExecutor{
		client: &http.Client{Timeout: timeout},
	}
}

// Kind returns KindWebhook
func (e *WebhookExecutor) Kind() Kind {
	return KindWebhook
}

// Execute POSTs the payload (or the rendered body template) to the
// configured URL. 5xx responses and transport failures are transient; 4xx
// responses are invalid and go straight to the dead letter path.
func (e *WebhookExecutor) Execute(ctx context.Context, action Action, payload []byte) error {
	cfg := action.Webhook
	if cfg == nil {
		return errors.WrapInvalid(errors.ErrInvalidAction, "WebhookExecutor", "Execute",
			"webhook action has no configuration")
	}

	target, err := resolveURL(cfg.URL, cfg.URLEnv)
	if err != nil {
		return errors.WrapInvalid(err, "WebhookExecutor", "Execute",
			"webhook url could not be resolved")
	}

	body := payload
	if cfg.BodyTemplate != "" {
		body = []byte(renderTemplate(cfg.BodyTemplate, payload))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return errors.WrapInvalid(err, "WebhookExecutor", "Execute",
			"failed to build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")
	for name, value := range cfg.Headers {
		req.Header.Set(name, value)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return errors.WrapTransient(err, "WebhookExecutor", "Execute",
			fmt.Sprintf("webhook POST to %s failed", target))
	}
	defer func() { _ = resp.Body.Close() }()
	// Drain so the connection can be reused
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	return classifyStatus(resp.StatusCode, "WebhookExecutor", target)
}

// classifyStatus maps an HTTP status to the retry taxonomy
func classifyStatus(status int, component, target string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests || status >= 500:
		return errors.WrapTransient(
			fmt.Errorf("endpoint returned %d", status),
			component, "Execute",
			fmt.Sprintf("%s rejected the request, will retry", target))
	default:
		return errors.WrapInvalid(
			fmt.Errorf("endpoint returned %d", status),
			component, "Execute",
			fmt.Sprintf("%s rejected the request permanently", target))
	}
}

// resolveURL picks the direct URL or reads it from the environment
func resolveURL(direct, envName string) (string, error) {
	target := direct
	if target == "" && envName != "" {
		target = os.Getenv(envName)
		if target == "" {
			return "", fmt.Errorf("environment variable %s is not set", envName)
		}
	}
	if target == "" {
		return "", fmt.Errorf("no url configured")
	}
	if _, err := url.ParseRequestURI(target); err != nil {
		return "", fmt.Errorf("invalid url %q: %w", target, err)
	}
	return target, nil
}

// renderTemplate substitutes the event payload into a body template
func renderTemplate(template string, payload []byte) string {
	out := strings.ReplaceAll(template, "{{data}}", string(payload))
	return strings.ReplaceAll(out, "{{ data }}", string(payload))
}
