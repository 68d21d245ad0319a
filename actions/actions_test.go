package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/eventgate/errors"
)

func webhookAction(url string) Action {
	return Action{Kind: KindWebhook, Webhook: &WebhookConfig{URL: url}}
}

func TestKind_Valid(t *testing.T) {
	for _, k := range []Kind{KindWebhook, KindSlack, KindEmail, KindSMS, KindPush, KindSearch, KindCache} {
		assert.True(t, k.Valid(), string(k))
	}
	assert.False(t, Kind("teleport").Valid())
	assert.False(t, Kind("").Valid())
}

func TestAction_Validate(t *testing.T) {
	tests := []struct {
		name    string
		action  Action
		wantErr bool
	}{
		{"webhook with url", webhookAction("https://example.com/hook"), false},
		{"webhook with env", Action{Kind: KindWebhook, Webhook: &WebhookConfig{URLEnv: "HOOK_URL"}}, false},
		{"webhook without target", Action{Kind: KindWebhook, Webhook: &WebhookConfig{}}, true},
		{"webhook without config", Action{Kind: KindWebhook}, true},
		{"slack with url", Action{Kind: KindSlack, Slack: &SlackConfig{WebhookURL: "https://hooks.slack.com/x"}}, false},
		{"slack without target", Action{Kind: KindSlack, Slack: &SlackConfig{Channel: "#ops"}}, true},
		{"email complete", Action{Kind: KindEmail, Email: &EmailConfig{To: "a@b.c", Subject: "s", BodyTemplate: "b"}}, false},
		{"email without subject", Action{Kind: KindEmail, Email: &EmailConfig{To: "a@b.c", BodyTemplate: "b"}}, true},
		{"email without body", Action{Kind: KindEmail, Email: &EmailConfig{To: "a@b.c", Subject: "s"}}, true},
		{"sms complete", Action{Kind: KindSMS, SMS: &SMSConfig{Phone: "+123", MessageTemplate: "m"}}, false},
		{"sms without message", Action{Kind: KindSMS, SMS: &SMSConfig{Phone: "+123"}}, true},
		{"push complete", Action{Kind: KindPush, Push: &PushConfig{DeviceToken: "tok"}}, false},
		{"push without token", Action{Kind: KindPush, Push: &PushConfig{}}, true},
		{"search complete", Action{Kind: KindSearch, Search: &SearchConfig{Index: "orders"}}, false},
		{"search without index", Action{Kind: KindSearch, Search: &SearchConfig{}}, true},
		{"cache invalidate", Action{Kind: KindCache, Cache: &CacheConfig{KeyPattern: "order:*", Operation: "invalidate"}}, false},
		{"cache refresh", Action{Kind: KindCache, Cache: &CacheConfig{KeyPattern: "order:*", Operation: "refresh"}}, false},
		{"cache bad operation", Action{Kind: KindCache, Cache: &CacheConfig{KeyPattern: "order:*", Operation: "purge"}}, true},
		{"unknown kind", Action{Kind: Kind("teleport")}, true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := test.action.Validate()
			if test.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsInvalid(err), "validation failures must be invalid-classified")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAction_UnmarshalJSON(t *testing.T) {
	raw := `{"type":"webhook","webhook":{"url":"https://example.com/hook","headers":{"X-Key":"v"}}}`

	var a Action
	require.NoError(t, json.Unmarshal([]byte(raw), &a))
	assert.Equal(t, KindWebhook, a.Kind)
	require.NotNil(t, a.Webhook)
	assert.Equal(t, "https://example.com/hook", a.Webhook.URL)
	assert.Equal(t, "v", a.Webhook.Headers["X-Key"])

	err := json.Unmarshal([]byte(`{"type":"teleport"}`), &a)
	assert.Error(t, err, "unknown kinds are rejected at decode time")
}

func TestWebhookExecutor_Success(t *testing.T) {
	var got atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got.Store(map[string]string{
			"body":        string(body),
			"contentType": r.Header.Get("Content-Type"),
			"custom":      r.Header.Get("X-Custom"),
		})
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	exec := NewWebhookExecutor(time.Second)
	action := Action{Kind: KindWebhook, Webhook: &WebhookConfig{
		URL:     server.URL,
		Headers: map[string]string{"X-Custom": "yes"},
	}}

	err := exec.Execute(context.Background(), action, []byte(`{"id":"evt-1"}`))
	require.NoError(t, err)

	received := got.Load().(map[string]string)
	assert.JSONEq(t, `{"id":"evt-1"}`, received["body"])
	assert.Equal(t, "application/json", received["contentType"])
	assert.Equal(t, "yes", received["custom"])
}

func TestWebhookExecutor_BodyTemplate(t *testing.T) {
	var got atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got.Store(string(body))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	exec := NewWebhookExecutor(time.Second)
	action := Action{Kind: KindWebhook, Webhook: &WebhookConfig{
		URL:          server.URL,
		BodyTemplate: `{"wrapped":{{data}}}`,
	}}

	require.NoError(t, exec.Execute(context.Background(), action, []byte(`{"id":"evt-1"}`)))
	assert.JSONEq(t, `{"wrapped":{"id":"evt-1"}}`, got.Load().(string))
}

func TestWebhookExecutor_StatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
		invalid   bool
	}{
		{http.StatusOK, false, false},
		{http.StatusNoContent, false, false},
		{http.StatusBadRequest, false, true},
		{http.StatusNotFound, false, true},
		{http.StatusTooManyRequests, true, false},
		{http.StatusInternalServerError, true, false},
		{http.StatusBadGateway, true, false},
	}

	for _, test := range tests {
		t.Run(fmt.Sprintf("status_%d", test.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(test.status)
			}))
			defer server.Close()

			err := NewWebhookExecutor(time.Second).Execute(
				context.Background(), webhookAction(server.URL), []byte(`{}`))

			switch {
			case test.transient:
				require.Error(t, err)
				assert.True(t, errors.IsTransient(err))
			case test.invalid:
				require.Error(t, err)
				assert.True(t, errors.IsInvalid(err))
			default:
				assert.NoError(t, err)
			}
		})
	}
}

func TestWebhookExecutor_URLFromEnv(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	t.Setenv("TEST_HOOK_URL", server.URL)
	action := Action{Kind: KindWebhook, Webhook: &WebhookConfig{URLEnv: "TEST_HOOK_URL"}}
	assert.NoError(t, NewWebhookExecutor(time.Second).Execute(context.Background(), action, []byte(`{}`)))

	missing := Action{Kind: KindWebhook, Webhook: &WebhookConfig{URLEnv: "TEST_HOOK_URL_MISSING"}}
	err := NewWebhookExecutor(time.Second).Execute(context.Background(), missing, []byte(`{}`))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestWebhookExecutor_ConnectionRefusedIsTransient(t *testing.T) {
	err := NewWebhookExecutor(time.Second).Execute(
		context.Background(), webhookAction("http://127.0.0.1:1/hook"), []byte(`{}`))
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}

func TestSlackExecutor_SendsMessage(t *testing.T) {
	var got atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg slackMessage
		_ = json.NewDecoder(r.Body).Decode(&msg)
		got.Store(msg)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	exec := NewSlackExecutor(time.Second)
	action := Action{Kind: KindSlack, Slack: &SlackConfig{
		WebhookURL:      server.URL,
		Channel:         "#ops",
		MessageTemplate: "event received: {{data}}",
	}}

	require.NoError(t, exec.Execute(context.Background(), action, []byte(`{"id":"evt-1"}`)))

	msg := got.Load().(slackMessage)
	assert.Equal(t, `event received: {"id":"evt-1"}`, msg.Text)
	assert.Equal(t, "#ops", msg.Channel)
}

func TestRegistry_Dispatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	reg := NewRegistry()
	require.NoError(t, reg.Register(NewWebhookExecutor(time.Second)))
	require.NoError(t, reg.Register(NewSlackExecutor(time.Second)))

	assert.NoError(t, reg.Execute(context.Background(), webhookAction(server.URL), []byte(`{}`)))
	assert.ElementsMatch(t, []Kind{KindWebhook, KindSlack}, reg.Kinds())
}

func TestRegistry_DuplicateRegistration(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(NewWebhookExecutor(time.Second)))
	assert.Error(t, reg.Register(NewWebhookExecutor(time.Second)))
}

func TestRegistry_MissingExecutorIsInvalid(t *testing.T) {
	reg := NewRegistry()
	err := reg.Execute(context.Background(),
		Action{Kind: KindEmail, Email: &EmailConfig{To: "a@b.c", Subject: "s", BodyTemplate: "b"}},
		[]byte(`{}`))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err), "missing executors must dead-letter, not retry")
}

func TestRegistry_ValidatesBeforeDispatch(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(NewWebhookExecutor(time.Second)))

	err := reg.Execute(context.Background(), Action{Kind: KindWebhook, Webhook: &WebhookConfig{}}, []byte(`{}`))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}
