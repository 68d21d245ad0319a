package config

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/eventgate/actions"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "eventgate.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "eventgate", cfg.Service.Name)
	assert.Equal(t, []string{"nats://localhost:4222"}, cfg.NATS.URLs)
	assert.Equal(t, DedupBackendNATS, cfg.Dedup.Backend)
	assert.Equal(t, ":8080", cfg.Gateway.Addr)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"service": {"name": "eventgate-test", "log_level": "debug"},
		"nats": {"urls": ["nats://nats-1:4222", "nats://nats-2:4222"]},
		"gateway": {"addr": ":9443", "init_timeout": "5s"},
		"dedup": {"backend": "memory", "ttl": "2m"},
		"queue": {"max_attempts": 5}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "eventgate-test", cfg.Service.Name)
	assert.Equal(t, slog.LevelDebug, cfg.Service.SlogLevel())
	assert.Equal(t, "nats://nats-1:4222,nats://nats-2:4222", cfg.NATS.URL())
	assert.Equal(t, ":9443", cfg.Gateway.Addr)
	assert.Equal(t, 5*time.Second, cfg.GatewayConfig().InitTimeout)
	assert.Equal(t, DedupBackendMemory, cfg.Dedup.Backend)
	assert.Equal(t, 2*time.Minute, cfg.Dedup.TTL.Std())
	assert.Equal(t, 5, cfg.QueueConfig().MaxAttempts)

	// Untouched sections keep their defaults
	assert.Equal(t, "EVENTS", cfg.Ingest.Stream)
	assert.Equal(t, 3, cfg.Recovery.MaxRetries)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `{"nats": {"urls": ["nats://from-file:4222"]}}`)
	t.Setenv("EVENTGATE_NATS_URLS", "nats://from-env:4222")
	t.Setenv("EVENTGATE_GATEWAY_ADDR", ":7070")
	t.Setenv("EVENTGATE_DEDUP_BACKEND", "memory")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"nats://from-env:4222"}, cfg.NATS.URLs)
	assert.Equal(t, ":7070", cfg.Gateway.Addr)
	assert.Equal(t, DedupBackendMemory, cfg.Dedup.Backend)
}

func TestLoad_Bindings(t *testing.T) {
	path := writeConfig(t, `{
		"bindings": [
			{
				"event_type": "orderCreated",
				"action": {"type": "webhook", "webhook": {"url": "https://example.com/hook"}}
			},
			{
				"event_type": "orderCreated",
				"action": {"type": "slack", "slack": {"webhook_url": "https://hooks.slack.com/T/B/x", "channel": "#orders"}}
			}
		]
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Len(t, cfg.Bindings, 2)
	assert.Equal(t, actions.KindWebhook, cfg.Bindings[0].Action.Kind)
	assert.Equal(t, actions.KindSlack, cfg.Bindings[1].Action.Kind)
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"malformed json", `{"service": `},
		{"unknown dedup backend", `{"dedup": {"backend": "redis"}}`},
		{"nats bucket missing", `{"dedup": {"backend": "nats", "bucket": ""}}`},
		{"empty nats urls", `{"nats": {"urls": []}}`},
		{"bad duration", `{"gateway": {"init_timeout": "fast"}}`},
		{"bad gateway path", `{"gateway": {"path": "graphql"}}`},
		{"binding without event type", `{"bindings": [{"event_type": "", "action": {"type": "webhook", "webhook": {"url": "https://x"}}}]}`},
		{"binding with invalid action", `{"bindings": [{"event_type": "e", "action": {"type": "webhook", "webhook": {}}}]}`},
		{"metrics port out of range", `{"metrics": {"enabled": true, "port": 70000, "path": "/metrics"}}`},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			path := writeConfig(t, test.content)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

func TestLoad_RejectsNonJSONPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eventgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateJSONDepth(t *testing.T) {
	assert.NoError(t, validateJSONDepth([]byte(`{"a": {"b": [1, 2, {"c": "}"}]}}`)))

	deep := strings.Repeat("[", 101) + strings.Repeat("]", 101)
	assert.Error(t, validateJSONDepth([]byte(deep)))
	assert.Error(t, validateJSONDepth([]byte(`{"a": }`+"}")))
	assert.Error(t, validateJSONDepth([]byte(`{"a": [1`)))
}

func TestDuration_Roundtrip(t *testing.T) {
	var d Duration
	require.NoError(t, json.Unmarshal([]byte(`"90s"`), &d))
	assert.Equal(t, 90*time.Second, d.Std())

	require.NoError(t, json.Unmarshal([]byte(`1000000000`), &d))
	assert.Equal(t, time.Second, d.Std())

	out, err := json.Marshal(Duration(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, `"1m0s"`, string(out))

	assert.Error(t, json.Unmarshal([]byte(`"soon"`), &d))
}

func TestServiceConfig_SlogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, test := range tests {
		assert.Equal(t, test.want, ServiceConfig{LogLevel: test.level}.SlogLevel())
	}
}
