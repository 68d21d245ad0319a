package natsclient

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_Defaults(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	assert.Equal(t, "nats://localhost:4222", c.URL())
	assert.Equal(t, StatusDisconnected, c.Status())
	assert.False(t, c.IsHealthy())
	assert.Equal(t, -1, c.maxReconnects)
	assert.Equal(t, 2*time.Second, c.reconnectWait)
	assert.Equal(t, int32(5), c.circuitThreshold)
}

func TestNewClient_Options(t *testing.T) {
	c, err := NewClient("nats://localhost:4222",
		WithName("eventgate"),
		WithMaxReconnects(10),
		WithReconnectWait(time.Second),
		WithCredentials("user", "pass"),
		WithCircuitThreshold(3),
		WithMaxBackoff(10*time.Second),
	)
	require.NoError(t, err)

	assert.Equal(t, "eventgate", c.name)
	assert.Equal(t, 10, c.maxReconnects)
	assert.Equal(t, time.Second, c.reconnectWait)
	assert.Equal(t, "user", c.username)
	assert.Equal(t, int32(3), c.circuitThreshold)
	assert.Equal(t, 10*time.Second, c.maxBackoff)
}

func TestNewClient_InvalidOptions(t *testing.T) {
	cases := []struct {
		name string
		opt  ClientOption
	}{
		{"zero reconnect wait", WithReconnectWait(0)},
		{"zero ping interval", WithPingInterval(0)},
		{"zero timeout", WithTimeout(0)},
		{"zero drain timeout", WithDrainTimeout(0)},
		{"empty credentials", WithCredentials("", "")},
		{"empty token", WithToken("")},
		{"nil logger", WithLogger(nil)},
		{"zero circuit threshold", WithCircuitThreshold(0)},
		{"zero max backoff", WithMaxBackoff(0)},
		{"zero metrics interval", WithMetricsInterval(0)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewClient("nats://localhost:4222", tc.opt)
			assert.Error(t, err)
		})
	}
}

func TestConnectionStatus_String(t *testing.T) {
	assert.Equal(t, "disconnected", StatusDisconnected.String())
	assert.Equal(t, "connecting", StatusConnecting.String())
	assert.Equal(t, "connected", StatusConnected.String())
	assert.Equal(t, "reconnecting", StatusReconnecting.String())
	assert.Equal(t, "circuit_open", StatusCircuitOpen.String())
	assert.Equal(t, "unknown", ConnectionStatus(99).String())
}

func TestClient_OperationsRequireConnection(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	_, err = c.checkReady()
	assert.ErrorIs(t, err, ErrNotConnected)

	err = c.PublishToStream(context.Background(), "events.test", []byte("{}"))
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestClient_CircuitOpensAfterThreshold(t *testing.T) {
	c, err := NewClient("nats://localhost:4222", WithCircuitThreshold(3))
	require.NoError(t, err)

	c.recordFailure()
	c.recordFailure()
	assert.NotEqual(t, StatusCircuitOpen, c.Status())

	c.recordFailure()
	assert.Equal(t, StatusCircuitOpen, c.Status())

	// Every operation fails fast while the circuit is open
	_, err = c.checkReady()
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.ErrorIs(t, c.Connect(context.Background()), ErrCircuitOpen)
}

func TestClient_CircuitResetsOnSuccess(t *testing.T) {
	c, err := NewClient("nats://localhost:4222", WithCircuitThreshold(3))
	require.NoError(t, err)

	c.recordFailure()
	c.recordFailure()
	c.resetCircuit()

	status := c.GetStatus()
	assert.Equal(t, int32(0), status.FailureCount)
	assert.True(t, status.LastFailureTime.IsZero())

	// The failure streak starts over after a success
	c.recordFailure()
	c.recordFailure()
	assert.NotEqual(t, StatusCircuitOpen, c.Status())
}

func TestClient_GetStatusTracksFailures(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	before := time.Now()
	c.recordFailure()
	c.recordFailure()

	status := c.GetStatus()
	assert.Equal(t, int32(2), status.FailureCount)
	assert.False(t, status.LastFailureTime.Before(before))
	assert.Equal(t, int32(0), status.Reconnects)
}

func TestClient_WaitForConnectionTimesOut(t *testing.T) {
	c, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err = c.WaitForConnection(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_CloseIsIdempotent(t *testing.T) {
	c, err := NewClient("nats://localhost:4222", WithToken("secret"))
	require.NoError(t, err)

	require.NoError(t, c.Close(context.Background()))
	require.NoError(t, c.Close(context.Background()))

	assert.Equal(t, StatusDisconnected, c.Status())
	assert.Empty(t, c.token, "credentials are cleared on close")
}

func TestIsBucketExistsError(t *testing.T) {
	assert.False(t, isBucketExistsError(nil))
	assert.False(t, isBucketExistsError(fmt.Errorf("timeout")))
	assert.True(t, isBucketExistsError(fmt.Errorf("bucket name already in use")))
	assert.True(t, isBucketExistsError(fmt.Errorf("stream name already in use")))
}
