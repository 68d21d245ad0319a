package health

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitor_UpdateAndGet(t *testing.T) {
	monitor := NewMonitor()

	monitor.UpdateHealthy("nats", "connected")
	monitor.UpdateDegraded("jobs", "backlog growing")

	status, ok := monitor.Get("nats")
	require.True(t, ok)
	assert.True(t, status.IsHealthy())
	assert.Equal(t, "nats", status.Component)
	assert.NotZero(t, status.Timestamp)

	_, ok = monitor.Get("unknown")
	assert.False(t, ok)
	assert.Equal(t, 2, monitor.Count())
}

func TestMonitor_UpdateForcesComponentName(t *testing.T) {
	monitor := NewMonitor()
	monitor.Update("jobs", NewHealthy("mislabeled", "ok"))

	status, ok := monitor.Get("jobs")
	require.True(t, ok)
	assert.Equal(t, "jobs", status.Component)
}

func TestMonitor_UpdateReplaces(t *testing.T) {
	monitor := NewMonitor()
	monitor.UpdateHealthy("nats", "connected")
	monitor.UpdateUnhealthy("nats", "disconnected")

	status, _ := monitor.Get("nats")
	assert.True(t, status.IsUnhealthy())
	assert.Equal(t, 1, monitor.Count())
}

func TestMonitor_Remove(t *testing.T) {
	monitor := NewMonitor()
	monitor.UpdateHealthy("nats", "connected")
	monitor.Remove("nats")

	_, ok := monitor.Get("nats")
	assert.False(t, ok)
	assert.Equal(t, 0, monitor.Count())
}

func TestMonitor_GetAllReturnsCopy(t *testing.T) {
	monitor := NewMonitor()
	monitor.UpdateHealthy("nats", "connected")

	all := monitor.GetAll()
	delete(all, "nats")

	_, ok := monitor.Get("nats")
	assert.True(t, ok)
}

func TestMonitor_AggregateHealth(t *testing.T) {
	monitor := NewMonitor()

	agg := monitor.AggregateHealth("eventgate")
	assert.True(t, agg.IsHealthy(), "empty monitor aggregates healthy")

	monitor.UpdateHealthy("nats", "connected")
	monitor.UpdateHealthy("jobs", "draining")
	agg = monitor.AggregateHealth("eventgate")
	assert.True(t, agg.IsHealthy())
	assert.Equal(t, "eventgate", agg.Component)

	monitor.UpdateDegraded("jobs", "backlog growing")
	assert.True(t, monitor.AggregateHealth("eventgate").IsDegraded())

	monitor.UpdateUnhealthy("nats", "disconnected")
	assert.True(t, monitor.AggregateHealth("eventgate").IsUnhealthy())
}

func TestMonitor_AggregateOrdersSubStatuses(t *testing.T) {
	monitor := NewMonitor()
	monitor.UpdateHealthy("jobs", "ok")
	monitor.UpdateHealthy("breakers", "ok")
	monitor.UpdateHealthy("nats", "ok")

	agg := monitor.AggregateHealth("eventgate")
	require.Len(t, agg.SubStatuses, 3)
	assert.Equal(t, "breakers", agg.SubStatuses[0].Component)
	assert.Equal(t, "jobs", agg.SubStatuses[1].Component)
	assert.Equal(t, "nats", agg.SubStatuses[2].Component)
}

func TestMonitor_ConcurrentAccess(t *testing.T) {
	monitor := NewMonitor()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				monitor.UpdateHealthy(fmt.Sprintf("component-%d", n), "ok")
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				monitor.AggregateHealth("eventgate")
				monitor.GetAll()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, monitor.Count())
}

func TestAggregate_Rules(t *testing.T) {
	healthy := NewHealthy("a", "ok")
	degraded := NewDegraded("b", "slow")
	unhealthy := NewUnhealthy("c", "down")

	assert.True(t, Aggregate("sys", nil).IsHealthy())
	assert.True(t, Aggregate("sys", []Status{healthy, healthy}).IsHealthy())
	assert.True(t, Aggregate("sys", []Status{healthy, degraded}).IsDegraded())
	assert.True(t, Aggregate("sys", []Status{degraded, unhealthy}).IsUnhealthy())

	agg := Aggregate("sys", []Status{healthy, degraded})
	assert.Len(t, agg.SubStatuses, 2)
}
