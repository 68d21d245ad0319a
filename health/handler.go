package health

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Handler serves the monitor's aggregate as JSON. Unhealthy returns 503 so
// load balancers pull the instance; degraded stays 200 because the service is
// still doing useful work.
func Handler(monitor *Monitor, systemName string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := monitor.AggregateHealth(systemName)

		code := http.StatusOK
		if status.IsUnhealthy() {
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		if err := json.NewEncoder(w).Encode(status); err != nil {
			slog.Error("failed to encode health response", "error", err)
		}
	})
}
