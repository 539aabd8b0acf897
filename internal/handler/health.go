package handler

import (
	"context"
	"net/http"
	"time"
)

// Pinger reports whether an optional backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Gauge reads a live counter such as subscriber or drop counts.
type Gauge func() int64

type HealthHandler struct {
	checks map[string]Pinger
	gauges map[string]Gauge
}

// NewHealthHandler reports process liveness plus the state of each
// configured dependency. A failing dependency degrades the status but the
// relay itself keeps serving.
func NewHealthHandler(checks map[string]Pinger, gauges map[string]Gauge) *HealthHandler {
	return &HealthHandler{checks: checks, gauges: gauges}
}

// GET /health
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	deps := make(map[string]string, len(h.checks))

	for name, check := range h.checks {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := check.Ping(ctx)
		cancel()
		if err != nil {
			deps[name] = "unavailable"
			status = "degraded"
			continue
		}
		deps[name] = "ok"
	}

	resp := map[string]any{
		"status":    status,
		"timestamp": time.Now().UnixMilli(),
	}
	if len(deps) > 0 {
		resp["dependencies"] = deps
	}
	if len(h.gauges) > 0 {
		values := make(map[string]int64, len(h.gauges))
		for name, read := range h.gauges {
			values[name] = read()
		}
		resp["gauges"] = values
	}
	writeJSON(w, http.StatusOK, resp)
}
