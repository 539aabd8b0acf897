package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error {
	return f(ctx)
}

func TestHealthHandler(t *testing.T) {
	healthy := pingerFunc(func(context.Context) error { return nil })
	failing := pingerFunc(func(context.Context) error { return errors.New("down") })

	tests := []struct {
		name       string
		checks     map[string]Pinger
		wantStatus string
		wantDeps   map[string]any
	}{
		{"no dependencies", nil, "ok", nil},
		{"all healthy", map[string]Pinger{"redis": healthy}, "ok", map[string]any{"redis": "ok"}},
		{"one failing", map[string]Pinger{"redis": healthy, "database": failing}, "degraded", map[string]any{"redis": "ok", "database": "unavailable"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			NewHealthHandler(tt.checks, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			require.Equal(t, http.StatusOK, rec.Code)
			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantStatus, body["status"])
			if tt.wantDeps == nil {
				assert.NotContains(t, body, "dependencies")
				return
			}
			assert.Equal(t, tt.wantDeps, body["dependencies"])
		})
	}
}

func TestHealthHandler_Gauges(t *testing.T) {
	dropped := int64(0)
	h := NewHealthHandler(nil, map[string]Gauge{
		"sseClients":    func() int64 { return 2 },
		"eventsDropped": func() int64 { return dropped },
	})

	read := func() map[string]any {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "ok", body["status"])
		return body["gauges"].(map[string]any)
	}

	assert.Equal(t, map[string]any{"sseClients": float64(2), "eventsDropped": float64(0)}, read())

	dropped = 7
	assert.Equal(t, float64(7), read()["eventsDropped"])
}
