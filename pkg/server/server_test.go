package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/AdarCohen1/MathStARz/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ok(context.Context) error { return nil }

func TestHealth(t *testing.T) {
	s := New(":0", logger.NewNop())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestReady(t *testing.T) {
	down := func(context.Context) error { return errors.New("no reachable servers") }

	tests := []struct {
		name       string
		checks     []Check
		wantCode   int
		wantChecks map[string]string
	}{
		{name: "no checks", wantCode: http.StatusOK},
		{
			name:       "mongodb reachable",
			checks:     []Check{{Name: "mongodb", Run: ok}},
			wantCode:   http.StatusOK,
			wantChecks: map[string]string{"mongodb": "ok"},
		},
		{
			name:       "redis down",
			checks:     []Check{{Name: "mongodb", Run: ok}, {Name: "redis", Run: down}},
			wantCode:   http.StatusServiceUnavailable,
			wantChecks: map[string]string{"mongodb": "ok", "redis": "no reachable servers"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(":0", logger.NewNop(), tt.checks...)

			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			var report Report
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
			assert.Equal(t, tt.wantChecks, report.Checks)
		})
	}
}

func TestCheckGetsDeadline(t *testing.T) {
	s := New(":0", logger.NewNop(), Check{Name: "postgres", Run: func(ctx context.Context) error {
		_, has := ctx.Deadline()
		if !has {
			return errors.New("no deadline")
		}
		return nil
	}})

	assert.Equal(t, "ready", s.evaluate(context.Background()).Status)
}

func TestMetricsEndpoint(t *testing.T) {
	s := New(":0", logger.NewNop())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestWrongMethod(t *testing.T) {
	s := New(":0", logger.NewNop())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
