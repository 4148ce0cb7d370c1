// ABOUTME: Contract tests for the HTTP API surface to detect breaking route changes.
// ABOUTME: Validates that every documented method and path is still registered.

package contract

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/2389/coven-swarm/internal/api"
	"github.com/2389/coven-swarm/internal/auth"
)

// expectedRoutes maps a request the CLI and dashboards send to the pattern
// that must serve it.
var expectedRoutes = []struct {
	method  string
	path    string
	pattern string
}{
	{http.MethodGet, "/health", "GET /health"},
	{http.MethodGet, "/health/ready", "GET /health/ready"},
	{http.MethodGet, "/api/agents", "GET /api/agents"},
	{http.MethodPost, "/api/agents", "POST /api/agents"},
	{http.MethodPost, "/api/agents/batch", "POST /api/agents/batch"},
	{http.MethodGet, "/api/agents/a1", "GET /api/agents/{id}"},
	{http.MethodDelete, "/api/agents/a1", "DELETE /api/agents/{id}"},
	{http.MethodPost, "/api/agents/a1/messages", "POST /api/agents/{id}/messages"},
	{http.MethodGet, "/api/agents/a1/history", "GET /api/agents/{id}/history"},
	{http.MethodPost, "/api/broadcast", "POST /api/broadcast"},
	{http.MethodGet, "/api/status", "GET /api/status"},
	{http.MethodGet, "/api/events", "GET /api/events"},
}

func TestRouteSurface(t *testing.T) {
	mux := http.NewServeMux()
	api.New(api.Params{}).Register(mux, auth.AnonymousMiddleware())

	for _, rt := range expectedRoutes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			req := httptest.NewRequest(rt.method, rt.path, nil)
			_, pattern := mux.Handler(req)
			assert.Equal(t, rt.pattern, pattern)
		})
	}
}

func TestBatchRouteWinsOverAgentID(t *testing.T) {
	mux := http.NewServeMux()
	api.New(api.Params{}).Register(mux, auth.AnonymousMiddleware())

	// GET on the batch path is an agent lookup, POST is a batch create.
	_, pattern := mux.Handler(httptest.NewRequest(http.MethodGet, "/api/agents/batch", nil))
	assert.Equal(t, "GET /api/agents/{id}", pattern)
}
