// ABOUTME: Tests for the supervisor HTTP API against a real agent manager
// ABOUTME: Covers routing, status mapping, auth roles, history paging and the event stream

package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-swarm/internal/agent"
	"github.com/2389/coven-swarm/internal/auth"
	"github.com/2389/coven-swarm/internal/events"
	"github.com/2389/coven-swarm/internal/executor"
	"github.com/2389/coven-swarm/internal/store"
)

const testSecret = "api-test-secret-0123456789abcdefghijkl"

type fixture struct {
	mgr      *agent.Manager
	ledger   *store.MockStore
	events   *events.Broadcaster
	mux      *http.ServeMux
	verifier *auth.JWTVerifier
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T, cfg agent.Config, withAuth bool) *fixture {
	t.Helper()
	logger := testLogger()

	registry := executor.NewRegistry(executor.Echo{Prefix: "echo: "})
	registry.Register("markdown", executor.Echo{Prefix: "# Result\n\n"})
	registry.Register("block", agent.ExecutorFunc(func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}))

	ledger := store.NewMockStore()
	bc := events.NewBroadcaster(logger)
	mgr := agent.NewManager(agent.ManagerParams{
		Config:    cfg,
		Executors: registry,
		Recorder:  agent.Recorders{store.NewRecorder(ledger, logger), bc},
		Logger:    logger,
	})
	t.Cleanup(func() {
		mgr.Close()
		bc.Close()
	})

	f := &fixture{
		mgr:      mgr,
		ledger:   ledger,
		events:   bc,
		mux:      http.NewServeMux(),
		verifier: auth.NewJWTVerifier([]byte(testSecret)),
	}
	mw := auth.AnonymousMiddleware()
	if withAuth {
		mw = auth.HTTPAuthMiddleware(f.verifier)
	}
	New(Params{Supervisor: mgr, History: ledger, Events: bc, Logger: logger}).Register(f.mux, mw)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

func (f *fixture) create(t *testing.T, agentType string) string {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/agents", CreateAgentRequest{Type: agentType}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[AgentResponse](t, rec).ID
}

func smallConfig(maxAgents int) agent.Config {
	return agent.Config{
		MaxAgents:           maxAgents,
		HealthCheckInterval: time.Hour,
		ResponseTimeout:     200 * time.Millisecond,
	}
}

func TestHealthEndpoints(t *testing.T) {
	f := newFixture(t, smallConfig(1), true)

	rec := f.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = f.do(t, http.MethodGet, "/health/ready", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ready (0/1 agents)")
}

func TestReady_AtCapacity(t *testing.T) {
	f := newFixture(t, smallConfig(1), false)
	f.create(t, "echo")

	rec := f.do(t, http.MethodGet, "/health/ready", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "at capacity")
}

func TestCreateAndGetAgent(t *testing.T) {
	f := newFixture(t, smallConfig(2), false)

	rec := f.do(t, http.MethodPost, "/api/agents", CreateAgentRequest{
		Type:     "research",
		Task:     "find the docs",
		Name:     "scout",
		Timeout:  "5m",
		Priority: 3,
	}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[AgentResponse](t, rec)
	assert.Equal(t, "scout", created.Name)
	assert.Equal(t, "research", created.Type)
	assert.Equal(t, "3", created.Metadata["priority"])
	assert.NotEmpty(t, created.Capabilities)

	rec = f.do(t, http.MethodGet, "/api/agents/"+created.ID, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[AgentResponse](t, rec)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "find the docs", got.Task)

	rec = f.do(t, http.MethodGet, "/api/agents", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]AgentResponse](t, rec), 1)
}

func TestCreateAgent_Validation(t *testing.T) {
	f := newFixture(t, smallConfig(2), false)

	tests := []struct {
		name string
		body any
		want string
	}{
		{"missing type", CreateAgentRequest{Task: "x"}, "type is required"},
		{"bad timeout", CreateAgentRequest{Type: "echo", Timeout: "soon"}, "timeout must be a positive duration"},
		{"unknown field", map[string]string{"type": "echo", "color": "red"}, "invalid JSON body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/agents", tt.body, "")
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, decode[map[string]string](t, rec)["error"], tt.want)
		})
	}
}

func TestCreateAgent_CapacityIs429(t *testing.T) {
	f := newFixture(t, smallConfig(1), false)
	f.create(t, "echo")

	rec := f.do(t, http.MethodPost, "/api/agents", CreateAgentRequest{Type: "echo"}, "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestCreateBatch(t *testing.T) {
	t.Run("fits", func(t *testing.T) {
		f := newFixture(t, smallConfig(3), false)
		rec := f.do(t, http.MethodPost, "/api/agents/batch", BatchCreateRequest{Agents: []CreateAgentRequest{
			{Type: "echo"}, {Type: "search"},
		}}, "")
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		resp := decode[BatchCreateResponse](t, rec)
		assert.Equal(t, 2, resp.Created)
		assert.Equal(t, 0, resp.Failed)
		assert.Len(t, f.mgr.ListAgents(), 2)
	})

	t.Run("does not fit", func(t *testing.T) {
		f := newFixture(t, smallConfig(1), false)
		rec := f.do(t, http.MethodPost, "/api/agents/batch", BatchCreateRequest{Agents: []CreateAgentRequest{
			{Type: "echo"}, {Type: "echo"},
		}}, "")
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Empty(t, f.mgr.ListAgents())
	})

	t.Run("invalid entry", func(t *testing.T) {
		f := newFixture(t, smallConfig(3), false)
		rec := f.do(t, http.MethodPost, "/api/agents/batch", BatchCreateRequest{Agents: []CreateAgentRequest{
			{Type: "echo"}, {},
		}}, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "agents[1]")
	})
}

func TestStopAgent(t *testing.T) {
	f := newFixture(t, smallConfig(1), false)
	id := f.create(t, "echo")

	rec := f.do(t, http.MethodDelete, "/api/agents/"+id, nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/agents/"+id, nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// The slot is free again.
	f.create(t, "echo")
}

func TestSendMessage(t *testing.T) {
	f := newFixture(t, smallConfig(2), false)
	id := f.create(t, "echo")

	rec := f.do(t, http.MethodPost, "/api/agents/"+id+"/messages", MessageRequest{Content: "hello"}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[MessageResponse](t, rec)
	assert.Equal(t, "echo: hello", resp.Response)
	assert.Empty(t, resp.HTML)

	rec = f.do(t, http.MethodPost, "/api/agents/missing/messages", MessageRequest{Content: "hello"}, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/agents/"+id+"/messages", MessageRequest{}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendMessage_RenderHTML(t *testing.T) {
	f := newFixture(t, smallConfig(1), false)
	id := f.create(t, "markdown")

	rec := f.do(t, http.MethodPost, "/api/agents/"+id+"/messages?render=html", MessageRequest{Content: "**bold** move"}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[MessageResponse](t, rec)
	assert.Contains(t, resp.HTML, "<h1>Result</h1>")
	assert.Contains(t, resp.HTML, "<strong>bold</strong>")
}

func TestSendMessage_TimeoutIs504(t *testing.T) {
	f := newFixture(t, smallConfig(1), false)
	id := f.create(t, "block")

	rec := f.do(t, http.MethodPost, "/api/agents/"+id+"/messages", MessageRequest{Content: "wait forever"}, "")
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)

	// A slow reply does not kill the agent.
	_, ok := f.mgr.GetAgent(id)
	assert.True(t, ok)
}

func TestBroadcast(t *testing.T) {
	f := newFixture(t, smallConfig(2), false)
	f.create(t, "echo")
	f.create(t, "echo")

	rec := f.do(t, http.MethodPost, "/api/broadcast", BroadcastRequest{Content: "all hands"}, "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	queued := decode[BroadcastResponse](t, rec)
	assert.True(t, queued.Queued)
	assert.NotEmpty(t, queued.MessageID)

	rec = f.do(t, http.MethodPost, "/api/broadcast", BroadcastRequest{Content: "all hands", Wait: true}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Empty(t, decode[BroadcastResponse](t, rec).Failed)

	rec = f.do(t, http.MethodPost, "/api/broadcast", BroadcastRequest{}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatus(t *testing.T) {
	f := newFixture(t, smallConfig(4), false)
	f.create(t, "echo")

	rec := f.do(t, http.MethodGet, "/api/status", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[StatusResponse](t, rec)
	assert.Equal(t, 1, st.ActiveAgents)
	assert.Equal(t, 4, st.MaxAgents)
	assert.True(t, st.CanCreate)
	assert.False(t, st.AllCompleted)
	assert.Equal(t, 1, st.Health.TotalAgents)
}

func TestAgentHistory(t *testing.T) {
	f := newFixture(t, smallConfig(1), false)
	id := f.create(t, "echo")

	rec := f.do(t, http.MethodPost, "/api/agents/"+id+"/messages", MessageRequest{Content: "ping"}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodDelete, "/api/agents/"+id, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	// History outlives the agent.
	rec = f.do(t, http.MethodGet, "/api/agents/"+id+"/history?limit=2", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	page := decode[HistoryResponse](t, rec)
	require.Len(t, page.Events, 2)
	assert.Equal(t, "created", page.Events[0].Kind)
	assert.Equal(t, "message", page.Events[1].Kind)
	require.True(t, page.HasMore)

	rec = f.do(t, http.MethodGet, "/api/agents/"+id+"/history?cursor="+page.NextCursor, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	rest := decode[HistoryResponse](t, rec)
	require.Len(t, rest.Events, 1)
	assert.Equal(t, "stopped", rest.Events[0].Kind)
	assert.False(t, rest.HasMore)

	rec = f.do(t, http.MethodGet, "/api/agents/"+id+"/history?kind=message", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[HistoryResponse](t, rec).Events, 1)

	rec = f.do(t, http.MethodGet, "/api/agents/"+id+"/history?cursor=%25%25", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/agents/"+id+"/history?limit=zero", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthRoles(t *testing.T) {
	f := newFixture(t, smallConfig(2), true)

	viewer, err := f.verifier.Generate("dashboard", auth.RoleViewer, time.Hour)
	require.NoError(t, err)
	operator, err := f.verifier.Generate("ci", auth.RoleOperator, time.Hour)
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/api/agents", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/agents", nil, viewer)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/agents", CreateAgentRequest{Type: "echo"}, viewer)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/agents", CreateAgentRequest{Type: "echo"}, operator)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{agent.ErrAgentNotFound, http.StatusNotFound},
		{agent.ErrCapacity, http.StatusTooManyRequests},
		{agent.ErrResponseTimeout, http.StatusGatewayTimeout},
		{agent.ErrMailboxClosed, http.StatusGone},
		{agent.ErrMailboxFull, http.StatusServiceUnavailable},
		{agent.ErrUnknownAgentType, http.StatusBadRequest},
		{agent.ErrTaskFailed, http.StatusBadGateway},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, errorStatus(tt.err), tt.err.Error())
	}
}

func TestEventStream(t *testing.T) {
	f := newFixture(t, smallConfig(2), false)
	srv := httptest.NewServer(f.mux)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	id := f.create(t, "echo")

	scanner := bufio.NewScanner(resp.Body)
	var event, data string
	for scanner.Scan() {
		line := scanner.Text()
		if v, ok := strings.CutPrefix(line, "event: "); ok {
			event = v
		}
		if v, ok := strings.CutPrefix(line, "data: "); ok {
			data = v
			break
		}
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, "created", event)

	var payload EventResponse
	require.NoError(t, json.Unmarshal([]byte(data), &payload))
	assert.Equal(t, id, payload.AgentID)
	assert.Equal(t, "echo", payload.Detail["type"])
}
