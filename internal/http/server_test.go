package httpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/unitbrain/internal/agent"
	"example.com/unitbrain/internal/db"
	"example.com/unitbrain/internal/events"
)

type nopPublisher struct{}

func (nopPublisher) Publish(string, []byte) {}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	d, err := db.Open(filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	s := newServer(Config{WebRoot: t.TempDir()}, d, nopPublisher{}, nil)
	srv := httptest.NewServer(s.routes())
	t.Cleanup(srv.Close)
	return s, srv
}

func statusPayload(t *testing.T, s agent.Status) []byte {
	t.Helper()
	b, err := json.Marshal(s)
	require.NoError(t, err)
	return b
}

func TestIngestStatus(t *testing.T) {
	s, srv := newTestServer(t)
	ctx := context.Background()

	payload := statusPayload(t, agent.Status{Status: "ok", IP: "10.0.0.7", Type: "npc", Tree: &agent.TreeStatus{Name: "patrol", Running: true, RunID: "r1", Tasks: 4}})
	require.NoError(t, s.Ingest.HandleStatus(ctx, "lab/status/tb3-01", payload))

	assert.Error(t, s.Ingest.HandleStatus(ctx, "lab/other/tb3-01", payload))
	assert.Error(t, s.Ingest.HandleStatus(ctx, "lab/status/tb3-01", []byte("{")))

	resp, err := http.Get(srv.URL + "/api/units")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var units []db.Unit
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&units))
	require.Len(t, units, 1)
	assert.Equal(t, "tb3-01", units[0].Name)
	assert.Equal(t, "tb3-01", units[0].AgentID)
	assert.Equal(t, "npc", units[0].Type)
	assert.Equal(t, "patrol", units[0].TreeName)
	assert.True(t, units[0].Running)
	assert.Equal(t, "r1", units[0].RunID)
}

func TestIngestEventJournalsAndStreams(t *testing.T) {
	s, srv := newTestServer(t)

	reqCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, srv.URL+"/api/events/stream", nil)
	require.NoError(t, err)
	stream, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer stream.Body.Close()
	assert.Equal(t, "text/event-stream", stream.Header.Get("Content-Type"))
	require.Eventually(t, func() bool { return s.SSE.Clients() == 1 }, time.Second, 10*time.Millisecond)

	taskID := 2
	payload, err := events.Encode(events.Record{Event: events.EventPostOnEnd, UnitID: "tb3-01", RunID: "r1", Timestamp: 42, TaskID: &taskID, TaskName: "idle", Status: "SUCCESS", StackID: 1})
	require.NoError(t, err)
	require.NoError(t, s.Ingest.HandleEvent(context.Background(), events.Topic("tb3-01"), payload))

	reader := bufio.NewReader(stream.Body)
	var line, eventLine string
	for !strings.HasPrefix(line, "data: ") {
		line, err = reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "event: ") {
			eventLine = strings.TrimSpace(line)
		}
	}
	assert.Equal(t, "event: "+events.EventPostOnEnd, eventLine)
	assert.JSONEq(t, string(payload), strings.TrimSpace(strings.TrimPrefix(line, "data: ")))

	resp, err := http.Get(srv.URL + "/api/events?unit=tb3-01")
	require.NoError(t, err)
	defer resp.Body.Close()
	var evts []db.Event
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&evts))
	require.Len(t, evts, 1)
	assert.Equal(t, events.EventPostOnEnd, evts[0].Event)
	assert.Equal(t, int64(42), evts[0].TS)
	require.NotNil(t, evts[0].TaskID)
	assert.Equal(t, 2, *evts[0].TaskID)

	metrics, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer metrics.Body.Close()
	body, err := io.ReadAll(metrics.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `unitbrain_ingested_messages_total{kind="event"} 1`)
}

func TestIngestEventRejects(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	assert.Error(t, s.Ingest.HandleEvent(ctx, events.Topic("tb3-01"), []byte(`{"unit_id":"tb3-01"}`)))
	assert.Error(t, s.Ingest.HandleEvent(ctx, "lab/bt/events", []byte(`{"event":"new_stack"}`)))

	require.NoError(t, s.Ingest.HandleEvent(ctx, "lab/bt/tb3-09/events", []byte(`{"event":"new_stack","stack_id":3}`)))
	evts, err := s.DB.ListEvents(ctx, db.EventFilter{UnitID: "tb3-09"})
	require.NoError(t, err)
	require.Len(t, evts, 1, "unit id falls back to the topic")
}

func TestRoutesMethods(t *testing.T) {
	_, srv := newTestServer(t)
	cases := []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/healthz", http.StatusOK},
		{http.MethodPost, "/healthz", http.StatusMethodNotAllowed},
		{http.MethodDelete, "/api/units", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/units/1/command", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/units/1/deploy", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/units/1", http.StatusNotFound},
		{http.MethodGet, "/api/trees", http.StatusOK},
		{http.MethodGet, "/api/trees/validate", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/trees/1/apply", http.StatusMethodNotAllowed},
		{http.MethodPatch, "/api/trees/1", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/settings/install-defaults", http.StatusOK},
	}
	for _, tc := range cases {
		req, err := http.NewRequest(tc.method, srv.URL+tc.path, nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, tc.want, resp.StatusCode, "%s %s", tc.method, tc.path)
	}
}

func TestTopicParsing(t *testing.T) {
	assert.Equal(t, "tb3-01", parseAgentIDFromTopic("lab/status/tb3-01"))
	assert.Empty(t, parseAgentIDFromTopic("lab/bt/tb3-01/events"))
	assert.Equal(t, "tb3-01", parseUnitIDFromEventTopic(events.Topic("tb3-01")))
	assert.Empty(t, parseUnitIDFromEventTopic("lab/bt/tb3-01/other"))
}
