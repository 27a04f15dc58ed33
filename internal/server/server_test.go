package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anima/internal/loop"
	"anima/internal/mind"
	"anima/internal/session"
	"anima/internal/substrate"
	"anima/internal/upkeep"
)

type edge struct {
	srv   *Server
	orch  *loop.Orchestrator
	fake  *session.Fake
	root  string
	clock *substrate.FakeClock
}

func newEdge(t *testing.T, token string) *edge {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "PLAN.md"),
		[]byte("# Plan\n\n## Tasks\n\n- [ ] Task A\n"), 0o644))

	clock := substrate.NewFakeClock(time.Date(2026, 2, 15, 10, 0, 0, 0, time.UTC))
	reader := substrate.NewReader(substrate.OS{}, root, substrate.DefaultCacheSize)
	lock := substrate.NewFileLock()
	fake := session.NewFake()
	deps := mind.Deps{
		Launcher: fake,
		Prompts:  mind.NewSubstratePrompts(reader),
		Classify: &mind.Classifier{StrategicModel: "s", TacticalModel: "t"},
		Reader:   reader,
		Writer:   substrate.NewWriter(substrate.OS{}, reader, lock),
		Appender: substrate.NewAppender(substrate.OS{}, reader, lock, clock),
		Clock:    clock,
	}
	orch := loop.New(loop.Options{
		Ego:          mind.NewEgo(deps),
		Subconscious: mind.NewSubconscious(deps),
		Superego:     mind.NewSuperego(deps, nil),
		Clock:        clock,
		Timer:        loop.NewFakeTimer(),
	})
	srv := New(":0", Deps{
		Orchestrator: orch,
		Reader:       reader,
		Health:       upkeep.NewHealth(reader, orch, root, clock, nil),
		Token:        token,
	})
	return &edge{srv: srv, orch: orch, fake: fake, root: root, clock: clock}
}

func (e *edge) request(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *bytes.Reader
	if body == "" {
		rdr = bytes.NewReader(nil)
	} else {
		rdr = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, rdr)
	rec := httptest.NewRecorder()
	e.srv.Router().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestStatusEndpoint(t *testing.T) {
	e := newEdge(t, "")
	rec := e.request(t, http.MethodGet, "/api/loop/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "STOPPED", body["state"])
	assert.NotNil(t, body["metrics"])
}

func TestTransitionConflictReturns409(t *testing.T) {
	e := newEdge(t, "")

	rec := e.request(t, http.MethodPost, "/api/loop/start", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "RUNNING", decode(t, rec)["state"])

	rec = e.request(t, http.MethodPost, "/api/loop/start", "")
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "invalid transition")
}

func TestBearerTokenGuardsAPI(t *testing.T) {
	e := newEdge(t, "sesame")

	rec := e.request(t, http.MethodGet, "/api/loop/status", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decode(t, rec)["error"])

	req := httptest.NewRequest(http.MethodGet, "/api/loop/status", nil)
	req.Header.Set("Authorization", "Bearer sesame")
	out := httptest.NewRecorder()
	e.srv.Router().ServeHTTP(out, req)
	assert.Equal(t, http.StatusOK, out.Code)

	req.Header.Set("Authorization", "Bearer wrong")
	out = httptest.NewRecorder()
	e.srv.Router().ServeHTTP(out, req)
	assert.Equal(t, http.StatusUnauthorized, out.Code)
}

func TestHooksAreExemptFromBearer(t *testing.T) {
	e := newEdge(t, "sesame")
	rec := e.request(t, http.MethodPost, "/hooks/agent", `{"source":"mail","message":"ping"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestHookBodyCap(t *testing.T) {
	e := newEdge(t, "")
	huge := `{"message":"` + strings.Repeat("x", maxHookBody+1) + `"}`
	rec := e.request(t, http.MethodPost, "/hooks/agent", huge)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "too large")
}

func TestSubstrateEndpoint(t *testing.T) {
	e := newEdge(t, "")

	rec := e.request(t, http.MethodGet, "/api/substrate/PLAN", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "PLAN", body["id"])
	assert.Contains(t, body["content"], "- [ ] Task A")

	rec = e.request(t, http.MethodGet, "/api/substrate/NOPE", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.request(t, http.MethodGet, "/api/substrate/MEMORY", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "MEMORY")
}

func TestConversationSend(t *testing.T) {
	e := newEdge(t, "")
	require.NoError(t, e.orch.Start())

	rec := e.request(t, http.MethodPost, "/api/conversation/send", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	e.fake.Enqueue(session.Result{RawOutput: "hello there", Success: true})
	rec = e.request(t, http.MethodPost, "/api/conversation/send", `{"message":"hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello there", decode(t, rec)["response"])
}

func TestReportsLatestEmpty(t *testing.T) {
	e := newEdge(t, "")
	rec := e.request(t, http.MethodGet, "/api/reports/latest", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHealthEndpoints(t *testing.T) {
	e := newEdge(t, "")

	rec := e.request(t, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["healthy"])

	rec = e.request(t, http.MethodGet, "/api/health/critical", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, os.Chmod(e.root, 0o555))
	t.Cleanup(func() { _ = os.Chmod(e.root, 0o755) })

	// Plain health reports the failure with 200; critical flips to 503.
	rec = e.request(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["healthy"])

	rec = e.request(t, http.MethodGet, "/api/health/critical", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestUsageUnconfigured(t *testing.T) {
	e := newEdge(t, "")
	rec := e.request(t, http.MethodGet, "/api/usage", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "not configured")
}

func TestWebSocketReceivesEvents(t *testing.T) {
	e := newEdge(t, "")
	ts := httptest.NewServer(e.srv.Router())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return e.srv.Hub().ClientCount() == 1 },
		2*time.Second, 5*time.Millisecond)

	e.orch.Emitter().Emit(loop.EventCycleComplete, map[string]any{"cycle": 1})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev loop.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, loop.EventCycleComplete, ev.Type)
}

func TestNextBackoffCapsAtThirtySeconds(t *testing.T) {
	d := time.Duration(0)
	var seen []time.Duration
	for i := 0; i < 8; i++ {
		d = NextBackoff(d)
		seen = append(seen, d)
	}
	assert.Equal(t, time.Second, seen[0])
	assert.Equal(t, 16*time.Second, seen[4])
	// The cap is reached exactly and never exceeded.
	assert.Equal(t, 30*time.Second, seen[5])
	assert.Equal(t, 30*time.Second, seen[7])
}
