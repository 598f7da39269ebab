package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"synbridge/pkg/models"
	"synbridge/pkg/router"
	"synbridge/pkg/validator"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeBridge struct {
	connected bool
	sent      []models.Command
	callbacks map[string]func(models.Result)
	routed    []models.Command
	outcome   validator.Outcome
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{connected: true, callbacks: map[string]func(models.Result){}, outcome: validator.Outcome{Valid: true}}
}

func (b *fakeBridge) Connect() bool     { b.connected = true; return true }
func (b *fakeBridge) Disconnect()       { b.connected = false }
func (b *fakeBridge) IsConnected() bool { return b.connected }
func (b *fakeBridge) SendCommandFunc(cmd models.Command, cb func(models.Result)) error {
	if !b.connected {
		return router.ErrNotConnected
	}
	b.sent = append(b.sent, cmd)
	b.callbacks[cmd.ID] = cb
	return nil
}
func (b *fakeBridge) RouteCommand(cmd models.Command) validator.Outcome {
	b.routed = append(b.routed, cmd)
	return b.outcome
}
func (b *fakeBridge) GetStats() router.Stats {
	return router.Stats{Connected: b.connected, CommandsSent: int64(len(b.sent))}
}

type inline struct{}

func (inline) Do(_ context.Context, fn func()) error { fn(); return nil }

func newTestServer(b *fakeBridge) *Server {
	caps := func() ([]string, []string) { return []string{"Log", "Ping"}, []string{"Ping"} }
	return NewServer(b, inline{}, caps, nil)
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestExecuteCommandAssignsIDAndTracks(t *testing.T) {
	b := newFakeBridge()
	s := newTestServer(b)

	w := do(t, s, http.MethodPost, "/api/v1/command", map[string]any{"type": "chat", "parameters": map[string]any{"message": "hi"}})
	require.Equal(t, http.StatusAccepted, w.Code)

	id := decode(t, w)["id"].(string)
	require.NotEmpty(t, id)
	require.Len(t, b.sent, 1)
	assert.Equal(t, id, b.sent[0].ID)

	w = do(t, s, http.MethodGet, "/api/v1/command/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, StatusPending, decode(t, w)["status"])

	b.callbacks[id](models.Succeeded(id, "done", nil))

	w = do(t, s, http.MethodGet, "/api/v1/command/"+id, nil)
	assert.Equal(t, StatusCompleted, decode(t, w)["status"])
}

func TestExecuteCommandWaitsForResult(t *testing.T) {
	b := newFakeBridge()
	s := newTestServer(b)

	go func() {
		for {
			if e, ok := s.tracker.Get("w1"); ok && e.Status == StatusPending {
				s.tracker.Resolve(models.Failed("w1", "boom"))
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	w := do(t, s, http.MethodPost, "/api/v1/command", map[string]any{"id": "w1", "type": "chat", "wait": 2})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "boom", body["execution"].(map[string]any)["error"])
}

func TestExecuteCommandNotConnected(t *testing.T) {
	b := newFakeBridge()
	b.connected = false
	s := newTestServer(b)

	w := do(t, s, http.MethodPost, "/api/v1/command", map[string]any{"id": "x", "type": "chat"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	e, ok := s.tracker.Get("x")
	require.True(t, ok)
	assert.Equal(t, StatusFailed, e.Status)
}

func TestExecuteCommandRequiresType(t *testing.T) {
	s := newTestServer(newFakeBridge())
	w := do(t, s, http.MethodPost, "/api/v1/command", map[string]any{"id": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouteCommand(t *testing.T) {
	b := newFakeBridge()
	s := newTestServer(b)

	w := do(t, s, http.MethodPost, "/api/v1/route", map[string]any{"id": "r1", "type": "Ping"})
	assert.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, b.routed, 1)

	b.outcome = validator.Outcome{Code: validator.CodeDisallowedType, Reason: "Unknown or disallowed command type: Nope"}
	w = do(t, s, http.MethodPost, "/api/v1/route", map[string]any{"id": "r2", "type": "Nope"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "disallowed_type", decode(t, w)["code"])

	b.outcome = validator.Outcome{Code: validator.CodeRateLimited, Reason: "slow down", RetryAfter: 1500 * time.Millisecond}
	w = do(t, s, http.MethodPost, "/api/v1/route", map[string]any{"id": "r3", "type": "Ping"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.EqualValues(t, 1500, decode(t, w)["retry_after_ms"])
}

func TestConnectDisconnect(t *testing.T) {
	b := newFakeBridge()
	b.connected = false
	s := newTestServer(b)

	w := do(t, s, http.MethodPost, "/api/v1/connect", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["connected"])

	w = do(t, s, http.MethodPost, "/api/v1/disconnect", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["connected"])
}

func TestCapabilitiesStatsHealth(t *testing.T) {
	s := newTestServer(newFakeBridge())

	w := do(t, s, http.MethodGet, "/api/v1/capabilities", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{"Log", "Ping"}, decode(t, w)["allowed"])

	w = do(t, s, http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["connected"])

	w = do(t, s, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["status"])
}

func TestListAndCleanup(t *testing.T) {
	b := newFakeBridge()
	s := newTestServer(b)
	base := time.Now()
	s.tracker.now = func() time.Time { return base.Add(-2 * time.Hour) }

	do(t, s, http.MethodPost, "/api/v1/command", map[string]any{"id": "old", "type": "chat"})
	b.callbacks["old"](models.Succeeded("old", "", nil))
	s.tracker.now = time.Now
	do(t, s, http.MethodPost, "/api/v1/command", map[string]any{"id": "new", "type": "chat"})

	w := do(t, s, http.MethodGet, "/api/v1/commands", nil)
	assert.EqualValues(t, 2, decode(t, w)["total"])

	w = do(t, s, http.MethodPost, "/api/v1/cleanup", map[string]any{"max_age_minutes": 60})
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["cleaned"])

	_, ok := s.tracker.Get("new")
	assert.True(t, ok)
}

func TestCommandNotFound(t *testing.T) {
	s := newTestServer(newFakeBridge())
	w := do(t, s, http.MethodGet, "/api/v1/command/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
