package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/fentz26/hive/internal/audit"
	"github.com/fentz26/hive/internal/bus"
	"github.com/fentz26/hive/internal/logging"
	"github.com/fentz26/hive/internal/models"
	"github.com/fentz26/hive/internal/node"
	"github.com/fentz26/hive/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	server *Server
	store  *store.Store
	bus    *bus.Bus
	nodes  *node.Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	log := logging.Discard()
	b := bus.New(bus.DefaultConfig(), log)
	t.Cleanup(func() { b.Close(context.Background()) })

	nodes := node.NewRegistry()
	service := NewService(st, b, nodes, audit.NewPDRWriter(st, log))
	return &testEnv{
		server: NewServer(service, "127.0.0.1:0", log),
		store:  st,
		bus:    b,
		nodes:  nodes,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (e *testEnv) createTask(t *testing.T, body map[string]any) models.Task {
	t.Helper()
	w := e.do(t, http.MethodPost, "/tasks", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[models.Task](t, w)
}

func TestHealthEndpoint(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	health := decode[HealthResponse](t, w)
	assert.True(t, health.OK)
	assert.Equal(t, "ok", health.DB)
	assert.NotEmpty(t, health.Version)
	assert.NotEmpty(t, health.Time)

	e.store.Close()
	w = e.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	health = decode[HealthResponse](t, w)
	assert.False(t, health.OK)
	assert.NotEqual(t, "ok", health.DB)
}

func TestCreateAndGetTask(t *testing.T) {
	e := newTestEnv(t)

	task := e.createTask(t, map[string]any{
		"description": "draft proposal",
		"priority":    1,
		"tags":        []string{"docs"},
	})
	assert.NotZero(t, task.ID)
	assert.Equal(t, models.StateAvailable, task.State)

	w := e.do(t, http.MethodGet, "/tasks/"+strconv.FormatInt(task.ID, 10), nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[models.Task](t, w)
	assert.Equal(t, "draft proposal", got.Description)
	assert.Equal(t, []string{"docs"}, got.Tags)

	entries, err := e.store.PDRForTask(context.Background(), task.ID)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, "task.create", entries[0].Action)
}

func TestCreateTaskRejectsBadInput(t *testing.T) {
	e := newTestEnv(t)
	tests := map[string]any{
		"negative priority": map[string]any{"description": "x", "priority": -1},
		"complete initial":  map[string]any{"description": "x", "state": "COMPLETE"},
		"unknown state":     map[string]any{"description": "x", "state": "SLEEPING"},
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			w := e.do(t, http.MethodPost, "/tasks", body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}

func TestGetTaskErrors(t *testing.T) {
	e := newTestEnv(t)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/tasks/9999", nil).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/tasks/abc", nil).Code)
}

func TestListAndNextTasks(t *testing.T) {
	e := newTestEnv(t)
	low := e.createTask(t, map[string]any{"description": "low prio cleanup", "priority": 5})
	high := e.createTask(t, map[string]any{"description": "draft proposal", "priority": 1})
	held := e.createTask(t, map[string]any{"description": "later", "priority": 0, "state": "ON_HOLD"})

	w := e.do(t, http.MethodGet, "/tasks/next?count=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	next := decode[[]models.Task](t, w)
	require.Len(t, next, 2)
	assert.Equal(t, high.ID, next[0].ID)
	assert.Equal(t, low.ID, next[1].ID)

	w = e.do(t, http.MethodGet, "/tasks?state=on_hold", nil)
	require.Equal(t, http.StatusOK, w.Code)
	listed := decode[[]models.Task](t, w)
	require.Len(t, listed, 1)
	assert.Equal(t, held.ID, listed[0].ID)

	w = e.do(t, http.MethodGet, "/tasks?limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.Task](t, w), 2)

	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/tasks?state=bogus", nil).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/tasks/next?count=0", nil).Code)
}

func TestEmptyListsAreArrays(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, http.MethodGet, "/tasks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestChangeStateEndpoint(t *testing.T) {
	e := newTestEnv(t)
	task := e.createTask(t, map[string]any{"description": "flip"})
	path := "/tasks/" + strconv.FormatInt(task.ID, 10) + "/state"

	w := e.do(t, http.MethodPost, path, map[string]any{"state": "Complete"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.StateComplete, decode[models.Task](t, w).State)

	w = e.do(t, http.MethodPost, path, map[string]any{"state": "AVAILABLE"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.StateAvailable, decode[models.Task](t, w).State)

	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodPost, path, map[string]any{"state": "DONE"}).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodPost, path, map[string]any{}).Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodPost, "/tasks/9999/state", map[string]any{"state": "COMPLETE"}).Code)
}

func TestDeleteTaskEndpoint(t *testing.T) {
	e := newTestEnv(t)
	task := e.createTask(t, map[string]any{"description": "remove me"})
	path := "/tasks/" + strconv.FormatInt(task.ID, 10)

	assert.Equal(t, http.StatusOK, e.do(t, http.MethodDelete, path, nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, path, nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodDelete, path, nil).Code)
}

func TestTaskRunsEndpoint(t *testing.T) {
	e := newTestEnv(t)
	task := e.createTask(t, map[string]any{"description": "run me"})
	_, err := e.store.CreateRun(context.Background(), task.ID, "noop", "node-1")
	require.NoError(t, err)

	w := e.do(t, http.MethodGet, "/tasks/"+strconv.FormatInt(task.ID, 10)+"/runs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	runs := decode[[]models.Run](t, w)
	require.Len(t, runs, 1)
	assert.Equal(t, "noop", runs[0].Executor)

	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/tasks/9999/runs", nil).Code)
}

func TestTopicEndpoints(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodPost, "/topics", map[string]any{"name": "alerts", "description": "ops"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, http.StatusConflict, e.do(t, http.MethodPost, "/topics", map[string]any{"name": "alerts"}).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodPost, "/topics", map[string]any{}).Code)

	var mu sync.Mutex
	var got []bus.Message
	_, err := e.bus.Subscribe("alerts", func(_ context.Context, msg bus.Message) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, msg)
		return nil
	})
	require.NoError(t, err)

	w = e.do(t, http.MethodGet, "/topics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	topics := decode[[]bus.TopicInfo](t, w)
	require.Len(t, topics, 1)
	assert.Equal(t, 1, topics[0].Subscribers)

	w = e.do(t, http.MethodPost, "/topics/alerts/publish", map[string]any{"payload": map[string]any{"x": 1}})
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, Actor, got[0].From)
	assert.Equal(t, float64(1), got[0].Payload["x"])
	mu.Unlock()

	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodPost, "/topics/missing/publish", map[string]any{}).Code)
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodDelete, "/topics/alerts", nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodDelete, "/topics/alerts", nil).Code)
}

func TestNodeEndpoints(t *testing.T) {
	e := newTestEnv(t)
	require.NoError(t, e.bus.CreateTopic("alerts", ""))
	obs, err := node.NewObserver(e.nodes, e.bus, "watcher", []string{"alerts"}, logging.Discard())
	require.NoError(t, err)

	w := e.do(t, http.MethodGet, "/nodes", nil)
	require.Equal(t, http.StatusOK, w.Code)
	infos := decode[[]node.Info](t, w)
	require.Len(t, infos, 1)
	assert.Equal(t, "watcher", infos[0].Name)
	assert.Equal(t, []string{"alerts"}, infos[0].Topics)

	w = e.do(t, http.MethodGet, "/nodes/"+obs.ID(), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, node.KindObserver, decode[node.Info](t, w).Kind)

	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/nodes/unknown", nil).Code)
}

func TestStatsEndpoint(t *testing.T) {
	e := newTestEnv(t)
	e.createTask(t, map[string]any{"description": "one"})

	w := e.do(t, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats struct {
		Tasks map[string]int `json:"tasks"`
		Bus   struct {
			Workers int `json:"workers"`
		} `json:"bus"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Tasks["AVAILABLE"])
	assert.Equal(t, 10, stats.Bus.Workers)
}
