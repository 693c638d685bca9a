package claude

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/fentz26/hive/internal/logging"
	"github.com/fentz26/hive/internal/models"
	"github.com/fentz26/hive/internal/store"
	"github.com/fentz26/hive/internal/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scripted replays canned responses and records requests.
type scripted struct {
	mu        sync.Mutex
	responses []string
	requests  []anthropic.MessageNewParams
	err       error
}

func (s *scripted) New(_ context.Context, body anthropic.MessageNewParams, _ ...option.RequestOption) (*anthropic.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, body)
	if s.err != nil {
		return nil, s.err
	}
	if len(s.responses) == 0 {
		return nil, errors.New("no scripted response left")
	}
	raw := s.responses[0]
	s.responses = s.responses[1:]

	var msg anthropic.Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func message(content string) string {
	return `{"id":"msg_1","type":"message","role":"assistant","model":"test","stop_reason":"end_turn",` +
		`"usage":{"input_tokens":1,"output_tokens":1},"content":` + content + `}`
}

func setup(t *testing.T) (context.Context, *store.Store, models.Task) {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "claude.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	task, err := models.NewTask("check the weather for tomorrow", 1)
	require.NoError(t, err)
	require.NoError(t, s.Upsert(context.Background(), task))

	ctx := tools.WithEnv(context.Background(), tools.Env{Store: s, Actor: "claude"})
	return ctx, s, *task
}

func TestExecuteRunsToolCalls(t *testing.T) {
	ctx, s, task := setup(t)

	toolInput := `{"task_id":` + jsonInt(task.ID) + `,"state":"COMPLETE"}`
	client := &scripted{responses: []string{
		message(`[{"type":"text","text":"Looking it up."},{"type":"tool_use","id":"tu_1","name":"change_task_state","input":` + toolInput + `}]`),
		message(`[{"type":"text","text":"Sunny, task complete."}]`),
	}}

	e := NewWithClient(Config{}, client, tools.Defaults(), logging.Discard())
	out, err := e.Execute(ctx, task)
	require.NoError(t, err)
	assert.Equal(t, "Sunny, task complete.", out)

	got, err := s.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateComplete, got.State)

	require.Len(t, client.requests, 2)
	assert.Len(t, client.requests[0].Tools, 3)
	assert.Len(t, client.requests[1].Messages, 3, "prompt, assistant tool use, tool result")
}

func TestExecuteUnknownToolReportedToModel(t *testing.T) {
	ctx, _, task := setup(t)
	client := &scripted{responses: []string{
		message(`[{"type":"tool_use","id":"tu_1","name":"launch_rocket","input":{}}]`),
		message(`[{"type":"text","text":"giving up"}]`),
	}}

	e := NewWithClient(Config{}, client, tools.Defaults(), logging.Discard())
	out, err := e.Execute(ctx, task)
	require.NoError(t, err)
	assert.Equal(t, "giving up", out)
}

func TestExecuteTurnBudget(t *testing.T) {
	ctx, _, task := setup(t)
	loop := message(`[{"type":"tool_use","id":"tu_1","name":"query_tasks","input":{}}]`)
	client := &scripted{responses: []string{loop, loop}}

	e := NewWithClient(Config{MaxTurns: 2}, client, tools.Defaults(), logging.Discard())
	_, err := e.Execute(ctx, task)
	assert.ErrorContains(t, err, "did not finish within 2 turns")
}

func TestExecuteRequestError(t *testing.T) {
	ctx, _, task := setup(t)
	client := &scripted{err: errors.New("overloaded")}

	e := NewWithClient(Config{}, client, tools.Defaults(), logging.Discard())
	_, err := e.Execute(ctx, task)
	assert.ErrorContains(t, err, "overloaded")
}

func TestNewRequiresAPIKey(t *testing.T) {
	t.Setenv("HIVE_TEST_EMPTY_KEY", "")
	_, err := New(Config{APIKeyEnv: "HIVE_TEST_EMPTY_KEY"}, tools.Defaults(), logging.Discard())
	assert.Error(t, err)
}

func jsonInt(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
