package store

import (
	"testing"

	"github.com/fentz26/hive/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryBuildDispatchOrder(t *testing.T) {
	stmt, args, err := dispatchQuery(3).build()
	require.NoError(t, err)
	assert.Contains(t, stmt, "FROM tasks WHERE state = ?")
	assert.Contains(t, stmt, "ORDER BY priority ASC, task_id ASC LIMIT 3")
	assert.Equal(t, []any{"AVAILABLE"}, args)
}

func TestQueryBuildExpandsLists(t *testing.T) {
	stmt, args, err := Query{Filters: map[string]any{
		"state":          []models.State{models.StateOnHold, models.StateError},
		"assigned_agent": "ceo",
	}}.build()
	require.NoError(t, err)
	assert.Contains(t, stmt, "WHERE assigned_agent = ? AND state IN (?,?)")
	assert.Equal(t, []any{"ceo", "ON_HOLD", "ERROR"}, args)
}

func TestQueryBuildAliasesAndEmptyList(t *testing.T) {
	stmt, args, err := Query{Filters: map[string]any{
		"id":      int64(7),
		"task_id": []int64{},
	}}.build()
	require.NoError(t, err)
	assert.Contains(t, stmt, "WHERE task_id = ? AND (1=0)")
	assert.Equal(t, []any{int64(7)}, args)
}
