package store

import (
	"fmt"
	"sort"

	sq "github.com/Masterminds/squirrel"
	"github.com/fentz26/hive/internal/models"
)

// queryFields maps filterable and sortable field names to columns.
var queryFields = map[string]string{
	"task_id":        "task_id",
	"id":             "task_id",
	"description":    "description",
	"priority":       "priority",
	"state":          "state",
	"assigned_agent": "assigned_agent",
	"thread_id":      "thread_id",
	"claimed_by":     "claimed_by",
}

// Query selects tasks.
//
// Each Filters entry constrains one field: a scalar value means equality, a
// slice means the field must equal any of its elements. Entries are ANDed.
// OrderBy lists fields sorted ascending; the default is task_id. Limit <= 0
// means unbounded.
type Query struct {
	Filters map[string]any
	OrderBy []string
	Limit   int
}

func (q Query) build() (string, []any, error) {
	sel := sq.Select(taskColumns).From("tasks")

	// Sorted keys keep the generated statement stable.
	keys := make([]string, 0, len(q.Filters))
	for k := range q.Filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		col, ok := queryFields[key]
		if !ok {
			return "", nil, fmt.Errorf("%w: %q", ErrUnknownField, key)
		}
		// A slice becomes IN, an empty slice matches nothing, nil is IS NULL.
		sel = sel.Where(sq.Eq{col: normalize(q.Filters[key])})
	}

	order := q.OrderBy
	if len(order) == 0 {
		order = []string{"task_id"}
	}
	cols := make([]string, 0, len(order))
	for _, key := range order {
		col, ok := queryFields[key]
		if !ok {
			return "", nil, fmt.Errorf("%w: %q", ErrUnknownField, key)
		}
		cols = append(cols, col+" ASC")
	}
	sel = sel.OrderBy(cols...)

	if q.Limit > 0 {
		sel = sel.Limit(uint64(q.Limit))
	}
	return sel.ToSql()
}

func normalize(v any) any {
	switch x := v.(type) {
	case models.State:
		return string(x)
	case []models.State:
		out := make([]string, len(x))
		for i, s := range x {
			out[i] = string(s)
		}
		return out
	default:
		return v
	}
}
