// Package store provides SQLite-backed persistence for hive tasks.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fentz26/hive/internal/models"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store provides access to the hive SQLite database. Every method runs its
// own short statement or transaction; tasks returned are detached copies.
type Store struct {
	db *sql.DB
}

// New creates a new Store and runs migrations.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate runs idempotent schema migrations.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		task_id INTEGER PRIMARY KEY AUTOINCREMENT,
		description TEXT NOT NULL DEFAULT '',
		priority INTEGER NOT NULL DEFAULT 0,
		state TEXT NOT NULL DEFAULT 'AVAILABLE',
		assigned_agent TEXT,
		files TEXT,
		tags TEXT,
		thread_id TEXT,
		claimed_by TEXT,
		claimed_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		task_id INTEGER NOT NULL,
		executor TEXT NOT NULL,
		node_id TEXT,
		final_state TEXT,
		output TEXT,
		error TEXT,
		started_at DATETIME NOT NULL,
		ended_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS pdr (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		inputs_hash TEXT NOT NULL,
		outcome TEXT NOT NULL,
		task_id INTEGER,
		details TEXT,
		timestamp DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_dispatch ON tasks(state, priority, task_id);
	CREATE INDEX IF NOT EXISTS idx_runs_task_id ON runs(task_id);
	CREATE INDEX IF NOT EXISTS idx_pdr_task_id ON pdr(task_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

const taskColumns = `task_id, description, priority, state, assigned_agent, files, tags, thread_id, claimed_by, claimed_at, created_at, updated_at`

// --- Task Operations ---

// Upsert inserts a task when its ID is zero, otherwise attaches the given
// values to the row with that ID, creating it if missing. The assigned ID is
// written back into t. The write is committed before Upsert returns.
func (s *Store) Upsert(ctx context.Context, t *models.Task) error {
	if err := t.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	files, err := encodeList(t.Files)
	if err != nil {
		return fmt.Errorf("encode files: %w", err)
	}
	tags, err := encodeList(t.Tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistErr("begin transaction", err)
	}
	defer tx.Rollback()

	id := t.ID
	if id == 0 {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO tasks (description, priority, state, assigned_agent, files, tags, thread_id, claimed_by, claimed_at, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.Description, t.Priority, string(t.State), nullString(t.AssignedAgent), files, tags,
			nullString(t.ThreadID), nullString(t.ClaimedBy), nullTime(t.ClaimedAt), createdAt, now,
		)
		if err != nil {
			return persistErr("insert task", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return persistErr("read task id", err)
		}
	} else {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO tasks (task_id, description, priority, state, assigned_agent, files, tags, thread_id, claimed_by, claimed_at, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(task_id) DO UPDATE SET
				description = excluded.description,
				priority = excluded.priority,
				state = excluded.state,
				assigned_agent = excluded.assigned_agent,
				files = excluded.files,
				tags = excluded.tags,
				thread_id = excluded.thread_id,
				claimed_by = excluded.claimed_by,
				claimed_at = excluded.claimed_at,
				updated_at = excluded.updated_at
			 WHERE tasks.description IS NOT excluded.description
				OR tasks.priority IS NOT excluded.priority
				OR tasks.state IS NOT excluded.state
				OR tasks.assigned_agent IS NOT excluded.assigned_agent
				OR tasks.files IS NOT excluded.files
				OR tasks.tags IS NOT excluded.tags
				OR tasks.thread_id IS NOT excluded.thread_id
				OR tasks.claimed_by IS NOT excluded.claimed_by
				OR tasks.claimed_at IS NOT excluded.claimed_at`,
			id, t.Description, t.Priority, string(t.State), nullString(t.AssignedAgent), files, tags,
			nullString(t.ThreadID), nullString(t.ClaimedBy), nullTime(t.ClaimedAt), createdAt, now,
		)
		if err != nil {
			return persistErr("upsert task", err)
		}
	}

	// An unchanged row keeps its timestamps, so read back what is stored.
	var stored struct{ created, updated time.Time }
	err = tx.QueryRowContext(ctx, `SELECT created_at, updated_at FROM tasks WHERE task_id = ?`, id).
		Scan(&stored.created, &stored.updated)
	if err != nil {
		return persistErr("read task timestamps", err)
	}

	if err := tx.Commit(); err != nil {
		return persistErr("commit transaction", err)
	}

	t.ID = id
	t.CreatedAt = stored.created
	t.UpdatedAt = stored.updated
	return nil
}

// Get retrieves a task by ID.
func (s *Store) Get(ctx context.Context, id int64) (models.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE task_id = ?`, id)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return models.Task{}, fmt.Errorf("%w: %d", ErrTaskNotFound, id)
	}
	if err != nil {
		return models.Task{}, persistErr("query task", err)
	}
	return task, nil
}

// Query returns tasks matching q. See Query for filter semantics.
func (s *Store) Query(ctx context.Context, q Query) ([]models.Task, error) {
	stmt, args, err := q.build()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, persistErr("query tasks", err)
	}
	defer rows.Close()

	tasks := []models.Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, persistErr("scan task", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("iterate tasks", err)
	}
	return tasks, nil
}

// NextAvailable returns up to n AVAILABLE tasks ordered by priority then ID.
// It has no side effects and returns an empty slice when nothing is eligible.
func (s *Store) NextAvailable(ctx context.Context, n int) ([]models.Task, error) {
	if n <= 0 {
		return []models.Task{}, nil
	}
	return s.Query(ctx, dispatchQuery(n))
}

// ClaimAvailable selects up to n AVAILABLE tasks in dispatch order and moves
// them to IN_PROGRESS under holder, in a single transaction. A task claimed
// by one caller is never returned to another.
func (s *Store) ClaimAvailable(ctx context.Context, n int, holder string) ([]models.Task, error) {
	if n <= 0 {
		return []models.Task{}, nil
	}

	stmt, args, err := dispatchQuery(n).build()
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, persistErr("begin transaction", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, persistErr("query available tasks", err)
	}
	var candidates []models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			rows.Close()
			return nil, persistErr("scan task", err)
		}
		candidates = append(candidates, task)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, persistErr("iterate tasks", err)
	}

	now := time.Now().UTC()
	claimed := make([]models.Task, 0, len(candidates))
	for _, task := range candidates {
		res, err := tx.ExecContext(ctx,
			`UPDATE tasks SET state = ?, claimed_by = ?, claimed_at = ?, updated_at = ? WHERE task_id = ? AND state = ?`,
			string(models.StateInProgress), holder, now, now, task.ID, string(models.StateAvailable),
		)
		if err != nil {
			return nil, persistErr("claim task", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, persistErr("check rows affected", err)
		}
		if affected == 0 {
			continue
		}
		task.State = models.StateInProgress
		task.ClaimedBy = holder
		at := now
		task.ClaimedAt = &at
		task.UpdatedAt = now
		claimed = append(claimed, task)
	}

	if err := tx.Commit(); err != nil {
		return nil, persistErr("commit transaction", err)
	}
	return claimed, nil
}

// Delete removes a task. Deleting a missing task is a no-op.
func (s *Store) Delete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE task_id = ?`, id)
	return persistErr("delete task", err)
}

// CountByState returns the number of tasks in each state.
func (s *Store) CountByState(ctx context.Context) (map[models.State]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM tasks GROUP BY state`)
	if err != nil {
		return nil, persistErr("count tasks", err)
	}
	defer rows.Close()

	counts := make(map[models.State]int, len(models.States))
	for _, st := range models.States {
		counts[st] = 0
	}
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, persistErr("scan count", err)
		}
		counts[models.State(state)] = n
	}
	return counts, persistErr("iterate counts", rows.Err())
}

func dispatchQuery(n int) Query {
	return Query{
		Filters: map[string]any{"state": models.StateAvailable},
		OrderBy: []string{"priority", "task_id"},
		Limit:   n,
	}
}

// --- Run Operations ---

// CreateRun records the start of an executor invocation.
func (s *Store) CreateRun(ctx context.Context, taskID int64, executor, nodeID string) (*models.Run, error) {
	run := &models.Run{
		ID:        uuid.New().String(),
		TaskID:    taskID,
		Executor:  executor,
		NodeID:    nodeID,
		StartedAt: time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, task_id, executor, node_id, started_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.TaskID, run.Executor, run.NodeID, run.StartedAt,
	)
	if err != nil {
		return nil, persistErr("insert run", err)
	}
	return run, nil
}

// FinishRun stores the outcome of a run.
func (s *Store) FinishRun(ctx context.Context, run *models.Run) error {
	if run.EndedAt.IsZero() {
		run.EndedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET final_state = ?, output = ?, error = ?, ended_at = ? WHERE id = ?`,
		string(run.FinalState), run.Output, run.Error, run.EndedAt, run.ID,
	)
	return persistErr("update run", err)
}

// RunsForTask returns all runs for a task, newest first.
func (s *Store) RunsForTask(ctx context.Context, taskID int64) ([]models.Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, executor, node_id, final_state, output, error, started_at, ended_at FROM runs WHERE task_id = ? ORDER BY started_at DESC, rowid DESC`,
		taskID,
	)
	if err != nil {
		return nil, persistErr("query runs", err)
	}
	defer rows.Close()

	runs := []models.Run{}
	for rows.Next() {
		var run models.Run
		var nodeID, finalState, output, errText sql.NullString
		var endedAt sql.NullTime

		if err := rows.Scan(&run.ID, &run.TaskID, &run.Executor, &nodeID, &finalState, &output, &errText, &run.StartedAt, &endedAt); err != nil {
			return nil, persistErr("scan run", err)
		}
		run.NodeID = nodeID.String
		run.FinalState = models.State(finalState.String)
		run.Output = output.String
		run.Error = errText.String
		if endedAt.Valid {
			run.EndedAt = endedAt.Time
		}
		runs = append(runs, run)
	}
	return runs, persistErr("iterate runs", rows.Err())
}

// --- PDR Operations ---

// WritePDR writes a Process Decision Record.
func (s *Store) WritePDR(ctx context.Context, action, inputsHash, outcome string, taskID int64, details string) (*models.PDREntry, error) {
	pdr := &models.PDREntry{
		ID:         uuid.New().String(),
		Action:     action,
		InputsHash: inputsHash,
		Outcome:    outcome,
		TaskID:     taskID,
		Details:    details,
		Timestamp:  time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pdr (id, action, inputs_hash, outcome, task_id, details, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		pdr.ID, pdr.Action, pdr.InputsHash, pdr.Outcome, nullInt(pdr.TaskID), pdr.Details, pdr.Timestamp,
	)
	if err != nil {
		return nil, persistErr("insert pdr", err)
	}
	return pdr, nil
}

// PDRForTask returns the audit trail of a task, oldest first.
func (s *Store) PDRForTask(ctx context.Context, taskID int64) ([]models.PDREntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, action, inputs_hash, outcome, task_id, details, timestamp FROM pdr WHERE task_id = ? ORDER BY timestamp ASC, rowid ASC`,
		taskID,
	)
	if err != nil {
		return nil, persistErr("query pdr", err)
	}
	defer rows.Close()

	entries := []models.PDREntry{}
	for rows.Next() {
		var e models.PDREntry
		var tid sql.NullInt64
		var details sql.NullString
		if err := rows.Scan(&e.ID, &e.Action, &e.InputsHash, &e.Outcome, &tid, &details, &e.Timestamp); err != nil {
			return nil, persistErr("scan pdr", err)
		}
		e.TaskID = tid.Int64
		e.Details = details.String
		entries = append(entries, e)
	}
	return entries, persistErr("iterate pdr", rows.Err())
}

// --- helpers ---

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(sc scanner) (models.Task, error) {
	var task models.Task
	var state string
	var agent, files, tags, thread, claimedBy sql.NullString
	var claimedAt sql.NullTime

	err := sc.Scan(&task.ID, &task.Description, &task.Priority, &state, &agent, &files, &tags, &thread,
		&claimedBy, &claimedAt, &task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		return models.Task{}, err
	}

	task.State = models.State(state)
	task.AssignedAgent = agent.String
	task.ThreadID = thread.String
	task.ClaimedBy = claimedBy.String
	if claimedAt.Valid {
		at := claimedAt.Time
		task.ClaimedAt = &at
	}
	if task.Files, err = decodeList(files); err != nil {
		return models.Task{}, fmt.Errorf("decode files: %w", err)
	}
	if task.Tags, err = decodeList(tags); err != nil {
		return models.Task{}, fmt.Errorf("decode tags: %w", err)
	}
	return task, nil
}

func encodeList(items []string) (sql.NullString, error) {
	if items == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(items)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func decodeList(col sql.NullString) ([]string, error) {
	if !col.Valid || col.String == "" {
		return nil, nil
	}
	var items []string
	if err := json.Unmarshal([]byte(col.String), &items); err != nil {
		return nil, err
	}
	return items, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullInt(n int64) sql.NullInt64 {
	return sql.NullInt64{Int64: n, Valid: n != 0}
}
