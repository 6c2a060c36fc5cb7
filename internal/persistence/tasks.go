package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/aristath/taskflow/internal/task"
)

const taskColumns = `id, title, description, status, priority, assigned_agent, parent_id,
	metadata, result, created_at, updated_at, started_at, completed_at, due_date`

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Save inserts or updates a task and replaces its dependency list.
func (s *SQLiteStore) Save(ctx context.Context, t *task.Task) error {
	return s.SaveMany(ctx, []*task.Task{t})
}

// SaveMany saves every task in one transaction.
func (s *SQLiteStore) SaveMany(ctx context.Context, tasks []*task.Task) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	// Begin transaction with serializable isolation (BEGIN IMMEDIATE)
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, t := range tasks {
		if err := saveTask(ctx, tx, t.Snapshot()); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func saveTask(ctx context.Context, q queryer, snap task.Snapshot) error {
	metadata, err := encodeJSON(snap.Metadata, len(snap.Metadata) == 0)
	if err != nil {
		return fmt.Errorf("failed to encode metadata for task %s: %w", snap.ID, err)
	}
	result, err := encodeJSON(snap.Result, snap.Result == nil)
	if err != nil {
		return fmt.Errorf("failed to encode result for task %s: %w", snap.ID, err)
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			status = excluded.status,
			priority = excluded.priority,
			assigned_agent = excluded.assigned_agent,
			parent_id = excluded.parent_id,
			metadata = excluded.metadata,
			result = excluded.result,
			updated_at = excluded.updated_at,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			due_date = excluded.due_date
	`, snap.ID, snap.Title, snap.Description, string(snap.Status), string(snap.Priority),
		snap.AssignedAgent, snap.ParentID, metadata, result,
		formatTime(snap.CreatedAt), formatTime(snap.UpdatedAt), formatTime(snap.StartedAt),
		formatTime(snap.CompletedAt), formatTime(snap.DueDate))
	if err != nil {
		return fmt.Errorf("failed to upsert task %s: %w", snap.ID, err)
	}

	if _, err := q.ExecContext(ctx, `DELETE FROM task_dependencies WHERE task_id = ?`, snap.ID); err != nil {
		return fmt.Errorf("failed to delete old dependencies: %w", err)
	}
	for i, depID := range snap.Dependencies {
		_, err := q.ExecContext(ctx, `
			INSERT INTO task_dependencies (task_id, depends_on_id, position)
			VALUES (?, ?, ?)
		`, snap.ID, depID, i)
		if err != nil {
			return fmt.Errorf("failed to insert dependency %s -> %s: %w", snap.ID, depID, err)
		}
	}
	return nil
}

// FindByID returns the task with id, or a *task.NotFoundError.
func (s *SQLiteStore) FindByID(ctx context.Context, id string) (*task.Task, error) {
	tasks, err := s.queryTasks(ctx, `WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, &task.NotFoundError{TaskID: id}
	}
	return tasks[0], nil
}

// FindAll returns the tasks matching filter, oldest first.
func (s *SQLiteStore) FindAll(ctx context.Context, filter task.Filter) ([]*task.Task, error) {
	var conds []string
	var args []any
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Priority != "" {
		conds = append(conds, "priority = ?")
		args = append(args, string(filter.Priority))
	}
	if filter.AgentID != "" {
		conds = append(conds, "assigned_agent = ?")
		args = append(args, filter.AgentID)
	}
	if filter.ParentID != "" {
		conds = append(conds, "parent_id = ?")
		args = append(args, filter.ParentID)
	}

	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}
	return s.queryTasks(ctx, where, args...)
}

// FindDependents returns the tasks that list id as a dependency.
func (s *SQLiteStore) FindDependents(ctx context.Context, id string) ([]*task.Task, error) {
	return s.queryTasks(ctx, `WHERE id IN (SELECT task_id FROM task_dependencies WHERE depends_on_id = ?)`, id)
}

// FindOverdue returns tasks due before at that are not COMPLETED.
func (s *SQLiteStore) FindOverdue(ctx context.Context, at time.Time) ([]*task.Task, error) {
	return s.queryTasks(ctx, `WHERE due_date != '' AND due_date < ? AND status != ?`,
		formatTime(at), string(task.StatusCompleted))
}

// Delete removes a task and its outgoing dependency edges.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	return s.DeleteMany(ctx, []string{id})
}

// DeleteMany removes every id in one transaction. An unknown id aborts it.
func (s *SQLiteStore) DeleteMany(ctx context.Context, ids []string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, id := range ids {
		res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("failed to delete task %s: %w", id, err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 0 {
			return &task.NotFoundError{TaskID: id}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM task_dependencies WHERE task_id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete dependencies of %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// queryTasks loads the matching rows first and their dependencies second,
// so no two result sets are open on the pool at once.
func (s *SQLiteStore) queryTasks(ctx context.Context, where string, args ...any) ([]*task.Task, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	snaps, err := scanTasks(ctx, s.db, `SELECT `+taskColumns+` FROM tasks `+where+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, nil
	}
	if err := s.loadDependencies(ctx, snaps); err != nil {
		return nil, err
	}

	tasks := make([]*task.Task, 0, len(snaps))
	for _, snap := range snaps {
		t, err := task.Restore(*snap)
		if err != nil {
			return nil, fmt.Errorf("failed to restore task %s: %w", snap.ID, err)
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func scanTasks(ctx context.Context, q queryer, query string, args ...any) ([]*task.Snapshot, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var snaps []*task.Snapshot
	for rows.Next() {
		snap, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	return snaps, nil
}

func scanTask(rows *sql.Rows) (*task.Snapshot, error) {
	var snap task.Snapshot
	var status, priority, metadata, result string
	var created, updated, started, completed, due string
	err := rows.Scan(&snap.ID, &snap.Title, &snap.Description, &status, &priority,
		&snap.AssignedAgent, &snap.ParentID, &metadata, &result,
		&created, &updated, &started, &completed, &due)
	if err != nil {
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}
	snap.Status = task.Status(status)
	snap.Priority = task.Priority(priority)

	if err := decodeJSON(metadata, &snap.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode metadata of task %s: %w", snap.ID, err)
	}
	if result != "" {
		snap.Result = new(task.ResultSnapshot)
		if err := decodeJSON(result, snap.Result); err != nil {
			return nil, fmt.Errorf("failed to decode result of task %s: %w", snap.ID, err)
		}
	}

	for _, f := range []struct {
		dst *time.Time
		src string
	}{
		{&snap.CreatedAt, created},
		{&snap.UpdatedAt, updated},
		{&snap.StartedAt, started},
		{&snap.CompletedAt, completed},
		{&snap.DueDate, due},
	} {
		t, err := parseTime(f.src)
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", snap.ID, err)
		}
		*f.dst = t
	}
	snap.Dependencies = []string{}
	return &snap, nil
}

// dependencyBatch bounds the ids bound per dependency query, well under
// SQLite's host parameter limit.
var dependencyBatch = 500

func (s *SQLiteStore) loadDependencies(ctx context.Context, snaps []*task.Snapshot) error {
	byID := make(map[string]*task.Snapshot, len(snaps))
	for _, snap := range snaps {
		byID[snap.ID] = snap
	}
	for chunk := range slices.Chunk(snaps, dependencyBatch) {
		if err := s.loadDependencyChunk(ctx, chunk, byID); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) loadDependencyChunk(ctx context.Context, chunk []*task.Snapshot, byID map[string]*task.Snapshot) error {
	placeholders := make([]string, 0, len(chunk))
	args := make([]any, 0, len(chunk))
	for _, snap := range chunk {
		placeholders = append(placeholders, "?")
		args = append(args, snap.ID)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, depends_on_id
		FROM task_dependencies
		WHERE task_id IN (`+strings.Join(placeholders, ", ")+`)
		ORDER BY task_id, position
	`, args...)
	if err != nil {
		return fmt.Errorf("failed to query dependencies: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var taskID, depID string
		if err := rows.Scan(&taskID, &depID); err != nil {
			return fmt.Errorf("failed to scan dependency: %w", err)
		}
		if snap, ok := byID[taskID]; ok {
			snap.Dependencies = append(snap.Dependencies, depID)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating dependencies: %w", err)
	}
	return nil
}
