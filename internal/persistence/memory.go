package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MetaTaskID is the metadata key that ties a memory entry to a task.
const MetaTaskID = "taskId"

// MemoryEntry is one record in an agent's memory log.
type MemoryEntry struct {
	ID        string
	AgentID   string
	TaskID    string
	Content   string
	Metadata  map[string]any
	CreatedAt time.Time
}

// Store appends a memory entry for agentID. The task id is taken from
// metadata[MetaTaskID] when present.
func (s *SQLiteStore) Store(ctx context.Context, content string, metadata map[string]any, agentID string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	meta, err := encodeJSON(metadata, len(metadata) == 0)
	if err != nil {
		return fmt.Errorf("failed to encode memory metadata: %w", err)
	}

	// Memory entries are append-only (no upsert needed)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memory_entries (id, agent_id, task_id, content, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, uuid.NewString(), agentID, taskIDOf(metadata), content, meta, formatTime(s.now()))
	if err != nil {
		return fmt.Errorf("failed to save memory entry: %w", err)
	}
	return nil
}

// ListByTask returns the latest limit entries for taskID in the order they
// were stored. A limit of zero or less returns every entry.
func (s *SQLiteStore) ListByTask(ctx context.Context, taskID string, limit int) ([]MemoryEntry, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if limit <= 0 {
		limit = -1
	}
	// Newest first with a limit, then reversed: seq breaks same-instant ties
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent_id, task_id, content, metadata, created_at
		FROM memory_entries
		WHERE task_id = ?
		ORDER BY seq DESC
		LIMIT ?
	`, taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query memory: %w", err)
	}
	defer rows.Close()

	entries := []MemoryEntry{}
	for rows.Next() {
		var e MemoryEntry
		var meta, created string
		if err := rows.Scan(&e.ID, &e.AgentID, &e.TaskID, &e.Content, &meta, &created); err != nil {
			return nil, fmt.Errorf("failed to scan memory entry: %w", err)
		}
		if err := decodeJSON(meta, &e.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode memory metadata: %w", err)
		}
		if e.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating memory: %w", err)
	}

	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

func taskIDOf(metadata map[string]any) string {
	id, _ := metadata[MetaTaskID].(string)
	return id
}
