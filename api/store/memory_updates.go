package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vocagent/vocagent/api/domain"
	"github.com/vocagent/vocagent/shared/id"
)

// InsertMemoryUpdate records a memory-update command in the audit log. The
// command body is stored as JSON.
func (s *Store) InsertMemoryUpdate(ctx context.Context, userID string, cmd *domain.MemoryUpdateCommand) error {
	if cmd.UUID == "" {
		cmd.UUID = id.NewMemoryCommand()
	}
	if cmd.CreatedAt.IsZero() {
		cmd.CreatedAt = time.Now()
	}
	cmd.UserID = userID

	body, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal memory command: %w", err)
	}

	_, err = s.conn(ctx).ExecContext(ctx, `
		INSERT INTO memory_update_records (update_cmd_uuid, user_id, update_command, created_at)
		VALUES (?, ?, ?, ?)`,
		cmd.UUID, userID, string(body), cmd.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert memory update: %w", err)
	}
	return nil
}

// ListRecentMemoryUpdates returns the user's newest n commands, oldest first.
func (s *Store) ListRecentMemoryUpdates(ctx context.Context, userID string, n int) ([]*domain.MemoryUpdateCommand, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT update_command FROM (
			SELECT update_command, created_at FROM memory_update_records
			WHERE user_id = ?
			ORDER BY created_at DESC
			LIMIT ?
		)
		ORDER BY created_at`,
		userID, n)
	if err != nil {
		return nil, fmt.Errorf("list memory updates: %w", err)
	}
	defer rows.Close()

	var cmds []*domain.MemoryUpdateCommand
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan memory update: %w", err)
		}
		cmd := &domain.MemoryUpdateCommand{}
		if err := json.Unmarshal([]byte(body), cmd); err != nil {
			return nil, fmt.Errorf("unmarshal memory command: %w", err)
		}
		cmds = append(cmds, cmd)
	}
	return cmds, rows.Err()
}
