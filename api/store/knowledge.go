package store

import (
	"context"
	"fmt"
	"time"

	"github.com/vocagent/vocagent/shared/id"
)

// ReplaceKnowledgeBuffer replaces the user's retrieval snapshot wholesale:
// previous rows are deleted and the new items are inserted in order.
func (s *Store) ReplaceKnowledgeBuffer(ctx context.Context, userID string, items []string) error {
	return s.WithTx(ctx, func(ctx context.Context) error {
		if _, err := s.conn(ctx).ExecContext(ctx,
			`DELETE FROM knowledge_buffers WHERE user_id = ?`, userID); err != nil {
			return fmt.Errorf("clear knowledge buffer: %w", err)
		}

		now := time.Now()
		for i, content := range items {
			_, err := s.conn(ctx).ExecContext(ctx, `
				INSERT INTO knowledge_buffers (uuid, user_id, content, created_at, position)
				VALUES (?, ?, ?, ?, ?)`,
				id.NewKnowledge(), userID, content, now, i)
			if err != nil {
				return fmt.Errorf("insert knowledge item: %w", err)
			}
		}
		return nil
	})
}

// ListKnowledgeBuffer returns the user's snapshot in insertion order.
func (s *Store) ListKnowledgeBuffer(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT content FROM knowledge_buffers
		WHERE user_id = ?
		ORDER BY position`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("list knowledge buffer: %w", err)
	}
	defer rows.Close()

	var items []string
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, fmt.Errorf("scan knowledge item: %w", err)
		}
		items = append(items, content)
	}
	return items, rows.Err()
}
