package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vocagent/vocagent/api/domain"
	"github.com/vocagent/vocagent/shared/id"
)

// AppendConversations appends entries to a user's log in one transaction and
// bumps both the total-turns counter and the working-window count by
// len(entries). Entry order is preserved.
func (s *Store) AppendConversations(ctx context.Context, userID string, entries []*domain.ConversationEntry) error {
	if len(entries) == 0 {
		return nil
	}

	return s.WithTx(ctx, func(ctx context.Context) error {
		var seq int
		err := s.conn(ctx).QueryRowContext(ctx,
			`SELECT COALESCE(MAX(seq), 0) FROM conversations WHERE user_id = ?`, userID).Scan(&seq)
		if err != nil {
			return fmt.Errorf("next sequence: %w", err)
		}

		for _, e := range entries {
			if e.UUID == "" {
				e.UUID = id.NewConversation()
			}
			if e.Timestamp.IsZero() {
				e.Timestamp = time.Now()
			}
			e.UserID = userID

			var meta any
			if e.AuxData != nil {
				b, err := json.Marshal(e.AuxData)
				if err != nil {
					return fmt.Errorf("marshal aux data: %w", err)
				}
				meta = string(b)
			}

			seq++
			_, err := s.conn(ctx).ExecContext(ctx, `
				INSERT INTO conversations (uuid, user_id, timestamp, source, type, content, meta_data, seq)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				e.UUID, userID, e.Timestamp, string(e.Source), string(e.Type), e.Content, meta, seq)
			if err != nil {
				return fmt.Errorf("insert conversation: %w", err)
			}
		}

		_, err = s.conn(ctx).ExecContext(ctx, `
			UPDATE users
			SET all_memory_count = all_memory_count + ?,
			    context_memory_count = context_memory_count + ?
			WHERE uuid = ?`,
			len(entries), len(entries), userID)
		if err != nil {
			return fmt.Errorf("bump counters: %w", err)
		}
		return nil
	})
}

// CountConversations returns the total number of entries for a user.
func (s *Store) CountConversations(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.conn(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversations WHERE user_id = ?`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count conversations: %w", err)
	}
	return n, nil
}

// ListConversations returns entries [offset, offset+limit) in chronological
// order.
func (s *Store) ListConversations(ctx context.Context, userID string, offset, limit int) ([]*domain.ConversationEntry, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT uuid, user_id, timestamp, source, type, content, meta_data
		FROM conversations
		WHERE user_id = ?
		ORDER BY seq
		LIMIT ? OFFSET ?`,
		userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()
	return scanConversations(rows)
}

// TailConversations returns the last n entries in chronological order.
func (s *Store) TailConversations(ctx context.Context, userID string, n int) ([]*domain.ConversationEntry, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT uuid, user_id, timestamp, source, type, content, meta_data
		FROM (
			SELECT uuid, user_id, timestamp, source, type, content, meta_data, seq
			FROM conversations
			WHERE user_id = ?
			ORDER BY seq DESC
			LIMIT ?
		)
		ORDER BY seq`,
		userID, n)
	if err != nil {
		return nil, fmt.Errorf("tail conversations: %w", err)
	}
	defer rows.Close()
	return scanConversations(rows)
}

// GetConversation retrieves a single entry by id, scoped to the user.
func (s *Store) GetConversation(ctx context.Context, userID, entryID string) (*domain.ConversationEntry, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT uuid, user_id, timestamp, source, type, content, meta_data
		FROM conversations
		WHERE user_id = ? AND uuid = ?`,
		userID, entryID)
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	defer rows.Close()

	entries, err := scanConversations(rows)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, domain.ErrNotFound
	}
	return entries[0], nil
}

func scanConversations(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
}) ([]*domain.ConversationEntry, error) {
	var entries []*domain.ConversationEntry
	for rows.Next() {
		e := &domain.ConversationEntry{}
		var source, typ string
		var meta *string
		if err := rows.Scan(&e.UUID, &e.UserID, &e.Timestamp, &source, &typ, &e.Content, &meta); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		e.Source = domain.Source(source)
		e.Type = domain.NormalizeContentType(typ)
		if meta != nil && *meta != "" {
			if err := json.Unmarshal([]byte(*meta), &e.AuxData); err != nil {
				return nil, fmt.Errorf("unmarshal aux data: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
