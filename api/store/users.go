package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vocagent/vocagent/api/domain"
	"github.com/vocagent/vocagent/shared/id"
)

// DefaultNickname is how the persona addresses a user before learning a name.
const DefaultNickname = "你"

// CreateUser inserts a new user. Username collisions return domain.ErrConflict.
func (s *Store) CreateUser(ctx context.Context, u *domain.User) error {
	if u.UUID == "" {
		u.UUID = id.NewUser()
	}
	if u.Nickname == "" {
		u.Nickname = DefaultNickname
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO users (uuid, username, password, created_at, nickname, description,
			context_summary, context_memory_count, all_memory_count, auth_token)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.conn(ctx).ExecContext(ctx, query,
		u.UUID, u.Username, u.PasswordHash, u.CreatedAt, u.Nickname, u.Description,
		u.ContextSummary, u.ContextMemoryCount, u.AllMemoryCount, u.AuthToken)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return domain.ErrConflict
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

const userColumns = `uuid, username, password, created_at, last_login, nickname,
	description, context_summary, context_memory_count, all_memory_count, auth_token`

func scanUser(row *sql.Row) (*domain.User, error) {
	u := &domain.User{}
	var lastLogin sql.NullTime
	err := row.Scan(&u.UUID, &u.Username, &u.PasswordHash, &u.CreatedAt, &lastLogin,
		&u.Nickname, &u.Description, &u.ContextSummary, &u.ContextMemoryCount,
		&u.AllMemoryCount, &u.AuthToken)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if lastLogin.Valid {
		u.LastLogin = &lastLogin.Time
	}
	return u, nil
}

// GetUser retrieves a user by id.
func (s *Store) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	row := s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE uuid = ?`, userID)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// GetUserByUsername retrieves a user by login name.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	row := s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ?`, username)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get user by username: %w", err)
	}
	return u, nil
}

// UpdateLastLogin stamps a successful login.
func (s *Store) UpdateLastLogin(ctx context.Context, userID string, at time.Time) error {
	_, err := s.conn(ctx).ExecContext(ctx,
		`UPDATE users SET last_login = ? WHERE uuid = ?`, at, userID)
	if err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return nil
}

// UpdateAuthToken rotates the auto-login token; the previous value stops
// validating immediately.
func (s *Store) UpdateAuthToken(ctx context.Context, userID, token string) error {
	res, err := s.conn(ctx).ExecContext(ctx,
		`UPDATE users SET auth_token = ? WHERE uuid = ?`, token, userID)
	if err != nil {
		return fmt.Errorf("update auth token: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateNickname changes how the persona addresses the user.
func (s *Store) UpdateNickname(ctx context.Context, userID, nickname string) error {
	res, err := s.conn(ctx).ExecContext(ctx,
		`UPDATE users SET nickname = ? WHERE uuid = ?`, nickname, userID)
	if err != nil {
		return fmt.Errorf("update nickname: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateSummary replaces the rolling summary and resets the working-window
// count to windowCount.
func (s *Store) UpdateSummary(ctx context.Context, userID, summary string, windowCount int) error {
	res, err := s.conn(ctx).ExecContext(ctx,
		`UPDATE users SET context_summary = ?, context_memory_count = ? WHERE uuid = ?`,
		summary, windowCount, userID)
	if err != nil {
		return fmt.Errorf("update summary: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
