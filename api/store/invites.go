package store

import (
	"context"
	"fmt"
	"time"

	"github.com/vocagent/vocagent/api/domain"
	"github.com/vocagent/vocagent/shared/id"
)

// MintInviteCodes creates n unused invite codes and returns them.
func (s *Store) MintInviteCodes(ctx context.Context, n int) ([]string, error) {
	codes := make([]string, 0, n)
	now := time.Now()
	err := s.WithTx(ctx, func(ctx context.Context) error {
		for i := 0; i < n; i++ {
			code := id.NewInvite()
			_, err := s.conn(ctx).ExecContext(ctx, `
				INSERT INTO invite_codes (code, is_used, created_at)
				VALUES (?, 0, ?)`,
				code, now)
			if err != nil {
				return fmt.Errorf("insert invite code: %w", err)
			}
			codes = append(codes, code)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return codes, nil
}

// GetInviteCode retrieves an invite code row.
func (s *Store) GetInviteCode(ctx context.Context, code string) (*domain.InviteCode, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `
		SELECT code, is_used, created_at, used_at, user_id
		FROM invite_codes WHERE code = ?`, code)

	ic := &domain.InviteCode{}
	var isUsed int
	err := row.Scan(&ic.Code, &isUsed, &ic.CreatedAt, &ic.UsedAt, &ic.UserID)
	if err != nil {
		return nil, WrapNotFound("get invite code", err)
	}
	ic.IsUsed = isUsed != 0
	return ic, nil
}

// ClaimInviteCode marks a code used by userID. Returns domain.ErrConflict if
// it was already claimed, so a code is single-use even under concurrent
// registrations.
func (s *Store) ClaimInviteCode(ctx context.Context, code, userID string) error {
	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE invite_codes
		SET is_used = 1, used_at = ?, user_id = ?
		WHERE code = ? AND is_used = 0`,
		time.Now(), userID, code)
	if err != nil {
		return fmt.Errorf("claim invite code: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrConflict
	}
	return nil
}
