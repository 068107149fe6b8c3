package auth

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vocagent/vocagent/api/cache"
	"github.com/vocagent/vocagent/api/domain"
	"github.com/vocagent/vocagent/api/memory"
	"github.com/vocagent/vocagent/api/store"
)

type nopIndex struct{}

func (nopIndex) Add(_ context.Context, _, _ string) (string, error)    { return "mem_x", nil }
func (nopIndex) Update(_ context.Context, _, _, _ string) error        { return nil }
func (nopIndex) Delete(_ context.Context, _, _ string) error           { return nil }
func (nopIndex) Search(_ context.Context, _, _ string, _ int) ([]*domain.MemoryHit, error) {
	return nil, nil
}

func setupService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	s.DB().SetMaxOpenConns(1)
	t.Cleanup(func() { _ = s.Close() })

	mr := miniredis.RunT(t)
	c := cache.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	mem := memory.New(s, c, nopIndex{})

	return NewService(s, mem, NewTokenSigner("test-secret")), s
}

func mintCode(t *testing.T, s *store.Store) string {
	t.Helper()
	codes, err := s.MintInviteCodes(context.Background(), 1)
	require.NoError(t, err)
	return codes[0]
}

func TestTokenSignVerify(t *testing.T) {
	signer := NewTokenSigner("secret-a")
	token := signer.Sign("usr_abc")

	userID, err := signer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "usr_abc", userID)

	_, err = signer.Verify("not-a-token")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = NewTokenSigner("secret-b").Verify(token)
	assert.ErrorIs(t, err, domain.ErrUnauthorized, "token from another secret is rejected")
}

func TestRegisterLoginRoundTrip(t *testing.T) {
	svc, s := setupService(t)
	ctx := context.Background()
	code := mintCode(t, s)

	user, err := svc.Register(ctx, "alice", "s3cret", code)
	require.NoError(t, err)
	assert.NotEmpty(t, user.UUID)
	assert.NotEqual(t, "s3cret", user.PasswordHash)

	creds, err := svc.Login(ctx, "alice", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, user.UUID, creds.UserID)
	assert.NotEmpty(t, creds.AuthToken)

	gotID, err := svc.Check(ctx, "alice", creds.MessageToken)
	require.NoError(t, err)
	assert.Equal(t, user.UUID, gotID)

	_, err = svc.Check(ctx, "mallory", creds.MessageToken)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = svc.Login(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestRegisterInviteCodeSingleUse(t *testing.T) {
	svc, s := setupService(t)
	ctx := context.Background()
	code := mintCode(t, s)

	_, err := svc.Register(ctx, "alice", "pw", code)
	require.NoError(t, err)

	_, err = svc.Register(ctx, "bob", "pw", code)
	assert.ErrorIs(t, err, domain.ErrConflict, "claimed code cannot register again")

	_, err = svc.Register(ctx, "carol", "pw", "bogus-code")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestAutoLoginRotatesToken(t *testing.T) {
	svc, s := setupService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "alice", "pw", mintCode(t, s))
	require.NoError(t, err)
	first, err := svc.Login(ctx, "alice", "pw")
	require.NoError(t, err)

	second, err := svc.AutoLogin(ctx, "alice", first.AuthToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.AuthToken, second.AuthToken)

	_, err = svc.AutoLogin(ctx, "alice", first.AuthToken)
	assert.ErrorIs(t, err, domain.ErrUnauthorized, "used token no longer works")
}
