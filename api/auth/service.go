package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"golang.org/x/crypto/bcrypt"

	"github.com/vocagent/vocagent/api/domain"
	"github.com/vocagent/vocagent/api/memory"
	"github.com/vocagent/vocagent/api/store"
)

// authTokenLen sizes the rotating auto-login token.
const authTokenLen = 32

type Service struct {
	store  *store.Store
	mem    *memory.Facade
	signer *TokenSigner
}

func NewService(s *store.Store, mem *memory.Facade, signer *TokenSigner) *Service {
	return &Service{store: s, mem: mem, signer: signer}
}

// Credentials is what login flows hand back to the client.
type Credentials struct {
	UserID       string
	AuthToken    string
	MessageToken string
}

// Register creates an account behind a single-use invite code.
func (s *Service) Register(ctx context.Context, username, password, inviteCode string) (*domain.User, error) {
	if username == "" || password == "" {
		return nil, fmt.Errorf("username and password required: %w", domain.ErrInvalidInput)
	}
	if _, err := s.store.GetInviteCode(ctx, inviteCode); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("invite code unknown: %w", domain.ErrUnauthorized)
		}
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &domain.User{Username: username, PasswordHash: string(hash)}
	err = s.store.WithTx(ctx, func(txCtx context.Context) error {
		if err := s.store.CreateUser(txCtx, user); err != nil {
			return err
		}
		return s.store.ClaimInviteCode(txCtx, inviteCode, user.UUID)
	})
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "user registered", "user_id", user.UUID, "username", username)
	return user, nil
}

// Login verifies the password, rotates the auth token and warms the user's
// working set.
func (s *Service) Login(ctx context.Context, username, password string) (*Credentials, error) {
	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("unknown user: %w", domain.ErrUnauthorized)
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, fmt.Errorf("password mismatch: %w", domain.ErrUnauthorized)
	}
	return s.establishSession(ctx, user)
}

// AutoLogin exchanges a previously issued auth token for a fresh session.
// The token rotates on every use.
func (s *Service) AutoLogin(ctx context.Context, username, authToken string) (*Credentials, error) {
	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("unknown user: %w", domain.ErrUnauthorized)
		}
		return nil, err
	}
	if user.AuthToken == "" || user.AuthToken != authToken {
		return nil, fmt.Errorf("auth token mismatch: %w", domain.ErrUnauthorized)
	}
	return s.establishSession(ctx, user)
}

// Check validates a message token against the claimed username and returns
// the user id.
func (s *Service) Check(ctx context.Context, username, token string) (string, error) {
	userID, err := s.signer.Verify(token)
	if err != nil {
		return "", err
	}
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", fmt.Errorf("token user gone: %w", domain.ErrUnauthorized)
		}
		return "", err
	}
	if user.Username != username {
		return "", fmt.Errorf("token user mismatch: %w", domain.ErrUnauthorized)
	}
	return userID, nil
}

func (s *Service) establishSession(ctx context.Context, user *domain.User) (*Credentials, error) {
	token, err := gonanoid.New(authTokenLen)
	if err != nil {
		return nil, fmt.Errorf("generate auth token: %w", err)
	}
	if err := s.store.UpdateAuthToken(ctx, user.UUID, token); err != nil {
		return nil, err
	}
	if err := s.store.UpdateLastLogin(ctx, user.UUID, time.Now()); err != nil {
		return nil, err
	}
	if err := s.mem.PrefillWorkingSet(ctx, user.UUID); err != nil {
		slog.WarnContext(ctx, "working-set prefill failed on login",
			"user_id", user.UUID, "error", err)
	}
	slog.InfoContext(ctx, "session established", "user_id", user.UUID)
	return &Credentials{
		UserID:       user.UUID,
		AuthToken:    token,
		MessageToken: s.signer.Sign(user.UUID),
	}, nil
}
