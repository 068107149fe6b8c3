// Package auth covers account lifecycle and the message-token contract: every
// chat-facing request carries `{username, token}` and resolves to a user id
// or a 401.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/vocagent/vocagent/api/domain"
)

// TokenSigner issues and verifies message tokens: base64url(user-id) "."
// base64url(HMAC-SHA256(user-id)).
type TokenSigner struct {
	secret []byte
}

func NewTokenSigner(secret string) *TokenSigner {
	return &TokenSigner{secret: []byte(secret)}
}

func (t *TokenSigner) sign(userID string) []byte {
	mac := hmac.New(sha256.New, t.secret)
	mac.Write([]byte(userID))
	return mac.Sum(nil)
}

// Sign issues a message token for the user.
func (t *TokenSigner) Sign(userID string) string {
	enc := base64.RawURLEncoding
	return enc.EncodeToString([]byte(userID)) + "." + enc.EncodeToString(t.sign(userID))
}

// Verify checks a message token and returns the embedded user id.
func (t *TokenSigner) Verify(token string) (string, error) {
	idPart, sigPart, ok := strings.Cut(token, ".")
	if !ok {
		return "", fmt.Errorf("malformed token: %w", domain.ErrUnauthorized)
	}
	enc := base64.RawURLEncoding
	idBytes, err := enc.DecodeString(idPart)
	if err != nil {
		return "", fmt.Errorf("decode token id: %w", domain.ErrUnauthorized)
	}
	sig, err := enc.DecodeString(sigPart)
	if err != nil {
		return "", fmt.Errorf("decode token signature: %w", domain.ErrUnauthorized)
	}
	if !hmac.Equal(sig, t.sign(string(idBytes))) {
		return "", fmt.Errorf("token signature mismatch: %w", domain.ErrUnauthorized)
	}
	return string(idBytes), nil
}
