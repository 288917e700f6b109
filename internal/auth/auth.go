// Package auth holds the access token used to authenticate the realtime socket.
package auth

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenSource supplies the current access token. An empty string means no
// token is available.
type TokenSource interface {
	AccessToken() string
}

// Store is an in-memory, concurrency-safe token holder.
//
// Tokens that parse as a JWT carrying an exp claim are reported as absent
// once expired, so a connect attempt fails fast instead of being rejected by
// the server. The signature is not verified; that is the backend's job.
// Opaque tokens pass through unchanged.
type Store struct {
	mu    sync.RWMutex
	token string
	now   func() time.Time
}

// NewStore creates a Store holding token (which may be empty).
func NewStore(token string) *Store {
	return &Store{token: strings.TrimSpace(token), now: time.Now}
}

// Set replaces the token.
func (s *Store) Set(token string) {
	s.mu.Lock()
	s.token = strings.TrimSpace(token)
	s.mu.Unlock()
}

// Clear removes the token (logout).
func (s *Store) Clear() {
	s.Set("")
}

// AccessToken returns the token, or "" when none is set or it has expired.
func (s *Store) AccessToken() string {
	s.mu.RLock()
	token, now := s.token, s.now
	s.mu.RUnlock()

	if token == "" {
		return ""
	}
	exp, ok := ExpiresAt(token)
	if ok && !exp.After(now()) {
		return ""
	}
	return token
}

// ExpiresAt returns the exp claim of a JWT. ok is false for opaque tokens and
// JWTs without exp.
func ExpiresAt(token string) (exp time.Time, ok bool) {
	if strings.Count(token, ".") != 2 {
		return time.Time{}, false
	}
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}
	date, err := parsed.Claims.GetExpirationTime()
	if err != nil || date == nil {
		return time.Time{}, false
	}
	return date.Time, true
}

// LoadTokenFile reads a token from path, trimming surrounding whitespace.
func LoadTokenFile(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("token file path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("token file %s is empty", path)
	}
	return token, nil
}
