package manager

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// defaultTokenValidity is the enrollment window: a token minted by
// Generate stays valid for a day.
const defaultTokenValidity = 24 * time.Hour

// JoinToken authorizes one node to enroll into the cluster.
type JoinToken struct {
	Token     string
	Tags      []string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// TokenManager issues and validates enrollment tokens. It is node-local
// and in-memory: tokens are minted by whichever node an operator is
// talking to and only need to survive long enough for a joining node to
// redeem them once.
type TokenManager struct {
	mu     sync.RWMutex
	tokens map[string]*JoinToken
}

// NewTokenManager returns an empty token manager.
func NewTokenManager() *TokenManager {
	return &TokenManager{tokens: make(map[string]*JoinToken)}
}

// Generate mints a new enrollment token tagged with the tags a joining
// node's registration should carry, valid for the default window.
func (tm *TokenManager) Generate(tags []string) (*JoinToken, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	jt := &JoinToken{
		Token:     hex.EncodeToString(raw),
		Tags:      tags,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(defaultTokenValidity),
	}

	tm.mu.Lock()
	tm.tokens[jt.Token] = jt
	tm.mu.Unlock()

	return jt, nil
}

// Validate checks a token is known and unexpired, returning the tags it
// was minted with.
func (tm *TokenManager) Validate(token string) ([]string, error) {
	tm.mu.RLock()
	jt, ok := tm.tokens[token]
	tm.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("invalid enrollment token")
	}
	if time.Now().After(jt.ExpiresAt) {
		return nil, fmt.Errorf("enrollment token expired")
	}
	return jt.Tags, nil
}

// Revoke removes a token immediately, regardless of expiry.
func (tm *TokenManager) Revoke(token string) {
	tm.mu.Lock()
	delete(tm.tokens, token)
	tm.mu.Unlock()
}

// CleanupExpired drops tokens past their expiry.
func (tm *TokenManager) CleanupExpired() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	now := time.Now()
	for token, jt := range tm.tokens {
		if now.After(jt.ExpiresAt) {
			delete(tm.tokens, token)
		}
	}
}
