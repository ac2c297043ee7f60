package manager

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidate(t *testing.T) {
	tm := NewTokenManager()
	jt, err := tm.Generate([]string{"edge"})
	require.NoError(t, err)

	tags, err := tm.Validate(jt.Token)
	require.NoError(t, err)
	assert.Equal(t, []string{"edge"}, tags)
}

func TestValidateUnknownToken(t *testing.T) {
	tm := NewTokenManager()
	_, err := tm.Validate("does-not-exist")
	assert.Error(t, err)
}

func TestValidateExpiredToken(t *testing.T) {
	tm := NewTokenManager()
	jt, err := tm.Generate(nil)
	require.NoError(t, err)

	tm.mu.Lock()
	tm.tokens[jt.Token].ExpiresAt = time.Now().Add(-time.Minute)
	tm.mu.Unlock()

	_, err = tm.Validate(jt.Token)
	assert.Error(t, err)
}

func TestRevoke(t *testing.T) {
	tm := NewTokenManager()
	jt, err := tm.Generate(nil)
	require.NoError(t, err)

	tm.Revoke(jt.Token)
	_, err = tm.Validate(jt.Token)
	assert.Error(t, err)
}
