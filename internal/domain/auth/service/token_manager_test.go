package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTTokenManager_RoundTrip(t *testing.T) {
	m := NewTokenManager("test-secret", 15*time.Minute, 24*time.Hour)

	pair, err := m.GenerateTokenPair("user-1", "user@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Bearer", pair.TokenType)
	assert.NotEqual(t, pair.AccessToken, pair.RefreshToken)

	claims, err := m.ValidateAccessToken(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "user@example.com", claims.Email)

	claims, err = m.ValidateRefreshToken(pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
}

func TestJWTTokenManager_RejectsSwappedTypes(t *testing.T) {
	m := NewTokenManager("test-secret", 15*time.Minute, 24*time.Hour)
	pair, err := m.GenerateTokenPair("user-1", "user@example.com")
	require.NoError(t, err)

	_, err = m.ValidateAccessToken(pair.RefreshToken)
	assert.ErrorIs(t, err, errWrongTokenType)
	_, err = m.ValidateRefreshToken(pair.AccessToken)
	assert.ErrorIs(t, err, errWrongTokenType)
}

func TestJWTTokenManager_RejectsExpiredAndForeign(t *testing.T) {
	m := NewTokenManager("test-secret", time.Minute, time.Hour)
	issued := time.Now().Add(-2 * time.Minute)
	m.now = func() time.Time { return issued }
	pair, err := m.GenerateTokenPair("user-1", "user@example.com")
	require.NoError(t, err)

	m.now = time.Now
	_, err = m.ValidateAccessToken(pair.AccessToken)
	assert.Error(t, err)

	other := NewTokenManager("other-secret", time.Minute, time.Hour)
	fresh, err := other.GenerateTokenPair("user-1", "user@example.com")
	require.NoError(t, err)
	_, err = m.ValidateAccessToken(fresh.AccessToken)
	assert.Error(t, err)
}

func TestVerificationCodeFormat(t *testing.T) {
	for range 50 {
		code, err := generateVerificationCode()
		require.NoError(t, err)
		assert.Len(t, code, 6)
	}
}
