package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSeed = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func TestNewJWTManagerRejectsBadSeeds(t *testing.T) {
	_, err := NewJWTManager("not-hex", time.Hour)
	require.Error(t, err)
	_, err = NewJWTManager("abcd", time.Hour)
	require.Error(t, err)

	seed, err := GenerateSeed()
	require.NoError(t, err)
	_, err = NewJWTManager(seed, 0)
	require.NoError(t, err)
}

func TestIssueAndValidate(t *testing.T) {
	j, err := NewJWTManager(testSeed, time.Hour)
	require.NoError(t, err)

	token, err := j.IssueBotToken(42)
	require.NoError(t, err)

	claims, err := j.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.BotID)
	assert.Equal(t, "42", claims.Subject)
}

func TestValidateRejectsExpiredAndForeignTokens(t *testing.T) {
	j, err := NewJWTManager(testSeed, time.Hour)
	require.NoError(t, err)
	token, err := j.IssueBotToken(1)
	require.NoError(t, err)

	j.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = j.ValidateToken(context.Background(), token)
	require.Error(t, err)

	otherSeed, err := GenerateSeed()
	require.NoError(t, err)
	other, err := NewJWTManager(otherSeed, time.Hour)
	require.NoError(t, err)
	foreign, err := other.IssueBotToken(1)
	require.NoError(t, err)
	_, err = j.ValidateToken(context.Background(), foreign)
	require.Error(t, err)
}

func TestAuthenticate(t *testing.T) {
	j, err := NewJWTManager(testSeed, time.Hour)
	require.NoError(t, err)
	token, err := j.IssueBotToken(7)
	require.NoError(t, err)

	headers := func(v string) func(string) string {
		return func(name string) string {
			if name == "Authorization" {
				return v
			}
			return ""
		}
	}

	session, err := j.Authenticate(context.Background(), headers(""))
	require.NoError(t, err)
	assert.Nil(t, session)

	_, err = j.Authenticate(context.Background(), headers("Bearer garbage"))
	require.Error(t, err)

	session, err = j.Authenticate(context.Background(), headers("bearer "+token))
	require.NoError(t, err)
	require.NotNil(t, session)

	ctx := AuthSessionTo(context.Background(), session)
	assert.NoError(t, RequireBot(ctx, 7))
	assert.ErrorIs(t, RequireBot(ctx, 8), ErrForbidden)
	assert.ErrorIs(t, RequireBot(context.Background(), 7), ErrUnauthenticated)
}
