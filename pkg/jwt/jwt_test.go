package jwt

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(t *testing.T, claims *Claims, secret string) string {
	t.Helper()
	token, err := Sign(claims, secret)
	require.NoError(t, err)
	return token
}

func TestParseVerified(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token := sign(t, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp)},
		UserID:           "admin-1",
		Email:            "ops@example.com",
		Role:             "admin",
	}, "secret")

	id, err := NewParser("secret").Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "admin-1", id.UserID)
	assert.Equal(t, "ops@example.com", id.Email)
	assert.Equal(t, "admin", id.Role)
	assert.True(t, exp.Equal(id.ExpiresAt))

	_, err = NewParser("other").Parse(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseUnverified(t *testing.T) {
	token := sign(t, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "sub-7"},
		Roles:            []string{"landlord", "admin"},
	}, "whatever")

	id, err := NewParser("").Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "sub-7", id.UserID)
	assert.Equal(t, "landlord", id.Role)
	assert.True(t, id.ExpiresAt.IsZero())
}

func TestParseUserIDFallbacks(t *testing.T) {
	token := sign(t, &Claims{ID: "legacy-9", RegisteredClaims: jwt.RegisteredClaims{Subject: "sub"}}, "k")
	id, err := NewParser("").Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "legacy-9", id.UserID)
}

func TestParseExpired(t *testing.T) {
	token := sign(t, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))},
		UserID:           "admin-1",
	}, "secret")

	_, err := NewParser("secret").Parse(token)
	assert.ErrorIs(t, err, ErrExpiredToken)

	_, err = NewParser("").Parse(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestParseGarbage(t *testing.T) {
	_, err := NewParser("").Parse("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
