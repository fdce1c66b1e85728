package auth

import (
	"context"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifier_RoundTrip(t *testing.T) {
	v := NewVerifier("test-secret")
	id := uuid.New()

	tok, err := v.Sign(id.String(), RoleAuthenticated, "anna@example.com", time.Hour)
	require.NoError(t, err)

	c, err := v.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, RoleAuthenticated, c.Role)
	assert.Equal(t, "anna@example.com", c.Email)
	assert.False(t, c.IsService())

	got, err := c.UserID()
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestVerifier_Rejects(t *testing.T) {
	v := NewVerifier("test-secret")

	other, err := NewVerifier("other-secret").Sign(uuid.NewString(), RoleService, "", time.Hour)
	require.NoError(t, err)
	_, err = v.Parse(other)
	assert.ErrorIs(t, err, ErrInvalidToken, "wrong secret")

	expired, err := v.Sign(uuid.NewString(), RoleAuthenticated, "", -time.Minute)
	require.NoError(t, err)
	_, err = v.Parse(expired)
	assert.ErrorIs(t, err, ErrInvalidToken, "expired")

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Role: RoleService}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = v.Parse(noExp)
	assert.ErrorIs(t, err, ErrInvalidToken, "missing exp")

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = v.Parse(none)
	assert.ErrorIs(t, err, ErrInvalidToken, "alg none")
}

func TestClaims_UserID(t *testing.T) {
	_, err := (&Claims{}).UserID()
	assert.ErrorIs(t, err, ErrNoSubject)

	c := &Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "not-a-uuid"}}
	_, err = c.UserID()
	assert.Error(t, err)
}

func TestContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	c := &Claims{Role: RoleService}
	got, ok := FromContext(WithClaims(context.Background(), c))
	require.True(t, ok)
	assert.True(t, got.IsService())
}
