package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_RoundTrip(t *testing.T) {
	svc := New("secret", time.Hour)
	token, err := svc.GenerateToken(42, RoleUser)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.UserID)
	assert.Equal(t, RoleUser, claims.Role)
}

func TestService_RejectsExpiredAndForeignTokens(t *testing.T) {
	issuedAt := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	svc := New("secret", time.Minute).WithNow(func() time.Time { return issuedAt })
	token, err := svc.GenerateToken(42, RoleUser)
	require.NoError(t, err)

	svc.WithNow(func() time.Time { return issuedAt.Add(2 * time.Minute) })
	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	other := New("other-secret", time.Hour)
	foreign, err := other.GenerateToken(42, RoleAdmin)
	require.NoError(t, err)
	_, err = New("secret", time.Hour).ValidateToken(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
