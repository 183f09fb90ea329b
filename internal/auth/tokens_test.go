package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sjaiswal27/courierdrop/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionRoundTrip(t *testing.T) {
	svc := NewService("test-secret")

	token, err := svc.IssueSession(42)
	require.NoError(t, err)

	userID, err := svc.VerifySession(token)
	require.NoError(t, err)
	assert.Equal(t, uint(42), userID)
}

func TestSessionRejectsWrongSecret(t *testing.T) {
	token, err := NewService("secret-a").IssueSession(42)
	require.NoError(t, err)

	_, err = NewService("secret-b").VerifySession(token)
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
}

func TestTransferTokenBinding(t *testing.T) {
	svc := NewService("test-secret")

	token, err := svc.IssueTransfer(7, 42)
	require.NoError(t, err)

	require.NoError(t, svc.RequireTransferToken(7, 42, token))

	// wrong transfer
	err = svc.RequireTransferToken(8, 42, token)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	// wrong receiver
	err = svc.RequireTransferToken(7, 41, token)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	// absent token
	err = svc.RequireTransferToken(7, 42, "")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	// garbage token
	err = svc.RequireTransferToken(7, 42, "not-a-token")
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
}

func TestTokenTypesAreNotInterchangeable(t *testing.T) {
	svc := NewService("test-secret")

	session, err := svc.IssueSession(42)
	require.NoError(t, err)
	transfer, err := svc.IssueTransfer(7, 42)
	require.NoError(t, err)

	// a session token never satisfies a transfer-file check
	err = svc.RequireTransferToken(7, 42, session)
	assert.Error(t, err)

	// a transfer token never opens a session
	_, err = svc.VerifySession(transfer)
	assert.Error(t, err)
}

func TestExpiredTokenRejected(t *testing.T) {
	svc := NewService("test-secret")

	claims := &Claims{
		Type:       TypeTransfer,
		TransferID: 7,
		ReceiverID: 42,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-time.Hour)),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-30 * time.Minute)),
		},
	}
	expired, err := svc.sign(claims)
	require.NoError(t, err)

	err = svc.RequireTransferToken(7, 42, expired)
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
}
