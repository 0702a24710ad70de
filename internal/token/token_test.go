package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	issuer, err := NewIssuer("secret", time.Hour)
	require.NoError(t, err)

	tokenString, err := issuer.BuildJWTString("admin")
	require.NoError(t, err)

	username, err := issuer.GetUsername(tokenString)
	require.NoError(t, err)
	require.Equal(t, "admin", username)
}

func TestTokenRejected(t *testing.T) {
	issuer, err := NewIssuer("secret", time.Hour)
	require.NoError(t, err)
	other, err := NewIssuer("other", time.Hour)
	require.NoError(t, err)

	foreign, err := other.BuildJWTString("admin")
	require.NoError(t, err)
	_, err = issuer.GetUsername(foreign)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = issuer.GetUsername("garbage")
	require.ErrorIs(t, err, ErrInvalidToken)

	// просроченный токен
	issuer.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, err := issuer.BuildJWTString("admin")
	require.NoError(t, err)
	_, err = issuer.GetUsername(expired)
	require.ErrorIs(t, err, ErrInvalidToken)

	// токен без подписи
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Username: "admin"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = issuer.GetUsername(unsigned)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewIssuerRequiresSecret(t *testing.T) {
	_, err := NewIssuer("", time.Hour)
	require.ErrorIs(t, err, ErrNoSecret)
}
