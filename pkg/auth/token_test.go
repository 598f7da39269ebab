package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	s := NewSigner("secret", "synbridge", time.Minute)

	token, err := s.Token("host-1")
	require.NoError(t, err)

	claims, err := s.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "host-1", claims.Subject)
	assert.Equal(t, "synbridge", claims.Issuer)
}

func TestVerifyRejects(t *testing.T) {
	s := NewSigner("secret", "synbridge", time.Minute)
	token, err := s.Token("host-1")
	require.NoError(t, err)

	_, err = NewSigner("other", "synbridge", time.Minute).Verify(token)
	assert.Error(t, err)

	_, err = NewSigner("secret", "someone-else", time.Minute).Verify(token)
	assert.Error(t, err)

	late := NewSigner("secret", "synbridge", time.Minute)
	late.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = late.Verify(token)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	_, err = s.Verify("not.a.jwt")
	assert.Error(t, err)
}

func TestAuthorize(t *testing.T) {
	s := NewSigner("secret", "synbridge", time.Minute)
	token, err := s.Token("host-1")
	require.NoError(t, err)

	r := httptest.NewRequest("GET", "/", nil)
	_, err = s.Authorize(r)
	assert.ErrorIs(t, err, ErrMissingToken)

	r.Header.Set("Authorization", "Bearer "+token)
	claims, err := s.Authorize(r)
	require.NoError(t, err)
	assert.Equal(t, "host-1", claims.Subject)

	r = httptest.NewRequest("GET", "/?token="+token, nil)
	_, err = s.Authorize(r)
	assert.NoError(t, err)

	r = httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Authorization", "Basic abc")
	_, err = s.Authorize(r)
	assert.Error(t, err)
}
