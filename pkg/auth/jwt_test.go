package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func TestAccessTokenRoundTrip(t *testing.T) {
	tok, err := NewAccessToken("user-1", testSecret, time.Minute)
	require.NoError(t, err)

	claims, err := ParseAccess(tok, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UID)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, Issuer, claims.Issuer)
}

func TestParseAccess_Rejects(t *testing.T) {
	expired, err := NewAccessToken("user-1", testSecret, -time.Minute)
	require.NoError(t, err)
	_, err = ParseAccess(expired, testSecret)
	assert.Error(t, err)

	good, err := NewAccessToken("user-1", testSecret, time.Minute)
	require.NoError(t, err)
	_, err = ParseAccess(good, "other-secret")
	assert.Error(t, err)

	refresh, err := NewRefreshToken("user-1", "row-1", Family{ID: "fam", Version: 1}, time.Now().Add(time.Hour), testSecret)
	require.NoError(t, err)
	_, err = ParseAccess(refresh, testSecret)
	assert.Error(t, err, "refresh token must not pass as access token")
}

func TestRefreshTokenCarriesFamily(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	tok, err := NewRefreshToken("user-1", "row-1", Family{ID: "fam-1", Version: 3}, exp, testSecret)
	require.NoError(t, err)

	claims, err := ParseRefresh(tok, testSecret, false)
	require.NoError(t, err)
	assert.Equal(t, "row-1", claims.ID)
	assert.Equal(t, Family{ID: "fam-1", Version: 3}, claims.Family)
	assert.True(t, claims.ExpiresAt.Time.Equal(exp))

	access, err := NewAccessToken("user-1", testSecret, time.Minute)
	require.NoError(t, err)
	_, err = ParseRefresh(access, testSecret, false)
	assert.Error(t, err)
}

func TestParseRefresh_AllowExpired(t *testing.T) {
	tok, err := NewRefreshToken("user-1", "row-1", Family{ID: "fam-1", Version: 1}, time.Now().Add(-time.Hour), testSecret)
	require.NoError(t, err)

	_, err = ParseRefresh(tok, testSecret, false)
	assert.Error(t, err)

	claims, err := ParseRefresh(tok, testSecret, true)
	require.NoError(t, err)
	assert.Equal(t, "fam-1", claims.Family.ID)

	_, err = ParseRefresh(tok, "other-secret", true)
	assert.Error(t, err)
}

func TestSecretHashing(t *testing.T) {
	raw, err := RandomSecret(32)
	require.NoError(t, err)
	assert.Len(t, raw, 43)

	h, err := HashSecret(raw)
	require.NoError(t, err)
	assert.True(t, CompareSecret(h, raw))
	assert.False(t, CompareSecret(h, raw+"x"))
}

func TestPasswordHashing(t *testing.T) {
	h, err := HashPassword("s3cret!pass")
	require.NoError(t, err)

	ok, err := ComparePassword("s3cret!pass", h)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ComparePassword("wrong", h)
	require.NoError(t, err)
	assert.False(t, ok)
}
