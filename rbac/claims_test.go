package rbac

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	secret := []byte("test-secret")

	token, err := IssueToken(secret, "alice", "engineer", time.Hour)
	require.NoError(t, err)

	claims, err := ParseToken(secret, token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.UserID)
	assert.Equal(t, "engineer", claims.Role)
	assert.Equal(t, "alice", claims.Subject)
}

func TestParseToken_WrongSecret(t *testing.T) {
	token, err := IssueToken([]byte("right"), "alice", "viewer", time.Hour)
	require.NoError(t, err)

	_, err = ParseToken([]byte("wrong"), token)
	assert.Error(t, err)
}

func TestParseToken_Expired(t *testing.T) {
	token, err := IssueToken([]byte("s"), "alice", "viewer", -time.Minute)
	require.NoError(t, err)

	_, err = ParseToken([]byte("s"), token)
	assert.Error(t, err)
}

func TestParseToken_Garbage(t *testing.T) {
	_, err := ParseToken([]byte("s"), "not.a.token")
	assert.Error(t, err)
}
