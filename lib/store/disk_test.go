package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiskStoreCredentialRoundTrip(t *testing.T) {
	s := NewDiskStore(t.TempDir())

	assert.Nil(t, s.GetCredential(DomainSpotify))

	cred := Credential{
		AccessToken:  "access123",
		RefreshToken: "refresh123",
		TokenType:    "Bearer",
		Expiry:       time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.WriteCredential(DomainSpotify, cred))

	got := s.GetCredential(DomainSpotify)
	require.NotNil(t, got)
	assert.Equal(t, cred.AccessToken, got.AccessToken)
	assert.Equal(t, cred.RefreshToken, got.RefreshToken)
	assert.True(t, cred.Expiry.Equal(got.Expiry))

	// Domains do not bleed into each other.
	assert.Nil(t, s.GetCredential(DomainTwitch))
}

func TestDiskStoreBlacklistRoundTrip(t *testing.T) {
	s := NewDiskStore(t.TempDir())

	assert.Nil(t, s.Blacklist())
	require.NoError(t, s.WriteBlacklist([]string{"troll_one", "troll_two"}))
	assert.Equal(t, []string{"troll_one", "troll_two"}, s.Blacklist())

	// Wholesale replace, including down to empty.
	require.NoError(t, s.WriteBlacklist(nil))
	assert.Empty(t, s.Blacklist())
}

func TestDiskStoreQueueSnapshotRoundTrip(t *testing.T) {
	s := NewDiskStore(t.TempDir())

	assert.Nil(t, s.ReadQueueSnapshot())
	data := []byte(`[{"trackId":"aaa"}]`)
	require.NoError(t, s.WriteQueueSnapshot(data))
	assert.Equal(t, data, s.ReadQueueSnapshot())
}

func TestCredentialValid(t *testing.T) {
	assert.False(t, Credential{}.Valid())
	assert.False(t, Credential{AccessToken: "a", Expiry: time.Now().Add(5 * time.Second)}.Valid())
	assert.True(t, Credential{AccessToken: "a", Expiry: time.Now().Add(time.Hour)}.Valid())
	assert.True(t, Credential{AccessToken: "a"}.Valid())
}
