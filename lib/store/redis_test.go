package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		panic(err)
	}
	t.Cleanup(s.Close)
	return NewRedisStore(NewRedisClient(s.Addr(), ""))
}

func TestRedisStoreCredentialRoundTrip(t *testing.T) {
	s := newTestRedisStore(t)

	assert.Nil(t, s.GetCredential(DomainTwitch))

	cred := Credential{
		AccessToken:  "access123",
		RefreshToken: "refresh123",
		Expiry:       time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.WriteCredential(DomainTwitch, cred))

	got := s.GetCredential(DomainTwitch)
	require.NotNil(t, got)
	assert.Equal(t, cred.AccessToken, got.AccessToken)
	assert.True(t, cred.Expiry.Equal(got.Expiry))
}

func TestRedisStoreBlacklistRoundTrip(t *testing.T) {
	s := newTestRedisStore(t)

	assert.Nil(t, s.Blacklist())
	require.NoError(t, s.WriteBlacklist([]string{"troll_one"}))
	assert.Equal(t, []string{"troll_one"}, s.Blacklist())
}

func TestRedisStoreQueueSnapshotRoundTrip(t *testing.T) {
	s := newTestRedisStore(t)

	assert.Nil(t, s.ReadQueueSnapshot())
	data := []byte(`[{"trackId":"aaa"}]`)
	require.NoError(t, s.WriteQueueSnapshot(data))
	assert.Equal(t, data, s.ReadQueueSnapshot())
}

func TestRedisStorePing(t *testing.T) {
	s := newTestRedisStore(t)
	assert.NoError(t, s.Ping(context.Background()))
}
