package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingStore simulates a durable tier that is down.
type failingStore struct{}

var errDown = errors.New("durable tier down")

func (failingStore) WriteCredential(string, Credential) error { return errDown }
func (failingStore) GetCredential(string) *Credential         { return nil }
func (failingStore) WriteBlacklist([]string) error            { return errDown }
func (failingStore) Blacklist() []string                      { return nil }
func (failingStore) WriteQueueSnapshot([]byte) error          { return errDown }
func (failingStore) ReadQueueSnapshot() []byte                { return nil }
func (failingStore) Ping(context.Context) error               { return errDown }

func TestFallbackServesFromMemoryWhenDurableFails(t *testing.T) {
	s := NewFallbackStore(failingStore{})

	cred := Credential{AccessToken: "access123"}
	require.NoError(t, s.WriteCredential(DomainSpotify, cred))
	got := s.GetCredential(DomainSpotify)
	require.NotNil(t, got)
	assert.Equal(t, "access123", got.AccessToken)

	require.NoError(t, s.WriteBlacklist([]string{"troll_one"}))
	assert.Equal(t, []string{"troll_one"}, s.Blacklist())

	require.NoError(t, s.WriteQueueSnapshot([]byte("[]")))
	assert.Equal(t, []byte("[]"), s.ReadQueueSnapshot())

	// Health still reports the durable tier's failure.
	assert.ErrorIs(t, s.Ping(context.Background()), errDown)
}

func TestFallbackPrefersDurableTier(t *testing.T) {
	durable := NewMemoryStore()
	require.NoError(t, durable.WriteBlacklist([]string{"from_durable"}))

	s := NewFallbackStore(durable)
	require.NoError(t, s.memory.WriteBlacklist([]string{"from_memory"}))

	assert.Equal(t, []string{"from_durable"}, s.Blacklist())
	assert.NoError(t, s.Ping(context.Background()))
}

func TestFallbackWritesBothTiers(t *testing.T) {
	durable := NewMemoryStore()
	s := NewFallbackStore(durable)

	require.NoError(t, s.WriteCredential(DomainTwitch, Credential{AccessToken: "tok"}))
	require.NotNil(t, durable.GetCredential(DomainTwitch))
	require.NotNil(t, s.memory.GetCredential(DomainTwitch))
}
