package store

import (
	"context"
	"log/slog"
)

// FallbackStore layers a memory tier under a durable tier: writes land in
// both, reads prefer the durable tier and fall back to memory when it has
// nothing. Callers never branch on which tier answered.
type FallbackStore struct {
	durable Store
	memory  *MemoryStore
}

// NewFallbackStore wraps a durable store with an always-available memory tier.
func NewFallbackStore(durable Store) *FallbackStore {
	return &FallbackStore{
		durable: durable,
		memory:  NewMemoryStore(),
	}
}

// Ping reports the durable tier's health; the memory tier never fails.
func (s *FallbackStore) Ping(ctx context.Context) error {
	return s.durable.Ping(ctx)
}

func (s *FallbackStore) WriteCredential(domain string, cred Credential) error {
	_ = s.memory.WriteCredential(domain, cred)
	if err := s.durable.WriteCredential(domain, cred); err != nil {
		slog.Warn("durable credential write failed, memory tier holds it", "domain", domain, "error", err)
	}
	return nil
}

func (s *FallbackStore) GetCredential(domain string) *Credential {
	if cred := s.durable.GetCredential(domain); cred != nil {
		return cred
	}
	return s.memory.GetCredential(domain)
}

func (s *FallbackStore) WriteBlacklist(entries []string) error {
	_ = s.memory.WriteBlacklist(entries)
	if err := s.durable.WriteBlacklist(entries); err != nil {
		slog.Warn("durable blacklist write failed, memory tier holds it", "error", err)
	}
	return nil
}

func (s *FallbackStore) Blacklist() []string {
	if entries := s.durable.Blacklist(); entries != nil {
		return entries
	}
	return s.memory.Blacklist()
}

func (s *FallbackStore) WriteQueueSnapshot(data []byte) error {
	_ = s.memory.WriteQueueSnapshot(data)
	if err := s.durable.WriteQueueSnapshot(data); err != nil {
		slog.Warn("durable queue snapshot write failed, memory tier holds it", "error", err)
	}
	return nil
}

func (s *FallbackStore) ReadQueueSnapshot() []byte {
	if data := s.durable.ReadQueueSnapshot(); data != nil {
		return data
	}
	return s.memory.ReadQueueSnapshot()
}
