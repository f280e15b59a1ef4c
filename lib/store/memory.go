package store

import (
	"context"
	"sync"
)

// MemoryStore keeps everything in process memory. It backs tests and serves
// as the always-available tier of the fallback store.
type MemoryStore struct {
	mu          sync.RWMutex
	credentials map[string]Credential
	blacklist   []string
	snapshot    []byte
}

// NewMemoryStore will instantiate the in-memory storage.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		credentials: make(map[string]Credential),
	}
}

// Ping will check if the connection works right
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) WriteCredential(domain string, cred Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentials[domain] = cred
	return nil
}

func (s *MemoryStore) GetCredential(domain string) *Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, ok := s.credentials[domain]
	if !ok {
		return nil
	}
	return &cred
}

func (s *MemoryStore) WriteBlacklist(entries []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blacklist = append([]string(nil), entries...)
	return nil
}

func (s *MemoryStore) Blacklist() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.blacklist == nil {
		return nil
	}
	return append([]string(nil), s.blacklist...)
}

func (s *MemoryStore) WriteQueueSnapshot(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = append([]byte(nil), data...)
	return nil
}

func (s *MemoryStore) ReadQueueSnapshot() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snapshot == nil {
		return nil
	}
	return append([]byte(nil), s.snapshot...)
}
