package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/peterbourgon/diskv"
)

const (
	credentialKeyFormat = "credential.%s"
	blacklistKey        = "blacklist"
	queueSnapshotKey    = "queue.snapshot"
)

// DiskStore is a storage engine that writes to the disk
type DiskStore struct {
	d *diskv.Diskv
}

// NewDiskStore will instantiate the disk storage rooted at basePath.
func NewDiskStore(basePath string) *DiskStore {
	if basePath == "" {
		basePath = "keystore"
	}
	return &DiskStore{
		d: diskv.New(diskv.Options{
			BasePath:     basePath,
			Transform:    flatTransform,
			CacheSizeMax: 1024 * 1024,
		}),
	}
}

// Ping will check if the connection works right
func (s *DiskStore) Ping(ctx context.Context) error {
	return nil
}

// WriteCredential persists one identity domain's token record.
func (s *DiskStore) WriteCredential(domain string, cred Credential) error {
	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}
	return s.d.Write(fmt.Sprintf(credentialKeyFormat, domain), data)
}

// GetCredential loads one identity domain's token record, nil when absent.
func (s *DiskStore) GetCredential(domain string) *Credential {
	data, err := s.d.Read(fmt.Sprintf(credentialKeyFormat, domain))
	if err != nil {
		return nil
	}
	var cred Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		slog.Warn("corrupt credential record on disk", "domain", domain, "error", err)
		return nil
	}
	return &cred
}

// WriteBlacklist replaces the stored blacklist wholesale.
func (s *DiskStore) WriteBlacklist(entries []string) error {
	if entries == nil {
		entries = []string{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode blacklist: %w", err)
	}
	return s.d.Write(blacklistKey, data)
}

// Blacklist returns the stored blacklist, empty when never written.
func (s *DiskStore) Blacklist() []string {
	data, err := s.d.Read(blacklistKey)
	if err != nil {
		return nil
	}
	var entries []string
	if err := json.Unmarshal(data, &entries); err != nil {
		slog.Warn("corrupt blacklist on disk", "error", err)
		return nil
	}
	return entries
}

// WriteQueueSnapshot stores the serialized pending queue for restart
// continuity. Best effort only; playback position is the source of truth.
func (s *DiskStore) WriteQueueSnapshot(data []byte) error {
	return s.d.Write(queueSnapshotKey, data)
}

// ReadQueueSnapshot returns the last stored queue snapshot, nil when absent.
func (s *DiskStore) ReadQueueSnapshot() []byte {
	data, err := s.d.Read(queueSnapshotKey)
	if err != nil {
		return nil
	}
	return data
}
