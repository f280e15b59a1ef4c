package store

import "context"

// Identity domains for credential records.
const (
	DomainSpotify = "spotify"
	DomainTwitch  = "twitch"
)

// Store is the interface for all the store types. It holds the small
// process-local state this service needs across restarts: OAuth credentials
// per identity domain, the requester blacklist, and a best-effort snapshot
// of the pending request queue.
type Store interface {
	WriteCredential(domain string, cred Credential) error
	GetCredential(domain string) *Credential
	WriteBlacklist(entries []string) error
	Blacklist() []string
	WriteQueueSnapshot(data []byte) error
	ReadQueueSnapshot() []byte
	Ping(ctx context.Context) error
}

// Utils
func flatTransform(s string) []string { return []string{} }
