package spotify

import "errors"

// Gateway failure modes, surfaced to the router as structured results
// rather than thrown past it.
var (
	// ErrNotAuthenticated means no user token is available yet; the operator
	// has to complete the OAuth flow first.
	ErrNotAuthenticated = errors.New("spotify is not connected")

	// ErrNotFound means track resolution produced no result.
	ErrNotFound = errors.New("no matching track found")

	// ErrNoActiveDevice is the recoverable enqueue failure: reported only
	// after device discovery and a transfer-then-retry also failed.
	ErrNoActiveDevice = errors.New("no active spotify device")
)

// Track is a resolved playback-provider track, the input for a SongRequest.
type Track struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ArtistName    string `json:"artistName"`
	AlbumName     string `json:"albumName,omitempty"`
	AlbumImageURL string `json:"albumImageUrl,omitempty"`
	URI           string `json:"uri,omitempty"`
}
