package spotify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"solenne/pointbeat/lib/queue"
	"solenne/pointbeat/lib/store"

	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

const searchLimit = 3

var (
	trackURLRegex = regexp.MustCompile(`(?:https?://)?open\.spotify\.com/(?:intl-[a-z]+(?:-[A-Za-z]+)?/)?track/([A-Za-z0-9]+)`)
	trackURIRegex = regexp.MustCompile(`spotify:track:([A-Za-z0-9]+)`)
)

// Gateway wraps the Spotify Web API: track resolution, queue insertion,
// playback polling, and the OAuth token lifecycle. Tokens are restored from
// the store at construction and written back on every refresh, so a restart
// picks up where the last process left off.
type Gateway struct {
	conf    *oauth2.Config
	storage store.Store
	sf      singleflight.Group

	// baseHTTP is the transport underneath the oauth2 client; tests swap it.
	baseHTTP *http.Client

	mu     sync.Mutex
	client *spotify.Client

	persistMu sync.Mutex
	lastToken string
}

// NewGateway builds the gateway and restores any stored credential.
func NewGateway(clientID, clientSecret, redirectURL string, storage store.Store) *Gateway {
	g := &Gateway{
		conf: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes: []string{
				spotifyauth.ScopeUserReadPlaybackState,
				spotifyauth.ScopeUserModifyPlaybackState,
				spotifyauth.ScopeUserReadCurrentlyPlaying,
			},
			Endpoint: oauth2.Endpoint{
				AuthURL:  spotifyauth.AuthURL,
				TokenURL: spotifyauth.TokenURL,
			},
		},
		storage:  storage,
		baseHTTP: &http.Client{Timeout: 10 * time.Second},
	}

	if cred := storage.GetCredential(store.DomainSpotify); cred != nil && cred.RefreshToken != "" {
		g.setToken(cred.OAuthToken())
		slog.Info("spotify credential restored from store")
	}
	return g
}

// LoginURL returns the authorization URL to send the operator to.
func (g *Gateway) LoginURL(state string) string {
	return g.conf.AuthCodeURL(state)
}

// HandleCallback exchanges the OAuth callback code and installs the token.
func (g *Gateway) HandleCallback(ctx context.Context, code string) error {
	tok, err := g.conf.Exchange(g.httpContext(ctx), code)
	if err != nil {
		return fmt.Errorf("spotify token exchange: %w", err)
	}
	g.setToken(tok)
	slog.Info("spotify authorized", "expires", tok.Expiry.Format(time.RFC3339))
	return nil
}

// Authenticated reports whether a user token is installed.
func (g *Gateway) Authenticated() bool {
	return g.currentClient() != nil
}

// Resolve turns free text, a spotify:track: URI, or an open.spotify.com
// track URL into a resolved track. Concurrent identical lookups are
// collapsed into one API call.
func (g *Gateway) Resolve(ctx context.Context, query string) (*Track, error) {
	client := g.currentClient()
	if client == nil {
		return nil, ErrNotAuthenticated
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrNotFound
	}

	v, err, _ := g.sf.Do(strings.ToLower(query), func() (interface{}, error) {
		return g.resolve(ctx, client, query)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Track), nil
}

func (g *Gateway) resolve(ctx context.Context, client *spotify.Client, query string) (*Track, error) {
	if id := extractTrackID(query); id != "" {
		full, err := client.GetTrack(ctx, spotify.ID(id))
		if err != nil {
			return nil, fmt.Errorf("track lookup: %w", err)
		}
		return trackFromFull(full), nil
	}

	result, err := client.Search(ctx, query, spotify.SearchTypeTrack, spotify.Limit(searchLimit))
	if err != nil {
		return nil, fmt.Errorf("track search: %w", err)
	}
	if result.Tracks == nil || len(result.Tracks.Tracks) == 0 {
		return nil, ErrNotFound
	}
	return trackFromFull(&result.Tracks.Tracks[0]), nil
}

// Enqueue adds a track to the user's playback queue. On the no-active-device
// failure it discovers devices, transfers playback to the first usable one,
// and retries exactly once before giving up.
func (g *Gateway) Enqueue(ctx context.Context, trackID string) error {
	client := g.currentClient()
	if client == nil {
		return ErrNotAuthenticated
	}

	err := client.QueueSong(ctx, spotify.ID(trackID))
	if err == nil {
		return nil
	}
	if !isNoActiveDevice(err) {
		return fmt.Errorf("queue track: %w", err)
	}

	devices, derr := client.PlayerDevices(ctx)
	if derr != nil {
		slog.Warn("device discovery failed during enqueue recovery", "error", derr)
		return ErrNoActiveDevice
	}
	var target *spotify.PlayerDevice
	for i := range devices {
		if !devices[i].Restricted {
			target = &devices[i]
			break
		}
	}
	if target == nil {
		return ErrNoActiveDevice
	}

	if terr := client.TransferPlayback(ctx, target.ID, false); terr != nil {
		slog.Warn("playback transfer failed during enqueue recovery", "device", target.Name, "error", terr)
		return ErrNoActiveDevice
	}
	slog.Info("playback transferred to recover enqueue", "device", target.Name)

	if rerr := client.QueueSong(ctx, spotify.ID(trackID)); rerr != nil {
		return fmt.Errorf("queue track after transfer: %w", rerr)
	}
	return nil
}

// CurrentlyPlaying polls the provider. A nil snapshot with nil error means
// nothing is playing right now.
func (g *Gateway) CurrentlyPlaying(ctx context.Context) (*queue.Snapshot, error) {
	client := g.currentClient()
	if client == nil {
		return nil, ErrNotAuthenticated
	}

	cp, err := client.PlayerCurrentlyPlaying(ctx)
	if err != nil {
		return nil, fmt.Errorf("currently playing: %w", err)
	}
	if cp == nil || cp.Item == nil {
		return nil, nil
	}
	return &queue.Snapshot{
		TrackID:    string(cp.Item.ID),
		ProgressMs: int(cp.Progress),
		IsPlaying:  cp.Playing,
		PolledAt:   time.Now(),
	}, nil
}

func (g *Gateway) currentClient() *spotify.Client {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.client
}

// httpContext threads the gateway's base HTTP client into oauth2 calls so a
// single transport (or a test stub) backs every request.
func (g *Gateway) httpContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, g.baseHTTP)
}

func (g *Gateway) setToken(tok *oauth2.Token) {
	ctx := g.httpContext(context.Background())
	src := g.conf.TokenSource(ctx, tok)
	httpClient := oauth2.NewClient(ctx, &persistingSource{gateway: g, src: src})

	g.mu.Lock()
	g.client = spotify.New(httpClient)
	g.mu.Unlock()

	g.persistIfChanged(tok)
}

// persistIfChanged writes the token through the store whenever the access
// token rotates, so refreshed tokens survive a restart.
func (g *Gateway) persistIfChanged(tok *oauth2.Token) {
	g.persistMu.Lock()
	defer g.persistMu.Unlock()
	if tok.AccessToken == "" || tok.AccessToken == g.lastToken {
		return
	}
	g.lastToken = tok.AccessToken
	if err := g.storage.WriteCredential(store.DomainSpotify, store.FromOAuthToken(tok)); err != nil {
		slog.Warn("failed to persist spotify credential", "error", err)
	}
}

// persistingSource wraps the oauth2 token source so every transparent
// refresh lands back in the credential store.
type persistingSource struct {
	gateway *Gateway
	src     oauth2.TokenSource
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := p.src.Token()
	if err != nil {
		return nil, err
	}
	p.gateway.persistIfChanged(tok)
	return tok, nil
}

func extractTrackID(query string) string {
	if m := trackURIRegex.FindStringSubmatch(query); m != nil {
		return m[1]
	}
	if m := trackURLRegex.FindStringSubmatch(query); m != nil {
		return m[1]
	}
	return ""
}

func trackFromFull(full *spotify.FullTrack) *Track {
	t := &Track{
		ID:        string(full.ID),
		Name:      full.Name,
		AlbumName: full.Album.Name,
		URI:       string(full.URI),
	}
	if len(full.Artists) > 0 {
		t.ArtistName = full.Artists[0].Name
	}
	if len(full.Album.Images) > 0 {
		t.AlbumImageURL = full.Album.Images[0].URL
	}
	return t
}

// isNoActiveDevice recognizes the player error Spotify returns when no
// device is available to receive the queue insertion.
func isNoActiveDevice(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "no active device")
}
