package request

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"solenne/pointbeat/lib/common"
	"solenne/pointbeat/lib/queue"
	"solenne/pointbeat/lib/spotify"
	"solenne/pointbeat/lib/store"
)

// Playback is the slice of the provider gateway the router needs.
type Playback interface {
	Resolve(ctx context.Context, query string) (*spotify.Track, error)
	Enqueue(ctx context.Context, trackID string) error
}

// Sink observes fulfilled requests, for leaderboard accounting. Optional.
type Sink interface {
	RecordRequest(name, artist, requestedBy string)
}

// Result is the outcome of handling one redemption. Error is a short,
// user-presentable reason; Request and Position are set only on success.
type Result struct {
	Success  bool               `json:"success"`
	Error    string             `json:"error,omitempty"`
	Request  *queue.SongRequest `json:"request,omitempty"`
	Position int                `json:"position,omitempty"`
}

// Router drives one redemption through the full pipeline: blacklist gate,
// track resolution, provider enqueue, then the shadow-queue append. The
// provider enqueue happens strictly before the append so the local queue
// never records a request the provider rejected.
type Router struct {
	playback Playback
	model    *queue.Model
	storage  store.Store
	sink     Sink
}

// NewRouter creates a redemption router. sink may be nil.
func NewRouter(playback Playback, model *queue.Model, storage store.Store, sink Sink) *Router {
	return &Router{
		playback: playback,
		model:    model,
		storage:  storage,
		sink:     sink,
	}
}

// HandleRedemption processes one channel-point redemption end to end.
func (rt *Router) HandleRedemption(ctx context.Context, requestedBy, input string) Result {
	normalized, truncated := common.NormalizeRequester(requestedBy)
	if truncated {
		slog.Warn("requester name truncated", "requested_by", requestedBy)
	}
	if normalized == "" {
		return Result{Error: "missing requester name"}
	}

	if rt.blacklisted(normalized) {
		slog.Info("redemption rejected, requester blacklisted", "requested_by", normalized)
		return Result{Error: "requester is blacklisted"}
	}

	track, err := rt.playback.Resolve(ctx, input)
	if err != nil {
		slog.Warn("track resolution failed",
			"requested_by", normalized,
			"input", input,
			"error", err,
		)
		return Result{Error: resolveErrorMessage(err)}
	}

	if err := rt.playback.Enqueue(ctx, track.ID); err != nil {
		slog.Warn("provider enqueue failed",
			"requested_by", normalized,
			"track", track.Name,
			"error", err,
		)
		return Result{Error: enqueueErrorMessage(err)}
	}

	req := queue.SongRequest{
		TrackID:       track.ID,
		TrackName:     track.Name,
		ArtistName:    track.ArtistName,
		AlbumName:     track.AlbumName,
		AlbumImageURL: track.AlbumImageURL,
		RequestedBy:   normalized,
		RequestedAt:   time.Now(),
	}
	pos, err := rt.model.Append(req)
	if err != nil {
		// The provider already accepted the track; the local ordering just
		// will not track it. Playback still happens.
		slog.Error("shadow queue append failed after provider accepted",
			"requested_by", normalized,
			"track", track.Name,
			"error", err,
		)
		return Result{Error: "request could not be tracked"}
	}

	slog.Info("song request queued",
		"requested_by", normalized,
		"track", track.Name,
		"artist", track.ArtistName,
		"position", pos,
	)

	if rt.sink != nil {
		rt.sink.RecordRequest(track.Name, track.ArtistName, normalized)
	}
	return Result{Success: true, Request: &req, Position: pos}
}

// blacklisted checks the normalized requester against the stored blacklist.
func (rt *Router) blacklisted(normalized string) bool {
	for _, entry := range rt.storage.Blacklist() {
		if entry == normalized {
			return true
		}
	}
	return false
}

func resolveErrorMessage(err error) string {
	switch {
	case errors.Is(err, spotify.ErrNotAuthenticated):
		return "spotify is not connected"
	case errors.Is(err, spotify.ErrNotFound):
		return "no matching track found"
	default:
		return "track lookup failed"
	}
}

func enqueueErrorMessage(err error) string {
	switch {
	case errors.Is(err, spotify.ErrNotAuthenticated):
		return "spotify is not connected"
	case errors.Is(err, spotify.ErrNoActiveDevice):
		return "no active spotify device"
	default:
		return "could not queue the track"
	}
}
