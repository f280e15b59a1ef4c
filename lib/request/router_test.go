package request

import (
	"context"
	"errors"
	"testing"

	"solenne/pointbeat/lib/queue"
	"solenne/pointbeat/lib/spotify"
	"solenne/pointbeat/lib/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPlayback struct {
	resolveCalls int
	resolveErr   error
	enqueueCalls int
	enqueueErr   error
	track        *spotify.Track
}

func (s *stubPlayback) Resolve(ctx context.Context, query string) (*spotify.Track, error) {
	s.resolveCalls++
	if s.resolveErr != nil {
		return nil, s.resolveErr
	}
	return s.track, nil
}

func (s *stubPlayback) Enqueue(ctx context.Context, trackID string) error {
	s.enqueueCalls++
	return s.enqueueErr
}

type recordingSink struct {
	requests []string
}

func (s *recordingSink) RecordRequest(name, artist, requestedBy string) {
	s.requests = append(s.requests, requestedBy)
}

func testTrack() *spotify.Track {
	return &spotify.Track{
		ID:         "track1",
		Name:       "Some Song",
		ArtistName: "Some Artist",
		AlbumName:  "Some Album",
	}
}

func newTestRouter(t *testing.T, playback Playback, sink Sink) (*Router, *queue.Model, store.Store) {
	t.Helper()
	model := queue.NewModel(queue.ModelConfig{})
	t.Cleanup(model.StopResetTimer)
	storage := store.NewMemoryStore()
	return NewRouter(playback, model, storage, sink), model, storage
}

func TestHandleRedemptionSuccess(t *testing.T) {
	playback := &stubPlayback{track: testTrack()}
	sink := &recordingSink{}
	rt, model, _ := newTestRouter(t, playback, sink)

	res := rt.HandleRedemption(context.Background(), "Some_Viewer", "some song")
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.Position)
	require.NotNil(t, res.Request)
	assert.Equal(t, "track1", res.Request.TrackID)
	assert.Equal(t, "some_viewer", res.Request.RequestedBy)

	assert.Equal(t, 1, model.Len())
	assert.Equal(t, []string{"some_viewer"}, sink.requests)
}

func TestHandleRedemptionBlacklistedSkipsResolution(t *testing.T) {
	playback := &stubPlayback{track: testTrack()}
	rt, model, storage := newTestRouter(t, playback, nil)
	require.NoError(t, storage.WriteBlacklist([]string{"some_viewer"}))

	res := rt.HandleRedemption(context.Background(), "Some_Viewer", "some song")
	assert.False(t, res.Success)
	assert.Equal(t, "requester is blacklisted", res.Error)
	assert.Zero(t, playback.resolveCalls)
	assert.Zero(t, playback.enqueueCalls)
	assert.Equal(t, 0, model.Len())
}

func TestHandleRedemptionResolveFailureNotAppended(t *testing.T) {
	playback := &stubPlayback{resolveErr: spotify.ErrNotFound}
	rt, model, _ := newTestRouter(t, playback, nil)

	res := rt.HandleRedemption(context.Background(), "viewer", "gibberish")
	assert.False(t, res.Success)
	assert.Equal(t, "no matching track found", res.Error)
	assert.Zero(t, playback.enqueueCalls)
	assert.Equal(t, 0, model.Len())
}

func TestHandleRedemptionEnqueueFailureNotAppended(t *testing.T) {
	playback := &stubPlayback{track: testTrack(), enqueueErr: spotify.ErrNoActiveDevice}
	rt, model, _ := newTestRouter(t, playback, nil)

	res := rt.HandleRedemption(context.Background(), "viewer", "some song")
	assert.False(t, res.Success)
	assert.Equal(t, "no active spotify device", res.Error)
	assert.Equal(t, 0, model.Len())
}

func TestHandleRedemptionNotAuthenticated(t *testing.T) {
	playback := &stubPlayback{resolveErr: spotify.ErrNotAuthenticated}
	rt, model, _ := newTestRouter(t, playback, nil)

	res := rt.HandleRedemption(context.Background(), "viewer", "some song")
	assert.False(t, res.Success)
	assert.Equal(t, "spotify is not connected", res.Error)
	assert.Equal(t, 0, model.Len())
}

func TestHandleRedemptionGenericFailuresMapped(t *testing.T) {
	playback := &stubPlayback{resolveErr: errors.New("boom")}
	rt, _, _ := newTestRouter(t, playback, nil)
	res := rt.HandleRedemption(context.Background(), "viewer", "x")
	assert.Equal(t, "track lookup failed", res.Error)

	playback = &stubPlayback{track: testTrack(), enqueueErr: errors.New("boom")}
	rt, _, _ = newTestRouter(t, playback, nil)
	res = rt.HandleRedemption(context.Background(), "viewer", "x")
	assert.Equal(t, "could not queue the track", res.Error)
}

func TestHandleRedemptionMissingRequester(t *testing.T) {
	playback := &stubPlayback{track: testTrack()}
	rt, _, _ := newTestRouter(t, playback, nil)

	res := rt.HandleRedemption(context.Background(), "   ", "some song")
	assert.False(t, res.Success)
	assert.Zero(t, playback.resolveCalls)
}
