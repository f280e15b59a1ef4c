package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultResetHour is the wall-clock hour of the daily queue reset.
	DefaultResetHour = 8
)

// ErrValidation marks a malformed song request. This is a programming
// contract violation on the caller's side, never a runtime condition.
var ErrValidation = errors.New("invalid song request")

// SongRequest is one resolved, pending request. Immutable once created;
// owned exclusively by the Model after Append.
type SongRequest struct {
	ID            string    `json:"id"`
	TrackID       string    `json:"trackId"`
	TrackName     string    `json:"trackName"`
	ArtistName    string    `json:"artistName"`
	AlbumName     string    `json:"albumName,omitempty"`
	AlbumImageURL string    `json:"albumImageUrl,omitempty"`
	RequestedBy   string    `json:"requestedBy"`
	RequestedAt   time.Time `json:"requestedAt"`
}

// Snapshot is one poll of what the playback provider reports as playing
// right now. Transient: it lives for a single reconciliation pass.
type Snapshot struct {
	TrackID    string    `json:"trackId"`
	ProgressMs int       `json:"progressMs"`
	IsPlaying  bool      `json:"isPlaying"`
	PolledAt   time.Time `json:"polledAt"`
}

// Result reports what one reconciliation pass did.
type Result struct {
	MatchedHead bool
	Skipped     []SongRequest
}

// ModelConfig configures the queue model.
type ModelConfig struct {
	// ResetHour is the local wall-clock hour of the daily reset.
	ResetHour int
	// Location is the time zone the reset hour is evaluated in.
	Location *time.Location
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Model is the shadow queue: the locally tracked ordering of pending song
// requests, reconciled against playback polls. The playback provider has no
// queue-read API, so this model is the only place "requested but not yet
// heard" exists at all.
//
// All state lives behind one mutex; Append, Reconcile and Clear are the only
// mutation paths and are safe for concurrent callers.
type Model struct {
	mu         sync.Mutex
	pending    []SongRequest
	nowPlaying *SongRequest

	resetHour  int
	resetLoc   *time.Location
	resetTimer *time.Timer
	now        func() time.Time
}

// NewModel creates a queue model. Zero-value config fields get defaults
// (08:00, local time zone, real clock).
func NewModel(cfg ModelConfig) *Model {
	if cfg.ResetHour <= 0 || cfg.ResetHour > 23 {
		cfg.ResetHour = DefaultResetHour
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Model{
		resetHour: cfg.ResetHour,
		resetLoc:  cfg.Location,
		now:       cfg.Now,
	}
}

// Append adds a request to the tail of the queue and returns its 1-based
// position. Malformed requests are rejected whole; the queue is untouched.
// Appending also arms the daily-reset timer if it is not already armed.
func (m *Model) Append(req SongRequest) (int, error) {
	if err := validateRequest(req); err != nil {
		return 0, err
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.RequestedAt.IsZero() {
		req.RequestedAt = m.now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureResetTimerLocked()
	m.pending = append(m.pending, req)
	return len(m.pending), nil
}

// Reconcile folds one playback poll into the queue. It is the only path
// that removes entries, and it never fails: any ambiguous or unmatched
// snapshot degrades to a no-op so queue correctness can never stall the
// polling loop.
//
// Skip detection is bounded to depth one on purpose: a deeper scan could
// silently flush many pending requests when the streamer simply plays an
// unrelated track of their own.
func (m *Model) Reconcile(snap *Snapshot) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res Result

	// Nothing playing, or playback paused. Either way the track did not
	// change, so neither the queue nor the now-playing record moves.
	if snap == nil || snap.TrackID == "" {
		return res
	}

	// Same track still playing: no progress to infer. Without this guard a
	// duplicate request of the playing track would get popped on every poll.
	if m.nowPlaying != nil && m.nowPlaying.TrackID == snap.TrackID {
		return res
	}

	if len(m.pending) == 0 {
		// The streamer is playing something this system never tracked.
		if m.nowPlaying != nil {
			m.nowPlaying = nil
		}
		return res
	}

	switch {
	case m.pending[0].TrackID == snap.TrackID:
		// Expected case: the head surfaced as playing.
		head := m.pending[0]
		m.pending = m.pending[1:]
		m.nowPlaying = &head
		res.MatchedHead = true

	case len(m.pending) > 1 && m.pending[1].TrackID == snap.TrackID:
		// Playback advanced past exactly one queued request without it ever
		// being observed: a skip, or the poll interval missed it.
		skipped := m.pending[0]
		promoted := m.pending[1]
		m.pending = m.pending[2:]
		m.nowPlaying = &promoted
		res.MatchedHead = true
		res.Skipped = []SongRequest{skipped}

	default:
		// Matches neither position 0 nor 1: leave the queue alone.
		if m.nowPlaying != nil && m.nowPlaying.TrackID != snap.TrackID {
			m.nowPlaying = nil
		}
	}
	return res
}

// Clear empties the queue and the now-playing record.
func (m *Model) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearLocked()
}

func (m *Model) clearLocked() {
	m.pending = nil
	m.nowPlaying = nil
}

// Pending returns a copy of the pending requests, oldest first.
func (m *Model) Pending() []SongRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SongRequest, len(m.pending))
	copy(out, m.pending)
	return out
}

// NowPlaying returns a copy of the tracked now-playing request, nil when
// nothing this system queued is playing.
func (m *Model) NowPlaying() *SongRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.nowPlaying == nil {
		return nil
	}
	cp := *m.nowPlaying
	return &cp
}

// Len returns the number of pending requests.
func (m *Model) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// SnapshotJSON serializes the pending queue for best-effort persistence.
func (m *Model) SnapshotJSON() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return json.Marshal(m.pending)
}

// RestoreJSON replaces the pending queue from a stored snapshot, dropping
// any entry that no longer validates. Restore failures are not fatal: the
// external playback position is the real source of truth after a restart.
func (m *Model) RestoreJSON(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	var restored []SongRequest
	if err := json.Unmarshal(data, &restored); err != nil {
		return fmt.Errorf("decode queue snapshot: %w", err)
	}
	kept := restored[:0]
	for _, req := range restored {
		if validateRequest(req) == nil {
			kept = append(kept, req)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = kept
	if len(kept) > 0 {
		m.ensureResetTimerLocked()
	}
	return nil
}

// StopResetTimer cancels a pending daily reset, for shutdown.
func (m *Model) StopResetTimer() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.resetTimer != nil {
		m.resetTimer.Stop()
		m.resetTimer = nil
	}
}

// ensureResetTimerLocked arms the daily reset if it is not already armed.
// Arming an armed timer is a no-op.
func (m *Model) ensureResetTimerLocked() {
	if m.resetTimer != nil {
		return
	}
	m.armResetTimerLocked()
}

// armResetTimerLocked schedules the next reset, cancelling any pending one
// so at most a single timer ever exists.
func (m *Model) armResetTimerLocked() {
	if m.resetTimer != nil {
		m.resetTimer.Stop()
	}
	now := m.now()
	next := nextReset(now, m.resetHour, m.resetLoc)
	m.resetTimer = time.AfterFunc(next.Sub(now), m.resetFired)
	slog.Debug("daily queue reset armed", "at", next.Format(time.RFC3339))
}

func (m *Model) resetFired() {
	m.mu.Lock()
	defer m.mu.Unlock()
	dropped := len(m.pending)
	m.clearLocked()
	m.armResetTimerLocked()
	slog.Info("daily queue reset", "dropped", dropped)
}

// nextReset computes the next occurrence of the reset hour in loc. The
// arithmetic is zone-aware, so DST transitions land on the right wall-clock
// instant instead of drifting by the offset change.
func nextReset(now time.Time, hour int, loc *time.Location) time.Time {
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, 0, 0, 0, loc)
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func validateRequest(req SongRequest) error {
	switch {
	case strings.TrimSpace(req.TrackID) == "":
		return fmt.Errorf("%w: missing track id", ErrValidation)
	case strings.TrimSpace(req.TrackName) == "":
		return fmt.Errorf("%w: missing track name", ErrValidation)
	case strings.TrimSpace(req.ArtistName) == "":
		return fmt.Errorf("%w: missing artist name", ErrValidation)
	case strings.TrimSpace(req.RequestedBy) == "":
		return fmt.Errorf("%w: missing requester", ErrValidation)
	}
	return nil
}
