package leaderboard

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Row kinds pushed to the external sheet.
const (
	KindRequest = "request"
	KindPlay    = "play"
)

// Row is one leaderboard update: a requester made another request, or one
// of their requests actually played.
type Row struct {
	Kind        string    `json:"kind"`
	Name        string    `json:"name,omitempty"`
	Artist      string    `json:"artist,omitempty"`
	RequestedBy string    `json:"requestedBy"`
	Count       int       `json:"count"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (r Row) validate() error {
	if r.Kind != KindRequest && r.Kind != KindPlay {
		return fmt.Errorf("unknown leaderboard row kind %q", r.Kind)
	}
	if strings.TrimSpace(r.RequestedBy) == "" {
		return fmt.Errorf("leaderboard row missing requester")
	}
	if r.Count <= 0 {
		return fmt.Errorf("leaderboard row count must be positive, got %d", r.Count)
	}
	return nil
}

// Sheet tracks per-requester request counts and per-track play counts in
// memory and, when an endpoint is configured, mirrors every update to it.
// Pushes are best effort: a failed POST is logged and the in-memory counts
// stay authoritative for this process.
type Sheet struct {
	endpoint   string
	httpClient *http.Client

	mu sync.Mutex
	// requestCounts is keyed by requester, playCounts by track.
	requestCounts map[string]int
	playCounts    map[string]int
}

// NewSheet creates a leaderboard. An empty endpoint disables pushing; counts
// are still kept.
func NewSheet(endpoint string) *Sheet {
	return &Sheet{
		endpoint:      strings.TrimSpace(endpoint),
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		requestCounts: make(map[string]int),
		playCounts:    make(map[string]int),
	}
}

// Enabled reports whether updates are mirrored to an external endpoint.
func (s *Sheet) Enabled() bool {
	return s.endpoint != ""
}

// RecordRequest bumps the requester's request count.
func (s *Sheet) RecordRequest(name, artist, requestedBy string) {
	s.mu.Lock()
	s.requestCounts[requestedBy]++
	count := s.requestCounts[requestedBy]
	s.mu.Unlock()

	s.push(Row{
		Kind:        KindRequest,
		Name:        name,
		Artist:      artist,
		RequestedBy: requestedBy,
		Count:       count,
		UpdatedAt:   time.Now(),
	})
}

// RecordPlay bumps the track's play count when a queued request surfaced as
// actually playing.
func (s *Sheet) RecordPlay(name, artist, requestedBy string) {
	key := trackKey(name, artist)
	s.mu.Lock()
	s.playCounts[key]++
	count := s.playCounts[key]
	s.mu.Unlock()

	s.push(Row{
		Kind:        KindPlay,
		Name:        name,
		Artist:      artist,
		RequestedBy: requestedBy,
		Count:       count,
		UpdatedAt:   time.Now(),
	})
}

// RequestCount returns the tracked request count for a requester.
func (s *Sheet) RequestCount(requestedBy string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requestCounts[requestedBy]
}

// PlayCount returns the tracked play count for a track.
func (s *Sheet) PlayCount(name, artist string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playCounts[trackKey(name, artist)]
}

// trackKey identifies a track across plays. Track names are not globally
// unique, so the artist is part of the key.
func trackKey(name, artist string) string {
	return strings.ToLower(strings.TrimSpace(name)) + "\x00" + strings.ToLower(strings.TrimSpace(artist))
}

func (s *Sheet) push(row Row) {
	if !s.Enabled() {
		return
	}
	if err := row.validate(); err != nil {
		slog.Warn("leaderboard row rejected", "error", err)
		return
	}

	payload, err := json.Marshal(row)
	if err != nil {
		slog.Warn("leaderboard row marshal failed", "error", err)
		return
	}
	resp, err := s.httpClient.Post(s.endpoint, "application/json", bytes.NewReader(payload))
	if err != nil {
		slog.Warn("leaderboard push failed", "kind", row.Kind, "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		slog.Warn("leaderboard push rejected", "kind", row.Kind, "status", resp.StatusCode)
	}
}
