package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultPollInterval is how often the playback provider is polled.
	DefaultPollInterval = 5 * time.Second

	pollTimeout = 8 * time.Second
)

// PlaybackSource reports what the playback provider says is playing right
// now. A nil snapshot with a nil error means nothing is playing.
type PlaybackSource interface {
	CurrentlyPlaying(ctx context.Context) (*Snapshot, error)
}

// PollerConfig configures the reconciliation poll loop.
type PollerConfig struct {
	Source   PlaybackSource
	Model    *Model
	Interval time.Duration
	// OnPlay is invoked after a reconciliation pass matched a queued request
	// as now playing. Optional; used for the leaderboard sink.
	OnPlay func(SongRequest)
	// OnSkip is invoked once per request discarded by skip detection. Optional.
	OnSkip func(SongRequest)
}

// Poller drives Model.Reconcile from periodic playback polls and retains the
// latest raw snapshot for the dashboard.
type Poller struct {
	source   PlaybackSource
	model    *Model
	interval time.Duration
	onPlay   func(SongRequest)
	onSkip   func(SongRequest)

	mu   sync.RWMutex
	last *Snapshot
}

// NewPoller creates a poller with the given configuration.
func NewPoller(cfg PollerConfig) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	return &Poller{
		source:   cfg.Source,
		model:    cfg.Model,
		interval: cfg.Interval,
		onPlay:   cfg.OnPlay,
		onSkip:   cfg.OnSkip,
	}
}

// Start runs the poll loop. Blocks until the context is cancelled.
func (p *Poller) Start(ctx context.Context) {
	slog.Info("playback poller started", "interval", p.interval)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("playback poller shutting down")
			return
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll performs a single poll-and-reconcile pass. Poll failures degrade to a
// logged no-op; the queue is never mutated on an error.
func (p *Poller) Poll(ctx context.Context) {
	cctx, cancel := context.WithTimeout(ctx, pollTimeout)
	defer cancel()

	snap, err := p.source.CurrentlyPlaying(cctx)
	if err != nil {
		slog.Warn("playback poll failed", "error", err)
		return
	}

	p.mu.Lock()
	p.last = snap
	p.mu.Unlock()

	res := p.model.Reconcile(snap)
	for _, skipped := range res.Skipped {
		slog.Info("queued request skipped",
			"track", skipped.TrackName,
			"artist", skipped.ArtistName,
			"requested_by", skipped.RequestedBy,
		)
		if p.onSkip != nil {
			p.onSkip(skipped)
		}
	}
	if res.MatchedHead {
		if playing := p.model.NowPlaying(); playing != nil {
			slog.Info("queued request now playing",
				"track", playing.TrackName,
				"artist", playing.ArtistName,
				"requested_by", playing.RequestedBy,
			)
			if p.onPlay != nil {
				p.onPlay(*playing)
			}
		}
	}
}

// LastSnapshot returns the most recent raw playback snapshot, nil when the
// provider reported nothing playing or no poll has completed yet.
func (p *Poller) LastSnapshot() *Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.last == nil {
		return nil
	}
	cp := *p.last
	return &cp
}
