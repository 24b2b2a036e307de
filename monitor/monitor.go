// Package monitor runs the periodic diff pass over all followed artists.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"spotify-notifier/diff"
	"spotify-notifier/metrics"
	"spotify-notifier/pkg/notifier"
)

// Catalog is the slice of the catalog API the orchestrator consumes.
type Catalog interface {
	Ping(ctx context.Context) error
	FollowedArtists(ctx context.Context) ([]*notifier.Artist, error)
}

// Store is the watermark persistence interface.
type Store interface {
	Load(ctx context.Context) (map[string]*notifier.Watermark, error)
	Save(ctx context.Context, state map[string]*notifier.Watermark) error
}

// Enqueuer accepts notifications for throttled delivery.
type Enqueuer interface {
	Enqueue(n *notifier.Notification)
	Len() int
}

// Status summarizes the most recent pass for the status endpoint.
type Status struct {
	LastPassAt     time.Time `json:"last_pass_at"`
	ArtistsChecked int       `json:"artists_checked"`
	NewReleases    int       `json:"new_releases"`
	Failures       int       `json:"failures"`
	QueueDepth     int       `json:"queue_depth"`
}

// Monitor orchestrates diff passes: enumerate, diff, enqueue, persist.
type Monitor struct {
	catalog   Catalog
	store     Store
	engine    *diff.Engine
	queue     Enqueuer
	logger    *slog.Logger
	collector *metrics.Collector
	prune     bool

	// passMu serializes passes: the ticker and the trigger endpoint can
	// both start one, and overlapping load-mutate-save cycles would lose
	// the earlier pass's watermark updates.
	passMu sync.Mutex

	mu     sync.Mutex
	status Status
}

// Config holds orchestrator configuration.
type Config struct {
	Catalog   Catalog
	Store     Store
	Engine    *diff.Engine
	Queue     Enqueuer
	Logger    *slog.Logger
	Collector *metrics.Collector
	// PruneUnfollowed drops watermarks for artists missing from the
	// current enumeration. Off by default: re-following an artist then
	// keeps its notification history.
	PruneUnfollowed bool
}

// New creates a new pass orchestrator.
func New(cfg *Config) *Monitor {
	return &Monitor{
		catalog:   cfg.Catalog,
		store:     cfg.Store,
		engine:    cfg.Engine,
		queue:     cfg.Queue,
		logger:    cfg.Logger,
		collector: cfg.Collector,
		prune:     cfg.PruneUnfollowed,
	}
}

// RunPass executes one full diff pass: connectivity check, load state,
// diff every followed artist sequentially, enqueue discoveries, save the
// full mapping once. A single artist's failure never aborts the pass.
// Passes are mutually exclusive; a second trigger blocks until the
// in-flight pass finishes.
func (m *Monitor) RunPass(ctx context.Context) error {
	m.passMu.Lock()
	defer m.passMu.Unlock()

	start := time.Now()

	if err := m.catalog.Ping(ctx); err != nil {
		m.collector.RecordPassFailure()
		return fmt.Errorf("catalog ping: %w", err)
	}

	state, err := m.store.Load(ctx)
	if err != nil {
		// Degrade to empty state; the lookback window bounds the rescan.
		m.logger.Warn("State load failed, starting pass with empty state", "error", err)
		state = map[string]*notifier.Watermark{}
	}

	artists, err := m.catalog.FollowedArtists(ctx)
	if err != nil {
		m.collector.RecordPassFailure()
		return fmt.Errorf("list followed artists: %w", err)
	}

	m.logger.Info("Starting diff pass", "artists", len(artists), "known_watermarks", len(state))

	pass := m.engine.NewPass()
	var newCount, failed int

	for _, artist := range artists {
		select {
		case <-ctx.Done():
			m.collector.RecordPassFailure()
			return fmt.Errorf("pass cancelled: %w", ctx.Err())
		default:
		}

		fresh, updated, err := pass.DiffArtist(ctx, artist, state[artist.ID])
		if err != nil {
			// Watermark untouched; the artist is rescanned from the same
			// lower bound next pass.
			failed++
			m.logger.Warn("Artist check failed", "artist", artist.Name, "artist_id", artist.ID, "error", err)
			continue
		}

		state[artist.ID] = updated
		for _, r := range fresh {
			m.queue.Enqueue(m.engine.Notification(artist, r))
		}
		newCount += len(fresh)
	}

	if m.prune {
		m.pruneUnfollowed(state, artists)
	}

	if err := m.store.Save(ctx, state); err != nil {
		// The prior snapshot stays authoritative; this pass's discoveries
		// will be re-diffed (and re-suppressed as known only if the save
		// eventually succeeds) next time.
		m.logger.Error("State save failed, progress reverts to prior snapshot on next pass", "error", err)
	}

	m.collector.RecordPass()
	m.collector.RecordReleasesDiscovered(newCount)

	m.mu.Lock()
	m.status = Status{
		LastPassAt:     start,
		ArtistsChecked: len(artists),
		NewReleases:    newCount,
		Failures:       failed,
	}
	m.mu.Unlock()

	m.logger.Info("Diff pass completed",
		"artists", len(artists),
		"new_releases", newCount,
		"failed_artists", failed,
		"queue_depth", m.queue.Len(),
		"duration_ms", time.Since(start).Milliseconds())

	return nil
}

// pruneUnfollowed drops watermarks for artists absent from the current
// enumeration. Only called after a successful enumeration, so a catalog
// outage can never wipe state.
func (m *Monitor) pruneUnfollowed(state map[string]*notifier.Watermark, artists []*notifier.Artist) {
	followed := make(map[string]struct{}, len(artists))
	for _, a := range artists {
		followed[a.ID] = struct{}{}
	}
	for id := range state {
		if _, ok := followed[id]; !ok {
			delete(state, id)
			m.logger.Info("Pruned watermark for unfollowed artist", "artist_id", id)
		}
	}
}

// Run triggers a pass immediately and then on every tick until the
// context is cancelled. Pass-level errors are logged, never fatal; the
// next tick retries.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	m.logger.Info("Starting pass scheduler", "interval", interval.String())

	if err := m.RunPass(ctx); err != nil {
		m.logger.Error("Diff pass failed", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Pass scheduler stopped")
			return
		case <-ticker.C:
			if err := m.RunPass(ctx); err != nil {
				m.logger.Error("Diff pass failed", "error", err)
			}
		}
	}
}

// Status returns a snapshot of the last pass, with the live queue depth.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	s := m.status
	m.mu.Unlock()
	s.QueueDepth = m.queue.Len()
	return s
}
