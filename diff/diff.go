// Package diff decides which fetched releases are genuinely new for a
// watched artist and advances the per-artist watermark.
package diff

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"spotify-notifier/pkg/notifier"
)

// compilationKeywords flag release names that usually belong to
// multi-artist compilations the artist did not actually publish.
var compilationKeywords = []string{
	"various artists",
	"compilation",
	"the best of",
	"greatest hits",
}

// Catalog is the slice of the catalog API the diff engine consumes.
type Catalog interface {
	ReleasesSince(ctx context.Context, artistID string, since time.Time) ([]*notifier.Release, error)
	ReleaseDetail(ctx context.Context, releaseID string) (*notifier.ReleaseDetail, error)
}

// Config holds diff engine configuration.
type Config struct {
	Catalog  Catalog
	Logger   *slog.Logger
	Lookback time.Duration // initial window for artists without a watermark

	AttachPolls bool
	ShowGenres  bool
	MaxGenres   int
}

// Engine classifies fetched releases against persisted watermarks.
type Engine struct {
	catalog     Catalog
	logger      *slog.Logger
	lookback    time.Duration
	attachPolls bool
	showGenres  bool
	maxGenres   int

	now func() time.Time
}

// New creates a new diff engine.
func New(cfg *Config) *Engine {
	return &Engine{
		catalog:     cfg.Catalog,
		logger:      cfg.Logger,
		lookback:    cfg.Lookback,
		attachPolls: cfg.AttachPolls,
		showGenres:  cfg.ShowGenres,
		maxGenres:   cfg.MaxGenres,
		now:         time.Now,
	}
}

// Pass scopes one diff run. The duplicate guard spans all artists in the
// pass because a collaboration release surfaces under every credited
// artist and the API may repeat ids across pages.
type Pass struct {
	e       *Engine
	seen    map[string]struct{}
	details map[string]*notifier.ReleaseDetail
}

// NewPass starts a diff pass with a fresh duplicate guard.
func (e *Engine) NewPass() *Pass {
	return &Pass{
		e:       e,
		seen:    make(map[string]struct{}),
		details: make(map[string]*notifier.ReleaseDetail),
	}
}

// detail fetches release detail at most once per pass. The track check and
// the compilation confirmation both need the same payload; errors are not
// cached so a transient failure can recover within the pass.
func (p *Pass) detail(ctx context.Context, releaseID string) (*notifier.ReleaseDetail, error) {
	if d, ok := p.details[releaseID]; ok {
		return d, nil
	}
	d, err := p.e.catalog.ReleaseDetail(ctx, releaseID)
	if err != nil {
		return nil, err
	}
	p.details[releaseID] = d
	return d, nil
}

// DiffArtist fetches candidates since the artist's watermark, filters them,
// and returns the genuinely new releases together with the advanced
// watermark. On a fetch error the caller keeps the old watermark so the
// artist is rescanned from the same lower bound next pass.
func (p *Pass) DiffArtist(ctx context.Context, artist *notifier.Artist, wm *notifier.Watermark) ([]*notifier.Release, *notifier.Watermark, error) {
	e := p.e
	// The watermark stores a date, not an instant: a release published
	// later on the pass day must still be on or after the lower bound
	// next pass (its id suppresses the duplicate).
	today := e.now().UTC().Truncate(24 * time.Hour)

	since := today.Add(-e.lookback)
	if wm != nil && !wm.LastCheckDate.IsZero() {
		since = wm.LastCheckDate
	}

	candidates, err := e.catalog.ReleasesSince(ctx, artist.ID, since)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch releases: %w", err)
	}

	updated := wm.Clone()
	if today.After(updated.LastCheckDate) {
		updated.LastCheckDate = today
	}

	if len(candidates) == 0 {
		e.logger.Debug("No candidates, artist caught up", "artist", artist.Name)
		return nil, updated, nil
	}

	primary := candidates[:0]
	for _, r := range candidates {
		if r.ReleaseDate.Before(since) {
			continue
		}
		if !r.CreditedTo(artist.ID) {
			e.logger.Debug("Release skipped, artist not a primary credit",
				"artist", artist.Name, "release", r.Name)
			continue
		}
		if !p.creditedOnTracks(ctx, artist, r) {
			e.logger.Info("Release skipped, artist on none of its tracks",
				"artist", artist.Name, "release", r.Name)
			continue
		}
		primary = append(primary, r)
	}

	// Newest first. This only orders duplicate suppression within the
	// pass; delivery stays FIFO in discovery order.
	sort.SliceStable(primary, func(i, j int) bool {
		return primary[i].ReleaseDate.After(primary[j].ReleaseDate)
	})

	var fresh []*notifier.Release
	for _, r := range primary {
		if _, dup := p.seen[r.ID]; dup {
			continue
		}
		p.seen[r.ID] = struct{}{}

		if updated.Knows(r.ID) {
			continue
		}

		if looksLikeCompilation(r.Name) && !p.confirmPrimary(ctx, artist, r) {
			// Not marked known, so the release is re-evaluated next pass.
			e.logger.Info("Compilation suppressed",
				"artist", artist.Name, "release", r.Name, "release_id", r.ID)
			continue
		}

		updated.AddKnown(r.ID)
		fresh = append(fresh, r)
	}

	if len(fresh) > 0 {
		updated.LastRelease = fresh[0]
		e.logger.Info("New releases found",
			"artist", artist.Name,
			"count", len(fresh),
			"newest", fresh[0].Name)
	}

	return fresh, updated, nil
}

// creditedOnTracks applies the track-level credit check. The check is
// best-effort and fails open: a detail fetch error keeps the release,
// favoring a false positive over silently losing a real one.
func (p *Pass) creditedOnTracks(ctx context.Context, artist *notifier.Artist, r *notifier.Release) bool {
	detail, err := p.detail(ctx, r.ID)
	if err != nil {
		p.e.logger.Warn("Track detail fetch failed, keeping release",
			"artist", artist.Name, "release", r.Name, "error", err)
		return true
	}
	if len(detail.Tracks) == 0 {
		return true
	}
	return detail.CreditedOnTracks(artist.ID)
}

// confirmPrimary double-checks a compilation-looking release by fetching
// full detail and requiring the artist among the primary credits. Unlike
// the track check this fails closed: an unconfirmable compilation is
// suppressed rather than notified.
func (p *Pass) confirmPrimary(ctx context.Context, artist *notifier.Artist, r *notifier.Release) bool {
	detail, err := p.detail(ctx, r.ID)
	if err != nil {
		p.e.logger.Warn("Compilation confirmation fetch failed, suppressing",
			"artist", artist.Name, "release", r.Name, "error", err)
		return false
	}
	return detail.CreditedTo(artist.ID)
}

func looksLikeCompilation(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range compilationKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
