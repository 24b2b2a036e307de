// Package notifier contains the core domain types for the Spotify release
// notification service.
package notifier

import (
	"sort"
	"time"
)

// ArtistRef is a single artist credit on a release or track.
type ArtistRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Artist is a followed artist watched for new releases.
type Artist struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Genres []string `json:"genres,omitempty"`
}

// Release is a published album, single or compilation attributed to one or
// more artists. Releases are sourced fresh from the catalog on every pass;
// only the id (and the most recent release) is persisted.
type Release struct {
	ReleaseDate time.Time   `json:"release_date"`
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	URL         string      `json:"url"`
	ImageURL    string      `json:"image_url,omitempty"`
	TotalTracks int         `json:"total_tracks"`
	Artists     []ArtistRef `json:"artists"`
}

// CreditedTo reports whether the artist appears among the release's
// top-level artist credits.
func (r *Release) CreditedTo(artistID string) bool {
	for _, a := range r.Artists {
		if a.ID == artistID {
			return true
		}
	}
	return false
}

// Track is a single track on a release, with its own artist credits.
type Track struct {
	ID      string      `json:"id"`
	Name    string      `json:"name"`
	Artists []ArtistRef `json:"artists"`
}

// ReleaseDetail is the full catalog view of a release including
// track-level artist credits.
type ReleaseDetail struct {
	Release
	Tracks []Track `json:"tracks"`
}

// CreditedOnTracks reports whether the artist appears on at least one track.
func (d *ReleaseDetail) CreditedOnTracks(artistID string) bool {
	for _, t := range d.Tracks {
		for _, a := range t.Artists {
			if a.ID == artistID {
				return true
			}
		}
	}
	return false
}

// Watermark is the persisted diffing cursor for one artist.
// KnownReleaseIDs only grows and LastCheckDate never moves backward; the id
// slice is kept sorted so the serialized state is stable across round trips.
type Watermark struct {
	LastCheckDate   time.Time `json:"last_check_date"`
	KnownReleaseIDs []string  `json:"known_release_ids"`
	LastRelease     *Release  `json:"last_release,omitempty"`
}

// Knows reports whether the release id has already been notified.
func (w *Watermark) Knows(id string) bool {
	i := sort.SearchStrings(w.KnownReleaseIDs, id)
	return i < len(w.KnownReleaseIDs) && w.KnownReleaseIDs[i] == id
}

// AddKnown records a release id, keeping the slice sorted.
func (w *Watermark) AddKnown(id string) {
	i := sort.SearchStrings(w.KnownReleaseIDs, id)
	if i < len(w.KnownReleaseIDs) && w.KnownReleaseIDs[i] == id {
		return
	}
	w.KnownReleaseIDs = append(w.KnownReleaseIDs, "")
	copy(w.KnownReleaseIDs[i+1:], w.KnownReleaseIDs[i:])
	w.KnownReleaseIDs[i] = id
}

// Clone returns a deep copy so a pass can build an updated watermark
// without mutating the loaded snapshot.
func (w *Watermark) Clone() *Watermark {
	if w == nil {
		return &Watermark{}
	}
	c := &Watermark{
		LastCheckDate:   w.LastCheckDate,
		KnownReleaseIDs: append([]string(nil), w.KnownReleaseIDs...),
	}
	if w.LastRelease != nil {
		lr := *w.LastRelease
		lr.Artists = append([]ArtistRef(nil), w.LastRelease.Artists...)
		c.LastRelease = &lr
	}
	return c
}

// Notification is one queued unit of outbound content for a newly
// discovered release. Entries are value objects; once enqueued they are
// owned exclusively by the delivery queue.
type Notification struct {
	ID          string
	ArtistName  string
	ReleaseName string
	Message     string
	ImageURL    string
	SourceURL   string
	AddPoll     bool
}
