package diff

import (
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"spotify-notifier/pkg/notifier"
)

func renderEngine(showGenres bool, maxGenres int) *Engine {
	return New(&Config{
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		AttachPolls: true,
		ShowGenres:  showGenres,
		MaxGenres:   maxGenres,
	})
}

func TestRenderMessage(t *testing.T) {
	artist := &notifier.Artist{
		ID:     "a1",
		Name:   "Artist A",
		Genres: []string{"Indie Rock", "dream pop", "shoegaze", "lo-fi"},
	}
	r := &notifier.Release{
		ID:          "r1",
		Name:        "Fresh Album",
		Type:        "album",
		ReleaseDate: time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC),
		URL:         "https://open.spotify.com/album/r1",
		TotalTracks: 10,
	}

	msg := renderEngine(true, 3).renderMessage(artist, r)

	for _, want := range []string{
		"*Artist A* has a new album out!",
		"*Fresh Album*",
		"August 28, 2026",
		"10 tracks",
		"#indierock",
		"#dreampop",
		"#shoegaze",
		"[Listen on Spotify](https://open.spotify.com/album/r1)",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
	if strings.Contains(msg, "#lo-fi") {
		t.Errorf("message exceeds the genre cap:\n%s", msg)
	}
}

func TestRenderMessageWithoutGenres(t *testing.T) {
	artist := &notifier.Artist{ID: "a1", Name: "Artist A", Genres: []string{"indie rock"}}
	r := &notifier.Release{ID: "r1", Name: "Fresh Single", Type: "single", TotalTracks: 1}

	msg := renderEngine(false, 3).renderMessage(artist, r)
	if strings.Contains(msg, "#") {
		t.Errorf("genres rendered while disabled:\n%s", msg)
	}
	if !strings.Contains(msg, "1 track") || strings.Contains(msg, "1 tracks") {
		t.Errorf("track count not singular:\n%s", msg)
	}
}

func TestRenderMessageEscapesMarkdown(t *testing.T) {
	artist := &notifier.Artist{ID: "a1", Name: "A*B_C"}
	r := &notifier.Release{ID: "r1", Name: "Vol. [1]", Type: "album"}

	msg := renderEngine(false, 0).renderMessage(artist, r)
	if !strings.Contains(msg, `A\*B\_C`) {
		t.Errorf("artist name not escaped:\n%s", msg)
	}
	if !strings.Contains(msg, `Vol. \[1]`) {
		t.Errorf("release name not escaped:\n%s", msg)
	}
}

func TestReleaseKind(t *testing.T) {
	tests := []struct {
		name        string
		albumType   string
		totalTracks int
		want        string
	}{
		{"plain single", "single", 1, "single"},
		{"multi-track single is an EP", "single", 4, "EP"},
		{"album", "album", 12, "album"},
		{"compilation", "compilation", 20, "compilation"},
		{"unknown type defaults to album", "", 8, "album"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := &notifier.Release{Type: tc.albumType, TotalTracks: tc.totalTracks}
			if got := releaseKind(r); got != tc.want {
				t.Errorf("releaseKind() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestNotificationCarriesPollFlag(t *testing.T) {
	artist := &notifier.Artist{ID: "a1", Name: "Artist A"}
	r := &notifier.Release{ID: "r1", Name: "Fresh Album", Type: "album", URL: "https://x", ImageURL: "https://img"}

	n := renderEngine(false, 0).Notification(artist, r)
	if n.ID == "" {
		t.Error("notification id empty")
	}
	if !n.AddPoll {
		t.Error("AddPoll = false, want engine setting carried through")
	}
	if n.ImageURL != "https://img" || n.SourceURL != "https://x" {
		t.Errorf("urls = %q / %q, want copied from the release", n.ImageURL, n.SourceURL)
	}
}
