package diff

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"spotify-notifier/pkg/notifier"
)

// Notification renders a queue entry for an accepted release. The message
// is Markdown for the Telegram sink.
func (e *Engine) Notification(artist *notifier.Artist, r *notifier.Release) *notifier.Notification {
	return &notifier.Notification{
		ID:          uuid.NewString(),
		ArtistName:  artist.Name,
		ReleaseName: r.Name,
		Message:     e.renderMessage(artist, r),
		ImageURL:    r.ImageURL,
		SourceURL:   r.URL,
		AddPoll:     e.attachPolls,
	}
}

func (e *Engine) renderMessage(artist *notifier.Artist, r *notifier.Release) string {
	var b strings.Builder

	fmt.Fprintf(&b, "*%s* has a new %s out!\n\n", escapeMarkdown(artist.Name), releaseKind(r))
	fmt.Fprintf(&b, "*%s*", escapeMarkdown(r.Name))
	if !r.ReleaseDate.IsZero() {
		fmt.Fprintf(&b, "\n%s", r.ReleaseDate.Format("January 2, 2006"))
	}
	if r.TotalTracks > 0 {
		if r.TotalTracks == 1 {
			b.WriteString(", 1 track")
		} else {
			fmt.Fprintf(&b, ", %d tracks", r.TotalTracks)
		}
	}

	if e.showGenres && len(artist.Genres) > 0 {
		genres := artist.Genres
		if e.maxGenres > 0 && len(genres) > e.maxGenres {
			genres = genres[:e.maxGenres]
		}
		b.WriteString("\n")
		for _, g := range genres {
			fmt.Fprintf(&b, " #%s", hashtag(g))
		}
	}

	if r.URL != "" {
		fmt.Fprintf(&b, "\n\n[Listen on Spotify](%s)", r.URL)
	}

	return b.String()
}

func releaseKind(r *notifier.Release) string {
	switch r.Type {
	case "single":
		if r.TotalTracks > 1 {
			return "EP"
		}
		return "single"
	case "compilation":
		return "compilation"
	default:
		return "album"
	}
}

// escapeMarkdown neutralizes the Markdown control characters Telegram
// parses, so artist and release names render literally.
func escapeMarkdown(s string) string {
	replacer := strings.NewReplacer(
		"*", "\\*",
		"_", "\\_",
		"[", "\\[",
		"`", "\\`",
	)
	return replacer.Replace(s)
}

// hashtag turns a genre label into a single hashtag word.
func hashtag(genre string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(genre)), " ", "")
}
