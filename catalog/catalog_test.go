package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(&Config{
		ClientID:       "client-id",
		ClientSecret:   "client-secret",
		RefreshToken:   "refresh-token",
		BaseURL:        srv.URL + "/v1",
		AuthURL:        srv.URL + "/api/token",
		HTTPClient:     srv.Client(),
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		RequestsPerSec: 1000, // no pacing in tests
	})
}

// The first authenticated call carries no token, gets a 401, and must
// trigger exactly one refresh followed by a replay with the new token.
func TestGetRefreshesTokenOnce(t *testing.T) {
	var meCalls, tokenCalls int

	mux := http.NewServeMux()
	mux.HandleFunc("/api/token", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls++
		user, pass, ok := r.BasicAuth()
		if !ok || user != "client-id" || pass != "client-secret" {
			t.Errorf("token request basic auth = %q/%q", user, pass)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		if got := r.PostForm.Get("grant_type"); got != "refresh_token" {
			t.Errorf("grant_type = %q, want refresh_token", got)
		}
		fmt.Fprint(w, `{"access_token": "fresh-token", "expires_in": 3600}`)
	})
	mux.HandleFunc("/v1/me", func(w http.ResponseWriter, r *http.Request) {
		meCalls++
		if r.Header.Get("Authorization") != "Bearer fresh-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"id": "watcher"}`)
	})

	c := testClient(t, mux)
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	if tokenCalls != 1 {
		t.Errorf("token endpoint called %d times, want 1", tokenCalls)
	}
	if meCalls != 2 {
		t.Errorf("/me called %d times, want 401 then replay", meCalls)
	}
}

// A second 401 after a successful refresh is a hard failure, not a loop.
func TestGetDoesNotLoopOnPersistentAuthFailure(t *testing.T) {
	var meCalls int

	mux := http.NewServeMux()
	mux.HandleFunc("/api/token", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"access_token": "still-bad", "expires_in": 3600}`)
	})
	mux.HandleFunc("/v1/me", func(w http.ResponseWriter, _ *http.Request) {
		meCalls++
		w.WriteHeader(http.StatusUnauthorized)
	})

	c := testClient(t, mux)
	err := c.Ping(context.Background())
	if !IsAuthError(err) {
		t.Fatalf("Ping() error = %v, want auth error", err)
	}
	if meCalls != 2 {
		t.Errorf("/me called %d times, want exactly 2", meCalls)
	}
}

// A non-429 4xx means the request itself is bad; burning the remaining
// retry attempts on an identical replay is pointless.
func TestGetClientErrorNotRetried(t *testing.T) {
	var meCalls int

	mux := http.NewServeMux()
	mux.HandleFunc("/api/token", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"access_token": "fresh-token", "expires_in": 3600}`)
	})
	mux.HandleFunc("/v1/me", func(w http.ResponseWriter, r *http.Request) {
		meCalls++
		if r.Header.Get("Authorization") != "Bearer fresh-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusForbidden)
	})

	c := testClient(t, mux)
	if err := c.Ping(context.Background()); err == nil {
		t.Fatal("Ping() error = nil, want HTTP 403")
	}
	// 401, then the replay's single 403; no retries after that.
	if meCalls != 2 {
		t.Errorf("/me called %d times, want 2", meCalls)
	}
}

func TestFollowedArtistsWalksCursor(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/me/following", func(w http.ResponseWriter, r *http.Request) {
		after := r.URL.Query().Get("after")
		switch after {
		case "":
			fmt.Fprint(w, `{"artists": {"items": [
				{"id": "a1", "name": "Artist A", "genres": ["indie rock"]},
				{"id": "b2", "name": "Artist B"}
			], "cursors": {"after": "b2"}, "total": 3}}`)
		case "b2":
			fmt.Fprint(w, `{"artists": {"items": [
				{"id": "c3", "name": "Artist C"}
			], "cursors": {"after": ""}, "total": 3}}`)
		default:
			t.Errorf("unexpected cursor %q", after)
		}
	})

	c := testClient(t, mux)
	artists, err := c.FollowedArtists(context.Background())
	if err != nil {
		t.Fatalf("FollowedArtists() error = %v", err)
	}
	if len(artists) != 3 {
		t.Fatalf("got %d artists, want 3", len(artists))
	}
	if artists[0].ID != "a1" || artists[2].ID != "c3" {
		t.Errorf("artists = %v, want a1..c3 in order", artists)
	}
	if len(artists[0].Genres) != 1 || artists[0].Genres[0] != "indie rock" {
		t.Errorf("Genres = %v, want [indie rock]", artists[0].Genres)
	}
}

func TestReleasesSincePagesAndFilters(t *testing.T) {
	type album struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		AlbumType   string `json:"album_type"`
		ReleaseDate string `json:"release_date"`
		DatePrec    string `json:"release_date_precision"`
	}

	// A full first page forces a second fetch; the old album on page two
	// falls outside the window.
	firstPage := make([]album, pageLimit)
	for i := range firstPage {
		firstPage[i] = album{
			ID:          fmt.Sprintf("r%02d", i),
			Name:        fmt.Sprintf("Release %02d", i),
			AlbumType:   "single",
			ReleaseDate: "2026-08-25",
			DatePrec:    "day",
		}
	}
	secondPage := []album{
		{ID: "r-old", Name: "Old Album", AlbumType: "album", ReleaseDate: "2020-01-01", DatePrec: "day"},
		{ID: "r-new", Name: "New Album", AlbumType: "album", ReleaseDate: "2026-08-28", DatePrec: "day"},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/artists/a1/albums", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("include_groups"); got != "album,single" {
			t.Errorf("include_groups = %q, want album,single", got)
		}
		page := struct {
			Items []album `json:"items"`
			Next  string  `json:"next"`
		}{}
		if r.URL.Query().Get("offset") == "0" {
			page.Items = firstPage
			page.Next = "more"
		} else {
			page.Items = secondPage
		}
		if err := json.NewEncoder(w).Encode(page); err != nil {
			t.Fatal(err)
		}
	})

	c := testClient(t, mux)
	since := time.Date(2026, 8, 23, 0, 0, 0, 0, time.UTC)
	releases, err := c.ReleasesSince(context.Background(), "a1", since)
	if err != nil {
		t.Fatalf("ReleasesSince() error = %v", err)
	}
	if len(releases) != pageLimit+1 {
		t.Fatalf("got %d releases, want %d (old album filtered)", len(releases), pageLimit+1)
	}
	last := releases[len(releases)-1]
	if last.ID != "r-new" {
		t.Errorf("last release = %q, want r-new", last.ID)
	}
}

func TestReleaseDetailTracks(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/albums/r1", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{
			"id": "r1", "name": "Fresh Album", "album_type": "album",
			"release_date": "2026-08-28", "release_date_precision": "day",
			"total_tracks": 2,
			"artists": [{"id": "a1", "name": "Artist A"}],
			"tracks": {"items": [
				{"id": "t1", "name": "Opener", "artists": [{"id": "a1", "name": "Artist A"}]},
				{"id": "t2", "name": "Duet", "artists": [{"id": "a1"}, {"id": "b2"}]}
			]}
		}`)
	})

	c := testClient(t, mux)
	detail, err := c.ReleaseDetail(context.Background(), "r1")
	if err != nil {
		t.Fatalf("ReleaseDetail() error = %v", err)
	}
	if detail.ID != "r1" || len(detail.Tracks) != 2 {
		t.Fatalf("detail = %+v, want r1 with 2 tracks", detail)
	}
	if !detail.CreditedOnTracks("b2") {
		t.Error("CreditedOnTracks(b2) = false, want true via the duet")
	}
	if detail.CreditedOnTracks("c3") {
		t.Error("CreditedOnTracks(c3) = true, want false")
	}
}

func TestParseReleaseDate(t *testing.T) {
	tests := []struct {
		date      string
		precision string
		want      time.Time
	}{
		{"2026-08-28", "day", time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)},
		{"2026-08", "month", time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)},
		{"2026", "year", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
		// Precision missing entirely; layout inferred from the value.
		{"2026-08-28", "", time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)},
		{"2026", "", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"not-a-date", "day", time.Time{}},
	}
	for _, tc := range tests {
		if got := parseReleaseDate(tc.date, tc.precision); !got.Equal(tc.want) {
			t.Errorf("parseReleaseDate(%q, %q) = %v, want %v", tc.date, tc.precision, got, tc.want)
		}
	}
}
