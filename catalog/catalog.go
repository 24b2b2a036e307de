// Package catalog implements the Spotify Web API client used to enumerate
// followed artists and their releases.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"golang.org/x/time/rate"

	"spotify-notifier/pkg/notifier"
)

const (
	defaultBaseURL = "https://api.spotify.com/v1"
	defaultAuthURL = "https://accounts.spotify.com/api/token"

	pageLimit = 50
	// maxPages bounds release paging per artist so a pathological catalog
	// response cannot spin forever.
	maxPages = 20
)

// AuthError indicates the access token was rejected (HTTP 401). The client
// refreshes the token and replays the request exactly once.
type AuthError struct {
	Endpoint string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("access token rejected: %s", e.Endpoint)
}

// IsAuthError checks if an error is an access token rejection.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// Config holds catalog client configuration.
type Config struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	BaseURL      string // defaults to the Spotify Web API
	AuthURL      string // defaults to the Spotify accounts endpoint
	HTTPClient   *http.Client
	Logger       *slog.Logger
	// RequestsPerSec paces outbound calls; zero means 4 req/s.
	RequestsPerSec float64
}

// Client talks to the Spotify Web API.
type Client struct {
	httpClient   *http.Client
	logger       *slog.Logger
	limiter      *rate.Limiter
	baseURL      string
	authURL      string
	clientID     string
	clientSecret string
	refreshToken string

	mu          sync.Mutex
	accessToken string
}

// New creates a new catalog client.
func New(cfg *Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	authURL := cfg.AuthURL
	if authURL == "" {
		authURL = defaultAuthURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	rps := cfg.RequestsPerSec
	if rps <= 0 {
		rps = 4
	}
	return &Client{
		httpClient:   httpClient,
		logger:       cfg.Logger,
		limiter:      rate.NewLimiter(rate.Limit(rps), 1),
		baseURL:      baseURL,
		authURL:      authURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		refreshToken: cfg.RefreshToken,
	}
}

// Ping verifies API reachability and credentials, refreshing the access
// token if it has expired.
func (c *Client) Ping(ctx context.Context) error {
	var me struct {
		ID string `json:"id"`
	}
	if err := c.get(ctx, c.baseURL+"/me", &me); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	c.logger.Info("Catalog API reachable", "account", me.ID)
	return nil
}

type followedPage struct {
	Artists struct {
		Items []struct {
			ID     string   `json:"id"`
			Name   string   `json:"name"`
			Genres []string `json:"genres"`
		} `json:"items"`
		Cursors struct {
			After string `json:"after"`
		} `json:"cursors"`
		Total int `json:"total"`
	} `json:"artists"`
}

// FollowedArtists returns all artists the watching account follows,
// walking the cursor-paged endpoint to the end.
func (c *Client) FollowedArtists(ctx context.Context) ([]*notifier.Artist, error) {
	var artists []*notifier.Artist
	after := ""

	for {
		endpoint := fmt.Sprintf("%s/me/following?type=artist&limit=%d", c.baseURL, pageLimit)
		if after != "" {
			endpoint += "&after=" + url.QueryEscape(after)
		}

		var page followedPage
		if err := c.get(ctx, endpoint, &page); err != nil {
			return nil, fmt.Errorf("list followed artists: %w", err)
		}

		for _, item := range page.Artists.Items {
			artists = append(artists, &notifier.Artist{
				ID:     item.ID,
				Name:   item.Name,
				Genres: item.Genres,
			})
		}

		after = page.Artists.Cursors.After
		if after == "" || len(page.Artists.Items) == 0 {
			break
		}
	}

	c.logger.Info("Followed artists listed", "count", len(artists))
	return artists, nil
}

type albumItem struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	AlbumType    string `json:"album_type"`
	ReleaseDate  string `json:"release_date"`
	DatePrec     string `json:"release_date_precision"`
	TotalTracks  int    `json:"total_tracks"`
	ExternalURLs struct {
		Spotify string `json:"spotify"`
	} `json:"external_urls"`
	Images []struct {
		URL string `json:"url"`
	} `json:"images"`
	Artists []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"artists"`
}

type albumsPage struct {
	Items []albumItem `json:"items"`
	Next  string      `json:"next"`
}

// ReleasesSince returns the artist's albums and singles released on or
// after the given date. The endpoint pages by offset; pagination and date
// filtering are owned here so callers see a flat candidate list.
func (c *Client) ReleasesSince(ctx context.Context, artistID string, since time.Time) ([]*notifier.Release, error) {
	var releases []*notifier.Release

	for page := 0; page < maxPages; page++ {
		endpoint := fmt.Sprintf("%s/artists/%s/albums?include_groups=album,single&limit=%d&offset=%d",
			c.baseURL, url.PathEscape(artistID), pageLimit, page*pageLimit)

		var resp albumsPage
		if err := c.get(ctx, endpoint, &resp); err != nil {
			return nil, fmt.Errorf("list releases for %s: %w", artistID, err)
		}

		for i := range resp.Items {
			r := releaseFromAlbum(&resp.Items[i])
			if r.ReleaseDate.Before(since) {
				continue
			}
			releases = append(releases, r)
		}

		if resp.Next == "" || len(resp.Items) < pageLimit {
			break
		}
	}

	c.logger.Debug("Releases fetched", "artist_id", artistID, "since", since.Format("2006-01-02"), "count", len(releases))
	return releases, nil
}

type albumDetail struct {
	albumItem
	Tracks struct {
		Items []struct {
			ID      string `json:"id"`
			Name    string `json:"name"`
			Artists []struct {
				ID   string `json:"id"`
				Name string `json:"name"`
			} `json:"artists"`
		} `json:"items"`
	} `json:"tracks"`
}

// ReleaseDetail fetches the full release including track-level credits.
func (c *Client) ReleaseDetail(ctx context.Context, releaseID string) (*notifier.ReleaseDetail, error) {
	endpoint := fmt.Sprintf("%s/albums/%s", c.baseURL, url.PathEscape(releaseID))

	var resp albumDetail
	if err := c.get(ctx, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("fetch release %s: %w", releaseID, err)
	}

	detail := &notifier.ReleaseDetail{Release: *releaseFromAlbum(&resp.albumItem)}
	for _, t := range resp.Tracks.Items {
		track := notifier.Track{ID: t.ID, Name: t.Name}
		for _, a := range t.Artists {
			track.Artists = append(track.Artists, notifier.ArtistRef{ID: a.ID, Name: a.Name})
		}
		detail.Tracks = append(detail.Tracks, track)
	}
	return detail, nil
}

func releaseFromAlbum(a *albumItem) *notifier.Release {
	r := &notifier.Release{
		ID:          a.ID,
		Name:        a.Name,
		Type:        a.AlbumType,
		ReleaseDate: parseReleaseDate(a.ReleaseDate, a.DatePrec),
		URL:         a.ExternalURLs.Spotify,
		TotalTracks: a.TotalTracks,
	}
	if len(a.Images) > 0 {
		r.ImageURL = a.Images[0].URL
	}
	for _, ar := range a.Artists {
		r.Artists = append(r.Artists, notifier.ArtistRef{ID: ar.ID, Name: ar.Name})
	}
	return r
}

// parseReleaseDate handles the three precisions the API emits. Unparseable
// dates come back zero, which sorts them before any lookback window.
func parseReleaseDate(date, precision string) time.Time {
	layout := "2006-01-02"
	switch precision {
	case "year":
		layout = "2006"
	case "month":
		layout = "2006-01"
	}
	t, err := time.Parse(layout, date)
	if err != nil {
		// Precision field missing or wrong; try the remaining layouts.
		for _, l := range []string{"2006-01-02", "2006-01", "2006"} {
			if t, err = time.Parse(l, date); err == nil {
				return t
			}
		}
		return time.Time{}
	}
	return t
}

// get performs an authenticated GET, refreshing the access token and
// replaying exactly once when the API reports the token expired.
func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	err := c.getOnce(ctx, endpoint, out)
	if !IsAuthError(err) {
		return err
	}

	c.logger.Info("Access token expired, refreshing", "endpoint", endpoint)
	if refreshErr := c.refresh(ctx); refreshErr != nil {
		return fmt.Errorf("refresh access token: %w", refreshErr)
	}
	return c.getOnce(ctx, endpoint, out)
}

func (c *Client) getOnce(ctx context.Context, endpoint string, out any) error {
	var authErr *AuthError

	err := retry.Do(
		func() error {
			if waitErr := c.limiter.Wait(ctx); waitErr != nil {
				return retry.Unrecoverable(waitErr)
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}
			req.Header.Set("Accept", "application/json")
			req.Header.Set("Authorization", "Bearer "+c.token())

			startTime := time.Now()
			resp, err := c.httpClient.Do(req)
			duration := time.Since(startTime)

			if err != nil {
				c.logger.Warn("Catalog API request failed, will retry",
					"endpoint", endpoint,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					c.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			switch {
			case resp.StatusCode == http.StatusUnauthorized:
				authErr = &AuthError{Endpoint: endpoint}
				return retry.Unrecoverable(authErr)
			case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
				// Replaying an identical bad request cannot succeed.
				return retry.Unrecoverable(fmt.Errorf("HTTP %d: %s", resp.StatusCode, endpoint))
			case resp.StatusCode != http.StatusOK:
				c.logger.Warn("Catalog API returned non-OK status, will retry",
					"status_code", resp.StatusCode, "endpoint", endpoint)
				return fmt.Errorf("HTTP %d", resp.StatusCode)
			}

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("read response: %w", err)
			}
			if err := json.Unmarshal(body, out); err != nil {
				return retry.Unrecoverable(fmt.Errorf("decode response: %w", err))
			}

			c.logger.Debug("Catalog API request completed",
				"endpoint", endpoint,
				"duration_ms", duration.Milliseconds())
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Info("Retrying catalog request after error", "attempt", n, "error", err)
		}),
	)

	if authErr != nil {
		return authErr
	}
	if err != nil {
		return fmt.Errorf("after retries: %w", err)
	}
	return nil
}

func (c *Client) token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken
}

// refresh exchanges the long-lived refresh token for a fresh access token.
func (c *Client) refresh(ctx context.Context) error {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", c.refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.clientID, c.clientSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("token endpoint: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("token endpoint returned HTTP %d", resp.StatusCode)
	}

	var token struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return fmt.Errorf("decode token response: %w", err)
	}
	if token.AccessToken == "" {
		return errors.New("token endpoint returned empty access token")
	}

	c.mu.Lock()
	c.accessToken = token.AccessToken
	c.mu.Unlock()

	c.logger.Info("Access token refreshed", "expires_in_sec", token.ExpiresIn)
	return nil
}
