// Package config loads process configuration from flags and environment
// variables.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// Config holds all application configuration.
type Config struct {
	// Telegram sink. When the token is empty the service runs with a mock
	// sink that only logs outbound messages.
	TelegramToken  string `long:"telegram-token" env:"TELEGRAM_TOKEN" description:"Telegram bot token (mock sink when empty)"`
	TelegramChatID string `long:"telegram-chat-id" env:"TELEGRAM_CHAT_ID" description:"Destination channel or chat id"`

	// Spotify catalog credentials.
	SpotifyClientID     string `long:"spotify-client-id" env:"SPOTIFY_CLIENT_ID" description:"Spotify application client id"`
	SpotifyClientSecret string `long:"spotify-client-secret" env:"SPOTIFY_CLIENT_SECRET" description:"Spotify application client secret"`
	SpotifyRefreshToken string `long:"spotify-refresh-token" env:"SPOTIFY_REFRESH_TOKEN" description:"OAuth refresh token for the watching account"`

	// State storage. Bucket takes precedence; with neither set the service
	// defaults to local development mode under ./data.
	StorageBucket string `long:"storage-bucket" env:"STORAGE_BUCKET" description:"GCS bucket for watermark state"`
	LocalStorage  string `long:"local-storage" env:"LOCAL_STORAGE" description:"Local directory for watermark state"`

	// Pass and delivery timing.
	PassIntervalHours  int `long:"pass-interval-hours" env:"PASS_INTERVAL_HOURS" default:"6" description:"Hours between diff passes"`
	DeliverySpacingSec int `long:"delivery-spacing" env:"DELIVERY_SPACING" default:"300" description:"Base seconds between outbound messages"`
	LookbackDays       int `long:"lookback-days" env:"LOOKBACK_DAYS" default:"7" description:"Initial lookback window for artists without a watermark"`

	// Notification content.
	NoPolls   bool `long:"no-polls" env:"NO_POLLS" description:"Disable the rating poll attached to each notification"`
	NoGenres  bool `long:"no-genres" env:"NO_GENRES" description:"Disable genre hashtags in notifications"`
	MaxGenres int  `long:"max-genres" env:"MAX_GENRES" default:"3" description:"Maximum genre hashtags per notification"`

	// State retention.
	PruneUnfollowed bool `long:"prune-unfollowed" env:"PRUNE_UNFOLLOWED" description:"Drop watermarks for artists no longer followed"`

	Port  string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	Debug bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

// Load parses configuration from the command line and environment.
func Load(args []string) (*Config, error) {
	var cfg Config

	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return nil, nil
		}
		return nil, fmt.Errorf("parse configuration: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.PassIntervalHours < 1 {
		return fmt.Errorf("pass interval must be at least 1 hour, got %d", c.PassIntervalHours)
	}
	if c.LookbackDays < 1 {
		return fmt.Errorf("lookback must be at least 1 day, got %d", c.LookbackDays)
	}
	if c.DeliverySpacingSec < 0 {
		return fmt.Errorf("delivery spacing must not be negative, got %d", c.DeliverySpacingSec)
	}
	if c.TelegramToken != "" && c.TelegramChatID == "" {
		return errors.New("TELEGRAM_CHAT_ID required when TELEGRAM_TOKEN is set")
	}
	return nil
}

// PassInterval is the time between diff passes.
func (c *Config) PassInterval() time.Duration {
	return time.Duration(c.PassIntervalHours) * time.Hour
}

// DeliverySpacing is the base spacing between outbound messages.
func (c *Config) DeliverySpacing() time.Duration {
	return time.Duration(c.DeliverySpacingSec) * time.Second
}

// Lookback is the initial lookback window for unseen artists.
func (c *Config) Lookback() time.Duration {
	return time.Duration(c.LookbackDays) * 24 * time.Hour
}

// AttachPolls reports whether a rating poll accompanies each notification.
func (c *Config) AttachPolls() bool { return !c.NoPolls }

// ShowGenres reports whether genre hashtags are rendered.
func (c *Config) ShowGenres() bool { return !c.NoGenres }
