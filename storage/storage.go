// Package storage handles persistence of per-artist watermarks.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"

	"spotify-notifier/pkg/notifier"
)

// ObjectName is the single state object holding the full watermark mapping.
const ObjectName = "watermarks.json"

// Store persists the artist id -> watermark mapping as one flat JSON
// object, either in a GCS bucket or on the local filesystem.
type Store struct {
	client    *storage.Client
	logger    *slog.Logger
	localPath string
	bucket    string
}

// New creates a new storage handler. When localPath is non-empty the local
// backend is used and client may be nil.
func New(client *storage.Client, bucket string, localPath string, logger *slog.Logger) *Store {
	return &Store{
		client:    client,
		logger:    logger,
		localPath: localPath,
		bucket:    bucket,
	}
}

// Load reads the full watermark mapping. An absent or corrupt state object
// degrades to an empty mapping with a logged warning; the watched set is
// then rescanned from the initial lookback window.
func (s *Store) Load(ctx context.Context) (map[string]*notifier.Watermark, error) {
	data, err := s.read(ctx)
	if err != nil {
		if isNotExist(err) {
			s.logger.Info("No watermark state found, starting empty", "object", ObjectName)
			return map[string]*notifier.Watermark{}, nil
		}
		return nil, fmt.Errorf("read state: %w", err)
	}

	var state map[string]*notifier.Watermark
	if err := json.Unmarshal(data, &state); err != nil {
		s.logger.Warn("Watermark state is corrupt, starting empty", "object", ObjectName, "error", err)
		return map[string]*notifier.Watermark{}, nil
	}
	if state == nil {
		state = map[string]*notifier.Watermark{}
	}

	s.logger.Debug("Watermark state loaded", "artists", len(state))
	return state, nil
}

// Save writes the full mapping in one shot. Map keys and known-id slices
// are sorted, so saving an unchanged mapping rewrites identical bytes.
func (s *Store) Save(ctx context.Context, state map[string]*notifier.Watermark) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	if s.localPath != "" {
		filePath := filepath.Join(s.localPath, ObjectName)
		if err := os.WriteFile(filePath, data, 0o600); err != nil {
			return fmt.Errorf("write to local storage: %w", err)
		}
		s.logger.Info("Watermark state saved to local storage", "path", filePath, "artists", len(state))
		return nil
	}

	err = retry.Do(
		func() error {
			w := s.client.Bucket(s.bucket).Object(ObjectName).NewWriter(ctx)
			if _, writeErr := w.Write(data); writeErr != nil {
				if closeErr := w.Close(); closeErr != nil {
					s.logger.Warn("Failed to close writer after error", "error", closeErr)
				}
				return fmt.Errorf("write to storage: %w", writeErr)
			}
			if closeErr := w.Close(); closeErr != nil {
				return fmt.Errorf("close storage writer: %w", closeErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying state save after error", "attempt", n, "error", retryErr)
		}),
	)
	if err != nil {
		return fmt.Errorf("save after retries: %w", err)
	}

	s.logger.Info("Watermark state saved", "bucket", s.bucket, "artists", len(state))
	return nil
}

func (s *Store) read(ctx context.Context) ([]byte, error) {
	if s.localPath != "" {
		return os.ReadFile(filepath.Join(s.localPath, ObjectName))
	}

	var data []byte
	err := retry.Do(
		func() error {
			r, openErr := s.client.Bucket(s.bucket).Object(ObjectName).NewReader(ctx)
			if openErr != nil {
				if errors.Is(openErr, storage.ErrObjectNotExist) {
					return retry.Unrecoverable(openErr)
				}
				return fmt.Errorf("open storage reader: %w", openErr)
			}
			defer func() {
				if closeErr := r.Close(); closeErr != nil {
					s.logger.Warn("Failed to close storage reader", "error", closeErr)
				}
			}()

			var readErr error
			data, readErr = io.ReadAll(r)
			if readErr != nil {
				return fmt.Errorf("read from storage: %w", readErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying state load after error", "attempt", n, "error", retryErr)
		}),
	)
	return data, err
}

func isNotExist(err error) bool {
	return os.IsNotExist(err) || errors.Is(err, storage.ErrObjectNotExist)
}
