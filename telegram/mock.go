package telegram

import (
	"context"
	"log/slog"
)

// MockSink logs outbound messages instead of sending them, for local
// development without a bot token.
type MockSink struct {
	logger *slog.Logger
}

// NewMockSink creates a new mock sink.
func NewMockSink(logger *slog.Logger) *MockSink {
	return &MockSink{logger: logger}
}

// SendText logs the message instead of sending it.
func (m *MockSink) SendText(ctx context.Context, text string) error {
	m.logger.Info("MOCK MESSAGE", "length", len(text), "text", text)
	return nil
}

// SendPhoto logs the photo post instead of sending it.
func (m *MockSink) SendPhoto(ctx context.Context, photoURL, caption string) error {
	m.logger.Info("MOCK PHOTO", "photo_url", photoURL, "caption", caption)
	return nil
}

// SendPoll logs the poll instead of creating it.
func (m *MockSink) SendPoll(ctx context.Context, question string, options []string) error {
	m.logger.Info("MOCK POLL", "question", question, "options", len(options))
	return nil
}
