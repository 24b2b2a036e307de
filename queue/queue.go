// Package queue implements the throttled FIFO queue that decouples release
// discovery from posting to the messaging sink.
package queue

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"spotify-notifier/metrics"
	"spotify-notifier/pkg/notifier"
)

const (
	// Spacing between outbound messages: base plus uniform jitter of
	// +-spacingJitter, never below minSpacing. The sink's anti-spam
	// expectations want a human-looking cadence, not throughput.
	minSpacing    = 60 * time.Second
	spacingJitter = 60 * time.Second

	// Delay before creating the poll that follows a post, so the sink
	// shows them in order.
	defaultPollDelay = 10 * time.Second

	fallbackPollQuestion = "Rate this release"
)

// ratingOptions is the five-option linear scale attached to each
// notification poll.
var ratingOptions = []string{"1 ⭐", "2 ⭐", "3 ⭐", "4 ⭐", "5 ⭐"}

var fallbackPollOptions = []string{"1", "2", "3", "4", "5"}

// Sink is the slice of the messaging API the queue consumes.
type Sink interface {
	SendText(ctx context.Context, text string) error
	SendPhoto(ctx context.Context, photoURL, caption string) error
	SendPoll(ctx context.Context, question string, options []string) error
}

// Queue is an unbounded FIFO of pending notifications drained by a single
// lazily started worker. One mutex owns both the slice and the
// worker-running flag, so the check-and-start handoff cannot race.
type Queue struct {
	sink      Sink
	logger    *slog.Logger
	collector *metrics.Collector
	ctx       context.Context

	baseSpacing time.Duration
	minSpacing  time.Duration
	jitter      time.Duration
	pollDelay   time.Duration
	pollLimit   int // sink-imposed cap on poll question length

	mu      sync.Mutex
	pending []*notifier.Notification
	running bool
	wg      sync.WaitGroup
}

// Config holds delivery queue configuration.
type Config struct {
	Sink        Sink
	Logger      *slog.Logger
	Collector   *metrics.Collector
	BaseSpacing time.Duration
	// PollQuestionLimit caps the poll prompt length; callers pass the
	// sink's limit (Telegram: 300).
	PollQuestionLimit int
}

// New creates a delivery queue. The context governs the worker's lifetime:
// cancel it and the worker stops after the in-flight notification.
func New(ctx context.Context, cfg *Config) *Queue {
	spacing := cfg.BaseSpacing
	if spacing < minSpacing {
		spacing = minSpacing
	}
	return &Queue{
		sink:        cfg.Sink,
		logger:      cfg.Logger,
		collector:   cfg.Collector,
		ctx:         ctx,
		baseSpacing: spacing,
		minSpacing:  minSpacing,
		jitter:      spacingJitter,
		pollDelay:   defaultPollDelay,
		pollLimit:   cfg.PollQuestionLimit,
	}
}

// Enqueue appends a notification and starts the drain worker if none is
// running.
func (q *Queue) Enqueue(n *notifier.Notification) {
	q.mu.Lock()
	q.pending = append(q.pending, n)
	depth := len(q.pending)
	start := !q.running
	if start {
		q.running = true
		q.wg.Add(1)
	}
	q.mu.Unlock()

	q.collector.SetQueueDepth(depth)
	q.logger.Info("Notification queued",
		"notification_id", n.ID,
		"artist", n.ArtistName,
		"release", n.ReleaseName,
		"queue_depth", depth)

	if start {
		go q.drain()
	}
}

// Len reports the number of notifications waiting.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Wait blocks until the current worker, if any, has exited. Used by tests
// and shutdown.
func (q *Queue) Wait() {
	q.wg.Wait()
}

func (q *Queue) drain() {
	defer q.wg.Done()

	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.running = false
			q.mu.Unlock()
			q.collector.SetQueueDepth(0)
			q.logger.Info("Delivery queue drained, worker exiting")
			return
		}
		n := q.pending[0]
		q.pending = q.pending[1:]
		depth := len(q.pending)
		q.mu.Unlock()

		q.collector.SetQueueDepth(depth)
		q.deliver(n)

		if !q.sleep(q.nextSpacing()) {
			q.mu.Lock()
			q.running = false
			remaining := len(q.pending)
			q.mu.Unlock()
			q.logger.Info("Delivery worker stopped", "undelivered", remaining)
			return
		}
	}
}

// deliver posts one notification. A send failure drops the entry: delivery
// is at-most-once, and retrying against a persistently failing sink would
// grow the queue without bound.
func (q *Queue) deliver(n *notifier.Notification) {
	var err error
	if n.ImageURL != "" {
		err = q.sink.SendPhoto(q.ctx, n.ImageURL, n.Message)
	} else {
		err = q.sink.SendText(q.ctx, n.Message)
	}
	if err != nil {
		q.collector.RecordDeliveryFailure()
		q.logger.Warn("Notification dropped after send failure",
			"notification_id", n.ID,
			"artist", n.ArtistName,
			"release", n.ReleaseName,
			"error", err)
		return
	}

	q.collector.RecordNotificationSent()
	q.logger.Info("Notification delivered",
		"notification_id", n.ID,
		"artist", n.ArtistName,
		"release", n.ReleaseName)

	if n.AddPoll {
		if !q.sleep(q.pollDelay) {
			return
		}
		q.createPoll(n)
	}
}

// createPoll attaches the rating poll, degrading to a simplified poll and
// then to none. A missing poll never fails the notification.
func (q *Queue) createPoll(n *notifier.Notification) {
	question := truncate(n.ArtistName+" - "+n.ReleaseName, q.pollLimit)

	err := q.sink.SendPoll(q.ctx, question, ratingOptions)
	if err == nil {
		q.collector.RecordPollCreated()
		return
	}
	q.logger.Warn("Poll creation failed, trying simplified poll",
		"notification_id", n.ID, "error", err)

	if err := q.sink.SendPoll(q.ctx, fallbackPollQuestion, fallbackPollOptions); err != nil {
		q.logger.Warn("Simplified poll also failed, continuing without poll",
			"notification_id", n.ID, "error", err)
		return
	}
	q.collector.RecordPollCreated()
}

// nextSpacing draws the jittered inter-message delay.
func (q *Queue) nextSpacing() time.Duration {
	jitter := time.Duration(rand.Int63n(int64(2*q.jitter)+1)) - q.jitter
	d := q.baseSpacing + jitter
	if d < q.minSpacing {
		d = q.minSpacing
	}
	return d
}

// sleep waits for d unless the queue context is cancelled first.
func (q *Queue) sleep(d time.Duration) bool {
	if d <= 0 {
		return q.ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-q.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// truncate cuts s to at most limit runes.
func truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-1]) + "…"
}
