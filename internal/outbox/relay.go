package outbox

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/meridian-markets/treasury/internal/bus"
)

const (
	baseBackoff = time.Second
	maxBackoff  = 30 * time.Second
)

// Relay polls unpublished rows and delivers them to the bus collaborator.
// Delivery within one topic follows insertion order: the first failure in a
// topic stops that topic for the cycle and schedules a bounded backoff, so a
// later event can never overtake an earlier one. Failed rows are retried
// forever; nothing is auto-discarded.
type Relay struct {
	store     Store
	publisher bus.Publisher
	interval  time.Duration
	batch     int
	logger    *slog.Logger

	mu       sync.Mutex
	deferred map[string]topicBackoff

	stop chan struct{}
	done chan struct{}
}

type topicBackoff struct {
	until    time.Time
	failures int
}

// NewRelay constructs a relay polling at the given interval.
func NewRelay(store Store, publisher bus.Publisher, interval time.Duration, batch int, logger *slog.Logger) *Relay {
	if interval <= 0 {
		interval = time.Second
	}
	if batch <= 0 {
		batch = 100
	}
	return &Relay{
		store:     store,
		publisher: publisher,
		interval:  interval,
		batch:     batch,
		logger:    logger,
		deferred:  make(map[string]topicBackoff),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the polling loop.
func (r *Relay) Start() {
	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), r.interval)
				if _, err := r.RunOnce(ctx); err != nil {
					r.logger.Error("outbox poll failed", "error", err)
				}
				cancel()
			}
		}
	}()
}

// Stop terminates the polling loop and waits for the current cycle.
func (r *Relay) Stop(ctx context.Context) error {
	close(r.stop)
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce drains one batch of unpublished rows. Exported so tests can drive
// the relay without the ticker.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	events, err := r.store.Unpublished(ctx, r.batch)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	skipped := make(map[string]bool)
	r.mu.Lock()
	for topic, state := range r.deferred {
		if now.Before(state.until) {
			skipped[topic] = true
		}
	}
	r.mu.Unlock()

	published := 0
	for _, evt := range events {
		if skipped[evt.Topic] {
			continue
		}
		if err := r.publisher.Publish(ctx, evt.Topic, evt.Payload); err != nil {
			r.logger.Warn("event delivery failed",
				"event_id", evt.ID, "topic", evt.Topic, "attempts", evt.Attempts+1, "error", err)
			if markErr := r.store.MarkFailed(ctx, evt.ID, err.Error()); markErr != nil {
				r.logger.Error("mark failed", "event_id", evt.ID, "error", markErr)
			}
			r.deferTopic(evt.Topic, now)
			skipped[evt.Topic] = true
			continue
		}
		if err := r.store.MarkPublished(ctx, evt.ID, time.Now().UTC()); err != nil {
			// The bus got the event but the row stays pending; the next cycle
			// redelivers it. At-least-once, never at-most-once.
			r.logger.Error("mark published", "event_id", evt.ID, "error", err)
			skipped[evt.Topic] = true
			continue
		}
		r.clearTopic(evt.Topic)
		published++
	}
	return published, nil
}

func (r *Relay) deferTopic(topic string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state := r.deferred[topic]
	state.failures++
	delay := baseBackoff << (state.failures - 1)
	if delay > maxBackoff || delay <= 0 {
		delay = maxBackoff
	}
	state.until = now.Add(delay)
	r.deferred[topic] = state
}

func (r *Relay) clearTopic(topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.deferred, topic)
}
