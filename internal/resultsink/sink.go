// Package resultsink fans a harness run's result events out to Redis
// Pub/Sub so a fleet of LTP runners can be aggregated centrally, the way
// the teacher's internal/fabric.RedisEventBus fans application events out
// across pods (go-redis v9, JSON payloads, local-only fallback on publish
// failure).
package resultsink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ltp/testlib/internal/resultlog"
)

// Snapshot is one published result event for a run, tagged with the
// publishing host and a unique ID.
type Snapshot struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	Host      string    `json:"host"`
	Test      string    `json:"test"`
	Case      int       `json:"case"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Sink publishes result events to a Redis channel. It implements
// resultlog.Publisher, so it attaches the same way resultserver.Server
// does via Logger.SetPublisher, and the two can be chained with a
// fan-out Publisher if both are enabled.
type Sink struct {
	rdb     *redis.Client
	channel string
	host    string
}

// Dial connects to redisURL (a redis:// URL as accepted by redis.ParseURL)
// and returns a Sink bound to channel. The connection is verified with a
// PING before returning, mirroring the teacher's connect-then-ping pattern.
func Dial(redisURL, channel, host string) (*Sink, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("resultsink: parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("resultsink: redis ping %s: %w", opts.Addr, err)
	}

	slog.Info("resultsink: connected", "addr", opts.Addr, "channel", channel)
	return &Sink{rdb: rdb, channel: channel, host: host}, nil
}

// Close releases the underlying Redis connection pool.
func (s *Sink) Close() error { return s.rdb.Close() }

// Publish implements resultlog.Publisher. A publish failure is logged and
// swallowed rather than propagated — a fleet aggregation sink going down
// must never fail the local test run it is merely mirroring.
func (s *Sink) Publish(evt resultlog.ResultEvent) {
	snap := Snapshot{
		ID:        uuid.New().String(),
		RunID:     evt.RunID,
		Host:      s.host,
		Test:      evt.Test,
		Case:      evt.Case,
		Kind:      evt.Kind,
		Message:   evt.Message,
		Timestamp: evt.Timestamp,
	}
	data, err := json.Marshal(snap)
	if err != nil {
		slog.Warn("resultsink: marshal snapshot", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.rdb.Publish(ctx, s.channel, data).Err(); err != nil {
		slog.Warn("resultsink: publish failed, result stays local-only", "run_id", evt.RunID, "error", err)
	}
}

// Subscribe drains Snapshots from the channel until ctx is
// cancelled, invoking fn for each one. Used by a central collector process
// that has no local harness.Run of its own.
func (s *Sink) Subscribe(ctx context.Context, fn func(Snapshot)) error {
	sub := s.rdb.Subscribe(ctx, s.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("resultsink: subscribe %s: %w", s.channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var snap Snapshot
			if err := json.Unmarshal([]byte(msg.Payload), &snap); err != nil {
				slog.Warn("resultsink: unmarshal snapshot", "error", err)
				continue
			}
			fn(snap)
		}
	}
}

// FanOut combines any number of Publishers so each receives every event, in
// order — e.g. a
// local resultserver.Server plus this remote Sink.
type FanOut []resultlog.Publisher

func (f FanOut) Publish(evt resultlog.ResultEvent) {
	for _, p := range f {
		p.Publish(evt)
	}
}
