// Package redis publishes trade lifecycle events to Redis Streams so
// downstream consumers (dashboards, alerting, analysis jobs) can follow the
// bot without coupling to it. A circuit breaker with local buffering keeps a
// Redis outage from touching the trading path.
package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"pinhedge/internal/model"
)

const (
	// Stream trimming: keep roughly a day of events per symbol.
	streamMaxLen = 10000

	// All events also land on one combined stream for single-consumer tails.
	allEventsStream = "hedge:events:all"
)

// PublisherConfig configures the Redis publisher.
type PublisherConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Publisher writes trade events to Redis Streams and PubSub.
type Publisher struct {
	client *goredis.Client
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// New creates a new Publisher and pings the server.
func New(cfg PublisherConfig) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Publisher{client: client}, nil
}

// Run reads events from eventCh and publishes them.
// Blocks until ctx is cancelled or eventCh is closed.
func (p *Publisher) Run(ctx context.Context, eventCh <-chan *model.TradeEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-eventCh:
			if !ok {
				return
			}
			if err := p.Publish(ctx, ev); err != nil {
				log.Printf("[redis] publish %s/%s: %v", ev.Symbol, ev.Event, err)
			}
		}
	}
}

// Publish writes one event: XADD to the per-symbol stream and the combined
// stream, plus a PUBLISH for real-time subscribers, in one pipeline.
func (p *Publisher) Publish(ctx context.Context, ev *model.TradeEvent) error {
	jsonData := string(ev.JSON())

	pipe := p.client.Pipeline()
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: ev.StreamKey(),
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": jsonData},
	})
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: allEventsStream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": jsonData},
	})
	pipe.Publish(ctx, "pub:"+ev.StreamKey(), jsonData)

	_, err := pipe.Exec(ctx)
	return err
}

// Close closes the Redis client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
