// Package redis publishes live search progress and results to Redis.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/davidalejandrochentes/backtesting-trading/internal/explorer"
)

const (
	keyPrefix     = "binopt:search:"
	EventsChannel = "binopt:search:events"

	defaultTTL     = 24 * time.Hour
	defaultTimeout = 2 * time.Second
)

// Event types published on EventsChannel.
const (
	EventStarted  = "started"
	EventProgress = "progress"
	EventBest     = "best"
	EventFinished = "finished"
)

// PublisherConfig configures the Redis publisher.
type PublisherConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
	TTL      time.Duration // lifetime of search keys; 0 means 24h

	// OnWrite, when set, receives the duration of every successful write.
	OnWrite func(time.Duration)
}

// Progress is the value stored under the progress key.
type Progress struct {
	Done      int      `json:"done"`
	Total     int      `json:"total"`
	Qualified int      `json:"qualified"`
	Errors    int      `json:"errors"`
	BestScore *float64 `json:"best_score,omitempty"`
	UpdatedAt int64    `json:"updated_at"` // unix ms
}

// Event is the message published on EventsChannel.
type Event struct {
	Type     string          `json:"type"`
	SearchID string          `json:"search_id"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// Publisher writes search state to Redis through a circuit breaker, so a
// dead Redis costs one fast rejection per call instead of a timeout.
type Publisher struct {
	client  *goredis.Client
	breaker *CircuitBreaker
	ttl     time.Duration
	onWrite func(time.Duration)
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// Breaker returns the circuit breaker guarding writes.
func (p *Publisher) Breaker() *CircuitBreaker { return p.breaker }

// New creates a Publisher and pings the server.
func New(cfg PublisherConfig) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return NewWithClient(client, cfg), nil
}

// NewWithClient wraps an existing client without pinging it.
func NewWithClient(client *goredis.Client, cfg PublisherConfig) *Publisher {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Publisher{
		client:  client,
		breaker: NewCircuitBreaker(5, 10*time.Second),
		ttl:     ttl,
		onWrite: cfg.OnWrite,
	}
}

// ProgressKey is the key holding the latest progress of a search.
func ProgressKey(searchID string) string { return keyPrefix + searchID + ":progress" }

// BestKey is the key holding the best entry of a search.
func BestKey(searchID string) string { return keyPrefix + searchID + ":best" }

// PublishStarted announces a new search.
func (p *Publisher) PublishStarted(ctx context.Context, searchID string, total int) error {
	return p.write(ctx, searchID, EventStarted, ProgressKey(searchID), Progress{Total: total, UpdatedAt: time.Now().UnixMilli()})
}

// PublishProgress stores and announces the current progress.
func (p *Publisher) PublishProgress(ctx context.Context, searchID string, prog Progress) error {
	if prog.UpdatedAt == 0 {
		prog.UpdatedAt = time.Now().UnixMilli()
	}
	return p.write(ctx, searchID, EventProgress, ProgressKey(searchID), prog)
}

// PublishBest stores and announces a new best entry.
func (p *Publisher) PublishBest(ctx context.Context, searchID string, best explorer.Entry) error {
	return p.write(ctx, searchID, EventBest, BestKey(searchID), best)
}

// PublishFinished announces the end of a search with its summary counts.
func (p *Publisher) PublishFinished(ctx context.Context, searchID string, res explorer.Result) error {
	summary := struct {
		Tested    int     `json:"tested"`
		Qualified int     `json:"qualified"`
		Errors    int     `json:"errors"`
		Cancelled int     `json:"cancelled"`
		Seed      int64   `json:"seed"`
		BestScore float64 `json:"best_score"`
	}{res.Tested, res.Qualified, res.Errors, res.Cancelled, res.Seed, 0}
	if res.Best != nil {
		summary.BestScore = res.Best.Score
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	msg, err := encodeEvent(EventFinished, searchID, data)
	if err != nil {
		return err
	}
	return p.exec(ctx, func(ctx context.Context) error {
		return p.client.Publish(ctx, EventsChannel, msg).Err()
	})
}

// write stores v under key and publishes it as an event, in one pipeline.
func (p *Publisher) write(ctx context.Context, searchID, typ, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", typ, err)
	}
	msg, err := encodeEvent(typ, searchID, data)
	if err != nil {
		return err
	}
	return p.exec(ctx, func(ctx context.Context) error {
		pipe := p.client.Pipeline()
		pipe.Set(ctx, key, data, p.ttl)
		pipe.Publish(ctx, EventsChannel, msg)
		_, err := pipe.Exec(ctx)
		return err
	})
}

func (p *Publisher) exec(ctx context.Context, fn func(context.Context) error) error {
	start := time.Now()
	err := p.breaker.Execute(func() error {
		wctx, cancel := context.WithTimeout(ctx, defaultTimeout)
		defer cancel()
		return fn(wctx)
	})
	if err != nil {
		if err != ErrCircuitOpen {
			log.Printf("[redis] publish error: %v", err)
		}
		return err
	}
	if p.onWrite != nil {
		p.onWrite(time.Since(start))
	}
	return nil
}

func encodeEvent(typ, searchID string, data []byte) ([]byte, error) {
	b, err := json.Marshal(Event{Type: typ, SearchID: searchID, Data: data})
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return b, nil
}

// Close closes the Redis client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
