package redispub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"trustlance/core/events"
)

const defaultRetryElapsed = 10 * time.Second

// redisPublisher is the subset of the redis client the publisher uses.
type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Message is the payload published for every committed event.
type Message struct {
	Sequence   uint64            `json:"sequence"`
	Timestamp  time.Time         `json:"timestamp"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Publisher forwards committed escrow events to a Redis pub/sub channel.
type Publisher struct {
	client     redisPublisher
	channel    string
	logger     *slog.Logger
	maxElapsed time.Duration
}

// Options configures a Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// Dial connects to Redis and verifies the connection with PING.
func Dial(ctx context.Context, opts Options, log *slog.Logger) (*Publisher, *redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: opts.Addr, Password: opts.Password, DB: opts.DB})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redispub: ping %s: %w", opts.Addr, err)
	}
	pub, err := New(client, opts.Channel, log)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return pub, client, nil
}

func New(client redisPublisher, channel string, log *slog.Logger) (*Publisher, error) {
	if client == nil {
		return nil, errors.New("redispub: client required")
	}
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return nil, errors.New("redispub: channel required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{client: client, channel: channel, logger: log, maxElapsed: defaultRetryElapsed}, nil
}

// Encode renders the wire payload for env.
func Encode(env events.Envelope) ([]byte, error) {
	msg := Message{Sequence: env.Sequence, Timestamp: env.Timestamp.UTC()}
	if env.Event != nil {
		msg.Type = env.Event.Type
		msg.Attributes = env.Event.Attributes
	}
	return json.Marshal(msg)
}

// Publish sends one envelope, retrying transient failures with backoff.
func (p *Publisher) Publish(ctx context.Context, env events.Envelope) error {
	payload, err := Encode(env)
	if err != nil {
		return err
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxElapsedTime = p.maxElapsed
	op := func() error {
		return p.client.Publish(ctx, p.channel, payload).Err()
	}
	return backoff.Retry(op, backoff.WithContext(policy, ctx))
}

// Run publishes every envelope from sub until ctx is done or sub is closed.
func (p *Publisher) Run(ctx context.Context, sub *events.Subscription) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-sub.C:
			if !ok {
				return nil
			}
			if err := p.Publish(ctx, env); err != nil && ctx.Err() == nil {
				p.logger.Warn("redis publish failed",
					slog.Uint64("sequence", env.Sequence),
					slog.String("error", err.Error()))
			}
		}
	}
}
