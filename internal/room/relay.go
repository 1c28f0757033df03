package room

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"codesync/api/internal/metrics"
	"codesync/api/internal/util"
	"github.com/redis/go-redis/v9"
)

const relayPrefix = "codesync:room:"

type envelope struct {
	Origin    string          `json:"origin"`
	ProjectID string          `json:"projectId"`
	Event     string          `json:"event"`
	Payload   json.RawMessage `json:"payload"`
	Exclude   string          `json:"exclude,omitempty"`
}

// RedisRelay fans room events out to every instance subscribed to the same
// Redis. Events from this instance are delivered locally by the hub and
// skipped when they come back.
type RedisRelay struct {
	client *redis.Client
	origin string
	out    chan envelope
	ready  chan struct{}
}

// NewRedisRelay connects to redisURL and checks it is reachable.
func NewRedisRelay(redisURL string) (*RedisRelay, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisRelayWithClient(client), nil
}

func NewRedisRelayWithClient(client *redis.Client) *RedisRelay {
	return &RedisRelay{
		client: client,
		origin: util.NewID("node"),
		out:    make(chan envelope, 1024),
		ready:  make(chan struct{}),
	}
}

// Ready is closed once the subscription is active.
func (r *RedisRelay) Ready() <-chan struct{} {
	return r.ready
}

// Publish queues msg for other instances. It never blocks; when the queue is
// full the event is dropped and counted.
func (r *RedisRelay) Publish(projectID string, msg Message, excludeSessionID string) {
	payload, err := json.Marshal(msg.Payload)
	if err != nil {
		log.Printf("relay: marshal %s payload: %v", msg.Event, err)
		return
	}
	env := envelope{
		Origin:    r.origin,
		ProjectID: projectID,
		Event:     msg.Event,
		Payload:   payload,
		Exclude:   excludeSessionID,
	}
	select {
	case r.out <- env:
	default:
		metrics.RelayDropped.Inc()
	}
}

// Run subscribes to every room channel and delivers remote events to hub
// until ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context, hub *Hub) error {
	pubsub := r.client.PSubscribe(ctx, relayPrefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe room channels: %w", err)
	}
	close(r.ready)

	go r.publishLoop(ctx)

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case raw, ok := <-messages:
			if !ok {
				return nil
			}
			var env envelope
			if err := json.Unmarshal([]byte(raw.Payload), &env); err != nil {
				log.Printf("relay: decode %s: %v", raw.Channel, err)
				continue
			}
			if env.Origin == r.origin {
				continue
			}
			hub.DeliverLocal(env.ProjectID, Message{
				Event:     env.Event,
				ProjectID: env.ProjectID,
				Payload:   env.Payload,
			}, env.Exclude)
		}
	}
}

// publishLoop is the only publisher so events leave in the order they were
// broadcast.
func (r *RedisRelay) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-r.out:
			data, err := json.Marshal(env)
			if err != nil {
				log.Printf("relay: marshal envelope: %v", err)
				continue
			}
			if err := r.client.Publish(ctx, relayPrefix+env.ProjectID, data).Err(); err != nil {
				log.Printf("relay: publish %s: %v", env.ProjectID, err)
			}
		}
	}
}

func (r *RedisRelay) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisRelay) Close() error {
	return r.client.Close()
}
