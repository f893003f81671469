package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const relayPublishTimeout = 3 * time.Second

var errMissingRedisClient = errors.New("redis client is required")

// RelayConfig describes a RedisRelay.
type RelayConfig struct {
	Client     *redis.Client
	Channel    string
	Dispatcher *Dispatcher
	Metrics    *Metrics
	Logger     *zap.Logger
}

// RedisRelay shares card changes between API instances over a Redis pub/sub channel.
// Local changes are dispatched immediately and then forwarded; changes from other instances are
// dispatched when they arrive. Each instance tags its events with an origin id to drop echoes.
type RedisRelay struct {
	client     *redis.Client
	channel    string
	origin     string
	dispatcher *Dispatcher
	metrics    *Metrics
	logger     *zap.Logger
}

func NewRedisRelay(cfg RelayConfig) (*RedisRelay, error) {
	if cfg.Client == nil {
		return nil, errMissingRedisClient
	}
	if cfg.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisRelay{
		client:     cfg.Client,
		channel:    cfg.Channel,
		origin:     uuid.NewString(),
		dispatcher: cfg.Dispatcher,
		metrics:    cfg.Metrics,
		logger:     logger,
	}, nil
}

// NewRedisClient builds a pooled client the same way for every command that needs one.
func NewRedisClient(address, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         address,
		Password:     password,
		DB:           db,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
}

func (r *RedisRelay) Origin() string {
	return r.origin
}

// Publish implements cards.Publisher.
func (r *RedisRelay) Publish(event Event) {
	event.Origin = r.origin
	r.dispatcher.Publish(event)

	payload, err := json.Marshal(event)
	if err != nil {
		r.logger.Error("relay encode failed", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), relayPublishTimeout)
	defer cancel()
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		r.logger.Warn("relay publish failed", zap.String("channel", r.channel), zap.Error(err))
	}
}

// Run consumes the relay channel until ctx ends.
func (r *RedisRelay) Run(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	r.logger.Info("relay subscribed", zap.String("channel", r.channel), zap.String("origin", r.origin))

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case message, ok := <-messages:
			if !ok {
				return nil
			}
			r.handleMessage(message.Payload)
		}
	}
}

func (r *RedisRelay) handleMessage(payload string) {
	var event Event
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		r.logger.Warn("relay decode failed", zap.Error(err))
		return
	}
	if event.Origin == r.origin {
		return
	}
	r.metrics.observeRelayed()
	r.dispatcher.Publish(event)
}
