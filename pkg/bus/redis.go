package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"tavernbot/pkg/logger"
)

// RedisBus is a Redis-based message bus using pub/sub, allowing the gateway
// channel and the dispatcher to run in separate processes.
type RedisBus struct {
	log    *logger.Logger
	client *redis.Client
	prefix string

	inHands  map[string][]Handler
	outHands map[string][]Handler
	mu       sync.RWMutex

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Pub/Sub
	pubsub *redis.PubSub

	// Metrics
	messagesIn  uint64
	messagesOut uint64
	errors      uint64
	metricsLock sync.RWMutex
}

// RedisBusConfig configures the Redis bus.
type RedisBusConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// NewRedisBus creates a new Redis-based message bus.
func NewRedisBus(log *logger.Logger, cfg *RedisBusConfig) (*RedisBus, error) {
	if cfg.Prefix == "" {
		cfg.Prefix = "tavernbot:bus:"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to Redis: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	b := &RedisBus{
		log:      log,
		client:   client,
		prefix:   cfg.Prefix,
		inHands:  make(map[string][]Handler),
		outHands: make(map[string][]Handler),
		ctx:      ctx,
		cancel:   cancel,
	}

	log.Info("Redis bus initialized",
		zap.String("addr", cfg.Addr),
		zap.Int("db", cfg.DB),
		zap.String("prefix", cfg.Prefix))

	return b, nil
}

// Start starts the Redis bus.
func (b *RedisBus) Start() error {
	b.log.Info("Starting Redis message bus")

	b.pubsub = b.client.PSubscribe(b.ctx, b.prefix+"*")

	b.wg.Add(1)
	go b.processMessages()

	return nil
}

// Stop stops the Redis bus.
func (b *RedisBus) Stop() error {
	b.log.Info("Stopping Redis message bus")

	b.cancel()
	if b.pubsub != nil {
		b.pubsub.Close()
	}
	b.wg.Wait()
	b.client.Close()

	b.log.Info("Redis message bus stopped")
	return nil
}

// RegisterInbound registers a handler for inbound messages from a channel.
func (b *RedisBus) RegisterInbound(channelID string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.inHands[channelID] = append(b.inHands[channelID], handler)
	b.log.Info("Registered inbound handler", zap.String("channel", channelID))
}

// RegisterOutbound registers a handler delivering outbound messages to a channel.
func (b *RedisBus) RegisterOutbound(channelID string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.outHands[channelID] = append(b.outHands[channelID], handler)
	b.log.Info("Registered outbound handler", zap.String("channel", channelID))
}

// UnregisterHandlers removes all handlers for a channel.
func (b *RedisBus) UnregisterHandlers(channelID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.inHands, channelID)
	delete(b.outHands, channelID)
	b.log.Info("Unregistered handlers", zap.String("channel", channelID))
}

// SendInbound publishes an inbound message.
func (b *RedisBus) SendInbound(msg *Message) error {
	if err := b.publish(b.prefix+"inbound:"+msg.ChannelID, msg); err != nil {
		return err
	}
	b.incr(&b.messagesIn)
	return nil
}

// SendOutbound publishes an outbound message.
func (b *RedisBus) SendOutbound(msg *Message) error {
	if err := b.publish(b.prefix+"outbound:"+msg.ChannelID, msg); err != nil {
		return err
	}
	b.incr(&b.messagesOut)
	return nil
}

func (b *RedisBus) publish(channel string, msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}

	if err := b.client.Publish(b.ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publishing to Redis: %w", err)
	}

	return nil
}

// GetMetrics returns current bus metrics.
func (b *RedisBus) GetMetrics() map[string]uint64 {
	b.metricsLock.RLock()
	defer b.metricsLock.RUnlock()

	return map[string]uint64{
		"messages_in":  b.messagesIn,
		"messages_out": b.messagesOut,
		"errors":       b.errors,
	}
}

// processMessages processes messages from Redis pub/sub.
func (b *RedisBus) processMessages() {
	defer b.wg.Done()

	ch := b.pubsub.Channel()

	for {
		select {
		case redisMsg, ok := <-ch:
			if !ok {
				return
			}
			b.handleRedisMessage(redisMsg)

		case <-b.ctx.Done():
			return
		}
	}
}

// handleRedisMessage handles a Redis pub/sub message.
func (b *RedisBus) handleRedisMessage(redisMsg *redis.Message) {
	var msg Message
	if err := json.Unmarshal([]byte(redisMsg.Payload), &msg); err != nil {
		b.log.Error("Failed to unmarshal message", zap.Error(err))
		b.incr(&b.errors)
		return
	}

	var handlers []Handler
	b.mu.RLock()
	switch {
	case strings.HasPrefix(redisMsg.Channel, b.prefix+"inbound:"):
		handlers = b.inHands[msg.ChannelID]
	case strings.HasPrefix(redisMsg.Channel, b.prefix+"outbound:"):
		handlers = b.outHands[msg.ChannelID]
	}
	b.mu.RUnlock()

	if len(handlers) == 0 {
		b.log.Debug("No handlers registered for channel",
			zap.String("channel", redisMsg.Channel))
		return
	}

	for _, handler := range handlers {
		if err := handler(b.ctx, &msg); err != nil {
			b.incr(&b.errors)
			b.log.Error("Handler error",
				zap.String("channel", msg.ChannelID),
				zap.String("message_id", msg.ID),
				zap.Error(err))
		}
	}
}

func (b *RedisBus) incr(counter *uint64) {
	b.metricsLock.Lock()
	*counter++
	b.metricsLock.Unlock()
}
