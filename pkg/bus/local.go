package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"tavernbot/pkg/logger"
)

// LocalBus is a local in-process message bus using Go channels.
type LocalBus struct {
	log      *logger.Logger
	inHands  map[string][]Handler // Channel ID -> inbound handlers
	outHands map[string][]Handler // Channel ID -> outbound handlers
	mu       sync.RWMutex

	// Channels for message flow
	inbound  chan *Message
	outbound chan *Message

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	messagesIn  uint64
	messagesOut uint64
	errors      uint64
	metricsLock sync.RWMutex
}

// NewLocalBus creates a new local message bus.
func NewLocalBus(log *logger.Logger, bufferSize int) *LocalBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &LocalBus{
		log:      log,
		inHands:  make(map[string][]Handler),
		outHands: make(map[string][]Handler),
		inbound:  make(chan *Message, bufferSize),
		outbound: make(chan *Message, bufferSize),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start starts the message bus processing loops.
func (b *LocalBus) Start() error {
	b.log.Info("Starting message bus")

	b.wg.Add(2)
	go b.process(b.inbound, "inbound")
	go b.process(b.outbound, "outbound")

	return nil
}

// Stop stops the message bus and waits for all processing to complete.
func (b *LocalBus) Stop() error {
	b.log.Info("Stopping message bus")

	b.cancel()
	close(b.inbound)
	close(b.outbound)
	b.wg.Wait()

	b.log.Info("Message bus stopped")
	return nil
}

// RegisterInbound registers a handler for inbound messages from a channel.
func (b *LocalBus) RegisterInbound(channelID string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.inHands[channelID] = append(b.inHands[channelID], handler)
	b.log.Info("Registered inbound handler", zap.String("channel", channelID))
}

// RegisterOutbound registers a handler delivering outbound messages to a channel.
func (b *LocalBus) RegisterOutbound(channelID string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.outHands[channelID] = append(b.outHands[channelID], handler)
	b.log.Info("Registered outbound handler", zap.String("channel", channelID))
}

// UnregisterHandlers removes all handlers for a channel.
func (b *LocalBus) UnregisterHandlers(channelID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.inHands, channelID)
	delete(b.outHands, channelID)
	b.log.Info("Unregistered handlers", zap.String("channel", channelID))
}

// SendInbound sends an inbound message (from channel to dispatcher).
func (b *LocalBus) SendInbound(msg *Message) error {
	select {
	case b.inbound <- msg:
		b.incr(&b.messagesIn)
		return nil
	case <-b.ctx.Done():
		return fmt.Errorf("bus is shutting down")
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timeout sending inbound message")
	}
}

// SendOutbound sends an outbound message (from dispatcher to channel).
func (b *LocalBus) SendOutbound(msg *Message) error {
	select {
	case b.outbound <- msg:
		b.incr(&b.messagesOut)
		return nil
	case <-b.ctx.Done():
		return fmt.Errorf("bus is shutting down")
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timeout sending outbound message")
	}
}

// process drains one direction's channel and dispatches to handlers.
func (b *LocalBus) process(ch chan *Message, direction string) {
	defer b.wg.Done()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.handleMessage(msg, direction)

		case <-b.ctx.Done():
			return
		}
	}
}

// handleMessage dispatches a message to registered handlers.
func (b *LocalBus) handleMessage(msg *Message, direction string) {
	b.mu.RLock()
	var handlers []Handler
	if direction == "inbound" {
		handlers = b.inHands[msg.ChannelID]
	} else {
		handlers = b.outHands[msg.ChannelID]
	}
	b.mu.RUnlock()

	if len(handlers) == 0 {
		b.log.Warn("No handlers registered for channel",
			zap.String("channel", msg.ChannelID),
			zap.String("direction", direction),
			zap.String("message_id", msg.ID))
		return
	}

	b.log.Debug("Processing message",
		zap.String("channel", msg.ChannelID),
		zap.String("direction", direction),
		zap.String("message_id", msg.ID),
		zap.String("event", string(msg.Event)))

	for _, handler := range handlers {
		if err := handler(b.ctx, msg); err != nil {
			b.incr(&b.errors)
			b.log.Error("Handler error",
				zap.String("channel", msg.ChannelID),
				zap.String("message_id", msg.ID),
				zap.Error(err))
		}
	}
}

// GetMetrics returns current bus metrics.
func (b *LocalBus) GetMetrics() map[string]uint64 {
	b.metricsLock.RLock()
	defer b.metricsLock.RUnlock()

	return map[string]uint64{
		"messages_in":  b.messagesIn,
		"messages_out": b.messagesOut,
		"errors":       b.errors,
	}
}

func (b *LocalBus) incr(counter *uint64) {
	b.metricsLock.Lock()
	*counter++
	b.metricsLock.Unlock()
}
