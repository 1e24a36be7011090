package channels

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"tavernbot/pkg/bus"
	"tavernbot/pkg/logger"
)

// Manager owns the registered channels and binds them to the bus: each
// enabled channel gets an outbound handler delivering replies, and the
// bound inbound handler receives every channel's events.
type Manager struct {
	log      *logger.Logger
	bus      bus.Bus
	channels map[string]Channel
	inbound  bus.Handler
	mu       sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a new channel manager.
func NewManager(log *logger.Logger, messageBus bus.Bus) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		log:      log,
		bus:      messageBus,
		channels: make(map[string]Channel),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// BindInbound sets the handler receiving inbound events from every channel.
// Must be called before Start.
func (m *Manager) BindInbound(handler bus.Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inbound = handler
}

// Register registers a channel with the manager.
func (m *Manager) Register(channel Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := channel.ID()
	if _, exists := m.channels[id]; exists {
		return fmt.Errorf("channel %s already registered", id)
	}

	m.channels[id] = channel
	m.log.Info("Registered channel",
		zap.String("id", id),
		zap.String("name", channel.Name()))

	return nil
}

// Start binds and starts all enabled channels.
func (m *Manager) Start() error {
	m.log.Info("Starting channel manager")

	m.mu.RLock()
	inbound := m.inbound
	channels := make([]Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		if ch.IsEnabled() {
			channels = append(channels, ch)
		}
	}
	m.mu.RUnlock()

	for _, ch := range channels {
		channel := ch

		m.bus.RegisterOutbound(channel.ID(), func(ctx context.Context, msg *bus.Message) error {
			return channel.SendMessage(ctx, msg)
		})
		if inbound != nil {
			m.bus.RegisterInbound(channel.ID(), inbound)
		}

		m.wg.Add(1)
		go func() {
			defer m.wg.Done()

			m.log.Info("Starting channel",
				zap.String("id", channel.ID()),
				zap.String("name", channel.Name()))

			if err := channel.Start(m.ctx); err != nil {
				m.log.Error("Channel start failed",
					zap.String("channel", channel.ID()),
					zap.Error(err))
			}
		}()
	}

	if len(channels) == 0 {
		m.log.Warn("No channels enabled")
	} else {
		m.log.Info("Started channels", zap.Int("count", len(channels)))
	}

	return nil
}

// Stop stops all channels gracefully.
func (m *Manager) Stop() error {
	m.log.Info("Stopping channel manager")

	m.cancel()

	m.mu.RLock()
	channels := make([]Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		channels = append(channels, ch)
	}
	m.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, ch := range channels {
		if err := ch.Stop(ctx); err != nil {
			m.log.Error("Error stopping channel",
				zap.String("channel", ch.ID()),
				zap.Error(err))
		}

		m.bus.UnregisterHandlers(ch.ID())
	}

	m.wg.Wait()

	m.log.Info("Channel manager stopped")
	return nil
}

// GetChannel returns a channel by ID.
func (m *Manager) GetChannel(channelID string) (Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	channel, exists := m.channels[channelID]
	if !exists {
		return nil, fmt.Errorf("channel %s not found", channelID)
	}

	return channel, nil
}

// ListChannels returns all registered channels.
func (m *Manager) ListChannels() []Channel {
	m.mu.RLock()
	defer m.mu.RUnlock()

	channels := make([]Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		channels = append(channels, ch)
	}

	return channels
}
