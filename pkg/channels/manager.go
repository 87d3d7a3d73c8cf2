package channels

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/skiffbot/skiff/pkg/bus"
	"github.com/skiffbot/skiff/pkg/config"
	"github.com/skiffbot/skiff/pkg/logger"
)

// Manager owns channel lifecycles and routes outbound messages from the bus
// to the channel that should deliver them.
type Manager struct {
	channels map[string]Channel
	bus      *bus.MessageBus
	config   *config.Config
	limiter  *rate.Limiter
	cancel   context.CancelFunc
	done     chan struct{}
	mu       sync.RWMutex
}

func NewManager(cfg *config.Config, msgBus *bus.MessageBus) (*Manager, error) {
	m := &Manager{
		channels: make(map[string]Channel),
		bus:      msgBus,
		config:   cfg,
	}
	if perSec := cfg.RateLimits.OutboundPerSecond; perSec > 0 {
		m.limiter = rate.NewLimiter(rate.Limit(perSec), 1)
	}

	m.initChannels()
	return m, nil
}

func (m *Manager) initChannels() {
	logger.InfoC("channels", "Initializing channel manager")

	if tg := m.config.Channels.Telegram; tg.Enabled && tg.Token != "" {
		ch, err := NewTelegramChannel(tg, m.bus)
		if err != nil {
			logger.ErrorCF("channels", "Failed to initialize channel", map[string]any{
				"channel": "telegram",
				"error":   err.Error(),
			})
		} else {
			m.channels["telegram"] = ch
			logger.InfoCF("channels", "Channel enabled", map[string]any{
				"channel": "telegram",
			})
		}
	}

	logger.InfoCF("channels", "Channel initialization completed", map[string]any{
		"enabled_channels": len(m.channels),
	})
}

// RegisterChannel adds a channel before StartAll. Used for transports
// constructed outside the config path, like the CLI channel.
func (m *Manager) RegisterChannel(name string, channel Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[name] = channel
}

func (m *Manager) GetChannel(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	channel, ok := m.channels[name]
	return channel, ok
}

func (m *Manager) GetEnabledChannels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	return names
}

func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.channels) == 0 {
		logger.WarnC("channels", "No channels enabled")
	}

	for name, channel := range m.channels {
		logger.InfoCF("channels", "Starting channel", map[string]any{
			"channel": name,
		})
		if err := channel.Start(ctx); err != nil {
			logger.ErrorCF("channels", "Failed to start channel", map[string]any{
				"channel": name,
				"error":   err.Error(),
			})
		}
	}

	dispatchCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.dispatchOutbound(dispatchCtx)

	return nil
}

func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		m.cancel()
		<-m.done
		m.cancel = nil
	}

	for name, channel := range m.channels {
		logger.InfoCF("channels", "Stopping channel", map[string]any{
			"channel": name,
		})
		if err := channel.Stop(ctx); err != nil {
			logger.ErrorCF("channels", "Error stopping channel", map[string]any{
				"channel": name,
				"error":   err.Error(),
			})
		}
	}
	return nil
}

// dispatchOutbound reads from the bus and delivers each message through its
// channel, applying the global outbound rate limit first.
func (m *Manager) dispatchOutbound(ctx context.Context) {
	defer close(m.done)
	logger.InfoC("channels", "Outbound dispatcher started")

	for {
		msg, ok := m.bus.SubscribeOutbound(ctx)
		if !ok {
			logger.InfoC("channels", "Outbound dispatcher stopped")
			return
		}

		m.mu.RLock()
		channel, exists := m.channels[msg.Channel]
		m.mu.RUnlock()

		if !exists {
			logger.WarnCF("channels", "Unknown channel for outbound message", map[string]any{
				"channel": msg.Channel,
			})
			continue
		}

		if m.limiter != nil {
			if err := m.limiter.Wait(ctx); err != nil {
				return
			}
		}

		if err := channel.Send(ctx, msg); err != nil {
			logger.ErrorCF("channels", "Error sending message", map[string]any{
				"channel": msg.Channel,
				"error":   err.Error(),
			})
		}
	}
}
