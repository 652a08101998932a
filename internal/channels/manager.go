package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Manager owns the lifecycle of every registered channel adapter. Since
// adapters now emit bus.LaneMessage values directly via the EmitFunc they
// were constructed with, the manager's only job is start/stop/status —
// the outbound dispatch loop and agent-run streaming forwarding the teacher
// built this around lived entirely in the agent-runtime layer this rewrite
// does not carry forward.
type Manager struct {
	mu       sync.RWMutex
	channels map[string]Channel
}

// NewManager creates an empty channel manager. Channels are registered via
// RegisterChannel.
func NewManager() *Manager {
	return &Manager{channels: make(map[string]Channel)}
}

// StartAll starts every registered channel, logging but not failing fast on
// a single channel's startup error — the rest should still come up.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.channels) == 0 {
		slog.Warn("channels.none_enabled")
		return nil
	}
	for name, ch := range m.channels {
		slog.Info("channels.starting", "channel", name)
		if err := ch.Start(ctx); err != nil {
			slog.Error("channels.start_failed", "channel", name, "error", err)
			continue
		}
	}
	return nil
}

// StopAll stops every registered channel.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for name, ch := range m.channels {
		if err := ch.Stop(ctx); err != nil {
			slog.Error("channels.stop_failed", "channel", name, "error", err)
		}
	}
	return nil
}

// RegisterChannel adds ch under name, replacing any existing registration.
func (m *Manager) RegisterChannel(name string, ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[name] = ch
}

// UnregisterChannel removes a channel registration.
func (m *Manager) UnregisterChannel(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.channels, name)
}

// GetChannel returns a channel by name.
func (m *Manager) GetChannel(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// GetEnabledChannels returns the names of every registered channel.
func (m *Manager) GetEnabledChannels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	return names
}

// Status is the running state of one registered channel.
type Status struct {
	Running bool `json:"running"`
}

// GetStatus returns the running status of every registered channel.
func (m *Manager) GetStatus() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status := make(map[string]Status, len(m.channels))
	for name, ch := range m.channels {
		status[name] = Status{Running: ch.IsRunning()}
	}
	return status
}

// ErrChannelNotFound is returned by operations against an unregistered
// channel name.
var ErrChannelNotFound = fmt.Errorf("channel not found")
