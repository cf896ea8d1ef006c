// Package stream owns the lifecycle of the push channel for one session:
// connecting, subscribing to the user's private inbox, exposing the
// connection state and guaranteeing that at most one inbox subscription is
// active at any time.
package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/z-tavern/tripchat/internal/model/chat"
	"github.com/zhouzirui/z-tavern/tripchat/pkg/utils"
)

const (
	DefaultInboxDestination   = "/user/queue/messages"
	DefaultReceiptDestination = "/app/chat.read"
)

var (
	ErrConnectionLost = errors.New("stream: connection lost")
	ErrNotConnected   = errors.New("stream: not connected")
)

// Config names the destinations used on the transport.
type Config struct {
	InboxDestination   string
	ReceiptDestination string
}

// Manager is safe for concurrent use.
type Manager struct {
	transport Transport
	cfg       Config
	logger    logrus.FieldLogger

	mu          sync.RWMutex
	state       chat.ConnectionState
	active      bool
	generation  uint64
	sub         Subscription
	onEvent     func([]byte)
	onConnected func()
	onError     func(error)

	listenersMu sync.RWMutex
	listeners   []func(chat.ConnectionState)
}

// NewManager wraps transport. Empty destinations fall back to defaults.
func NewManager(transport Transport, cfg Config, logger logrus.FieldLogger) *Manager {
	if cfg.InboxDestination == "" {
		cfg.InboxDestination = DefaultInboxDestination
	}
	if cfg.ReceiptDestination == "" {
		cfg.ReceiptDestination = DefaultReceiptDestination
	}
	return &Manager{
		transport: transport,
		cfg:       cfg,
		logger:    utils.OrDefault(logger).WithField("component", "stream"),
		state:     chat.StateDisconnected,
	}
}

// Connect (re)establishes the push channel. onEvent becomes the single
// target for every inbox payload. Calling Connect while connecting or
// connected tears the previous subscription and transport down first.
func (m *Manager) Connect(ctx context.Context, onEvent func([]byte), onConnected func(), onError func(error)) error {
	m.mu.Lock()
	previous := m.sub
	wasActive := m.active
	m.sub = nil
	m.generation++
	gen := m.generation
	m.active = true
	m.onEvent = onEvent
	m.onConnected = onConnected
	m.onError = onError
	m.state = chat.StateConnecting
	m.mu.Unlock()

	if wasActive {
		m.logger.Debug("reconnect requested, tearing down previous session")
		m.release(previous)
	}
	m.emit(chat.StateConnecting)

	err := m.transport.Connect(ctx, TransportHandlers{
		OnConnecting:   func() { m.handleConnecting(gen) },
		OnConnected:    func() { m.handleConnected(gen) },
		OnDisconnected: func(err error) { m.handleDisconnected(gen, err) },
		OnError:        func(err error) { m.report(gen, err) },
	})
	if err != nil {
		m.mu.Lock()
		if m.generation == gen {
			m.active = false
			m.state = chat.StateDisconnected
		}
		m.mu.Unlock()
		m.emit(chat.StateDisconnected)
		wrapped := fmt.Errorf("stream: connect: %w", err)
		if onError != nil {
			onError(wrapped)
		}
		return wrapped
	}
	return nil
}

// Disconnect tears down the subscription and the transport. It is a no-op
// when already disconnected and stops automatic reconnection until the next
// Connect.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return
	}
	m.generation++
	m.active = false
	sub := m.sub
	m.sub = nil
	m.state = chat.StateDisconnected
	m.mu.Unlock()

	m.release(sub)
	m.emit(chat.StateDisconnected)
	m.logger.Info("push channel disconnected")
}

// IsConnected reports whether the inbox subscription is live.
func (m *Manager) IsConnected() bool {
	return m.State() == chat.StateConnected
}

// State returns the current connection state.
func (m *Manager) State() chat.ConnectionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// OnStateChange registers fn to be called after every state transition.
func (m *Manager) OnStateChange(fn func(chat.ConnectionState)) {
	if fn == nil {
		return
	}
	m.listenersMu.Lock()
	m.listeners = append(m.listeners, fn)
	m.listenersMu.Unlock()
}

// SendReadReceipt tells partnerID, through the push channel, that the local
// user (readerRole) has read their messages.
func (m *Manager) SendReadReceipt(partnerID int64, readerRole chat.Role) error {
	if !m.IsConnected() {
		return ErrNotConnected
	}
	payload, err := chat.EncodeReadReceipt(chat.ReadReceiptEvent{PartnerID: partnerID, ReaderRole: readerRole})
	if err != nil {
		return fmt.Errorf("stream: encode read receipt: %w", err)
	}
	if err := m.transport.Send(m.cfg.ReceiptDestination, payload); err != nil {
		return fmt.Errorf("stream: send read receipt: %w", err)
	}
	return nil
}

func (m *Manager) handleConnecting(gen uint64) {
	if !m.transition(gen, chat.StateConnecting) {
		return
	}
	m.logger.Debug("push channel connecting")
}

func (m *Manager) handleConnected(gen uint64) {
	m.mu.Lock()
	if gen != m.generation || !m.active {
		m.mu.Unlock()
		return
	}
	stale := m.sub
	m.sub = nil
	m.mu.Unlock()

	// a subscription from before an automatic reconnect died with its
	// connection; drop it so only the new one can deliver
	if stale != nil {
		_ = stale.Unsubscribe()
	}

	sub, err := m.transport.Subscribe(m.cfg.InboxDestination, func(payload []byte) {
		m.deliver(gen, payload)
	})
	if err != nil {
		m.report(gen, fmt.Errorf("stream: subscribe %s: %w", m.cfg.InboxDestination, err))
		return
	}

	m.mu.Lock()
	if gen != m.generation || !m.active {
		m.mu.Unlock()
		_ = sub.Unsubscribe()
		return
	}
	m.sub = sub
	m.state = chat.StateConnected
	onConnected := m.onConnected
	m.mu.Unlock()

	m.emit(chat.StateConnected)
	m.logger.WithField("destination", m.cfg.InboxDestination).Info("push channel connected")
	if onConnected != nil {
		onConnected()
	}
}

func (m *Manager) handleDisconnected(gen uint64, cause error) {
	m.mu.Lock()
	if gen != m.generation || !m.active {
		m.mu.Unlock()
		return
	}
	// m.sub is kept so handleConnected can release it before resubscribing
	m.state = chat.StateDisconnected
	m.mu.Unlock()

	m.emit(chat.StateDisconnected)
	m.logger.WithError(cause).Warn("push channel dropped, waiting for transport to reconnect")
	if cause == nil {
		m.report(gen, ErrConnectionLost)
		return
	}
	m.report(gen, fmt.Errorf("%w: %v", ErrConnectionLost, cause))
}

func (m *Manager) deliver(gen uint64, payload []byte) {
	m.mu.RLock()
	current := gen == m.generation && m.active
	onEvent := m.onEvent
	m.mu.RUnlock()
	if !current || onEvent == nil {
		return
	}
	onEvent(payload)
}

func (m *Manager) report(gen uint64, err error) {
	m.mu.RLock()
	current := gen == m.generation && m.active
	onError := m.onError
	m.mu.RUnlock()
	if !current || err == nil {
		return
	}
	if onError != nil {
		onError(err)
	}
}

func (m *Manager) transition(gen uint64, state chat.ConnectionState) bool {
	m.mu.Lock()
	if gen != m.generation || !m.active {
		m.mu.Unlock()
		return false
	}
	changed := m.state != state
	m.state = state
	m.mu.Unlock()
	if changed {
		m.emit(state)
	}
	return true
}

func (m *Manager) release(sub Subscription) {
	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			m.logger.WithError(err).Debug("unsubscribe failed")
		}
	}
	if err := m.transport.Disconnect(); err != nil {
		m.logger.WithError(err).Debug("transport disconnect failed")
	}
}

func (m *Manager) emit(state chat.ConnectionState) {
	m.listenersMu.RLock()
	listeners := make([]func(chat.ConnectionState), len(m.listeners))
	copy(listeners, m.listeners)
	m.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(state)
	}
}
