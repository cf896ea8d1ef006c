// Package messenger assembles the messaging core for one signed-in user and
// exposes it to presentation layers.
package messenger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/z-tavern/tripchat/internal/config"
	"github.com/zhouzirui/z-tavern/tripchat/internal/model/chat"
	"github.com/zhouzirui/z-tavern/tripchat/internal/service/directory"
	"github.com/zhouzirui/z-tavern/tripchat/internal/service/dispatch"
	"github.com/zhouzirui/z-tavern/tripchat/internal/service/identity"
	"github.com/zhouzirui/z-tavern/tripchat/internal/service/readstate"
	"github.com/zhouzirui/z-tavern/tripchat/internal/service/stream"
	"github.com/zhouzirui/z-tavern/tripchat/internal/service/timeline"
	"github.com/zhouzirui/z-tavern/tripchat/internal/transport/rest"
	"github.com/zhouzirui/z-tavern/tripchat/internal/transport/ws"
	"github.com/zhouzirui/z-tavern/tripchat/pkg/utils"
)

const refreshTimeout = 15 * time.Second

// API is the request channel the core depends on.
type API interface {
	directory.Fetcher
	timeline.HistoryFetcher
	dispatch.Sender
	readstate.ReadMarker
}

// Observer receives everything a presentation layer needs to re-render.
// Calls may arrive from background goroutines.
type Observer interface {
	OnEvent(event chat.Event)
	OnStateChange(state chat.ConnectionState)
	OnError(err error)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Event func(chat.Event)
	State func(chat.ConnectionState)
	Error func(error)
}

func (o ObserverFuncs) OnEvent(event chat.Event) {
	if o.Event != nil {
		o.Event(event)
	}
}

func (o ObserverFuncs) OnStateChange(state chat.ConnectionState) {
	if o.State != nil {
		o.State(state)
	}
}

func (o ObserverFuncs) OnError(err error) {
	if o.Error != nil {
		o.Error(err)
	}
}

// Options wires a Messenger.
type Options struct {
	Session   identity.SessionProvider
	API       API
	Transport stream.Transport
	Stream    stream.Config
	Observer  Observer
	Logger    logrus.FieldLogger
	// Executor runs background work. Defaults to a new goroutine per task.
	Executor func(func())
}

// Messenger is safe for concurrent use.
type Messenger struct {
	identity   *identity.Resolver
	focus      *chat.Focus
	directory  *directory.Directory
	timeline   *timeline.Timeline
	stream     *stream.Manager
	tracker    *readstate.Tracker
	dispatcher *dispatch.Dispatcher
	observer   Observer
	logger     logrus.FieldLogger
	async      func(func())

	mu        sync.Mutex
	connected bool
}

// New resolves the session and builds the components. It fails with
// identity.ErrUnauthenticated when there is no usable session.
func New(ctx context.Context, opts Options) (*Messenger, error) {
	if opts.API == nil || opts.Transport == nil {
		return nil, errors.New("messenger: api and transport are required")
	}
	resolver, err := identity.Resolve(ctx, opts.Session)
	if err != nil {
		return nil, err
	}

	logger := utils.OrDefault(opts.Logger).WithFields(logrus.Fields{
		"user_id": resolver.LocalID(),
		"role":    resolver.LocalRole(),
	})
	observer := opts.Observer
	if observer == nil {
		observer = ObserverFuncs{}
	}
	async := opts.Executor
	if async == nil {
		async = func(f func()) { go f() }
	}

	m := &Messenger{
		identity: resolver,
		focus:    &chat.Focus{},
		observer: observer,
		logger:   logger.WithField("component", "messenger"),
		async:    async,
	}
	m.directory = directory.New(opts.API, m.focus, logger)
	m.timeline = timeline.New(opts.API, resolver, logger)
	m.stream = stream.NewManager(opts.Transport, opts.Stream, logger)
	m.tracker = readstate.New(opts.API, m.directory, m.timeline, m.stream, resolver.LocalRole(), logger)
	m.dispatcher = dispatch.New(resolver, m.focus, m.directory, m.timeline, m.tracker, opts.API, logger,
		dispatch.WithExecutor(async),
		dispatch.WithListener(observer.OnEvent),
	)
	m.stream.OnStateChange(observer.OnStateChange)
	return m, nil
}

// FromConfig builds a Messenger talking to the backend described by cfg
// over HTTP and websocket.
func FromConfig(ctx context.Context, cfg config.ClientConfig, observer Observer, logger logrus.FieldLogger) (*Messenger, error) {
	if !cfg.Authenticated() {
		return nil, fmt.Errorf("%w: token, user id and account type are required", identity.ErrUnauthenticated)
	}
	api, err := rest.NewClient(rest.Options{
		BaseURL: cfg.BaseURL,
		Token:   cfg.Token,
		Timeout: cfg.RequestTimeout,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}
	transport, err := ws.NewClient(ws.Options{
		URL:            cfg.StreamURL,
		Token:          cfg.Token,
		ReconnectDelay: cfg.ReconnectDelay,
		PingInterval:   cfg.PingInterval,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}
	return New(ctx, Options{
		Session: identity.StaticProvider{
			UserID:      cfg.UserID,
			AccountType: cfg.AccountType,
			DisplayName: cfg.DisplayName,
			Token:       cfg.Token,
		},
		API:       api,
		Transport: transport,
		Stream: stream.Config{
			InboxDestination:   cfg.InboxDestination,
			ReceiptDestination: cfg.ReceiptDestination,
		},
		Observer: observer,
		Logger:   logger,
	})
}

// Start loads the conversation list and opens the push channel. A failed
// list load is reported to the observer but does not prevent connecting.
func (m *Messenger) Start(ctx context.Context) error {
	if _, err := m.directory.LoadAll(ctx); err != nil {
		m.observer.OnError(err)
	}

	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()

	return m.stream.Connect(ctx, m.dispatcher.HandlePayload, m.handleConnected, m.handleStreamError)
}

// Stop closes the push channel.
func (m *Messenger) Stop() {
	m.stream.Disconnect()
}

// Open activates the conversation with partnerID and returns its history.
func (m *Messenger) Open(ctx context.Context, partnerID int64) ([]chat.Message, error) {
	return m.dispatcher.Open(ctx, partnerID)
}

// Close deactivates the current conversation.
func (m *Messenger) Close() {
	m.dispatcher.Close()
}

// Send delivers content to partnerID.
func (m *Messenger) Send(ctx context.Context, partnerID int64, content string) (chat.Message, error) {
	return m.dispatcher.Send(ctx, partnerID, content)
}

// Refresh reloads the conversation list and, if one is open, the active
// conversation.
func (m *Messenger) Refresh(ctx context.Context) error {
	if _, err := m.directory.LoadAll(ctx); err != nil {
		return err
	}
	if active := m.focus.PartnerID(); active != 0 {
		if _, err := m.dispatcher.Open(ctx, active); err != nil && !errors.Is(err, timeline.ErrStaleResponse) {
			return err
		}
	}
	return nil
}

// Conversations returns the conversation list, most recent first.
func (m *Messenger) Conversations() []chat.ConversationSummary {
	return m.directory.List()
}

// TotalUnread sums the unread badges of every conversation.
func (m *Messenger) TotalUnread() int {
	return m.directory.TotalUnread()
}

// ActivePartner returns the open conversation's partner, or 0.
func (m *Messenger) ActivePartner() int64 {
	return m.focus.PartnerID()
}

// Timeline returns the messages of the loaded conversation.
func (m *Messenger) Timeline() []chat.Message {
	return m.timeline.Messages()
}

// State returns the push channel's state.
func (m *Messenger) State() chat.ConnectionState {
	return m.stream.State()
}

// Identity returns the local user's resolver.
func (m *Messenger) Identity() *identity.Resolver {
	return m.identity
}

// handleConnected catches up on anything missed while the push channel was
// down. The first connection needs no catch-up because Start just loaded.
func (m *Messenger) handleConnected() {
	m.mu.Lock()
	reconnect := m.connected
	m.connected = true
	m.mu.Unlock()
	if !reconnect {
		return
	}

	m.async(func() {
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()
		if err := m.Refresh(ctx); err != nil {
			m.logger.WithError(err).Warn("catch-up after reconnect failed")
			m.observer.OnError(err)
		}
	})
}

func (m *Messenger) handleStreamError(err error) {
	m.logger.WithError(err).Debug("push channel error")
	m.observer.OnError(err)
}
