package stream_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-tavern/tripchat/internal/model/chat"
	"github.com/zhouzirui/z-tavern/tripchat/internal/service/stream"
	"github.com/zhouzirui/z-tavern/tripchat/pkg/utils"
)

type fakeSub struct {
	transport *fakeTransport
	id        int
}

func (s *fakeSub) Unsubscribe() error {
	s.transport.mu.Lock()
	delete(s.transport.subs, s.id)
	s.transport.mu.Unlock()
	return nil
}

type sent struct {
	destination string
	payload     []byte
}

// fakeTransport keeps every handler set it was ever given, so tests can
// replay late callbacks from torn-down connections.
type fakeTransport struct {
	mu          sync.Mutex
	handlers    []stream.TransportHandlers
	subs        map[int]func([]byte)
	subDest     map[int]string
	nextID      int
	connected   bool
	disconnects int
	sent        []sent
	connectErr  error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{subs: map[int]func([]byte){}, subDest: map[int]string{}}
}

func (f *fakeTransport) Connect(_ context.Context, h stream.TransportHandlers) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.mu.Lock()
	f.handlers = append(f.handlers, h)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Subscribe(destination string, handler func([]byte)) (stream.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return nil, errors.New("not connected")
	}
	f.nextID++
	f.subs[f.nextID] = handler
	f.subDest[f.nextID] = destination
	return &fakeSub{transport: f, id: f.nextID}, nil
}

func (f *fakeTransport) Send(destination string, payload []byte) error {
	f.mu.Lock()
	f.sent = append(f.sent, sent{destination, payload})
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Disconnect() error {
	f.mu.Lock()
	f.connected = false
	f.disconnects++
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// ackAll acknowledges the handshake on every handler set ever registered.
func (f *fakeTransport) ackAll() {
	f.mu.Lock()
	f.connected = true
	handlers := append([]stream.TransportHandlers(nil), f.handlers...)
	f.mu.Unlock()
	for _, h := range handlers {
		h.OnConnected()
	}
}

func (f *fakeTransport) latest() stream.TransportHandlers {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handlers[len(f.handlers)-1]
}

func (f *fakeTransport) inject(payload []byte) {
	f.mu.Lock()
	handlers := make([]func([]byte), 0, len(f.subs))
	for _, h := range f.subs {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()
	for _, h := range handlers {
		h(payload)
	}
}

func (f *fakeTransport) activeSubs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func newManager(ft *fakeTransport) *stream.Manager {
	return stream.NewManager(ft, stream.Config{}, utils.DiscardLogger())
}

// Repeated Connect calls leave exactly one live subscription.
func TestRepeatedConnectKeepsSingleSubscription(t *testing.T) {
	ft := newFakeTransport()
	mgr := newManager(ft)

	var delivered int
	onEvent := func([]byte) { delivered++ }
	for i := 0; i < 3; i++ {
		require.NoError(t, mgr.Connect(context.Background(), onEvent, nil, nil))
		ft.ackAll()
	}

	assert.True(t, mgr.IsConnected())
	assert.Equal(t, 1, ft.activeSubs())
	assert.Equal(t, 2, ft.disconnects)

	ft.inject([]byte(`{}`))
	assert.Equal(t, 1, delivered)
}

func TestConnectSubscribesToInboxAndReportsConnected(t *testing.T) {
	ft := newFakeTransport()
	mgr := newManager(ft)

	var states []chat.ConnectionState
	mgr.OnStateChange(func(s chat.ConnectionState) { states = append(states, s) })

	connected := 0
	require.NoError(t, mgr.Connect(context.Background(), func([]byte) {}, func() { connected++ }, nil))
	assert.Equal(t, chat.StateConnecting, mgr.State())

	ft.ackAll()
	assert.Equal(t, 1, connected)
	assert.Equal(t, []chat.ConnectionState{chat.StateConnecting, chat.StateConnected}, states)

	ft.mu.Lock()
	for _, dest := range ft.subDest {
		assert.Equal(t, stream.DefaultInboxDestination, dest)
	}
	ft.mu.Unlock()
}

func TestDropSurfacesErrorAndResubscribesOnReconnect(t *testing.T) {
	ft := newFakeTransport()
	mgr := newManager(ft)

	var errs []error
	delivered := 0
	require.NoError(t, mgr.Connect(context.Background(), func([]byte) { delivered++ }, nil, func(err error) { errs = append(errs, err) }))
	ft.ackAll()

	// transport drops without clearing its subscription table
	ft.mu.Lock()
	ft.connected = false
	ft.mu.Unlock()
	ft.latest().OnDisconnected(errors.New("read: connection reset"))

	assert.Equal(t, chat.StateDisconnected, mgr.State())
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], stream.ErrConnectionLost)

	ft.latest().OnConnecting()
	assert.Equal(t, chat.StateConnecting, mgr.State())

	ft.ackAll()
	assert.True(t, mgr.IsConnected())
	assert.Equal(t, 1, ft.activeSubs())

	ft.inject([]byte(`{}`))
	assert.Equal(t, 1, delivered)
}

func TestDisconnectIsIdempotentAndSilencesLateCallbacks(t *testing.T) {
	ft := newFakeTransport()
	mgr := newManager(ft)

	// disconnecting before ever connecting is a no-op
	mgr.Disconnect()
	assert.Equal(t, 0, ft.disconnects)

	var errs []error
	require.NoError(t, mgr.Connect(context.Background(), func([]byte) {}, nil, func(err error) { errs = append(errs, err) }))
	ft.ackAll()
	stale := ft.latest()

	mgr.Disconnect()
	mgr.Disconnect()
	assert.Equal(t, 1, ft.disconnects)
	assert.Equal(t, 0, ft.activeSubs())
	assert.Equal(t, chat.StateDisconnected, mgr.State())

	stale.OnDisconnected(errors.New("late"))
	stale.OnConnected()
	assert.Empty(t, errs)
	assert.Equal(t, chat.StateDisconnected, mgr.State())
}

func TestProtocolErrorsReachOnError(t *testing.T) {
	ft := newFakeTransport()
	mgr := newManager(ft)

	var got error
	require.NoError(t, mgr.Connect(context.Background(), nil, nil, func(err error) { got = err }))
	ft.latest().OnError(errors.New("bad frame"))
	require.Error(t, got)
	assert.Equal(t, chat.StateConnecting, mgr.State())
}

func TestConnectFailureIsReported(t *testing.T) {
	ft := newFakeTransport()
	ft.connectErr = errors.New("invalid url")
	mgr := newManager(ft)

	var got error
	err := mgr.Connect(context.Background(), nil, nil, func(err error) { got = err })
	require.Error(t, err)
	assert.Equal(t, err, got)
	assert.Equal(t, chat.StateDisconnected, mgr.State())
}

func TestSendReadReceipt(t *testing.T) {
	ft := newFakeTransport()
	mgr := newManager(ft)

	assert.ErrorIs(t, mgr.SendReadReceipt(42, chat.RoleTraveler), stream.ErrNotConnected)

	require.NoError(t, mgr.Connect(context.Background(), nil, nil, nil))
	ft.ackAll()
	require.NoError(t, mgr.SendReadReceipt(42, chat.RoleTraveler))

	require.Len(t, ft.sent, 1)
	assert.Equal(t, stream.DefaultReceiptDestination, ft.sent[0].destination)
	assert.JSONEq(t, `{"type":"READ_RECEIPT","partnerId":42,"readerRole":"TRAVELER"}`, string(ft.sent[0].payload))
}
