package stream

import "context"

// Subscription is an active destination subscription on a transport.
type Subscription interface {
	Unsubscribe() error
}

// TransportHandlers receive the transport's lifecycle notifications. Any of
// them may be nil. They may be invoked from the transport's own goroutines.
type TransportHandlers struct {
	// OnConnecting fires before every dial attempt, including automatic
	// reconnects.
	OnConnecting func()
	// OnConnected fires once the server acknowledged the handshake.
	OnConnected func()
	// OnDisconnected fires when an established or pending connection is
	// lost. The transport retries on its own after a fixed delay.
	OnDisconnected func(err error)
	// OnError reports protocol-level errors that do not drop the
	// connection.
	OnError func(err error)
}

// Transport is the physical push channel. Implementations own framing,
// authentication of the upgrade and automatic reconnection.
type Transport interface {
	// Connect starts connecting in the background and returns at once.
	Connect(ctx context.Context, handlers TransportHandlers) error
	// Subscribe registers handler for payloads published on destination.
	// It fails when the transport is not connected.
	Subscribe(destination string, handler func(payload []byte)) (Subscription, error)
	// Send publishes payload to destination.
	Send(destination string, payload []byte) error
	// Disconnect closes the connection and stops reconnecting.
	Disconnect() error
	IsConnected() bool
}
