// Package ws is the websocket push transport. A Client keeps one connection
// to the backend's inbox endpoint alive, reconnecting after a fixed delay
// until it is told to disconnect.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/z-tavern/tripchat/internal/service/stream"
	"github.com/zhouzirui/z-tavern/tripchat/pkg/utils"
)

var (
	ErrNotConnected = errors.New("ws: not connected")
	ErrHandshake    = errors.New("ws: server did not acknowledge the connection")
)

// Options configures a Client.
type Options struct {
	URL              string
	Token            string
	ReconnectDelay   time.Duration
	PingInterval     time.Duration
	PongWait         time.Duration
	WriteWait        time.Duration
	HandshakeTimeout time.Duration
	Dialer           *websocket.Dialer
	Logger           logrus.FieldLogger
}

// DefaultOptions returns the timing used when a field is left zero.
func DefaultOptions() Options {
	return Options{
		ReconnectDelay:   5 * time.Second,
		PingInterval:     25 * time.Second,
		PongWait:         60 * time.Second,
		WriteWait:        10 * time.Second,
		HandshakeTimeout: 10 * time.Second,
	}
}

type subscription struct {
	client      *Client
	id          string
	destination string
	handler     func([]byte)
	conn        *websocket.Conn
}

// Unsubscribe stops delivery. Subscriptions that belonged to a connection
// that has since been replaced are simply forgotten.
func (s *subscription) Unsubscribe() error {
	return s.client.unsubscribe(s)
}

// Client implements stream.Transport over gorilla/websocket.
type Client struct {
	opts   Options
	logger logrus.FieldLogger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	subs      map[string]*subscription
	cancel    context.CancelFunc

	// writeMu serializes writers; gorilla allows one concurrent writer.
	writeMu sync.Mutex
}

var _ stream.Transport = (*Client)(nil)

// NewClient validates opts and fills zero timings with defaults.
func NewClient(opts Options) (*Client, error) {
	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("ws: invalid url %q: %w", opts.URL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("ws: invalid url %q: scheme must be ws or wss", opts.URL)
	}

	defaults := DefaultOptions()
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaults.ReconnectDelay
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaults.PingInterval
	}
	if opts.PongWait <= 0 {
		opts.PongWait = defaults.PongWait
	}
	if opts.PongWait <= opts.PingInterval {
		opts.PongWait = opts.PingInterval * 2
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = defaults.WriteWait
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaults.HandshakeTimeout
	}
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		}
	}

	return &Client{
		opts:   opts,
		logger: utils.OrDefault(opts.Logger).WithField("component", "ws"),
		subs:   make(map[string]*subscription),
	}, nil
}

// Connect starts the connection loop in the background. A previous loop is
// stopped first.
func (c *Client) Connect(ctx context.Context, handlers stream.TransportHandlers) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_ = c.Disconnect()

	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	go c.run(runCtx, handlers)
	return nil
}

// Disconnect closes the connection and stops reconnecting. Safe to call
// repeatedly.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	cancel := c.cancel
	conn := c.conn
	c.cancel = nil
	c.conn = nil
	c.connected = false
	c.subs = make(map[string]*subscription)
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn == nil {
		return nil
	}
	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(c.opts.WriteWait))
	c.writeMu.Unlock()
	return conn.Close()
}

// IsConnected reports whether the server acknowledged the current
// connection.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Subscribe registers handler for MESSAGE frames on destination.
func (c *Client) Subscribe(destination string, handler func([]byte)) (stream.Subscription, error) {
	c.mu.Lock()
	if !c.connected || c.conn == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	sub := &subscription{
		client:      c,
		id:          uuid.NewString(),
		destination: destination,
		handler:     handler,
		conn:        c.conn,
	}
	c.subs[sub.id] = sub
	conn := c.conn
	c.mu.Unlock()

	if err := c.write(conn, Frame{Command: CommandSubscribe, Destination: destination, Subscription: sub.id}); err != nil {
		c.mu.Lock()
		delete(c.subs, sub.id)
		c.mu.Unlock()
		return nil, err
	}
	c.logger.WithFields(logrus.Fields{"destination": destination, "subscription": sub.id}).Debug("subscribed")
	return sub, nil
}

// Send publishes payload to destination. payload must be JSON.
func (c *Client) Send(destination string, payload []byte) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.connected
	c.mu.Unlock()
	if !connected || conn == nil {
		return ErrNotConnected
	}
	return c.write(conn, Frame{Command: CommandSend, Destination: destination, Body: payload})
}

func (c *Client) unsubscribe(sub *subscription) error {
	c.mu.Lock()
	current, ok := c.subs[sub.id]
	if ok && current == sub {
		delete(c.subs, sub.id)
	}
	live := ok && c.connected && c.conn == sub.conn
	c.mu.Unlock()

	if !live {
		return nil
	}
	return c.write(sub.conn, Frame{Command: CommandUnsubscribe, Subscription: sub.id})
}

func (c *Client) run(ctx context.Context, handlers stream.TransportHandlers) {
	for {
		if handlers.OnConnecting != nil {
			handlers.OnConnecting()
		}

		err := c.session(ctx, handlers)
		if ctx.Err() != nil {
			return
		}

		c.logger.WithError(err).WithField("retry_in", c.opts.ReconnectDelay).Warn("push connection lost")
		if handlers.OnDisconnected != nil {
			handlers.OnDisconnected(err)
		}

		timer := time.NewTimer(c.opts.ReconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// session dials, waits for the CONNECTED frame and then reads until the
// connection fails or ctx is cancelled.
func (c *Client) session(ctx context.Context, handlers stream.TransportHandlers) error {
	header := http.Header{}
	if c.opts.Token != "" {
		header.Set("Authorization", "Bearer "+c.opts.Token)
	}

	conn, resp, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("ws: dial %s: %w (status %d)", c.opts.URL, err, resp.StatusCode)
		}
		return fmt.Errorf("ws: dial %s: %w", c.opts.URL, err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(c.opts.HandshakeTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	ack, err := DecodeFrame(data)
	if err != nil || ack.Command != CommandConnected {
		conn.Close()
		return fmt.Errorf("%w: got %q", ErrHandshake, string(data))
	}

	c.mu.Lock()
	if ctx.Err() != nil {
		c.mu.Unlock()
		conn.Close()
		return ctx.Err()
	}
	c.conn = conn
	c.connected = true
	c.subs = make(map[string]*subscription)
	c.mu.Unlock()

	_ = conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	pingDone := make(chan struct{})
	defer close(pingDone)
	go c.pingLoop(conn, pingDone)

	c.logger.WithField("url", c.opts.URL).Info("push connection established")
	if handlers.OnConnected != nil {
		handlers.OnConnected()
	}

	err = c.readLoop(ctx, conn, handlers)
	c.detach(conn)
	return err
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, handlers stream.TransportHandlers) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("ws: read: %w", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		frame, err := DecodeFrame(data)
		if err != nil {
			c.logger.WithError(err).Warn("dropping undecodable frame")
			continue
		}

		switch frame.Command {
		case CommandMessage:
			c.mu.Lock()
			sub, ok := c.subs[frame.Subscription]
			c.mu.Unlock()
			if !ok {
				c.logger.WithField("subscription", frame.Subscription).Debug("message for unknown subscription")
				continue
			}
			sub.handler(frame.Body)
		case CommandError:
			if handlers.OnError != nil {
				handlers.OnError(fmt.Errorf("ws: server error: %s", frame.Message))
			}
		default:
			c.logger.WithField("command", frame.Command).Debug("ignoring frame")
		}
	}
}

// detach forgets conn if it is still the current connection.
func (c *Client) detach(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.connected = false
		c.subs = make(map[string]*subscription)
	}
	c.mu.Unlock()
	conn.Close()
}

func (c *Client) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteWait))
			c.writeMu.Unlock()
			if err != nil {
				// the read loop notices the broken connection
				conn.Close()
				return
			}
		}
	}
}

func (c *Client) write(conn *websocket.Conn, frame Frame) error {
	data, err := EncodeFrame(frame)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("ws: write %s: %w", frame.Command, err)
	}
	return nil
}
