// Package wsclient is the participant's connection to the relay. It keeps
// one inbound frame stream alive across reconnects and reports the outcome
// of every reconnect to a Listener.
package wsclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceMesh/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
	sendBuffer     = 64
)

var (
	ErrNotConnected = errors.New("not connected to relay")
	ErrBackpressure = errors.New("backpressure")
)

// Listener is told about the connection's fate after the first link drops.
type Listener interface {
	// Reconnected is called after a new link is up.
	Reconnected()
	// TransportLost is called once when every reconnect attempt failed.
	TransportLost(err error)
}

type Options struct {
	URL        string
	Attempts   int
	Base       time.Duration
	PingPeriod time.Duration
	Dialer     *websocket.Dialer
}

type Client struct {
	opts     Options
	incoming chan []byte

	mu   sync.Mutex
	link *link
}

// link is one live websocket.
type link struct {
	conn *websocket.Conn
	out  chan []byte
	done chan struct{}
	once sync.Once
}

func (l *link) close() {
	l.once.Do(func() {
		close(l.done)
		_ = l.conn.Close()
	})
}

func New(opts Options) *Client {
	if opts.Attempts <= 0 {
		opts.Attempts = 5
	}
	if opts.Base <= 0 {
		opts.Base = time.Second
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = 30 * time.Second
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &Client{
		opts:     opts,
		incoming: make(chan []byte, 256),
	}
}

// Incoming yields every frame from the relay. It is closed when Run returns.
func (c *Client) Incoming() <-chan []byte { return c.incoming }

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.link != nil
}

// Send encodes v and queues it on the current link.
func (c *Client) Send(v any) error {
	b, err := protocol.Encode(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.link == nil {
		return ErrNotConnected
	}
	select {
	case c.link.out <- b:
		return nil
	case <-c.link.done:
		return ErrNotConnected
	default:
		return ErrBackpressure
	}
}

// Connect dials the relay once. Run must be called afterwards.
func (c *Client) Connect(ctx context.Context) error {
	l, err := c.dial(ctx)
	if err != nil {
		return err
	}
	c.attach(l)
	return nil
}

func (c *Client) dial(ctx context.Context) (*link, error) {
	conn, _, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)
	log.Info().Str("module", "wsclient").Str("url", c.opts.URL).Msg("connected")
	return &link{
		conn: conn,
		out:  make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}, nil
}

func (c *Client) attach(l *link) {
	c.mu.Lock()
	c.link = l
	c.mu.Unlock()
}

func (c *Client) detach(l *link) {
	c.mu.Lock()
	if c.link == l {
		c.link = nil
	}
	c.mu.Unlock()
	l.close()
}

// Close drops the current link. Run then goes through the reconnect path,
// so callers that want to stop for good cancel Run's context instead.
func (c *Client) Close() {
	c.mu.Lock()
	l := c.link
	c.mu.Unlock()
	if l != nil {
		l.close()
	}
}

// Run serves the link established by Connect and reconnects with a delay of
// Base times the attempt number whenever it drops. It returns when ctx is
// canceled or when every attempt failed.
func (c *Client) Run(ctx context.Context, l Listener) {
	defer close(c.incoming)
	for {
		c.mu.Lock()
		cur := c.link
		c.mu.Unlock()
		if cur == nil {
			return
		}
		c.serve(ctx, cur)
		if ctx.Err() != nil {
			return
		}

		next, err := c.reconnect(ctx)
		if err != nil {
			if ctx.Err() == nil && l != nil {
				l.TransportLost(err)
			}
			return
		}
		c.attach(next)
		if l != nil {
			l.Reconnected()
		}
	}
}

func (c *Client) reconnect(ctx context.Context) (*link, error) {
	var last error
	for attempt := 1; attempt <= c.opts.Attempts; attempt++ {
		wait := c.opts.Base * time.Duration(attempt)
		log.Warn().Str("module", "wsclient").Int("attempt", attempt).Int("max", c.opts.Attempts).Dur("wait", wait).Msg("reconnecting")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
		l, err := c.dial(ctx)
		if err == nil {
			return l, nil
		}
		last = err
	}
	return nil, fmt.Errorf("gave up after %d attempts: %w", c.opts.Attempts, last)
}

// serve pumps one link until it drops or ctx ends.
func (c *Client) serve(ctx context.Context, l *link) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writePump(ctx, l)
	}()
	c.readPump(ctx, l)
	c.detach(l)
	wg.Wait()
}

func (c *Client) readPump(ctx context.Context, l *link) {
	pongWait := c.opts.PingPeriod * 10 / 9
	_ = l.conn.SetReadDeadline(time.Now().Add(pongWait))
	l.conn.SetPongHandler(func(string) error {
		return l.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, data, err := l.conn.ReadMessage()
		if err != nil {
			log.Warn().Err(err).Str("module", "wsclient").Msg("link dropped")
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		select {
		case c.incoming <- data:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) writePump(ctx context.Context, l *link) {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg := <-l.out:
			_ = l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				l.close()
				return
			}
		case <-ticker.C:
			if err := l.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				l.close()
				return
			}
		case <-ctx.Done():
			_ = l.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			l.close()
			return
		case <-l.done:
			return
		}
	}
}
