// Package websocket multiplexes Polymarket's streaming endpoints: every
// subscription of a family shares one connection that is re-established,
// and re-subscribed, when it drops.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
)

const (
	HandshakeTimeout    = 30 * time.Second
	DefaultCloseTimeout = 5 * time.Second
	DefaultWriteTimeout = 10 * time.Second
	PingInterval        = 10 * time.Second

	DefaultQueueSize            = 256
	DefaultMaxReconnectAttempts = 10
	DefaultReconnectBudget      = 5 * time.Minute

	DefaultURL         = "wss://ws-subscriptions-clob.polymarket.com"
	DefaultLiveDataURL = "wss://ws-live-data.polymarket.com"
)

var (
	// ErrConnectionFailed ends every stream of a connection that ran out of reconnect attempts.
	ErrConnectionFailed = errors.New("stream connection failed")
	// ErrClosed is returned by Subscribe after Close.
	ErrClosed = errors.New("multiplexer closed")
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Degraded
	Reconnecting
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	case Degraded:
		return "DEGRADED"
	case Reconnecting:
		return "RECONNECTING"
	case Failed:
		return "FAILED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

type Config struct {
	// URL is the base of the market and user endpoints.
	URL         string
	LiveDataURL string
	// QueueSize bounds the events buffered per stream.
	QueueSize int
	// MaxReconnectAttempts and ReconnectBudget bound how long a dropped
	// connection is retried before its streams fail.
	MaxReconnectAttempts int
	ReconnectBudget      time.Duration
	BackoffMin           time.Duration
	BackoffMax           time.Duration
	PingInterval         time.Duration
	WriteTimeout         time.Duration
	HandshakeTimeout     time.Duration
}

func (c *Config) setDefaults() {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.LiveDataURL == "" {
		c.LiveDataURL = DefaultLiveDataURL
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.ReconnectBudget <= 0 {
		c.ReconnectBudget = DefaultReconnectBudget
	}
	if c.BackoffMin <= 0 {
		c.BackoffMin = 500 * time.Millisecond
	}
	if c.BackoffMax < c.BackoffMin {
		c.BackoffMax = 30 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = PingInterval
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = HandshakeTimeout
	}
}

// Multiplexer hands out streams over one connection per family.
type Multiplexer struct {
	cfg    Config
	logger *slog.Logger
	dialer *websocket.Dialer

	mu     sync.Mutex
	conns  map[Family]*conn
	closed bool
}

func New(cfg Config, logger *slog.Logger) *Multiplexer {
	cfg.setDefaults()
	return &Multiplexer{
		cfg:    cfg,
		logger: logger.With("component", "websocket"),
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
			Proxy:            http.ProxyFromEnvironment,
		},
		conns: make(map[Family]*conn),
	}
}

// Subscribe registers sub and returns its stream. The stream ends when ctx
// is done, when Close is called, or when the connection fails for good.
func (m *Multiplexer) Subscribe(ctx context.Context, sub Subscription) (*Stream, error) {
	if err := sub.validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := newStream(uuid.NewString(), sub, m.cfg.QueueSize)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	c := m.conns[sub.Family]
	if c == nil {
		c = m.newConn(sub.Family)
		m.conns[sub.Family] = c
		go c.run()
	}
	s.release = func() { m.unsubscribe(c, s) }
	c.add(s)
	m.mu.Unlock()

	s.mu.Lock()
	s.stopCtx = context.AfterFunc(ctx, func() { s.cancel(ctx.Err()) })
	s.mu.Unlock()

	m.logger.Debug("subscribed", "stream", s.ID, "family", sub.Family, "keys", len(sub.keys()))
	return s, nil
}

// State reports the connection state of a family.
func (m *Multiplexer) State(f Family) State {
	m.mu.Lock()
	c := m.conns[f]
	m.mu.Unlock()
	if c == nil {
		return Disconnected
	}
	return c.currentState()
}

// Close ends every stream and connection.
func (m *Multiplexer) Close() {
	m.mu.Lock()
	m.closed = true
	var streams []*Stream
	for _, c := range m.conns {
		c.mu.Lock()
		streams = append(streams, c.subs...)
		c.mu.Unlock()
	}
	m.mu.Unlock()

	for _, s := range streams {
		s.Close()
	}
}

func (m *Multiplexer) unsubscribe(c *conn, s *Stream) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.remove(s) && m.conns[c.family] == c {
		delete(m.conns, c.family)
	}
}

func (m *Multiplexer) forget(c *conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conns[c.family] == c {
		delete(m.conns, c.family)
	}
}

func (m *Multiplexer) newConn(f Family) *conn {
	cd := codecFor(f)
	base := m.cfg.URL
	if f == LiveData {
		base = m.cfg.LiveDataURL
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &conn{
		m:      m,
		family: f,
		codec:  cd,
		url:    strings.TrimSuffix(base, "/") + cd.path(),
		logger: m.logger.With("family", f),
		ctx:    ctx,
		cancel: cancel,
		refs:   make(map[string]int),
	}
}

// conn is one physical connection and the subscriptions sharing it.
type conn struct {
	m      *Multiplexer
	family Family
	codec  codec
	url    string
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	state State
	ws    *websocket.Conn
	subs  []*Stream
	refs  map[string]int

	writeMu sync.Mutex
}

func (c *conn) currentState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *conn) setState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	if prev != s {
		c.logger.Debug("connection state changed", "from", prev, "to", s)
	}
}

// add registers s. Keys that become active are subscribed right away when
// the connection is up; otherwise the next connect sends them.
func (c *conn) add(s *Stream) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.subs = append(c.subs, s)
	var added []string
	for _, k := range s.sub.keys() {
		if c.refs[k]++; c.refs[k] == 1 {
			added = append(added, k)
		}
	}

	if c.state != Connected || c.ws == nil || len(added) == 0 {
		return
	}
	if err := c.write(c.ws, c.codec.subscribe(s.sub, added, false)); err != nil {
		c.logger.Warn("couldn't send subscribe frame", "stream", s.ID, "error", err)
	}
}

// remove unregisters s and reports whether the connection was shut down
// because s was its last subscription.
func (c *conn) remove(s *Stream) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	i := -1
	for j, sub := range c.subs {
		if sub == s {
			i = j
			break
		}
	}
	if i < 0 {
		return false
	}
	c.subs = append(c.subs[:i], c.subs[i+1:]...)

	var dropped []string
	for _, k := range s.sub.keys() {
		if c.refs[k]--; c.refs[k] <= 0 {
			delete(c.refs, k)
			dropped = append(dropped, k)
		}
	}

	if len(c.subs) == 0 {
		c.logger.Debug("last stream closed, disconnecting")
		c.cancel()
		return true
	}

	if c.state != Connected || c.ws == nil || len(dropped) == 0 {
		return false
	}
	if frame := c.codec.unsubscribe(dropped); frame != nil {
		if err := c.write(c.ws, frame); err != nil {
			c.logger.Warn("couldn't send unsubscribe frame", "stream", s.ID, "error", err)
		}
	}
	return false
}

func (c *conn) write(ws *websocket.Conn, frame any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := ws.SetWriteDeadline(time.Now().Add(c.m.cfg.WriteTimeout)); err != nil {
		return err
	}
	return ws.WriteJSON(frame)
}

// run connects and keeps the connection alive until the last stream is
// closed or the reconnect attempts are used up.
func (c *conn) run() {
	cfg := c.m.cfg
	b := &backoff.Backoff{
		Min:    cfg.BackoffMin,
		Max:    cfg.BackoffMax,
		Factor: 2,
		Jitter: true,
	}

	var (
		attempts int
		downAt   time.Time
	)
	c.setState(Connecting)
	for {
		received, err := c.connect()
		if c.ctx.Err() != nil {
			c.setState(Disconnected)
			return
		}

		// A connection that delivered messages was healthy, so the budget starts over.
		if received {
			attempts = 0
			downAt = time.Time{}
			b.Reset()
		}
		if downAt.IsZero() {
			downAt = time.Now()
		}
		attempts++

		c.setState(Degraded)
		c.logger.Warn("connection lost", "attempt", attempts, "error", err)

		if attempts > cfg.MaxReconnectAttempts || time.Since(downAt) > cfg.ReconnectBudget {
			c.fail(fmt.Errorf("%w after %d attempts: %w", ErrConnectionFailed, attempts, err))
			return
		}

		c.setState(Reconnecting)
		t := time.NewTimer(b.Duration())
		select {
		case <-c.ctx.Done():
			t.Stop()
			c.setState(Disconnected)
			return
		case <-t.C:
		}
	}
}

// connect dials, subscribes every stream and reads until the connection breaks.
func (c *conn) connect() (received bool, err error) {
	ws, resp, err := c.m.dialer.DialContext(c.ctx, c.url, http.Header{})
	if err != nil {
		if resp != nil {
			return false, fmt.Errorf("couldn't dial %s (%s): %w", c.url, resp.Status, err)
		}
		return false, fmt.Errorf("couldn't dial %s: %w", c.url, err)
	}
	stop := context.AfterFunc(c.ctx, func() { c.closeWS(ws) })
	defer stop()
	defer ws.Close()

	c.mu.Lock()
	first := true
	for _, s := range c.subs {
		if err := c.write(ws, c.codec.subscribe(s.sub, s.sub.keys(), first)); err != nil {
			c.mu.Unlock()
			return false, fmt.Errorf("couldn't subscribe: %w", err)
		}
		first = false
	}
	c.ws = ws
	c.state = Connected
	n := len(c.subs)
	c.mu.Unlock()
	c.logger.Info("connected", "url", c.url, "streams", n)

	defer func() {
		c.mu.Lock()
		c.ws = nil
		c.mu.Unlock()
	}()

	readTimeout := 3 * c.m.cfg.PingInterval
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readTimeout))
	})

	pingDone := make(chan struct{})
	defer close(pingDone)
	go c.pingLoop(ws, pingDone)

	for {
		if err := ws.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return received, err
		}
		_, data, err := ws.ReadMessage()
		if err != nil {
			return received, fmt.Errorf("couldn't read message: %w", err)
		}
		received = true
		c.dispatch(data)
	}
}

func (c *conn) closeWS(ws *websocket.Conn) {
	c.writeMu.Lock()
	err := ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(DefaultCloseTimeout),
	)
	c.writeMu.Unlock()
	if err != nil {
		c.logger.Debug("couldn't send close message", "error", err)
	}
	ws.Close()
}

func (c *conn) pingLoop(ws *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.m.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			var err error
			deadline := time.Now().Add(c.m.cfg.WriteTimeout)
			c.writeMu.Lock()
			if c.codec.textPing() {
				if err = ws.SetWriteDeadline(deadline); err == nil {
					err = ws.WriteMessage(websocket.TextMessage, []byte("PING"))
				}
			} else {
				err = ws.WriteControl(websocket.PingMessage, nil, deadline)
			}
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Warn("failed to send ping", "error", err)
				return
			}
		}
	}
}

// dispatch delivers data to matching streams in receipt order.
func (c *conn) dispatch(data []byte) {
	switch strings.TrimSpace(string(data)) {
	case "PONG", "PING", "":
		return
	}

	events, err := c.codec.decode(data)
	if err != nil {
		c.logger.Debug("couldn't decode message", "error", err, "size", len(data), "decoded", len(events))
	}
	if len(events) == 0 {
		return
	}

	c.mu.Lock()
	subs := make([]*Stream, len(c.subs))
	copy(subs, c.subs)
	c.mu.Unlock()

	for _, ev := range events {
		for _, s := range subs {
			if s.match(ev) {
				s.push(ev)
			}
		}
	}
}

func (c *conn) fail(err error) {
	c.m.forget(c)

	c.mu.Lock()
	c.state = Failed
	subs := c.subs
	c.subs = nil
	c.refs = make(map[string]int)
	c.mu.Unlock()
	c.cancel()

	c.logger.Error("connection failed", "streams", len(subs), "error", err)
	for _, s := range subs {
		s.terminate(err)
	}
}
