package telemetry

import (
	"context"
	"errors"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Status is the connection state shown to the user.
type Status string

const (
	StatusIdle         Status = "idle"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusDisconnected Status = "disconnected"
	StatusClosed       Status = "closed"
)

// Options configures the feed connection.
type Options struct {
	URL               string
	Header            http.Header
	ReconnectInterval time.Duration // baseline delay before a reconnect
	MaxAttempts       int           // consecutive failed dials before giving up; <= 0 retries forever
	BackoffMultiplier float64       // 1 keeps the delay fixed
	MaxBackoff        time.Duration
	HandshakeTimeout  time.Duration
}

// DefaultOptions returns a fixed 3s reconnect with at most 10 attempts.
func DefaultOptions(url string) Options {
	return Options{
		URL:               url,
		ReconnectInterval: 3 * time.Second,
		MaxAttempts:       10,
		BackoffMultiplier: 1,
		MaxBackoff:        30 * time.Second,
		HandshakeTimeout:  10 * time.Second,
	}
}

// Backoff returns the delay before reconnect attempt n (0-based).
func (o Options) Backoff(n int) time.Duration {
	d := o.ReconnectInterval
	if d <= 0 {
		d = 3 * time.Second
	}
	if o.BackoffMultiplier > 1 && n > 0 {
		d = time.Duration(float64(d) * math.Pow(o.BackoffMultiplier, float64(n)))
	}
	if o.MaxBackoff > 0 && d > o.MaxBackoff {
		d = o.MaxBackoff
	}
	return d
}

// Client keeps one live connection to the fleet feed. Abnormal closes and
// failed dials schedule exactly one reconnect timer; a normal closure or
// Close never does.
type Client struct {
	opts      Options
	dialer    *websocket.Dialer
	onMessage func([]byte)
	onStatus  func(Status, error)
	log       zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	conn     *websocket.Conn
	timer    *time.Timer
	status   Status
	lastErr  error
	attempts int
	dialing  bool // a dial owns the next connection
	started  bool
	closed   bool
}

// NewClient creates a client. onMessage receives every data frame on the
// read goroutine; onStatus, when set, observes every state change.
func NewClient(opts Options, log zerolog.Logger, onMessage func([]byte), onStatus func(Status, error)) *Client {
	if onMessage == nil {
		onMessage = func([]byte) {}
	}
	dialer := *websocket.DefaultDialer
	if opts.HandshakeTimeout > 0 {
		dialer.HandshakeTimeout = opts.HandshakeTimeout
	}
	return &Client{
		opts:      opts,
		dialer:    &dialer,
		onMessage: onMessage,
		onStatus:  onStatus,
		log:       log.With().Str("component", "telemetry").Str("url", opts.URL).Logger(),
		status:    StatusIdle,
	}
}

// Start dials the feed in the background. Cancelling ctx closes the client.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started || c.closed {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.dialing = true
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	go func() {
		<-c.ctx.Done()
		c.Close()
	}()

	c.setStatus(StatusConnecting, nil)
	go c.dial()
}

// Status returns the current connection state and the last connection error.
func (c *Client) Status() (Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status, c.lastErr
}

// Attempts returns the number of consecutive failed dials.
func (c *Client) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Reconnect resets the attempt budget and dials again, e.g. after the user
// acknowledges a disconnected indicator. It does nothing while connected or
// while a dial is in flight.
func (c *Client) Reconnect() {
	c.mu.Lock()
	if c.closed || !c.started || c.conn != nil || c.dialing {
		c.mu.Unlock()
		return
	}
	c.dialing = true
	c.attempts = 0
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()

	c.setStatus(StatusConnecting, nil)
	go c.dial()
}

// Close sends a normal-closure frame, cancels any pending reconnect and
// never reconnects again. It is safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	conn := c.conn
	c.conn = nil
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	var err error
	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closing")
		err = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		if cerr := conn.Close(); err == nil {
			err = cerr
		}
	}
	c.setStatus(StatusClosed, nil)
	return err
}

// dial runs with c.dialing set by the caller and clears it when done.
func (c *Client) dial() {
	c.mu.Lock()
	if c.closed {
		c.dialing = false
		c.mu.Unlock()
		return
	}
	ctx := c.ctx
	c.mu.Unlock()

	conn, _, err := c.dialer.DialContext(ctx, c.opts.URL, c.opts.Header)
	if err != nil {
		c.mu.Lock()
		c.dialing = false
		c.attempts++
		attempts := c.attempts
		c.mu.Unlock()

		c.log.Warn().Err(err).Int("attempt", attempts).Msg("dial failed")
		c.scheduleReconnect(err)
		return
	}

	c.mu.Lock()
	c.dialing = false
	if c.closed || c.conn != nil {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.attempts = 0
	c.mu.Unlock()

	c.log.Info().Msg("connected")
	c.setStatus(StatusConnected, nil)
	go c.readLoop(conn)
}

// readLoop delivers frames until the connection ends. Pings are answered by
// the default ping handler while reading.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleReadError(conn, err)
			return
		}
		c.onMessage(data)
	}
}

func (c *Client) handleReadError(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	closed := c.closed
	c.mu.Unlock()
	conn.Close()

	if closed {
		return
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		c.log.Info().Msg("feed closed the connection normally")
		c.setStatus(StatusDisconnected, nil)
		return
	}

	c.log.Warn().Err(err).Msg("connection lost")
	c.scheduleReconnect(err)
}

// scheduleReconnect arms the single reconnect timer, or gives up once the
// attempt budget is spent.
func (c *Client) scheduleReconnect(cause error) {
	c.mu.Lock()
	if c.closed || c.timer != nil {
		c.mu.Unlock()
		return
	}
	if c.opts.MaxAttempts > 0 && c.attempts >= c.opts.MaxAttempts {
		c.mu.Unlock()
		c.log.Error().Err(cause).Int("attempts", c.opts.MaxAttempts).Msg("giving up reconnecting")
		c.setStatus(StatusDisconnected, errors.Join(ErrGaveUp, cause))
		return
	}
	delay := c.opts.Backoff(c.attempts)
	c.timer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		c.timer = nil
		if c.closed || c.dialing || c.conn != nil {
			c.mu.Unlock()
			return
		}
		c.dialing = true
		c.mu.Unlock()
		c.dial()
	})
	c.mu.Unlock()

	c.log.Debug().Dur("delay", delay).Msg("reconnect scheduled")
	c.setStatus(StatusReconnecting, cause)
}

// ErrGaveUp marks the disconnected state reached after the reconnect budget.
var ErrGaveUp = errors.New("telemetry reconnect attempts exhausted")

func (c *Client) setStatus(s Status, err error) {
	c.mu.Lock()
	if c.closed && s != StatusClosed {
		c.mu.Unlock()
		return
	}
	if c.status == StatusClosed {
		c.mu.Unlock()
		return
	}
	c.status = s
	c.lastErr = err
	fn := c.onStatus
	c.mu.Unlock()

	if fn != nil {
		fn(s, err)
	}
}
