package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// feedServer is a scripted fleet feed. Each accepted connection runs onConn.
type feedServer struct {
	*httptest.Server
	conns atomic.Int32
}

func newFeedServer(t *testing.T, onConn func(n int32, conn *websocket.Conn)) *feedServer {
	t.Helper()
	fs := &feedServer{}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		n := fs.conns.Add(1)
		onConn(n, conn)
	}))
	t.Cleanup(fs.Close)
	return fs
}

func (fs *feedServer) wsURL() string {
	return "ws" + strings.TrimPrefix(fs.URL, "http")
}

func fastOptions(url string) Options {
	o := DefaultOptions(url)
	o.ReconnectInterval = 20 * time.Millisecond
	o.MaxAttempts = 3
	o.HandshakeTimeout = time.Second
	return o
}

type statusLog struct {
	mu  sync.Mutex
	all []Status
}

func (s *statusLog) record(st Status, _ error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.all = append(s.all, st)
}

func (s *statusLog) count(st Status) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, v := range s.all {
		if v == st {
			n++
		}
	}
	return n
}

func TestClient_ReceivesFrames(t *testing.T) {
	fs := newFeedServer(t, func(_ int32, conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"deviceId":"a"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"heartbeat"}`))
		conn.ReadMessage()
	})

	got := make(chan string, 4)
	c := NewClient(fastOptions(fs.wsURL()), zerolog.Nop(), func(b []byte) { got <- string(b) }, nil)
	c.Start(context.Background())
	defer c.Close()

	assert.Equal(t, `{"deviceId":"a"}`, <-got)
	assert.Equal(t, `{"type":"heartbeat"}`, <-got)
	st, _ := c.Status()
	assert.Equal(t, StatusConnected, st)
}

func TestClient_ReconnectsAfterAbnormalClose(t *testing.T) {
	fs := newFeedServer(t, func(n int32, conn *websocket.Conn) {
		if n == 1 {
			// drop the TCP connection without a close frame
			conn.UnderlyingConn().Close()
			return
		}
		conn.ReadMessage()
	})

	var statuses statusLog
	c := NewClient(fastOptions(fs.wsURL()), zerolog.Nop(), nil, statuses.record)
	c.Start(context.Background())
	defer c.Close()

	require.Eventually(t, func() bool { return fs.conns.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		st, _ := c.Status()
		return st == StatusConnected
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, statuses.count(StatusReconnecting), "exactly one reconnect scheduled")
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(2), fs.conns.Load())
}

func TestClient_NormalCloseFromFeedDoesNotReconnect(t *testing.T) {
	fs := newFeedServer(t, func(_ int32, conn *websocket.Conn) {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		conn.ReadMessage()
		conn.Close()
	})

	c := NewClient(fastOptions(fs.wsURL()), zerolog.Nop(), nil, nil)
	c.Start(context.Background())
	defer c.Close()

	require.Eventually(t, func() bool {
		st, _ := c.Status()
		return st == StatusDisconnected
	}, 2*time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), fs.conns.Load())
}

func TestClient_CloseSendsNormalClosure(t *testing.T) {
	codes := make(chan int, 1)
	fs := newFeedServer(t, func(_ int32, conn *websocket.Conn) {
		_, _, err := conn.ReadMessage()
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			codes <- ce.Code
		} else {
			codes <- -1
		}
	})

	c := NewClient(fastOptions(fs.wsURL()), zerolog.Nop(), nil, nil)
	c.Start(context.Background())
	require.Eventually(t, func() bool {
		st, _ := c.Status()
		return st == StatusConnected
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, c.Close())
	select {
	case code := <-codes:
		assert.Equal(t, websocket.CloseNormalClosure, code)
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw a close frame")
	}

	st, _ := c.Status()
	assert.Equal(t, StatusClosed, st)
	assert.NoError(t, c.Close(), "close is idempotent")

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), fs.conns.Load(), "no reconnect after close")
}

func TestClient_ReconnectDuringSlowHandshake(t *testing.T) {
	var requests, open atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		time.Sleep(200 * time.Millisecond)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		open.Add(1)
		defer open.Add(-1)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	frames := make(chan []byte, 8)
	c := NewClient(fastOptions("ws"+strings.TrimPrefix(srv.URL, "http")), zerolog.Nop(),
		func(b []byte) { frames <- b }, nil)
	c.Start(context.Background())

	time.Sleep(50 * time.Millisecond)
	c.Reconnect()
	c.Reconnect()

	require.Eventually(t, func() bool {
		st, _ := c.Status()
		return st == StatusConnected
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), requests.Load(), "reconnect must not start a second dial")

	require.NoError(t, c.Close())
	require.Eventually(t, func() bool { return open.Load() == 0 }, 2*time.Second, 5*time.Millisecond,
		"feed connection still open after Close")
}

func TestClient_GivesUpAfterMaxAttempts(t *testing.T) {
	fs := newFeedServer(t, func(int32, *websocket.Conn) {})
	url := fs.wsURL()
	fs.Close()

	var statuses statusLog
	c := NewClient(fastOptions(url), zerolog.Nop(), nil, statuses.record)
	c.Start(context.Background())
	defer c.Close()

	require.Eventually(t, func() bool {
		st, _ := c.Status()
		return st == StatusDisconnected
	}, 3*time.Second, 5*time.Millisecond)

	st, err := c.Status()
	assert.Equal(t, StatusDisconnected, st)
	assert.ErrorIs(t, err, ErrGaveUp)
	assert.Equal(t, 3, c.Attempts())
	assert.Equal(t, 2, statuses.count(StatusReconnecting))
}

func TestClient_ContextCancelCloses(t *testing.T) {
	fs := newFeedServer(t, func(_ int32, conn *websocket.Conn) { conn.ReadMessage() })

	ctx, cancel := context.WithCancel(context.Background())
	c := NewClient(fastOptions(fs.wsURL()), zerolog.Nop(), nil, nil)
	c.Start(ctx)
	require.Eventually(t, func() bool {
		st, _ := c.Status()
		return st == StatusConnected
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.Eventually(t, func() bool {
		st, _ := c.Status()
		return st == StatusClosed
	}, 2*time.Second, 5*time.Millisecond)
}

func TestOptions_Backoff(t *testing.T) {
	fixed := DefaultOptions("ws://x")
	assert.Equal(t, 3*time.Second, fixed.Backoff(0))
	assert.Equal(t, 3*time.Second, fixed.Backoff(5))

	grow := fixed
	grow.ReconnectInterval = time.Second
	grow.BackoffMultiplier = 2
	grow.MaxBackoff = 5 * time.Second
	assert.Equal(t, time.Second, grow.Backoff(0))
	assert.Equal(t, 2*time.Second, grow.Backoff(1))
	assert.Equal(t, 4*time.Second, grow.Backoff(2))
	assert.Equal(t, 5*time.Second, grow.Backoff(3))
}
