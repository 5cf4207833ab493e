package connection

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"livemap.onebusaway.org/internal/eventloop"
	"livemap.onebusaway.org/internal/metrics"
	"livemap.onebusaway.org/internal/models"
)

const waitFor = 2 * time.Second

// feedServer is a websocket endpoint that hands every accepted connection to the test.
type feedServer struct {
	*httptest.Server
	conns chan *websocket.Conn
}

func newFeedServer(t *testing.T) *feedServer {
	t.Helper()
	fs := &feedServer{conns: make(chan *websocket.Conn, 4)}
	upgrader := websocket.Upgrader{}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != FeedPath {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fs.conns <- conn
	}))
	t.Cleanup(fs.Close)
	return fs
}

func (fs *feedServer) wsURL() string {
	return "ws" + strings.TrimPrefix(fs.URL, "http") + FeedPath
}

func (fs *feedServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-fs.conns:
		t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(waitFor):
		t.Fatal("feed server never saw a connection")
		return nil
	}
}

type fakeTimer struct {
	delay   time.Duration
	fire    func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

// scheduler records reconnect timers instead of waiting on them.
type scheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *scheduler) after(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{delay: d, fire: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *scheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *scheduler) last() *fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timers[len(s.timers)-1]
}

type recorder struct {
	mu       sync.Mutex
	states   []models.ConnectionState
	messages []string
}

func (r *recorder) onState(s models.ConnectionState) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *recorder) onMessage(_ int, payload []byte) {
	r.mu.Lock()
	r.messages = append(r.messages, string(payload))
	r.mu.Unlock()
}

func (r *recorder) lastState() models.ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.states) == 0 {
		return models.Connecting
	}
	return r.states[len(r.states)-1]
}

func (r *recorder) messageCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

type harness struct {
	loop  *eventloop.Loop
	mgr   *Manager
	sched *scheduler
	rec   *recorder
}

func newHarness(t *testing.T, url string, dialer Dialer) *harness {
	t.Helper()
	h := &harness{loop: eventloop.New(), sched: &scheduler{}, rec: &recorder{}}
	ctx, cancel := context.WithCancel(context.Background())
	go h.loop.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-h.loop.Done()
	})

	h.mgr = NewManager(h.loop, Options{
		URL:       url,
		Dialer:    dialer,
		AfterFunc: h.sched.after,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		OnState:   h.rec.onState,
		OnMessage: h.rec.onMessage,
	})
	return h
}

func (h *harness) on(t *testing.T, fn func()) {
	t.Helper()
	require.NoError(t, h.loop.Do(context.Background(), fn))
}

func TestFeedURL(t *testing.T) {
	tests := []struct {
		host   string
		port   int
		secure bool
		want   string
	}{
		{"localhost", 8080, false, "ws://localhost:8080/ws"},
		{"feed.example.com", 443, true, "wss://feed.example.com:443/ws"},
		{"::1", 9000, false, "ws://[::1]:9000/ws"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FeedURL(tt.host, tt.port, tt.secure))
	}
}

func TestNewPolicy(t *testing.T) {
	constant, err := NewPolicy(StrategyConstant, 0)
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		require.Equal(t, DefaultReconnectDelay, constant.NextBackOff())
	}

	exp, err := NewPolicy(StrategyExponential, 5*time.Second)
	require.NoError(t, err)
	for _, want := range []time.Duration{time.Second, 1500 * time.Millisecond, 2250 * time.Millisecond, 3375 * time.Millisecond, 5 * time.Second} {
		require.Equal(t, want, exp.NextBackOff())
	}
	for i := 0; i < 100; i++ {
		d := exp.NextBackOff()
		require.NotEqual(t, backoff.Stop, d, "exponential policy must never give up")
		require.LessOrEqual(t, d, 5*time.Second)
	}

	short, err := NewPolicy(StrategyExponential, 300*time.Millisecond)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		require.Equal(t, 300*time.Millisecond, short.NextBackOff(), "a delay under a second caps the first attempt too")
	}

	_, err = NewPolicy("linear", time.Second)
	assert.Error(t, err)
}

func TestConnectDeliversFramesUntouched(t *testing.T) {
	fs := newFeedServer(t)
	h := newHarness(t, fs.wsURL(), nil)

	h.on(t, func() { h.mgr.Connect(context.Background()) })
	server := fs.accept(t)
	require.Eventually(t, func() bool { return h.rec.lastState() == models.Open }, waitFor, 5*time.Millisecond)

	payload := `[{"vid":"1","rt":"A","lat":"29.9","lon":"-90.0","hdg":"45","tmstmp":"t0"}]`
	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte(payload)))
	require.NoError(t, server.WriteMessage(websocket.TextMessage, []byte("not json at all")))

	require.Eventually(t, func() bool { return h.rec.messageCount() == 2 }, waitFor, 5*time.Millisecond)
	h.rec.mu.Lock()
	assert.Equal(t, []string{payload, "not json at all"}, h.rec.messages)
	h.rec.mu.Unlock()
	assert.Equal(t, 0, h.sched.count(), "an open connection must not have a reconnect pending")
}

func TestDropSchedulesOneReconnect(t *testing.T) {
	fs := newFeedServer(t)
	h := newHarness(t, fs.wsURL(), nil)
	before := testutil.ToFloat64(metrics.FeedReconnectsScheduled)

	h.on(t, func() { h.mgr.Connect(context.Background()) })
	server := fs.accept(t)
	require.Eventually(t, func() bool { return h.rec.lastState() == models.Open }, waitFor, 5*time.Millisecond)

	server.Close()
	require.Eventually(t, func() bool { return h.rec.lastState() == models.Closed }, waitFor, 5*time.Millisecond)
	require.Equal(t, 1, h.sched.count())
	assert.Equal(t, DefaultReconnectDelay, h.sched.last().delay)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.FeedReconnectsScheduled))

	// Another close signal while the timer is pending adds nothing.
	h.on(t, func() { h.mgr.handleClosed() })
	assert.Equal(t, 1, h.sched.count())

	h.sched.last().fire()
	fs.accept(t)
	require.Eventually(t, func() bool { return h.rec.lastState() == models.Open }, waitFor, 5*time.Millisecond)

	var pending bool
	h.on(t, func() { pending = h.mgr.ReconnectPending() })
	assert.False(t, pending)
}

func TestDialFailureRetriesForever(t *testing.T) {
	var dials atomic.Int32
	dialer := dialerFunc(func(ctx context.Context) (*websocket.Conn, *http.Response, error) {
		dials.Add(1)
		return nil, nil, errors.New("connection refused")
	})
	h := newHarness(t, "ws://127.0.0.1:1/ws", dialer)

	h.on(t, func() { h.mgr.Connect(context.Background()) })
	for attempt := 1; attempt <= 5; attempt++ {
		require.Eventually(t, func() bool { return h.sched.count() == attempt }, waitFor, 5*time.Millisecond)
		assert.Equal(t, DefaultReconnectDelay, h.sched.last().delay)
		h.sched.last().fire()
	}
	require.Eventually(t, func() bool { return dials.Load() == 6 }, waitFor, 5*time.Millisecond)
}

func TestConnectIsIdempotentWhileDialing(t *testing.T) {
	var dials atomic.Int32
	release := make(chan struct{})
	dialer := dialerFunc(func(ctx context.Context) (*websocket.Conn, *http.Response, error) {
		dials.Add(1)
		<-release
		return nil, nil, errors.New("refused")
	})
	h := newHarness(t, "ws://127.0.0.1:1/ws", dialer)

	h.on(t, func() {
		h.mgr.Connect(context.Background())
		h.mgr.Connect(context.Background())
	})
	h.on(t, func() { h.mgr.Connect(context.Background()) })
	close(release)

	require.Eventually(t, func() bool { return h.sched.count() == 1 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, int32(1), dials.Load())
}

func TestCloseTearsDown(t *testing.T) {
	fs := newFeedServer(t)
	h := newHarness(t, fs.wsURL(), nil)

	h.on(t, func() { h.mgr.Connect(context.Background()) })
	server := fs.accept(t)
	require.Eventually(t, func() bool { return h.rec.lastState() == models.Open }, waitFor, 5*time.Millisecond)

	h.on(t, func() { h.mgr.Close() })

	_, _, err := server.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "server should see a normal close, got %v", err)
	assert.Equal(t, models.Closed, h.rec.lastState())

	// The read pump's error arrives after Close and must not schedule anything.
	time.Sleep(50 * time.Millisecond)
	h.on(t, func() {})
	assert.Equal(t, 0, h.sched.count())
}

func TestCloseCancelsPendingReconnect(t *testing.T) {
	var dials atomic.Int32
	dialer := dialerFunc(func(ctx context.Context) (*websocket.Conn, *http.Response, error) {
		dials.Add(1)
		return nil, nil, errors.New("refused")
	})
	h := newHarness(t, "ws://127.0.0.1:1/ws", dialer)

	h.on(t, func() { h.mgr.Connect(context.Background()) })
	require.Eventually(t, func() bool { return h.sched.count() == 1 }, waitFor, 5*time.Millisecond)

	timer := h.sched.last()
	h.on(t, func() { h.mgr.Close() })
	assert.True(t, timer.stopped)

	// A timer that already fired before Stop is ignored too.
	timer.fire()
	h.on(t, func() {})
	assert.Equal(t, int32(1), dials.Load())

	h.on(t, func() { h.mgr.Connect(context.Background()) })
	assert.Equal(t, int32(1), dials.Load(), "Connect after Close must not dial")
}

type dialerFunc func(ctx context.Context) (*websocket.Conn, *http.Response, error)

func (f dialerFunc) DialContext(ctx context.Context, _ string, _ http.Header) (*websocket.Conn, *http.Response, error) {
	return f(ctx)
}
