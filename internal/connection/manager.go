// Package connection keeps a websocket to the vehicle feed open, reconnecting
// after a delay whenever it drops.
package connection

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"livemap.onebusaway.org/internal/metrics"
	"livemap.onebusaway.org/internal/models"
)

const (
	handshakeTimeout = 10 * time.Second
	closeGracePeriod = time.Second
	maxMessageSize   = 16 << 20
)

// Dialer opens a websocket. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Timer is a pending reconnect.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f to run once after d.
type AfterFunc func(d time.Duration, f func()) Timer

// Dispatcher serialises callbacks onto the goroutine that owns the Manager.
type Dispatcher interface {
	Dispatch(fn func()) bool
}

type Options struct {
	URL    string
	Dialer Dialer
	// Policy yields the delay before each reconnect. Defaults to a constant
	// DefaultReconnectDelay.
	Policy    backoff.BackOff
	AfterFunc AfterFunc
	Logger    *slog.Logger

	// OnState is called on the loop whenever the connection state changes.
	OnState func(models.ConnectionState)
	// OnMessage is called on the loop with every frame read from the feed.
	OnMessage func(messageType int, payload []byte)
}

// Manager owns the feed connection.
//
// Connect and Close must be called from the Dispatcher's goroutine; the
// Manager dispatches its own dial results, frames and timer expiries there.
type Manager struct {
	loop   Dispatcher
	opts   Options
	logger *slog.Logger

	ctx        context.Context
	state      models.ConnectionState
	dialing    bool
	cancelDial context.CancelFunc
	conn       *websocket.Conn
	timer      Timer
	timerSeq   uint64
	closed     bool
}

// NewManager returns an idle Manager that runs its callbacks on loop.
// Connect starts the first dial.
func NewManager(loop Dispatcher, opts Options) *Manager {
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		}
	}
	if opts.Policy == nil {
		opts.Policy = backoff.NewConstantBackOff(DefaultReconnectDelay)
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		loop:   loop,
		opts:   opts,
		logger: logger.With("feed", opts.URL),
		state:  models.Connecting,
	}
}

// State returns the current connection state.
func (m *Manager) State() models.ConnectionState {
	return m.state
}

// Connect starts a dial unless one is in flight, the connection is already
// open, or the Manager has been closed.
func (m *Manager) Connect(ctx context.Context) {
	if m.closed || m.dialing || m.conn != nil {
		return
	}
	if m.ctx == nil {
		m.ctx = ctx
	}

	m.setState(models.Connecting)
	m.dialing = true

	dialCtx, cancel := context.WithCancel(m.ctx)
	m.cancelDial = cancel
	go func() {
		conn, _, err := m.opts.Dialer.DialContext(dialCtx, m.opts.URL, nil)
		if !m.loop.Dispatch(func() { m.dialed(conn, err) }) && conn != nil {
			conn.Close()
		}
	}()
}

func (m *Manager) dialed(conn *websocket.Conn, err error) {
	m.dialing = false
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}

	if m.closed {
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		m.logger.Warn("Failed to connect to vehicle feed", "error", err)
		m.handleClosed()
		return
	}

	conn.SetReadLimit(maxMessageSize)
	m.conn = conn
	m.opts.Policy.Reset()
	m.setState(models.Open)
	m.logger.Info("Connected to vehicle feed")

	go m.readPump(conn)
}

func (m *Manager) readPump(conn *websocket.Conn) {
	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			m.loop.Dispatch(func() { m.lost(conn, err) })
			return
		}
		m.loop.Dispatch(func() {
			// Frames from a connection we already gave up on are dropped.
			if m.conn == conn && m.opts.OnMessage != nil {
				m.opts.OnMessage(messageType, payload)
			}
		})
	}
}

func (m *Manager) lost(conn *websocket.Conn, err error) {
	if m.conn != conn {
		return
	}
	conn.Close()
	m.conn = nil

	if !m.closed {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			m.logger.Info("Vehicle feed closed the connection", "error", err)
		} else {
			m.logger.Warn("Lost connection to vehicle feed", "error", err)
		}
	}
	m.handleClosed()
}

// handleClosed marks the connection closed and schedules a single reconnect.
func (m *Manager) handleClosed() {
	m.setState(models.Closed)
	if m.closed || m.timer != nil {
		return
	}

	delay := m.opts.Policy.NextBackOff()
	if delay == backoff.Stop {
		delay = DefaultReconnectDelay
	}

	m.timerSeq++
	seq := m.timerSeq
	m.timer = m.opts.AfterFunc(delay, func() {
		m.loop.Dispatch(func() {
			if seq != m.timerSeq || m.closed {
				return
			}
			m.timer = nil
			m.Connect(m.ctx)
		})
	})
	metrics.FeedReconnectsScheduled.Inc()
	m.logger.Info("Scheduled reconnect", "delay", delay)
}

// Close tears the connection down for good: the pending reconnect is
// cancelled, an in-flight dial is aborted and an open socket is closed.
func (m *Manager) Close() {
	if m.closed {
		return
	}
	m.closed = true

	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.timerSeq++
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	if m.conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = m.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
		m.conn.Close()
		m.conn = nil
	}
	m.setState(models.Closed)
}

// ReconnectPending reports whether a reconnect timer is armed.
func (m *Manager) ReconnectPending() bool {
	return m.timer != nil
}

func (m *Manager) setState(s models.ConnectionState) {
	if s == m.state {
		return
	}
	m.state = s
	metrics.FeedConnectionState.Set(float64(s))
	if m.opts.OnState != nil {
		m.opts.OnState(s)
	}
}
