package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"livemap.onebusaway.org/internal/config"
)

const waitFor = 3 * time.Second

// feedServer is a stand-in upstream vehicle feed.
type feedServer struct {
	*httptest.Server
	conns chan *websocket.Conn
}

func newFeedServer(t *testing.T) *feedServer {
	t.Helper()
	fs := &feedServer{conns: make(chan *websocket.Conn, 4)}
	upgrader := websocket.Upgrader{}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fs.conns <- conn
	}))
	t.Cleanup(fs.Close)
	return fs
}

func (fs *feedServer) hostPort(t *testing.T) (string, int) {
	t.Helper()
	host, portText, err := net.SplitHostPort(fs.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portText)
	require.NoError(t, err)
	return host, port
}

func (fs *feedServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-fs.conns:
		t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(waitFor):
		t.Fatal("application never connected to the feed")
		return nil
	}
}

func (fs *feedServer) send(t *testing.T, conn *websocket.Conn, payload string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(payload)))
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testConfig points at fs with an in-memory selection store.
func testConfig(t *testing.T, fs *feedServer) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Feed.Host, cfg.Feed.Port = fs.hostPort(t)
	cfg.Feed.TimeZone = "UTC"
	cfg.Persistence.Driver = "memory"
	cfg.Persistence.Path = ""
	cfg.Staleness.Interval = 50 * time.Millisecond
	require.NoError(t, cfg.Validate())
	return cfg
}

// newTestApplication builds an Application from cfg without starting its engine.
func newTestApplication(t *testing.T, cfg *config.Config) *Application {
	t.Helper()
	app, err := New(context.Background(), cfg, testLogger(), &http.Client{Timeout: 5 * time.Second}, "testing", "1.0.0")
	require.NoError(t, err)
	t.Cleanup(func() { app.Close() })
	return app
}

// runEngine runs the application's engine until the test ends.
func runEngine(t *testing.T, app *Application) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		app.Engine.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

// getJSON fetches path from the application's handler and decodes the body into out.
func getJSON(t *testing.T, h http.Handler, path string, out any) int {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	if out != nil && rr.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), out), "body: %s", rr.Body.String())
	}
	return rr.Code
}
