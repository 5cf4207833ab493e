// Command mockfeed serves vehicle snapshots on /ws for livemap. By default it
// replays a fixed fixture for local development; with --bustime it relays
// the live BusTime getvehicles API instead.
package main

import (
	"context"
	_ "embed"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"livemap.onebusaway.org/internal/bustime"
	"livemap.onebusaway.org/internal/connection"
	"livemap.onebusaway.org/internal/httpclient"
)

//go:embed mock_vehicles.json
var defaultFixture []byte

const (
	formatJSON   = "json"
	formatGTFSRT = "gtfsrt"
)

type server struct {
	logger   *slog.Logger
	interval time.Duration
	upgrader websocket.Upgrader

	mu      sync.Mutex
	frame   *frame
	clients int
}

// frame is one prepared websocket message.
type frame struct {
	messageType int
	payload     []byte
}

func main() {
	var (
		port     = flag.Int("port", 8081, "Mock feed port")
		fixture  = flag.String("fixture", "", "Path to a BusTime vehicles JSON array (default: built-in NOLA sample)")
		format   = flag.String("format", formatJSON, "Frame format (json|gtfsrt)")
		interval = flag.Duration("interval", 10*time.Second, "How often the snapshot is pushed")
		relay    = flag.Bool("bustime", false, "Relay the BusTime API named by CLEVER_DEVICES_IP and CLEVER_DEVICES_KEY instead of the fixture")
	)
	flag.Parse()

	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	s := &server{logger: logger, interval: *interval}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *relay {
		cfg, err := bustime.ConfigFromEnv(os.Getenv)
		if err != nil {
			logger.Error("BusTime relay is not configured", "error", err)
			os.Exit(1)
		}
		cfg.Interval = *interval
		client, err := bustime.NewClient(cfg, httpclient.NewPooledClient())
		if err != nil {
			logger.Error("Failed to create BusTime client", "error", err)
			os.Exit(1)
		}
		go bustime.NewPoller(client, cfg.Interval, logger, s.publishVehicles(*format)).Run(ctx)
	} else {
		data := defaultFixture
		if *fixture != "" {
			var err error
			if data, err = os.ReadFile(*fixture); err != nil {
				logger.Error("Failed to read fixture", "path", *fixture, "error", err)
				os.Exit(1)
			}
		}
		f, err := buildFrame(data, *format, time.Now())
		if err != nil {
			logger.Error("Failed to build frame", "error", err)
			os.Exit(1)
		}
		s.setFrame(f)
	}

	addr := fmt.Sprintf(":%d", *port)
	httpServer := &http.Server{Addr: addr, Handler: s.routes()}
	go func() {
		<-ctx.Done()
		httpServer.Close()
	}()

	logger.Info("mock feed running", "url", "ws://localhost"+addr+connection.FeedPath, "format", *format, "interval", *interval, "bustime", *relay)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error(err.Error())
		os.Exit(1)
	}
}

// buildFrame validates the fixture and encodes it in the requested format.
func buildFrame(data []byte, format string, now time.Time) (frame, error) {
	var records []busTimeRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return frame{}, fmt.Errorf("fixture must be a JSON array of vehicle records: %w", err)
	}

	switch format {
	case formatJSON:
		return frame{messageType: websocket.TextMessage, payload: data}, nil
	case formatGTFSRT:
		payload, err := encodeGTFSRealtime(records, now)
		if err != nil {
			return frame{}, err
		}
		return frame{messageType: websocket.BinaryMessage, payload: payload}, nil
	default:
		return frame{}, fmt.Errorf("unknown format %q", format)
	}
}

// publishVehicles returns a callback that turns a BusTime vehicle list into
// the frame pushed to clients. A list that cannot be encoded keeps the
// previous frame.
func (s *server) publishVehicles(format string) func([]json.RawMessage) {
	return func(vehicles []json.RawMessage) {
		data, err := json.Marshal(vehicles)
		if err != nil {
			s.logger.Error("Failed to encode BusTime vehicles", "error", err)
			return
		}
		f, err := buildFrame(data, format, time.Now())
		if err != nil {
			s.logger.Error("Failed to build frame from BusTime vehicles", "error", err)
			return
		}
		s.setFrame(f)
	}
}

func (s *server) setFrame(f frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frame = &f
}

// currentFrame returns nil until the first frame is set.
func (s *server) currentFrame() *frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(connection.FeedPath, s.serveFeed)
	return mux
}

// serveFeed sends the current frame on connect and then every interval until
// the client goes away. Nothing is sent before the first frame exists.
func (s *server) serveFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.mu.Lock()
	s.clients++
	s.logger.Info("client connected", "remote_addr", r.RemoteAddr, "clients", s.clients)
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.clients--
		s.logger.Info("client disconnected", "remote_addr", r.RemoteAddr, "clients", s.clients)
		s.mu.Unlock()
	}()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if f := s.currentFrame(); f != nil {
			if err := conn.WriteMessage(f.messageType, f.payload); err != nil {
				return
			}
		}
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}
