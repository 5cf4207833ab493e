package app

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"livemap.onebusaway.org/internal/metrics"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
)

// StreamMessage is one frame of /v1/stream. Data is an engine.View or an
// engine.Status according to Type.
type StreamMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// streamHandler pushes every published view and status to one websocket
// client until either side goes away. Slow clients only ever see the most
// recent view and status.
func (app *Application) streamHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := app.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered with an HTTP error.
		app.Logger.Debug("Stream upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	id := uuid.NewString()
	logger := app.Logger.With("subscriber", id)
	logger.Info("Stream subscriber connected", "remote_addr", r.RemoteAddr)
	metrics.StreamSubscribers.Inc()
	defer metrics.StreamSubscribers.Dec()

	views, cancelViews := app.Engine.SubscribeViews()
	defer cancelViews()
	statuses, cancelStatus := app.Engine.SubscribeStatus()
	defer cancelStatus()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(streamPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamPongWait))
		})
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()

	for {
		var msg StreamMessage
		select {
		case <-gone:
			logger.Info("Stream subscriber disconnected")
			return
		case <-r.Context().Done():
			return
		case view, ok := <-views:
			if !ok {
				app.closeStream(conn)
				return
			}
			msg = StreamMessage{Type: "view", Data: view}
		case status, ok := <-statuses:
			if !ok {
				app.closeStream(conn)
				return
			}
			msg = StreamMessage{Type: "status", Data: status}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			continue
		}

		conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		if err := conn.WriteJSON(msg); err != nil {
			logger.Debug("Stream write failed", "error", err)
			return
		}
	}
}

// closeStream tells the client the engine has shut down.
func (app *Application) closeStream(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down")
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(streamWriteWait))
}
