package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"streetcount/internal/logger"
	"streetcount/internal/services/batch"
	hub "streetcount/internal/services/websocket"
)

const writeWait = 10 * time.Second

var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// KeepAlive controls websocket liveness. The server pings every PingPeriod and
// drops a client that has not answered within PongWait.
type KeepAlive struct {
	PongWait   time.Duration
	PingPeriod time.Duration
}

// DefaultKeepAlive pings every 54s and waits 60s for the pong.
var DefaultKeepAlive = KeepAlive{PongWait: 60 * time.Second, PingPeriod: 54 * time.Second}

func (k KeepAlive) orDefault() KeepAlive {
	if k.PongWait <= 0 || k.PingPeriod <= 0 || k.PingPeriod >= k.PongWait {
		return DefaultKeepAlive
	}
	return k
}

// ProgressHandler returns the current batch progress.
func ProgressHandler(progress *batch.Progress) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, progress.Snapshot())
	}
}

// ProgressWebsocketHandler streams progress snapshots. A client receives the
// current snapshot on connect and every update afterwards.
func ProgressWebsocketHandler(progress *batch.Progress, hubService *hub.HubService, keepAlive KeepAlive, logger *logger.Logger) http.HandlerFunc {
	keepAlive = keepAlive.orDefault()
	return func(w http.ResponseWriter, r *http.Request) {
		connection, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("WebSocket upgrade error: %v", err)
			return
		}
		connection.SetReadLimit(512)
		connection.SetReadDeadline(time.Now().Add(keepAlive.PongWait))
		connection.SetPongHandler(func(appData string) error {
			connection.SetReadDeadline(time.Now().Add(keepAlive.PongWait))
			return nil
		})
		defer connection.Close()

		connection.SetWriteDeadline(time.Now().Add(writeWait))
		if err := connection.WriteJSON(progress.Snapshot()); err != nil {
			logger.Warning("Failed to send initial progress: %v", err)
			return
		}

		hubService.Register(connection)
		defer hubService.Unregister(connection)

		// WriteControl may run concurrently with the hub's data writes.
		done := make(chan struct{})
		defer close(done)
		go func() {
			ticker := time.NewTicker(keepAlive.PingPeriod)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if err := connection.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
						return
					}
				case <-done:
					return
				}
			}
		}()

		for {
			if _, _, err := connection.ReadMessage(); err != nil {
				break
			}
		}
	}
}
