package controller

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/zero-network/txexporter/pkg/jobs"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
)

func jobNotFound(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, map[string]string{
		"error":  "Job not found or completed",
		"status": "unknown",
	})
}

// HandleJobStatus returns the JSON status record of a job.
func (c *Controller) HandleJobStatus(w http.ResponseWriter, r *http.Request) {
	st, err := c.App.Jobs.Get(r.Context(), mux.Vars(r)["job_id"])
	if err != nil {
		jobNotFound(w)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// HandleJobList returns every job still held in memory, newest first.
func (c *Controller) HandleJobList(w http.ResponseWriter, _ *http.Request) {
	list := c.App.Jobs.List()
	sort.Slice(list, func(i, j int) bool {
		a, b := list[i].StartTime, list[j].StartTime
		if a == nil || b == nil {
			return b == nil && a != nil
		}
		return a.After(*b)
	})
	writeJSON(w, http.StatusOK, map[string]any{"jobs": list})
}

// HandleJobCancel cancels a running job.
func (c *Controller) HandleJobCancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["job_id"]
	if err := c.App.Jobs.Cancel(id); err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			jobNotFound(w)
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	st, _ := c.App.Jobs.Get(r.Context(), id)
	writeJSON(w, http.StatusAccepted, st)
}

// HandleJobWebSocket streams status snapshots of a job until it finishes, then closes.
//
// Server sends {"type":"status","payload":{...}} for every update and a normal close frame at the end.
// Jobs only known from a status file get their stored snapshot and an immediate close.
func (c *Controller) HandleJobWebSocket(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["job_id"]
	updates, unsubscribe, err := c.App.Jobs.Subscribe(id)
	if err != nil {
		st, getErr := c.App.Jobs.Get(r.Context(), id)
		if getErr != nil {
			jobNotFound(w)
			return
		}
		ch := make(chan jobs.Status, 1)
		ch <- st
		close(ch)
		updates, unsubscribe = ch, func() {}
	}
	defer unsubscribe()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.App.Logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}
	defer func(conn *websocket.Conn) {
		if err := conn.Close(); err != nil {
			c.App.Logger.Debug("Failed to close WebSocket connection", zap.Error(err))
		}
	}(conn)

	logger := c.App.Logger.With(zap.String("job_id", id), zap.String("remote_addr", r.RemoteAddr))
	logger.Debug("WebSocket client connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go c.readUntilClosed(conn, cancel)

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("WebSocket client disconnected")
			return

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(wsWriteWait)); err != nil {
				logger.Debug("Failed to send ping", zap.Error(err))
				return
			}

		case st, ok := <-updates:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"),
					time.Now().Add(wsWriteWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(wsMessage{Type: "status", Payload: st}); err != nil {
				logger.Debug("Failed to write WebSocket message", zap.Error(err))
				return
			}
		}
	}
}

type wsMessage struct {
	Type    string      `json:"type"`
	Payload jobs.Status `json:"payload"`
}

// readUntilClosed drains client frames so pongs and close frames are processed.
func (c *Controller) readUntilClosed(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.App.Logger.Debug("WebSocket read error", zap.Error(err))
			}
			return
		}
	}
}
