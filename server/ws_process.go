package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"XSlicer/core/pipeline"
	"XSlicer/logger"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// StageMessage is sent for every pipeline transition.
type StageMessage struct {
	Type  string `json:"type"`
	ID    string `json:"id,omitempty"`
	Stage string `json:"stage"`
	Error string `json:"error,omitempty"`
	At    string `json:"at"`
}

// ResultMessage carries the final outcome, in the same shape as the HTTP bodies.
type ResultMessage struct {
	Type   string      `json:"type"`
	Result interface{} `json:"result"`
}

// wsConn serialises writes; gorilla/websocket allows one concurrent writer.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) send(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

// ProcessWebSocketHandler handles GET /ws/process?url=: it streams stage
// events while the song is processed and finishes with the result.
// Closing the socket abandons the request; the shared run still completes.
func (h *SongHandler) ProcessWebSocketHandler(upgrader *websocket.Upgrader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		link := r.URL.Query().Get("url")
		if link == "" {
			writeMessage(w, http.StatusBadRequest, "missing url parameter")
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("WebSocket 升级失败", logger.ErrorField(err))
			return
		}
		defer conn.Close()
		ws := &wsConn{conn: conn}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
		// 读循环只用于发现客户端断开
		go func() {
			defer cancel()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		go func() {
			ticker := time.NewTicker(pingPeriod)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if err := ws.ping(); err != nil {
						return
					}
				case <-ctx.Done():
					return
				}
			}
		}()

		observer := func(ev pipeline.Event) {
			msg := StageMessage{Type: "stage", ID: ev.ID, Stage: string(ev.Stage), At: ev.At.UTC().Format(time.RFC3339Nano)}
			if ev.Err != nil {
				msg.Error = string(ev.Err.Kind)
			}
			if err := ws.send(msg); err != nil {
				logger.Debug("websocket stage write failed", logger.ErrorField(err))
			}
		}

		res, err := h.service.Process(ctx, link, observer)
		final := ResultMessage{Type: "result"}
		if err != nil {
			final.Result = newErrorResponse(err)
		} else {
			final.Result = &SongResponse{Status: string(res.Status), ContentRecord: res.Record}
		}
		if err := ws.send(final); err != nil {
			logger.Debug("websocket result write failed", logger.ErrorField(err))
			return
		}

		ws.mu.Lock()
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
		ws.mu.Unlock()
	}
}
