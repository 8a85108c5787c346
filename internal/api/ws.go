package api

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tracksync/tracksync/internal/live"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 256
)

var errSlowClient = errors.New("websocket client too slow")

// wsClient forwards hub events to one websocket connection.
type wsClient struct {
	conn *websocket.Conn
	send chan live.Event
	done chan struct{}

	mx sync.Mutex
	// replay holds the events received before live delivery started, it
	// is written in full ahead of send.
	replay []live.Event
	live   bool
}

// Send never blocks. Before startLive every event is kept, afterwards an
// event for a full buffer is dropped.
func (c *wsClient) Send(e live.Event) error {
	c.mx.Lock()
	if !c.live {
		c.replay = append(c.replay, e)
		c.mx.Unlock()
		return nil
	}
	c.mx.Unlock()

	select {
	case <-c.done:
		return websocket.ErrCloseSent
	default:
	}
	select {
	case c.send <- e:
		return nil
	default:
		return errSlowClient
	}
}

// startLive switches Send to the bounded buffer and returns the events
// collected so far.
func (c *wsClient) startLive() []live.Event {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.live = true
	replay := c.replay
	c.replay = nil
	return replay
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for _, e := range c.startLive() {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(e); err != nil {
			return
		}
	}

	for {
		select {
		case e := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(e); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// readPump discards client messages and returns once the peer is gone.
func (c *wsClient) readPump() {
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) serveChannel(w http.ResponseWriter, r *http.Request, id int64) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.WarnContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}

	c := &wsClient{
		conn: conn,
		send: make(chan live.Event, sendBuffer),
		done: make(chan struct{}),
	}
	unsubscribe := s.cfg.Hub.Subscribe(id, c)
	slog.DebugContext(r.Context(), "websocket subscribed", "channel", id)

	pumped := make(chan struct{})
	go func() {
		defer close(pumped)
		c.writePump()
	}()
	go func() {
		select {
		case <-s.ctx.Done():
			_ = c.conn.Close()
		case <-pumped:
		}
	}()

	c.readPump()
	unsubscribe()
	close(c.done)
	<-pumped
	slog.DebugContext(r.Context(), "websocket closed", "channel", id)
}

func (s *Server) wsSync(w http.ResponseWriter, r *http.Request) {
	s.serveChannel(w, r, sourceID(r))
}

func (s *Server) wsMove(w http.ResponseWriter, r *http.Request) {
	s.serveChannel(w, r, live.RelocationChannel)
}
