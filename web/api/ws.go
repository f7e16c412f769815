package api

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

func (s *Server) wsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[web] upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		client, ok := s.hub.subscribe(r.Context())
		if !ok {
			return
		}

		// reads only detect the client going away
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
						log.Printf("[web] read error: %v", err)
					}
					return
				}
			}
		}()

		if err := writeWS(conn, Message{Type: "snapshot", Data: s.tracker.Snapshot()}); err != nil {
			s.hub.unsubscribe(client)
			return
		}

		ping := time.NewTicker(wsPingInterval)
		defer ping.Stop()

		for {
			select {
			case <-closed:
				s.hub.unsubscribe(client)
				return
			case <-ping.C:
				conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					s.hub.unsubscribe(client)
					return
				}
			case msg, ok := <-client:
				if !ok {
					conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
					return
				}
				if err := writeWS(conn, msg); err != nil {
					s.hub.unsubscribe(client)
					return
				}
			}
		}
	}
}

func writeWS(conn *websocket.Conn, msg Message) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(msg)
}
