package gateway

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const pingInterval = 30 * time.Second

// stream upgrades the request to a websocket and relays every Message
// the Engine publishes for this job until the subscriber's buffer
// overflows, the broadcaster closes (terminal status), or the client
// disconnects.
func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]

	subID, ch, ok := s.engine.Subscribe(jobID)
	if !ok {
		s.writeError(w, "stream", http.StatusNotFound, "job not found")
		return
	}
	defer s.engine.Unsubscribe(jobID, subID)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnf("upgrading stream for %s: %s", jobID, err)
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, open := <-ch:
			if !open {
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
