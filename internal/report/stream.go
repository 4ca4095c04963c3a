package report

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	streamWriteWait = 5 * time.Second
	// Clients only send control frames.
	streamReadLimit = 512
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleStream pushes the stats document once on connect and then every
// StreamInterval until the client goes away.
func (r *Runtime) handleStream(w http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	log := r.opts.Logger.With("remote_addr", req.RemoteAddr)
	log.Debug("stats stream opened")

	gone := make(chan struct{})
	conn.SetReadLimit(streamReadLimit)
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := r.opts.Clock.Ticker(r.opts.StreamInterval)
	defer ticker.Stop()

	for {
		_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		if err := conn.WriteJSON(r.Stats()); err != nil {
			log.Debug("stats stream closed", "err", err)
			return
		}
		select {
		case <-gone:
			log.Debug("stats stream closed by client")
			return
		case <-req.Context().Done():
			return
		case <-ticker.C:
		}
	}
}
