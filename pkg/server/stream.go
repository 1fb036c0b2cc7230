package server

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/relves/vaultgate/pkg/types"
)

const (
	streamBuffer       = 64
	streamWriteTimeout = 5 * time.Second
)

// StreamReady is the first message of the event feed. Every event
// committed after it is delivered, unless the client falls behind.
type StreamReady struct {
	Type     string           `json:"type"`
	Resource types.ResourceID `json:"resource"`
}

// handleStream upgrades to a websocket and forwards the resource's events
// as they are committed. The feed is best effort; clients resume from the
// audit chain with GET /resources/{id}/events.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseResourceID(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, "stream", err)
		return
	}
	if _, err := s.svc.Status(r.Context(), id); err != nil {
		s.writeError(w, r, "stream", err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.cfg.OriginPatterns})
	if err != nil {
		return
	}
	sub, stop := s.cfg.Hub.Subscribe(id, streamBuffer)
	defer stop()

	// CloseRead discards client messages and cancels ctx once the client goes away.
	ctx := conn.CloseRead(r.Context())
	if err := write(ctx, conn, StreamReady{Type: "ready", Resource: id}); err != nil {
		conn.Close(websocket.StatusInternalError, "write failed")
		return
	}
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case e, ok := <-sub:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "closed")
				return
			}
			if err := write(ctx, conn, e); err != nil {
				s.logger.Debug("event feed write failed", "resource", id, "error", err)
				conn.Close(websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, v any) error {
	ctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, v)
}
