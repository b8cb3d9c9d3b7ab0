package server

import (
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pvsim/pvsim/pkg/log"
	"github.com/pvsim/pvsim/pkg/publish"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.allowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		// not a browser
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return slices.ContainsFunc(s.allowedOrigins, func(o string) bool {
		return strings.EqualFold(o, origin) || strings.EqualFold(o, u.Host)
	})
}

// handleWS streams published events to the client. An optional siteId query
// parameter limits the stream to one site. Messages are never read from the
// client beyond control frames.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	siteID := r.URL.Query().Get("siteId")

	// subscribe before the handshake completes so no event published after
	// the client sees the upgrade is missed
	sub := s.publisher.Subscribe()
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.publisher.Unsubscribe(sub.ID())
		// Upgrade already wrote the error response
		log.Ctx(ctx).WarnContext(ctx, "websocket upgrade failed", slog.Any("error", err))
		return
	}
	ctx = log.WithAttrs(ctx, slog.String("subscription", sub.ID().String()))
	log.Ctx(ctx).DebugContext(ctx, "websocket subscriber connected", slog.String("siteID", siteID))

	done := make(chan struct{})
	go func() {
		defer close(done)
		wsReadPump(conn)
	}()

	defer func() {
		s.publisher.Unsubscribe(sub.ID())
		conn.Close()
		<-done
		log.Ctx(ctx).DebugContext(ctx, "websocket subscriber disconnected", slog.Int64("dropped", sub.Dropped()))
	}()
	wsWritePump(conn, sub, siteID, done)
}

// wsReadPump discards client messages and returns once the connection is
// closed or stops answering pings.
func wsReadPump(conn *websocket.Conn) {
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("websocket read error", slog.Any("error", err))
			}
			return
		}
	}
}

func wsWritePump(conn *websocket.Conn, sub *publish.Subscription, siteID string, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case msg, ok := <-sub.C():
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				// publisher closed
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if siteID != "" && msg.SiteID != siteID {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg.Data); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
