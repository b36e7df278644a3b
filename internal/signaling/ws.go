package signaling

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/veldt-labs/callbox/internal/httpserver"
	"github.com/veldt-labs/callbox/internal/metrics"
	"github.com/veldt-labs/callbox/internal/origin"
)

const wsWriteWait = 1 * time.Second

// handleWS streams the caller's inbox over a WebSocket as an alternative to
// HTTP polling. The server drains the store on the poll interval and writes
// each message as its own text frame, so the destructive at-most-once
// delivery contract is identical to GET /signal.
func (s *Service) handleWS(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("username")
	if username == "" {
		httpserver.WriteError(w, http.StatusBadRequest, "username is required")
		return
	}
	if !s.authorizeIdentity(r, username) {
		httpserver.WriteError(w, http.StatusForbidden, "username does not match authenticated identity")
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			header := strings.TrimSpace(r.Header.Get("Origin"))
			if header == "" {
				return true
			}
			normalized, host, ok := origin.NormalizeHeader(header)
			return ok && origin.IsAllowed(normalized, host, r.Host, s.cfg.AllowedOrigins)
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.reg.Inc(metrics.WSPushConnections)
	s.log.Debug("ws push connected", "username", username)

	idle := s.cfg.WSIdleTimeout
	_ = conn.SetReadDeadline(time.Now().Add(idle))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(idle))
	})

	// Inbound frames are not part of the push protocol; the read loop exists
	// to surface close frames, pongs, and the idle deadline.
	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				readErr <- err
				return
			}
		}
	}()

	poll := time.NewTicker(s.cfg.PollInterval)
	defer poll.Stop()
	ping := time.NewTicker(s.cfg.WSPingInterval)
	defer ping.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			writeClose(conn, websocket.CloseGoingAway, "server shutting down")
			return
		case <-readErr:
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-poll.C:
			msgs, err := s.store.Poll(ctx, username)
			if err != nil {
				// Transient store errors are retried on the next tick.
				s.log.Warn("ws push poll failed", "username", username, "err", err)
				continue
			}
			for _, msg := range msgs {
				payload, err := msg.MarshalJSON()
				if err != nil {
					s.log.Error("ws push encode failed", "username", username, "err", err)
					continue
				}
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
					return
				}
				s.reg.Inc(metrics.SignalsDelivered)
			}
		}
	}
}

func writeClose(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}
