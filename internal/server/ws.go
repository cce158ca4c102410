package server

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/praekelt/sshtail/internal/logutil"
)

// wsMessage is one WebSocket frame: a line, an idle marker or the error
// that ended the tail.
type wsMessage struct {
	Type   string `json:"type"`
	Host   string `json:"host,omitempty"`
	Path   string `json:"path,omitempty"`
	Line   string `json:"line,omitempty"`
	Detail string `json:"detail,omitempty"`
}

func (s *Server) streamWS(w http.ResponseWriter, r *http.Request) {
	hosts, err := s.selectHosts(r)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if len(hosts) == 0 {
		writeError(w, http.StatusServiceUnavailable, "No hosts configured")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.logger.Printf("[server] Failed to accept websocket: %v", err)
		return
	}
	defer conn.CloseNow()

	// The client only listens; CloseRead cancels ctx when it hangs up.
	ctx, cancel := context.WithCancel(conn.CloseRead(r.Context()))
	defer cancel()

	stream, err := s.tail(ctx, hosts, r.URL.Query().Get("idle") == "true")
	if err != nil {
		s.logger.Printf("[server] Failed to start tail: %v", err)
		conn.Close(websocket.StatusInternalError, logutil.TruncateTo(err.Error(), 120))
		return
	}

	for line := range stream.Lines() {
		msg := wsMessage{Type: "line", Host: line.Host, Path: line.Path, Line: line.Text}
		if line.Idle() {
			msg = wsMessage{Type: "idle"}
		}
		if err := wsjson.Write(ctx, conn, msg); err != nil {
			// Stop the tail and wait for it to disconnect.
			cancel()
			for range stream.Lines() {
			}
			return
		}
	}

	if err := stream.Err(); err != nil {
		s.logger.Printf("[server] tail %s failed: %s", stream.RunID(), logutil.Truncate(logutil.SanitizeForLog(err.Error())))
		wsjson.Write(ctx, conn, wsMessage{Type: "error", Detail: err.Error()})
		conn.Close(websocket.StatusInternalError, logutil.TruncateTo(err.Error(), 120))
		return
	}
	conn.Close(websocket.StatusNormalClosure, "")
}
