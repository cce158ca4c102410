package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/praekelt/sshtail/internal/logutil"
)

func (s *Server) streamSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	stream, ok := s.startTail(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("X-Tail-Run", stream.RunID())

	// Flush headers immediately so the EventSource connection is established
	flusher.Flush()

	for line := range stream.Lines() {
		if line.Idle() {
			fmt.Fprint(w, "event: idle\ndata: {}\n\n")
		} else {
			data, _ := json.Marshal(line)
			fmt.Fprintf(w, "data: %s\n\n", data)
		}
		flusher.Flush()
	}

	if err := stream.Err(); err != nil {
		s.logger.Printf("[server] tail %s failed: %s", stream.RunID(), logutil.Truncate(logutil.SanitizeForLog(err.Error())))
		data, _ := json.Marshal(map[string]string{"detail": err.Error()})
		fmt.Fprintf(w, "event: error\ndata: %s\n\n", data)
		flusher.Flush()
	}
}
