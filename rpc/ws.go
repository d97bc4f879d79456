package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"nervix/core/state"

	"nhooyr.io/websocket"
)

const wsWriteTimeout = 10 * time.Second

var wsSubscribeQueue = 64

type eventPayload struct {
	Type  string    `json:"type"`
	Event EventJSON `json:"event"`
}

// handleEventStream replays events after the optional "since" cursor and then
// follows live events until the client disconnects.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if s == nil || s.node == nil {
		http.Error(w, "node unavailable", http.StatusServiceUnavailable)
		return
	}
	var since uint64
	if raw := strings.TrimSpace(r.URL.Query().Get("since")); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid since cursor", http.StatusBadRequest)
			return
		}
		since = parsed
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	ctx := conn.CloseRead(r.Context())
	if err := s.streamEvents(ctx, conn, since); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

// streamEvents treats live events as wake-ups and always reads from the event
// log, so events dropped from a full subscriber queue are still delivered.
func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, since uint64) error {
	updates, cancel := s.node.Subscribe(wsSubscribeQueue)
	defer cancel()

	next, err := s.catchUp(ctx, conn, since)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-updates:
			if !ok {
				return nil
			}
			if evt.Seq < next {
				continue
			}
			if next, err = s.catchUp(ctx, conn, next); err != nil {
				return err
			}
		}
	}
}

// catchUp writes every stored event from next onwards and returns the new
// cursor.
func (s *Server) catchUp(ctx context.Context, conn *websocket.Conn, next uint64) (uint64, error) {
	for {
		backlog, err := s.node.EventsSince(next, maxEventsPerPage)
		if err != nil {
			return next, err
		}
		for _, evt := range backlog {
			if err := writeEvent(ctx, conn, evt); err != nil {
				return next, err
			}
			next = evt.Seq + 1
		}
		if len(backlog) < maxEventsPerPage {
			return next, nil
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, evt state.StoredEvent) error {
	data, err := json.Marshal(eventPayload{Type: "ledger_event", Event: eventJSON(evt)})
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
