package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"nervix/observability"
	"nervix/rpc"
)

const (
	streamWriteTimeout = 10 * time.Second
	streamPage         = 500
)

var streamQueue = 64

type streamMessage struct {
	Type  string        `json:"type"`
	Event rpc.EventJSON `json:"event"`
}

// handleEvents replays persisted events after the optional "since" cursor and
// then relays events as the watcher observes them.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Watcher == nil || s.cfg.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "event relay disabled")
		return
	}
	var since uint64
	if raw := strings.TrimSpace(r.URL.Query().Get("since")); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since cursor")
			return
		}
		since = parsed
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	observability.Mirror().StreamOpened()
	defer observability.Mirror().StreamClosed()

	ctx := conn.CloseRead(r.Context())
	if err := s.relay(ctx, conn, since); err != nil && websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
		s.logger.Warn("event stream failed", "error", err)
		_ = conn.Close(websocket.StatusInternalError, "stream error")
	}
}

// relay writes the stored backlog, then re-reads the store whenever the
// watcher signals a newer event. The watcher drops events for slow
// subscribers, so the store is the only source written to the client.
func (s *Server) relay(ctx context.Context, conn *websocket.Conn, since uint64) error {
	updates, cancel := s.cfg.Watcher.Subscribe(streamQueue)
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

func (s *Server) catchUp(ctx context.Context, conn *websocket.Conn, next uint64) (uint64, error) {
	for {
		backlog, err := s.cfg.Store.EventsSince(ctx, next, streamPage)
		if err != nil {
			return next, err
		}
		for _, evt := range backlog {
			if err := writeStreamEvent(ctx, conn, evt); err != nil {
				return next, err
			}
			next = evt.Seq + 1
		}
		if len(backlog) < streamPage {
			return next, nil
		}
	}
}

func writeStreamEvent(ctx context.Context, conn *websocket.Conn, evt rpc.EventJSON) error {
	writeCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, conn, streamMessage{Type: "ledger_event", Event: evt})
}
