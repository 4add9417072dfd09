package handler

import (
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pkordes/tripsync/backend/internal/tripsync"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

// StreamMessage is every frame the server sends on /ws.
type StreamMessage struct {
	Type string         `json:"type"`
	Data tripsync.State `json:"data"`
}

// latest holds the newest state not yet written. Writers that fall behind
// skip intermediate states.
type latest struct {
	mu    sync.Mutex
	state *tripsync.State
	ready chan struct{}
}

func (l *latest) put(s tripsync.State) {
	l.mu.Lock()
	l.state = &s
	l.mu.Unlock()
	select {
	case l.ready <- struct{}{}:
	default:
	}
}

func (l *latest) take() (tripsync.State, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == nil {
		return tripsync.State{}, false
	}
	s := *l.state
	l.state = nil
	return s, true
}

// Stream handles GET /ws. It upgrades to a websocket, sends the caller's
// current state, then a new "state" frame after every change until the
// client goes away. Frames from the client are ignored.
func (s *Server) Stream(w http.ResponseWriter, r *http.Request) {
	e, u, ok := s.engine(w, r)
	if !ok {
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		s.logger.WarnContext(r.Context(), "websocket upgrade failed", "user_id", u.ID, "error", err)
		return
	}
	defer conn.Close()
	s.logger.InfoContext(r.Context(), "websocket connected", "user_id", u.ID)

	pending := &latest{ready: make(chan struct{}, 1)}
	pending.put(e.State())
	cancel := e.OnChange(pending.put)
	defer cancel()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-gone:
			s.logger.InfoContext(r.Context(), "websocket disconnected", "user_id", u.ID)
			return
		case <-r.Context().Done():
			return
		case <-pending.ready:
			st, ok := pending.take()
			if !ok {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(StreamMessage{Type: "state", Data: st}); err != nil {
				s.logger.DebugContext(r.Context(), "websocket write failed", "user_id", u.ID, "error", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

// originChecker accepts upgrades from the configured origins, from "*", and
// from clients that send no Origin header (non-browser clients).
func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || slices.Contains(allowed, "*") {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		if strings.EqualFold(u.Host, r.Host) {
			return true
		}
		return slices.ContainsFunc(allowed, func(a string) bool {
			return strings.EqualFold(strings.TrimRight(a, "/"), origin)
		})
	}
}
