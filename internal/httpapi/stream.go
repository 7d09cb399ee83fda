package httpapi

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/hamed0406/uptimed/internal/domain"
)

const (
	streamBuffer       = 64
	streamWriteTimeout = 5 * time.Second
	streamPingInterval = 30 * time.Second
)

var streamUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// callers are API-key authenticated, not cookie authenticated
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub fans committed transitions out to websocket subscribers. Publish
// never blocks: a subscriber whose buffer is full loses the transition.
type Hub struct {
	log    *zap.Logger
	mu     sync.Mutex
	subs   map[chan domain.Transition]struct{}
	closed bool
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{log: log, subs: make(map[chan domain.Transition]struct{})}
}

func (h *Hub) Publish(tr domain.Transition) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	dropped := 0
	for ch := range h.subs {
		select {
		case ch <- tr:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		return fmt.Errorf("transition %s dropped for %d slow subscribers", tr.TargetID, dropped)
	}
	return nil
}

// Close ends every open stream and makes later ones end right after
// their snapshot. http.Server.Shutdown does not wait for hijacked
// websocket connections, so call Close first.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		close(ch)
		delete(h.subs, ch)
	}
}

func (h *Hub) subscribe() chan domain.Transition {
	ch := make(chan domain.Transition, streamBuffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch
	}
	h.subs[ch] = struct{}{}
	return ch
}

func (h *Hub) unsubscribe(ch chan domain.Transition) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

type streamMessage struct {
	Type       string          `json:"type"`
	States     []StatusView    `json:"states,omitempty"`
	Transition *wireTransition `json:"transition,omitempty"`
}

type wireTransition struct {
	ID    string     `json:"id"`
	From  string     `json:"from"`
	To    string     `json:"to"`
	At    time.Time  `json:"at"`
	State StatusView `json:"state"`
}

// handleStream sends a snapshot of every state, then each transition as it
// commits.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := streamUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch := s.Hub.subscribe()
	defer s.Hub.unsubscribe(ch)

	states := s.Status.ReadAll()
	snap := streamMessage{Type: "snapshot", States: make([]StatusView, 0, len(states))}
	for _, st := range states {
		snap.States = append(snap.States, toView(st))
	}
	if err := writeStream(conn, snap); err != nil {
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingInterval)
	defer ping.Stop()

	for {
		select {
		case tr, ok := <-ch:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(streamWriteTimeout))
				return
			}
			msg := streamMessage{Type: "transition", Transition: &wireTransition{
				ID: string(tr.TargetID), From: string(tr.From), To: string(tr.To), At: tr.At.UTC(), State: toView(tr.State),
			}}
			if err := writeStream(conn, msg); err != nil {
				s.Logger.Debug("stream_write_error", zap.Error(err))
				return
			}
		case <-ping.C:
			_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteTimeout))
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func writeStream(conn *websocket.Conn, msg streamMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	return conn.WriteJSON(msg)
}
