package http

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/ibrkljacic/webrtc-video-call-app/internal/core/domain"
	"github.com/ibrkljacic/webrtc-video-call-app/internal/core/port"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// TODO: restrict origins once the endpoints are served from a fixed host
	CheckOrigin: func(r *http.Request) bool { return true },
}

// watchCall streams full record snapshots to the client for as long as the
// socket stays open.
func (h *Handler) watchCall(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	// Reject unknown records before the upgrade so clients get a plain 404
	// handshake failure instead of an open socket that never delivers.
	if _, err := h.Store.ReadRecord(r.Context(), domain.CallsCollection, id); err != nil {
		writeStoreError(w, err)
		return
	}

	h.serveSubscription(w, r, func(send func(any) bool) (port.Unsubscribe, error) {
		return h.Store.SubscribeRecord(r.Context(), domain.CallsCollection, id, func(snap port.RecordSnapshot) {
			send(snap.Fields)
		})
	})
}

// watchCandidates streams appended candidates, replaying existing ones on
// connect.
func (h *Handler) watchCandidates(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sub := chi.URLParam(r, "sub")
	if sub != domain.OffererCandidates && sub != domain.AnswererCandidates {
		writeError(w, http.StatusBadRequest, errors.New("unknown candidate subcollection"))
		return
	}
	if _, err := h.Store.ReadRecord(r.Context(), domain.CallsCollection, id); err != nil {
		writeStoreError(w, err)
		return
	}

	h.serveSubscription(w, r, func(send func(any) bool) (port.Unsubscribe, error) {
		return h.Store.SubscribeChildren(r.Context(), domain.CallsCollection, id, sub, func(ev port.ChildEvent) {
			send(ev.Fields)
		})
	})
}

// serveSubscription upgrades the connection, wires a store subscription to
// a single writer goroutine (gorilla connections do not allow concurrent
// writes), and blocks until the client goes away.
func (h *Handler) serveSubscription(w http.ResponseWriter, r *http.Request, subscribe func(send func(any) bool) (port.Unsubscribe, error)) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Upgrading subscription socket")
		return
	}
	defer conn.Close()

	events := make(chan any, 64)
	done := make(chan struct{})

	send := func(event any) bool {
		select {
		case events <- event:
			return true
		case <-done:
			return false
		}
	}

	unsub, err := subscribe(send)
	if err != nil {
		if writeErr := conn.WriteJSON(map[string]string{"error": err.Error()}); writeErr != nil {
			log.Debug().Err(writeErr).Msg("Reporting subscription error to client")
		}
		return
	}
	defer unsub()

	// Reader: only there to detect the client closing the socket.
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Debug().Err(err).Msg("Subscription socket closed")
				}
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case event := <-events:
			if err := conn.WriteJSON(event); err != nil {
				log.Debug().Err(err).Msg("Writing subscription event")
				return
			}
		}
	}
}
