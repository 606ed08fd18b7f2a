// Package wsstore implements the SignalingStore port against the signaling
// server's HTTP and WebSocket API.
package wsstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/ibrkljacic/webrtc-video-call-app/internal/core/domain"
	"github.com/ibrkljacic/webrtc-video-call-app/internal/core/port"
)

// Compile-time interface check.
var _ port.SignalingStore = (*Store)(nil)

type Store struct {
	base   string
	client *http.Client
	dialer *websocket.Dialer
}

func New(baseURL string) *Store {
	return &Store{
		base:   strings.TrimRight(baseURL, "/"),
		client: &http.Client{Timeout: 10 * time.Second},
		dialer: websocket.DefaultDialer,
	}
}

func (s *Store) CreateRecord(ctx context.Context, collection string) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := s.do(ctx, http.MethodPost, s.collectionPath(collection), nil, &out); err != nil {
		return "", fmt.Errorf("creating record: %w", err)
	}
	return out.ID, nil
}

func (s *Store) WriteRecord(ctx context.Context, collection, id string, fields port.Fields) error {
	if err := s.do(ctx, http.MethodPatch, s.recordPath(collection, id), fields, nil); err != nil {
		return fmt.Errorf("writing record %s: %w", id, err)
	}
	return nil
}

func (s *Store) ReadRecord(ctx context.Context, collection, id string) (port.Fields, error) {
	var fields port.Fields
	if err := s.do(ctx, http.MethodGet, s.recordPath(collection, id), nil, &fields); err != nil {
		return nil, fmt.Errorf("reading record %s: %w", id, err)
	}
	return fields, nil
}

func (s *Store) AppendChild(ctx context.Context, collection, id, subcollection string, fields port.Fields) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	path := s.recordPath(collection, id) + "/candidates/" + subcollection
	if err := s.do(ctx, http.MethodPost, path, fields, &out); err != nil {
		return "", fmt.Errorf("appending to %s: %w", subcollection, err)
	}
	return out.ID, nil
}

func (s *Store) SubscribeRecord(ctx context.Context, collection, id string, fn func(port.RecordSnapshot)) (port.Unsubscribe, error) {
	return s.subscribe(ctx, s.wsPath(collection, id), func(fields port.Fields) {
		fn(port.RecordSnapshot{ID: id, Fields: fields})
	})
}

func (s *Store) SubscribeChildren(ctx context.Context, collection, id, subcollection string, fn func(port.ChildEvent)) (port.Unsubscribe, error) {
	return s.subscribe(ctx, s.wsPath(collection, id)+"/candidates/"+subcollection, func(fields port.Fields) {
		fn(port.ChildEvent{Fields: fields})
	})
}

func (s *Store) subscribe(ctx context.Context, wsURL string, fn func(port.Fields)) (port.Unsubscribe, error) {
	conn, resp, err := s.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			// The server rejects unknown records before upgrading.
			if resp.StatusCode == http.StatusNotFound {
				return nil, fmt.Errorf("subscribing to %s: %w", wsURL, domain.ErrNotFound)
			}
		}
		return nil, fmt.Errorf("dialing %s: %w", wsURL, err)
	}
	if resp != nil {
		resp.Body.Close()
	}

	var once sync.Once
	unsub := func() {
		once.Do(func() { conn.Close() })
	}

	go func() {
		for {
			var fields port.Fields
			if err := conn.ReadJSON(&fields); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warn().Err(err).Str("url", wsURL).Msg("Subscription stream lost")
				}
				return
			}
			fn(fields)
		}
	}()

	return unsub, nil
}

// do issues one JSON request and decodes the response. Server-side
// invariant rejections and missing records map back onto the domain
// sentinels so callers behave identically across store adapters.
func (s *Store) do(ctx context.Context, method, url string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.ErrNotFound
	case resp.StatusCode >= 400:
		var payload struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil && payload.Error != "" {
			if resp.StatusCode == http.StatusConflict {
				if strings.Contains(payload.Error, domain.ErrOfferImmutable.Error()) {
					return domain.ErrOfferImmutable
				}
				return domain.ErrRecordEnded
			}
			return fmt.Errorf("server: %s", payload.Error)
		}
		return fmt.Errorf("server returned %s", resp.Status)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (s *Store) collectionPath(collection string) string {
	return s.base + "/" + collection
}

func (s *Store) recordPath(collection, id string) string {
	return s.collectionPath(collection) + "/" + id
}

func (s *Store) wsPath(collection, id string) string {
	ws := strings.Replace(s.base, "http", "ws", 1)
	return ws + "/ws/" + collection + "/" + id
}
