package memory

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/google/uuid"

	"github.com/ibrkljacic/webrtc-video-call-app/internal/core/domain"
	"github.com/ibrkljacic/webrtc-video-call-app/internal/core/port"
)

// Compile-time interface check.
var _ port.SignalingStore = (*Store)(nil)

// Store is an in-process SignalingStore. It backs the signaling server and
// the service tests: sessions sharing one Store can negotiate without any
// network. Writes enforce the record invariants (immutable offer, monotonic
// ended) so they hold even against buggy callers.
type Store struct {
	mu          sync.Mutex
	collections map[string]map[string]*record
	nextSubID   int
}

type record struct {
	fields     map[string]any
	children   map[string][]child
	recordSubs map[int]func(port.RecordSnapshot)
	childSubs  map[string]map[int]func(port.ChildEvent)
}

type child struct {
	id     string
	fields map[string]any
}

func NewStore() *Store {
	return &Store{collections: make(map[string]map[string]*record)}
}

func (s *Store) CreateRecord(_ context.Context, collection string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	coll := s.collections[collection]
	if coll == nil {
		coll = make(map[string]*record)
		s.collections[collection] = coll
	}

	id := uuid.NewString()
	coll[id] = &record{
		fields:     make(map[string]any),
		children:   make(map[string][]child),
		recordSubs: make(map[int]func(port.RecordSnapshot)),
		childSubs:  make(map[string]map[int]func(port.ChildEvent)),
	}
	return id, nil
}

// WriteRecord merges fields at the top level. Replacing a non-empty offer
// with a different one is rejected, as is any write touching the ended
// fields of a record already marked ended.
func (s *Store) WriteRecord(_ context.Context, collection, id string, fields port.Fields) error {
	s.mu.Lock()
	rec, err := s.lookup(collection, id)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	if incoming, ok := fields["offer"]; ok {
		if existing, exists := rec.fields["offer"]; exists && !reflect.DeepEqual(existing, incoming) {
			s.mu.Unlock()
			return domain.ErrOfferImmutable
		}
	}
	if alreadyEnded, _ := rec.fields["ended"].(bool); alreadyEnded {
		for _, key := range []string{"ended", "endedAt", "endedBy", "endedByCurrentUser"} {
			if _, ok := fields[key]; ok {
				s.mu.Unlock()
				return domain.ErrRecordEnded
			}
		}
	}
	if ended, ok := fields["ended"].(bool); ok && !ended {
		s.mu.Unlock()
		return domain.ErrRecordEnded
	}

	for key, value := range fields {
		rec.fields[key] = value
	}

	snapshot := port.RecordSnapshot{ID: id, Fields: copyFields(rec.fields)}
	subs := make([]func(port.RecordSnapshot), 0, len(rec.recordSubs))
	for _, fn := range rec.recordSubs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	// Deliver outside the lock; subscribers may call back into the store.
	for _, fn := range subs {
		fn(snapshot)
	}
	return nil
}

func (s *Store) ReadRecord(_ context.Context, collection, id string) (port.Fields, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.lookup(collection, id)
	if err != nil {
		return nil, err
	}
	return copyFields(rec.fields), nil
}

func (s *Store) AppendChild(_ context.Context, collection, id, subcollection string, fields port.Fields) (string, error) {
	s.mu.Lock()
	rec, err := s.lookup(collection, id)
	if err != nil {
		s.mu.Unlock()
		return "", err
	}

	childID := uuid.NewString()
	rec.children[subcollection] = append(rec.children[subcollection], child{
		id:     childID,
		fields: copyFields(fields),
	})

	event := port.ChildEvent{ID: childID, Fields: copyFields(fields)}
	subs := make([]func(port.ChildEvent), 0, len(rec.childSubs[subcollection]))
	for _, fn := range rec.childSubs[subcollection] {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(event)
	}
	return childID, nil
}

// SubscribeRecord registers fn for future writes and delivers the current
// snapshot immediately.
func (s *Store) SubscribeRecord(_ context.Context, collection, id string, fn func(port.RecordSnapshot)) (port.Unsubscribe, error) {
	s.mu.Lock()
	rec, err := s.lookup(collection, id)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}

	s.nextSubID++
	subID := s.nextSubID
	rec.recordSubs[subID] = fn
	initial := port.RecordSnapshot{ID: id, Fields: copyFields(rec.fields)}
	s.mu.Unlock()

	fn(initial)

	return func() {
		s.mu.Lock()
		delete(rec.recordSubs, subID)
		s.mu.Unlock()
	}, nil
}

// SubscribeChildren registers fn for future appends and replays the
// children that already exist.
func (s *Store) SubscribeChildren(_ context.Context, collection, id, subcollection string, fn func(port.ChildEvent)) (port.Unsubscribe, error) {
	s.mu.Lock()
	rec, err := s.lookup(collection, id)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}

	s.nextSubID++
	subID := s.nextSubID
	if rec.childSubs[subcollection] == nil {
		rec.childSubs[subcollection] = make(map[int]func(port.ChildEvent))
	}
	rec.childSubs[subcollection][subID] = fn

	existing := make([]port.ChildEvent, 0, len(rec.children[subcollection]))
	for _, c := range rec.children[subcollection] {
		existing = append(existing, port.ChildEvent{ID: c.id, Fields: copyFields(c.fields)})
	}
	s.mu.Unlock()

	for _, event := range existing {
		fn(event)
	}

	return func() {
		s.mu.Lock()
		delete(rec.childSubs[subcollection], subID)
		s.mu.Unlock()
	}, nil
}

// lookup must be called with s.mu held.
func (s *Store) lookup(collection, id string) (*record, error) {
	rec := s.collections[collection][id]
	if rec == nil {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, domain.ErrNotFound)
	}
	return rec, nil
}

func copyFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for key, value := range fields {
		out[key] = value
	}
	return out
}
