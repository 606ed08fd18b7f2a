package port

import "context"

// Fields is a partial field map for a store record. Writes merge at the
// top level, create-or-update.
type Fields map[string]any

// RecordSnapshot is one change notification for a subscribed record: the
// full current contents, not a delta. Duplicate delivery is possible and
// must be tolerated by subscribers.
type RecordSnapshot struct {
	ID     string
	Fields Fields
}

// ChildEvent is one appended child in a subscribed subcollection.
// Subscribing replays the children that already exist.
type ChildEvent struct {
	ID     string
	Fields Fields
}

// Unsubscribe releases one change subscription. Idempotent.
type Unsubscribe func()

// SignalingStore is the document-store capability the call session needs:
// per-record create/read/write, append-only child sets, and
// change-subscription with at-least-once delivery. No ordering is
// guaranteed across distinct subscriptions.
type SignalingStore interface {
	CreateRecord(ctx context.Context, collection string) (string, error)
	WriteRecord(ctx context.Context, collection, id string, fields Fields) error
	ReadRecord(ctx context.Context, collection, id string) (Fields, error)
	AppendChild(ctx context.Context, collection, id, subcollection string, fields Fields) (string, error)
	SubscribeRecord(ctx context.Context, collection, id string, fn func(RecordSnapshot)) (Unsubscribe, error)
	SubscribeChildren(ctx context.Context, collection, id, subcollection string, fn func(ChildEvent)) (Unsubscribe, error)
}
