package port

import "context"

// MediaSource acquires the local capture tracks for a session. Device
// selection is the adapter's concern; a denied or absent device surfaces
// as domain.ErrMediaAcquisition.
type MediaSource interface {
	Acquire(ctx context.Context) ([]LocalTrack, error)
}

// MediaSink is the UI-side collaborator that renders media. The session
// only tells it what to show; how is out of scope.
type MediaSink interface {
	AttachLocal(tracks []LocalTrack)
	AttachRemote(track RemoteTrack)
	// DetachRemote clears the remote display, e.g. when the other party
	// leaves while the session stays open.
	DetachRemote()
	// DetachAll resets both displays to their pre-call state. Idempotent.
	DetachAll()
}
