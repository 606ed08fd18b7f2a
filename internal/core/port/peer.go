package port

import (
	"context"

	"github.com/ibrkljacic/webrtc-video-call-app/internal/core/domain"
)

// ConnState mirrors the underlying transport's connection lifecycle.
type ConnState string

const (
	ConnNew          ConnState = "new"
	ConnConnecting   ConnState = "connecting"
	ConnConnected    ConnState = "connected"
	ConnDisconnected ConnState = "disconnected"
	ConnFailed       ConnState = "failed"
	ConnClosed       ConnState = "closed"
)

// PeerCallbacks are registered at link creation and invoked from transport
// goroutines as events occur. Nil callbacks are skipped.
type PeerCallbacks struct {
	LocalCandidate  func(domain.Candidate)
	ConnectionState func(ConnState)
	// ICEFailed fires when candidate-pair checking fails outright. It is
	// separate from ConnectionState(ConnFailed) so the termination reason
	// can distinguish the two.
	ICEFailed   func()
	RemoteTrack func(RemoteTrack)
}

// PeerLinkFactory allocates a fresh link wired to the given callbacks. Any
// prior live link must already be closed by the caller; links hold no
// history and are replaced wholesale on reset.
type PeerLinkFactory func(cb PeerCallbacks) (PeerLink, error)

// PeerLink wraps one negotiated peer-to-peer media connection.
type PeerLink interface {
	// AttachLocalTracks binds locally captured tracks for outbound
	// transmission. Must be called before the offer or answer is created.
	AttachLocalTracks(tracks []LocalTrack) error

	// CreateOffer and CreateAnswer generate a negotiation payload and
	// commit it as the local description. Calling out of sequence (e.g.
	// CreateAnswer before a remote offer is set) fails with
	// domain.ErrNegotiation.
	CreateOffer(ctx context.Context) (domain.SessionDescription, error)
	CreateAnswer(ctx context.Context) (domain.SessionDescription, error)

	// SetRemoteDescription commits a payload received from the peer. A
	// second answer while one is already applied is a no-op
	// (first-answer-wins).
	SetRemoteDescription(desc domain.SessionDescription) error

	// AddRemoteCandidate feeds one discovered network candidate into the
	// connection. Safe before or after the remote description is set;
	// early candidates are queued.
	AddRemoteCandidate(c domain.Candidate) error

	HasRemoteDescription() bool
	ConnectionState() ConnState

	// Close releases the connection and pending candidate queues. Idempotent.
	Close() error
}

// LocalTrack is one locally captured media track.
type LocalTrack interface {
	Kind() string
	ID() string
	// Stop releases the capture resources behind the track. Idempotent.
	Stop()
}

// RemoteTrack is a media track received from the peer.
type RemoteTrack interface {
	Kind() string
	ID() string
}
