// Package pion adapts pion/webrtc to the PeerLink and MediaSource ports.
package pion

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"

	"github.com/ibrkljacic/webrtc-video-call-app/internal/core/domain"
	"github.com/ibrkljacic/webrtc-video-call-app/internal/core/port"
)

// Compile-time interface check.
var _ port.PeerLink = (*Link)(nil)

// Config holds the network-traversal relay servers used by every link the
// factory allocates.
type Config struct {
	ICEServers []webrtc.ICEServer
}

// DefaultConfig uses public STUN only, matching a plain two-party call with
// no TURN relay.
func DefaultConfig() Config {
	return Config{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun1.l.google.com:19302", "stun:stun2.l.google.com:19302"}},
		},
	}
}

// NewLinkFactory builds a port.PeerLinkFactory. The webrtc API object
// (media engine with default codecs plus the default interceptor registry)
// is shared across links; each call allocates a fresh PeerConnection.
func NewLinkFactory(cfg Config) (port.PeerLinkFactory, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("registering codecs: %w", err)
	}
	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("registering interceptors: %w", err)
	}
	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
	)

	return func(cb port.PeerCallbacks) (port.PeerLink, error) {
		pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: cfg.ICEServers})
		if err != nil {
			return nil, fmt.Errorf("creating peer connection: %w", err)
		}

		link := &Link{pc: pc}

		pc.OnICECandidate(func(c *webrtc.ICECandidate) {
			if c == nil || cb.LocalCandidate == nil {
				return
			}
			cb.LocalCandidate(candidateFromInit(c.ToJSON()))
		})
		pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
			if cb.ConnectionState != nil {
				cb.ConnectionState(connState(state))
			}
		})
		pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
			if state == webrtc.ICEConnectionStateFailed && cb.ICEFailed != nil {
				cb.ICEFailed()
			}
		})
		pc.OnTrack(func(tr *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			if cb.RemoteTrack != nil {
				cb.RemoteTrack(remoteTrack{tr})
			}
		})

		return link, nil
	}, nil
}

// Link wraps one PeerConnection. Candidates arriving before the remote
// description are queued and flushed once it is set, since pion rejects
// AddICECandidate on a connection with no remote description.
type Link struct {
	pc *webrtc.PeerConnection

	mu      sync.Mutex
	pending []webrtc.ICECandidateInit
	closed  bool
}

func (l *Link) AttachLocalTracks(tracks []port.LocalTrack) error {
	for _, track := range tracks {
		local, ok := track.(*LocalTrack)
		if !ok {
			return fmt.Errorf("track %s is not a pion local track", track.ID())
		}
		if _, err := l.pc.AddTrack(local.track); err != nil {
			return fmt.Errorf("attaching %s track: %w", track.Kind(), err)
		}
	}
	return nil
}

func (l *Link) CreateOffer(ctx context.Context) (domain.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return domain.SessionDescription{}, err
	}
	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("%w: creating offer: %v", domain.ErrNegotiation, err)
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return domain.SessionDescription{}, fmt.Errorf("%w: committing offer: %v", domain.ErrNegotiation, err)
	}
	return domain.SessionDescription{Type: domain.SignalOffer, SDP: offer.SDP}, nil
}

func (l *Link) CreateAnswer(ctx context.Context) (domain.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return domain.SessionDescription{}, err
	}
	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("%w: creating answer: %v", domain.ErrNegotiation, err)
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return domain.SessionDescription{}, fmt.Errorf("%w: committing answer: %v", domain.ErrNegotiation, err)
	}
	return domain.SessionDescription{Type: domain.SignalAnswer, SDP: answer.SDP}, nil
}

func (l *Link) SetRemoteDescription(desc domain.SessionDescription) error {
	if desc.Type == domain.SignalAnswer && l.pc.CurrentRemoteDescription() != nil {
		// First answer wins; a later one is a no-op.
		return nil
	}

	sd := webrtc.SessionDescription{
		Type: webrtc.NewSDPType(string(desc.Type)),
		SDP:  desc.SDP,
	}
	if err := l.pc.SetRemoteDescription(sd); err != nil {
		return fmt.Errorf("%w: setting remote %s: %v", domain.ErrNegotiation, desc.Type, err)
	}

	l.mu.Lock()
	queued := l.pending
	l.pending = nil
	l.mu.Unlock()

	for _, c := range queued {
		if err := l.pc.AddICECandidate(c); err != nil {
			return fmt.Errorf("flushing queued candidate: %w", err)
		}
	}
	return nil
}

func (l *Link) AddRemoteCandidate(c domain.Candidate) error {
	init := candidateToInit(c)

	l.mu.Lock()
	if l.pc.RemoteDescription() == nil {
		l.pending = append(l.pending, init)
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	if err := l.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("adding remote candidate: %w", err)
	}
	return nil
}

func (l *Link) HasRemoteDescription() bool {
	return l.pc.CurrentRemoteDescription() != nil
}

func (l *Link) ConnectionState() port.ConnState {
	return connState(l.pc.ConnectionState())
}

func (l *Link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.pending = nil
	l.mu.Unlock()

	if err := l.pc.Close(); err != nil {
		return fmt.Errorf("closing peer connection: %w", err)
	}
	return nil
}

func connState(state webrtc.PeerConnectionState) port.ConnState {
	switch state {
	case webrtc.PeerConnectionStateNew:
		return port.ConnNew
	case webrtc.PeerConnectionStateConnecting:
		return port.ConnConnecting
	case webrtc.PeerConnectionStateConnected:
		return port.ConnConnected
	case webrtc.PeerConnectionStateDisconnected:
		return port.ConnDisconnected
	case webrtc.PeerConnectionStateFailed:
		return port.ConnFailed
	default:
		return port.ConnClosed
	}
}

func candidateFromInit(init webrtc.ICECandidateInit) domain.Candidate {
	return domain.Candidate{
		Candidate:        init.Candidate,
		SDPMid:           init.SDPMid,
		SDPMLineIndex:    init.SDPMLineIndex,
		UsernameFragment: init.UsernameFragment,
	}
}

func candidateToInit(c domain.Candidate) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

type remoteTrack struct {
	track *webrtc.TrackRemote
}

func (t remoteTrack) Kind() string { return t.track.Kind().String() }
func (t remoteTrack) ID() string   { return t.track.ID() }
