package pion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/ibrkljacic/webrtc-video-call-app/internal/core/domain"
	"github.com/ibrkljacic/webrtc-video-call-app/internal/core/port"
)

// newTestLink allocates a link with no ICE servers; negotiation itself
// needs no network.
func newTestLink(t *testing.T) *Link {
	t.Helper()
	factory, err := NewLinkFactory(Config{})
	if err != nil {
		t.Fatalf("NewLinkFactory: %v", err)
	}
	link, err := factory(port.PeerCallbacks{})
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	t.Cleanup(func() { link.Close() })
	return link.(*Link)
}

func acquireTracks(t *testing.T) []port.LocalTrack {
	t.Helper()
	tracks, err := NewSource().Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	t.Cleanup(func() {
		for _, track := range tracks {
			track.Stop()
		}
	})
	return tracks
}

func negotiate(t *testing.T, offerer, answerer *Link) (domain.SessionDescription, domain.SessionDescription) {
	t.Helper()
	ctx := context.Background()

	offer, err := offerer.CreateOffer(ctx)
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if err := answerer.SetRemoteDescription(offer); err != nil {
		t.Fatalf("applying offer: %v", err)
	}
	answer, err := answerer.CreateAnswer(ctx)
	if err != nil {
		t.Fatalf("CreateAnswer: %v", err)
	}
	if err := offerer.SetRemoteDescription(answer); err != nil {
		t.Fatalf("applying answer: %v", err)
	}
	return offer, answer
}

func TestOfferAnswerSequence(t *testing.T) {
	offerer := newTestLink(t)
	answerer := newTestLink(t)
	if err := offerer.AttachLocalTracks(acquireTracks(t)); err != nil {
		t.Fatalf("AttachLocalTracks: %v", err)
	}
	if err := answerer.AttachLocalTracks(acquireTracks(t)); err != nil {
		t.Fatalf("AttachLocalTracks: %v", err)
	}

	offer, answer := negotiate(t, offerer, answerer)

	if offer.Type != domain.SignalOffer || offer.SDP == "" {
		t.Fatalf("offer = {%s, %d bytes}", offer.Type, len(offer.SDP))
	}
	if answer.Type != domain.SignalAnswer || answer.SDP == "" {
		t.Fatalf("answer = {%s, %d bytes}", answer.Type, len(answer.SDP))
	}
	if !offerer.HasRemoteDescription() || !answerer.HasRemoteDescription() {
		t.Fatal("remote descriptions not committed on both sides")
	}
}

func TestAnswerRequiresRemoteOffer(t *testing.T) {
	link := newTestLink(t)
	_, err := link.CreateAnswer(context.Background())
	if !errors.Is(err, domain.ErrNegotiation) {
		t.Fatalf("CreateAnswer with no remote offer = %v, want ErrNegotiation", err)
	}
}

func TestLateAnswerIsIgnored(t *testing.T) {
	offerer := newTestLink(t)
	answerer := newTestLink(t)
	if err := offerer.AttachLocalTracks(acquireTracks(t)); err != nil {
		t.Fatalf("AttachLocalTracks: %v", err)
	}
	negotiate(t, offerer, answerer)

	late := domain.SessionDescription{Type: domain.SignalAnswer, SDP: "not even sdp"}
	if err := offerer.SetRemoteDescription(late); err != nil {
		t.Fatalf("late answer = %v, want silent no-op", err)
	}
}

func TestEarlyCandidatesQueuedUntilRemoteDescription(t *testing.T) {
	offerer := newTestLink(t)
	answerer := newTestLink(t)
	if err := offerer.AttachLocalTracks(acquireTracks(t)); err != nil {
		t.Fatalf("AttachLocalTracks: %v", err)
	}

	index := uint16(0)
	early := domain.Candidate{
		Candidate:     "candidate:1 1 udp 2130706431 127.0.0.1 54321 typ host",
		SDPMLineIndex: &index,
	}
	if err := answerer.AddRemoteCandidate(early); err != nil {
		t.Fatalf("queueing early candidate = %v, want nil", err)
	}
	if len(answerer.pending) != 1 {
		t.Fatalf("pending = %d, want the candidate queued", len(answerer.pending))
	}

	offer, err := offerer.CreateOffer(context.Background())
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	if err := answerer.SetRemoteDescription(offer); err != nil {
		t.Fatalf("applying offer (flushes queue): %v", err)
	}
	if len(answerer.pending) != 0 {
		t.Fatalf("pending = %d after remote description, want flushed", len(answerer.pending))
	}

	// With the remote description in place candidates apply directly.
	direct := domain.Candidate{
		Candidate:     "candidate:2 1 udp 2130706430 127.0.0.1 54322 typ host",
		SDPMLineIndex: &index,
	}
	if err := answerer.AddRemoteCandidate(direct); err != nil {
		t.Fatalf("adding candidate after remote description: %v", err)
	}
	if len(answerer.pending) != 0 {
		t.Fatal("candidate queued despite remote description being set")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	link := newTestLink(t)
	if err := link.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := link.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestConnStateMapping(t *testing.T) {
	cases := []struct {
		in   webrtc.PeerConnectionState
		want port.ConnState
	}{
		{webrtc.PeerConnectionStateNew, port.ConnNew},
		{webrtc.PeerConnectionStateConnecting, port.ConnConnecting},
		{webrtc.PeerConnectionStateConnected, port.ConnConnected},
		{webrtc.PeerConnectionStateDisconnected, port.ConnDisconnected},
		{webrtc.PeerConnectionStateFailed, port.ConnFailed},
		{webrtc.PeerConnectionStateClosed, port.ConnClosed},
	}
	for _, tc := range cases {
		if got := connState(tc.in); got != tc.want {
			t.Errorf("connState(%s) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestSourceProducesAudioAndVideo(t *testing.T) {
	tracks := acquireTracks(t)
	if len(tracks) != 2 {
		t.Fatalf("Acquire returned %d tracks, want 2", len(tracks))
	}
	kinds := map[string]bool{}
	for _, track := range tracks {
		kinds[track.Kind()] = true
	}
	if !kinds["audio"] || !kinds["video"] {
		t.Fatalf("track kinds = %v, want audio and video", kinds)
	}

	// Stop must be safe to call repeatedly; teardown paths do.
	tracks[0].Stop()
	tracks[0].Stop()
}

func TestWriteSampleBeforeBinding(t *testing.T) {
	tracks := acquireTracks(t)
	video := tracks[1].(*LocalTrack)
	if err := video.WriteSample([]byte{0x10}, 33*time.Millisecond); err != nil {
		t.Fatalf("WriteSample on unbound track: %v", err)
	}
}
