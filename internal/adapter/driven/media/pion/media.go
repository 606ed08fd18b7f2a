package pion

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/ibrkljacic/webrtc-video-call-app/internal/core/domain"
	"github.com/ibrkljacic/webrtc-video-call-app/internal/core/port"
)

// Compile-time interface checks.
var (
	_ port.MediaSource = (*Source)(nil)
	_ port.LocalTrack  = (*LocalTrack)(nil)
)

const audioFrameInterval = 20 * time.Millisecond

// opusSilence is a single Opus DTX frame; writing it keeps the audio
// transport alive when no capture hardware feeds the track.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// Source produces the local sample tracks for a session: one Opus audio
// track and one VP8 video track. The audio track is kept alive with
// silence frames; a capture pipeline feeding real frames plugs in through
// LocalTrack.WriteSample.
type Source struct{}

func NewSource() *Source {
	return &Source{}
}

func (s *Source) Acquire(_ context.Context) ([]port.LocalTrack, error) {
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", "call-mic",
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMediaAcquisition, err)
	}
	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video", "call-cam",
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMediaAcquisition, err)
	}

	audioTrack := newLocalTrack("audio", audio)
	go audioTrack.pumpSilence()

	return []port.LocalTrack{audioTrack, newLocalTrack("video", video)}, nil
}

// LocalTrack is one locally sourced media track.
type LocalTrack struct {
	kind  string
	track *webrtc.TrackLocalStaticSample
	stop  chan struct{}
	once  sync.Once
}

func newLocalTrack(kind string, track *webrtc.TrackLocalStaticSample) *LocalTrack {
	return &LocalTrack{kind: kind, track: track, stop: make(chan struct{})}
}

func (t *LocalTrack) Kind() string { return t.kind }
func (t *LocalTrack) ID() string   { return t.track.ID() }

// Stop ends the silence pump, if any. Idempotent.
func (t *LocalTrack) Stop() {
	t.once.Do(func() { close(t.stop) })
}

// WriteSample feeds one encoded media sample into the track.
func (t *LocalTrack) WriteSample(data []byte, duration time.Duration) error {
	return t.track.WriteSample(media.Sample{Data: data, Duration: duration})
}

func (t *LocalTrack) pumpSilence() {
	ticker := time.NewTicker(audioFrameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			// WriteSample errors until the track is bound to a sending
			// transceiver; ignore and keep the cadence.
			_ = t.track.WriteSample(media.Sample{Data: opusSilence, Duration: audioFrameInterval})
		}
	}
}
