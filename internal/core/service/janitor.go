package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ibrkljacic/webrtc-video-call-app/internal/core/domain"
	"github.com/ibrkljacic/webrtc-video-call-app/internal/core/port"
)

const (
	endWriteAttempts = 3
	endWriteBackoff  = 300 * time.Millisecond
)

// ResourceJanitor releases everything a session holds: the peer link,
// local media, the UI sinks, the store subscriptions, and (best-effort)
// the termination mark on the call record. Every step tolerates and logs
// failure independently so reaching idle is never blocked.
type ResourceJanitor struct {
	store      port.SignalingStore
	sink       port.MediaSink
	collection string
}

func NewResourceJanitor(store port.SignalingStore, sink port.MediaSink, collection string) *ResourceJanitor {
	if sink == nil {
		sink = nopSink{}
	}
	return &ResourceJanitor{store: store, sink: sink, collection: collection}
}

// teardown is the resource snapshot the session hands over. The session's
// ending guard ensures only one teardown runs per session, so the janitor
// itself needs no further synchronization.
type teardown struct {
	link   port.PeerLink
	tracks []port.LocalTrack
	subs   []port.Unsubscribe
	callID domain.CallID
	reason domain.EndReason
}

// Release runs the teardown steps in order. Safe to invoke with a partial
// snapshot (e.g. from an aborted setup) and with zero-value fields.
func (j *ResourceJanitor) Release(ctx context.Context, t teardown) {
	if t.link != nil {
		if err := t.link.Close(); err != nil {
			log.Warn().Err(err).Msg("Closing peer link during cleanup")
		}
	}

	for _, track := range t.tracks {
		track.Stop()
	}

	j.sink.DetachAll()

	if t.callID != "" {
		j.markEnded(ctx, t.callID, t.reason)
	}

	for _, unsub := range t.subs {
		if unsub != nil {
			unsub()
		}
	}

	log.Debug().Str("call_id", t.callID.String()).Msg("Session resources released")
}

// markEnded writes the termination fields to the call record unless another
// party already marked it ended; whichever write wins the race is
// authoritative. The write is the one janitor step worth retrying, since a
// lost mark strands the record looking live.
func (j *ResourceJanitor) markEnded(ctx context.Context, id domain.CallID, reason domain.EndReason) {
	if reason == domain.EndedByOther {
		// The record is already ended by the remote party; their reason
		// stands.
		return
	}

	fields, err := j.store.ReadRecord(ctx, j.collection, id.String())
	if err == nil {
		if rec, decodeErr := domain.CallRecordFromFields(fields); decodeErr == nil && rec.Ended {
			return
		}
	} else {
		log.Warn().Err(err).Msg("Reading call record before termination write")
	}

	write := domain.EndFields(reason, time.Now())
	for attempt := 1; attempt <= endWriteAttempts; attempt++ {
		err = j.store.WriteRecord(ctx, j.collection, id.String(), write)
		if err == nil {
			log.Info().Str("call_id", id.String()).Str("reason", string(reason)).Msg("Call marked as ended")
			return
		}
		if errors.Is(err, domain.ErrRecordEnded) {
			// Another party marked it ended between our read and write.
			return
		}
		if attempt < endWriteAttempts {
			time.Sleep(endWriteBackoff)
		}
	}
	log.Error().Err(err).Str("call_id", id.String()).Msg("Giving up on termination write")
}
