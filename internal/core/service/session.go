package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ibrkljacic/webrtc-video-call-app/internal/core/domain"
	"github.com/ibrkljacic/webrtc-video-call-app/internal/core/port"
)

const (
	// DefaultDepartureWindow bounds how old a remote hangup may be and
	// still count as "the other party just left". Older ended flags are
	// leftovers from an unrelated earlier session and are ignored.
	DefaultDepartureWindow = 2 * time.Second

	DefaultHealthInterval = 10 * time.Second
)

// errSetupCancelled reports that a setup attempt lost a race with a
// concurrent teardown and backed out without installing anything.
var errSetupCancelled = errors.New("session stopped during setup")

// Notifier surfaces user-visible session events to the embedding UI.
// Callbacks run on session goroutines and must not block.
type Notifier interface {
	// RemoteDeparted fires at most once per session when the other party
	// hangs up while the session stays open.
	RemoteDeparted()
	// SessionEnded fires after every teardown, once the session is back
	// to idle.
	SessionEnded(reason domain.EndReason)
}

type Config struct {
	Store    port.SignalingStore
	NewLink  port.PeerLinkFactory
	Media    port.MediaSource
	Sink     port.MediaSink
	Notifier Notifier

	// Collection defaults to domain.CallsCollection.
	Collection      string
	DepartureWindow time.Duration
	HealthInterval  time.Duration
}

// CallSession is the state machine that turns two independent media
// endpoints into a connected peer link. It owns one PeerLink at a time,
// drives the offer/answer exchange through the signaling store, and funnels
// every termination trigger into a single guarded teardown.
//
// All state lives behind one mutex. Every handler re-checks the phase and
// guard flags after any blocking call before mutating further; duplicate
// and re-ordered store notifications are absorbed by the latches rather
// than by sequencing. Setup attempts carry an epoch stamp that terminate
// bumps, so an attempt suspended in a blocking call backs out instead of
// resuming into an already-torn-down session.
type CallSession struct {
	store    port.SignalingStore
	newLink  port.PeerLinkFactory
	media    port.MediaSource
	sink     port.MediaSink
	notifier Notifier
	janitor  *ResourceJanitor
	health   *HealthMonitor

	collection      string
	departureWindow time.Duration

	mu        sync.Mutex
	sessionID domain.CallID
	role      domain.Role
	phase     domain.Phase
	link      port.PeerLink
	linkGen   uint64
	epoch     uint64 // stamps setup attempts; bumped by terminate
	tracks    []port.LocalTrack
	subs      []port.Unsubscribe
	ending    bool // at most one teardown per session
	departed  bool // one-time remote-departure latch
}

func NewCallSession(cfg Config) *CallSession {
	if cfg.Collection == "" {
		cfg.Collection = domain.CallsCollection
	}
	if cfg.DepartureWindow <= 0 {
		cfg.DepartureWindow = DefaultDepartureWindow
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = DefaultHealthInterval
	}
	if cfg.Sink == nil {
		cfg.Sink = nopSink{}
	}
	if cfg.Notifier == nil {
		cfg.Notifier = nopNotifier{}
	}

	s := &CallSession{
		store:           cfg.Store,
		newLink:         cfg.NewLink,
		media:           cfg.Media,
		sink:            cfg.Sink,
		notifier:        cfg.Notifier,
		collection:      cfg.Collection,
		departureWindow: cfg.DepartureWindow,
		role:            domain.RoleNone,
		phase:           domain.PhaseIdle,
	}
	s.janitor = NewResourceJanitor(cfg.Store, cfg.Sink, cfg.Collection)
	s.health = NewHealthMonitor(s, cfg.HealthInterval)
	return s
}

func (s *CallSession) Phase() domain.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *CallSession) Role() domain.Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// SessionID returns the active call id, or "" when idle.
func (s *CallSession) SessionID() domain.CallID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// StartHosting acquires local media, creates a fresh call record with an
// offer, and waits (via subscriptions) for a joiner's answer. The returned
// id is the shareable session handle.
func (s *CallSession) StartHosting(ctx context.Context) (domain.CallID, error) {
	s.mu.Lock()
	if s.phase != domain.PhaseIdle {
		phase := s.phase
		s.mu.Unlock()
		return "", fmt.Errorf("cannot start hosting while %s", phase)
	}
	s.phase = domain.PhaseStarting
	s.role = domain.RoleInitiator
	s.epoch++
	epoch := s.epoch
	s.mu.Unlock()

	id, err := s.setUpHosting(ctx, epoch)
	if err != nil {
		s.terminate(ctx, domain.EndConnectionFailed)
		return "", err
	}
	return id, nil
}

func (s *CallSession) setUpHosting(ctx context.Context, epoch uint64) (domain.CallID, error) {
	link, err := s.acquireMediaAndLink(ctx, epoch)
	if err != nil {
		return "", err
	}

	rawID, err := s.store.CreateRecord(ctx, s.collection)
	if err != nil {
		return "", fmt.Errorf("creating call record: %w", err)
	}
	id := domain.CallID(rawID)
	s.mu.Lock()
	if s.ending || epoch != s.epoch {
		s.mu.Unlock()
		return "", errSetupCancelled
	}
	s.sessionID = id
	s.mu.Unlock()

	offer, err := link.CreateOffer(ctx)
	if err != nil {
		return "", err
	}
	if err := s.store.WriteRecord(ctx, s.collection, rawID, domain.OfferFields(offer)); err != nil {
		return "", fmt.Errorf("writing offer: %w", err)
	}

	s.mu.Lock()
	if s.ending || epoch != s.epoch {
		s.mu.Unlock()
		return "", errSetupCancelled
	}
	s.phase = domain.PhaseNegotiating
	s.mu.Unlock()

	if err := s.subscribe(ctx, rawID, domain.AnswererCandidates, epoch); err != nil {
		return "", err
	}

	s.health.Start()
	log.Info().Str("call_id", rawID).Msg("Hosting call, waiting for answer")
	return id, nil
}

// Join connects to an existing call by its shareable id. Joining a call
// this client itself created is a usage error, not a protocol condition.
func (s *CallSession) Join(ctx context.Context, id domain.CallID) error {
	s.mu.Lock()
	if s.sessionID != "" && s.sessionID == id {
		s.mu.Unlock()
		return domain.ErrSelfJoin
	}
	if s.phase != domain.PhaseIdle {
		phase := s.phase
		s.mu.Unlock()
		return fmt.Errorf("cannot join while %s", phase)
	}
	s.phase = domain.PhaseStarting
	s.role = domain.RoleJoiner
	s.epoch++
	epoch := s.epoch
	s.mu.Unlock()

	// Validate the record before allocating media or a link.
	offer, err := s.validateJoin(ctx, id)
	if err != nil {
		s.mu.Lock()
		s.phase = domain.PhaseIdle
		s.role = domain.RoleNone
		s.mu.Unlock()
		return err
	}

	if err := s.setUpJoin(ctx, id, offer, epoch); err != nil {
		s.terminate(ctx, domain.EndConnectionFailed)
		return err
	}
	return nil
}

func (s *CallSession) validateJoin(ctx context.Context, id domain.CallID) (domain.SessionDescription, error) {
	fields, err := s.store.ReadRecord(ctx, s.collection, id.String())
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.SessionDescription{}, domain.ErrSessionNotFound
		}
		return domain.SessionDescription{}, fmt.Errorf("reading call record: %w", err)
	}
	rec, err := domain.CallRecordFromFields(fields)
	if err != nil {
		return domain.SessionDescription{}, err
	}
	if rec.Offer.Empty() {
		return domain.SessionDescription{}, domain.ErrSessionNotFound
	}
	if rec.Ended {
		return domain.SessionDescription{}, domain.ErrSessionEnded
	}
	return rec.Offer, nil
}

func (s *CallSession) setUpJoin(ctx context.Context, id domain.CallID, offer domain.SessionDescription, epoch uint64) error {
	s.mu.Lock()
	if s.ending || epoch != s.epoch {
		s.mu.Unlock()
		return errSetupCancelled
	}
	s.sessionID = id
	s.mu.Unlock()

	link, err := s.acquireMediaAndLink(ctx, epoch)
	if err != nil {
		return err
	}

	if err := link.SetRemoteDescription(offer); err != nil {
		return err
	}
	answer, err := link.CreateAnswer(ctx)
	if err != nil {
		return err
	}
	if err := s.store.WriteRecord(ctx, s.collection, id.String(), domain.AnswerFields(answer)); err != nil {
		return fmt.Errorf("writing answer: %w", err)
	}

	if err := s.subscribe(ctx, id.String(), domain.OffererCandidates, epoch); err != nil {
		return err
	}

	s.mu.Lock()
	if s.ending || epoch != s.epoch {
		s.mu.Unlock()
		return errSetupCancelled
	}
	s.phase = domain.PhaseActive
	s.mu.Unlock()

	s.health.Start()
	log.Info().Str("call_id", id.String()).Msg("Joined call")
	return nil
}

// acquireMediaAndLink allocates the local tracks and a fresh peer link,
// installing both on the session. Shared by the hosting and joining paths.
func (s *CallSession) acquireMediaAndLink(ctx context.Context, epoch uint64) (port.PeerLink, error) {
	tracks, err := s.media.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMediaAcquisition, err)
	}
	s.mu.Lock()
	if s.ending || epoch != s.epoch {
		s.mu.Unlock()
		// Teardown already ran and never saw these tracks.
		for _, track := range tracks {
			track.Stop()
		}
		return nil, errSetupCancelled
	}
	s.tracks = tracks
	s.mu.Unlock()
	s.sink.AttachLocal(tracks)

	link, err := s.newPeerLink()
	if err != nil {
		return nil, fmt.Errorf("creating peer link: %w", err)
	}
	if err := link.AttachLocalTracks(tracks); err != nil {
		link.Close()
		return nil, err
	}

	s.mu.Lock()
	if s.ending || epoch != s.epoch {
		s.mu.Unlock()
		link.Close()
		return nil, errSetupCancelled
	}
	s.link = link
	s.mu.Unlock()
	return link, nil
}

// newPeerLink allocates a link whose callbacks are tagged with a generation
// counter, so events from a closed, replaced link are ignored.
func (s *CallSession) newPeerLink() (port.PeerLink, error) {
	s.mu.Lock()
	s.linkGen++
	gen := s.linkGen
	s.mu.Unlock()

	return s.newLink(port.PeerCallbacks{
		LocalCandidate:  func(c domain.Candidate) { s.handleLocalCandidate(gen, c) },
		ConnectionState: func(st port.ConnState) { s.handleConnectionState(gen, st) },
		ICEFailed:       func() { s.handleICEFailed(gen) },
		RemoteTrack:     func(t port.RemoteTrack) { s.handleRemoteTrack(gen, t) },
	})
}

func (s *CallSession) subscribe(ctx context.Context, rawID, candidateSub string, epoch uint64) error {
	recUnsub, err := s.store.SubscribeRecord(ctx, s.collection, rawID, s.handleRecordSnapshot)
	if err != nil {
		return fmt.Errorf("subscribing to call record: %w", err)
	}
	if err := s.addSubscription(epoch, recUnsub); err != nil {
		return err
	}

	candUnsub, err := s.store.SubscribeChildren(ctx, s.collection, rawID, candidateSub, s.handleRemoteCandidate)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", candidateSub, err)
	}
	return s.addSubscription(epoch, candUnsub)
}

func (s *CallSession) addSubscription(epoch uint64, unsub port.Unsubscribe) error {
	s.mu.Lock()
	if s.ending || epoch != s.epoch {
		s.mu.Unlock()
		unsub()
		return errSetupCancelled
	}
	s.subs = append(s.subs, unsub)
	s.mu.Unlock()
	return nil
}

// Stop ends the session at the local user's request. Safe in any phase;
// a second call on an idle session is a no-op.
func (s *CallSession) Stop(ctx context.Context) {
	s.terminate(ctx, domain.EndUserHangup)
}

// Shutdown is the process-teardown path. Best-effort: cleanup failures are
// logged, never propagated, since no further scheduling is guaranteed.
func (s *CallSession) Shutdown(ctx context.Context) {
	s.terminate(ctx, domain.EndBrowserClose)
}

// terminate funnels every termination trigger into one guarded teardown.
// The ending flag admits at most one pass per session; whichever trigger
// wins the race is authoritative and the others are no-ops.
func (s *CallSession) terminate(ctx context.Context, reason domain.EndReason) {
	s.mu.Lock()
	if s.ending || s.phase == domain.PhaseIdle {
		s.mu.Unlock()
		return
	}
	s.ending = true
	s.epoch++
	// A teardown racing a setup still in Starting surfaces as the setup
	// call's error return, not as a session-ended event.
	notify := s.phase != domain.PhaseStarting
	s.phase = domain.PhaseEnding
	t := teardown{
		link:   s.link,
		tracks: s.tracks,
		subs:   s.subs,
		callID: s.sessionID,
		reason: reason,
	}
	s.link = nil
	s.tracks = nil
	s.subs = nil
	s.mu.Unlock()

	log.Info().Str("reason", string(reason)).Str("call_id", t.callID.String()).Msg("Ending call session")
	s.health.Stop()
	s.janitor.Release(ctx, t)

	s.mu.Lock()
	s.sessionID = ""
	s.role = domain.RoleNone
	s.phase = domain.PhaseIdle
	s.departed = false
	s.ending = false
	s.mu.Unlock()

	if notify {
		s.notifier.SessionEnded(reason)
	}
}

// healthTick runs on the monitor's interval while the session is live. It
// catches remote terminations whose change notification was missed or
// delayed: if the link looks unhealthy, the store is consulted directly.
func (s *CallSession) healthTick(ctx context.Context) {
	s.mu.Lock()
	phase, link := s.phase, s.link
	s.mu.Unlock()

	if phase != domain.PhaseActive && phase != domain.PhaseDegraded {
		return
	}
	if link == nil {
		return
	}
	state := link.ConnectionState()
	if state != port.ConnDisconnected && state != port.ConnClosed {
		return
	}
	log.Debug().Str("conn_state", string(state)).Msg("Health check found degraded link, consulting store")
	s.consultStore(ctx)
}

// consultStore performs one authoritative read of the call record and
// reconciles local state with it. Shared by the health monitor and the
// link's disconnected/closed callbacks, so both paths act through the same
// idempotent transitions as the subscription path.
func (s *CallSession) consultStore(ctx context.Context) {
	s.mu.Lock()
	id := s.sessionID
	s.mu.Unlock()
	if id == "" {
		return
	}

	fields, err := s.store.ReadRecord(ctx, s.collection, id.String())
	if err != nil {
		log.Warn().Err(err).Msg("Reading call record during health check")
		return
	}
	rec, err := domain.CallRecordFromFields(fields)
	if err != nil {
		log.Warn().Err(err).Msg("Decoding call record during health check")
		return
	}

	switch {
	case !rec.Ended:
		// Connection merely blipped; the link's own failed event escalates
		// if the condition persists.
	case rec.RemoteHangup():
		s.markRemoteDeparted(rec, false)
	default:
		s.terminate(ctx, domain.EndedByOther)
	}
}

// handleRecordSnapshot reacts to change notifications on the call record:
// the first observed answer (initiator only) and remote termination.
func (s *CallSession) handleRecordSnapshot(snap port.RecordSnapshot) {
	rec, err := domain.CallRecordFromFields(snap.Fields)
	if err != nil {
		log.Warn().Err(err).Msg("Ignoring malformed record snapshot")
		return
	}

	s.mu.Lock()
	role, phase, link := s.role, s.phase, s.link
	s.mu.Unlock()

	// First-answer-wins, enforced here since the store has no uniqueness
	// constraint. Notifications after the first applied answer are ignored.
	if role == domain.RoleInitiator && phase == domain.PhaseNegotiating &&
		!rec.Answer.Empty() && link != nil && !link.HasRemoteDescription() {
		if err := link.SetRemoteDescription(rec.Answer); err != nil {
			log.Error().Err(err).Msg("Applying remote answer")
		} else {
			s.mu.Lock()
			if s.phase == domain.PhaseNegotiating && !s.ending {
				s.phase = domain.PhaseActive
				log.Info().Msg("Remote answer applied, call active")
			}
			s.mu.Unlock()
		}
	}

	if rec.RemoteHangup() {
		s.markRemoteDeparted(rec, true)
	}
}

// markRemoteDeparted handles "the other party hung up but the session slot
// stays open": detach the remote display, fire the one-time indicator, and
// reset the link so the remaining party keeps broadcasting for a future
// joiner. requireFresh applies the departure window on the
// subscription-driven path; the authoritative-read path already knows the
// record is current.
func (s *CallSession) markRemoteDeparted(rec domain.CallRecord, requireFresh bool) {
	if requireFresh {
		if rec.EndedAt.IsZero() || time.Since(rec.EndedAt) > s.departureWindow {
			return
		}
	}

	s.mu.Lock()
	if s.ending || s.departed || (s.phase != domain.PhaseActive && s.phase != domain.PhaseDegraded) {
		s.mu.Unlock()
		return
	}
	s.departed = true
	s.phase = domain.PhaseDegraded
	epoch := s.epoch
	oldLink := s.link
	s.link = nil
	tracks := s.tracks
	s.mu.Unlock()

	log.Info().Msg("Remote party left the call, keeping session open")
	s.sink.DetachRemote()
	s.notifier.RemoteDeparted()

	if oldLink != nil {
		if err := oldLink.Close(); err != nil {
			log.Warn().Err(err).Msg("Closing stale peer link")
		}
	}

	link, err := s.newPeerLink()
	if err != nil {
		log.Error().Err(err).Msg("Recreating peer link after remote departure")
		return
	}
	if err := link.AttachLocalTracks(tracks); err != nil {
		log.Error().Err(err).Msg("Reattaching local tracks after remote departure")
	}

	s.mu.Lock()
	if s.ending || epoch != s.epoch {
		s.mu.Unlock()
		link.Close()
		return
	}
	s.link = link
	s.mu.Unlock()
}

func (s *CallSession) handleRemoteCandidate(ev port.ChildEvent) {
	c, err := domain.CandidateFromFields(ev.Fields)
	if err != nil {
		log.Warn().Err(err).Msg("Ignoring malformed candidate")
		return
	}

	s.mu.Lock()
	link, ending := s.link, s.ending
	s.mu.Unlock()
	if ending || link == nil {
		return
	}
	if err := link.AddRemoteCandidate(c); err != nil {
		log.Warn().Err(err).Msg("Adding remote candidate")
	}
}

func (s *CallSession) handleLocalCandidate(gen uint64, c domain.Candidate) {
	s.mu.Lock()
	if gen != s.linkGen || s.ending || s.sessionID == "" {
		s.mu.Unlock()
		return
	}
	id := s.sessionID
	sub := domain.OffererCandidates
	if s.role == domain.RoleJoiner {
		sub = domain.AnswererCandidates
	}
	s.mu.Unlock()

	fields, err := domain.CandidateFields(c)
	if err != nil {
		log.Warn().Err(err).Msg("Encoding local candidate")
		return
	}
	if _, err := s.store.AppendChild(context.Background(), s.collection, id.String(), sub, fields); err != nil {
		log.Warn().Err(err).Str("subcollection", sub).Msg("Publishing local candidate")
	}
}

func (s *CallSession) handleConnectionState(gen uint64, state port.ConnState) {
	s.mu.Lock()
	stale := gen != s.linkGen
	phase := s.phase
	s.mu.Unlock()
	if stale {
		return
	}
	log.Debug().Str("state", string(state)).Msg("Peer connection state changed")

	switch state {
	case port.ConnFailed:
		s.terminate(context.Background(), domain.EndConnectionFailed)
	case port.ConnDisconnected, port.ConnClosed:
		if phase == domain.PhaseActive || phase == domain.PhaseDegraded {
			s.consultStore(context.Background())
		}
	}
}

func (s *CallSession) handleICEFailed(gen uint64) {
	s.mu.Lock()
	stale := gen != s.linkGen
	s.mu.Unlock()
	if stale {
		return
	}
	s.terminate(context.Background(), domain.EndICEFailed)
}

func (s *CallSession) handleRemoteTrack(gen uint64, track port.RemoteTrack) {
	s.mu.Lock()
	stale := gen != s.linkGen || s.ending
	s.mu.Unlock()
	if stale {
		return
	}
	log.Debug().Str("kind", track.Kind()).Msg("Remote track received")
	s.sink.AttachRemote(track)
}

type nopSink struct{}

func (nopSink) AttachLocal([]port.LocalTrack) {}
func (nopSink) AttachRemote(port.RemoteTrack) {}
func (nopSink) DetachRemote()                 {}
func (nopSink) DetachAll()                    {}

type nopNotifier struct{}

func (nopNotifier) RemoteDeparted()               {}
func (nopNotifier) SessionEnded(domain.EndReason) {}
