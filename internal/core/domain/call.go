package domain

import "time"

// CallsCollection is the store collection holding one record per call.
const CallsCollection = "calls"

// Candidate subcollection names under a call record. Each has exactly one
// writer (the offerer or the answerer); the opposite side reads it.
const (
	OffererCandidates  = "offererCandidates"
	AnswererCandidates = "answererCandidates"
)

// EndReason records which path terminated a call.
type EndReason string

const (
	EndUserHangup       EndReason = "user_hangup"
	EndBrowserClose     EndReason = "browser_close"
	EndConnectionFailed EndReason = "connection_failed"
	EndICEFailed        EndReason = "ice_connection_failed"

	// EndedByOther is local-only: it names the trigger when the store shows
	// a session ended by the remote party. It is never written to a record,
	// since the record is already marked ended by whoever got there first.
	EndedByOther EndReason = "call_ended_by_other"
)

// Role of the local client within a call.
type Role string

const (
	RoleNone      Role = "none"
	RoleInitiator Role = "initiator"
	RoleJoiner    Role = "joiner"
)

// Phase of the local call session state machine.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseStarting    Phase = "starting"
	PhaseNegotiating Phase = "negotiating"
	PhaseActive      Phase = "active"
	PhaseDegraded    Phase = "degraded"
	PhaseEnding      Phase = "ending"
)

// CallRecord is the persisted negotiation and termination state of one
// call. The offer is written once by the initiator, the answer once by the
// joiner, and the ended fields move false→true exactly once.
type CallRecord struct {
	Offer              SessionDescription `json:"offer"`
	Answer             SessionDescription `json:"answer"`
	Ended              bool               `json:"ended"`
	EndedAt            time.Time          `json:"endedAt"`
	EndedBy            EndReason          `json:"endedBy"`
	EndedByCurrentUser bool               `json:"endedByCurrentUser"`
}

// RemoteHangup reports whether the record shows the other party left with
// an explicit hangup, as opposed to the session ending outright. When fresh
// the remaining party keeps broadcasting for a future joiner.
func (r CallRecord) RemoteHangup() bool {
	return r.Ended && r.EndedBy == EndUserHangup
}
