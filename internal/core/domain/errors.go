package domain

import "errors"

var (
	// ErrMediaAcquisition: camera or microphone unavailable or denied.
	// Surfaced to the user; the session never starts.
	ErrMediaAcquisition = errors.New("local media unavailable")

	// ErrSessionNotFound: the call id does not resolve to a record with an
	// offer. Join is aborted.
	ErrSessionNotFound = errors.New("call not found or has no offer")

	// ErrSessionEnded: the record was already marked ended at join time.
	ErrSessionEnded = errors.New("call has already ended")

	// ErrSelfJoin: a client attempted to join the call it is hosting.
	ErrSelfJoin = errors.New("cannot join a call created by this client")

	// ErrNegotiation: an offer/answer step was invoked out of sequence.
	// This is a programming error; the current attempt is torn down.
	ErrNegotiation = errors.New("negotiation out of sequence")

	// ErrNotFound: the store has no record under the given id.
	ErrNotFound = errors.New("record not found")

	// ErrOfferImmutable: a write tried to replace an existing offer.
	ErrOfferImmutable = errors.New("offer is already set")

	// ErrRecordEnded: a write tried to modify the ended fields of a record
	// that is already marked ended, or to revert ended to false.
	ErrRecordEnded = errors.New("record is already marked ended")
)
