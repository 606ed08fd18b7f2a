package domain

type SignalType string

const (
	SignalOffer  SignalType = "offer"
	SignalAnswer SignalType = "answer"
)

// SessionDescription is one half of the offer/answer negotiation: the offer
// proposes media and transport parameters, the answer accepts them.
type SessionDescription struct {
	Type SignalType `json:"type"`
	SDP  string     `json:"sdp"`
}

func (d SessionDescription) Empty() bool {
	return d.SDP == ""
}

// Candidate is one discovered network path a peer can potentially be
// reached at, relayed out-of-band through the signaling store.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}
