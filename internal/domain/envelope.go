package domain

import "encoding/json"

// EnvelopeKind tags a negotiation envelope. The relay routes on the
// destination only and never looks at the kind.
type EnvelopeKind string

const (
	EnvelopeOffer     EnvelopeKind = "offer"
	EnvelopeAnswer    EnvelopeKind = "answer"
	EnvelopeCandidate EnvelopeKind = "candidate"
)

func (k EnvelopeKind) Valid() bool {
	switch k {
	case EnvelopeOffer, EnvelopeAnswer, EnvelopeCandidate:
		return true
	}
	return false
}

// Envelope is an opaque negotiation payload exchanged between two endpoints.
// Renegotiate marks envelopes of a fresh negotiation round on an already
// connected link.
type Envelope struct {
	Kind        EnvelopeKind    `json:"kind"`
	Body        json.RawMessage `json:"body,omitempty"`
	Renegotiate bool            `json:"renegotiate,omitempty"`
}
