package signaling

import (
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

var (
	errInvalidSDPType = errors.New("signaling: invalid session description type")
	errMissingSDP     = errors.New("signaling: missing session description sdp")
	errMissingOffer   = errors.New("signaling: missing offer")
)

// SessionDescription is the JSON form of an SDP offer or answer.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

func SessionDescriptionFromPion(desc webrtc.SessionDescription) SessionDescription {
	return SessionDescription{
		Type: desc.Type.String(),
		SDP:  desc.SDP,
	}
}

func (d SessionDescription) ToPion() (webrtc.SessionDescription, error) {
	var t webrtc.SDPType
	switch d.Type {
	case "offer":
		t = webrtc.SDPTypeOffer
	case "answer":
		t = webrtc.SDPTypeAnswer
	default:
		return webrtc.SessionDescription{}, fmt.Errorf("%w: %q", errInvalidSDPType, d.Type)
	}
	if d.SDP == "" {
		return webrtc.SessionDescription{}, errMissingSDP
	}
	return webrtc.SessionDescription{Type: t, SDP: d.SDP}, nil
}

// OfferRequest is the body of POST /signal.
type OfferRequest struct {
	Offer      *SessionDescription       `json:"offer"`
	Candidates []webrtc.ICECandidateInit `json:"candidates"`
}

// AnswerResponse is the 201 body of POST /signal.
type AnswerResponse struct {
	Answer     SessionDescription        `json:"answer"`
	SessionID  string                    `json:"sessionId"`
	Candidates []webrtc.ICECandidateInit `json:"candidates"`
}

// CloseResponse is the 200 body of DELETE /signal.
type CloseResponse struct {
	Closed bool `json:"closed"`
}

func (r OfferRequest) Validate() error {
	if r.Offer == nil {
		return errMissingOffer
	}
	if r.Offer.Type != "offer" {
		return fmt.Errorf("%w: %q", errInvalidSDPType, r.Offer.Type)
	}
	if r.Offer.SDP == "" {
		return errMissingSDP
	}
	return nil
}

func (r AnswerResponse) Validate() error {
	if r.Answer.Type != "answer" {
		return fmt.Errorf("%w: %q", errInvalidSDPType, r.Answer.Type)
	}
	if r.Answer.SDP == "" {
		return errMissingSDP
	}
	return nil
}
