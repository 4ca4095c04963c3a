package rtcclient

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/webrtc/v4"

	"github.com/richb-hanover/cutie/internal/webrtcpeer"
)

const mdnsOffer = "v=0\r\n" +
	"o=- 1 2 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"m=application 9 UDP/DTLS/SCTP webrtc-datachannel\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=mid:0\r\n" +
	"a=candidate:1 1 udp 2122260223 abc.local 54321 typ host\r\n" +
	"a=candidate:2 1 udp 1686052607 203.0.113.7 54321 typ srflx raddr 0.0.0.0 rport 0\r\n" +
	"a=end-of-candidates\r\n"

func hostCandidate(addr string, port uint16) *webrtc.ICECandidate {
	return &webrtc.ICECandidate{
		Foundation: "1",
		Priority:   2130706431,
		Address:    addr,
		Protocol:   webrtc.ICEProtocolUDP,
		Port:       port,
		Typ:        webrtc.ICECandidateTypeHost,
		Component:  1,
	}
}

func newNegotiator() *Negotiator {
	return &Negotiator{Logger: discardLogger()}
}

func TestNegotiate_SendsGatheredCandidatesAndAppliesAnswer(t *testing.T) {
	sig := newFakeSignal(t)
	tr := &fakeTransport{
		sdp:    mdnsOffer,
		gather: []*webrtc.ICECandidate{hostCandidate("192.0.2.10", 5000)},
	}

	opened := make(chan DataChannel, 1)
	res, err := newNegotiator().Negotiate(context.Background(), tr, sig.url(), Handlers{
		OnOpen: func(dc DataChannel) { opened <- dc },
	})
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	if res.SessionID != "session-1" {
		t.Fatalf("SessionID=%q, want session-1", res.SessionID)
	}
	if got := res.DataChannel.ReadyState(); got != webrtc.DataChannelStateOpen {
		t.Fatalf("ReadyState=%s, want open", got)
	}
	select {
	case dc := <-opened:
		if dc.Label() != webrtcpeer.DataChannelLabel {
			t.Fatalf("label=%q, want %q", dc.Label(), webrtcpeer.DataChannelLabel)
		}
	default:
		t.Fatalf("OnOpen was not called")
	}

	if tr.dcInit == nil || tr.dcInit.Ordered == nil || *tr.dcInit.Ordered {
		t.Fatalf("data channel must be unordered, init=%+v", tr.dcInit)
	}
	if tr.dcInit.MaxRetransmits == nil || *tr.dcInit.MaxRetransmits != 0 {
		t.Fatalf("data channel must not retransmit, init=%+v", tr.dcInit)
	}

	req := sig.offer(0)
	if req.Offer == nil || req.Offer.Type != "offer" {
		t.Fatalf("offer=%+v, want type offer", req.Offer)
	}
	if strings.Contains(req.Offer.SDP, "abc.local") {
		t.Fatalf("posted sdp still has an mdns host:\n%s", req.Offer.SDP)
	}
	if len(req.Candidates) != 1 || !strings.Contains(req.Candidates[0].Candidate, "192.0.2.10") {
		t.Fatalf("candidates=%+v, want the gathered host candidate", req.Candidates)
	}

	added := tr.addedCandidates()
	if len(added) != 3 {
		t.Fatalf("added %d candidates, want 2 plus end-of-candidates", len(added))
	}
	if !strings.Contains(added[0].Candidate, " 127.0.0.1 54321 ") {
		t.Fatalf("server mdns candidate not normalized: %q", added[0].Candidate)
	}
	if added[2].Candidate != "" {
		t.Fatalf("last candidate=%q, want end-of-candidates", added[2].Candidate)
	}

	if got := tr.handlerCount(); got != 2 {
		t.Fatalf("OnICECandidate set %d times, want subscribe and unsubscribe", got)
	}
}

func TestNegotiate_FallsBackToSDPCandidates(t *testing.T) {
	sig := newFakeSignal(t)
	tr := &fakeTransport{sdp: mdnsOffer}

	if _, err := newNegotiator().Negotiate(context.Background(), tr, sig.url(), Handlers{}); err != nil {
		t.Fatalf("Negotiate: %v", err)
	}

	req := sig.offer(0)
	if len(req.Candidates) != 2 {
		t.Fatalf("candidates=%+v, want the two from the sdp", req.Candidates)
	}
	if req.Candidates[0].Candidate != "candidate:1 1 udp 2122260223 127.0.0.1 54321 typ host" {
		t.Fatalf("candidate[0]=%q", req.Candidates[0].Candidate)
	}
	if !strings.Contains(req.Candidates[1].Candidate, "203.0.113.7") {
		t.Fatalf("candidate[1]=%q", req.Candidates[1].Candidate)
	}
}

func TestNegotiate_EmptyCandidateListIsSent(t *testing.T) {
	sig := newFakeSignal(t)
	tr := &fakeTransport{sdp: "v=0\r\n"}

	if _, err := newNegotiator().Negotiate(context.Background(), tr, sig.url(), Handlers{}); err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	req := sig.offer(0)
	if req.Candidates == nil || len(req.Candidates) != 0 {
		t.Fatalf("candidates=%#v, want an empty list", req.Candidates)
	}
}

func TestNegotiate_SignalingErrorIsFatal(t *testing.T) {
	sig := newFakeSignal(t)
	sig.status = http.StatusBadRequest
	sig.body = "Expected JSON body with valid WebRTC offer"
	tr := &fakeTransport{sdp: mdnsOffer}

	_, err := newNegotiator().Negotiate(context.Background(), tr, sig.url(), Handlers{})
	var serr *SignalingError
	if !errors.As(err, &serr) {
		t.Fatalf("err=%v, want *SignalingError", err)
	}
	if serr.StatusCode != http.StatusBadRequest || serr.Body != sig.body {
		t.Fatalf("err=%+v", serr)
	}
	if got := err.Error(); got != "signaling server error (400): Expected JSON body with valid WebRTC offer" {
		t.Fatalf("Error()=%q", got)
	}
	if tr.remote != nil {
		t.Fatalf("remote description applied after a failed exchange")
	}
	if got := tr.channel().ReadyState(); got != webrtc.DataChannelStateClosed {
		t.Fatalf("data channel state=%s, want closed", got)
	}
	if got := tr.handlerCount(); got != 2 {
		t.Fatalf("OnICECandidate set %d times, want subscribe and unsubscribe", got)
	}
	if got := sig.deleted(); len(got) != 0 {
		t.Fatalf("deletes=%v, want none without a session id", got)
	}
}

func TestNegotiate_RemoteCandidateFailuresAreNotFatal(t *testing.T) {
	sig := newFakeSignal(t)
	tr := &fakeTransport{sdp: mdnsOffer, addErr: errors.New("bad candidate")}

	res, err := newNegotiator().Negotiate(context.Background(), tr, sig.url(), Handlers{})
	if err != nil {
		t.Fatalf("Negotiate: %v", err)
	}
	if res.SessionID != "session-1" {
		t.Fatalf("SessionID=%q", res.SessionID)
	}
	added := tr.addedCandidates()
	if len(added) != 3 || added[2].Candidate != "" {
		t.Fatalf("added=%+v, want every candidate tried then end-of-candidates", added)
	}
}

func TestNegotiate_MissingSessionID(t *testing.T) {
	sig := newFakeSignal(t)
	sig.answer.SessionID = ""
	tr := &fakeTransport{sdp: mdnsOffer}

	_, err := newNegotiator().Negotiate(context.Background(), tr, sig.url(), Handlers{})
	if !errors.Is(err, ErrNoSessionID) {
		t.Fatalf("err=%v, want ErrNoSessionID", err)
	}
}

func TestNegotiate_MissingLocalDescription(t *testing.T) {
	sig := newFakeSignal(t)
	tr := &fakeTransport{sdp: mdnsOffer, noLocal: true}

	_, err := newNegotiator().Negotiate(context.Background(), tr, sig.url(), Handlers{})
	if !errors.Is(err, ErrMissingLocalDescription) {
		t.Fatalf("err=%v, want ErrMissingLocalDescription", err)
	}
	if sig.offerCount() != 0 {
		t.Fatalf("offer posted without a local description")
	}
}

func TestNegotiate_ChannelClosedBeforeOpenDropsSession(t *testing.T) {
	sig := newFakeSignal(t)
	tr := &fakeTransport{sdp: mdnsOffer, stayClosed: true}

	_, err := newNegotiator().Negotiate(context.Background(), tr, sig.url(), Handlers{})
	if !errors.Is(err, ErrChannelClosed) {
		t.Fatalf("err=%v, want ErrChannelClosed", err)
	}
	if got := sig.deleted(); len(got) != 1 || got[0] != "session-1" {
		t.Fatalf("deletes=%v, want [session-1]", got)
	}
}

func TestNegotiate_GatherTimeoutSendsPartialCandidates(t *testing.T) {
	sig := newFakeSignal(t)
	mock := clock.NewMock()
	tr := &fakeTransport{
		sdp:      mdnsOffer,
		gather:   []*webrtc.ICECandidate{hostCandidate("192.0.2.10", 5000)},
		noGather: true,
	}
	n := &Negotiator{Clock: mock, GatherTimeout: 5 * time.Second, Logger: discardLogger()}

	type result struct {
		res Result
		err error
	}
	done := make(chan result, 1)
	go func() {
		res, err := n.Negotiate(context.Background(), tr, sig.url(), Handlers{})
		done <- result{res, err}
	}()

	deadline := time.After(10 * time.Second)
	for {
		select {
		case r := <-done:
			if r.err != nil {
				t.Fatalf("Negotiate: %v", r.err)
			}
			if got := sig.offer(0).Candidates; len(got) != 1 {
				t.Fatalf("candidates=%+v, want the one gathered before the timeout", got)
			}
			return
		case <-deadline:
			t.Fatalf("negotiation did not proceed after the gather timeout")
		case <-time.After(10 * time.Millisecond):
			mock.Add(time.Second)
		}
	}
}

func TestNegotiate_ContextCancelledWhileGathering(t *testing.T) {
	sig := newFakeSignal(t)
	tr := &fakeTransport{sdp: mdnsOffer, noGather: true}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := newNegotiator().Negotiate(ctx, tr, sig.url(), Handlers{})
		done <- err
	}()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err=%v, want context.Canceled", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("Negotiate did not return after cancel")
	}
	if sig.offerCount() != 0 {
		t.Fatalf("offer posted after cancel")
	}
}
