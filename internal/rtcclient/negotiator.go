package rtcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/webrtc/v4"

	"github.com/richb-hanover/cutie/internal/candidate"
	"github.com/richb-hanover/cutie/internal/signaling"
	"github.com/richb-hanover/cutie/internal/webrtcpeer"
)

// DefaultGatherTimeout bounds the wait for local candidate gathering.
const DefaultGatherTimeout = 15 * time.Second

const maxSignalResponseBytes = 2 << 20

var (
	ErrMissingLocalDescription = errors.New("rtcclient: local description is missing after ice gathering")
	ErrNoSessionID             = errors.New("rtcclient: signaling response has no session id")
	ErrChannelClosed           = errors.New("rtcclient: data channel closed before opening")
)

// SignalingError is returned when the signaling endpoint answers with a
// non-2xx status. Body is the server's plain-text message.
type SignalingError struct {
	StatusCode int
	Body       string
}

func (e *SignalingError) Error() string {
	return fmt.Sprintf("signaling server error (%d): %s", e.StatusCode, e.Body)
}

// Handlers receive data channel events. Any of them may be nil.
type Handlers struct {
	// Label defaults to webrtcpeer.DataChannelLabel.
	Label     string
	OnMessage func(dc DataChannel, msg webrtc.DataChannelMessage)
	OnOpen    func(dc DataChannel)
	OnClose   func(dc DataChannel)
}

type Result struct {
	SessionID   string
	DataChannel DataChannel
}

// Negotiator performs the offer/answer exchange for one session at a time.
// The zero value is usable.
type Negotiator struct {
	HTTPClient    *http.Client
	GatherTimeout time.Duration
	Clock         clock.Clock
	Logger        *slog.Logger
}

func (n *Negotiator) httpClient() *http.Client {
	if n.HTTPClient == nil {
		return http.DefaultClient
	}
	return n.HTTPClient
}

func (n *Negotiator) gatherTimeout() time.Duration {
	if n.GatherTimeout <= 0 {
		return DefaultGatherTimeout
	}
	return n.GatherTimeout
}

func (n *Negotiator) clock() clock.Clock {
	if n.Clock == nil {
		return clock.New()
	}
	return n.Clock
}

func (n *Negotiator) logger() *slog.Logger {
	if n.Logger == nil {
		return slog.Default()
	}
	return n.Logger
}

// Negotiate opens an unordered, non-retransmitting data channel on t, posts
// the offer and gathered candidates to signalURL and applies the answer. It
// returns once the data channel is open. t is not closed on failure.
func (n *Negotiator) Negotiate(ctx context.Context, t Transport, signalURL string, h Handlers) (Result, error) {
	log := n.logger()

	gathered := &candidateSet{}
	t.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		if init.Candidate == "" {
			return
		}
		logCandidate(log, "local", init)
		init, _ = candidate.NormalizeInit(init)
		gathered.add(init)
	})
	defer t.OnICECandidate(func(*webrtc.ICECandidate) {})

	label := h.Label
	if label == "" {
		label = webrtcpeer.DataChannelLabel
	}
	dc, err := t.CreateDataChannel(label, webrtcpeer.UnreliableDataChannelInit())
	if err != nil {
		return Result{}, fmt.Errorf("create data channel: %w", err)
	}

	opened := make(chan struct{})
	closed := make(chan struct{})
	var openOnce, closeOnce sync.Once
	dc.OnOpen(func() {
		openOnce.Do(func() { close(opened) })
		if h.OnOpen != nil {
			h.OnOpen(dc)
		}
	})
	dc.OnClose(func() {
		closeOnce.Do(func() { close(closed) })
		if h.OnClose != nil {
			h.OnClose(dc)
		}
	})
	if h.OnMessage != nil {
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			h.OnMessage(dc, msg)
		})
	}

	sessionID, err := n.exchange(ctx, t, signalURL, gathered)
	if err == nil {
		select {
		case <-opened:
			return Result{SessionID: sessionID, DataChannel: dc}, nil
		case <-closed:
			err = ErrChannelClosed
		case <-ctx.Done():
			err = ctx.Err()
		}
	}

	_ = dc.Close()
	if sessionID != "" {
		n.closeRemote(signalURL, sessionID)
	}
	return Result{}, err
}

// exchange runs the offer/answer round trip and returns the session id.
func (n *Negotiator) exchange(ctx context.Context, t Transport, signalURL string, gathered *candidateSet) (string, error) {
	log := n.logger()

	offer, err := t.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}
	gatherComplete := t.GatheringComplete()
	if err := t.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}

	timer := n.clock().Timer(n.gatherTimeout())
	select {
	case <-gatherComplete:
		timer.Stop()
	case <-timer.C:
		log.Info("ice gathering timed out; sending partial candidates", "timeout", n.gatherTimeout())
	case <-ctx.Done():
		timer.Stop()
		return "", ctx.Err()
	}

	local := t.LocalDescription()
	if local == nil {
		return "", ErrMissingLocalDescription
	}
	sdp, replaced := candidate.NormalizeSDP(local.SDP)
	if replaced > 0 {
		log.Info("normalized local sdp candidates", "count", replaced)
	}

	candidates := n.localCandidates(gathered, sdp)
	logGatheringSummary(log, "local", candidates)

	answer, err := n.post(ctx, signalURL, signaling.OfferRequest{
		Offer:      &signaling.SessionDescription{Type: local.Type.String(), SDP: sdp},
		Candidates: candidates,
	})
	if err != nil {
		return "", err
	}
	if answer.SessionID == "" {
		return "", ErrNoSessionID
	}

	remote, err := answer.Answer.ToPion()
	if err != nil {
		return answer.SessionID, fmt.Errorf("invalid answer: %w", err)
	}
	if err := t.SetRemoteDescription(remote); err != nil {
		return answer.SessionID, fmt.Errorf("set remote description: %w", err)
	}

	for _, c := range answer.Candidates {
		if c.Candidate == "" {
			continue
		}
		c, _ = candidate.NormalizeInit(c)
		logCandidate(log, "remote", c)
		if err := t.AddICECandidate(c); err != nil {
			log.Warn("failed to add server ice candidate", "candidate", c.Candidate, "err", err)
		}
	}
	if err := t.AddICECandidate(webrtc.ICECandidateInit{}); err != nil {
		log.Warn("failed to finalize server ice candidates", "err", err)
	}
	return answer.SessionID, nil
}

// localCandidates returns the candidates seen while gathering, or the ones in
// sdp when none were surfaced individually.
func (n *Negotiator) localCandidates(gathered *candidateSet, sdp string) []webrtc.ICECandidateInit {
	if out := gathered.snapshot(); len(out) > 0 {
		return out
	}

	extracted, _ := candidate.NormalizeAll(candidate.ExtractFromSDP(sdp))
	if len(extracted) > 0 {
		n.logger().Debug("derived candidates from sdp", "count", len(extracted))
	}
	if extracted == nil {
		extracted = []webrtc.ICECandidateInit{}
	}
	return extracted
}

type candidateSet struct {
	mu   sync.Mutex
	list []webrtc.ICECandidateInit
}

func (s *candidateSet) add(c webrtc.ICECandidateInit) {
	s.mu.Lock()
	s.list = append(s.list, c)
	s.mu.Unlock()
}

func (s *candidateSet) snapshot() []webrtc.ICECandidateInit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), s.list...)
}

func (n *Negotiator) post(ctx context.Context, signalURL string, body signaling.OfferRequest) (signaling.AnswerResponse, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return signaling.AnswerResponse{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, signalURL, bytes.NewReader(raw))
	if err != nil {
		return signaling.AnswerResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient().Do(req)
	if err != nil {
		return signaling.AnswerResponse{}, fmt.Errorf("post offer: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSignalResponseBytes))
	if err != nil {
		return signaling.AnswerResponse{}, fmt.Errorf("read signaling response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return signaling.AnswerResponse{}, &SignalingError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(data)),
		}
	}

	var answer signaling.AnswerResponse
	if err := json.Unmarshal(data, &answer); err != nil {
		return signaling.AnswerResponse{}, fmt.Errorf("decode signaling response: %w", err)
	}
	return answer, nil
}

// closeRemote asks the server to drop sessionID. Errors are logged only.
func (n *Negotiator) closeRemote(signalURL, sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := deleteSession(ctx, n.httpClient(), signalURL, sessionID); err != nil {
		n.logger().Debug("close remote session", "session_id", sessionID, "err", err)
	}
}

func deleteSession(ctx context.Context, client *http.Client, signalURL, sessionID string) error {
	target := signalURL + "?id=" + url.QueryEscape(sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, target, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &SignalingError{StatusCode: resp.StatusCode}
	}
	return nil
}

// logCandidate logs non-host candidates at info; host candidates are expected
// and only show up at debug.
func logCandidate(log *slog.Logger, stage string, init webrtc.ICECandidateInit) {
	info, ok := candidate.Describe(init.Candidate)
	if !ok {
		log.Debug("ice candidate", "stage", stage, "raw", init.Candidate)
		return
	}
	level := slog.LevelInfo
	if info.Host() {
		level = slog.LevelDebug
	}
	log.Log(context.Background(), level, "ice candidate",
		"stage", stage,
		"type", info.Kind,
		"address", info.Address,
		"port", info.Port,
		"protocol", info.Protocol,
	)
}

func logGatheringSummary(log *slog.Logger, stage string, candidates []webrtc.ICECandidateInit) {
	counts := map[string]int{}
	for _, c := range candidates {
		info, ok := candidate.Describe(c.Candidate)
		if !ok {
			counts["unknown"]++
			continue
		}
		counts[info.Kind]++
	}
	log.Debug("ice gathering complete", "stage", stage, "candidates", len(candidates), "by_type", counts)
}
