package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/webrtc/v4"

	"github.com/richb-hanover/cutie/internal/candidate"
	"github.com/richb-hanover/cutie/internal/metrics"
	"github.com/richb-hanover/cutie/internal/ratelimit"
	"github.com/richb-hanover/cutie/internal/registry"
	"github.com/richb-hanover/cutie/internal/webrtcpeer"
)

const (
	DefaultICEGatheringTimeout = 2 * time.Second

	maxOfferBodyBytes = 2 << 20
)

// Config wires together the runtime dependencies for the signaling service.
type Config struct {
	// API is the server-side pion API. webrtcpeer.NewAPI applies the
	// configured network settings.
	API        *webrtc.API
	ICEServers []webrtc.ICEServer

	Registry *registry.Registry
	Metrics  *metrics.Metrics

	// Limiter throttles POST /signal. nil disables rate limiting.
	Limiter *ratelimit.Limiter

	Clock  clock.Clock
	Logger *slog.Logger

	// ICEGatheringTimeout bounds the wait for the server's own candidates
	// before the answer is returned.
	ICEGatheringTimeout time.Duration

	// SessionConnectTimeout closes registered sessions that never connect.
	// <= 0 disables it.
	SessionConnectTimeout time.Duration

	// OnChannelOpen and Welcome are handed to every session.
	OnChannelOpen func()
	Welcome       func() webrtcpeer.Welcome
}

// Server implements the HTTP signaling surface.
//
// Endpoints:
//   - POST   /signal      : offer + candidates -> answer + candidates + session id
//   - DELETE /signal?id=  : close a session
type Server struct {
	cfg Config
	log *slog.Logger

	mu      sync.Mutex
	pending map[*webrtcpeer.Session]struct{}
}

func NewServer(cfg Config) *Server {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Registry == nil {
		cfg.Registry = registry.New(registry.Options{Clock: cfg.Clock, Metrics: cfg.Metrics, Logger: cfg.Logger})
	}
	if cfg.ICEGatheringTimeout <= 0 {
		cfg.ICEGatheringTimeout = DefaultICEGatheringTimeout
	}
	return &Server{
		cfg:     cfg,
		log:     cfg.Logger,
		pending: make(map[*webrtcpeer.Session]struct{}),
	}
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /signal", s.handleOffer)
	mux.HandleFunc("DELETE /signal", s.handleClose)
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

func (s *Server) Registry() *registry.Registry {
	return s.cfg.Registry
}

// Close closes every session, including ones still negotiating.
func (s *Server) Close() {
	s.mu.Lock()
	pending := make([]*webrtcpeer.Session, 0, len(s.pending))
	for sess := range s.pending {
		pending = append(pending, sess)
	}
	s.pending = make(map[*webrtcpeer.Session]struct{})
	s.mu.Unlock()

	for _, sess := range pending {
		_ = sess.Close()
	}
	s.cfg.Registry.CloseAll(registry.ReasonShutdown)
}

func (s *Server) track(sess *webrtcpeer.Session) {
	s.mu.Lock()
	s.pending[sess] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(sess *webrtcpeer.Session) {
	s.mu.Lock()
	delete(s.pending, sess)
	s.mu.Unlock()
}

func (s *Server) handleOffer(w http.ResponseWriter, r *http.Request) {
	switch s.cfg.Limiter.Allow(clientKey(r)) {
	case ratelimit.DeniedGlobal, ratelimit.DeniedClient:
		s.cfg.Metrics.Inc(metrics.DropReasonRateLimited)
		http.Error(w, "too many signaling requests", http.StatusTooManyRequests)
		return
	}
	s.cfg.Metrics.Inc(metrics.SignalOffers)

	req, err := decodeOfferRequest(http.MaxBytesReader(w, r.Body, maxOfferBodyBytes))
	if err != nil {
		s.cfg.Metrics.Inc(metrics.SignalOfferErrors)
		s.log.Debug("rejecting offer", "err", err, "remote_addr", r.RemoteAddr)
		http.Error(w, "Expected JSON body with valid WebRTC offer", http.StatusBadRequest)
		return
	}
	offer, err := req.Offer.ToPion()
	if err != nil {
		s.cfg.Metrics.Inc(metrics.SignalOfferErrors)
		http.Error(w, "Expected JSON body with valid WebRTC offer", http.StatusBadRequest)
		return
	}

	resp, status, err := s.answer(r.Context(), offer, req.Candidates)
	if err != nil {
		s.cfg.Metrics.Inc(metrics.SignalOfferErrors)
		s.log.Warn("signaling failed", "err", err, "status", status, "remote_addr", r.RemoteAddr)
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// answer builds the server side of one session. Nothing is registered unless
// an answer is returned.
func (s *Server) answer(ctx context.Context, offer webrtc.SessionDescription, remote []webrtc.ICECandidateInit) (AnswerResponse, int, error) {
	sess, err := webrtcpeer.NewSession(webrtcpeer.SessionConfig{
		API:           s.cfg.API,
		ICEServers:    s.cfg.ICEServers,
		Metrics:       s.cfg.Metrics,
		Logger:        s.log,
		OnChannelOpen: s.cfg.OnChannelOpen,
		Welcome:       s.cfg.Welcome,
	})
	if err != nil {
		return AnswerResponse{}, http.StatusInternalServerError, errors.New("failed to create peer connection")
	}
	s.track(sess)
	defer s.untrack(sess)

	fail := func(status int, msg string) (AnswerResponse, int, error) {
		_ = sess.Close()
		return AnswerResponse{}, status, errors.New(msg)
	}

	pc := sess.PeerConnection()

	var (
		localMu sync.Mutex
		local   []webrtc.ICECandidateInit
	)
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init, _ := candidate.NormalizeInit(c.ToJSON())
		localMu.Lock()
		local = append(local, init)
		localMu.Unlock()
	})
	defer pc.OnICECandidate(func(*webrtc.ICECandidate) {})

	if err := pc.SetRemoteDescription(offer); err != nil {
		s.log.Debug("set remote description", "err", err)
		return fail(http.StatusBadRequest, "failed to set remote description")
	}

	normalized, replaced := candidate.NormalizeAll(remote)
	if replaced > 0 {
		s.log.Debug("normalized client candidates", "count", replaced)
	}
	for _, c := range normalized {
		if err := pc.AddICECandidate(c); err != nil {
			s.cfg.Metrics.Inc(metrics.RemoteCandidateErrors)
			s.log.Warn("failed to add remote ice candidate", "candidate", c.Candidate, "err", err)
		}
	}
	// End of remote candidates.
	if err := pc.AddICECandidate(webrtc.ICECandidateInit{}); err != nil {
		s.log.Warn("failed to finalize remote ice candidates", "err", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return fail(http.StatusInternalServerError, "failed to create answer")
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return fail(http.StatusInternalServerError, "failed to set local description")
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.ICEGatheringTimeout)
	defer cancel()
	select {
	case <-gatherComplete:
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return fail(http.StatusServiceUnavailable, "request cancelled")
		}
		s.log.Debug("ice gathering timed out; answering with partial candidates")
	}

	desc := pc.LocalDescription()
	if desc == nil {
		return fail(http.StatusInternalServerError, "missing local description")
	}
	sdp, _ := candidate.NormalizeSDP(desc.SDP)

	localMu.Lock()
	candidates := append([]webrtc.ICECandidateInit(nil), local...)
	localMu.Unlock()
	if len(candidates) == 0 {
		candidates = candidate.ExtractFromSDP(sdp)
	}
	if candidates == nil {
		candidates = []webrtc.ICECandidateInit{}
	}

	id, err := s.cfg.Registry.Register(sess)
	if err != nil {
		if errors.Is(err, registry.ErrTooManySessions) {
			return fail(http.StatusServiceUnavailable, "too many sessions")
		}
		return fail(http.StatusInternalServerError, "failed to register session")
	}
	sess.SetID(id)
	s.armConnectTimeout(id, sess)

	s.log.Debug("answer ready",
		"session_id", id,
		"local_candidates", len(candidates),
		"ice_connection_state", pc.ICEConnectionState().String(),
		"ice_gathering_state", pc.ICEGatheringState().String(),
	)

	return AnswerResponse{
		Answer:     SessionDescription{Type: "answer", SDP: sdp},
		SessionID:  id,
		Candidates: candidates,
	}, http.StatusCreated, nil
}

func (s *Server) armConnectTimeout(id string, sess *webrtcpeer.Session) {
	if s.cfg.SessionConnectTimeout <= 0 {
		return
	}
	timer := s.cfg.Clock.AfterFunc(s.cfg.SessionConnectTimeout, func() {
		select {
		case <-sess.Connected():
			return
		default:
		}
		if err := s.cfg.Registry.Close(id, registry.ReasonConnectTimeout); err == nil {
			s.cfg.Metrics.Inc(metrics.SessionsConnectTimeout)
			s.log.Info("session never connected", "session_id", id, "timeout", s.cfg.SessionConnectTimeout)
		}
	})
	sess.OnTerminalState(func(string) { timer.Stop() })
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Missing session id", http.StatusBadRequest)
		return
	}
	s.cfg.Metrics.Inc(metrics.SignalDeletes)

	if err := s.cfg.Registry.Close(id, registry.ReasonClientRequest); err != nil {
		if errors.Is(err, registry.ErrSessionNotFound) {
			s.log.Debug("close for unknown session", "session_id", id)
			http.Error(w, "Session not found or already closed", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to close session", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, CloseResponse{Closed: true})
}

func decodeOfferRequest(body io.Reader) (OfferRequest, error) {
	var req OfferRequest
	dec := json.NewDecoder(body)
	if err := dec.Decode(&req); err != nil {
		return OfferRequest{}, err
	}
	if err := expectEOF(dec); err != nil {
		return OfferRequest{}, err
	}
	if err := req.Validate(); err != nil {
		return OfferRequest{}, err
	}
	return req, nil
}

func expectEOF(dec *json.Decoder) error {
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("unexpected trailing data")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// clientKey is the remote IP, used as the per-client rate limit key.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
