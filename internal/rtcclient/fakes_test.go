package rtcclient

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/richb-hanover/cutie/internal/signaling"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeChannel struct {
	label string

	mu        sync.Mutex
	state     webrtc.DataChannelState
	onOpen    func()
	onClose   func()
	onMessage func(webrtc.DataChannelMessage)
	sent      []string
	echo      bool
}

func (c *fakeChannel) Label() string { return c.label }

func (c *fakeChannel) ReadyState() webrtc.DataChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *fakeChannel) OnOpen(f func()) {
	c.mu.Lock()
	c.onOpen = f
	c.mu.Unlock()
}

func (c *fakeChannel) OnClose(f func()) {
	c.mu.Lock()
	c.onClose = f
	c.mu.Unlock()
}

func (c *fakeChannel) OnMessage(f func(webrtc.DataChannelMessage)) {
	c.mu.Lock()
	c.onMessage = f
	c.mu.Unlock()
}

func (c *fakeChannel) SendText(s string) error {
	c.mu.Lock()
	if c.state != webrtc.DataChannelStateOpen {
		c.mu.Unlock()
		return errors.New("channel not open")
	}
	c.sent = append(c.sent, s)
	echo, onMessage := c.echo, c.onMessage
	c.mu.Unlock()
	if echo && onMessage != nil {
		go onMessage(webrtc.DataChannelMessage{IsString: true, Data: []byte(s)})
	}
	return nil
}

func (c *fakeChannel) Send(data []byte) error {
	return c.SendText(string(data))
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	if c.state == webrtc.DataChannelStateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = webrtc.DataChannelStateClosed
	onClose := c.onClose
	c.mu.Unlock()
	if onClose != nil {
		onClose()
	}
	return nil
}

func (c *fakeChannel) open() {
	c.mu.Lock()
	c.state = webrtc.DataChannelStateOpen
	onOpen := c.onOpen
	c.mu.Unlock()
	if onOpen != nil {
		onOpen()
	}
}

// deliver pushes a message from the remote side.
func (c *fakeChannel) deliver(msg string) {
	c.mu.Lock()
	onMessage := c.onMessage
	c.mu.Unlock()
	if onMessage != nil {
		onMessage(webrtc.DataChannelMessage{IsString: true, Data: []byte(msg)})
	}
}

// fakeTransport gathers the configured candidates during
// SetLocalDescription and opens its data channel once the answer is applied.
type fakeTransport struct {
	sdp        string
	gather     []*webrtc.ICECandidate
	noGather   bool
	noLocal    bool
	addErr     error
	stayClosed bool
	echo       bool

	mu            sync.Mutex
	onCandidate   func(*webrtc.ICECandidate)
	handlerSets   int
	dc            *fakeChannel
	dcInit        *webrtc.DataChannelInit
	gatherDone    chan struct{}
	local         *webrtc.SessionDescription
	remote        *webrtc.SessionDescription
	added         []webrtc.ICECandidateInit
	closed        bool
	onStateChange func(webrtc.PeerConnectionState)
}

func (f *fakeTransport) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	f.mu.Lock()
	f.onCandidate = fn
	f.handlerSets++
	f.mu.Unlock()
}

func (f *fakeTransport) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	f.mu.Lock()
	f.onStateChange = fn
	f.mu.Unlock()
}

func (f *fakeTransport) CreateDataChannel(label string, init *webrtc.DataChannelInit) (DataChannel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dc = &fakeChannel{label: label, state: webrtc.DataChannelStateConnecting, echo: f.echo}
	f.dcInit = init
	return f.dc, nil
}

func (f *fakeTransport) CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: f.sdp}, nil
}

func (f *fakeTransport) GatheringComplete() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gatherDone = make(chan struct{})
	return f.gatherDone
}

func (f *fakeTransport) SetLocalDescription(desc webrtc.SessionDescription) error {
	f.mu.Lock()
	if !f.noLocal {
		f.local = &desc
	}
	onCandidate := f.onCandidate
	done := f.gatherDone
	f.mu.Unlock()

	for _, c := range f.gather {
		onCandidate(c)
	}
	if !f.noGather {
		onCandidate(nil)
		close(done)
	}
	return nil
}

func (f *fakeTransport) LocalDescription() *webrtc.SessionDescription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.local
}

func (f *fakeTransport) SetRemoteDescription(desc webrtc.SessionDescription) error {
	f.mu.Lock()
	f.remote = &desc
	dc := f.dc
	f.mu.Unlock()
	if f.stayClosed {
		go func() { _ = dc.Close() }()
	} else {
		go dc.open()
	}
	return nil
}

func (f *fakeTransport) AddICECandidate(init webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, init)
	if init.Candidate != "" && f.addErr != nil {
		return f.addErr
	}
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) channel() *fakeChannel {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dc
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) addedCandidates() []webrtc.ICECandidateInit {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), f.added...)
}

func (f *fakeTransport) handlerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handlerSets
}

// fakeSignal is an httptest signaling endpoint with a canned reply.
type fakeSignal struct {
	srv *httptest.Server

	status int
	body   string
	answer signaling.AnswerResponse

	mu      sync.Mutex
	offers  []signaling.OfferRequest
	deletes []string
}

func newFakeSignal(t *testing.T) *fakeSignal {
	t.Helper()
	f := &fakeSignal{
		status: http.StatusCreated,
		answer: signaling.AnswerResponse{
			Answer:    signaling.SessionDescription{Type: "answer", SDP: "v=0\r\n"},
			SessionID: "session-1",
			Candidates: []webrtc.ICECandidateInit{
				{Candidate: "candidate:1 1 udp 2122260223 abc.local 54321 typ host"},
				{Candidate: "candidate:2 1 udp 2122260223 198.51.100.4 54322 typ host"},
			},
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /signal", func(w http.ResponseWriter, r *http.Request) {
		var req signaling.OfferRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.offers = append(f.offers, req)
		f.mu.Unlock()
		if f.status != http.StatusCreated {
			http.Error(w, f.body, f.status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(f.answer)
	})
	mux.HandleFunc("DELETE /signal", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.deletes = append(f.deletes, r.URL.Query().Get("id"))
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"closed":true}`)
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeSignal) url() string {
	return f.srv.URL + "/signal"
}

func (f *fakeSignal) offer(i int) signaling.OfferRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.offers[i]
}

func (f *fakeSignal) offerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.offers)
}

func (f *fakeSignal) deleted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deletes...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
