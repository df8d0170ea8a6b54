package negotiation

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/BioHazard786/warproom/internal/protocol"
	"github.com/BioHazard786/warproom/internal/transfer"
)

// fakeTransport follows the offer/answer signaling state machine without
// any networking.
type fakeTransport struct {
	mu         sync.Mutex
	state      webrtc.SignalingState
	descs      int
	remote     *webrtc.SessionDescription
	candidates []string
	tracks     []webrtc.TrackLocal
	channels   []string
	closed     bool
	failAnswer bool

	onCandidate  func(*webrtc.ICECandidate)
	onNegNeeded  func()
	onSignaling  func(webrtc.SignalingState)
	onDataChan   func(transfer.Channel)
	onTrack      func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
	onConnection func(webrtc.PeerConnectionState)
}

var errFake = errors.New("fake transport refused")

func newFakeTransport() *fakeTransport {
	return &fakeTransport{state: webrtc.SignalingStateStable}
}

func (f *fakeTransport) transition(next webrtc.SignalingState) {
	f.state = next
	cb := f.onSignaling
	f.mu.Unlock()
	if cb != nil {
		cb(next)
	}
	f.mu.Lock()
}

func (f *fakeTransport) AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracks = append(f.tracks, track)
	return nil, nil
}

func (f *fakeTransport) RemoveTrack(*webrtc.RTPSender) error { return nil }

func (f *fakeTransport) trackCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tracks)
}

func (f *fakeTransport) CreateDataChannel(label string) (transfer.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels = append(f.channels, label)
	return &stubChannel{label: label}, nil
}

func (f *fakeTransport) CreateOffer() (webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.descs++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer-%d", f.descs)}, nil
}

func (f *fakeTransport) CreateAnswer() (webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAnswer || f.state != webrtc.SignalingStateHaveRemoteOffer {
		return webrtc.SessionDescription{}, errFake
	}
	f.descs++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: fmt.Sprintf("answer-%d", f.descs)}, nil
}

func (f *fakeTransport) SetLocalDescription(desc webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case desc.Type == webrtc.SDPTypeOffer && f.state == webrtc.SignalingStateStable:
		f.transition(webrtc.SignalingStateHaveLocalOffer)
	case desc.Type == webrtc.SDPTypeAnswer && f.state == webrtc.SignalingStateHaveRemoteOffer:
		f.transition(webrtc.SignalingStateStable)
	default:
		return errFake
	}
	return nil
}

func (f *fakeTransport) SetRemoteDescription(desc webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if desc.SDP == "bad" {
		return errFake
	}
	switch {
	case desc.Type == webrtc.SDPTypeOffer && f.state == webrtc.SignalingStateStable:
		f.transition(webrtc.SignalingStateHaveRemoteOffer)
	case desc.Type == webrtc.SDPTypeAnswer && f.state == webrtc.SignalingStateHaveLocalOffer:
		f.transition(webrtc.SignalingStateStable)
	default:
		return errFake
	}
	f.remote = &desc
	return nil
}

func (f *fakeTransport) Rollback() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch f.state {
	case webrtc.SignalingStateHaveLocalOffer:
	case webrtc.SignalingStateHaveRemoteOffer:
		f.remote = nil
	default:
		return ErrNothingToRollback
	}
	f.transition(webrtc.SignalingStateStable)
	return nil
}

func (f *fakeTransport) AddICECandidate(c webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.remote == nil || c.Candidate == "bad" {
		return errFake
	}
	f.candidates = append(f.candidates, c.Candidate)
	return nil
}

func (f *fakeTransport) SignalingState() webrtc.SignalingState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// setSignaling forces a signaling state, firing the change callback.
func (f *fakeTransport) setSignaling(s webrtc.SignalingState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transition(s)
}

func (f *fakeTransport) OnICECandidate(h func(*webrtc.ICECandidate)) { f.onCandidate = h }
func (f *fakeTransport) OnNegotiationNeeded(h func())                { f.onNegNeeded = h }
func (f *fakeTransport) OnSignalingStateChange(h func(webrtc.SignalingState)) {
	f.onSignaling = h
}
func (f *fakeTransport) OnDataChannel(h func(transfer.Channel)) { f.onDataChan = h }
func (f *fakeTransport) OnTrack(h func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	f.onTrack = h
}
func (f *fakeTransport) OnConnectionStateChange(h func(webrtc.PeerConnectionState)) {
	f.onConnection = h
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) appliedCandidates() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.candidates...)
}

// stubChannel is a data channel that never opens.
type stubChannel struct {
	label  string
	mu     sync.Mutex
	closed bool
}

func (s *stubChannel) Label() string { return s.label }
func (s *stubChannel) ReadyState() webrtc.DataChannelState {
	return webrtc.DataChannelStateConnecting
}
func (s *stubChannel) Send([]byte) error                             { return errFake }
func (s *stubChannel) SendText(string) error                         { return errFake }
func (s *stubChannel) BufferedAmount() uint64                        { return 0 }
func (s *stubChannel) SetBufferedAmountLowThreshold(uint64)          {}
func (s *stubChannel) OnBufferedAmountLow(func())                    {}
func (s *stubChannel) OnOpen(func())                                 {}
func (s *stubChannel) OnClose(func())                                {}
func (s *stubChannel) OnMessage(func(msg webrtc.DataChannelMessage)) {}

func (s *stubChannel) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// recordingSignaler keeps every payload sent.
type recordingSignaler struct {
	mu   sync.Mutex
	sent []protocol.Payload
	fail error
}

func (r *recordingSignaler) setFail(err error) {
	r.mu.Lock()
	r.fail = err
	r.mu.Unlock()
}

func (r *recordingSignaler) Send(p protocol.Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.sent = append(r.sent, p)
	return nil
}

func (r *recordingSignaler) messages() []protocol.Payload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.Payload(nil), r.sent...)
}

// count returns how many payloads of type t were sent.
func (r *recordingSignaler) count(t protocol.Type) int {
	n := 0
	for _, p := range r.messages() {
		if p.MessageType() == t {
			n++
		}
	}
	return n
}

func (r *recordingSignaler) last() protocol.Payload {
	msgs := r.messages()
	if len(msgs) == 0 {
		return nil
	}
	return msgs[len(msgs)-1]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
