package negotiation

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/BioHazard786/warproom/internal/logging"
	"github.com/BioHazard786/warproom/internal/media"
	"github.com/BioHazard786/warproom/internal/protocol"
	"github.com/BioHazard786/warproom/internal/transfer"
)

var (
	remoteOffer  = webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "remote-offer"}
	remoteAnswer = webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "remote-answer"}
)

type stateLog struct {
	mu     sync.Mutex
	states []State
}

func (l *stateLog) add(s State) {
	l.mu.Lock()
	l.states = append(l.states, s)
	l.mu.Unlock()
}

func (l *stateLog) get() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.states)
}

type harness struct {
	c        *Coordinator
	ft       *fakeTransport
	sig      *recordingSignaler
	states   *stateLog
	channels []transfer.Channel
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{ft: newFakeTransport(), sig: &recordingSignaler{}, states: &stateLog{}}
	opts.Transport = h.ft
	opts.Signaler = h.sig
	opts.Logger = logging.Discard()
	opts.Handlers.OnStateChange = h.states.add
	opts.Handlers.OnDataChannel = func(ch transfer.Channel) { h.channels = append(h.channels, ch) }

	c, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	h.c = c
	return h
}

func connectedCaller(t *testing.T, opts Options) *harness {
	t.Helper()
	h := newHarness(t, opts)
	if err := h.c.Call(context.Background(), "peer-b"); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if err := h.c.HandleCallAccepted("peer-b", remoteAnswer); err != nil {
		t.Fatalf("HandleCallAccepted: %v", err)
	}
	return h
}

func connectedCallee(t *testing.T, opts Options) *harness {
	t.Helper()
	h := newHarness(t, opts)
	if err := h.c.HandleIncomingCall(context.Background(), "peer-a", remoteOffer); err != nil {
		t.Fatalf("HandleIncomingCall: %v", err)
	}
	return h
}

func startRenegotiate(t *testing.T, h *harness) <-chan error {
	t.Helper()
	before := h.sig.count(protocol.TypeRenegotiationOffer)
	errCh := make(chan error, 1)
	go func() { errCh <- h.c.Renegotiate(context.Background()) }()
	waitFor(t, "renegotiation offer", func() bool {
		return h.sig.count(protocol.TypeRenegotiationOffer) == before+1 && h.c.State() == StateRenegotiating
	})
	return errCh
}

func result(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(2 * time.Second):
		t.Fatalf("Renegotiate did not return")
		return nil
	}
}

type failingSource struct{}

func (failingSource) Tracks(context.Context) ([]webrtc.TrackLocal, error) {
	return nil, errors.New("no camera")
}

func TestCall_OffersAndConnects(t *testing.T) {
	h := newHarness(t, Options{})

	if err := h.c.Call(context.Background(), "peer-b"); err != nil {
		t.Fatalf("Call: %v", err)
	}
	call, ok := h.sig.last().(*protocol.Call)
	if !ok || call.To != "peer-b" || call.Offer.Type != webrtc.SDPTypeOffer {
		t.Fatalf("sent %#v, want call to peer-b", h.sig.last())
	}
	if !slices.Equal(h.ft.channels, []string{transfer.ChannelLabel}) || len(h.channels) != 1 {
		t.Fatalf("channels=%v handed=%d", h.ft.channels, len(h.channels))
	}
	if h.c.State() != StateOffering || h.c.Role() != RoleCaller {
		t.Fatalf("state=%s role=%v", h.c.State(), h.c.Role())
	}

	if err := h.c.HandleCallAccepted("peer-b", remoteAnswer); err != nil {
		t.Fatalf("HandleCallAccepted: %v", err)
	}
	want := []State{StateAwaitingLocalMedia, StateOffering, StateConnected}
	if got := h.states.get(); !slices.Equal(got, want) {
		t.Fatalf("states=%v, want %v", got, want)
	}
}

func TestIncomingCall_Answers(t *testing.T) {
	h := connectedCallee(t, Options{})

	accepted, ok := h.sig.last().(*protocol.CallAccepted)
	if !ok || accepted.To != "peer-a" || accepted.Answer.Type != webrtc.SDPTypeAnswer {
		t.Fatalf("sent %#v, want call-accepted to peer-a", h.sig.last())
	}
	if h.c.RemoteID() != "peer-a" || h.c.Role() != RoleCallee {
		t.Fatalf("remote=%q role=%v", h.c.RemoteID(), h.c.Role())
	}
	want := []State{StateAwaitingLocalMedia, StateAnswering, StateConnected}
	if got := h.states.get(); !slices.Equal(got, want) {
		t.Fatalf("states=%v, want %v", got, want)
	}
}

func TestCall_RejectsOutOfOrderSteps(t *testing.T) {
	h := newHarness(t, Options{})

	if err := h.c.HandleCallAccepted("peer-b", remoteAnswer); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("accept while idle: err=%v, want %v", err, ErrInvalidState)
	}
	if err := h.c.Call(context.Background(), "peer-b"); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if err := h.c.Call(context.Background(), "peer-b"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("second Call: err=%v, want %v", err, ErrInvalidState)
	}
	if err := h.c.HandleCallAccepted("someone-else", remoteAnswer); !errors.Is(err, ErrUnexpectedPeer) {
		t.Fatalf("err=%v, want %v", err, ErrUnexpectedPeer)
	}
	if h.c.State() != StateOffering {
		t.Fatalf("state=%s, want offering", h.c.State())
	}
}

func TestCall_MediaFailureRestoresIdle(t *testing.T) {
	h := newHarness(t, Options{Media: failingSource{}})

	err := h.c.Call(context.Background(), "peer-b")
	var ne *NegotiationError
	if !errors.As(err, &ne) || ne.Op != "acquire media" {
		t.Fatalf("err=%v, want NegotiationError from acquire media", err)
	}
	if h.c.State() != StateIdle {
		t.Fatalf("state=%s, want idle", h.c.State())
	}
	if len(h.sig.messages()) != 0 {
		t.Fatalf("sent %v after media failure", h.sig.messages())
	}
}

func TestCall_RetryReusesMediaAndChannel(t *testing.T) {
	h := newHarness(t, Options{Media: &media.Synthetic{}})

	h.sig.setFail(errors.New("relay down"))
	err := h.c.Call(context.Background(), "peer-b")
	var ne *NegotiationError
	if !errors.As(err, &ne) || ne.Op != "send offer" {
		t.Fatalf("err=%v, want NegotiationError from send offer", err)
	}
	if h.c.State() != StateIdle || h.ft.SignalingState() != webrtc.SignalingStateStable {
		t.Fatalf("state=%s signaling=%s, want idle and stable", h.c.State(), h.ft.SignalingState())
	}

	h.sig.setFail(nil)
	if err := h.c.Call(context.Background(), "peer-b"); err != nil {
		t.Fatalf("retry Call: %v", err)
	}
	if h.c.State() != StateOffering {
		t.Fatalf("state=%s, want offering", h.c.State())
	}
	if !slices.Equal(h.ft.channels, []string{transfer.ChannelLabel}) || len(h.channels) != 1 {
		t.Fatalf("channels=%v handed=%d, want one chat channel", h.ft.channels, len(h.channels))
	}
	if got := h.ft.trackCount(); got != 2 {
		t.Fatalf("transport tracks=%d, want 2", got)
	}
	if got := len(h.c.LocalTracks()); got != 2 {
		t.Fatalf("local tracks=%d, want 2", got)
	}
}

func TestIncomingCall_AnswerFailureRollsBackOffer(t *testing.T) {
	h := newHarness(t, Options{Media: &media.Synthetic{}})

	h.ft.mu.Lock()
	h.ft.failAnswer = true
	h.ft.mu.Unlock()
	err := h.c.HandleIncomingCall(context.Background(), "peer-a", remoteOffer)
	var ne *NegotiationError
	if !errors.As(err, &ne) || ne.Op != "create answer" {
		t.Fatalf("err=%v, want NegotiationError from create answer", err)
	}
	if h.c.State() != StateIdle || h.ft.SignalingState() != webrtc.SignalingStateStable {
		t.Fatalf("state=%s signaling=%s, want idle and stable", h.c.State(), h.ft.SignalingState())
	}

	// Candidates arriving now wait for the next offer.
	if err := h.c.HandleCandidate("peer-a", webrtc.ICECandidateInit{Candidate: "c1"}); err != nil {
		t.Fatalf("HandleCandidate: %v", err)
	}
	if got := h.ft.appliedCandidates(); len(got) != 0 {
		t.Fatalf("applied=%v before a remote offer", got)
	}

	h.ft.mu.Lock()
	h.ft.failAnswer = false
	h.ft.mu.Unlock()
	if err := h.c.HandleIncomingCall(context.Background(), "peer-a", remoteOffer); err != nil {
		t.Fatalf("retry HandleIncomingCall: %v", err)
	}
	if h.c.State() != StateConnected {
		t.Fatalf("state=%s, want connected", h.c.State())
	}
	if got := h.ft.trackCount(); got != 2 {
		t.Fatalf("transport tracks=%d, want 2", got)
	}
	if got := h.ft.appliedCandidates(); !slices.Equal(got, []string{"c1"}) {
		t.Fatalf("applied=%v, want [c1]", got)
	}
}

func TestCallAccepted_ApplyFailureKeepsState(t *testing.T) {
	h := newHarness(t, Options{})
	if err := h.c.Call(context.Background(), "peer-b"); err != nil {
		t.Fatalf("Call: %v", err)
	}

	err := h.c.HandleCallAccepted("peer-b", webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "bad"})
	var ne *NegotiationError
	if !errors.As(err, &ne) {
		t.Fatalf("err=%v, want NegotiationError", err)
	}
	if h.c.State() != StateOffering {
		t.Fatalf("state=%s, want offering", h.c.State())
	}
}

func TestCandidates_QueuedUntilRemoteDescription(t *testing.T) {
	h := newHarness(t, Options{})

	for _, cand := range []string{"c1", "c2", "bad", "c3"} {
		if err := h.c.HandleCandidate("peer-a", webrtc.ICECandidateInit{Candidate: cand}); err != nil {
			t.Fatalf("HandleCandidate(%s): %v", cand, err)
		}
	}
	if got := h.ft.appliedCandidates(); len(got) != 0 {
		t.Fatalf("applied %v before a remote description", got)
	}

	if err := h.c.HandleIncomingCall(context.Background(), "peer-a", remoteOffer); err != nil {
		t.Fatalf("HandleIncomingCall: %v", err)
	}
	if got := h.ft.appliedCandidates(); !slices.Equal(got, []string{"c1", "c2", "c3"}) {
		t.Fatalf("applied=%v, want [c1 c2 c3]", got)
	}

	if err := h.c.HandleCandidate("peer-a", webrtc.ICECandidateInit{Candidate: "c4"}); err != nil {
		t.Fatalf("HandleCandidate: %v", err)
	}
	if got := h.ft.appliedCandidates(); !slices.Equal(got, []string{"c1", "c2", "c3", "c4"}) {
		t.Fatalf("applied=%v, want queue drained once then c4", got)
	}
}

func TestLocalCandidates_HeldUntilRemoteKnown(t *testing.T) {
	h := newHarness(t, Options{})
	local := &webrtc.ICECandidate{
		Foundation: "1",
		Priority:   1,
		Address:    "10.0.0.1",
		Protocol:   webrtc.ICEProtocolUDP,
		Port:       5000,
		Typ:        webrtc.ICECandidateTypeHost,
		Component:  1,
	}

	h.ft.onCandidate(local)
	h.ft.onCandidate(local)
	h.ft.onCandidate(nil)
	if n := h.sig.count(protocol.TypeNetworkCandidate); n != 0 {
		t.Fatalf("sent %d candidates before the remote was known", n)
	}

	if err := h.c.Call(context.Background(), "peer-b"); err != nil {
		t.Fatalf("Call: %v", err)
	}
	msgs := h.sig.messages()
	if len(msgs) != 3 || msgs[0].MessageType() != protocol.TypeCall {
		t.Fatalf("sent %v, want call then two candidates", msgs)
	}
	for _, m := range msgs[1:] {
		nc, ok := m.(*protocol.NetworkCandidate)
		if !ok || nc.To != "peer-b" || nc.Candidate == nil {
			t.Fatalf("sent %#v, want candidate to peer-b", m)
		}
	}

	h.ft.onCandidate(local)
	if n := h.sig.count(protocol.TypeNetworkCandidate); n != 3 {
		t.Fatalf("candidates=%d, want 3", n)
	}
}

func TestRenegotiate_SingleInFlight(t *testing.T) {
	h := connectedCaller(t, Options{})

	errCh := startRenegotiate(t, h)

	if err := h.c.Renegotiate(context.Background()); !errors.Is(err, ErrRenegotiationInFlight) {
		t.Fatalf("second Renegotiate: err=%v, want %v", err, ErrRenegotiationInFlight)
	}
	if h.c.State() != StateRenegotiating || h.sig.count(protocol.TypeRenegotiationOffer) != 1 {
		t.Fatalf("second trigger changed state: %s, offers=%d", h.c.State(), h.sig.count(protocol.TypeRenegotiationOffer))
	}

	if err := h.c.HandleRenegotiationFinal("peer-b", remoteAnswer); err != nil {
		t.Fatalf("HandleRenegotiationFinal: %v", err)
	}
	if err := result(t, errCh); err != nil {
		t.Fatalf("Renegotiate: %v", err)
	}
	if h.c.State() != StateConnected {
		t.Fatalf("state=%s, want connected", h.c.State())
	}
}

func TestRenegotiate_AnswerTimeoutRollsBack(t *testing.T) {
	h := connectedCaller(t, Options{AnswerTimeout: 30 * time.Millisecond})

	for i := 1; i <= 2; i++ {
		err := h.c.Renegotiate(context.Background())
		if !errors.Is(err, ErrAnswerTimeout) {
			t.Fatalf("attempt %d: err=%v, want %v", i, err, ErrAnswerTimeout)
		}
		if h.c.State() != StateConnected || h.ft.SignalingState() != webrtc.SignalingStateStable {
			t.Fatalf("attempt %d: state=%s signaling=%s", i, h.c.State(), h.ft.SignalingState())
		}
		if n := h.sig.count(protocol.TypeRenegotiationOffer); n != i {
			t.Fatalf("offers=%d, want %d", n, i)
		}
	}
}

func TestRenegotiate_WaitsForStable(t *testing.T) {
	h := connectedCaller(t, Options{StableTimeout: 100 * time.Millisecond})

	h.ft.setSignaling(webrtc.SignalingStateHaveRemoteOffer)
	if err := h.c.Renegotiate(context.Background()); !errors.Is(err, ErrStableTimeout) {
		t.Fatalf("err=%v, want %v", err, ErrStableTimeout)
	}
	if n := h.sig.count(protocol.TypeRenegotiationOffer); n != 0 {
		t.Fatalf("offered %d times while not stable", n)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- h.c.Renegotiate(context.Background()) }()
	time.Sleep(20 * time.Millisecond)
	h.ft.setSignaling(webrtc.SignalingStateStable)

	waitFor(t, "renegotiation offer", func() bool { return h.c.State() == StateRenegotiating })
	if err := h.c.HandleRenegotiationFinal("peer-b", remoteAnswer); err != nil {
		t.Fatalf("HandleRenegotiationFinal: %v", err)
	}
	if err := result(t, errCh); err != nil {
		t.Fatalf("Renegotiate: %v", err)
	}
}

func TestRenegotiate_RequiresConnectedCall(t *testing.T) {
	h := newHarness(t, Options{})
	if err := h.c.Renegotiate(context.Background()); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("err=%v, want %v", err, ErrInvalidState)
	}
}

func TestGlare_PoliteCalleeRollsBack(t *testing.T) {
	h := connectedCallee(t, Options{})
	errCh := startRenegotiate(t, h)

	reoffer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "caller-reoffer"}
	if err := h.c.HandleRenegotiationOffer("peer-a", reoffer); err != nil {
		t.Fatalf("HandleRenegotiationOffer: %v", err)
	}
	answer, ok := h.sig.last().(*protocol.RenegotiationAnswer)
	if !ok || answer.To != "peer-a" || answer.Answer.Type != webrtc.SDPTypeAnswer {
		t.Fatalf("sent %#v, want renegotiation-answer to peer-a", h.sig.last())
	}
	if err := result(t, errCh); !errors.Is(err, ErrGlare) {
		t.Fatalf("Renegotiate: err=%v, want %v", err, ErrGlare)
	}
	if h.c.State() != StateConnected || h.ft.SignalingState() != webrtc.SignalingStateStable {
		t.Fatalf("state=%s signaling=%s", h.c.State(), h.ft.SignalingState())
	}
}

func TestGlare_ImpoliteCallerIgnoresRemoteOffer(t *testing.T) {
	h := connectedCaller(t, Options{})
	errCh := startRenegotiate(t, h)

	reoffer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "callee-reoffer"}
	if err := h.c.HandleRenegotiationOffer("peer-b", reoffer); err != nil {
		t.Fatalf("HandleRenegotiationOffer: %v", err)
	}
	if n := h.sig.count(protocol.TypeRenegotiationAnswer); n != 0 {
		t.Fatalf("caller answered a colliding offer")
	}
	if h.c.State() != StateRenegotiating || h.ft.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		t.Fatalf("state=%s signaling=%s", h.c.State(), h.ft.SignalingState())
	}

	if err := h.c.HandleRenegotiationFinal("peer-b", remoteAnswer); err != nil {
		t.Fatalf("HandleRenegotiationFinal: %v", err)
	}
	if err := result(t, errCh); err != nil {
		t.Fatalf("Renegotiate: %v", err)
	}
}

func TestRemoteRenegotiation_Answered(t *testing.T) {
	h := connectedCaller(t, Options{})

	reoffer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "callee-reoffer"}
	if err := h.c.HandleRenegotiationOffer("peer-b", reoffer); err != nil {
		t.Fatalf("HandleRenegotiationOffer: %v", err)
	}
	answer, ok := h.sig.last().(*protocol.RenegotiationAnswer)
	if !ok || answer.To != "peer-b" {
		t.Fatalf("sent %#v, want renegotiation-answer to peer-b", h.sig.last())
	}
	if h.c.State() != StateConnected {
		t.Fatalf("state=%s, want connected", h.c.State())
	}
}

func TestNegotiationNeeded_StartsRenegotiation(t *testing.T) {
	h := newHarness(t, Options{})

	h.ft.onNegNeeded()
	time.Sleep(20 * time.Millisecond)
	if n := h.sig.count(protocol.TypeRenegotiationOffer); n != 0 {
		t.Fatalf("renegotiated while idle")
	}

	if err := h.c.Call(context.Background(), "peer-b"); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if err := h.c.HandleCallAccepted("peer-b", remoteAnswer); err != nil {
		t.Fatalf("HandleCallAccepted: %v", err)
	}

	h.ft.onNegNeeded()
	waitFor(t, "renegotiation offer", func() bool {
		return h.sig.count(protocol.TypeRenegotiationOffer) == 1 && h.c.State() == StateRenegotiating
	})
	if err := h.c.HandleRenegotiationFinal("peer-b", remoteAnswer); err != nil {
		t.Fatalf("HandleRenegotiationFinal: %v", err)
	}
	waitFor(t, "connected", func() bool { return h.c.State() == StateConnected })
}

func TestAddTracks(t *testing.T) {
	h := connectedCaller(t, Options{})

	if err := h.c.AddTracks(context.Background(), &media.Synthetic{}); err != nil {
		t.Fatalf("AddTracks: %v", err)
	}
	if len(h.ft.tracks) != 2 || len(h.c.LocalTracks()) != 2 {
		t.Fatalf("tracks=%d local=%d, want 2", len(h.ft.tracks), len(h.c.LocalTracks()))
	}
	if err := h.c.AddTracks(context.Background(), &media.Synthetic{}); !errors.Is(err, ErrMediaAttached) {
		t.Fatalf("err=%v, want %v", err, ErrMediaAttached)
	}
}

func TestHandle_Dispatch(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	if err := h.c.Handle(ctx, &protocol.IncomingCall{From: "peer-a", Offer: remoteOffer}); err != nil {
		t.Fatalf("Handle(incoming-call): %v", err)
	}
	if err := h.c.Handle(ctx, &protocol.NetworkCandidate{From: "peer-a", Candidate: &webrtc.ICECandidateInit{Candidate: "c9"}}); err != nil {
		t.Fatalf("Handle(network-candidate): %v", err)
	}
	if got := h.ft.appliedCandidates(); !slices.Equal(got, []string{"c9"}) {
		t.Fatalf("applied=%v", got)
	}
	if err := h.c.Handle(ctx, &protocol.RoomCreated{RoomCode: "ABC123"}); !errors.Is(err, protocol.ErrUnknownType) {
		t.Fatalf("err=%v, want %v", err, protocol.ErrUnknownType)
	}
}

func TestClose(t *testing.T) {
	h := connectedCaller(t, Options{})
	errCh := startRenegotiate(t, h)
	seen := len(h.states.get())

	if err := h.c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := result(t, errCh); !errors.Is(err, ErrClosed) {
		t.Fatalf("Renegotiate after Close: err=%v, want %v", err, ErrClosed)
	}

	if !h.ft.closed || !h.channels[0].(*stubChannel).closed {
		t.Fatalf("transport closed=%v channel closed=%v", h.ft.closed, h.channels[0].(*stubChannel).closed)
	}
	if h.c.State() != StateClosed {
		t.Fatalf("state=%s, want closed", h.c.State())
	}
	if err := h.c.HandleCandidate("peer-b", webrtc.ICECandidateInit{Candidate: "late"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("HandleCandidate: err=%v, want %v", err, ErrClosed)
	}
	if err := h.c.Renegotiate(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("Renegotiate: err=%v, want %v", err, ErrClosed)
	}

	sent := len(h.sig.messages())
	h.ft.onCandidate(&webrtc.ICECandidate{Address: "10.0.0.1", Port: 1, Protocol: webrtc.ICEProtocolUDP, Typ: webrtc.ICECandidateTypeHost})
	if len(h.sig.messages()) != sent {
		t.Fatalf("candidate sent after Close")
	}
	if len(h.states.get()) != seen {
		t.Fatalf("state callbacks after Close: %v", h.states.get()[seen:])
	}
}

func TestState_String(t *testing.T) {
	if StateRenegotiating.String() != "renegotiating" || State(99).String() != "unknown" {
		t.Fatalf("unexpected state names")
	}
}
