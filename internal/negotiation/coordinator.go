// Package negotiation runs one side of a call: the offer/answer exchange,
// network candidate buffering and renegotiation when local media changes.
package negotiation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/BioHazard786/warproom/internal/media"
	"github.com/BioHazard786/warproom/internal/protocol"
	"github.com/BioHazard786/warproom/internal/transfer"
)

const (
	DefaultStableTimeout = 10 * time.Second
	DefaultAnswerTimeout = 15 * time.Second
)

var ErrUnexpectedPeer = errors.New("message from unexpected peer")

// Signaler carries negotiation messages to the relay.
type Signaler interface {
	Send(p protocol.Payload) error
}

// Handlers are optional callbacks. None fire after Close.
type Handlers struct {
	OnStateChange     func(State)
	OnDataChannel     func(transfer.Channel)
	OnRemoteTrack     func(*webrtc.TrackRemote)
	OnConnectionState func(webrtc.PeerConnectionState)
}

type Options struct {
	Transport Transport
	Signaler  Signaler
	// Media supplies tracks when a call starts. Nil means no media.
	Media    media.Source
	Logger   *slog.Logger
	Handlers Handlers

	StableTimeout time.Duration
	AnswerTimeout time.Duration
}

// Coordinator drives negotiation for a single call.
type Coordinator struct {
	transport     Transport
	signaler      Signaler
	media         media.Source
	logger        *slog.Logger
	handlers      Handlers
	stableTimeout time.Duration
	answerTimeout time.Duration

	// opMu serializes negotiation steps. Remote candidates take it too so
	// queue-or-apply is decided in order with description changes.
	opMu sync.Mutex

	mu            sync.Mutex
	state         State
	role          Role
	remoteID      string
	remoteDescSet bool
	pending       []webrtc.ICECandidateInit
	outbox        []webrtc.ICECandidateInit
	channel       transfer.Channel
	tracks        []webrtc.TrackLocal

	renegotiating atomic.Bool
	stable        chan struct{}
	result        chan error

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// New creates a coordinator and installs its transport callbacks.
func New(opts Options) (*Coordinator, error) {
	if opts.Transport == nil || opts.Signaler == nil {
		return nil, errors.New("negotiation: transport and signaler are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	src := opts.Media
	if src == nil {
		src = media.None{}
	}
	if opts.StableTimeout <= 0 {
		opts.StableTimeout = DefaultStableTimeout
	}
	if opts.AnswerTimeout <= 0 {
		opts.AnswerTimeout = DefaultAnswerTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		transport:     opts.Transport,
		signaler:      opts.Signaler,
		media:         src,
		logger:        logger.With("component", "negotiation"),
		handlers:      opts.Handlers,
		stableTimeout: opts.StableTimeout,
		answerTimeout: opts.AnswerTimeout,
		stable:        make(chan struct{}, 1),
		result:        make(chan error, 1),
		ctx:           ctx,
		cancel:        cancel,
	}

	t := opts.Transport
	t.OnICECandidate(c.handleLocalCandidate)
	t.OnNegotiationNeeded(c.handleNegotiationNeeded)
	t.OnSignalingStateChange(func(s webrtc.SignalingState) {
		if s == webrtc.SignalingStateStable {
			notify(c.stable)
		}
	})
	t.OnDataChannel(c.handleDataChannel)
	t.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if c.isClosed() {
			return
		}
		c.logger.Info("remote track", "kind", track.Kind().String(), "codec", track.Codec().MimeType)
		if c.handlers.OnRemoteTrack != nil {
			c.handlers.OnRemoteTrack(track)
		}
	})
	t.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if c.isClosed() {
			return
		}
		c.logger.Debug("peer connection state", "state", s.String())
		if c.handlers.OnConnectionState != nil {
			c.handlers.OnConnectionState(s)
		}
	})
	return c, nil
}

// State returns the current negotiation state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Role reports whether this side placed or accepted the call.
func (c *Coordinator) Role() Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

// RemoteID is the remote connection ID, empty until the call starts.
func (c *Coordinator) RemoteID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteID
}

// LocalTracks returns the tracks attached so far.
func (c *Coordinator) LocalTracks() []webrtc.TrackLocal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.tracks)
}

// Handle dispatches a negotiation message received from the relay.
func (c *Coordinator) Handle(ctx context.Context, p protocol.Payload) error {
	switch m := p.(type) {
	case *protocol.IncomingCall:
		return c.HandleIncomingCall(ctx, m.From, m.Offer)
	case *protocol.CallAccepted:
		return c.HandleCallAccepted(m.From, m.Answer)
	case *protocol.RenegotiationOffer:
		return c.HandleRenegotiationOffer(m.From, m.Offer)
	case *protocol.RenegotiationFinal:
		return c.HandleRenegotiationFinal(m.From, m.Answer)
	case *protocol.NetworkCandidate:
		if m.Candidate == nil {
			return fmt.Errorf("%w: network-candidate without candidate", protocol.ErrMalformed)
		}
		return c.HandleCandidate(m.From, *m.Candidate)
	default:
		return fmt.Errorf("%w: %s", protocol.ErrUnknownType, p.MessageType())
	}
}

// Call places a call to remoteID: local media, the chat data channel and an
// offer sent as call{to, offer}. Media and the channel survive a failed
// attempt and are reused by the next one.
func (c *Coordinator) Call(ctx context.Context, remoteID string) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if err := c.begin(RoleCaller); err != nil {
		return err
	}
	if err := c.ensureMedia(ctx); err != nil {
		c.setState(StateIdle)
		return newError("acquire media", err)
	}
	if err := c.ensureChannel(); err != nil {
		c.setState(StateIdle)
		return newError("create data channel", err)
	}

	offer, err := c.transport.CreateOffer()
	if err != nil {
		c.setState(StateIdle)
		return newError("create offer", err)
	}
	if err := c.transport.SetLocalDescription(offer); err != nil {
		c.setState(StateIdle)
		return newError("set local offer", err)
	}
	if err := c.signaler.Send(&protocol.Call{To: remoteID, Offer: offer}); err != nil {
		c.rollback()
		c.setState(StateIdle)
		return newError("send offer", err)
	}

	c.setRemote(remoteID)
	c.setState(StateOffering)
	return nil
}

// HandleIncomingCall answers a call placed by from. A failure before the
// answer is applied rolls the remote offer back.
func (c *Coordinator) HandleIncomingCall(ctx context.Context, from string, offer webrtc.SessionDescription) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if err := c.begin(RoleCallee); err != nil {
		return err
	}
	if err := c.ensureMedia(ctx); err != nil {
		c.setState(StateIdle)
		return newError("acquire media", err)
	}

	c.setState(StateAnswering)
	if err := c.applyRemote(offer); err != nil {
		c.setState(StateIdle)
		return newError("apply offer", err)
	}
	answer, err := c.transport.CreateAnswer()
	if err != nil {
		c.discardRemoteOffer()
		c.setState(StateIdle)
		return newError("create answer", err)
	}
	if err := c.transport.SetLocalDescription(answer); err != nil {
		c.discardRemoteOffer()
		c.setState(StateIdle)
		return newError("set local answer", err)
	}
	if err := c.signaler.Send(&protocol.CallAccepted{To: from, Answer: answer}); err != nil {
		c.setState(StateIdle)
		return newError("send answer", err)
	}

	c.setRemote(from)
	c.setState(StateConnected)
	return nil
}

// HandleCallAccepted applies the callee's answer to our offer.
func (c *Coordinator) HandleCallAccepted(from string, answer webrtc.SessionDescription) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if err := c.expect(StateOffering); err != nil {
		return err
	}
	if err := c.checkPeer(from); err != nil {
		return err
	}
	if err := c.applyRemote(answer); err != nil {
		return newError("apply answer", err)
	}
	c.setState(StateConnected)
	return nil
}

// HandleCandidate applies a remote candidate, or queues it until a remote
// description is in place. Rejected candidates are logged and skipped.
func (c *Coordinator) HandleCandidate(from string, cand webrtc.ICECandidateInit) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return ErrClosed
	}
	if !c.remoteDescSet {
		c.pending = append(c.pending, cand)
		queued := len(c.pending)
		c.mu.Unlock()
		c.logger.Debug("queued remote candidate", "from", from, "queued", queued)
		return nil
	}
	c.mu.Unlock()

	c.addCandidate(cand)
	return nil
}

// Renegotiate sends a fresh offer over the established call and waits for
// the answer. Only one runs at a time; a concurrent call returns
// ErrRenegotiationInFlight without touching any state.
func (c *Coordinator) Renegotiate(ctx context.Context) error {
	if !c.renegotiating.CompareAndSwap(false, true) {
		return ErrRenegotiationInFlight
	}
	defer c.renegotiating.Store(false)

	if err := c.expect(StateConnected); err != nil {
		return err
	}
	if err := c.waitStable(ctx); err != nil {
		return newError("renegotiate", err)
	}

	if err := c.sendRenegotiationOffer(); err != nil {
		return err
	}

	timer := time.NewTimer(c.answerTimeout)
	defer timer.Stop()

	select {
	case err := <-c.result:
		if err != nil {
			return newError("renegotiate", err)
		}
		return nil
	case <-timer.C:
		return c.abandonOffer(ErrAnswerTimeout)
	case <-ctx.Done():
		return c.abandonOffer(ctx.Err())
	case <-c.ctx.Done():
		return ErrClosed
	}
}

func (c *Coordinator) sendRenegotiationOffer() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if err := c.expect(StateConnected); err != nil {
		return err
	}
	if s := c.transport.SignalingState(); s != webrtc.SignalingStateStable {
		return newError("renegotiate", fmt.Errorf("%w: signaling %s", ErrInvalidState, s))
	}

	select {
	case <-c.result:
	default:
	}

	offer, err := c.transport.CreateOffer()
	if err != nil {
		return newError("create offer", err)
	}
	if err := c.transport.SetLocalDescription(offer); err != nil {
		return newError("set local offer", err)
	}
	if err := c.signaler.Send(&protocol.RenegotiationOffer{To: c.RemoteID(), Offer: offer}); err != nil {
		c.rollback()
		return newError("send offer", err)
	}
	c.setState(StateRenegotiating)
	return nil
}

// abandonOffer rolls back an unanswered renegotiation offer.
func (c *Coordinator) abandonOffer(cause error) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.State() == StateRenegotiating {
		c.rollback()
		c.setState(StateConnected)
		return newError("renegotiate", cause)
	}

	// The answer may have landed between the timeout and taking opMu.
	select {
	case err := <-c.result:
		if err == nil {
			return nil
		}
		return newError("renegotiate", err)
	default:
		return newError("renegotiate", cause)
	}
}

// HandleRenegotiationOffer answers a renegotiation started by the remote
// side. If our own offer is outstanding, the callee rolls it back and
// answers while the caller ignores the remote offer.
func (c *Coordinator) HandleRenegotiationOffer(from string, offer webrtc.SessionDescription) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if err := c.expect(StateConnected, StateRenegotiating); err != nil {
		return err
	}
	if err := c.checkPeer(from); err != nil {
		return err
	}

	if c.transport.SignalingState() == webrtc.SignalingStateHaveLocalOffer {
		if c.Role() == RoleCaller {
			c.logger.Info("ignoring colliding renegotiation offer", "from", from)
			return nil
		}
		if err := c.transport.Rollback(); err != nil {
			return newError("rollback", err)
		}
		c.logger.Info("rolled back local offer for remote renegotiation", "from", from)
		deliver(c.result, ErrGlare)
	}

	c.setState(StateRenegotiating)
	defer c.setState(StateConnected)

	if err := c.applyRemote(offer); err != nil {
		return newError("apply offer", err)
	}
	answer, err := c.transport.CreateAnswer()
	if err != nil {
		return newError("create answer", err)
	}
	if err := c.transport.SetLocalDescription(answer); err != nil {
		return newError("set local answer", err)
	}
	if err := c.signaler.Send(&protocol.RenegotiationAnswer{To: from, Answer: answer}); err != nil {
		return newError("send answer", err)
	}
	return nil
}

// HandleRenegotiationFinal applies the answer to our renegotiation offer.
func (c *Coordinator) HandleRenegotiationFinal(from string, answer webrtc.SessionDescription) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if err := c.expect(StateRenegotiating); err != nil {
		return err
	}
	if err := c.checkPeer(from); err != nil {
		return err
	}
	if err := c.applyRemote(answer); err != nil {
		c.rollback()
		c.setState(StateConnected)
		deliver(c.result, err)
		return newError("apply answer", err)
	}
	c.setState(StateConnected)
	deliver(c.result, nil)
	return nil
}

// AddTracks attaches media from src to an established call. The transport
// then reports negotiation-needed, which starts a renegotiation.
func (c *Coordinator) AddTracks(ctx context.Context, src media.Source) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if err := c.expect(StateConnected); err != nil {
		return err
	}
	c.mu.Lock()
	attached := len(c.tracks) > 0
	c.mu.Unlock()
	if attached {
		return ErrMediaAttached
	}
	if err := c.attachMedia(ctx, src); err != nil {
		return newError("acquire media", err)
	}
	return nil
}

// Close tears the call down: queued candidates are dropped, the data
// channel and transport are closed and no handler fires afterwards.
func (c *Coordinator) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = StateClosed
		c.pending = nil
		c.outbox = nil
		ch := c.channel
		c.mu.Unlock()

		c.cancel()
		if ch != nil {
			ch.Close()
		}
		err = c.transport.Close()
		c.logger.Debug("negotiation closed")
	})
	return err
}

func (c *Coordinator) begin(role Role) error {
	if err := c.expect(StateIdle); err != nil {
		return err
	}
	c.mu.Lock()
	c.role = role
	c.mu.Unlock()
	c.setState(StateAwaitingLocalMedia)
	return nil
}

func (c *Coordinator) expect(want ...State) error {
	st := c.State()
	if st == StateClosed {
		return ErrClosed
	}
	if slices.Contains(want, st) {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidState, st)
}

func (c *Coordinator) checkPeer(from string) error {
	remote := c.RemoteID()
	if from != "" && remote != "" && from != remote {
		c.logger.Warn("dropping message from unexpected peer", "from", from, "remote", remote)
		return fmt.Errorf("%w: %s", ErrUnexpectedPeer, from)
	}
	return nil
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	if c.state == s || c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	prev := c.state
	c.state = s
	c.mu.Unlock()

	c.logger.Debug("negotiation state", "from", prev.String(), "to", s.String())
	if c.handlers.OnStateChange != nil {
		c.handlers.OnStateChange(s)
	}
}

func (c *Coordinator) isClosed() bool {
	return c.State() == StateClosed
}

// applyRemote sets the remote description and then drains the candidate
// queue in arrival order.
func (c *Coordinator) applyRemote(desc webrtc.SessionDescription) error {
	if err := c.transport.SetRemoteDescription(desc); err != nil {
		return err
	}

	c.mu.Lock()
	c.remoteDescSet = true
	queued := c.pending
	c.pending = nil
	c.mu.Unlock()

	if len(queued) > 0 {
		c.logger.Debug("applying queued remote candidates", "count", len(queued))
	}
	for _, cand := range queued {
		c.addCandidate(cand)
	}
	return nil
}

func (c *Coordinator) addCandidate(cand webrtc.ICECandidateInit) {
	if err := c.transport.AddICECandidate(cand); err != nil {
		c.logger.Warn("remote candidate rejected", "candidate", cand.Candidate, "err", err)
	}
}

func (c *Coordinator) rollback() {
	if err := c.transport.Rollback(); err != nil {
		c.logger.Warn("rollback failed", "err", err)
	}
}

// discardRemoteOffer rolls back a remote offer that was never answered.
func (c *Coordinator) discardRemoteOffer() {
	c.rollback()
	c.mu.Lock()
	c.remoteDescSet = false
	c.mu.Unlock()
}

// ensureMedia attaches the call's media unless an earlier attempt already
// did.
func (c *Coordinator) ensureMedia(ctx context.Context) error {
	c.mu.Lock()
	attached := len(c.tracks) > 0
	c.mu.Unlock()
	if attached {
		return nil
	}
	return c.attachMedia(ctx, c.media)
}

// attachMedia adds every track from src or none of them.
func (c *Coordinator) attachMedia(ctx context.Context, src media.Source) error {
	tracks, err := src.Tracks(ctx)
	if err != nil {
		return err
	}
	senders := make([]*webrtc.RTPSender, 0, len(tracks))
	for _, track := range tracks {
		sender, err := c.transport.AddTrack(track)
		if err != nil {
			c.removeSenders(senders)
			return fmt.Errorf("add %s track: %w", track.Kind(), err)
		}
		if sender != nil {
			senders = append(senders, sender)
		}
	}
	for _, sender := range senders {
		go drainRTCP(sender)
	}

	c.mu.Lock()
	c.tracks = append(c.tracks, tracks...)
	c.mu.Unlock()
	return nil
}

func (c *Coordinator) removeSenders(senders []*webrtc.RTPSender) {
	for _, sender := range senders {
		if err := c.transport.RemoveTrack(sender); err != nil {
			c.logger.Warn("remove track failed", "err", err)
		}
	}
}

// drainRTCP reads incoming RTCP so the sender's interceptors keep running.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// ensureChannel creates the chat channel unless a usable one exists.
func (c *Coordinator) ensureChannel() error {
	c.mu.Lock()
	ch := c.channel
	c.mu.Unlock()
	if ch != nil {
		switch ch.ReadyState() {
		case webrtc.DataChannelStateClosing, webrtc.DataChannelStateClosed:
		default:
			return nil
		}
	}

	ch, err := c.transport.CreateDataChannel(transfer.ChannelLabel)
	if err != nil {
		return err
	}
	c.setChannel(ch)
	return nil
}

func (c *Coordinator) setChannel(ch transfer.Channel) {
	c.mu.Lock()
	c.channel = ch
	c.mu.Unlock()
	if c.handlers.OnDataChannel != nil {
		c.handlers.OnDataChannel(ch)
	}
}

func (c *Coordinator) handleDataChannel(ch transfer.Channel) {
	if c.isClosed() {
		return
	}
	if ch.Label() != transfer.ChannelLabel {
		c.logger.Debug("ignoring data channel", "label", ch.Label())
		return
	}
	c.setChannel(ch)
}

// setRemote records the remote ID and sends candidates gathered before it
// was known.
func (c *Coordinator) setRemote(id string) {
	c.mu.Lock()
	c.remoteID = id
	held := c.outbox
	c.outbox = nil
	c.mu.Unlock()

	for _, cand := range held {
		c.sendCandidate(id, cand)
	}
}

func (c *Coordinator) handleLocalCandidate(cand *webrtc.ICECandidate) {
	if cand == nil {
		return
	}
	init := cand.ToJSON()

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	to := c.remoteID
	if to == "" {
		c.outbox = append(c.outbox, init)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.sendCandidate(to, init)
}

func (c *Coordinator) sendCandidate(to string, cand webrtc.ICECandidateInit) {
	if err := c.signaler.Send(&protocol.NetworkCandidate{To: to, Candidate: &cand}); err != nil {
		c.logger.Warn("failed to send candidate", "err", err)
	}
}

func (c *Coordinator) handleNegotiationNeeded() {
	if c.State() != StateConnected {
		return
	}
	go func() {
		err := c.Renegotiate(c.ctx)
		switch {
		case err == nil:
			c.logger.Debug("renegotiation complete")
		case errors.Is(err, ErrRenegotiationInFlight), errors.Is(err, ErrClosed):
		default:
			c.logger.Warn("renegotiation failed", "err", err)
		}
	}()
}

// waitStable blocks until the transport's signaling state is stable.
func (c *Coordinator) waitStable(ctx context.Context) error {
	timer := time.NewTimer(c.stableTimeout)
	defer timer.Stop()

	for c.transport.SignalingState() != webrtc.SignalingStateStable {
		select {
		case <-c.stable:
		case <-timer.C:
			return ErrStableTimeout
		case <-ctx.Done():
			return ctx.Err()
		case <-c.ctx.Done():
			return ErrClosed
		}
	}
	return nil
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func deliver(ch chan error, err error) {
	select {
	case ch <- err:
	default:
	}
}
