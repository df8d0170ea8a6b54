package negotiation

import (
	"log/slog"

	"github.com/pion/transport/v4"
	"github.com/pion/webrtc/v4"

	"github.com/BioHazard786/warproom/internal/logging"
	"github.com/BioHazard786/warproom/internal/transfer"
)

// Transport is the peer connection the coordinator negotiates.
type Transport interface {
	AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error)
	RemoveTrack(sender *webrtc.RTPSender) error
	CreateDataChannel(label string) (transfer.Channel, error)
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	// Rollback discards the pending offer, local or remote.
	Rollback() error
	AddICECandidate(c webrtc.ICECandidateInit) error
	SignalingState() webrtc.SignalingState

	OnICECandidate(f func(*webrtc.ICECandidate))
	OnNegotiationNeeded(f func())
	OnSignalingStateChange(f func(webrtc.SignalingState))
	OnDataChannel(f func(transfer.Channel))
	OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	OnConnectionStateChange(f func(webrtc.PeerConnectionState))
	Close() error
}

// PionConfig configures a PionTransport.
type PionConfig struct {
	ICEServers []webrtc.ICEServer
	ForceRelay bool
	Logger     *slog.Logger

	// Net replaces the OS network stack, e.g. with a vnet in tests.
	Net transport.Net
}

// PionTransport adapts *webrtc.PeerConnection to Transport.
type PionTransport struct {
	*webrtc.PeerConnection
}

var _ Transport = (*PionTransport)(nil)

func NewPionTransport(cfg PionConfig) (*PionTransport, error) {
	se := webrtc.SettingEngine{}
	se.LoggerFactory = logging.NewPionFactory(cfg.Logger)
	if cfg.Net != nil {
		se.SetNet(cfg.Net)
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	api := webrtc.NewAPI(
		webrtc.WithSettingEngine(se),
		webrtc.WithMediaEngine(mediaEngine),
	)

	policy := webrtc.ICETransportPolicyAll
	if cfg.ForceRelay {
		policy = webrtc.ICETransportPolicyRelay
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers:         cfg.ICEServers,
		ICETransportPolicy: policy,
	})
	if err != nil {
		return nil, err
	}
	return &PionTransport{PeerConnection: pc}, nil
}

// CreateDataChannel opens an ordered, reliable channel.
func (t *PionTransport) CreateDataChannel(label string) (transfer.Channel, error) {
	ordered := true
	dc, err := t.PeerConnection.CreateDataChannel(label, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return nil, err
	}
	return dc, nil
}

func (t *PionTransport) CreateOffer() (webrtc.SessionDescription, error) {
	return t.PeerConnection.CreateOffer(nil)
}

func (t *PionTransport) CreateAnswer() (webrtc.SessionDescription, error) {
	return t.PeerConnection.CreateAnswer(nil)
}

// Rollback passes the pending offer's SDP along with the rollback type;
// pion refuses a rollback description with an empty SDP.
func (t *PionTransport) Rollback() error {
	switch t.PeerConnection.SignalingState() {
	case webrtc.SignalingStateHaveLocalOffer:
		pending := t.PeerConnection.PendingLocalDescription()
		if pending == nil {
			return ErrNothingToRollback
		}
		return t.PeerConnection.SetLocalDescription(webrtc.SessionDescription{
			Type: webrtc.SDPTypeRollback,
			SDP:  pending.SDP,
		})
	case webrtc.SignalingStateHaveRemoteOffer:
		pending := t.PeerConnection.PendingRemoteDescription()
		if pending == nil {
			return ErrNothingToRollback
		}
		return t.PeerConnection.SetRemoteDescription(webrtc.SessionDescription{
			Type: webrtc.SDPTypeRollback,
			SDP:  pending.SDP,
		})
	default:
		return ErrNothingToRollback
	}
}

func (t *PionTransport) OnDataChannel(f func(transfer.Channel)) {
	t.PeerConnection.OnDataChannel(func(dc *webrtc.DataChannel) {
		f(dc)
	})
}
