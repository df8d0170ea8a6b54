// Package session runs one client in a room: lobby, call setup, chat and
// file transfer, reporting everything the user should see as Events.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/transport/v4"
	"github.com/pion/webrtc/v4"

	"github.com/BioHazard786/warproom/internal/config"
	"github.com/BioHazard786/warproom/internal/files"
	"github.com/BioHazard786/warproom/internal/media"
	"github.com/BioHazard786/warproom/internal/negotiation"
	"github.com/BioHazard786/warproom/internal/protocol"
	"github.com/BioHazard786/warproom/internal/rooms"
	"github.com/BioHazard786/warproom/internal/signaling"
	"github.com/BioHazard786/warproom/internal/transfer"
	"github.com/BioHazard786/warproom/internal/utils"
)

var (
	ErrNotConnected   = errors.New("not connected to the signaling server")
	ErrDisconnected   = errors.New("signaling connection lost")
	ErrCreateRejected = errors.New("room creation rejected")
)

type Options struct {
	Config *config.Config
	Logger *slog.Logger

	// AutoRelay forces relay ICE when a VPN or CGNAT interface is detected
	// and a TURN server is configured.
	AutoRelay bool

	// Net replaces the OS network stack for WebRTC.
	Net transport.Net

	// EventBuffer sizes the Events channel. Defaults to 256.
	EventBuffer int
}

// Session is one client's presence in a room.
type Session struct {
	cfg       *config.Config
	logger    *slog.Logger
	autoRelay bool
	net       transport.Net

	client  *signaling.Client
	handler *signaling.Handler
	coord   *negotiation.Coordinator

	events chan Event
	done   chan struct{}

	mu          sync.Mutex
	endpoint    *transfer.Endpoint
	roomCode    string
	stopMedia   context.CancelFunc
	mediaActive bool

	closeOnce sync.Once
}

func New(opts Options) (*Session, error) {
	if opts.Config == nil {
		return nil, errors.New("session: config is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 256
	}
	return &Session{
		cfg:       opts.Config,
		logger:    logger.With("component", "session"),
		autoRelay: opts.AutoRelay,
		net:       opts.Net,
		events:    make(chan Event, opts.EventBuffer),
		done:      make(chan struct{}),
	}, nil
}

// Events delivers user-facing events until Done is closed.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Done is closed by Close.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// RoomCode is the room this session joined, empty before Host or Join.
func (s *Session) RoomCode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomCode
}

// Connect dials the signaling server and prepares the peer connection.
func (s *Session) Connect(ctx context.Context) error {
	client := signaling.NewClient(s.cfg.ServerURL, s.logger)
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect to server: %w", err)
	}
	handler := signaling.NewHandler(client, s.logger)
	go handler.Start()

	forceRelay := s.cfg.ForceRelay
	if !forceRelay && s.autoRelay && s.cfg.TURNServer != "" && utils.ShouldForceRelay() {
		s.logger.Info("VPN or CGNAT interface detected, forcing relay")
		forceRelay = true
	}

	tr, err := negotiation.NewPionTransport(negotiation.PionConfig{
		ICEServers: s.cfg.ICEServers(),
		ForceRelay: forceRelay,
		Logger:     s.logger,
		Net:        s.net,
	})
	if err != nil {
		client.Close()
		return fmt.Errorf("create peer connection: %w", err)
	}

	src, err := media.New(s.cfg.Media)
	if err != nil {
		tr.Close()
		client.Close()
		return err
	}

	coord, err := negotiation.New(negotiation.Options{
		Transport: tr,
		Signaler:  client,
		Media:     src,
		Logger:    s.logger,
		Handlers: negotiation.Handlers{
			OnStateChange: func(st negotiation.State) {
				s.emit(StateEvent{State: st})
			},
			OnDataChannel: s.attachChannel,
			OnRemoteTrack: func(track *webrtc.TrackRemote) {
				s.emit(TrackEvent{Kind: track.Kind().String()})
			},
			OnConnectionState: func(st webrtc.PeerConnectionState) {
				if st == webrtc.PeerConnectionStateFailed {
					s.emit(ErrorEvent{Err: errors.New("peer connection failed")})
				}
			},
		},
	})
	if err != nil {
		tr.Close()
		client.Close()
		return err
	}

	s.client = client
	s.handler = handler
	s.coord = coord
	return nil
}

// Host creates a room and joins it. An empty code lets the server pick one.
func (s *Session) Host(ctx context.Context, code string) (string, error) {
	if s.client == nil {
		return "", ErrNotConnected
	}
	if code != "" {
		normalized, err := rooms.NormalizeCode(code)
		if err != nil {
			return "", err
		}
		code = normalized
	}

	if err := s.client.Send(&protocol.CreateRoom{RoomCode: code}); err != nil {
		return "", err
	}

	select {
	case created := <-s.handler.RoomCreated:
		code = created.RoomCode
	case rejected := <-s.handler.RoomError:
		return "", fmt.Errorf("%w: %s", ErrCreateRejected, rejected.Message)
	case e := <-s.handler.Error:
		return "", fmt.Errorf("%w: %s", ErrCreateRejected, e.Message)
	case <-s.client.Done():
		return "", ErrDisconnected
	case <-ctx.Done():
		return "", ctx.Err()
	}

	if err := s.client.JoinRoom(ctx, code); err != nil {
		return "", err
	}
	s.setRoom(code)
	s.emit(StatusEvent{Text: "Room " + code + " created, waiting for a peer"})
	return code, nil
}

// Join enters an existing room. The member already there places the call.
func (s *Session) Join(ctx context.Context, code string) error {
	normalized, err := rooms.NormalizeCode(code)
	if err != nil {
		return err
	}
	if s.client == nil {
		return ErrNotConnected
	}
	if err := s.client.JoinRoom(ctx, normalized); err != nil {
		return err
	}
	s.setRoom(normalized)
	s.emit(StatusEvent{Text: "Joined room " + normalized + ", waiting for the call"})
	return nil
}

func (s *Session) setRoom(code string) {
	s.mu.Lock()
	s.roomCode = code
	s.mu.Unlock()
}

// Run feeds signaling into the coordinator until ctx ends, the session is
// closed or the server connection drops.
func (s *Session) Run(ctx context.Context) error {
	if s.handler == nil {
		return ErrNotConnected
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case <-s.handler.Done():
			return ErrDisconnected

		case joined := <-s.handler.UserJoined:
			s.emit(PeerJoinedEvent{ID: joined.ID})
			if err := s.coord.Call(ctx, joined.ID); err != nil {
				s.logger.Warn("call failed", "peer", joined.ID, "err", err)
				s.emit(ErrorEvent{Err: err})
				continue
			}
			s.startMedia()

		case p := <-s.handler.Signal:
			if err := s.coord.Handle(ctx, p); err != nil {
				s.logger.Warn("negotiation message failed", "type", p.MessageType(), "err", err)
				s.emit(ErrorEvent{Err: err})
				continue
			}
			if _, ok := p.(*protocol.IncomingCall); ok {
				s.startMedia()
			}

		case e := <-s.handler.Error:
			s.emit(ErrorEvent{Err: fmt.Errorf("server: %s", e.Message)})
		}
	}
}

// SendText sends a chat message. It fails with transfer.ErrChannelNotReady
// until the data channel is open.
func (s *Session) SendText(text string) error {
	ep := s.currentEndpoint()
	if ep == nil {
		return transfer.NewError("send text", transfer.ErrChannelNotReady)
	}
	return ep.SendText(text)
}

// SendFile streams path to the peer. Directories are zipped first.
func (s *Session) SendFile(ctx context.Context, path string) error {
	ep := s.currentEndpoint()
	if ep == nil || !ep.Ready() {
		return transfer.NewError("send file", transfer.ErrChannelNotReady)
	}

	src, err := files.Prepare(path)
	if err != nil {
		return err
	}
	defer src.Close()

	r, err := src.Open()
	if err != nil {
		return transfer.NewFileError("open file", src.Meta.Name, err)
	}
	defer r.Close()

	s.emit(FileStartEvent{Meta: src.Meta, Outbound: true})
	err = ep.SendFile(ctx, src.Meta, r, func(p transfer.Progress) {
		s.emitProgress(ProgressEvent{Progress: p, Outbound: true})
	})
	if err != nil {
		return err
	}
	s.emit(FileDoneEvent{Meta: src.Meta, Outbound: true})
	return nil
}

// AddMedia attaches synthetic audio and video to the established call,
// which triggers a renegotiation.
func (s *Session) AddMedia(ctx context.Context) error {
	if s.coord == nil {
		return ErrNotConnected
	}
	if err := s.coord.AddTracks(ctx, &media.Synthetic{}); err != nil {
		return err
	}
	s.startMedia()
	s.emit(StatusEvent{Text: "Sending synthetic audio and video"})
	return nil
}

// startMedia begins writing samples once local tracks exist.
func (s *Session) startMedia() {
	tracks := s.coord.LocalTracks()
	if len(tracks) == 0 {
		return
	}

	s.mu.Lock()
	if s.mediaActive {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.mediaActive = true
	s.stopMedia = cancel
	s.mu.Unlock()

	go func() {
		if err := media.Pump(ctx, tracks); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("media pump stopped", "err", err)
		}
	}()
}

func (s *Session) attachChannel(ch transfer.Channel) {
	ep := transfer.NewEndpoint(ch, transfer.Options{
		Logger:      s.logger,
		MaxFileSize: s.cfg.MaxFileSize,
		Handlers: transfer.Handlers{
			OnOpen: func() { s.emit(ReadyEvent{}) },
			OnText: func(text string) { s.emit(ChatEvent{Text: text}) },
			OnFileStart: func(meta transfer.FileMeta) {
				s.emit(FileStartEvent{Meta: meta})
			},
			OnProgress: func(p transfer.Progress) {
				s.emitProgress(ProgressEvent{Progress: p})
			},
			OnFile:  s.saveFile,
			OnError: func(err error) { s.emit(ErrorEvent{Err: err}) },
			OnClose: func() { s.emit(PeerLeftEvent{}) },
		},
	})

	s.mu.Lock()
	prev := s.endpoint
	s.endpoint = ep
	s.mu.Unlock()
	if prev != nil {
		prev.Close()
	}
}

func (s *Session) saveFile(f transfer.File) {
	meta := transfer.FileMeta{Name: f.Name, MIME: f.MIME, Size: int64(len(f.Data))}
	path, err := files.Save(s.cfg.OutputDir, f)
	if err != nil {
		s.logger.Warn("failed to save received file", "file", f.Name, "err", err)
		s.emit(ErrorEvent{Err: transfer.NewFileError("save file", f.Name, err)})
		return
	}
	s.logger.Info("file received", "file", f.Name, "path", path, "size", len(f.Data))
	s.emit(FileDoneEvent{Meta: meta, Path: path})
}

func (s *Session) currentEndpoint() *transfer.Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endpoint
}

// emit blocks until the event is taken or the session closes.
func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *Session) emitProgress(ev ProgressEvent) {
	select {
	case s.events <- ev:
	default:
	}
}

// Close leaves the room and releases the connection.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)

		s.mu.Lock()
		stop := s.stopMedia
		ep := s.endpoint
		s.mu.Unlock()
		if stop != nil {
			stop()
		}
		if ep != nil {
			ep.Close()
		}
		if s.coord != nil {
			err = s.coord.Close()
		}
		if s.client != nil {
			s.client.LeaveRoom()
			s.client.Close()
		}
	})
	return err
}
