// Package commands holds the cobra command trees for both binaries.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/warproom/internal/config"
	"github.com/BioHazard786/warproom/internal/rooms"
	"github.com/BioHazard786/warproom/internal/session"
	"github.com/BioHazard786/warproom/internal/ui"
	"github.com/BioHazard786/warproom/internal/version"
)

type clientFlags struct {
	server      string
	domain      string
	stun        string
	turn        string
	turnUser    string
	turnPass    string
	relay       bool
	output      string
	media       string
	maxFileSize int64
}

// NewRootCommand builds the warproom client command tree.
func NewRootCommand() *cobra.Command {
	f := &clientFlags{}

	root := &cobra.Command{
		Use:   "warproom",
		Short: "Peer-to-peer chat and file rooms over WebRTC",
		Long: `warproom puts two people in a room through a small signaling server and then
talks to the other side directly over a WebRTC data channel. Chat, send files
or whole directories, and optionally attach synthetic media.`,
		Version:       version.String(),
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&f.server, "server", "", "Signaling WebSocket URL (ws:// or wss://)")
	pf.StringVarP(&f.domain, "domain", "d", "", "Signaling server domain")
	pf.StringVarP(&f.stun, "stun", "s", "", "Custom STUN server")
	pf.StringVarP(&f.turn, "turn", "t", "", "Custom TURN server")
	pf.StringVarP(&f.turnUser, "turn-user", "u", "", "TURN username")
	pf.StringVarP(&f.turnPass, "turn-pass", "p", "", "TURN password")
	pf.BoolVarP(&f.relay, "relay", "r", false, "Force relay mode")
	pf.StringVarP(&f.output, "output", "o", "", "Directory for received files")
	pf.StringVar(&f.media, "media", "", `Local media: "none" or "synthetic"`)
	pf.Int64Var(&f.maxFileSize, "max-file-size", 0, "Reject incoming files larger than this many bytes (0 = no limit)")

	root.AddCommand(newHostCommand(f), newJoinCommand(f))
	return root
}

func newHostCommand(f *clientFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "host [room-code]",
		Aliases: []string{"h", "create"},
		Short:   "Create a room and wait for a peer",
		Long: `Create a room and wait for a peer to join it. Without a code the server
picks one.

Examples:
  warproom host
  warproom host K7Q2ZX --output ~/Downloads`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var code string
			if len(args) == 1 {
				normalized, err := rooms.NormalizeCode(args[0])
				if err != nil {
					return fmt.Errorf("room code %q: %w", args[0], err)
				}
				code = normalized
			}
			return runRoom(cmd.Context(), f, true, code)
		},
	}
}

func newJoinCommand(f *clientFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "join <room-code>",
		Aliases: []string{"j"},
		Short:   "Join an existing room",
		Long: `Join a room created by someone else. The host places the call once you are in.

Examples:
  warproom join K7Q2ZX
  warproom join k7q2zx --relay`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := rooms.NormalizeCode(args[0])
			if err != nil {
				return fmt.Errorf("room code %q: %w", args[0], err)
			}
			return runRoom(cmd.Context(), f, false, code)
		},
	}
}

func loadConfig(f *clientFlags) (*config.Config, error) {
	cfg, err := config.Load(config.Options{
		Domain:      f.domain,
		ServerURL:   f.server,
		STUNServer:  f.stun,
		TURNServer:  f.turn,
		TURNUser:    f.turnUser,
		TURNPass:    f.turnPass,
		ForceRelay:  f.relay,
		OutputDir:   f.output,
		Media:       f.media,
		MaxFileSize: f.maxFileSize,
	})
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.ForceRelay && cfg.GetTURNServers() == nil {
		return nil, errors.New("cannot force relay mode without TURN server configured")
	}
	return cfg, nil
}

func runRoom(ctx context.Context, f *clientFlags, hosting bool, code string) error {
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := session.New(session.Options{Config: cfg, Logger: slog.Default(), AutoRelay: true})
	if err != nil {
		return err
	}
	defer s.Close()

	stopSpinner := ui.RunConnectionSpinner("Connecting to server...")
	err = s.Connect(ctx)
	stopSpinner()
	if err != nil {
		return err
	}

	if hosting {
		stopSpinner = ui.RunSpinner("Creating room...")
		code, err = s.Host(ctx, code)
		stopSpinner()
		if err != nil {
			return fmt.Errorf("create room: %w", err)
		}
		ui.RenderRoomInfo(code)
	} else {
		stopSpinner = ui.RunWaitingSpinner("Joining room " + code + "...")
		err = s.Join(ctx, code)
		stopSpinner()
		if err != nil {
			return fmt.Errorf("join room: %w", err)
		}
	}

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	runErr := make(chan error, 1)
	go func() { runErr <- s.Run(ctx) }()

	stats, err := ui.RunChat(ctx, s, code)
	s.Close()
	ui.RenderSummary(stats)
	if err != nil {
		return err
	}

	select {
	case err := <-runErr:
		if errors.Is(err, session.ErrDisconnected) {
			ui.PrintWarning("Signaling server connection lost")
		}
	default:
	}
	return nil
}

// Execute runs the client command tree. It is called by main.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		ui.PrintError(err.Error())
		os.Exit(1)
	}
}
