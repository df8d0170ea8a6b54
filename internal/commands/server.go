package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/warproom/internal/config"
	"github.com/BioHazard786/warproom/internal/server"
	"github.com/BioHazard786/warproom/internal/ui"
	"github.com/BioHazard786/warproom/internal/version"
)

// NewServerCommand builds the warproom-server command.
func NewServerCommand() *cobra.Command {
	var opts config.ServerOptions

	cmd := &cobra.Command{
		Use:   "warproom-server",
		Short: "Signaling relay for warproom rooms",
		Long: `warproom-server pairs clients into two-person rooms and forwards their
connection negotiation messages. It serves /ws, /health and /metrics.`,
		Version:       version.String(),
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadServer(opts)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			slog.Info("starting warproom-server", "version", version.String(), "addr", cfg.ListenAddr, "auto_create", cfg.AutoCreate)
			return server.New(cfg, slog.Default()).ListenAndServe(ctx)
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&opts.ListenAddr, "listen", "l", "", "Listen address (default "+config.DefaultListenAddr+")")
	fl.StringSliceVar(&opts.AllowedOrigins, "allowed-origins", nil, "Allowed WebSocket origins (default any)")
	fl.Int64Var(&opts.MaxMessageBytes, "max-message-bytes", 0, "Largest accepted signaling message")
	fl.Float64Var(&opts.MessagesPerSecond, "rate", 0, "Messages per second allowed per connection")
	fl.IntVar(&opts.MessageBurst, "burst", 0, "Message burst allowed per connection")
	fl.IntVar(&opts.SendQueueSize, "send-queue", 0, "Outbound queue length per connection")
	fl.DurationVar(&opts.ShutdownTimeout, "shutdown-timeout", 0, "Graceful shutdown timeout")
	fl.BoolVar(&opts.AutoCreate, "auto-create", false, "Let join-room create unknown rooms")
	return cmd
}

// ExecuteServer runs the server command. It is called by main.
func ExecuteServer() {
	if err := NewServerCommand().Execute(); err != nil {
		ui.PrintError(err.Error())
		os.Exit(1)
	}
}
