package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Server defaults.
const (
	DefaultListenAddr        = ":8080"
	DefaultMaxMessageBytes   = 64 * 1024
	DefaultMessagesPerSecond = 50
	DefaultMessageBurst      = 100
	DefaultSendQueueSize     = 256
	DefaultShutdownTimeout   = 10 * time.Second
)

// ServerConfig holds the signaling relay configuration.
type ServerConfig struct {
	ListenAddr string

	// AllowedOrigins restricts WebSocket upgrades; empty allows any origin
	AllowedOrigins []string

	MaxMessageBytes   int64
	MessagesPerSecond float64
	MessageBurst      int
	SendQueueSize     int
	ShutdownTimeout   time.Duration

	// AutoCreate lets join-room create unknown rooms
	AutoCreate bool
}

// ServerOptions carries CLI flag values; zero values fall through to the
// environment and then to the defaults.
type ServerOptions struct {
	ListenAddr        string
	AllowedOrigins    []string
	MaxMessageBytes   int64
	MessagesPerSecond float64
	MessageBurst      int
	SendQueueSize     int
	ShutdownTimeout   time.Duration
	AutoCreate        bool
}

// LoadServer resolves the relay configuration: CLI flag > env > default.
func LoadServer(opts ServerOptions) (*ServerConfig, error) {
	cfg := &ServerConfig{
		ListenAddr:        opts.ListenAddr,
		AllowedOrigins:    opts.AllowedOrigins,
		MaxMessageBytes:   opts.MaxMessageBytes,
		MessagesPerSecond: opts.MessagesPerSecond,
		MessageBurst:      opts.MessageBurst,
		SendQueueSize:     opts.SendQueueSize,
		ShutdownTimeout:   opts.ShutdownTimeout,
		AutoCreate:        opts.AutoCreate,
	}

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = os.Getenv("LISTEN_ADDR")
	}
	if cfg.ListenAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.ListenAddr = ":" + port
		}
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}

	if len(cfg.AllowedOrigins) == 0 {
		if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
			for _, o := range strings.Split(v, ",") {
				if o = strings.TrimSpace(o); o != "" {
					cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
				}
			}
		}
	}

	var err error
	if cfg.MaxMessageBytes == 0 {
		if cfg.MaxMessageBytes, err = envInt64("MAX_MESSAGE_BYTES", DefaultMaxMessageBytes); err != nil {
			return nil, err
		}
	}
	if cfg.MessagesPerSecond == 0 {
		if cfg.MessagesPerSecond, err = envFloat("MESSAGES_PER_SECOND", DefaultMessagesPerSecond); err != nil {
			return nil, err
		}
	}
	if cfg.MessageBurst == 0 {
		n, err := envInt64("MESSAGE_BURST", DefaultMessageBurst)
		if err != nil {
			return nil, err
		}
		cfg.MessageBurst = int(n)
	}
	if cfg.SendQueueSize == 0 {
		n, err := envInt64("SEND_QUEUE_SIZE", DefaultSendQueueSize)
		if err != nil {
			return nil, err
		}
		cfg.SendQueueSize = int(n)
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
		if v := os.Getenv("SHUTDOWN_TIMEOUT"); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return nil, fmt.Errorf("invalid SHUTDOWN_TIMEOUT %q: %w", v, err)
			}
			cfg.ShutdownTimeout = d
		}
	}
	if !cfg.AutoCreate {
		if v := os.Getenv("AUTO_CREATE"); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("invalid AUTO_CREATE %q: %w", v, err)
			}
			cfg.AutoCreate = b
		}
	}

	if cfg.MaxMessageBytes <= 0 {
		return nil, fmt.Errorf("max message bytes must be positive")
	}
	if cfg.MessagesPerSecond <= 0 || cfg.MessageBurst <= 0 {
		return nil, fmt.Errorf("rate limit must be positive")
	}
	if cfg.SendQueueSize <= 0 {
		return nil, fmt.Errorf("send queue size must be positive")
	}
	return cfg, nil
}

func envInt64(key string, def int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

func envFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return f, nil
}
