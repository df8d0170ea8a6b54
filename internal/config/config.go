package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/pion/webrtc/v4"
)

// Default configuration values (production)
const (
	DefaultDomain   = "warproom.qzz.io"
	DefaultSTUN     = "stun:stun.l.google.com:19302"
	DefaultTURN     = "warproom.qzz.io"
	DefaultTURNUser = "warproom"
	DefaultTURNPass = "warproom-secret"
	DefaultMedia    = MediaNone
)

// Media modes for the local media source.
const (
	MediaNone      = "none"
	MediaSynthetic = "synthetic"
)

// Config holds the client configuration.
type Config struct {
	// Domain is the signaling server domain
	Domain string

	// ServerURL is the signaling WebSocket URL
	ServerURL string

	// ICE servers for WebRTC
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string

	// ForceRelay restricts ICE to TURN candidates
	ForceRelay bool

	// OutputDir is where received files are written
	OutputDir string

	// Media selects the local media source ("none" or "synthetic")
	Media string

	// MaxFileSize caps inbound files in bytes; 0 means unlimited
	MaxFileSize int64
}

// Options for loading config with CLI flag overrides
type Options struct {
	Domain      string
	ServerURL   string
	STUNServer  string
	TURNServer  string
	TURNUser    string
	TURNPass    string
	ForceRelay  bool
	OutputDir   string
	Media       string
	MaxFileSize int64
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	domain := pick(opts.Domain, "DOMAIN", DefaultDomain)

	serverURL := pick(opts.ServerURL, "WARPROOM_SERVER", "")
	if serverURL == "" {
		serverURL = fmt.Sprintf("wss://%s/ws", domain)
	}
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL %q: %w", serverURL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("invalid server URL %q: scheme must be ws or wss", serverURL)
	}

	forceRelay := opts.ForceRelay
	if !forceRelay {
		if v := os.Getenv("FORCE_RELAY"); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("invalid FORCE_RELAY %q: %w", v, err)
			}
			forceRelay = b
		}
	}

	media := strings.ToLower(pick(opts.Media, "WARPROOM_MEDIA", DefaultMedia))
	if media != MediaNone && media != MediaSynthetic {
		return nil, fmt.Errorf("invalid media mode %q (want %q or %q)", media, MediaNone, MediaSynthetic)
	}

	maxFileSize := opts.MaxFileSize
	if maxFileSize == 0 {
		if v := os.Getenv("WARPROOM_MAX_FILE_SIZE"); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil || n < 0 {
				return nil, fmt.Errorf("invalid WARPROOM_MAX_FILE_SIZE %q", v)
			}
			maxFileSize = n
		}
	}
	if maxFileSize < 0 {
		return nil, fmt.Errorf("max file size must not be negative")
	}

	return &Config{
		Domain:      domain,
		ServerURL:   serverURL,
		STUNServer:  pick(opts.STUNServer, "STUN_SERVER", DefaultSTUN),
		TURNServer:  pick(opts.TURNServer, "TURN_SERVER", DefaultTURN),
		TURNUser:    pick(opts.TURNUser, "TURN_USERNAME", DefaultTURNUser),
		TURNPass:    pick(opts.TURNPass, "TURN_PASSWORD", DefaultTURNPass),
		ForceRelay:  forceRelay,
		OutputDir:   pick(opts.OutputDir, "WARPROOM_OUTPUT_DIR", "."),
		Media:       media,
		MaxFileSize: maxFileSize,
	}, nil
}

// pick returns flag if set, else the environment value, else def.
func pick(flag, env, def string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	return def
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Config) GetSTUNServers() []string {
	if c.STUNServer == "" {
		return nil
	}
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN server URLs if configured
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	host := strings.TrimPrefix(strings.TrimPrefix(c.TURNServer, "turns:"), "turn:")
	return []string{
		fmt.Sprintf("turn:%s:3478?transport=udp", host),
		fmt.Sprintf("turn:%s:3478?transport=tcp", host),
		fmt.Sprintf("turns:%s:5349?transport=tcp", host),
	}
}

// ICEServers builds the pion ICE server list from the STUN and TURN settings.
func (c *Config) ICEServers() []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	if stun := c.GetSTUNServers(); stun != nil {
		servers = append(servers, webrtc.ICEServer{URLs: stun})
	}
	if turn := c.GetTURNServers(); turn != nil {
		servers = append(servers, webrtc.ICEServer{
			URLs:       turn,
			Username:   c.TURNUser,
			Credential: c.TURNPass,
		})
	}
	return servers
}
