package server

import (
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/BioHazard786/warproom/internal/metrics"
	"github.com/BioHazard786/warproom/internal/relay"
)

// NewUpgrader configures the websocket upgrader. An empty allowedOrigins
// accepts every origin.
func NewUpgrader(allowedOrigins []string) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  64 * 1024, // 64 KB
		WriteBufferSize: 64 * 1024, // 64 KB
		CheckOrigin:     originChecker(allowedOrigins),
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	normalized := make([]string, 0, len(allowed))
	for _, o := range allowed {
		normalized = append(normalized, strings.TrimRight(strings.ToLower(o), "/"))
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Non-browser clients do not send an Origin header.
			return true
		}
		u, err := url.Parse(origin)
		if err != nil || u.Host == "" {
			return false
		}
		return slices.Contains(normalized, strings.ToLower(u.Scheme+"://"+u.Host))
	}
}

// ServeWs returns an http.HandlerFunc that upgrades requests and attaches
// them to hub.
func ServeWs(hub *relay.Hub, upgrader *websocket.Upgrader, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("failed to upgrade connection", "remote", r.RemoteAddr, "err", err)
			return
		}

		client := hub.NewConn(conn)
		if !hub.Register(client) {
			conn.Close()
			return
		}

		go client.WritePump()
		go client.ReadPump()
	}
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Signaling server is healthy."))
}

// NewRouter wires the relay's HTTP endpoints.
func NewRouter(hub *relay.Hub, m *metrics.Metrics, allowedOrigins []string, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthCheckHandler)
	mux.Handle("GET /metrics", metrics.PrometheusHandler(m))
	mux.HandleFunc("GET /ws", ServeWs(hub, NewUpgrader(allowedOrigins), logger))
	return mux
}
