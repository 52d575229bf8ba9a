package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"playsync/internal/core"
	"playsync/internal/flood"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = (streamPongWait * 9) / 10

	maxCommandBody = 64 * 1024
)

// PlayerService is the playback engine as the HTTP API sees it.
type PlayerService interface {
	State() core.PlaybackState
	Queue() []core.NormalizedTrack
	Subscribe() (<-chan core.PlaybackState, func())

	TogglePlay(ctx context.Context) error
	Next(ctx context.Context) error
	Previous(ctx context.Context) error
	Seek(ctx context.Context, positionMs int) error
	SetVolume(ctx context.Context, volume float64) error
	ToggleMute(ctx context.Context) error
	SetShuffle(ctx context.Context, enabled bool) error
	SetRepeat(ctx context.Context, mode core.RepeatMode) error
	StartPlayback(ctx context.Context, req *core.PlayRequest) (*core.StartResult, error)

	EndSession()
	Restart()
}

type Server struct {
	config    *core.ServerConfig
	logger    *zap.Logger
	server    *http.Server
	metrics   *Metrics
	floodgate *flood.Floodgate
}

// commandBody carries the arguments of every single-value player command.
type commandBody struct {
	PositionMs *int     `json:"position_ms"`
	Volume     *float64 `json:"volume"`
	Enabled    *bool    `json:"enabled"`
	Mode       string   `json:"mode"`
}

type errorResponse struct {
	Error string `json:"error"`
}

var streamUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// NewServer wires the engine API, the embedded player bridge and metrics.
// bridge may be nil when no embedded player page is served.
func NewServer(config *core.ServerConfig, service PlayerService, bridge http.Handler,
	metrics *Metrics, logger *zap.Logger,
) *Server {
	floodgate := flood.New(config.CommandLimitPerMinute)
	mux := setupRoutes(service, bridge, metrics, floodgate, logger)

	return &Server{
		config:    config,
		logger:    logger,
		server:    createHTTPServer(config, mux),
		metrics:   metrics,
		floodgate: floodgate,
	}
}

func createHTTPServer(config *core.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      handler,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
}

func setupRoutes(service PlayerService, bridge http.Handler, metrics *Metrics,
	floodgate *flood.Floodgate, logger *zap.Logger,
) *http.ServeMux {
	h := &handlers{service: service, metrics: metrics, floodgate: floodgate, logger: logger}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "playsync"})
	})
	mux.HandleFunc("GET /readyz", h.readyz)
	mux.Handle("GET /metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /{$}", h.home)

	mux.HandleFunc("GET /api/state", h.state)
	mux.HandleFunc("GET /api/queue", h.queue)
	mux.HandleFunc("GET /api/state/stream", h.stream)
	mux.HandleFunc("POST /api/player/{command}", h.command)
	mux.HandleFunc("POST /api/session/{action}", h.session)

	if bridge != nil {
		mux.Handle("GET /player/bridge", bridge)
	}

	return mux
}

func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server",
		zap.String("addr", s.server.Addr),
		zap.Int("command_limit_per_minute", s.config.CommandLimitPerMinute))

	go s.floodgate.Run(ctx)

	go func() {
		<-ctx.Done()
		s.logger.Info("Shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Failed to shutdown HTTP server gracefully", zap.Error(err))
		}
	}()

	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}

	return nil
}

func (s *Server) GetMetrics() *Metrics {
	return s.metrics
}

type handlers struct {
	service   PlayerService
	metrics   *Metrics
	floodgate *flood.Floodgate
	logger    *zap.Logger
}

func (h *handlers) readyz(w http.ResponseWriter, _ *http.Request) {
	st := h.service.State()
	status := http.StatusOK
	body := map[string]any{"status": "ready", "service": "playsync", "device_ready": st.IsReady}
	if st.HasPlaybackScope == nil {
		// no session has fetched a token yet
		status = http.StatusServiceUnavailable
		body["status"] = "starting"
	}
	writeJSON(w, status, body)
}

func (h *handlers) home(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(homePage)); err != nil {
		h.logger.Debug("Failed to write home page", zap.Error(err))
	}
}

func (h *handlers) state(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.service.State())
}

func (h *handlers) queue(w http.ResponseWriter, _ *http.Request) {
	tracks := h.service.Queue()
	if tracks == nil {
		tracks = []core.NormalizedTrack{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"queue": tracks})
}

func (h *handlers) command(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("command")
	if !h.floodgate.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many playback commands, slow down"))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxCommandBody)

	if name == "play" {
		h.play(w, r)
		return
	}

	var body commandBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	run, err := h.commandFunc(name, &body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := run(r.Context()); err != nil {
		h.fail(w, name, err)
		return
	}
	writeJSON(w, http.StatusOK, h.service.State())
}

// commandFunc validates the arguments of a named command and binds them.
func (h *handlers) commandFunc(name string, body *commandBody) (func(context.Context) error, error) {
	switch name {
	case "toggle":
		return h.service.TogglePlay, nil
	case "next":
		return h.service.Next, nil
	case "previous":
		return h.service.Previous, nil
	case "mute":
		return h.service.ToggleMute, nil
	case "seek":
		if body.PositionMs == nil || *body.PositionMs < 0 {
			return nil, errors.New("seek needs a non-negative position_ms")
		}
		return func(ctx context.Context) error { return h.service.Seek(ctx, *body.PositionMs) }, nil
	case "volume":
		if body.Volume == nil || *body.Volume < 0 || *body.Volume > 1 {
			return nil, errors.New("volume must be between 0 and 1")
		}
		return func(ctx context.Context) error { return h.service.SetVolume(ctx, *body.Volume) }, nil
	case "shuffle":
		if body.Enabled == nil {
			return nil, errors.New("shuffle needs enabled")
		}
		return func(ctx context.Context) error { return h.service.SetShuffle(ctx, *body.Enabled) }, nil
	case "repeat":
		mode, err := core.ParseRepeatMode(body.Mode)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) error { return h.service.SetRepeat(ctx, mode) }, nil
	default:
		return nil, fmt.Errorf("unknown command %q", name)
	}
}

func (h *handlers) play(w http.ResponseWriter, r *http.Request) {
	var req core.PlayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := h.service.StartPlayback(r.Context(), &req)
	if err != nil {
		h.fail(w, "play", err)
		return
	}

	status := http.StatusOK
	if result.Deferred {
		status = http.StatusAccepted
	}
	writeJSON(w, status, result)
}

func (h *handlers) session(w http.ResponseWriter, r *http.Request) {
	switch action := r.PathValue("action"); action {
	case "end":
		h.service.EndSession()
	case "start":
		h.service.Restart()
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown session action %q", action))
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// clientKey identifies the caller for rate limiting.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (h *handlers) fail(w http.ResponseWriter, name string, err error) {
	status := statusFor(err)
	h.logger.Debug("Player command rejected",
		zap.String("command", name),
		zap.Int("status", status),
		zap.Error(err))
	writeError(w, status, err)
}

// statusFor maps engine errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrAuthScope):
		return http.StatusForbidden
	case errors.Is(err, core.ErrNoSession), errors.Is(err, core.ErrDeviceNotReady):
		return http.StatusConflict
	case errors.Is(err, core.ErrTokenFetch), errors.Is(err, core.ErrNetwork):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// stream pushes every published state to a websocket client. A slow client
// only ever sees the newest state.
func (h *handlers) stream(w http.ResponseWriter, r *http.Request) {
	conn, err := streamUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("Failed to upgrade state stream", zap.Error(err))
		return
	}
	defer conn.Close()

	states, unsubscribe := h.service.Subscribe()
	defer unsubscribe()

	h.metrics.StreamSubscribers.Inc()
	defer h.metrics.StreamSubscribers.Dec()

	// the reader only exists to process pongs and notice the close
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadDeadline(time.Now().Add(streamPongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(streamPongWait))
			return nil
		})
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case st, ok := <-states:
			if !ok {
				return
			}
			if err := writeState(conn, st); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeState(conn *websocket.Conn, st core.PlaybackState) error {
	conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return conn.WriteJSON(st)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

const homePage = `<!DOCTYPE html>
<html>
<head>
    <title>PlaySync</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 40px; }
        .header { color: #333; }
        .endpoint { margin: 10px 0; }
        .endpoint a { text-decoration: none; color: #0066cc; }
        .endpoint a:hover { text-decoration: underline; }
    </style>
</head>
<body>
    <h1 class="header">PlaySync</h1>
    <p>Playback synchronization engine</p>

    <h2>Endpoints</h2>
    <div class="endpoint"><a href="/api/state">State</a> - Current playback state</div>
    <div class="endpoint"><a href="/api/queue">Queue</a> - Upcoming tracks</div>
    <div class="endpoint"><a href="/metrics">Metrics</a> - Prometheus metrics</div>
    <div class="endpoint"><a href="/healthz">Health</a> - Health check</div>
    <div class="endpoint"><a href="/readyz">Ready</a> - Readiness check</div>
</body>
</html>`
