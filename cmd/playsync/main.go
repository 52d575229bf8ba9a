// Package main provides the PlaySync CLI application entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"playsync/internal/backend"
	"playsync/internal/bridge"
	"playsync/internal/core"
	httpserver "playsync/internal/http"
	"playsync/internal/i18n"
	"playsync/internal/playback"
	"playsync/internal/spotify"
	"playsync/internal/store"
)

const (
	defaultServerHost = "0.0.0.0"
	envPrefix         = "PLAYSYNC"
)

var (
	cfgFile string
	config  *core.Config
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "playsync",
	Short: "PlaySync - playback synchronization engine",
	Long: `PlaySync keeps one "now playing" view consistent between an embedded browser player
and the remote device control API, and routes playback commands to whichever device is in charge.`,
	RunE: runPlaySync,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	defaults := core.DefaultConfig()
	flags := rootCmd.PersistentFlags()

	flags.StringVar(&cfgFile, "config", "", "config file (default is .env)")
	flags.String("log-level", defaults.Log.Level, "log level (debug, info, warn, error)")
	flags.String("log-format", defaults.Log.Format, "log format (json, text)")
	flags.String("spotify-client-id", "", "Spotify client ID")
	flags.String("spotify-client-secret", "", "Spotify client secret")
	flags.String("spotify-redirect-url", defaults.Spotify.RedirectURL, "Spotify OAuth redirect URL")
	flags.String("spotify-token-path", defaults.Spotify.TokenPath, "Path of the stored Spotify OAuth token")
	flags.String("spotify-api-url", defaults.Spotify.APIBaseURL, "Spotify Web API base URL")
	flags.Duration("spotify-timeout", defaults.Spotify.Timeout, "Spotify Web API request timeout")
	flags.Bool("backend-enabled", defaults.Backend.Enabled, "Take tokens and playlist metadata from the playlist backend")
	flags.String("backend-url", defaults.Backend.BaseURL, "Playlist backend base URL")
	flags.String("backend-session-cookie", "", "Playlist backend session cookie value")
	flags.Duration("backend-timeout", defaults.Backend.Timeout, "Playlist backend request timeout")
	flags.String("player-name", defaults.Player.Name, "Device name of the embedded player")
	flags.Float64("player-initial-volume", defaults.Player.InitialVolume, "Initial volume of the embedded player (0-1)")
	flags.Duration("player-local-poll-interval", defaults.Player.LocalPollInterval, "Embedded player state poll interval")
	flags.Duration("player-remote-poll-interval", defaults.Player.RemotePollInterval, "Remote playback state poll interval")
	flags.Duration("player-queue-poll-interval", defaults.Player.QueuePollInterval, "Upcoming queue poll interval")
	flags.Int("player-queue-limit", defaults.Player.QueueLimit, "Maximum number of upcoming queue items")
	flags.Int("player-track-cache-size", defaults.Player.TrackCacheSize, "Track metadata cache size")
	flags.Duration("player-bridge-timeout", defaults.Player.BridgeCallTimeout, "Timeout of a single embedded player call")
	flags.String("server-host", defaultServerHost, "HTTP server host")
	flags.Int("server-port", defaults.Server.Port, "HTTP server port")
	flags.Int("server-command-limit", defaults.Server.CommandLimitPerMinute,
		"Maximum playback commands per client per minute (0 disables the limit)")
	supportedLangs := strings.Join(i18n.GetSupportedLanguages(), ", ")
	flags.String("language", i18n.DefaultLanguage, fmt.Sprintf("Message language (%s)", supportedLangs))
	flags.Bool("generate-env-example", false, "Generate .env.example file from current configuration and exit")

	if err := viper.BindPFlags(flags); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bind flags: %v\n", err)
		os.Exit(1)
	}
}

func initConfig() {
	// Load .env file explicitly using gotenv
	envFile := ".env"
	if cfgFile != "" {
		envFile = cfgFile
	}

	if err := gotenv.Load(envFile); err != nil {
		// Don't exit if .env file doesn't exist, just warn
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Error loading .env file: %v\n", err)
		}
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	config = buildConfig()
	logger = buildLogger(config.Log.Level, config.Log.Format)
}

func buildConfig() *core.Config {
	cfg := core.DefaultConfig()

	configureSpotify(cfg)
	configureBackend(cfg)
	configurePlayer(cfg)
	configureServer(cfg)
	configureLog(cfg)
	configureApp(cfg)

	return cfg
}

func configureSpotify(cfg *core.Config) {
	cfg.Spotify.ClientID = viper.GetString("spotify-client-id")
	cfg.Spotify.ClientSecret = viper.GetString("spotify-client-secret")
	cfg.Spotify.RedirectURL = viper.GetString("spotify-redirect-url")
	cfg.Spotify.TokenPath = viper.GetString("spotify-token-path")
	cfg.Spotify.APIBaseURL = viper.GetString("spotify-api-url")
	if timeout := viper.GetDuration("spotify-timeout"); timeout > 0 {
		cfg.Spotify.Timeout = timeout
	}
}

func configureBackend(cfg *core.Config) {
	cfg.Backend.Enabled = viper.GetBool("backend-enabled")
	cfg.Backend.BaseURL = strings.TrimRight(viper.GetString("backend-url"), "/")
	cfg.Backend.SessionCookie = viper.GetString("backend-session-cookie")
	if timeout := viper.GetDuration("backend-timeout"); timeout > 0 {
		cfg.Backend.Timeout = timeout
	}
}

func configurePlayer(cfg *core.Config) {
	if name := viper.GetString("player-name"); name != "" {
		cfg.Player.Name = name
	}
	cfg.Player.InitialVolume = viper.GetFloat64("player-initial-volume")

	// Non-positive values fall back to the defaults
	if d := viper.GetDuration("player-local-poll-interval"); d > 0 {
		cfg.Player.LocalPollInterval = d
	}
	if d := viper.GetDuration("player-remote-poll-interval"); d > 0 {
		cfg.Player.RemotePollInterval = d
	}
	if d := viper.GetDuration("player-queue-poll-interval"); d > 0 {
		cfg.Player.QueuePollInterval = d
	}
	if d := viper.GetDuration("player-bridge-timeout"); d > 0 {
		cfg.Player.BridgeCallTimeout = d
	}
	if limit := viper.GetInt("player-queue-limit"); limit > 0 {
		cfg.Player.QueueLimit = limit
	}
	if size := viper.GetInt("player-track-cache-size"); size > 0 {
		cfg.Player.TrackCacheSize = size
	}
}

func configureServer(cfg *core.Config) {
	cfg.Server.Host = viper.GetString("server-host")
	if cfg.Server.Host == "" {
		cfg.Server.Host = defaultServerHost
	}
	cfg.Server.Port = viper.GetInt("server-port")
	cfg.Server.CommandLimitPerMinute = viper.GetInt("server-command-limit")
}

func configureLog(cfg *core.Config) {
	cfg.Log.Level = viper.GetString("log-level")
	cfg.Log.Format = viper.GetString("log-format")
}

func configureApp(cfg *core.Config) {
	cfg.App.Language = viper.GetString("language")
	if cfg.App.Language == "" {
		cfg.App.Language = i18n.DefaultLanguage
	}
}

func buildLogger(level, format string) *zap.Logger {
	var zapLevel zapcore.Level
	switch strings.ToLower(level) {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	if strings.EqualFold(format, "text") {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	builtLogger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("Failed to build logger: %v", err))
	}

	return builtLogger
}

func runPlaySync(cmd *cobra.Command, _ []string) error {
	// Handle generate-env-example flag
	if viper.GetBool("generate-env-example") {
		return generateEnvExample(cmd)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting PlaySync",
		zap.String("version", "1.0.0"),
		zap.Bool("backend_enabled", config.Backend.Enabled),
		zap.String("player_name", config.Player.Name),
		zap.String("language", config.App.Language))

	if err := validateConfig(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	services, err := initializeServices(ctx)
	if err != nil {
		return err
	}

	return runServices(ctx, services)
}

type services struct {
	httpServer *httpserver.Server
	engine     *playback.Engine
}

// playbackSources are the collaborators that differ between running behind
// the playlist backend and talking to Spotify directly.
type playbackSources struct {
	tokens    core.TokenProvider
	playlists core.PlaylistMetadataProvider
	audit     core.AuditSink
}

func initializeServices(ctx context.Context) (*services, error) {
	sources, err := createPlaybackSources(ctx)
	if err != nil {
		return nil, err
	}

	metrics := httpserver.NewMetrics()
	tokens := playback.NewTokenManager(sources.tokens, config.Player.TokenExpiryBuffer, metrics,
		logger.Named("tokens"))
	remote := spotify.NewPlayerAPI(&config.Spotify, tokens, logger.Named("remote"))
	hub := bridge.NewHub(config.Player.BridgeCallTimeout, logger.Named("bridge"))

	engine := playback.NewEngine(&config.Player, playback.EngineDeps{
		Tokens:    tokens,
		Remote:    remote,
		Player:    hub,
		Playlists: sources.playlists,
		Audit:     sources.audit,
		Metrics:   metrics,
		Localizer: i18n.NewLocalizer(config.App.Language),
		Cache:     store.NewTrackCache(config.Player.TrackCacheSize, store.DefaultFalsePositiveRate),
	}, logger.Named("engine"))

	httpServer := httpserver.NewServer(&config.Server, engine, hub, metrics, logger.Named("http"))

	return &services{
		httpServer: httpServer,
		engine:     engine,
	}, nil
}

func createPlaybackSources(ctx context.Context) (*playbackSources, error) {
	if config.Backend.Enabled {
		client := backend.NewClient(&config.Backend, logger.Named("backend"))
		logger.Info("Using playlist backend for tokens and metadata",
			zap.String("backend_url", config.Backend.BaseURL))
		return &playbackSources{tokens: client, playlists: client, audit: client}, nil
	}

	auth := spotify.NewAuthenticator(&config.Spotify, logger.Named("spotify"))
	if err := auth.Authenticate(ctx); err != nil {
		return nil, fmt.Errorf("failed to authenticate with Spotify: %w", err)
	}

	logger.Info("Using direct Spotify authorization")
	return &playbackSources{
		tokens:    auth,
		playlists: spotify.NewPlaylistService(auth.HTTPClient(ctx), logger.Named("playlists")),
		audit:     playback.NewLogAuditSink(logger.Named("audit")),
	}, nil
}

func runServices(ctx context.Context, svcs *services) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return svcs.httpServer.Start(gCtx)
	})

	g.Go(func() error {
		return svcs.engine.Run(gCtx)
	})

	logger.Info("PlaySync started successfully",
		zap.String("http_addr", fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)),
		zap.String("bridge_path", "/player/bridge"))

	if err := g.Wait(); err != nil {
		logger.Error("PlaySync stopped with error", zap.Error(err))
		return err
	}

	logger.Info("PlaySync stopped gracefully")
	return nil
}

func validateConfig() error {
	if config.Backend.Enabled {
		if config.Backend.BaseURL == "" {
			return fmt.Errorf("backend URL is required when the backend is enabled")
		}
	} else if err := validateSpotifyConfig(); err != nil {
		return err
	}

	if config.Player.InitialVolume < 0 || config.Player.InitialVolume > 1 {
		return fmt.Errorf("player initial volume must be between 0 and 1, got %v", config.Player.InitialVolume)
	}

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if !i18n.IsSupported(config.App.Language) {
		return fmt.Errorf("unsupported language %q (supported: %s)",
			config.App.Language, strings.Join(i18n.GetSupportedLanguages(), ", "))
	}

	return nil
}

func validateSpotifyConfig() error {
	if config.Spotify.ClientID == "" {
		return fmt.Errorf("spotify client ID is required without the playlist backend")
	}
	if config.Spotify.ClientSecret == "" {
		return fmt.Errorf("spotify client secret is required without the playlist backend")
	}
	return nil
}

func generateEnvExample(cmd *cobra.Command) error {
	fmt.Println("Generating .env.example file from current configuration...")

	content := generateEnvExampleContent(cmd)

	if err := os.WriteFile(".env.example", []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write .env.example: %w", err)
	}

	fmt.Println("Successfully generated .env.example file")
	return nil
}

// envSection groups flags under one commented heading in .env.example.
type envSection struct {
	title string
	flags []string
}

var envSections = []envSection{
	{"Spotify - required unless the playlist backend is enabled", []string{
		"spotify-client-id", "spotify-client-secret", "spotify-redirect-url",
		"spotify-token-path", "spotify-api-url", "spotify-timeout",
	}},
	{"Playlist Backend - issues player tokens and records playback events", []string{
		"backend-enabled", "backend-url", "backend-session-cookie", "backend-timeout",
	}},
	{"Embedded Player", []string{
		"player-name", "player-initial-volume", "player-local-poll-interval",
		"player-remote-poll-interval", "player-queue-poll-interval", "player-queue-limit",
		"player-track-cache-size", "player-bridge-timeout",
	}},
	{"HTTP Server Configuration", []string{"server-host", "server-port", "server-command-limit"}},
	{"Localization", []string{"language"}},
	{"Logging Configuration", []string{"log-level", "log-format"}},
}

func generateEnvExampleContent(cmd *cobra.Command) string {
	var content strings.Builder

	// Header
	content.WriteString("# =============================================================================\n")
	content.WriteString("# PlaySync Configuration\n")
	content.WriteString("# =============================================================================\n")
	content.WriteString("#\n")
	content.WriteString("# Copy this file to .env and update with your values\n")
	content.WriteString("# All environment variables have CLI flag equivalents (use --help to see them)\n")
	content.WriteString("#\n")
	fmt.Fprintf(&content, "# Format: %s_<SECTION>_<SETTING>=value\n", envPrefix)
	content.WriteString("# CLI equivalent: --<section>-<setting>\n")
	content.WriteString("#\n\n")

	for _, section := range envSections {
		generateSection(&content, cmd, section)
	}

	return content.String()
}

func generateSection(content *strings.Builder, cmd *cobra.Command, section envSection) {
	content.WriteString("# -----------------------------------------------------------------------------\n")
	fmt.Fprintf(content, "# %s\n", section.title)
	content.WriteString("# -----------------------------------------------------------------------------\n")

	for _, name := range section.flags {
		f := cmd.PersistentFlags().Lookup(name)
		if f == nil {
			continue
		}
		fmt.Fprintf(content, "# %s (CLI: --%s)\n", f.Usage, name)
		fmt.Fprintf(content, "%s=%s\n", flagToEnvVar(name), getDefaultValueString(cmd, name))
	}
	content.WriteString("\n")
}

func flagToEnvVar(flagName string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

func getDefaultValueString(cmd *cobra.Command, flagName string) string {
	if f := cmd.PersistentFlags().Lookup(flagName); f != nil {
		return f.DefValue
	}
	return ""
}
