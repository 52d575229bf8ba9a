package core

import (
	"time"

	"playsync/internal/i18n"
)

const (
	// DefaultPlayerName is the device name the embedded player registers with
	DefaultPlayerName = "Playlist Polisher Player"
	// DefaultInitialVolume is the volume the embedded player starts with
	DefaultInitialVolume = 0.8
	// DefaultLocalPollInterval is how often the embedded player state is read while ready
	DefaultLocalPollInterval = 1 * time.Second
	// DefaultRemotePollInterval is how often the remote control API is polled
	DefaultRemotePollInterval = 3 * time.Second
	// DefaultQueuePollInterval is how often the upcoming queue is refreshed
	DefaultQueuePollInterval = 10 * time.Second
	// DefaultQueueLimit caps the number of upcoming queue items kept
	DefaultQueueLimit = 15
	// DefaultTokenExpiryBuffer is subtracted from the token lifetime before caching it
	DefaultTokenExpiryBuffer = 60 * time.Second
	// DefaultDeviceRetryDelay is the wait before retrying a command that hit an unregistered device
	DefaultDeviceRetryDelay = 350 * time.Millisecond
	// DefaultPlaybackVerifyDelay is the wait before checking that playback actually started
	DefaultPlaybackVerifyDelay = 300 * time.Millisecond
	// DefaultRequestedTrackTTL bounds how long an explicit track request overrides incoming payloads
	DefaultRequestedTrackTTL = 10 * time.Second
	// DefaultTrackCacheSize bounds the track metadata cache
	DefaultTrackCacheSize = 500
	// DefaultBackendTimeout is the request timeout for the playlist backend
	DefaultBackendTimeout = 10 * time.Second
	// DefaultRemoteAPITimeout is the request timeout for the remote control API
	DefaultRemoteAPITimeout = 10 * time.Second
	// DefaultBridgeCallTimeout bounds a single call into the embedded player
	DefaultBridgeCallTimeout = 5 * time.Second
	// DefaultCommandLimitPerMinute caps playback commands per HTTP client
	DefaultCommandLimitPerMinute = 120
)

type Config struct {
	Spotify SpotifyConfig
	Backend BackendConfig
	Player  PlayerConfig
	Server  ServerConfig
	Log     LogConfig
	App     AppConfig
}

type SpotifyConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	TokenPath    string
	APIBaseURL   string
	Timeout      time.Duration
}

// BackendConfig points at the playlist backend that issues player tokens,
// summarizes playlists and records playback events.
type BackendConfig struct {
	Enabled       bool
	BaseURL       string
	SessionCookie string
	Timeout       time.Duration
}

type PlayerConfig struct {
	Name                string
	InitialVolume       float64
	LocalPollInterval   time.Duration
	RemotePollInterval  time.Duration
	QueuePollInterval   time.Duration
	QueueLimit          int
	TokenExpiryBuffer   time.Duration
	DeviceRetryDelay    time.Duration
	PlaybackVerifyDelay time.Duration
	RequestedTrackTTL   time.Duration
	TrackCacheSize      int
	BridgeCallTimeout   time.Duration
}

type ServerConfig struct {
	Host                  string
	Port                  int
	ReadTimeout           time.Duration
	WriteTimeout          time.Duration
	CommandLimitPerMinute int
}

type LogConfig struct {
	Level  string
	Format string
}

type AppConfig struct {
	Language string
}

func DefaultConfig() *Config {
	return &Config{
		Spotify: SpotifyConfig{
			RedirectURL: "http://127.0.0.1:8080/callback",
			TokenPath:   "./spotify_token.json",
			APIBaseURL:  "https://api.spotify.com/v1",
			Timeout:     DefaultRemoteAPITimeout,
		},
		Backend: BackendConfig{
			Enabled: false,
			BaseURL: "http://127.0.0.1:8000",
			Timeout: DefaultBackendTimeout,
		},
		Player: DefaultPlayerConfig(),
		Server: ServerConfig{
			Host:                  "0.0.0.0",
			Port:                  8080,
			ReadTimeout:           10 * time.Second,
			WriteTimeout:          10 * time.Second,
			CommandLimitPerMinute: DefaultCommandLimitPerMinute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		App: AppConfig{
			Language: i18n.DefaultLanguage,
		},
	}
}

// DefaultPlayerConfig returns the engine timings used when nothing is configured.
func DefaultPlayerConfig() PlayerConfig {
	return PlayerConfig{
		Name:                DefaultPlayerName,
		InitialVolume:       DefaultInitialVolume,
		LocalPollInterval:   DefaultLocalPollInterval,
		RemotePollInterval:  DefaultRemotePollInterval,
		QueuePollInterval:   DefaultQueuePollInterval,
		QueueLimit:          DefaultQueueLimit,
		TokenExpiryBuffer:   DefaultTokenExpiryBuffer,
		DeviceRetryDelay:    DefaultDeviceRetryDelay,
		PlaybackVerifyDelay: DefaultPlaybackVerifyDelay,
		RequestedTrackTTL:   DefaultRequestedTrackTTL,
		TrackCacheSize:      DefaultTrackCacheSize,
		BridgeCallTimeout:   DefaultBridgeCallTimeout,
	}
}
