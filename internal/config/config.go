// Package config loads runtime configuration for the callbox server and
// client binaries.
//
// Configuration is environment-first: a .env file is honoured when present,
// every knob has a CALLBOX_* environment variable, and a small flag set exists
// for the handful of values operators most often override ad hoc.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/pion/webrtc/v4"
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type AuthMode string

const (
	// AuthModeNone disables credential checks. Dev only; Validate rejects it
	// in prod mode.
	AuthModeNone   AuthMode = "none"
	AuthModeAPIKey AuthMode = "apikey"
	AuthModeJWT    AuthMode = "jwt"
)

type MailboxBackend string

const (
	MailboxBackendMemory MailboxBackend = "memory"
	MailboxBackendRedis  MailboxBackend = "redis"
)

type HistoryBackend string

const (
	HistoryBackendMemory   HistoryBackend = "memory"
	HistoryBackendPostgres HistoryBackend = "postgres"
	HistoryBackendSQLite   HistoryBackend = "sqlite"
)

type Config struct {
	ListenAddr      string        `envconfig:"CALLBOX_LISTEN_ADDR" default:"127.0.0.1:8080"`
	Mode            Mode          `envconfig:"CALLBOX_MODE" default:"dev"`
	LogFormat       LogFormat     `envconfig:"CALLBOX_LOG_FORMAT"`
	LogLevel        string        `envconfig:"CALLBOX_LOG_LEVEL" default:"info"`
	ShutdownTimeout time.Duration `envconfig:"CALLBOX_SHUTDOWN_TIMEOUT" default:"15s"`
	AllowedOrigins  []string      `envconfig:"CALLBOX_ALLOWED_ORIGINS"`

	AuthMode  AuthMode `envconfig:"CALLBOX_AUTH_MODE" default:"none"`
	APIKey    string   `envconfig:"CALLBOX_API_KEY"`
	JWTSecret string   `envconfig:"CALLBOX_JWT_SECRET"`

	// Mailbox service knobs.
	MailboxBackend       MailboxBackend `envconfig:"CALLBOX_MAILBOX_BACKEND" default:"memory"`
	RedisAddr            string         `envconfig:"CALLBOX_REDIS_ADDR" default:"localhost:6379"`
	RedisPassword        string         `envconfig:"CALLBOX_REDIS_PASSWORD"`
	RedisDB              int            `envconfig:"CALLBOX_REDIS_DB" default:"0"`
	MailboxTTL           time.Duration  `envconfig:"CALLBOX_MAILBOX_TTL" default:"5m"`
	MaxQueuedPerIdentity int            `envconfig:"CALLBOX_MAX_QUEUED_PER_IDENTITY" default:"256"`
	MaxSignalBodyBytes   int64          `envconfig:"CALLBOX_MAX_SIGNAL_BODY_BYTES" default:"65536"`
	SendRatePerIdentity  int64          `envconfig:"CALLBOX_SEND_RATE_PER_IDENTITY" default:"25"`
	SendBurstPerIdentity int64          `envconfig:"CALLBOX_SEND_BURST_PER_IDENTITY" default:"50"`

	// Call history.
	HistoryBackend HistoryBackend `envconfig:"CALLBOX_HISTORY_BACKEND" default:"memory"`
	PostgresDSN    string         `envconfig:"CALLBOX_POSTGRES_DSN"`
	SQLitePath     string         `envconfig:"CALLBOX_SQLITE_PATH" default:"callbox-history.db"`

	// Client call lifecycle tunables.
	PollInterval  time.Duration `envconfig:"CALLBOX_POLL_INTERVAL" default:"1s"`
	AnswerTimeout time.Duration `envconfig:"CALLBOX_ANSWER_TIMEOUT" default:"30s"`

	// WebSocket push binding.
	WSIdleTimeout  time.Duration `envconfig:"CALLBOX_WS_IDLE_TIMEOUT" default:"60s"`
	WSPingInterval time.Duration `envconfig:"CALLBOX_WS_PING_INTERVAL" default:"20s"`

	// ICE bootstrap for clients.
	ICEServerURLs        []string      `envconfig:"CALLBOX_ICE_SERVER_URLS"`
	ICEGatheringTimeout  time.Duration `envconfig:"CALLBOX_ICE_GATHERING_TIMEOUT" default:"2s"`
	TURNRESTSharedSecret string        `envconfig:"CALLBOX_TURN_REST_SHARED_SECRET"`
	TURNRESTTTLSeconds   int64         `envconfig:"CALLBOX_TURN_REST_TTL_SECONDS" default:"3600"`
	TURNRESTUserPrefix   string        `envconfig:"CALLBOX_TURN_REST_USERNAME_PREFIX" default:"callbox"`

	// WebRTC socket restrictions for the client media plane.
	WebRTCUDPPortMin uint16 `envconfig:"CALLBOX_WEBRTC_UDP_PORT_MIN"`
	WebRTCUDPPortMax uint16 `envconfig:"CALLBOX_WEBRTC_UDP_PORT_MAX"`
}

// Load reads the .env file (if any), the environment, and then applies flag
// overrides from args. It returns flag.ErrHelp when -h/-help is requested.
func Load(args []string) (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}

	fs := flag.NewFlagSet("callbox", flag.ContinueOnError)
	fs.StringVar(&cfg.ListenAddr, "listen-addr", cfg.ListenAddr, "host:port to listen on")
	fs.StringVar((*string)(&cfg.Mode), "mode", string(cfg.Mode), "dev or prod")
	fs.StringVar((*string)(&cfg.LogFormat), "log-format", string(cfg.LogFormat), "text or json (defaults per mode)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "client mailbox poll interval")
	fs.DurationVar(&cfg.AnswerTimeout, "answer-timeout", cfg.AnswerTimeout, "how long a dialing call waits for an answer")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.LogFormat == "" {
		if c.Mode == ModeProd {
			c.LogFormat = LogFormatJSON
		} else {
			c.LogFormat = LogFormatText
		}
	}
}

func (c Config) Validate() error {
	switch c.Mode {
	case ModeDev, ModeProd:
	default:
		return fmt.Errorf("config: unsupported mode %q", c.Mode)
	}

	switch c.LogFormat {
	case LogFormatText, LogFormatJSON:
	default:
		return fmt.Errorf("config: unsupported log format %q", c.LogFormat)
	}
	if _, err := parseLogLevel(c.LogLevel); err != nil {
		return err
	}

	switch c.AuthMode {
	case AuthModeNone:
		if c.Mode == ModeProd {
			return fmt.Errorf("config: auth mode %q is not allowed in prod mode", c.AuthMode)
		}
	case AuthModeAPIKey:
		if c.APIKey == "" {
			return fmt.Errorf("config: %s requires CALLBOX_API_KEY", c.AuthMode)
		}
	case AuthModeJWT:
		if c.JWTSecret == "" {
			return fmt.Errorf("config: %s requires CALLBOX_JWT_SECRET", c.AuthMode)
		}
	default:
		return fmt.Errorf("config: unsupported auth mode %q", c.AuthMode)
	}

	switch c.MailboxBackend {
	case MailboxBackendMemory:
	case MailboxBackendRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("config: %s mailbox backend requires CALLBOX_REDIS_ADDR", c.MailboxBackend)
		}
	default:
		return fmt.Errorf("config: unsupported mailbox backend %q", c.MailboxBackend)
	}

	switch c.HistoryBackend {
	case HistoryBackendMemory:
	case HistoryBackendPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("config: %s history backend requires CALLBOX_POSTGRES_DSN", c.HistoryBackend)
		}
	case HistoryBackendSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("config: %s history backend requires CALLBOX_SQLITE_PATH", c.HistoryBackend)
		}
	default:
		return fmt.Errorf("config: unsupported history backend %q", c.HistoryBackend)
	}

	if c.PollInterval <= 0 {
		return fmt.Errorf("config: poll interval must be > 0, got %s", c.PollInterval)
	}
	if c.AnswerTimeout <= 0 {
		return fmt.Errorf("config: answer timeout must be > 0, got %s", c.AnswerTimeout)
	}
	if c.MaxQueuedPerIdentity <= 0 {
		return fmt.Errorf("config: max queued per identity must be > 0, got %d", c.MaxQueuedPerIdentity)
	}

	if (c.WebRTCUDPPortMin == 0) != (c.WebRTCUDPPortMax == 0) {
		return fmt.Errorf("config: webrtc udp port min/max must be set together")
	}
	if c.WebRTCUDPPortMin != 0 && c.WebRTCUDPPortMin > c.WebRTCUDPPortMax {
		return fmt.Errorf("config: webrtc udp port min %d > max %d", c.WebRTCUDPPortMin, c.WebRTCUDPPortMax)
	}

	for _, raw := range c.ICEServerURLs {
		if err := validateICEURL(raw); err != nil {
			return err
		}
	}
	if c.TURNRESTSharedSecret != "" && c.TURNRESTTTLSeconds <= 0 {
		return fmt.Errorf("config: TURN REST TTL must be > 0, got %d", c.TURNRESTTTLSeconds)
	}

	return nil
}

func validateICEURL(raw string) error {
	trimmed := strings.TrimSpace(raw)
	for _, prefix := range []string{"stun:", "stuns:", "turn:", "turns:"} {
		if strings.HasPrefix(trimmed, prefix) && len(trimmed) > len(prefix) {
			return nil
		}
	}
	return fmt.Errorf("config: invalid ICE server url %q", raw)
}

// PeerConnectionICEServers maps the configured URLs into the shape pion
// expects. TURN credentials are minted separately via the TURN REST endpoint
// and attached by the client, so URLs here carry no static credentials.
func (c Config) PeerConnectionICEServers() []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, 0, len(c.ICEServerURLs))
	for _, u := range c.ICEServerURLs {
		servers = append(servers, webrtc.ICEServer{URLs: []string{strings.TrimSpace(u)}})
	}
	return servers
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("config: unsupported log level %q", raw)
	}
}
