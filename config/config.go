package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the meeting client configuration loaded from environment.
type Config struct {
	Signaling   SignalingConfig
	Redis       RedisConfig
	WebRTC      WebRTCConfig
	Recovery    RecoveryConfig
	Diagnostics DiagnosticsConfig
	Database    DatabaseConfig
	JWT         JWTConfig
	AWS         AWSConfig
	Identity    IdentityConfig
}

// SignalingConfig selects and tunes the signaling transports.
type SignalingConfig struct {
	RelayURL       string // ws(s):// relay; empty skips straight to broadcast
	ConnectTimeout time.Duration
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	MaxAttempts    int
	Broadcast      string // "memory" or "redis"
	Channel        string
	SettleDelay    time.Duration
}

// RedisConfig holds Redis connection settings for the redis broadcast bus.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// WebRTCConfig holds STUN/TURN ICE server settings.
type WebRTCConfig struct {
	ICEUrls        []string // e.g. stun:stun.l.google.com:19302 (comma-separated in env)
	TURNUsername   string
	TURNCredential string
}

// RecoveryConfig tunes peer connection recovery.
type RecoveryConfig struct {
	DisconnectCheckDelay time.Duration
	ReconnectDelay       time.Duration
	MaxAttempts          int // 0 = retry forever
	RelayOnlyAfter       int // 0 = never force TURN
}

// DiagnosticsConfig holds the error log size and the local HTTP endpoint.
type DiagnosticsConfig struct {
	Capacity     int
	Addr         string // empty disables the HTTP server
	ExportBucket string // empty disables S3 export
	ExportPrefix string
}

// DatabaseConfig holds PostgreSQL connection settings. Without a URL the
// meeting history is kept in memory.
type DatabaseConfig struct {
	URL string
}

// JWTConfig holds JWT validation settings for identity tokens.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// AWSConfig holds AWS credentials for diagnostics export.
type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// IdentityConfig is the local participant when no token is given.
type IdentityConfig struct {
	Token string
	ID    string
	Name  string
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	cfg := &Config{
		Signaling: SignalingConfig{
			RelayURL:       getEnv("SIGNALING_URL", ""),
			ConnectTimeout: getEnvDuration("SIGNALING_CONNECT_TIMEOUT", 5*time.Second),
			BackoffBase:    getEnvDuration("SIGNALING_BACKOFF_BASE", time.Second),
			BackoffMax:     getEnvDuration("SIGNALING_BACKOFF_MAX", 30*time.Second),
			MaxAttempts:    getEnvInt("SIGNALING_MAX_ATTEMPTS", 5),
			Broadcast:      strings.ToLower(getEnv("SIGNALING_BROADCAST", "memory")),
			Channel:        getEnv("SIGNALING_CHANNEL", "meetings"),
			SettleDelay:    getEnvDuration("SIGNALING_SETTLE_DELAY", 100*time.Millisecond),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		WebRTC: WebRTCConfig{
			ICEUrls:        splitTrim(getEnv("WEBRTC_ICE_URLS", "stun:stun.l.google.com:19302"), ","),
			TURNUsername:   getEnv("WEBRTC_TURN_USERNAME", ""),
			TURNCredential: getEnv("WEBRTC_TURN_CREDENTIAL", ""),
		},
		Recovery: RecoveryConfig{
			DisconnectCheckDelay: getEnvDuration("RECOVERY_DISCONNECT_CHECK", 1500*time.Millisecond),
			ReconnectDelay:       getEnvDuration("RECOVERY_RECONNECT_DELAY", time.Second),
			MaxAttempts:          getEnvInt("RECOVERY_MAX_ATTEMPTS", 10),
			RelayOnlyAfter:       getEnvInt("RECOVERY_RELAY_ONLY_AFTER", 3),
		},
		Diagnostics: DiagnosticsConfig{
			Capacity:     getEnvInt("DIAGNOSTICS_CAPACITY", 100),
			Addr:         getEnv("DIAGNOSTICS_ADDR", "127.0.0.1:8090"),
			ExportBucket: getEnv("DIAGNOSTICS_EXPORT_BUCKET", ""),
			ExportPrefix: getEnv("DIAGNOSTICS_EXPORT_PREFIX", ""),
		},
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
		},
		Identity: IdentityConfig{
			Token: getEnv("MEETING_TOKEN", ""),
			ID:    getEnv("MEETING_PARTICIPANT_ID", ""),
			Name:  getEnv("MEETING_PARTICIPANT_NAME", ""),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	switch c.Signaling.Broadcast {
	case "memory", "redis":
	default:
		return fmt.Errorf("SIGNALING_BROADCAST must be memory or redis, got %q", c.Signaling.Broadcast)
	}
	if c.Recovery.MaxAttempts < 0 || c.Recovery.RelayOnlyAfter < 0 {
		return fmt.Errorf("recovery attempt limits must not be negative")
	}
	if c.Diagnostics.Capacity <= 0 {
		return fmt.Errorf("DIAGNOSTICS_CAPACITY must be positive")
	}
	return nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("1500ms") or plain milliseconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Millisecond
	}
	return fallback
}

func splitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
