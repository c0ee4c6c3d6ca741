package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/hitoshi/fleetdesk/internal/database"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Auth
	JWTSecret            string
	SessionMaxAge        int
	SessionRefreshMargin time.Duration
	SessionCheckInterval time.Duration
	SessionFile          string

	// Realtime
	RealtimeMinReconnect time.Duration
	RealtimeMaxReconnect time.Duration

	// Rate Limit
	RateLimitGeneral  int
	RateLimitMutation int

	// Link probe
	LinkProbeTimeout  time.Duration
	LinkProbeInterval time.Duration
	LinkProbeMaxSize  int64

	// Cleanup
	CleanupInterval          time.Duration
	UnconfirmedRetentionDays int

	// Server
	ListenHost string
	ServerPort string
	BaseURL    string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 3600)
	cfg.SessionRefreshMargin = getEnvDuration("SESSION_REFRESH_MARGIN", 5*time.Minute)
	cfg.SessionCheckInterval = getEnvDuration("SESSION_CHECK_INTERVAL", 30*time.Second)
	cfg.SessionFile = getEnvString("SESSION_FILE", "")
	cfg.RealtimeMinReconnect = getEnvDuration("REALTIME_MIN_RECONNECT", 10*time.Second)
	cfg.RealtimeMaxReconnect = getEnvDuration("REALTIME_MAX_RECONNECT", time.Minute)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitMutation = getEnvInt("RATE_LIMIT_MUTATION", 30)
	cfg.LinkProbeTimeout = getEnvDuration("LINK_PROBE_TIMEOUT", 10*time.Second)
	cfg.LinkProbeInterval = getEnvDuration("LINK_PROBE_INTERVAL", time.Second)
	cfg.LinkProbeMaxSize = getEnvInt64("LINK_PROBE_MAX_SIZE", 1048576)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", 24*time.Hour)
	cfg.UnconfirmedRetentionDays = getEnvInt("UNCONFIRMED_RETENTION_DAYS", 7)
	cfg.ListenHost = getEnvString("LISTEN_HOST", "127.0.0.1")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.BaseURL = getEnvString("BASE_URL", "http://localhost:"+cfg.ServerPort)
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	// 通知チャンネルはトリガー定義に固定されているため変更できない
	if ch := os.Getenv("REALTIME_CHANNEL"); ch != "" && ch != database.ChangeChannel {
		return nil, fmt.Errorf("REALTIME_CHANNEL (%q) is not supported: change triggers publish to %q",
			ch, database.ChangeChannel)
	}

	if cfg.RealtimeMaxReconnect < cfg.RealtimeMinReconnect {
		return nil, fmt.Errorf("REALTIME_MAX_RECONNECT (%v) must not be shorter than REALTIME_MIN_RECONNECT (%v)",
			cfg.RealtimeMaxReconnect, cfg.RealtimeMinReconnect)
	}

	return cfg, nil
}

// ListenAddr はAPIサーバーが待ち受けるアドレスを返す。
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.ListenHost, c.ServerPort)
}

// SessionTTL はセッションの有効期間を返す。
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionMaxAge) * time.Second
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
