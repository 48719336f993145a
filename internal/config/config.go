// Package config は環境変数から通知サービスの設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// validate は設定構造体の検証器。
var validate = validator.New(validator.WithRequiredStructEnabled())

// Config はサービス全体の設定。
type Config struct {
	Server     ServerConfig
	Auth       AuthConfig
	Realtime   RealtimeConfig
	EventStore EventStoreConfig
}

// ServerConfig はHTTPサーバーと永続化の設定。
type ServerConfig struct {
	// Port はリッスンポート（PORT）。
	Port string `validate:"required,numeric"`
	// DatabasePath はSQLiteデータベースのDSN（DATABASE_PATH）。
	DatabasePath string `validate:"required"`
	// AllowedOrigins はCORSとWebSocketで許可するOrigin（CORS_ALLOWED_ORIGINS、カンマ区切り）。
	AllowedOrigins []string
}

// AuthConfig はトークン検証の設定。
type AuthConfig struct {
	// SigningMethod は受け入れる署名アルゴリズム（JWT_SIGNING_METHOD）。
	SigningMethod string `validate:"required,oneof=HS256 HS384 HS512 RS256 RS384 RS512"`
	// SigningKey はHMACシークレットまたはRSA公開鍵（JWT_SIGNING_KEY）。
	SigningKey string `validate:"required"`
	// Audience は要求するaudクレーム（JWT_AUDIENCE）。空なら検証しない。
	Audience string
	// DevTokensEnabled は開発用トークン発行エンドポイントを有効にする（DEV_TOKENS_ENABLED）。
	DevTokensEnabled bool
}

// RealtimeConfig はWebSocket配信の設定。
type RealtimeConfig struct {
	// PingPeriod はpingの送信間隔（WS_PING_PERIOD）。0なら送信しない。
	PingPeriod time.Duration `validate:"gte=0"`
	// WriteTimeout は1フレームの送信に許す時間（WS_WRITE_TIMEOUT）。
	WriteTimeout time.Duration `validate:"gt=0"`
	// QueueSize は配信キューの長さ（DISPATCH_QUEUE_SIZE）。
	QueueSize int `validate:"gte=1"`
}

// EventStoreConfig は監査イベントの送信先の設定。
type EventStoreConfig struct {
	// URL はEvent StoreのベースURL（EVENTSTORE_URL）。空なら送信しない。
	URL string `validate:"omitempty,url"`
	// Timeout は1回の送信に許す時間（EVENTSTORE_TIMEOUT）。
	Timeout time.Duration `validate:"gt=0"`
}

// Load は環境変数から設定を読み込み、検証する。
func Load() (*Config, error) {
	auth, err := loadAuthConfig()
	if err != nil {
		return nil, err
	}

	realtime, err := loadRealtimeConfig()
	if err != nil {
		return nil, err
	}

	eventStore, err := loadEventStoreConfig()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server:     loadServerConfig(),
		Auth:       auth,
		Realtime:   realtime,
		EventStore: eventStore,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate は設定値の整合性を検証する。
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("設定値が不正です: %w", err)
	}
	if c.Auth.DevTokensEnabled && !strings.HasPrefix(c.Auth.SigningMethod, "HS") {
		return errors.New("設定値が不正です: DEV_TOKENS_ENABLEDはHMAC署名（HS256/HS384/HS512）でのみ使用できます")
	}
	return nil
}

// Addr はhttp.Serverに渡すリッスンアドレスを返す。
func (c ServerConfig) Addr() string {
	return ":" + c.Port
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Port:           getEnvOrDefault("PORT", "8086"),
		DatabasePath:   getEnvOrDefault("DATABASE_PATH", "/data/notification.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"),
		AllowedOrigins: splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
	}
}

func loadAuthConfig() (AuthConfig, error) {
	devTokens, err := parseBoolEnv("DEV_TOKENS_ENABLED", false)
	if err != nil {
		return AuthConfig{}, err
	}

	return AuthConfig{
		SigningMethod:    strings.ToUpper(getEnvOrDefault("JWT_SIGNING_METHOD", "HS256")),
		SigningKey:       strings.TrimSpace(os.Getenv("JWT_SIGNING_KEY")),
		Audience:         strings.TrimSpace(os.Getenv("JWT_AUDIENCE")),
		DevTokensEnabled: devTokens,
	}, nil
}

func loadRealtimeConfig() (RealtimeConfig, error) {
	pingPeriod, err := parseDurationEnv("WS_PING_PERIOD", 30*time.Second)
	if err != nil {
		return RealtimeConfig{}, err
	}

	writeTimeout, err := parseDurationEnv("WS_WRITE_TIMEOUT", 10*time.Second)
	if err != nil {
		return RealtimeConfig{}, err
	}

	queueSize, err := parseIntEnv("DISPATCH_QUEUE_SIZE", 256)
	if err != nil {
		return RealtimeConfig{}, err
	}

	return RealtimeConfig{
		PingPeriod:   pingPeriod,
		WriteTimeout: writeTimeout,
		QueueSize:    queueSize,
	}, nil
}

func loadEventStoreConfig() (EventStoreConfig, error) {
	timeout, err := parseDurationEnv("EVENTSTORE_TIMEOUT", 5*time.Second)
	if err != nil {
		return EventStoreConfig{}, err
	}

	return EventStoreConfig{
		URL:     strings.TrimRight(strings.TrimSpace(os.Getenv("EVENTSTORE_URL")), "/"),
		Timeout: timeout,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%sの値が不正です %q: %w", key, raw, err)
	}
	return val, nil
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%sの値が不正です %q: %w", key, raw, err)
	}
	return val, nil
}

// parseDurationEnv は "30s" のような期間表記を読み込む。単位のない整数は秒として扱う。
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%sの値が不正です %q: %w", key, raw, err)
	}
	return val, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}
