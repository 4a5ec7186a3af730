// Package config は環境変数からのアプリケーション設定を提供する。
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Mode はトークン検証の信頼モードを表す。
// プロセス起動時に1回だけ決定され、リクエストごとに切り替わることはない。
type Mode string

const (
	// ModeProduction はClerkのJWKSエンドポイントから取得した
	// 非対称鍵（RS256）でトークンを検証するモード。
	ModeProduction Mode = "production"
	// ModeDevelopment は事前共有シークレット（HS256）で
	// トークンを検証するモード。本番環境では使用しない。
	ModeDevelopment Mode = "development"
)

// defaultJWKSURL はClerkが公開する鍵セットエンドポイント。
const defaultJWKSURL = "https://api.clerk.dev/.well-known/jwks.json"

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Mode
	Mode Mode

	// Database
	DatabaseURL    string
	DBQueryTimeout time.Duration

	// Clerk
	ClerkJWKSURL string // production: 鍵セットエンドポイント
	ClerkJWTKey  string // development: HS256共有シークレット

	// JWKS fetch
	JWKSFetchPerMinute int
	JWKSFetchTimeout   time.Duration

	// Rate Limit
	RateLimitGeneral int // req/min/user

	// Retention worker
	PurgeRetentionDays int
	PurgeInterval      time.Duration

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 稼働モードに必要な環境変数が未設定の場合はエラーを返す。
// モード別の必須設定の欠落は起動時の致命的エラーであり、
// リクエスト時の失敗として扱ってはならない。
func Load() (*Config, error) {
	cfg := &Config{}

	switch os.Getenv("APP_ENV") {
	case "production":
		cfg.Mode = ModeProduction
	case "development", "":
		cfg.Mode = ModeDevelopment
	default:
		return nil, fmt.Errorf("invalid APP_ENV: %q (must be production or development)", os.Getenv("APP_ENV"))
	}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	switch cfg.Mode {
	case ModeProduction:
		cfg.ClerkJWKSURL = getEnvString("CLERK_JWKS_URL", defaultJWKSURL)
	case ModeDevelopment:
		cfg.ClerkJWTKey = os.Getenv("CLERK_JWT_KEY")
		if cfg.ClerkJWTKey == "" {
			missing = append(missing, "CLERK_JWT_KEY")
		}
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.DBQueryTimeout = getEnvDuration("DB_QUERY_TIMEOUT", 5*time.Second)
	cfg.JWKSFetchPerMinute = getEnvInt("JWKS_FETCH_PER_MINUTE", 10)
	cfg.JWKSFetchTimeout = getEnvDuration("JWKS_FETCH_TIMEOUT", 10*time.Second)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.PurgeRetentionDays = getEnvInt("PURGE_RETENTION_DAYS", 30)
	cfg.PurgeInterval = getEnvDuration("PURGE_INTERVAL", 24*time.Hour)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

// IsProduction は非対称鍵モードで稼働しているかどうかを返す。
func (c *Config) IsProduction() bool {
	return c.Mode == ModeProduction
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
