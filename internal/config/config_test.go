package config

import (
	"testing"
	"time"
)

// clearEnv はテストに影響する環境変数をすべて空にする。
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"APP_ENV", "DATABASE_URL", "CLERK_JWKS_URL", "CLERK_JWT_KEY",
		"DB_QUERY_TIMEOUT", "JWKS_FETCH_PER_MINUTE", "JWKS_FETCH_TIMEOUT",
		"RATE_LIMIT_GENERAL", "PURGE_RETENTION_DAYS", "PURGE_INTERVAL",
		"SERVER_PORT", "CORS_ALLOWED_ORIGIN",
	} {
		t.Setenv(key, "")
	}
}

// TestLoad_DevelopmentDefaults は開発モードの必須項目とデフォルト値を検証する。
func TestLoad_DevelopmentDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	t.Setenv("CLERK_JWT_KEY", "dev-secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Mode != ModeDevelopment {
		t.Errorf("mode = %s, want development", cfg.Mode)
	}
	if cfg.IsProduction() {
		t.Error("IsProduction should be false")
	}
	if cfg.ClerkJWTKey != "dev-secret" {
		t.Errorf("ClerkJWTKey = %q", cfg.ClerkJWTKey)
	}
	if cfg.DBQueryTimeout != 5*time.Second {
		t.Errorf("DBQueryTimeout = %v, want 5s", cfg.DBQueryTimeout)
	}
	if cfg.JWKSFetchPerMinute != 10 {
		t.Errorf("JWKSFetchPerMinute = %d, want 10", cfg.JWKSFetchPerMinute)
	}
	if cfg.RateLimitGeneral != 120 {
		t.Errorf("RateLimitGeneral = %d, want 120", cfg.RateLimitGeneral)
	}
	if cfg.PurgeRetentionDays != 30 {
		t.Errorf("PurgeRetentionDays = %d, want 30", cfg.PurgeRetentionDays)
	}
	if cfg.ServerPort != "8080" {
		t.Errorf("ServerPort = %q, want 8080", cfg.ServerPort)
	}
}

// TestLoad_DevelopmentMissingSecret は開発モードでCLERK_JWT_KEYの欠落が
// 起動時エラーになることを検証する。
func TestLoad_DevelopmentMissingSecret(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_ENV", "development")
	t.Setenv("DATABASE_URL", "postgres://localhost/test")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing CLERK_JWT_KEY")
	}
}

// TestLoad_ProductionDefaults は本番モードでJWKS URLにデフォルト値が
// 適用されることを検証する。
func TestLoad_ProductionDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("DATABASE_URL", "postgres://localhost/test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !cfg.IsProduction() {
		t.Error("IsProduction should be true")
	}
	if cfg.ClerkJWKSURL != defaultJWKSURL {
		t.Errorf("ClerkJWKSURL = %q, want default", cfg.ClerkJWKSURL)
	}
	// 本番モードでは共有シークレットは不要
	if cfg.ClerkJWTKey != "" {
		t.Errorf("ClerkJWTKey should be empty in production, got %q", cfg.ClerkJWTKey)
	}
}

// TestLoad_ProductionCustomJWKSURL はCLERK_JWKS_URLの上書きを検証する。
func TestLoad_ProductionCustomJWKSURL(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	t.Setenv("CLERK_JWKS_URL", "https://clerk.example.com/.well-known/jwks.json")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.ClerkJWKSURL != "https://clerk.example.com/.well-known/jwks.json" {
		t.Errorf("ClerkJWKSURL = %q", cfg.ClerkJWKSURL)
	}
}

// TestLoad_MissingDatabaseURL はDATABASE_URLの欠落が常にエラーになることを検証する。
func TestLoad_MissingDatabaseURL(t *testing.T) {
	clearEnv(t)
	t.Setenv("CLERK_JWT_KEY", "dev-secret")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing DATABASE_URL")
	}
}

// TestLoad_InvalidAppEnv はサポート外のAPP_ENVがエラーになることを検証する。
func TestLoad_InvalidAppEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_ENV", "staging")
	t.Setenv("DATABASE_URL", "postgres://localhost/test")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid APP_ENV")
	}
}

// TestLoad_Overrides はオプション項目の環境変数上書きを検証する。
func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	t.Setenv("CLERK_JWT_KEY", "dev-secret")
	t.Setenv("JWKS_FETCH_PER_MINUTE", "5")
	t.Setenv("PURGE_RETENTION_DAYS", "7")
	t.Setenv("PURGE_INTERVAL", "1h")
	t.Setenv("SERVER_PORT", "9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.JWKSFetchPerMinute != 5 {
		t.Errorf("JWKSFetchPerMinute = %d, want 5", cfg.JWKSFetchPerMinute)
	}
	if cfg.PurgeRetentionDays != 7 {
		t.Errorf("PurgeRetentionDays = %d, want 7", cfg.PurgeRetentionDays)
	}
	if cfg.PurgeInterval != time.Hour {
		t.Errorf("PurgeInterval = %v, want 1h", cfg.PurgeInterval)
	}
	if cfg.ServerPort != "9090" {
		t.Errorf("ServerPort = %q, want 9090", cfg.ServerPort)
	}
}

// TestLoad_InvalidOptionalValues は解析不能なオプション値がデフォルトに
// フォールバックすることを検証する。
func TestLoad_InvalidOptionalValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	t.Setenv("CLERK_JWT_KEY", "dev-secret")
	t.Setenv("JWKS_FETCH_PER_MINUTE", "not-a-number")
	t.Setenv("PURGE_INTERVAL", "not-a-duration")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.JWKSFetchPerMinute != 10 {
		t.Errorf("JWKSFetchPerMinute = %d, want default 10", cfg.JWKSFetchPerMinute)
	}
	if cfg.PurgeInterval != 24*time.Hour {
		t.Errorf("PurgeInterval = %v, want default 24h", cfg.PurgeInterval)
	}
}
