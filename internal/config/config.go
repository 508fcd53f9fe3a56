package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// 開発・テスト環境でAUTH_SECRETが未設定の場合に使う署名鍵。
// 本番環境では使用されない。
const devAuthSecret = "authbase-development-secret-do-not-use-in-production"

// 実行環境
const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
	EnvTest        = "test"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	AppEnv string

	// Database
	DatabaseURL string

	// Auth
	AuthSecret          string
	AuthSecretGenerated bool // 開発用の固定鍵を使用している場合true

	// OAuth
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// Session
	SessionMaxAge    int // トークン有効期間（秒）
	SessionUpdateAge int // この秒数を過ぎたトークンはDBから再読み込みする

	// Routes
	LoginPath                string
	DefaultAuthenticatedPath string
	ProtectedRoutes          []string
	AuthOnlyRoutes           []string

	// Logging
	LogLevel string

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// GoogleEnabled はGoogle OAuthプロバイダーが設定されているかを返す。
func (c *Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// IsDevelopment は開発またはテスト環境かどうかを返す。
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == EnvDevelopment || c.AppEnv == EnvTest
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
// AUTH_SECRETは開発・テスト環境でのみ省略できる。
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.AppEnv = strings.ToLower(getEnvString("APP_ENV", EnvProduction))

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	cfg.AuthSecret = os.Getenv("AUTH_SECRET")
	if cfg.AuthSecret == "" {
		if cfg.IsDevelopment() {
			cfg.AuthSecret = devAuthSecret
			cfg.AuthSecretGenerated = true
		} else {
			missing = append(missing, "AUTH_SECRET")
		}
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// OAuthクライアントはID/シークレットの両方が揃っている場合のみ有効
	cfg.GoogleClientID = os.Getenv("GOOGLE_CLIENT_ID")
	cfg.GoogleClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	if (cfg.GoogleClientID == "") != (cfg.GoogleClientSecret == "") {
		return nil, fmt.Errorf("GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET must be set together")
	}
	cfg.GoogleRedirectURL = getEnvString("GOOGLE_REDIRECT_URL",
		strings.TrimRight(cfg.BaseURL, "/")+"/api/auth/callback/google")

	// Optional fields with defaults
	cfg.SessionMaxAge = getEnvPositiveInt("SESSION_MAX_AGE", 30*24*60*60)
	cfg.SessionUpdateAge = getEnvPositiveInt("SESSION_UPDATE_AGE", 24*60*60)
	cfg.LoginPath = getEnvString("LOGIN_PATH", "/login")
	cfg.DefaultAuthenticatedPath = getEnvString("DEFAULT_AUTHENTICATED_PATH", "/dashboard")
	cfg.ProtectedRoutes = getEnvList("PROTECTED_ROUTES", []string{"/dashboard", "/profile", "/settings"})
	cfg.AuthOnlyRoutes = getEnvList("AUTH_ROUTES", []string{"/login", "/register"})

	defaultLevel := "info"
	if cfg.AppEnv == EnvDevelopment {
		defaultLevel = "debug"
	}
	cfg.LogLevel = getEnvString("LOG_LEVEL", defaultLevel)

	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// getEnvPositiveInt は正の整数の環境変数を読み込む。
// 数値でない値と0以下の値はデフォルト値になる。
func getEnvPositiveInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil || i <= 0 {
		return defaultVal
	}
	return i
}

// getEnvList はカンマ区切りの環境変数をスライスとして読み込む。
// 空要素は無視する。
func getEnvList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
