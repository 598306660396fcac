package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// MinSessionSecretLength はSESSION_SECRETに要求する最小バイト数。
const MinSessionSecretLength = 32

const defaultBaseURL = "http://localhost:3000"

// ClientCredentials はOAuthクライアントの資格情報。
type ClientCredentials struct {
	ClientID     string
	ClientSecret string
}

// Configured はIDとシークレットの両方が設定されているかを返す。
func (c ClientCredentials) Configured() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Server
	ServerPort string
	AppEnv     string
	BaseURL    string

	// Session
	SessionSecret     string
	CredentialMaxAge  time.Duration
	StateMaxAge       time.Duration
	CookieSecure      bool
	CookieDomain      string
	CORSAllowedOrigin string

	// Providers
	Google                  ClientCredentials
	GoogleAdsDeveloperToken string
	LinkedIn                ClientCredentials
	Meta                    ClientCredentials
	HubSpot                 ClientCredentials

	// Narrative
	AnthropicAPIKey    string
	NarrativeModel     string
	NarrativeMaxTokens int

	// Upstream
	UpstreamTimeout     time.Duration
	KeyProbeTimeout     time.Duration
	FeatureProbeTimeout time.Duration
	SafeUpstreamClient  bool

	// Rate Limit (requests per minute)
	RateLimitReport    int
	RateLimitNarrative int

	// Logging
	LogLevel string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定または不正な場合はエラーを返す。
// プロバイダーの資格情報は任意で、未設定のコネクターは実行時にNOT_CONFIGUREDとなる。
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.SessionSecret = os.Getenv("SESSION_SECRET")
	if cfg.SessionSecret == "" {
		return nil, fmt.Errorf("required environment variables are not set: [SESSION_SECRET]")
	}
	if len(cfg.SessionSecret) < MinSessionSecretLength {
		return nil, fmt.Errorf("SESSION_SECRET must be at least %d bytes", MinSessionSecretLength)
	}

	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.AppEnv = getEnvString("APP_ENV", "development")
	cfg.BaseURL = ResolveBaseURL(os.Getenv)

	cfg.CredentialMaxAge = getEnvDuration("CREDENTIAL_MAX_AGE", 8*time.Hour)
	cfg.StateMaxAge = getEnvDuration("STATE_MAX_AGE", 10*time.Minute)
	cfg.CookieSecure = cfg.IsProduction() || strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", cfg.BaseURL)

	cfg.Google = getClientCredentials("GOOGLE_CLIENT_ID", "GOOGLE_CLIENT_SECRET")
	cfg.GoogleAdsDeveloperToken = os.Getenv("GOOGLE_ADS_DEVELOPER_TOKEN")
	cfg.LinkedIn = getClientCredentials("LINKEDIN_CLIENT_ID", "LINKEDIN_CLIENT_SECRET")
	cfg.Meta = getClientCredentials("META_APP_ID", "META_APP_SECRET")
	cfg.HubSpot = getClientCredentials("HUBSPOT_CLIENT_ID", "HUBSPOT_CLIENT_SECRET")

	cfg.AnthropicAPIKey = os.Getenv("ANTHROPIC_API_KEY")
	cfg.NarrativeModel = getEnvString("NARRATIVE_MODEL", "claude-sonnet-4-20250514")
	cfg.NarrativeMaxTokens = getEnvInt("NARRATIVE_MAX_TOKENS", 700)

	cfg.UpstreamTimeout = getEnvDuration("UPSTREAM_TIMEOUT", 8*time.Second)
	cfg.KeyProbeTimeout = getEnvDuration("KEY_PROBE_TIMEOUT", 8*time.Second)
	cfg.FeatureProbeTimeout = getEnvDuration("FEATURE_PROBE_TIMEOUT", 5*time.Second)
	cfg.SafeUpstreamClient = getEnvBool("SAFE_UPSTREAM_CLIENT", true)

	cfg.RateLimitReport = getEnvInt("RATE_LIMIT_REPORT", 30)
	cfg.RateLimitNarrative = getEnvInt("RATE_LIMIT_NARRATIVE", 10)

	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	return cfg, nil
}

// IsProduction はAPP_ENVがproductionかどうかを返す。
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

// CallbackURL はコネクターのコールバックURLを返す。
func (c *Config) CallbackURL(connector string) string {
	return c.BaseURL + "/api/auth/" + connector
}

// ResolveBaseURL はリダイレクトの基点となるURLを解決する。
// APP_URL、VERCEL_PROJECT_PRODUCTION_URL、VERCEL_URLの順に参照し、
// いずれもなければローカル開発用のURLを返す。
func ResolveBaseURL(getenv func(string) string) string {
	if v := strings.TrimSpace(getenv("APP_URL")); v != "" {
		return strings.TrimRight(v, "/")
	}
	for _, key := range []string{"VERCEL_PROJECT_PRODUCTION_URL", "VERCEL_URL"} {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return "https://" + strings.TrimRight(v, "/")
		}
	}
	return defaultBaseURL
}

func getClientCredentials(idKey, secretKey string) ClientCredentials {
	return ClientCredentials{
		ClientID:     os.Getenv(idKey),
		ClientSecret: os.Getenv(secretKey),
	}
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
	if err != nil || i <= 0 {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
