// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"golang.org/x/net/publicsuffix"
)

// 設定値の制約
const (
	MinSessionSecretLength = 32
	MaxOAuthStateTTL       = time.Hour
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`

	// OAuth
	GoogleClientID     string        `env:"GOOGLE_CLIENT_ID,required,notEmpty"`
	GoogleClientSecret string        `env:"GOOGLE_CLIENT_SECRET,required,notEmpty"`
	GoogleRedirectURL  string        `env:"GOOGLE_REDIRECT_URL,required,notEmpty"`
	GoogleAuthURL      string        `env:"GOOGLE_AUTH_URL"`
	GoogleTokenURL     string        `env:"GOOGLE_TOKEN_URL"`
	GoogleJWKSURL      string        `env:"GOOGLE_JWKS_URL"`
	ProviderTimeout    time.Duration `env:"PROVIDER_HTTP_TIMEOUT" envDefault:"10s"`

	// Session
	SessionSecret     string        `env:"SESSION_SECRET,required,notEmpty"`
	SessionTTL        time.Duration `env:"SESSION_TTL" envDefault:"720h"`
	SessionCookieName string        `env:"SESSION_COOKIE_NAME" envDefault:"auth_session"`
	PendingSignupTTL  time.Duration `env:"PENDING_SIGNUP_TTL" envDefault:"1h"`
	OAuthStateTTL     time.Duration `env:"OAUTH_STATE_TTL" envDefault:"10m"`

	// Redis（設定時のみstateの再利用を検出する）
	RedisURL string `env:"REDIS_URL"`

	// Rate Limit（1分あたり）
	AuthRateLimit int `env:"AUTH_RATE_LIMIT" envDefault:"20"`
	APIRateLimit  int `env:"API_RATE_LIMIT" envDefault:"120"`

	// Worker
	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL" envDefault:"1h"`

	// Server
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`
	BaseURL    string `env:"BASE_URL,required,notEmpty"`

	// Cookie
	CookieDomain string `env:"COOKIE_DOMAIN"`

	// CookieSecure が未設定（nil）の場合は BASE_URL のスキームから決める
	CookieSecure *bool `env:"COOKIE_SECURE"`

	// CORS（空の場合は BASE_URL）
	CORSAllowedOrigin string `env:"CORS_ALLOWED_ORIGIN"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Tracing（空の場合は無効）
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName  string `env:"OTEL_SERVICE_NAME" envDefault:"paddock"`
}

// Load は環境変数からConfigを読み込み、派生値を埋めて検証する。
// 必須環境変数が未設定の場合や値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	cfg.derive()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// derive は他の設定値から決まる値を埋める。
func (c *Config) derive() {
	if c.CORSAllowedOrigin == "" {
		c.CORSAllowedOrigin = strings.TrimSuffix(c.BaseURL, "/")
	}
}

// SecureCookies はCookieにSecure属性を付けるかを返す。
// COOKIE_SECURE が明示されていればその値、なければ BASE_URL がhttpsかどうか。
func (c *Config) SecureCookies() bool {
	if c.CookieSecure != nil {
		return *c.CookieSecure
	}
	return strings.HasPrefix(c.BaseURL, "https://")
}

// Validate は設定値の整合性を検証する。違反はまとめて返す。
func (c *Config) Validate() error {
	var errs []error

	if len(c.SessionSecret) < MinSessionSecretLength {
		errs = append(errs, fmt.Errorf("SESSION_SECRET must be at least %d bytes", MinSessionSecretLength))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("SESSION_TTL must be positive"))
	}
	if c.PendingSignupTTL <= 0 {
		errs = append(errs, errors.New("PENDING_SIGNUP_TTL must be positive"))
	}
	if c.OAuthStateTTL <= 0 || c.OAuthStateTTL > MaxOAuthStateTTL {
		errs = append(errs, fmt.Errorf("OAUTH_STATE_TTL must be in (0, %s]", MaxOAuthStateTTL))
	}
	if c.SessionCookieName == "" {
		errs = append(errs, errors.New("SESSION_COOKIE_NAME must not be empty"))
	}
	if c.AuthRateLimit <= 0 || c.APIRateLimit <= 0 {
		errs = append(errs, errors.New("AUTH_RATE_LIMIT and API_RATE_LIMIT must be positive"))
	}
	if c.CleanupInterval <= 0 {
		errs = append(errs, errors.New("CLEANUP_INTERVAL must be positive"))
	}
	if c.ProviderTimeout <= 0 {
		errs = append(errs, errors.New("PROVIDER_HTTP_TIMEOUT must be positive"))
	}

	if err := validateHTTPURL("BASE_URL", c.BaseURL); err != nil {
		errs = append(errs, err)
	}
	if err := validateHTTPURL("GOOGLE_REDIRECT_URL", c.GoogleRedirectURL); err != nil {
		errs = append(errs, err)
	}
	if err := validateCookieDomain(c.CookieDomain); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func validateHTTPURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s must be an absolute http(s) URL: %q", name, raw)
	}
	return nil
}

// validateCookieDomain はCookieのDomain属性にパブリックサフィックスが指定されていないかを検証する。
// パブリックサフィックスを指定すると無関係なサイトとCookieを共有してしまう。
func validateCookieDomain(domain string) error {
	if domain == "" {
		return nil
	}
	d := strings.ToLower(strings.TrimPrefix(domain, "."))
	if _, err := publicsuffix.EffectiveTLDPlusOne(d); err != nil {
		return fmt.Errorf("COOKIE_DOMAIN %q is a public suffix or invalid: %w", domain, err)
	}
	return nil
}
