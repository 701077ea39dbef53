// Package config loads verifyd process configuration from an optional .env
// file and the environment using Viper.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	goVerify "github.com/MrEthical07/goVerify"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config holds verifyd settings. Environment variables override the .env file.
type Config struct {
	// Env is the deployment environment; "production" forbids the dev fixed OTP
	// and the sandbox gateway.
	Env      string `mapstructure:"APP_ENV"`
	HTTPAddr string `mapstructure:"VERIFYD_HTTP_ADDR"`
	LogLevel string `mapstructure:"VERIFYD_LOG_LEVEL"`
	// HTTPRateLimit is a ulule/limiter rate such as "120-M".
	HTTPRateLimit  string `mapstructure:"VERIFYD_HTTP_RATE_LIMIT"`
	TrustedProxies string `mapstructure:"VERIFYD_TRUSTED_PROXIES"`

	RedisAddr     string `mapstructure:"VERIFYD_REDIS_ADDR"`
	RedisPassword string `mapstructure:"VERIFYD_REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"VERIFYD_REDIS_DB"`

	// DatabaseURL selects the Postgres account store; empty uses memory.
	DatabaseURL string `mapstructure:"VERIFYD_DATABASE_URL"`

	// SecretPepper is the hex encoded HMAC key for challenge secrets.
	SecretPepper   string `mapstructure:"VERIFYD_SECRET_PEPPER"`
	DefaultRegion  string `mapstructure:"VERIFYD_DEFAULT_REGION"`
	ResetLinkURL   string `mapstructure:"VERIFYD_RESET_LINK_URL"`
	ActionTokenTTL string `mapstructure:"VERIFYD_ACTION_TOKEN_TTL"`
	AuditEnabled   bool   `mapstructure:"VERIFYD_AUDIT_ENABLED"`
	MetricsEnabled bool   `mapstructure:"VERIFYD_METRICS_ENABLED"`
	// OTLPEndpoint, when set, pushes engine metrics to an OTLP gRPC
	// collector in addition to the /metrics page.
	OTLPEndpoint   string `mapstructure:"VERIFYD_OTLP_ENDPOINT"`
	DevFixedOTP    string `mapstructure:"VERIFYD_DEV_FIXED_OTP"`

	// DeliveryMode is "sandbox" or "live".
	DeliveryMode          string `mapstructure:"VERIFYD_DELIVERY_MODE"`
	WhatsAppBaseURL       string `mapstructure:"VERIFYD_WHATSAPP_BASE_URL"`
	WhatsAppPhoneNumberID string `mapstructure:"VERIFYD_WHATSAPP_PHONE_NUMBER_ID"`
	WhatsAppAccessToken   string `mapstructure:"VERIFYD_WHATSAPP_ACCESS_TOKEN"`
	WhatsAppTemplate      string `mapstructure:"VERIFYD_WHATSAPP_TEMPLATE"`
	WhatsAppLanguage      string `mapstructure:"VERIFYD_WHATSAPP_LANGUAGE"`
	SMTPHost              string `mapstructure:"VERIFYD_SMTP_HOST"`
	SMTPPort              int    `mapstructure:"VERIFYD_SMTP_PORT"`
	SMTPUsername          string `mapstructure:"VERIFYD_SMTP_USERNAME"`
	SMTPPassword          string `mapstructure:"VERIFYD_SMTP_PASSWORD"`
	SMTPFrom              string `mapstructure:"VERIFYD_SMTP_FROM"`

	// JWTSecret is the HS256 key for bearer tokens on CHANGE_PASSWORD routes.
	JWTSecret   string `mapstructure:"VERIFYD_JWT_SECRET"`
	JWTIssuer   string `mapstructure:"VERIFYD_JWT_ISSUER"`
	JWTAudience string `mapstructure:"VERIFYD_JWT_AUDIENCE"`
}

var defaults = map[string]any{
	"APP_ENV":                          "development",
	"VERIFYD_HTTP_ADDR":                ":8080",
	"VERIFYD_LOG_LEVEL":                "info",
	"VERIFYD_HTTP_RATE_LIMIT":          "120-M",
	"VERIFYD_TRUSTED_PROXIES":          "",
	"VERIFYD_REDIS_ADDR":               "localhost:6379",
	"VERIFYD_REDIS_PASSWORD":           "",
	"VERIFYD_REDIS_DB":                 0,
	"VERIFYD_DATABASE_URL":             "",
	"VERIFYD_SECRET_PEPPER":            "",
	"VERIFYD_DEFAULT_REGION":           "ID",
	"VERIFYD_RESET_LINK_URL":           "",
	"VERIFYD_ACTION_TOKEN_TTL":         "10m",
	"VERIFYD_AUDIT_ENABLED":            true,
	"VERIFYD_METRICS_ENABLED":          true,
	"VERIFYD_OTLP_ENDPOINT":            "",
	"VERIFYD_DEV_FIXED_OTP":            "",
	"VERIFYD_DELIVERY_MODE":            "sandbox",
	"VERIFYD_WHATSAPP_BASE_URL":        "",
	"VERIFYD_WHATSAPP_PHONE_NUMBER_ID": "",
	"VERIFYD_WHATSAPP_ACCESS_TOKEN":    "",
	"VERIFYD_WHATSAPP_TEMPLATE":        "",
	"VERIFYD_WHATSAPP_LANGUAGE":        "id",
	"VERIFYD_SMTP_HOST":                "",
	"VERIFYD_SMTP_PORT":                587,
	"VERIFYD_SMTP_USERNAME":            "",
	"VERIFYD_SMTP_PASSWORD":            "",
	"VERIFYD_SMTP_FROM":                "",
	"VERIFYD_JWT_SECRET":               "",
	"VERIFYD_JWT_ISSUER":               "verifyd",
	"VERIFYD_JWT_AUDIENCE":             "",
}

// Load reads envFile when it exists, then the environment, and validates the
// result. An empty envFile means ".env".
func Load(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}

	v := viper.New()
	v.SetConfigFile(envFile)
	v.SetConfigType("env")
	_ = v.ReadInConfig()

	v.AutomaticEnv()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Production() bool {
	return c.Env == "production"
}

func (c *Config) Sandbox() bool {
	return c.DeliveryMode == "sandbox"
}

func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return errors.New("config: VERIFYD_HTTP_ADDR must be set")
	}
	if c.RedisAddr == "" {
		return errors.New("config: VERIFYD_REDIS_ADDR must be set")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: VERIFYD_LOG_LEVEL: %w", err)
	}
	if _, err := c.Pepper(); err != nil {
		return err
	}
	if _, err := time.ParseDuration(c.ActionTokenTTL); err != nil {
		return fmt.Errorf("config: VERIFYD_ACTION_TOKEN_TTL: %w", err)
	}

	switch c.DeliveryMode {
	case "sandbox":
		if c.Production() {
			return errors.New("config: VERIFYD_DELIVERY_MODE=sandbox is not allowed when APP_ENV=production")
		}
	case "live":
		if c.WhatsAppPhoneNumberID == "" || c.WhatsAppAccessToken == "" || c.WhatsAppTemplate == "" {
			return errors.New("config: live delivery needs the VERIFYD_WHATSAPP_* settings")
		}
		if c.SMTPHost == "" || c.SMTPFrom == "" {
			return errors.New("config: live delivery needs VERIFYD_SMTP_HOST and VERIFYD_SMTP_FROM")
		}
	default:
		return fmt.Errorf("config: unknown VERIFYD_DELIVERY_MODE %q", c.DeliveryMode)
	}

	if c.DevFixedOTP != "" && c.Production() {
		return errors.New("config: VERIFYD_DEV_FIXED_OTP must not be set when APP_ENV=production")
	}
	if c.Production() && c.SecretPepper == "" {
		return errors.New("config: VERIFYD_SECRET_PEPPER is required when APP_ENV=production")
	}
	if c.JWTSecret != "" && len(c.JWTSecret) < 32 {
		return errors.New("config: VERIFYD_JWT_SECRET must be at least 32 bytes")
	}
	return nil
}

// Pepper decodes SecretPepper. An empty value returns nil, which makes the
// engine generate an ephemeral pepper.
func (c *Config) Pepper() ([]byte, error) {
	if c.SecretPepper == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(strings.TrimSpace(c.SecretPepper))
	if err != nil {
		return nil, fmt.Errorf("config: VERIFYD_SECRET_PEPPER must be hex: %w", err)
	}
	if len(b) < 32 {
		return nil, errors.New("config: VERIFYD_SECRET_PEPPER must decode to at least 32 bytes")
	}
	return b, nil
}

func (c *Config) TrustedProxyList() []string {
	if c.TrustedProxies == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(c.TrustedProxies, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// EngineConfig derives the engine configuration from the process settings.
func (c *Config) EngineConfig() (goVerify.Config, error) {
	cfg := goVerify.DefaultConfig()

	pepper, err := c.Pepper()
	if err != nil {
		return goVerify.Config{}, err
	}
	cfg.Secret.Pepper = pepper
	cfg.Phone.DefaultRegion = strings.ToUpper(c.DefaultRegion)
	cfg.ActionToken.TTL, _ = time.ParseDuration(c.ActionTokenTTL)
	cfg.Audit.Enabled = c.AuditEnabled
	cfg.Metrics.Enabled = c.MetricsEnabled
	cfg.Metrics.EnableLatencyHistograms = c.MetricsEnabled
	cfg.Dev.FixedOTP = c.DevFixedOTP

	if c.ResetLinkURL != "" {
		forgot := cfg.Purposes[goVerify.PurposeForgotPassword]
		forgot.LinkBaseURL = c.ResetLinkURL
		cfg.Purposes[goVerify.PurposeForgotPassword] = forgot
	}

	if err := cfg.Validate(); err != nil {
		return goVerify.Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}
