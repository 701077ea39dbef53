package goVerify

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Config holds every engine setting. It is copied by [Builder.WithConfig]
// and treated as immutable after [Builder.Build].
type Config struct {
	Purposes    map[Purpose]PurposePolicy
	ActionToken ActionTokenConfig
	Secret      SecretConfig
	Store       StoreConfig
	Limits      LimitsConfig
	Phone       PhoneConfig
	Audit       AuditConfig
	Metrics     MetricsConfig
	Dev         DevConfig
}

/*
====================================
PURPOSE POLICY
====================================
*/

// PurposePolicy configures issuance and verification for one purpose. TTL
// and cooldown differ between otherwise identical flows, so they are policy
// rather than protocol constants.
type PurposePolicy struct {
	Enabled bool
	// Channels lists the allowed channels in preference order. The first
	// one the owner reference normalizes under is used when a request does
	// not name a channel.
	Channels    []Channel
	CodeTTL     time.Duration
	LinkTTL     time.Duration
	Cooldown    time.Duration
	MaxAttempts int
	OTPDigits   int
	// LinkBaseURL is the page that receives LINK_TOKEN challenges. The token
	// is appended as the "token" query parameter.
	LinkBaseURL string
	// EnumerationSafe issues an undeliverable challenge for unknown owners
	// instead of returning ErrSubjectNotFound.
	EnumerationSafe bool
}

func (p PurposePolicy) allows(channel Channel) bool {
	for _, c := range p.Channels {
		if c == channel {
			return true
		}
	}
	return false
}

/*
====================================
ACTION TOKEN CONFIG
====================================
*/

type ActionTokenConfig struct {
	TTL time.Duration
}

/*
====================================
SECRET CONFIG
====================================
*/

// SecretConfig holds the HMAC pepper used to hash challenge secrets. An
// empty pepper makes Build generate an ephemeral one, which invalidates all
// outstanding challenges on restart.
type SecretConfig struct {
	Pepper []byte
}

/*
====================================
STORE CONFIG
====================================
*/

type StoreConfig struct {
	ChallengePrefix string
	TokenPrefix     string
	LimiterPrefix   string
	// Retention keeps terminal records readable after expiry so that late
	// verify calls get EXPIRED or ALREADY_FINALIZED instead of NOT_FOUND.
	Retention time.Duration
}

/*
====================================
LIMITS CONFIG
====================================
*/

// Window is a fixed-window request budget. A zero Limit disables it.
type Window struct {
	Limit  int
	Period time.Duration
}

func (w Window) enabled() bool {
	return w.Limit > 0 && w.Period > 0
}

type LimitsConfig struct {
	IssuePerOwner      Window
	IssuePerIP         Window
	VerifyPerChallenge Window
	VerifyPerIP        Window
	RedeemPerIP        Window
}

/*
====================================
PHONE CONFIG
====================================
*/

type PhoneConfig struct {
	// DefaultRegion is the ISO 3166 region used for numbers typed without a
	// country code.
	DefaultRegion string
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEV CONFIG
====================================
*/

// DevConfig is ignored unless the binary was built with the verifydev tag
// and the delivery gateway reports itself as a sandbox.
type DevConfig struct {
	FixedOTP string
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the reference configuration: five minute OTP codes,
// one hour email links, five attempts and ten minute action tokens.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Purposes: map[Purpose]PurposePolicy{
			PurposeChangePassword: {
				Enabled:     true,
				Channels:    []Channel{ChannelOTP},
				CodeTTL:     5 * time.Minute,
				LinkTTL:     time.Hour,
				Cooldown:    5 * time.Minute,
				MaxAttempts: 5,
				OTPDigits:   6,
			},
			PurposeForgotPassword: {
				Enabled:         true,
				Channels:        []Channel{ChannelOTP, ChannelLink},
				CodeTTL:         5 * time.Minute,
				LinkTTL:         time.Hour,
				Cooldown:        30 * time.Second,
				MaxAttempts:     5,
				OTPDigits:       6,
				EnumerationSafe: true,
			},
			PurposeDealerPhoneVerify: {
				Enabled:     true,
				Channels:    []Channel{ChannelOTP},
				CodeTTL:     5 * time.Minute,
				LinkTTL:     time.Hour,
				Cooldown:    30 * time.Second,
				MaxAttempts: 5,
				OTPDigits:   6,
			},
		},
		ActionToken: ActionTokenConfig{
			TTL: 10 * time.Minute,
		},
		Store: StoreConfig{
			ChallengePrefix: "avc",
			TokenPrefix:     "avt",
			LimiterPrefix:   "avr",
			Retention:       24 * time.Hour,
		},
		Limits: LimitsConfig{
			IssuePerOwner:      Window{Limit: 10, Period: time.Hour},
			IssuePerIP:         Window{Limit: 30, Period: time.Hour},
			VerifyPerChallenge: Window{Limit: 20, Period: 15 * time.Minute},
			VerifyPerIP:        Window{Limit: 60, Period: 15 * time.Minute},
			RedeemPerIP:        Window{Limit: 30, Period: 15 * time.Minute},
		},
		Phone: PhoneConfig{
			DefaultRegion: "ID",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Secret.Pepper = cloneBytes(cfg.Secret.Pepper)
	if cfg.Purposes != nil {
		out.Purposes = make(map[Purpose]PurposePolicy, len(cfg.Purposes))
		for purpose, policy := range cfg.Purposes {
			policy.Channels = append([]Channel(nil), policy.Channels...)
			out.Purposes[purpose] = policy
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks the configuration for values the engine cannot run with.
//
// Validate may return an error naming the first offending field.
// Validate does not mutate the receiver and is safe to call concurrently.
func (c *Config) Validate() error {
	if len(c.Purposes) == 0 {
		return errors.New("at least one purpose policy is required")
	}
	for purpose, policy := range c.Purposes {
		if err := validatePurposePolicy(purpose, policy); err != nil {
			return err
		}
	}

	// Action token
	if c.ActionToken.TTL <= 0 {
		return errors.New("ActionToken TTL must be > 0")
	}
	if c.ActionToken.TTL > time.Hour {
		return errors.New("ActionToken TTL must be <= 1h")
	}

	// Secret
	if len(c.Secret.Pepper) > 0 && len(c.Secret.Pepper) < 32 {
		return errors.New("Secret Pepper must be at least 32 bytes")
	}

	// Store
	if c.Store.ChallengePrefix == "" || c.Store.TokenPrefix == "" || c.Store.LimiterPrefix == "" {
		return errors.New("Store prefixes must not be empty")
	}
	if c.Store.ChallengePrefix == c.Store.TokenPrefix ||
		c.Store.ChallengePrefix == c.Store.LimiterPrefix ||
		c.Store.TokenPrefix == c.Store.LimiterPrefix {
		return errors.New("Store prefixes must be distinct")
	}
	if c.Store.Retention < 0 {
		return errors.New("Store Retention must be >= 0")
	}

	// Limits
	for name, w := range map[string]Window{
		"IssuePerOwner":      c.Limits.IssuePerOwner,
		"IssuePerIP":         c.Limits.IssuePerIP,
		"VerifyPerChallenge": c.Limits.VerifyPerChallenge,
		"VerifyPerIP":        c.Limits.VerifyPerIP,
		"RedeemPerIP":        c.Limits.RedeemPerIP,
	} {
		if w.Limit < 0 || w.Period < 0 {
			return fmt.Errorf("Limits %s must be >= 0", name)
		}
		if w.Limit > 0 && w.Period == 0 {
			return fmt.Errorf("Limits %s Period must be > 0 when Limit is set", name)
		}
	}

	// Phone
	if len(c.Phone.DefaultRegion) != 2 {
		return errors.New("Phone DefaultRegion must be a two letter region code")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	// Dev
	if c.Dev.FixedOTP != "" {
		for i := 0; i < len(c.Dev.FixedOTP); i++ {
			if c.Dev.FixedOTP[i] < '0' || c.Dev.FixedOTP[i] > '9' {
				return errors.New("Dev FixedOTP must be numeric")
			}
		}
	}

	return nil
}

func validatePurposePolicy(purpose Purpose, p PurposePolicy) error {
	if !purpose.Valid() {
		return fmt.Errorf("unknown purpose %q", purpose)
	}
	if !p.Enabled {
		return nil
	}
	if len(p.Channels) == 0 {
		return fmt.Errorf("%s Channels must not be empty", purpose)
	}
	seen := make(map[Channel]bool, len(p.Channels))
	for _, ch := range p.Channels {
		if !ch.Valid() {
			return fmt.Errorf("%s has unknown channel %q", purpose, ch)
		}
		if seen[ch] {
			return fmt.Errorf("%s lists channel %s twice", purpose, ch)
		}
		seen[ch] = true
	}
	if p.MaxAttempts <= 0 {
		return fmt.Errorf("%s MaxAttempts must be > 0", purpose)
	}
	if p.MaxAttempts > 10 {
		return fmt.Errorf("%s MaxAttempts must be <= 10", purpose)
	}
	if p.Cooldown < 0 {
		return fmt.Errorf("%s Cooldown must be >= 0", purpose)
	}
	if p.allows(ChannelOTP) {
		if p.CodeTTL <= 0 {
			return fmt.Errorf("%s CodeTTL must be > 0", purpose)
		}
		if p.CodeTTL > 15*time.Minute {
			return fmt.Errorf("%s CodeTTL must be <= 15m", purpose)
		}
		if p.OTPDigits < 6 || p.OTPDigits > 10 {
			return fmt.Errorf("%s OTPDigits must be between 6 and 10", purpose)
		}
		if p.Cooldown > p.CodeTTL {
			return fmt.Errorf("%s Cooldown must be <= CodeTTL", purpose)
		}
	}
	if p.allows(ChannelLink) {
		if p.LinkTTL <= 0 {
			return fmt.Errorf("%s LinkTTL must be > 0", purpose)
		}
		if p.LinkTTL > 24*time.Hour {
			return fmt.Errorf("%s LinkTTL must be <= 24h", purpose)
		}
		if p.LinkBaseURL != "" {
			u, err := url.Parse(p.LinkBaseURL)
			if err != nil || u.Scheme == "" || u.Host == "" {
				return fmt.Errorf("%s LinkBaseURL must be an absolute URL", purpose)
			}
		}
	}
	return nil
}
