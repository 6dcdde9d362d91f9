package glidauth

import (
	"errors"
	"net/url"
	"strings"
	"time"
)

// Config is the complete engine configuration. Build it with DefaultConfig
// and override fields before handing it to the Builder.
type Config struct {
	JWT       JWTConfig
	Session   SessionConfig
	MFA       MFAConfig
	Password  PasswordConfig
	Cookie    CookieConfig
	Links     LinksConfig
	Prelaunch PrelaunchConfig
	Notify    NotifyConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls token signing. RefreshTTL is independent of AccessTTL.
type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls session persistence and inactivity.
type SessionConfig struct {
	RedisPrefix string
	// AuthRedisPrefix namespaces Authentication records and their indexes.
	AuthRedisPrefix string
	// ExpirySeconds is the inactivity window measured from lastAccessTime.
	ExpirySeconds int64
	// RetentionTTL bounds how long ended sessions stay readable.
	RetentionTTL time.Duration
}

/*
====================================
MFA CONFIG
====================================
*/

// MFAConfig controls OTP and magic-link challenges.
type MFAConfig struct {
	RedisPrefix  string
	Window       time.Duration
	OTPDigits    int
	RetentionTTL time.Duration

	// Pending registrations live under their own prefix until completed.
	RegistrationPrefix string
	RegistrationTTL    time.Duration
}

// PasswordConfig holds the Argon2id parameters.
type PasswordConfig struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// CookieConfig controls the cookies set by the HTTP transport.
type CookieConfig struct {
	Domain string
}

// LinksConfig controls the URLs embedded in notifications.
type LinksConfig struct {
	BaseURL string
}

// PrelaunchConfig gates early access behind a shared password.
type PrelaunchConfig struct {
	Enabled      bool
	PasswordHash string
}

// NotifyConfig sizes the asynchronous notification queue.
type NotifyConfig struct {
	BufferSize  int
	Workers     int
	SendTimeout time.Duration
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

const (
	defaultRefreshTTL = 20 * 24 * time.Hour
	defaultMFAWindow  = 5 * time.Minute
)

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    defaultRefreshTTL,
			SigningMethod: "hs256",
			Issuer:        "glidauth",
		},
		Session: SessionConfig{
			RedisPrefix:     "gs",
			AuthRedisPrefix: "ga",
			ExpirySeconds:   1800,
			RetentionTTL:    30 * 24 * time.Hour,
		},
		MFA: MFAConfig{
			RedisPrefix:        "gc",
			Window:             defaultMFAWindow,
			OTPDigits:          6,
			RetentionTTL:       30 * 24 * time.Hour,
			RegistrationPrefix: "gr",
			RegistrationTTL:    24 * time.Hour,
		},
		Password: PasswordConfig{
			Memory:      65536,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
		},
		Notify: NotifyConfig{
			BufferSize:  256,
			Workers:     2,
			SendTimeout: 10 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= 0 {
		return errors.New("JWT RefreshTTL must be > 0")
	}
	switch c.JWT.SigningMethod {
	case "hs256":
		if len(c.JWT.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 || len(c.JWT.PublicKey) == 0 {
			return errors.New("ed25519 requires PrivateKey and PublicKey")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}

	if c.Session.ExpirySeconds <= 0 {
		return errors.New("Session ExpirySeconds must be > 0")
	}
	if strings.TrimSpace(c.Session.RedisPrefix) == "" {
		return errors.New("Session RedisPrefix must be set")
	}
	if c.Session.RetentionTTL < time.Duration(c.Session.ExpirySeconds)*time.Second {
		return errors.New("Session RetentionTTL must cover the inactivity window")
	}
	if strings.TrimSpace(c.Session.AuthRedisPrefix) == "" || c.Session.AuthRedisPrefix == c.Session.RedisPrefix {
		return errors.New("Session AuthRedisPrefix must be set and differ from the session prefix")
	}

	if c.MFA.Window <= 0 {
		return errors.New("MFA Window must be > 0")
	}
	if c.MFA.OTPDigits < 6 || c.MFA.OTPDigits > 10 {
		return errors.New("MFA OTPDigits must be between 6 and 10")
	}
	if c.MFA.RetentionTTL < c.MFA.Window {
		return errors.New("MFA RetentionTTL must be >= Window")
	}
	if strings.TrimSpace(c.MFA.RedisPrefix) == "" || c.MFA.RedisPrefix == c.Session.RedisPrefix {
		return errors.New("MFA RedisPrefix must be set and differ from the session prefix")
	}
	if strings.TrimSpace(c.MFA.RegistrationPrefix) == "" || c.MFA.RegistrationPrefix == c.MFA.RedisPrefix {
		return errors.New("MFA RegistrationPrefix must be set and differ from the challenge prefix")
	}
	if c.MFA.RegistrationTTL < c.MFA.Window {
		return errors.New("MFA RegistrationTTL must be >= Window")
	}

	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}

	if c.Links.BaseURL != "" {
		u, err := url.Parse(c.Links.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return errors.New("Links BaseURL must be an absolute URL")
		}
	}

	if c.Prelaunch.Enabled && c.Prelaunch.PasswordHash == "" {
		return errors.New("Prelaunch PasswordHash is required when enabled")
	}

	if c.Notify.BufferSize < 0 || c.Notify.Workers < 0 || c.Notify.SendTimeout < 0 {
		return errors.New("Notify settings must not be negative")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics EnableLatencyHistograms requires Metrics Enabled")
	}

	return nil
}
