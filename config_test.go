package glidauth

import (
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{name: "defaults with key", mutate: func(c *Config) {}, wantValid: true},
		{name: "zero access ttl", mutate: func(c *Config) { c.JWT.AccessTTL = 0 }},
		{name: "zero refresh ttl", mutate: func(c *Config) { c.JWT.RefreshTTL = 0 }},
		{name: "short hs256 key", mutate: func(c *Config) { c.JWT.PrivateKey = []byte("short") }},
		{name: "ed25519 without keys", mutate: func(c *Config) { c.JWT.SigningMethod = "ed25519" }},
		{name: "unknown signing method", mutate: func(c *Config) { c.JWT.SigningMethod = "rs256" }},
		{name: "zero session expiry", mutate: func(c *Config) { c.Session.ExpirySeconds = 0 }},
		{name: "empty session prefix", mutate: func(c *Config) { c.Session.RedisPrefix = " " }},
		{name: "retention below expiry", mutate: func(c *Config) { c.Session.RetentionTTL = 1 }},
		{name: "auth prefix equals session prefix", mutate: func(c *Config) { c.Session.AuthRedisPrefix = c.Session.RedisPrefix }},
		{name: "zero mfa window", mutate: func(c *Config) { c.MFA.Window = 0 }},
		{name: "five digit otp", mutate: func(c *Config) { c.MFA.OTPDigits = 5 }},
		{name: "eleven digit otp", mutate: func(c *Config) { c.MFA.OTPDigits = 11 }},
		{name: "mfa prefix equals session prefix", mutate: func(c *Config) { c.MFA.RedisPrefix = c.Session.RedisPrefix }},
		{name: "registration prefix equals challenge prefix", mutate: func(c *Config) { c.MFA.RegistrationPrefix = c.MFA.RedisPrefix }},
		{name: "registration ttl below window", mutate: func(c *Config) { c.MFA.RegistrationTTL = c.MFA.Window / 2 }},
		{name: "weak argon2 memory", mutate: func(c *Config) { c.Password.Memory = 1024 }},
		{name: "short salt", mutate: func(c *Config) { c.Password.SaltLength = 8 }},
		{name: "relative link base", mutate: func(c *Config) { c.Links.BaseURL = "/login" }},
		{name: "absolute link base", mutate: func(c *Config) { c.Links.BaseURL = "https://id.example.com" }, wantValid: true},
		{name: "prelaunch without hash", mutate: func(c *Config) { c.Prelaunch.Enabled = true }},
		{name: "negative notify workers", mutate: func(c *Config) { c.Notify.Workers = -1 }},
		{name: "audit without buffer", mutate: func(c *Config) { c.Audit = AuditConfig{Enabled: true} }},
		{name: "histograms without metrics", mutate: func(c *Config) {
			c.Metrics = MetricsConfig{Enabled: false, EnableLatencyHistograms: true}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.JWT.PrivateKey = []byte("config-test-signing-key-0123456789")
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantValid && err != nil {
				t.Fatalf("expected valid config, got %v", err)
			}
			if !tt.wantValid && err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.JWT.RefreshTTL != 20*24*time.Hour {
		t.Fatalf("refresh tokens must default to 20 days, got %v", cfg.JWT.RefreshTTL)
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("default config without a key must not validate")
	}
}

func TestBuilderCopiesConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = []byte("config-test-signing-key-0123456789")

	b := New().WithConfig(cfg)
	cfg.JWT.PrivateKey[0] = 'X'
	if b.config.JWT.PrivateKey[0] == 'X' {
		t.Fatalf("builder must not alias the caller's key")
	}
}
