package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/MrEthical07/glidauth"
)

const envPrefix = "GLIDAUTH_"

// daemonConfig is everything glidauthd reads from file, environment and
// flags, in increasing order of precedence.
type daemonConfig struct {
	Listen      string `koanf:"listen"`
	MetricsAddr string `koanf:"metrics_addr"`
	TrustProxy  bool   `koanf:"trust_proxy"`

	Log struct {
		Format string `koanf:"format"`
		Level  string `koanf:"level"`
	} `koanf:"log"`

	Redis struct {
		Addrs    []string `koanf:"addrs"`
		Password string   `koanf:"password"`
		DB       int      `koanf:"db"`
	} `koanf:"redis"`

	Directory struct {
		Driver      string `koanf:"driver"`
		DSN         string `koanf:"dsn"`
		Database    string `koanf:"database"`
		AutoMigrate bool   `koanf:"auto_migrate"`
	} `koanf:"directory"`

	JWT struct {
		SigningMethod  string        `koanf:"signing_method"`
		Secret         string        `koanf:"secret"`
		PrivateKeyFile string        `koanf:"private_key_file"`
		PublicKeyFile  string        `koanf:"public_key_file"`
		Issuer         string        `koanf:"issuer"`
		AccessTTL      time.Duration `koanf:"access_ttl"`
		RefreshTTL     time.Duration `koanf:"refresh_ttl"`
	} `koanf:"jwt"`

	Session struct {
		ExpirySeconds int64 `koanf:"expiry_seconds"`
	} `koanf:"session"`

	MFA struct {
		Window    time.Duration `koanf:"window"`
		OTPDigits int           `koanf:"otp_digits"`
	} `koanf:"mfa"`

	Cookie struct {
		Domain string `koanf:"domain"`
	} `koanf:"cookie"`

	Links struct {
		BaseURL string `koanf:"base_url"`
	} `koanf:"links"`

	Prelaunch struct {
		Enabled      bool   `koanf:"enabled"`
		PasswordHash string `koanf:"password_hash"`
	} `koanf:"prelaunch"`

	Audit struct {
		Enabled bool `koanf:"enabled"`
	} `koanf:"audit"`

	Notify struct {
		LogSecrets bool `koanf:"log_secrets"`
	} `koanf:"notify"`
}

// flagKeys maps command-line flags onto config keys. Flags missing here
// are not part of the configuration.
var flagKeys = map[string]string{
	"listen":           "listen",
	"metrics-addr":     "metrics_addr",
	"trust-proxy":      "trust_proxy",
	"log-format":       "log.format",
	"log-level":        "log.level",
	"redis-addr":       "redis.addrs",
	"directory":        "directory.driver",
	"directory-dsn":    "directory.dsn",
	"directory-db":     "directory.database",
	"auto-migrate":     "directory.auto_migrate",
	"cookie-domain":    "cookie.domain",
	"links-base-url":   "links.base_url",
	"notify-log-codes": "notify.log_secrets",
}

// registerFlags declares the flags listed in flagKeys with their defaults.
func registerFlags(fs *pflag.FlagSet) {
	fs.String("listen", ":8080", "HTTP API listen address")
	fs.String("metrics-addr", ":9100", "metrics and health listen address (empty = disabled)")
	fs.Bool("trust-proxy", false, "take client IPs from X-Forwarded-For")
	fs.String("log-format", "json", "log format (json or text)")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.StringSlice("redis-addr", []string{"localhost:6379"}, "Redis address; repeat for cluster")
	fs.String("directory", "memory", "user directory driver (memory, postgres, mongo)")
	fs.String("directory-dsn", "", "directory connection string")
	fs.String("directory-db", "glidauth", "MongoDB database name")
	fs.Bool("auto-migrate", false, "apply Postgres migrations on start")
	fs.String("cookie-domain", "", "domain of the session and token cookies")
	fs.String("links-base-url", "", "absolute base URL of magic links")
	fs.Bool("notify-log-codes", false, "log OTP codes and links (development only)")
}

// loadConfig layers the YAML file at path, GLIDAUTH_ variables and fs.
// Unchanged flags only supply defaults.
func loadConfig(path string, fs *pflag.FlagSet) (*daemonConfig, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_INVALID").With("path", path).Wrap(err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, oops.Code("CONFIG_INVALID").Wrap(err)
	}

	if fs != nil {
		if err := k.Load(posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		}), nil); err != nil {
			return nil, oops.Code("CONFIG_INVALID").Wrap(err)
		}
	}

	cfg := &daemonConfig{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, oops.Code("CONFIG_INVALID").Wrap(err)
	}
	return cfg, nil
}

// envKey turns GLIDAUTH_JWT__ACCESS_TTL into jwt.access_ttl.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Validate checks the settings the engine does not validate itself.
func (c *daemonConfig) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen is required")
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("log.format must be 'json' or 'text', got %q", c.Log.Format)
	}
	if len(c.Redis.Addrs) == 0 {
		return fmt.Errorf("redis.addrs is required")
	}
	switch c.Directory.Driver {
	case "memory":
	case "postgres", "mongo":
		if c.Directory.DSN == "" {
			return fmt.Errorf("directory.dsn is required for the %s directory", c.Directory.Driver)
		}
	default:
		return fmt.Errorf("directory.driver must be memory, postgres or mongo, got %q", c.Directory.Driver)
	}
	return nil
}

// engineConfig overlays the daemon settings on glidauth.DefaultConfig.
func (c *daemonConfig) engineConfig() (glidauth.Config, error) {
	cfg := glidauth.DefaultConfig()

	if c.JWT.SigningMethod != "" {
		cfg.JWT.SigningMethod = strings.ToLower(c.JWT.SigningMethod)
	}
	if c.JWT.Issuer != "" {
		cfg.JWT.Issuer = c.JWT.Issuer
	}
	if c.JWT.AccessTTL > 0 {
		cfg.JWT.AccessTTL = c.JWT.AccessTTL
	}
	if c.JWT.RefreshTTL > 0 {
		cfg.JWT.RefreshTTL = c.JWT.RefreshTTL
	}
	switch cfg.JWT.SigningMethod {
	case "ed25519":
		priv, err := os.ReadFile(c.JWT.PrivateKeyFile)
		if err != nil {
			return cfg, oops.Code("CONFIG_INVALID").With("key", "jwt.private_key_file").Wrap(err)
		}
		pub, err := os.ReadFile(c.JWT.PublicKeyFile)
		if err != nil {
			return cfg, oops.Code("CONFIG_INVALID").With("key", "jwt.public_key_file").Wrap(err)
		}
		cfg.JWT.PrivateKey, cfg.JWT.PublicKey = priv, pub
	default:
		cfg.JWT.PrivateKey = []byte(c.JWT.Secret)
	}

	if c.Session.ExpirySeconds > 0 {
		cfg.Session.ExpirySeconds = c.Session.ExpirySeconds
	}
	if c.MFA.Window > 0 {
		cfg.MFA.Window = c.MFA.Window
	}
	if c.MFA.OTPDigits > 0 {
		cfg.MFA.OTPDigits = c.MFA.OTPDigits
	}
	cfg.Cookie.Domain = c.Cookie.Domain
	cfg.Links.BaseURL = c.Links.BaseURL
	cfg.Prelaunch.Enabled = c.Prelaunch.Enabled
	cfg.Prelaunch.PasswordHash = c.Prelaunch.PasswordHash
	cfg.Audit.Enabled = c.Audit.Enabled

	if err := cfg.Validate(); err != nil {
		return cfg, oops.Code("CONFIG_INVALID").Wrap(err)
	}
	return cfg, nil
}
