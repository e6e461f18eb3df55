// Package config provides YAML-based configuration loading for tlscodec.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/TheusHen/tlscodec/tlscodec/identity"
	"github.com/TheusHen/tlscodec/tlscodec/tlsctx"
)

// Config is the root configuration.
type Config struct {
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	TLS     TLSConfig     `mapstructure:"tls" yaml:"tls"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level" yaml:"level"`
	// Format: console or json
	Format string `mapstructure:"format" yaml:"format"`
	// Outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs" yaml:"outputs"`

	Rotation    RotationConfig `mapstructure:"rotation" yaml:"rotation"`
	Development bool           `mapstructure:"development" yaml:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable" yaml:"enable"`
	Filename   string `mapstructure:"filename" yaml:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// TLSConfig is the on-disk form of tlsctx.Options.
type TLSConfig struct {
	CertFile   string `mapstructure:"cert_file" yaml:"cert_file"`
	KeyFile    string `mapstructure:"key_file" yaml:"key_file"`
	CAFile     string `mapstructure:"ca_file" yaml:"ca_file"`
	SelfSigned bool   `mapstructure:"self_signed" yaml:"self_signed"`
	// IdentitySeed is a hex Ed25519 seed for the self-signed certificate.
	// Empty means a fresh key on every start.
	IdentitySeed string `mapstructure:"identity_seed" yaml:"identity_seed"`
	CommonName   string `mapstructure:"common_name" yaml:"common_name"`
	ServerName   string `mapstructure:"server_name" yaml:"server_name"`
	// MinVersion and MaxVersion: "1.2" or "1.3"
	MinVersion         string   `mapstructure:"min_version" yaml:"min_version"`
	MaxVersion         string   `mapstructure:"max_version" yaml:"max_version"`
	ALPN               []string `mapstructure:"alpn" yaml:"alpn"`
	InsecureSkipVerify bool     `mapstructure:"insecure_skip_verify" yaml:"insecure_skip_verify"`
	RequireClientCert  bool     `mapstructure:"require_client_cert" yaml:"require_client_cert"`
	// PinnedPeers are hex PeerIDs (SHA-256 of the peer's public key).
	PinnedPeers []string `mapstructure:"pinned_peers" yaml:"pinned_peers"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stderr"},
			Rotation: RotationConfig{
				Enable:     false,
				Filename:   "logs/tlscodec.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		TLS: TLSConfig{
			SelfSigned: true,
			CommonName: tlsctx.DefaultCommonName,
			ServerName: tlsctx.DefaultCommonName,
			MinVersion: "1.2",
		},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// Load reads configuration from path (if non-empty), otherwise it searches
// common locations. Environment variables use the prefix TLSCODEC with `.`
// and `-` replaced by `_`, e.g. TLSCODEC_TLS_MIN_VERSION=1.3.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("TLSCODEC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults so env-only configs work
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	v.SetDefault("tls.cert_file", cfg.TLS.CertFile)
	v.SetDefault("tls.key_file", cfg.TLS.KeyFile)
	v.SetDefault("tls.ca_file", cfg.TLS.CAFile)
	v.SetDefault("tls.self_signed", cfg.TLS.SelfSigned)
	v.SetDefault("tls.identity_seed", cfg.TLS.IdentitySeed)
	v.SetDefault("tls.common_name", cfg.TLS.CommonName)
	v.SetDefault("tls.server_name", cfg.TLS.ServerName)
	v.SetDefault("tls.min_version", cfg.TLS.MinVersion)
	v.SetDefault("tls.max_version", cfg.TLS.MaxVersion)
	v.SetDefault("tls.alpn", cfg.TLS.ALPN)
	v.SetDefault("tls.insecure_skip_verify", cfg.TLS.InsecureSkipVerify)
	v.SetDefault("tls.require_client_cert", cfg.TLS.RequireClientCert)
	v.SetDefault("tls.pinned_peers", cfg.TLS.PinnedPeers)
	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)

	if path == "" {
		if envPath := os.Getenv("TLSCODEC_CONFIG"); envPath != "" {
			path = envPath
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("tlscodec")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".tlscodec"))
		}
	}

	// Missing config file is fine; defaults and env still apply.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg as YAML with owner-only permissions.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

func (c *Config) validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stderr"}
	}

	if _, err := c.TLS.Options(); err != nil {
		return err
	}
	return nil
}

// Options converts the TLS section to tlsctx.Options.
func (t TLSConfig) Options() (tlsctx.Options, error) {
	minVersion, err := tlsctx.ParseVersion(t.MinVersion)
	if err != nil {
		return tlsctx.Options{}, fmt.Errorf("invalid tls.min_version: %w", err)
	}
	maxVersion, err := tlsctx.ParseVersion(t.MaxVersion)
	if err != nil {
		return tlsctx.Options{}, fmt.Errorf("invalid tls.max_version: %w", err)
	}
	if maxVersion != 0 && minVersion > maxVersion {
		return tlsctx.Options{}, fmt.Errorf("tls.min_version %q is above tls.max_version %q", t.MinVersion, t.MaxVersion)
	}

	opts := tlsctx.Options{
		CertFile:           t.CertFile,
		KeyFile:            t.KeyFile,
		CAFile:             t.CAFile,
		SelfSigned:         t.SelfSigned,
		CommonName:         t.CommonName,
		ServerName:         t.ServerName,
		MinVersion:         minVersion,
		MaxVersion:         maxVersion,
		NextProtos:         t.ALPN,
		InsecureSkipVerify: t.InsecureSkipVerify,
		RequireClientCert:  t.RequireClientCert,
	}

	if t.IdentitySeed != "" {
		seed, err := hex.DecodeString(strings.TrimSpace(t.IdentitySeed))
		if err != nil {
			return tlsctx.Options{}, fmt.Errorf("invalid tls.identity_seed: %w", err)
		}
		kp, err := identity.KeyPairFromSeed(seed)
		if err != nil {
			return tlsctx.Options{}, fmt.Errorf("invalid tls.identity_seed: %w", err)
		}
		opts.Identity = &kp
	}

	for _, s := range t.PinnedPeers {
		id, err := identity.ParsePeerIDHex(strings.TrimSpace(s))
		if err != nil {
			return tlsctx.Options{}, fmt.Errorf("invalid tls.pinned_peers entry %q: %w", s, err)
		}
		opts.PinnedPeers = append(opts.PinnedPeers, id)
	}
	return opts, nil
}
