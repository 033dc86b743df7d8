package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"

	"github.com/pearconnect/connect-server/internal/model"
	"github.com/pearconnect/connect-server/internal/util"
)

var knownWeakSecrets = []string{
	"change-me", "dev-secret-change-me", "secret", "admin", "password",
}

// maxServiceNameLen is the DNS-SD instance label limit.
const maxServiceNameLen = 63

// Config holds every option. Fields with a json tag may also come from the
// CONFIG_FILE overlay and can change while the server runs.
type Config struct {
	Enabled               bool   `env:"PEAR_CONNECT_ENABLED" envDefault:"true" json:"enabled"`
	Host                  string `env:"HOST" envDefault:"0.0.0.0" json:"-"`
	Port                  int    `env:"PORT" envDefault:"8888" json:"port"`
	DiscoveryEnabled      bool   `env:"DISCOVERY_ENABLED" envDefault:"true" json:"discoveryEnabled"`
	ServiceName           string `env:"SERVICE_NAME" envDefault:"Pear Desktop" json:"serviceName"`
	RequireAuth           bool   `env:"REQUIRE_AUTH" envDefault:"true" json:"requireAuth"`
	SigningSecret         string `env:"SIGNING_SECRET" json:"signingSecret"`
	MaxConnections        int    `env:"MAX_CONNECTIONS" envDefault:"5" json:"maxConnections"`
	AutoSync              bool   `env:"AUTO_SYNC" envDefault:"true" json:"autoSync"`
	AllowVolumeControl    bool   `env:"ALLOW_VOLUME_CONTROL" envDefault:"true" json:"allowVolumeControl"`
	AllowPlaybackControl  bool   `env:"ALLOW_PLAYBACK_CONTROL" envDefault:"true" json:"allowPlaybackControl"`
	AllowPlaylistBrowsing bool   `env:"ALLOW_PLAYLIST_BROWSING" envDefault:"true" json:"allowPlaylistBrowsing"`
	PairingAttemptsPerMin int    `env:"PAIRING_ATTEMPTS_PER_MIN" envDefault:"10" json:"pairingAttemptsPerMin"`
	ConnectAttemptsPerMin int    `env:"CONNECT_ATTEMPTS_PER_MIN" envDefault:"60" json:"-"`
	LogLevel              string `env:"LOG_LEVEL" envDefault:"info" json:"logLevel"`
	RedisURL              string `env:"REDIS_URL" json:"-"`
	ControlAddr           string `env:"CONTROL_ADDR" envDefault:"127.0.0.1:8899" json:"-"`
	ControlKeyHash        string `env:"CONTROL_KEY_HASH" json:"-"`
	ConfigFile            string `env:"CONFIG_FILE" json:"-"`
}

// Permissions are granted to a session when it authenticates. Browsing the
// playlist also covers adding to the queue.
func (c *Config) Permissions() model.Permissions {
	return model.Permissions{
		Playback: c.AllowPlaybackControl,
		Volume:   c.AllowVolumeControl,
		Playlist: c.AllowPlaylistBrowsing,
		Queue:    c.AllowPlaylistBrowsing,
	}
}

func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 0 and 65535, got %d", c.Port)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("MAX_CONNECTIONS must not be negative (0 means unlimited)")
	}
	if c.PairingAttemptsPerMin < 1 {
		return fmt.Errorf("PAIRING_ATTEMPTS_PER_MIN must be at least 1")
	}

	c.ServiceName = strings.TrimSpace(c.ServiceName)
	if c.ServiceName == "" {
		return fmt.Errorf("SERVICE_NAME must not be empty")
	}
	if len(c.ServiceName) > maxServiceNameLen {
		return fmt.Errorf("SERVICE_NAME must be at most %d bytes", maxServiceNameLen)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error")
	}

	if c.ControlKeyHash != "" {
		if !strings.HasPrefix(c.ControlKeyHash, "$2a$") &&
			!strings.HasPrefix(c.ControlKeyHash, "$2b$") &&
			!strings.HasPrefix(c.ControlKeyHash, "$2y$") {
			return fmt.Errorf("CONTROL_KEY_HASH must be a bcrypt hash (generate with: go run scripts/hash-key.go <key>)")
		}
	}

	if c.SigningSecret != "" {
		if err := validateSecret("SIGNING_SECRET", c.SigningSecret); err != nil {
			return err
		}
	}

	if strings.HasPrefix(c.RedisURL, "redis://") && !isLoopbackRedis(c.RedisURL) {
		log.Warn().Msg("REDIS_URL uses redis:// (not TLS) to a remote host: consider using rediss://")
	}

	return nil
}

func isLoopbackRedis(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := u.Hostname()
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

func validateSecret(name, value string) error {
	if len(value) < util.SecretLength {
		return fmt.Errorf("%s must be at least %d characters (generate with: openssl rand -base64 32)", name, util.SecretLength)
	}
	for _, weak := range knownWeakSecrets {
		if value == weak {
			return fmt.Errorf("%s is a known weak default; set a strong secret", name)
		}
	}
	return nil
}

// EnsureSecret fills an empty signing secret with a random one. It reports
// whether a secret was generated.
func (c *Config) EnsureSecret() (bool, error) {
	if c.SigningSecret != "" {
		return false, nil
	}
	secret, err := util.GenerateSecret()
	if err != nil {
		return false, fmt.Errorf("generate signing secret: %w", err)
	}
	c.SigningSecret = secret
	log.Warn().Msg("SIGNING_SECRET is empty: generated a random secret, tokens will not survive a restart unless it is persisted")
	return true, nil
}

// Load reads the environment, then the CONFIG_FILE overlay if one is set.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.ConfigFile != "" {
		overlaid, err := LoadFile(cfg.ConfigFile, &cfg)
		if err != nil {
			return nil, err
		}
		return overlaid, nil
	}
	return &cfg, nil
}

// LoadFile applies the JSON file at path on top of a copy of base. Keys the
// file leaves out keep base's value. A missing file yields the copy.
func LoadFile(path string, base *Config) (*Config, error) {
	cfg := *base

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return &cfg, nil
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return &cfg, nil
}

// PersistSecret writes secret into the config file at path, keeping every
// other key. The write goes through a temp file and a rename.
func PersistSecret(path, secret string) error {
	doc := map[string]any{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil && len(strings.TrimSpace(string(data))) > 0:
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parse config file %s: %w", path, err)
		}
	case err != nil && !os.IsNotExist(err):
		return fmt.Errorf("read config file: %w", err)
	}

	doc["signingSecret"] = secret
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".pear-connect-*.json")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(out, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
