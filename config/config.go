package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Environment variables that override secrets so they need not live in the
// config file.
const (
	EnvJWTSecret     = "TRUSTLANCE_JWT_SECRET"
	EnvArchiveDSN    = "TRUSTLANCE_ARCHIVE_DSN"
	EnvRedisPassword = "TRUSTLANCE_REDIS_PASSWORD"
	EnvWebhookSecret = "TRUSTLANCE_WEBHOOK_SECRET"
)

type Config struct {
	RPCAddress     string `toml:"RPCAddress"`
	DataDir        string `toml:"DataDir"`
	StorageBackend string `toml:"StorageBackend"`
	GenesisFile    string `toml:"GenesisFile"`
	NetworkName    string `toml:"NetworkName"`

	Log       LogConfig       `toml:"log"`
	RPC       RPCConfig       `toml:"rpc"`
	Escrow    EscrowConfig    `toml:"escrow"`
	Archive   ArchiveConfig   `toml:"archive"`
	Redis     RedisConfig     `toml:"redis"`
	Webhook   WebhookConfig   `toml:"webhook"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

type LogConfig struct {
	Level      string `toml:"Level"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

type RPCConfig struct {
	// JWTSecret signs admin tokens (HS256). Admin methods are disabled when empty.
	JWTSecret          string  `toml:"JWTSecret"`
	JWTIssuer          string  `toml:"JWTIssuer"`
	RateLimitPerSecond float64 `toml:"RateLimitPerSecond"`
	RateLimitBurst     int     `toml:"RateLimitBurst"`
	// TrustedProxies lists peer IPs whose X-Forwarded-For header is honoured.
	TrustedProxies     []string `toml:"TrustedProxies"`
	MaxConnections     int      `toml:"MaxConnections"`
	ReadTimeoutSeconds int      `toml:"ReadTimeoutSeconds"`
	MaxBodyBytes       int64    `toml:"MaxBodyBytes"`
}

type EscrowConfig struct {
	Paused bool `toml:"Paused"`
}

type ArchiveConfig struct {
	Enabled bool `toml:"Enabled"`
	// Driver is "sqlite" or "postgres".
	Driver string `toml:"Driver"`
	DSN    string `toml:"DSN"`
}

type RedisConfig struct {
	Enabled  bool   `toml:"Enabled"`
	Addr     string `toml:"Addr"`
	Password string `toml:"Password"`
	DB       int    `toml:"DB"`
	Channel  string `toml:"Channel"`
}

// WebhookConfig enables signed HTTP delivery of committed events. Delivery is
// off while Endpoint is empty.
type WebhookConfig struct {
	Endpoint    string `toml:"Endpoint"`
	Secret      string `toml:"Secret"`
	MaxAttempts int    `toml:"MaxAttempts"`
}

type TelemetryConfig struct {
	Traces      bool    `toml:"Traces"`
	Metrics     bool    `toml:"Metrics"`
	Endpoint    string  `toml:"Endpoint"`
	Insecure    bool    `toml:"Insecure"`
	Headers     string  `toml:"Headers"`
	SampleRatio float64 `toml:"SampleRatio"`
}

// Default returns the configuration written on first start.
func Default() *Config {
	return &Config{
		RPCAddress:     ":8545",
		DataDir:        "./trustlance-data",
		StorageBackend: "leveldb",
		NetworkName:    "trustlance-local",
		Log: LogConfig{
			Level: "info",
		},
		RPC: RPCConfig{
			JWTIssuer:          "trustlance",
			RateLimitPerSecond: 20,
			RateLimitBurst:     40,
			ReadTimeoutSeconds: 10,
			MaxBodyBytes:       1 << 20,
			MaxConnections:     512,
		},
		Archive: ArchiveConfig{
			Driver: "sqlite",
			DSN:    "file:archive.db?_pragma=journal_mode(WAL)",
		},
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			Channel: "trustlance.escrow.events",
		},
		Telemetry: TelemetryConfig{
			Endpoint: "localhost:4318",
			Insecure: true,
		},
	}
}

// Load loads the configuration from the given path. A missing file is
// created with defaults.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown key %s", path, undecoded[0])
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvJWTSecret)); v != "" {
		c.RPC.JWTSecret = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvArchiveDSN)); v != "" {
		c.Archive.DSN = v
	}
	if v := os.Getenv(EnvRedisPassword); v != "" {
		c.Redis.Password = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvWebhookSecret)); v != "" {
		c.Webhook.Secret = v
	}
}

func (c *Config) applyDefaults() {
	defaults := Default()
	if strings.TrimSpace(c.NetworkName) == "" {
		c.NetworkName = defaults.NetworkName
	}
	if strings.TrimSpace(c.StorageBackend) == "" {
		c.StorageBackend = defaults.StorageBackend
	}
	if c.RPC.MaxBodyBytes <= 0 {
		c.RPC.MaxBodyBytes = defaults.RPC.MaxBodyBytes
	}
	if c.RPC.ReadTimeoutSeconds <= 0 {
		c.RPC.ReadTimeoutSeconds = defaults.RPC.ReadTimeoutSeconds
	}
	if strings.TrimSpace(c.Redis.Channel) == "" {
		c.Redis.Channel = defaults.Redis.Channel
	}
}

// ResolvePath returns p relative to the data directory unless it is absolute.
func (c *Config) ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.DataDir, p)
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
