package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for the registry service
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Auth     AuthConfig     `toml:"auth"`
	Registry RegistryConfig `toml:"registry"`
	Ledger   LedgerConfig   `toml:"ledger"`
	Content  ContentConfig  `toml:"content"`
	P2P      P2PConfig      `toml:"p2p"`
	Journal  JournalConfig  `toml:"journal"`
	Log      LogConfig      `toml:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host           string  `toml:"host"`
	Port           int     `toml:"port"`
	ReadTimeout    int     `toml:"read_timeout"`
	WriteTimeout   int     `toml:"write_timeout"`
	RateLimitRPS   float64 `toml:"rate_limit_rps"`
	RateLimitBurst int     `toml:"rate_limit_burst"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"ssl_mode"`
}

// AuthConfig holds token signing and internal service credentials
type AuthConfig struct {
	JWTSecret     string `toml:"jwt_secret"`
	TokenTTLHours int    `toml:"token_ttl_hours"`
	ServiceKey    string `toml:"service_key"`
}

// RegistryConfig holds registry rules
type RegistryConfig struct {
	Owner        string `toml:"owner"`
	MinRefLength int    `toml:"min_ref_length"`
	TipRewardBps int64  `toml:"tip_reward_bps"`
}

// LedgerConfig holds token ledger settings
type LedgerConfig struct {
	Driver   string `toml:"driver"`
	DataDir  string `toml:"data_dir"`
	Token    string `toml:"token"`
	Treasury string `toml:"treasury"`
	Minter   string `toml:"minter"`
}

// ContentConfig holds blob store settings
type ContentConfig struct {
	BlobDir         string `toml:"blob_dir"`
	MaxUploadBytes  int64  `toml:"max_upload_bytes"`
	CacheSize       int    `toml:"cache_size"`
	CacheTTLSeconds int    `toml:"cache_ttl_seconds"`
}

// P2PConfig holds libp2p configuration
type P2PConfig struct {
	Enabled         bool     `toml:"enabled"`
	ListenAddresses []string `toml:"listen_addresses"`
	BootstrapPeers  []string `toml:"bootstrap_peers"`
}

// JournalConfig holds event journal settings
type JournalConfig struct {
	Enabled    bool `toml:"enabled"`
	BufferSize int  `toml:"buffer_size"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Load loads configuration from TOML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{Journal: JournalConfig{Enabled: true}}
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.SetDefaults()

	return &config, nil
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	cfg := &Config{Journal: JournalConfig{Enabled: true}}
	cfg.SetDefaults()
	return cfg
}

// Save saves configuration to TOML file
func (c *Config) Save(path string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ApplyEnv overrides secrets from the environment
func (c *Config) ApplyEnv() {
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("SERVICE_KEY"); v != "" {
		c.Auth.ServiceKey = v
	}
	if v := os.Getenv("DATABASE_PASSWORD"); v != "" {
		c.Database.Password = v
	}
}

// DatabaseURL returns the PostgreSQL connection URL
func (c *DatabaseConfig) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// SetDefaults sets default values for config
func (c *Config) SetDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30
	}
	if c.Server.RateLimitRPS == 0 {
		c.Server.RateLimitRPS = 5
	}
	if c.Server.RateLimitBurst == 0 {
		c.Server.RateLimitBurst = 10
	}
	if c.Database.Host == "" {
		c.Database.Host = "localhost"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.User == "" {
		c.Database.User = "postgres"
	}
	if c.Database.Database == "" {
		c.Database.Database = "registry"
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Auth.TokenTTLHours == 0 {
		c.Auth.TokenTTLHours = 24
	}
	if c.Registry.MinRefLength == 0 {
		c.Registry.MinRefLength = 10
	}
	if c.Ledger.Driver == "" {
		c.Ledger.Driver = "sqlite3"
	}
	if c.Ledger.DataDir == "" {
		c.Ledger.DataDir = "data/ledgers"
	}
	if c.Ledger.Token == "" {
		c.Ledger.Token = "tip"
	}
	if c.Content.BlobDir == "" {
		c.Content.BlobDir = filepath.Join("data", "blobs")
	}
	if c.Content.MaxUploadBytes == 0 {
		c.Content.MaxUploadBytes = 64 << 20 // 64MB
	}
	if c.Content.CacheSize == 0 {
		c.Content.CacheSize = 256
	}
	if c.Content.CacheTTLSeconds == 0 {
		c.Content.CacheTTLSeconds = 300
	}
	if len(c.P2P.ListenAddresses) == 0 {
		c.P2P.ListenAddresses = []string{
			"/ip4/0.0.0.0/tcp/0",
			"/ip4/0.0.0.0/udp/0/quic-v1",
		}
	}
	if c.Journal.BufferSize == 0 {
		c.Journal.BufferSize = 1024
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}
