package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// DefaultPath is used when neither --config nor $CONFIG_PATH is set
const DefaultPath = "./config/config.yaml"

// Config holds the application configuration
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Discord   DiscordConfig   `yaml:"discord"`
	Webserver WebserverConfig `yaml:"webserver"`
	Mojang    MojangConfig    `yaml:"mojang"`
	Events    EventsConfig    `yaml:"events"`
	Log       LogConfig       `yaml:"log"`
}

// DatabaseConfig holds SQLite settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
	// PendingTTL expires unredeemed auth codes; zero keeps them forever
	PendingTTL time.Duration `yaml:"pending_ttl"`
}

// DiscordConfig holds the bot settings
type DiscordConfig struct {
	Token      string   `yaml:"token"`
	GuildID    string   `yaml:"guild_id"`
	Prefix     string   `yaml:"prefix"`
	Roles      []string `yaml:"roles"`
	AdminRoles []string `yaml:"admin_roles"`
}

// WebserverConfig holds the HTTP boundary settings
type WebserverConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	Port       int    `yaml:"port"`
	Token      string `yaml:"token"`
}

// Addr returns the listen address in host:port form
func (w WebserverConfig) Addr() string {
	return fmt.Sprintf("%s:%d", w.ListenAddr, w.Port)
}

// MojangConfig holds the player resolver settings
type MojangConfig struct {
	APIURL      string        `yaml:"api_url"`
	SessionURL  string        `yaml:"session_url"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// EventsConfig holds the event bus settings
type EventsConfig struct {
	NATSURL string `yaml:"nats_url"` // empty disables NATS publishing
	Subject string `yaml:"subject"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Path resolves the config file location from the flag value, then
// $CONFIG_PATH, then DefaultPath
func Path(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv("CONFIG_PATH"); env != "" {
		return env
	}
	return DefaultPath
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.applyDefaults()

	if cfg.Webserver.Token == "" {
		return nil, errors.New("webserver.token must be set")
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./config/accounts.db"
	}

	if cfg.Discord.Prefix == "" {
		cfg.Discord.Prefix = "!minecraft"
	}

	if cfg.Webserver.ListenAddr == "" {
		cfg.Webserver.ListenAddr = "0.0.0.0"
	}
	if cfg.Webserver.Port == 0 {
		cfg.Webserver.Port = 3001
	}

	if cfg.Mojang.APIURL == "" {
		cfg.Mojang.APIURL = "https://api.mojang.com"
	}
	if cfg.Mojang.SessionURL == "" {
		cfg.Mojang.SessionURL = "https://sessionserver.mojang.com"
	}
	if cfg.Mojang.Timeout == 0 {
		cfg.Mojang.Timeout = 10 * time.Second
	}
	if cfg.Mojang.MaxAttempts == 0 {
		cfg.Mojang.MaxAttempts = 3
	}

	if cfg.Events.Subject == "" {
		cfg.Events.Subject = "mcauth.events"
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Log.MaxSizeMB == 0 {
		cfg.Log.MaxSizeMB = 50
	}
	if cfg.Log.MaxBackups == 0 {
		cfg.Log.MaxBackups = 5
	}
	if cfg.Log.MaxAgeDays == 0 {
		cfg.Log.MaxAgeDays = 28
	}
}

// Default returns a complete configuration with a fresh webserver token
func Default() *Config {
	cfg := &Config{
		Discord: DiscordConfig{
			Roles:      []string{},
			AdminRoles: []string{},
		},
		Webserver: WebserverConfig{Token: uuid.NewString()},
	}
	cfg.applyDefaults()
	return cfg
}

// Write saves cfg to path, creating parent directories. An existing file
// is never overwritten.
func Write(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("config file %s already exists", path)
		}
		return fmt.Errorf("creating config file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("writing config file: %w", err)
	}
	return f.Close()
}
