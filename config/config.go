// Package config loads emojitrail settings from .env files, an optional YAML
// file and EMOJITRAIL_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "EMOJITRAIL"

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Session SessionConfig `mapstructure:"session"`
	Log     LogConfig     `mapstructure:"log"`
}

// ServerConfig drives the relay.
type ServerConfig struct {
	Addr          string        `mapstructure:"addr"`
	IdleTimeout   time.Duration `mapstructure:"idle_timeout"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	PingInterval  time.Duration `mapstructure:"ping_interval"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	ReadLimit     int64         `mapstructure:"read_limit"`
	SendQueue     int           `mapstructure:"send_queue"`
}

// SessionConfig drives a client session.
type SessionConfig struct {
	ServerURL           string        `mapstructure:"server_url"`
	// PageURL is the game page that share links point at.
	PageURL             string        `mapstructure:"page_url"`
	Codec               string        `mapstructure:"codec"`
	Width               float64       `mapstructure:"width"`
	Height              float64       `mapstructure:"height"`
	BroadcastInterval   time.Duration `mapstructure:"broadcast_interval"`
	SpawnInterval       time.Duration `mapstructure:"spawn_interval"`
	RespawnDelay        time.Duration `mapstructure:"respawn_delay"`
	CollectGrace        time.Duration `mapstructure:"collect_grace"`
	InitialCollectibles int           `mapstructure:"initial_collectibles"`
	MaxCollectibles     int           `mapstructure:"max_collectibles"`
	FallbackDelay       time.Duration `mapstructure:"fallback_delay"`
	BotCap              int           `mapstructure:"bot_cap"`
	HeartbeatTimeout    time.Duration `mapstructure:"heartbeat_timeout"`
	SweepInterval       time.Duration `mapstructure:"sweep_interval"`
	Reconnect           bool          `mapstructure:"reconnect"`
	BackoffInitial      time.Duration `mapstructure:"backoff_initial"`
	BackoffMax          time.Duration `mapstructure:"backoff_max"`
	BackoffJitter       time.Duration `mapstructure:"backoff_jitter"`
	SendQueue           int           `mapstructure:"send_queue"`
}

type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: stdout, stderr, or file paths
	Outputs     []string       `mapstructure:"outputs"`
	Rotation    RotationConfig `mapstructure:"rotation"`
	Development bool           `mapstructure:"development"`
}

type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:          ":8004",
			IdleTimeout:   30 * time.Second,
			SweepInterval: 5 * time.Second,
			PingInterval:  25 * time.Second,
			WriteTimeout:  10 * time.Second,
			ReadLimit:     1 << 20,
			SendQueue:     64,
		},
		Session: DefaultSession(),
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			Outputs:     []string{"stdout"},
			Development: true,
			Rotation: RotationConfig{
				Filename:   "logs/emojitrail.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
	}
}

// DefaultSession mirrors the browser client's timings.
func DefaultSession() SessionConfig {
	return SessionConfig{
		ServerURL:           "ws://localhost:8004",
		PageURL:             "http://localhost:8000/",
		Codec:               "json",
		Width:               800,
		Height:              600,
		BroadcastInterval:   100 * time.Millisecond,
		SpawnInterval:       2 * time.Second,
		RespawnDelay:        500 * time.Millisecond,
		CollectGrace:        time.Second,
		InitialCollectibles: 5,
		MaxCollectibles:     20,
		FallbackDelay:       3 * time.Second,
		BotCap:              4,
		HeartbeatTimeout:    45 * time.Second,
		SweepInterval:       time.Second,
		Reconnect:           true,
		BackoffInitial:      500 * time.Millisecond,
		BackoffMax:          30 * time.Second,
		BackoffJitter:       100 * time.Millisecond,
		SendQueue:           64,
	}
}

// InitConfig loads .env files into the process environment. A missing file
// is not an error.
func InitConfig(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("stat %s: %w", f, err)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("load env files: %w", err)
	}
	return nil
}

func GetEnvVariable(v string) (string, error) {
	if v == "" {
		return "", fmt.Errorf("input param empty")
	}
	b := os.Getenv(v)
	if b == "" {
		return "", fmt.Errorf("failed to get variable for %s", v)
	}

	return b, nil
}

// Load reads configuration from path (if non-empty), otherwise from
// EMOJITRAIL_CONFIG or an emojitrail.yaml found in the usual places.
// Environment variables override file values, e.g. EMOJITRAIL_SERVER_ADDR.
func Load(path string) (*Config, error) {
	if err := InitConfig(); err != nil {
		return nil, err
	}
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v, cfg)

	if path == "" {
		if envPath, err := GetEnvVariable(envPrefix + "_CONFIG"); err == nil {
			path = envPath
		}
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("emojitrail")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".emojitrail"))
		}
	}

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

func setDefaults(v *viper.Viper, cfg *Config) {
	s := cfg.Server
	v.SetDefault("server.addr", s.Addr)
	v.SetDefault("server.idle_timeout", s.IdleTimeout)
	v.SetDefault("server.sweep_interval", s.SweepInterval)
	v.SetDefault("server.ping_interval", s.PingInterval)
	v.SetDefault("server.write_timeout", s.WriteTimeout)
	v.SetDefault("server.read_limit", s.ReadLimit)
	v.SetDefault("server.send_queue", s.SendQueue)

	c := cfg.Session
	v.SetDefault("session.server_url", c.ServerURL)
	v.SetDefault("session.page_url", c.PageURL)
	v.SetDefault("session.codec", c.Codec)
	v.SetDefault("session.width", c.Width)
	v.SetDefault("session.height", c.Height)
	v.SetDefault("session.broadcast_interval", c.BroadcastInterval)
	v.SetDefault("session.spawn_interval", c.SpawnInterval)
	v.SetDefault("session.respawn_delay", c.RespawnDelay)
	v.SetDefault("session.collect_grace", c.CollectGrace)
	v.SetDefault("session.initial_collectibles", c.InitialCollectibles)
	v.SetDefault("session.max_collectibles", c.MaxCollectibles)
	v.SetDefault("session.fallback_delay", c.FallbackDelay)
	v.SetDefault("session.bot_cap", c.BotCap)
	v.SetDefault("session.heartbeat_timeout", c.HeartbeatTimeout)
	v.SetDefault("session.sweep_interval", c.SweepInterval)
	v.SetDefault("session.reconnect", c.Reconnect)
	v.SetDefault("session.backoff_initial", c.BackoffInitial)
	v.SetDefault("session.backoff_max", c.BackoffMax)
	v.SetDefault("session.backoff_jitter", c.BackoffJitter)
	v.SetDefault("session.send_queue", c.SendQueue)

	l := cfg.Log
	v.SetDefault("log.level", l.Level)
	v.SetDefault("log.format", l.Format)
	v.SetDefault("log.outputs", l.Outputs)
	v.SetDefault("log.development", l.Development)
	v.SetDefault("log.rotation.enable", l.Rotation.Enable)
	v.SetDefault("log.rotation.filename", l.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", l.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", l.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", l.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", l.Rotation.Compress)
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
		c.Log.Outputs = []string{"stdout"}
	}

	c.Session.Codec = strings.ToLower(strings.TrimSpace(c.Session.Codec))
	switch c.Session.Codec {
	case "":
		c.Session.Codec = "json"
	case "json", "cbor", "msgpack":
	default:
		return fmt.Errorf("invalid session.codec: %q", c.Session.Codec)
	}
	if c.Session.Width <= 0 || c.Session.Height <= 0 {
		return fmt.Errorf("invalid canvas size %vx%v", c.Session.Width, c.Session.Height)
	}
	if c.Session.BotCap < 1 {
		return fmt.Errorf("invalid session.bot_cap: %d", c.Session.BotCap)
	}
	if c.Session.MaxCollectibles < c.Session.InitialCollectibles {
		c.Session.MaxCollectibles = c.Session.InitialCollectibles
	}
	if c.Server.SendQueue <= 0 {
		c.Server.SendQueue = 64
	}
	return nil
}
