package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DiscordToken string         `yaml:"discord_token"`
	OwnerID      string         `yaml:"owner_id"`
	DatabasePath string         `yaml:"database_path"`
	RulesPath    string         `yaml:"rules_path"`
	LogLevel     string         `yaml:"log_level"`
	Channels     ChannelConfig  `yaml:"channels"`
	Wipe         WipeConfig     `yaml:"wipe"`
	Boom         BoomConfig     `yaml:"boom"`
	Leveling     LevelingConfig `yaml:"leveling"`
	Relay        RelayConfig    `yaml:"relay"`
	Health       HealthConfig   `yaml:"health"`
}

// ChannelConfig names the well-known channels the bot looks up per guild.
type ChannelConfig struct {
	Logs       string `yaml:"logs"`
	Moderators string `yaml:"moderators"`
	General    string `yaml:"general"`
}

type WipeConfig struct {
	ScanLimit int `yaml:"scan_limit"`
}

type BoomConfig struct {
	MaxCount          int `yaml:"max_count"`
	RateLimitBursts   int `yaml:"rate_limit_bursts"`
	RateWindowSeconds int `yaml:"rate_window_seconds"`
}

type LevelingConfig struct {
	CooldownSeconds int `yaml:"cooldown_seconds"`
	XPMin           int `yaml:"xp_min"`
	XPMax           int `yaml:"xp_max"`
}

type RelayConfig struct {
	CallTimeoutSeconds int `yaml:"call_timeout_seconds"`
}

type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

func DefaultConfig() Config {
	return Config{
		DatabasePath: "levels.db",
		RulesPath:    "configs",
		LogLevel:     "info",
		Channels: ChannelConfig{
			Logs:       "logs",
			Moderators: "moderators-only",
			General:    "general",
		},
		Wipe:     WipeConfig{ScanLimit: 200},
		Boom:     BoomConfig{MaxCount: 20, RateLimitBursts: 3, RateWindowSeconds: 60},
		Leveling: LevelingConfig{CooldownSeconds: 60, XPMin: 15, XPMax: 25},
		Relay:    RelayConfig{CallTimeoutSeconds: 10},
		Health:   HealthConfig{Enabled: false, Addr: ":8080"},
	}
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)
	if cfg.DiscordToken == "" {
		return Config{}, errors.New("DISCORD_TOKEN is required")
	}
	if cfg.Wipe.ScanLimit <= 0 {
		cfg.Wipe.ScanLimit = 200
	}
	if cfg.Boom.MaxCount <= 0 || cfg.Boom.MaxCount > 20 {
		cfg.Boom.MaxCount = 20
	}
	if cfg.Leveling.CooldownSeconds <= 0 {
		cfg.Leveling.CooldownSeconds = 60
	}
	if cfg.Leveling.XPMin <= 0 || cfg.Leveling.XPMax < cfg.Leveling.XPMin {
		cfg.Leveling.XPMin = 15
		cfg.Leveling.XPMax = 25
	}
	if cfg.Relay.CallTimeoutSeconds <= 0 {
		cfg.Relay.CallTimeoutSeconds = 10
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.DiscordToken = envString("DISCORD_TOKEN", cfg.DiscordToken)
	cfg.OwnerID = envString("OWNER_ID", cfg.OwnerID)
	cfg.DatabasePath = envString("DATABASE_PATH", cfg.DatabasePath)
	cfg.RulesPath = envString("RULES_PATH", cfg.RulesPath)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.Channels.Logs = envString("LOGS_CHANNEL", cfg.Channels.Logs)
	cfg.Channels.Moderators = envString("MODERATORS_CHANNEL", cfg.Channels.Moderators)
	cfg.Channels.General = envString("GENERAL_CHANNEL", cfg.Channels.General)
	cfg.Wipe.ScanLimit = envInt("WIPE_SCAN_LIMIT", cfg.Wipe.ScanLimit)
	cfg.Boom.MaxCount = envInt("BOOM_MAX_COUNT", cfg.Boom.MaxCount)
	cfg.Health.Enabled = envBool("HEALTH_ENABLED", cfg.Health.Enabled)
	cfg.Health.Addr = envString("HEALTH_ADDR", cfg.Health.Addr)
}

func BuildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	lvl := strings.ToLower(level)
	switch lvl {
	case "debug", "info", "warn", "error":
		cfg.Level = zap.NewAtomicLevelAt(parseLevel(lvl))
	default:
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	return cfg.Build()
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "1" || lower == "true" || lower == "yes"
	}
	return fallback
}
