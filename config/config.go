package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the bot.
type Config struct {
	General     GeneralConfig     `mapstructure:"general"`
	Server      ServerConfig      `mapstructure:"server"`
	Telegram    TelegramConfig    `mapstructure:"telegram"`
	AI          AIConfig          `mapstructure:"ai"`
	Game        GameConfig        `mapstructure:"game"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
}

// GeneralConfig contains general application settings.
type GeneralConfig struct {
	Debug bool `mapstructure:"debug"`
}

// ServerConfig contains HTTP server and admin settings.
type ServerConfig struct {
	Address           string `mapstructure:"address"`
	PublicBaseURL     string `mapstructure:"public_base_url"`
	WebhookPathSecret string `mapstructure:"webhook_path_secret"`
	AdminKey          string `mapstructure:"admin_key"`
	ShareSecret       string `mapstructure:"share_secret"`
}

func (s ServerConfig) Validate() error {
	if strings.TrimSpace(s.Address) == "" {
		return fmt.Errorf("server.address is required")
	}
	if strings.TrimSpace(s.ShareSecret) == "" {
		return fmt.Errorf("server.share_secret is required")
	}
	return nil
}

// TelegramConfig contains Bot API credentials.
type TelegramConfig struct {
	BotToken    string `mapstructure:"bot_token"`
	BotUsername string `mapstructure:"bot_username"`
	SecretToken string `mapstructure:"secret_token"`
	APIBaseURL  string `mapstructure:"api_base_url"`
}

func (t TelegramConfig) Validate() error {
	if strings.TrimSpace(t.BotToken) == "" {
		return fmt.Errorf("telegram.bot_token is required")
	}
	if strings.TrimSpace(t.SecretToken) == "" {
		return fmt.Errorf("telegram.secret_token is required")
	}
	return nil
}

// AIProvider is one chat-completion endpoint.
type AIProvider struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
}

// Configured reports whether the provider has enough settings to be called.
func (p AIProvider) Configured() bool {
	return strings.TrimSpace(p.APIKey) != ""
}

// AIConfig contains the chapter author provider chain settings.
type AIConfig struct {
	Primary     AIProvider    `mapstructure:"primary"`
	OpenAI      AIProvider    `mapstructure:"openai"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// GameConfig contains pacing and reward knobs.
type GameConfig struct {
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
	Cooldown       time.Duration `mapstructure:"cooldown"`
	DailyChoices   int           `mapstructure:"daily_choices"`
	DailyPrewarms  int           `mapstructure:"daily_prewarms"`
	PioneerBonusXP int           `mapstructure:"pioneer_bonus_xp"`
	MentorName     string        `mapstructure:"mentor_name"`
}

func (g GameConfig) Validate() error {
	if g.TokenTTL <= 0 {
		return fmt.Errorf("game.token_ttl must be > 0")
	}
	if g.Cooldown < 0 {
		return fmt.Errorf("game.cooldown cannot be negative")
	}
	return nil
}

// StorageConfig contains storage and persistence settings.
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains Postgres connection settings.
type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN builds the Postgres connection string from its parts.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// RedisConfig contains Redis connection settings.
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// TelemetryConfig contains monitoring settings.
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// MaintenanceConfig contains background job settings.
type MaintenanceConfig struct {
	SweepCron      string `mapstructure:"sweep_cron"`
	PrewarmWorkers int    `mapstructure:"prewarm_workers"`
	PrewarmQueue   string `mapstructure:"prewarm_queue"`
}

// LoadConfig loads config from file
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.SetDefault("server.address", ":8085")
	viper.SetDefault("telegram.api_base_url", "https://api.telegram.org")
	viper.SetDefault("ai.primary.model", "grok-4")
	viper.SetDefault("ai.openai.base_url", "https://api.openai.com")
	viper.SetDefault("ai.openai.model", "gpt-4o-mini")
	viper.SetDefault("ai.temperature", 0.8)
	viper.SetDefault("ai.timeout", 30*time.Second)
	viper.SetDefault("game.token_ttl", 8*time.Minute)
	viper.SetDefault("game.cooldown", 2500*time.Millisecond)
	viper.SetDefault("game.daily_choices", 200)
	viper.SetDefault("game.daily_prewarms", 60)
	viper.SetDefault("game.pioneer_bonus_xp", 5)
	viper.SetDefault("game.mentor_name", "King of Carts")
	viper.SetDefault("storage.redis.timeout", 5*time.Second)
	viper.SetDefault("maintenance.sweep_cron", "*/10 * * * *")
	viper.SetDefault("maintenance.prewarm_workers", 1)
	viper.SetDefault("maintenance.prewarm_queue", "fabula:prewarm")

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("FABULA")
	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	if err := config.Server.Validate(); err != nil {
		panic(err)
	}
	if err := config.Telegram.Validate(); err != nil {
		panic(err)
	}
	if err := config.Game.Validate(); err != nil {
		panic(err)
	}
	if err := config.Storage.Postgres.Validate(); err != nil {
		panic(err)
	}
	if err := config.Storage.Redis.Validate(); err != nil {
		panic(err)
	}
	return &config
}

// Mask hides all but the first characters of a secret for debug output.
func Mask(value string) string {
	if value == "" {
		return value
	}
	if len(value) <= 3 {
		return "***"
	}
	return value[:3] + "***"
}
