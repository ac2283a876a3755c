package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"stock-count-alerts/internal/extractor"
	"stock-count-alerts/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scraper   ScraperConfig   `mapstructure:"scraper"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Server    ServerConfig    `mapstructure:"server"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// ScraperConfig covers the external rendering service and the page being
// watched.
type ScraperConfig struct {
	BaseURL string `mapstructure:"base_url"`
	// TargetURL is the main listing page whose item count is monitored.
	TargetURL string `mapstructure:"target_url"`
	// LinkURL is the page linked from alert messages; defaults to TargetURL.
	LinkURL    string           `mapstructure:"link_url"`
	RenderWait time.Duration    `mapstructure:"render_wait"`
	Timeout    time.Duration    `mapstructure:"timeout"`
	UserAgent  string           `mapstructure:"user_agent"`
	Rules      []extractor.Rule `mapstructure:"rules"`
}

// TelegramConfig 描述 Telegram 推送参数。
type TelegramConfig struct {
	BotToken    string        `mapstructure:"bot_token"`
	APIBase     string        `mapstructure:"api_base"`
	AdminChatID string        `mapstructure:"admin_chat_id"`
	QRPhotoURL  string        `mapstructure:"qr_photo_url"`
	SendRate    float64       `mapstructure:"send_rate"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// MonitorConfig tunes cycle behaviour not stored in the database.
type MonitorConfig struct {
	AlertCooldown time.Duration `mapstructure:"alert_cooldown"`
}

// ServerConfig sets the HTTP trigger surface.
type ServerConfig struct {
	Addr       string `mapstructure:"addr"`
	AdminToken string `mapstructure:"admin_token"`
}

// SchedulerConfig governs the long-running poll loop.
type SchedulerConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	StartupDelay time.Duration `mapstructure:"startup_delay"`
	RunOnStart   bool          `mapstructure:"run_on_start"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("STOCKWATCHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "stockwatcher")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)

	v.SetDefault("scraper.base_url", "https://api.firecrawl.dev")
	v.SetDefault("scraper.render_wait", "5s")
	v.SetDefault("scraper.timeout", "45s")
	v.SetDefault("scraper.user_agent", "stockwatcher/1.0")

	v.SetDefault("telegram.api_base", "https://api.telegram.org")
	v.SetDefault("telegram.send_rate", 25.0)
	v.SetDefault("telegram.timeout", "15s")

	v.SetDefault("monitor.alert_cooldown", "1h")

	v.SetDefault("server.addr", ":8080")

	v.SetDefault("scheduler.interval", "1m")
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.run_on_start", true)

	v.SetDefault("export.max_data_points", 100000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Scraper.TargetURL == "" {
		return fmt.Errorf("scraper.target_url 必须配置")
	}
	if c.Scraper.RenderWait < 0 {
		return fmt.Errorf("scraper.render_wait cannot be negative")
	}
	if c.Telegram.SendRate <= 0 {
		return fmt.Errorf("telegram.send_rate must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
