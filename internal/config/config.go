package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	AdsPower   AdsPowerConfig   `yaml:"adspower" mapstructure:"adspower"`
	Browser    BrowserConfig    `yaml:"browser" mapstructure:"browser"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Extract    ExtractConfig    `yaml:"extract" mapstructure:"extract"`
	TwoFactor  TwoFactorConfig  `yaml:"two_factor" mapstructure:"two_factor"`
	ClickUp    ClickUpConfig    `yaml:"clickup" mapstructure:"clickup"`
	Notion     NotionConfig     `yaml:"notion" mapstructure:"notion"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Sheet      SheetConfig      `yaml:"sheet" mapstructure:"sheet"`
	Crypto     CryptoConfig     `yaml:"crypto" mapstructure:"crypto"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Report     ReportConfig     `yaml:"report" mapstructure:"report"`
	Schedule   ScheduleConfig   `yaml:"schedule" mapstructure:"schedule"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AdsPowerConfig configures the local AdsPower profile API.
type AdsPowerConfig struct {
	BaseURL     string   `yaml:"base_url" mapstructure:"base_url"`
	APIKey      string   `yaml:"api_key" mapstructure:"api_key"`
	RateLimit   float64  `yaml:"rate_limit" mapstructure:"rate_limit"`
	TimeoutSecs int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	LaunchArgs  []string `yaml:"launch_args" mapstructure:"launch_args"`
}

// BrowserConfig configures CDP sessions.
type BrowserConfig struct {
	StartURL            string `yaml:"start_url" mapstructure:"start_url"`
	EvidenceDir         string `yaml:"evidence_dir" mapstructure:"evidence_dir"`
	NavigateTimeoutSecs int    `yaml:"navigate_timeout_secs" mapstructure:"navigate_timeout_secs"`
	ClearCookiesOnReset bool   `yaml:"clear_cookies_on_reset" mapstructure:"clear_cookies_on_reset"`
}

// BatchConfig configures batch scheduling.
type BatchConfig struct {
	Concurrency  int  `yaml:"concurrency" mapstructure:"concurrency"`
	StaggerMinMs int  `yaml:"stagger_min_ms" mapstructure:"stagger_min_ms"`
	StaggerMaxMs int  `yaml:"stagger_max_ms" mapstructure:"stagger_max_ms"`
	CooldownSecs int  `yaml:"cooldown_secs" mapstructure:"cooldown_secs"`
	RetryBlocked bool `yaml:"retry_blocked" mapstructure:"retry_blocked"`
}

// ExtractConfig configures the per-account state machine.
type ExtractConfig struct {
	MaxAttempts      int      `yaml:"max_attempts" mapstructure:"max_attempts"`
	CallTimeoutSecs  int      `yaml:"call_timeout_secs" mapstructure:"call_timeout_secs"`
	BlockBackoffSecs int      `yaml:"block_backoff_secs" mapstructure:"block_backoff_secs"`
	SettleSecs       int      `yaml:"settle_secs" mapstructure:"settle_secs"`
	CaptureEvidence  bool     `yaml:"capture_evidence" mapstructure:"capture_evidence"`
	ValidTitles      []string `yaml:"valid_titles" mapstructure:"valid_titles"`
}

// TwoFactorConfig configures the code wait.
type TwoFactorConfig struct {
	TimeoutSecs      int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	PollIntervalSecs int `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
}

// ClickUpConfig configures report delivery to ClickUp.
type ClickUpConfig struct {
	Token    string `yaml:"token" mapstructure:"token"`
	TargetID string `yaml:"target_id" mapstructure:"target_id"`
	BaseURL  string `yaml:"base_url" mapstructure:"base_url"`
}

// NotionConfig configures report pages in a Notion database.
type NotionConfig struct {
	Token    string `yaml:"token" mapstructure:"token"`
	ReportDB string `yaml:"report_db" mapstructure:"report_db"`
}

// MonitoringConfig configures failure-rate alerting.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	MinAccounts          int     `yaml:"min_accounts" mapstructure:"min_accounts"`
}

// SheetConfig configures the spreadsheet execution log.
type SheetConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// CryptoConfig holds the Fernet keys for stored passwords. The first key
// encrypts; all keys decrypt.
type CryptoConfig struct {
	Keys []string `yaml:"keys" mapstructure:"keys"`
}

// ServerConfig configures the code ingest server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
	// Token, when set, is required as a bearer token on ingest routes.
	Token string `yaml:"token" mapstructure:"token"`
}

// ReportConfig configures report rendering.
type ReportConfig struct {
	Locale string `yaml:"locale" mapstructure:"locale"`
}

// ScheduleConfig configures the daily trigger.
type ScheduleConfig struct {
	At       string `yaml:"at" mapstructure:"at"`
	Timezone string `yaml:"timezone" mapstructure:"timezone"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("BALANCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.token", "")
	v.SetDefault("batch.concurrency", 2)
	v.SetDefault("batch.stagger_min_ms", 1000)
	v.SetDefault("batch.stagger_max_ms", 3000)
	v.SetDefault("batch.cooldown_secs", 5)
	v.SetDefault("batch.retry_blocked", true)
	v.SetDefault("extract.max_attempts", 2)
	v.SetDefault("extract.call_timeout_secs", 90)
	v.SetDefault("extract.block_backoff_secs", 5)
	v.SetDefault("extract.settle_secs", 10)
	v.SetDefault("extract.capture_evidence", true)
	v.SetDefault("two_factor.timeout_secs", 120)
	v.SetDefault("two_factor.poll_interval_secs", 3)
	v.SetDefault("adspower.base_url", "http://127.0.0.1:50325")
	v.SetDefault("adspower.api_key", "")
	v.SetDefault("adspower.rate_limit", 1.0)
	v.SetDefault("adspower.timeout_secs", 30)
	v.SetDefault("browser.start_url", "https://www.livelo.com.br/")
	v.SetDefault("browser.evidence_dir", "prints")
	v.SetDefault("browser.navigate_timeout_secs", 60)
	v.SetDefault("clickup.base_url", "https://api.clickup.com/api/v2")
	v.SetDefault("clickup.token", "")
	v.SetDefault("clickup.target_id", "")
	v.SetDefault("notion.token", "")
	v.SetDefault("notion.report_db", "")
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
	v.SetDefault("monitoring.min_accounts", 3)
	v.SetDefault("sheet.path", "")
	v.SetDefault("crypto.keys", []string{})
	v.SetDefault("adspower.launch_args", []string{"--start-maximized"})
	v.SetDefault("extract.valid_titles", []string{})
	v.SetDefault("report.locale", "pt-BR")
	v.SetDefault("schedule.at", "01:00")
	v.SetDefault("schedule.timezone", "America/Sao_Paulo")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

var clockPattern = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

// Validate checks the values required by a command mode: "batch", "serve"
// or "schedule".
func (c *Config) Validate(mode string) error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			add("store.database_url is required for the postgres driver (BALANCE_STORE_DATABASE_URL)")
		}
	case "sqlite":
	default:
		add("unsupported store driver %q", c.Store.Driver)
	}

	switch mode {
	case "batch", "schedule":
		if c.Batch.Concurrency < 1 {
			add("batch.concurrency must be at least 1, got %d", c.Batch.Concurrency)
		}
		if c.Batch.StaggerMaxMs < c.Batch.StaggerMinMs {
			add("batch.stagger_max_ms (%d) is below batch.stagger_min_ms (%d)", c.Batch.StaggerMaxMs, c.Batch.StaggerMinMs)
		}
		if c.AdsPower.BaseURL == "" {
			add("adspower.base_url is required")
		}
		if c.Extract.MaxAttempts < 1 {
			add("extract.max_attempts must be at least 1")
		}
		if (c.ClickUp.Token == "") != (c.ClickUp.TargetID == "") {
			add("clickup.token and clickup.target_id must be set together")
		}
		if (c.Notion.Token == "") != (c.Notion.ReportDB == "") {
			add("notion.token and notion.report_db must be set together")
		}
		if mode == "schedule" && !clockPattern.MatchString(c.Schedule.At) {
			add("schedule.at must be HH:MM, got %q", c.Schedule.At)
		}
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			add("server.port %d out of range", c.Server.Port)
		}
	default:
		add("unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: invalid for %s: %s", mode, strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
