// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration. It is constructed once
// at process start and passed by reference into the components; nothing else
// reads ambient environment state.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Account AccountConfig `mapstructure:"account" yaml:"account"`
	Panel   PanelConfig   `mapstructure:"panel" yaml:"panel"`
	Mailbox MailboxConfig `mapstructure:"mailbox" yaml:"mailbox"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Report  ReportConfig  `mapstructure:"report" yaml:"report"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// AccountConfig carries the panel credentials. The secret is env-only and is
// never serialized back out.
type AccountConfig struct {
	Identifier string `mapstructure:"identifier" yaml:"identifier"`
	Secret     string `mapstructure:"secret" yaml:"-"`
}

// PanelConfig describes the remote panel surfaces the run drives.
type PanelConfig struct {
	// LoginURL is the credential-entry surface.
	LoginURL string `mapstructure:"login_url" yaml:"login_url"`
	// TwoFactorPath is the URL fragment identifying the challenge surface.
	TwoFactorPath string `mapstructure:"two_factor_path" yaml:"two_factor_path"`
	// LandingPath is the URL fragment identifying the authenticated area.
	LandingPath string `mapstructure:"landing_path" yaml:"landing_path"`
	// RenewedPath is the URL fragment reached after a completed renewal.
	RenewedPath string `mapstructure:"renewed_path" yaml:"renewed_path"`
	// WaitTimeout bounds how long to wait for a surface to become ready.
	WaitTimeout time.Duration `mapstructure:"wait_timeout" yaml:"wait_timeout"`
	// StepPause is the settling pause between sequential panel actions.
	StepPause time.Duration `mapstructure:"step_pause" yaml:"step_pause"`
}

// MailboxConfig configures the inbox capture service and the second-factor
// polling policy.
type MailboxConfig struct {
	BaseURL   string `mapstructure:"base_url" yaml:"base_url"`
	APIToken  string `mapstructure:"api_token" yaml:"-"`
	AccountID string `mapstructure:"account_id" yaml:"account_id"`
	InboxID   string `mapstructure:"inbox_id" yaml:"inbox_id"`
	// RequestsPerSecond throttles calls against the inbox API.
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	// SettleDelay is waited before the first poll so the forwarding hop can
	// deliver the challenge mail.
	SettleDelay time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	// PollInterval spaces the polls that follow the settle delay.
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	// CodeBudget is the wall-clock budget for retrieving one code.
	CodeBudget time.Duration `mapstructure:"code_budget" yaml:"code_budget"`
}

// BrowserConfig holds settings for the headless browser instance.
type BrowserConfig struct {
	Headless      bool          `mapstructure:"headless" yaml:"headless"`
	WindowWidth   int           `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight  int           `mapstructure:"window_height" yaml:"window_height"`
	Language      string        `mapstructure:"language" yaml:"language"`
	UserAgent     string        `mapstructure:"user_agent" yaml:"user_agent"`
	PostLoadWait  time.Duration `mapstructure:"post_load_wait" yaml:"post_load_wait"`
	ScreenshotDir string        `mapstructure:"screenshot_dir" yaml:"screenshot_dir"`
	Args          []string      `mapstructure:"args" yaml:"args"`
}

// ReportConfig controls the persisted run report.
type ReportConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "xsrenew")
	v.SetDefault("logger.log_file", "xsrenew.log")
	v.SetDefault("logger.max_size", 20)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)

	// -- Panel --
	v.SetDefault("panel.login_url", "https://secure.xserver.ne.jp/xapanel/login/xmgame")
	v.SetDefault("panel.two_factor_path", "loginauth/index")
	v.SetDefault("panel.landing_path", "xapanel/xmgame/index")
	v.SetDefault("panel.renewed_path", "extend/do")
	v.SetDefault("panel.wait_timeout", "10s")
	v.SetDefault("panel.step_pause", "3s")

	// -- Mailbox --
	v.SetDefault("mailbox.base_url", "https://mailtrap.io")
	v.SetDefault("mailbox.requests_per_second", 1.0)
	v.SetDefault("mailbox.settle_delay", "20s")
	v.SetDefault("mailbox.poll_interval", "5s")
	v.SetDefault("mailbox.code_budget", "90s")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.window_width", 1920)
	v.SetDefault("browser.window_height", 1080)
	v.SetDefault("browser.language", "ja-JP")
	v.SetDefault("browser.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36")
	v.SetDefault("browser.post_load_wait", "3s")
	v.SetDefault("browser.screenshot_dir", ".")

	// -- Report --
	v.SetDefault("report.path", "README.md")
}

// NewFromViper creates a validated configuration instance from a viper object.
func NewFromViper(v *viper.Viper) (*Config, error) {
	// Bind environment variables for sensitive data explicitly; AutomaticEnv
	// does not always surface keys absent from the config file.
	v.BindEnv("account.identifier", "XSRENEW_ACCOUNT_IDENTIFIER")
	v.BindEnv("account.secret", "XSRENEW_ACCOUNT_SECRET")
	v.BindEnv("mailbox.api_token", "XSRENEW_MAILBOX_API_TOKEN")
	v.BindEnv("mailbox.account_id", "XSRENEW_MAILBOX_ACCOUNT_ID")
	v.BindEnv("mailbox.inbox_id", "XSRENEW_MAILBOX_INBOX_ID")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
// A missing value here is a configuration error, caught pre-flight, never a
// runtime one.
func (c *Config) Validate() error {
	if c.Account.Identifier == "" {
		return fmt.Errorf("account.identifier is required (XSRENEW_ACCOUNT_IDENTIFIER)")
	}
	if c.Account.Secret == "" {
		return fmt.Errorf("account.secret is required (XSRENEW_ACCOUNT_SECRET)")
	}
	if c.Panel.LoginURL == "" {
		return fmt.Errorf("panel.login_url is required")
	}
	if err := c.Mailbox.Validate(); err != nil {
		return fmt.Errorf("mailbox configuration invalid: %w", err)
	}
	if c.Panel.WaitTimeout <= 0 {
		return fmt.Errorf("panel.wait_timeout must be a positive duration")
	}
	if c.Report.Path == "" {
		return fmt.Errorf("report.path is required")
	}
	return nil
}

// Validate checks the mailbox section. All three identifiers are required
// because the second factor cannot be completed without the inbox.
func (m *MailboxConfig) Validate() error {
	if m.APIToken == "" {
		return fmt.Errorf("api_token is required (XSRENEW_MAILBOX_API_TOKEN)")
	}
	if m.AccountID == "" {
		return fmt.Errorf("account_id is required (XSRENEW_MAILBOX_ACCOUNT_ID)")
	}
	if m.InboxID == "" {
		return fmt.Errorf("inbox_id is required (XSRENEW_MAILBOX_INBOX_ID)")
	}
	if m.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be a positive duration")
	}
	if m.CodeBudget <= 0 {
		return fmt.Errorf("code_budget must be a positive duration")
	}
	return nil
}

// NewDefaultConfig creates a configuration populated with default values.
// Credentials and mailbox identifiers stay empty; callers that need a valid
// config must fill them in (tests do this directly).
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}
