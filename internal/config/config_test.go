// File: internal/config/config_test.go
package config_test

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/xsrenew-cli/internal/config"
)

// validConfig returns defaults completed with the env-only values so that
// Validate passes.
func validConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.Account.Identifier = "member-001"
	cfg.Account.Secret = "s3cret"
	cfg.Mailbox.APIToken = "token"
	cfg.Mailbox.AccountID = "12345"
	cfg.Mailbox.InboxID = "67890"
	return cfg
}

func TestNewDefaultConfig(t *testing.T) {
	cfg := config.NewDefaultConfig()

	assert.Equal(t, "https://secure.xserver.ne.jp/xapanel/login/xmgame", cfg.Panel.LoginURL)
	assert.Equal(t, "loginauth/index", cfg.Panel.TwoFactorPath)
	assert.Equal(t, "xapanel/xmgame/index", cfg.Panel.LandingPath)
	assert.Equal(t, "extend/do", cfg.Panel.RenewedPath)
	assert.Equal(t, 10*time.Second, cfg.Panel.WaitTimeout)
	assert.Equal(t, 3*time.Second, cfg.Panel.StepPause)

	assert.Equal(t, "https://mailtrap.io", cfg.Mailbox.BaseURL)
	assert.Equal(t, 20*time.Second, cfg.Mailbox.SettleDelay)
	assert.Equal(t, 5*time.Second, cfg.Mailbox.PollInterval)
	assert.Equal(t, 90*time.Second, cfg.Mailbox.CodeBudget)
	assert.InDelta(t, 1.0, cfg.Mailbox.RequestsPerSecond, 0.001)

	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, "ja-JP", cfg.Browser.Language)
	assert.Equal(t, 1920, cfg.Browser.WindowWidth)

	assert.Equal(t, "README.md", cfg.Report.Path)
	assert.Equal(t, "info", cfg.Logger.Level)
}

func TestValidate_CompleteConfig(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidate_MissingRequiredValues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantMsg string
	}{
		{
			name:    "missing identifier",
			mutate:  func(c *config.Config) { c.Account.Identifier = "" },
			wantMsg: "account.identifier",
		},
		{
			name:    "missing secret",
			mutate:  func(c *config.Config) { c.Account.Secret = "" },
			wantMsg: "account.secret",
		},
		{
			name:    "missing login url",
			mutate:  func(c *config.Config) { c.Panel.LoginURL = "" },
			wantMsg: "panel.login_url",
		},
		{
			name:    "missing mailbox token",
			mutate:  func(c *config.Config) { c.Mailbox.APIToken = "" },
			wantMsg: "api_token",
		},
		{
			name:    "missing mailbox account",
			mutate:  func(c *config.Config) { c.Mailbox.AccountID = "" },
			wantMsg: "account_id",
		},
		{
			name:    "missing mailbox inbox",
			mutate:  func(c *config.Config) { c.Mailbox.InboxID = "" },
			wantMsg: "inbox_id",
		},
		{
			name:    "non-positive wait timeout",
			mutate:  func(c *config.Config) { c.Panel.WaitTimeout = 0 },
			wantMsg: "wait_timeout",
		},
		{
			name:    "non-positive code budget",
			mutate:  func(c *config.Config) { c.Mailbox.CodeBudget = 0 },
			wantMsg: "code_budget",
		},
		{
			name:    "missing report path",
			mutate:  func(c *config.Config) { c.Report.Path = "" },
			wantMsg: "report.path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestNewFromViper_EnvironmentBinding(t *testing.T) {
	t.Setenv("XSRENEW_ACCOUNT_IDENTIFIER", "member-777")
	t.Setenv("XSRENEW_ACCOUNT_SECRET", "env-secret")
	t.Setenv("XSRENEW_MAILBOX_API_TOKEN", "env-token")
	t.Setenv("XSRENEW_MAILBOX_ACCOUNT_ID", "111")
	t.Setenv("XSRENEW_MAILBOX_INBOX_ID", "222")

	v := viper.New()
	config.SetDefaults(v)

	cfg, err := config.NewFromViper(v)
	require.NoError(t, err)
	assert.Equal(t, "member-777", cfg.Account.Identifier)
	assert.Equal(t, "env-secret", cfg.Account.Secret)
	assert.Equal(t, "env-token", cfg.Mailbox.APIToken)
	assert.Equal(t, "111", cfg.Mailbox.AccountID)
	assert.Equal(t, "222", cfg.Mailbox.InboxID)
}

func TestNewFromViper_MissingSecretsFailPreFlight(t *testing.T) {
	v := viper.New()
	config.SetDefaults(v)

	_, err := config.NewFromViper(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}
