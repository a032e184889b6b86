// Package config assembles the agent's runtime configuration from
// environment variables, with an optional credentials file filling the
// gaps. Environment always wins; the file only supplies values the
// environment left empty.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration. Each integration is optional:
// the agent runs with whatever subset of Jira, GitHub, and Daytona is
// configured, and the tool composer narrows the tool set accordingly.
type Config struct {
	ListenAddr      string `env:"STAGEHAND_LISTEN_ADDR" envDefault:":8090" yaml:"listen_addr"`
	AgentName       string `env:"STAGEHAND_AGENT_NAME" envDefault:"stagehand" yaml:"agent_name"`
	Model           string `env:"STAGEHAND_MODEL" envDefault:"claude-sonnet-4-5" yaml:"model"`
	MaxIterations   int    `env:"STAGEHAND_MAX_ITERATIONS" yaml:"max_iterations"`
	BranchPrefix    string `env:"STAGEHAND_BRANCH_PREFIX" envDefault:"stagehand/" yaml:"branch_prefix"`
	DBPath          string `env:"STAGEHAND_DB_PATH" envDefault:"stagehand.db" yaml:"db_path"`
	RedisURL        string `env:"REDIS_URL" yaml:"redis_url"`
	AnthropicAPIKey string `env:"ANTHROPIC_API_KEY" yaml:"anthropic_api_key"`

	Jira    Jira    `envPrefix:"JIRA_" yaml:"jira"`
	GitHub  GitHub  `envPrefix:"GITHUB_" yaml:"github"`
	Daytona Daytona `envPrefix:"DAYTONA_" yaml:"daytona"`
}

// Jira configures the tracker integration.
type Jira struct {
	BaseURL        string `env:"BASE_URL" yaml:"base_url"`
	CloudID        string `env:"CLOUD_ID" yaml:"cloud_id"`
	Email          string `env:"EMAIL" yaml:"email"`
	APIToken       string `env:"API_TOKEN" yaml:"api_token"`
	AcceptLanguage string `env:"ACCEPT_LANGUAGE" yaml:"accept_language"`
	DefaultProject string `env:"DEFAULT_PROJECT" yaml:"default_project"`
	WebhookSecret  string `env:"WEBHOOK_SECRET" yaml:"webhook_secret"`
	// AccountID pins the agent's own account id, skipping the /myself
	// lookup.
	AccountID string `env:"ACCOUNT_ID" yaml:"account_id"`
}

// GitHub configures the platform integration (GitHub App auth).
type GitHub struct {
	AppID          string `env:"APP_ID" yaml:"app_id"`
	PrivateKeyB64  string `env:"APP_PRIVATE_KEY_B64" yaml:"private_key_b64"`
	InstallationID int64  `env:"APP_INSTALLATION_ID" yaml:"installation_id"`
	WebhookSecret  string `env:"WEBHOOK_SECRET" yaml:"webhook_secret"`
	BotLogin       string `env:"BOT_LOGIN" envDefault:"stagehand" yaml:"bot_login"`
}

// Daytona configures workspace provisioning.
type Daytona struct {
	APIKey     string `env:"API_KEY" yaml:"api_key"`
	BaseURL    string `env:"API_URL" envDefault:"https://app.daytona.io/api" yaml:"api_url"`
	Snapshot   string `env:"SNAPSHOT" yaml:"snapshot"`
	TTLMinutes int    `env:"TTL_MINUTES" envDefault:"30" yaml:"ttl_minutes"`
}

// HasJira reports whether the tracker integration is fully configured.
func (c *Config) HasJira() bool {
	return c.Jira.BaseURL != "" && c.Jira.Email != "" && c.Jira.APIToken != ""
}

// HasGitHub reports whether the platform integration is fully configured.
func (c *Config) HasGitHub() bool {
	return c.GitHub.AppID != "" && c.GitHub.PrivateKeyB64 != "" && c.GitHub.InstallationID != 0
}

// HasDaytona reports whether workspace provisioning is configured.
func (c *Config) HasDaytona() bool {
	return c.Daytona.APIKey != ""
}

// DefaultDir returns the default credentials directory (~/.stagehand).
func DefaultDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".stagehand")
}

// Load parses the environment and merges in <dir>/credentials.yaml when it
// exists. A missing file is fine; an unreadable or malformed one is not.
func Load(dir string) (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	path := filepath.Join(dir, "credentials.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return finish(&cfg)
		}
		return nil, fmt.Errorf("reading credentials file: %w", err)
	}

	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing credentials file %s: %w", path, err)
	}
	cfg.fillFrom(&file)
	return finish(&cfg)
}

func finish(cfg *Config) (*Config, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// fillFrom copies file values into fields the environment left empty.
// Fields with an env default are only overridden when their env var is
// genuinely unset, so a file value still beats a default.
func (c *Config) fillFrom(file *Config) {
	fillDefaulted(&c.ListenAddr, file.ListenAddr, "STAGEHAND_LISTEN_ADDR")
	fillDefaulted(&c.AgentName, file.AgentName, "STAGEHAND_AGENT_NAME")
	fillDefaulted(&c.Model, file.Model, "STAGEHAND_MODEL")
	if c.MaxIterations == 0 {
		c.MaxIterations = file.MaxIterations
	}
	fillDefaulted(&c.BranchPrefix, file.BranchPrefix, "STAGEHAND_BRANCH_PREFIX")
	fillDefaulted(&c.DBPath, file.DBPath, "STAGEHAND_DB_PATH")
	fill(&c.RedisURL, file.RedisURL)
	fill(&c.AnthropicAPIKey, file.AnthropicAPIKey)

	fill(&c.Jira.BaseURL, file.Jira.BaseURL)
	fill(&c.Jira.CloudID, file.Jira.CloudID)
	fill(&c.Jira.Email, file.Jira.Email)
	fill(&c.Jira.APIToken, file.Jira.APIToken)
	fill(&c.Jira.AcceptLanguage, file.Jira.AcceptLanguage)
	fill(&c.Jira.DefaultProject, file.Jira.DefaultProject)
	fill(&c.Jira.WebhookSecret, file.Jira.WebhookSecret)
	fill(&c.Jira.AccountID, file.Jira.AccountID)

	fill(&c.GitHub.AppID, file.GitHub.AppID)
	fill(&c.GitHub.PrivateKeyB64, file.GitHub.PrivateKeyB64)
	if c.GitHub.InstallationID == 0 {
		c.GitHub.InstallationID = file.GitHub.InstallationID
	}
	fill(&c.GitHub.WebhookSecret, file.GitHub.WebhookSecret)
	fillDefaulted(&c.GitHub.BotLogin, file.GitHub.BotLogin, "GITHUB_BOT_LOGIN")

	fill(&c.Daytona.APIKey, file.Daytona.APIKey)
	fillDefaulted(&c.Daytona.BaseURL, file.Daytona.BaseURL, "DAYTONA_API_URL")
	fill(&c.Daytona.Snapshot, file.Daytona.Snapshot)
	if file.Daytona.TTLMinutes != 0 && os.Getenv("DAYTONA_TTL_MINUTES") == "" {
		c.Daytona.TTLMinutes = file.Daytona.TTLMinutes
	}
}

func fill(dst *string, v string) {
	if *dst == "" && v != "" {
		*dst = v
	}
}

func fillDefaulted(dst *string, v, envVar string) {
	if v != "" && os.Getenv(envVar) == "" {
		*dst = v
	}
}

func (c *Config) validate() error {
	if c.AnthropicAPIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required")
	}
	if !c.HasJira() && !c.HasGitHub() {
		return fmt.Errorf("no integration configured: set JIRA_* or GITHUB_* credentials")
	}
	if c.HasGitHub() && c.GitHub.WebhookSecret == "" {
		return fmt.Errorf("GITHUB_WEBHOOK_SECRET is required when the GitHub integration is configured")
	}
	return nil
}
