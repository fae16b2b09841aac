// Package config provides layered configuration for the mailer: defaults,
// an optional YAML file, then environment variables (optionally read from
// a .env file). Command-line flags are applied on top by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Provider names accepted in the provider setting.
const (
	ProviderGmail  = "gmail"
	ProviderSES    = "ses"
	ProviderGraph  = "graph"
	ProviderSMTP   = "smtp"
	ProviderResend = "resend"
	ProviderStdout = "stdout"
)

// Config holds the complete application configuration.
type Config struct {
	Provider string        `yaml:"provider" validate:"oneof=gmail ses graph smtp resend stdout"`
	Gmail    GmailConfig   `yaml:"gmail"`
	SES      SESConfig     `yaml:"ses"`
	Graph    GraphConfig   `yaml:"graph"`
	SMTP     SMTPConfig    `yaml:"smtp"`
	Resend   ResendConfig  `yaml:"resend"`
	Send     SendConfig    `yaml:"send"`
	Logging  LoggingConfig `yaml:"logging"`
}

// GmailConfig locates the OAuth client secrets and the persisted token.
type GmailConfig struct {
	CredentialsFile string `yaml:"credentials_file" validate:"required"`
	TokenFile       string `yaml:"token_file" validate:"required"`
}

// SESConfig holds AWS SES configuration.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Sender          string `yaml:"sender"`
}

// GraphConfig holds Microsoft Graph API configuration.
type GraphConfig struct {
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Sender       string `yaml:"sender"`
}

// SMTPConfig holds the outbound SMTP relay configuration.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port" validate:"min=1,max=65535"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Sender   string `yaml:"sender"`
}

// ResendConfig holds Resend API configuration.
type ResendConfig struct {
	APIKey string `yaml:"api_key"`
	Sender string `yaml:"sender"`
}

// SendConfig controls retry and pacing.
type SendConfig struct {
	MaxAttempts   int           `yaml:"max_attempts" validate:"min=1,max=20"`
	BaseDelay     time.Duration `yaml:"base_delay" validate:"min=0"`
	MaxRetryAfter time.Duration `yaml:"max_retry_after" validate:"min=0"`
	Pace          time.Duration `yaml:"pace" validate:"min=0"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	loadDotEnv()

	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvVars()
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	loadDotEnv()

	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values
	cfg.applyEnvVars()

	return cfg, nil
}

// loadDotEnv copies a .env file in the working directory into the
// environment. Variables already set are left alone; a missing file is fine.
func loadDotEnv() {
	_ = godotenv.Load()
}

// Validate checks field constraints and the settings the selected provider
// needs.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
		}
		return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
	}

	switch c.Provider {
	case ProviderSES:
		if c.SES.Region == "" || c.SES.Sender == "" {
			return errors.New("invalid configuration: ses requires region and sender")
		}
	case ProviderGraph:
		if !c.GraphConfigured() {
			return errors.New("invalid configuration: graph requires tenant_id, client_id, client_secret and sender")
		}
	case ProviderSMTP:
		if c.SMTP.Host == "" {
			return errors.New("invalid configuration: smtp requires host")
		}
	case ProviderResend:
		if c.Resend.APIKey == "" {
			return errors.New("invalid configuration: resend requires api_key")
		}
	}
	return nil
}

// GraphConfigured returns true if all four Graph API credentials are set.
func (c *Config) GraphConfigured() bool {
	return c.Graph.TenantID != "" &&
		c.Graph.ClientID != "" &&
		c.Graph.ClientSecret != "" &&
		c.Graph.Sender != ""
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.Provider = ProviderGmail
	c.Gmail.CredentialsFile = "credentials.json"
	c.Gmail.TokenFile = "token.json"
	c.SMTP.Port = 587
	c.Send.MaxAttempts = 5
	c.Send.BaseDelay = time.Second
	c.Send.MaxRetryAfter = time.Minute
	c.Send.Pace = 200 * time.Millisecond
	c.Logging.Level = "info"
	c.Logging.Format = "text"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values; numbers
// and durations that fail to parse are ignored.
func (c *Config) applyEnvVars() {
	if v := os.Getenv("PROVIDER"); v != "" {
		c.Provider = strings.ToLower(v)
	}

	setString(&c.Gmail.CredentialsFile, "GMAIL_CREDENTIALS_FILE")
	setString(&c.Gmail.TokenFile, "GMAIL_TOKEN_FILE")

	setString(&c.SES.Region, "SES_REGION")
	setString(&c.SES.AccessKeyID, "SES_ACCESS_KEY_ID")
	setString(&c.SES.SecretAccessKey, "SES_SECRET_ACCESS_KEY")
	setString(&c.SES.Sender, "SES_SENDER")

	setString(&c.Graph.TenantID, "GRAPH_TENANT_ID")
	setString(&c.Graph.ClientID, "GRAPH_CLIENT_ID")
	setString(&c.Graph.ClientSecret, "GRAPH_CLIENT_SECRET")
	setString(&c.Graph.Sender, "GRAPH_SENDER")

	setString(&c.SMTP.Host, "SMTP_HOST")
	setInt(&c.SMTP.Port, "SMTP_PORT")
	setString(&c.SMTP.Username, "SMTP_USERNAME")
	setString(&c.SMTP.Password, "SMTP_PASSWORD")
	setString(&c.SMTP.Sender, "SMTP_SENDER")

	setString(&c.Resend.APIKey, "RESEND_API_KEY")
	setString(&c.Resend.Sender, "RESEND_SENDER")

	setInt(&c.Send.MaxAttempts, "SEND_MAX_ATTEMPTS")
	setDuration(&c.Send.BaseDelay, "SEND_BASE_DELAY")
	setDuration(&c.Send.MaxRetryAfter, "SEND_MAX_RETRY_AFTER")
	setDuration(&c.Send.Pace, "SEND_PACE")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Logging.Format = strings.ToLower(v)
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
