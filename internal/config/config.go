package config

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Mailbox   MailboxConfig   `mapstructure:"mailbox"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Vault     VaultConfig     `mapstructure:"vault"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

// MailboxConfig holds access to the shared integrations mailbox that
// receives vendor replies.
type MailboxConfig struct {
	UseIMAP           bool   `mapstructure:"use_imap"`
	IMAPHost          string `mapstructure:"imap_host"`
	IMAPPort          int    `mapstructure:"imap_port"`
	IMAPUser          string `mapstructure:"imap_user"`
	IMAPPassword      string `mapstructure:"imap_password"`
	IMAPMailbox       string `mapstructure:"imap_mailbox"`
	GmailClientID     string `mapstructure:"gmail_client_id"`
	GmailClientSecret string `mapstructure:"gmail_client_secret"`
	GmailRefreshToken string `mapstructure:"gmail_refresh_token"`
	GmailUserEmail    string `mapstructure:"gmail_user_email"`
}

// SchedulerConfig holds poller configuration
type SchedulerConfig struct {
	IntervalMinutes int           `mapstructure:"interval_minutes"`
	FetchTimeout    time.Duration `mapstructure:"fetch_timeout"`
	MaxParseRetries int           `mapstructure:"max_parse_retries"`
}

// VaultConfig holds the base64-encoded master keys for the two
// authenticated-encryption services.
type VaultConfig struct {
	CredentialKey string `mapstructure:"credential_key"`
	GeneralKey    string `mapstructure:"general_key"`
}

// LoadConfig loads configuration from environment variables and config file
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	viper.AutomaticEnv()
	bindEnvVars()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 3306)

	viper.SetDefault("mailbox.use_imap", true)
	viper.SetDefault("mailbox.imap_port", 993)
	viper.SetDefault("mailbox.imap_mailbox", "INBOX")

	viper.SetDefault("scheduler.interval_minutes", 5)
	viper.SetDefault("scheduler.fetch_timeout", "60s")
	viper.SetDefault("scheduler.max_parse_retries", 5)
}

// bindEnvVars binds environment variables to configuration keys
func bindEnvVars() {
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.read_timeout", "SERVER_READ_TIMEOUT")
	viper.BindEnv("server.write_timeout", "SERVER_WRITE_TIMEOUT")

	viper.BindEnv("database.host", "DB_HOST")
	viper.BindEnv("database.port", "DB_PORT")
	viper.BindEnv("database.user", "DB_USER")
	viper.BindEnv("database.password", "DB_PASSWORD")
	viper.BindEnv("database.dbname", "DB_NAME")

	viper.BindEnv("mailbox.use_imap", "MAILBOX_USE_IMAP")
	viper.BindEnv("mailbox.imap_host", "MAILBOX_IMAP_HOST")
	viper.BindEnv("mailbox.imap_port", "MAILBOX_IMAP_PORT")
	viper.BindEnv("mailbox.imap_user", "MAILBOX_IMAP_USER")
	viper.BindEnv("mailbox.imap_password", "MAILBOX_IMAP_PASSWORD")
	viper.BindEnv("mailbox.imap_mailbox", "MAILBOX_IMAP_MAILBOX")
	viper.BindEnv("mailbox.gmail_client_id", "MAILBOX_GMAIL_CLIENT_ID")
	viper.BindEnv("mailbox.gmail_client_secret", "MAILBOX_GMAIL_CLIENT_SECRET")
	viper.BindEnv("mailbox.gmail_refresh_token", "MAILBOX_GMAIL_REFRESH_TOKEN")
	viper.BindEnv("mailbox.gmail_user_email", "MAILBOX_GMAIL_USER_EMAIL")

	viper.BindEnv("scheduler.interval_minutes", "SCHEDULER_INTERVAL_MINUTES")
	viper.BindEnv("scheduler.fetch_timeout", "SCHEDULER_FETCH_TIMEOUT")
	viper.BindEnv("scheduler.max_parse_retries", "SCHEDULER_MAX_PARSE_RETRIES")

	viper.BindEnv("vault.credential_key", "VAULT_CREDENTIAL_KEY")
	viper.BindEnv("vault.general_key", "VAULT_GENERAL_KEY")
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User, c.Password, c.Host, c.Port, c.DBName)
}

// CredentialMasterKey decodes the credential vault master key.
func (c *VaultConfig) CredentialMasterKey() ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(c.CredentialKey)
	if err != nil {
		return nil, fmt.Errorf("vault.credential_key is not valid base64: %w", err)
	}
	return key, nil
}

// GeneralMasterKey decodes the general vault master key.
func (c *VaultConfig) GeneralMasterKey() ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(c.GeneralKey)
	if err != nil {
		return nil, fmt.Errorf("vault.general_key is not valid base64: %w", err)
	}
	return key, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
		return fmt.Errorf("database host, user, and dbname are required")
	}

	if c.Mailbox.UseIMAP {
		if c.Mailbox.IMAPHost == "" || c.Mailbox.IMAPUser == "" || c.Mailbox.IMAPPassword == "" {
			return fmt.Errorf("IMAP host and credentials are required when using IMAP")
		}
	} else {
		if c.Mailbox.GmailClientID == "" || c.Mailbox.GmailClientSecret == "" || c.Mailbox.GmailRefreshToken == "" {
			return fmt.Errorf("Gmail OAuth2 credentials are required when not using IMAP")
		}
	}

	if c.Scheduler.IntervalMinutes <= 0 {
		return fmt.Errorf("scheduler interval must be greater than 0")
	}
	if c.Scheduler.MaxParseRetries <= 0 {
		return fmt.Errorf("scheduler max parse retries must be greater than 0")
	}

	if c.Vault.CredentialKey == "" || c.Vault.GeneralKey == "" {
		return fmt.Errorf("vault master keys are required")
	}

	return nil
}
