package config

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	key := base64.StdEncoding.EncodeToString(make([]byte, 32))
	return &Config{
		Server: ServerConfig{
			Port:         "8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Host:   "localhost",
			Port:   3306,
			User:   "test",
			DBName: "test",
		},
		Mailbox: MailboxConfig{
			UseIMAP:      true,
			IMAPHost:     "imap.example.com",
			IMAPPort:     993,
			IMAPUser:     "integrations@example.com",
			IMAPPassword: "secret",
		},
		Scheduler: SchedulerConfig{
			IntervalMinutes: 5,
			FetchTimeout:    time.Minute,
			MaxParseRetries: 5,
		},
		Vault: VaultConfig{
			CredentialKey: key,
			GeneralKey:    key,
		},
	}
}

func TestConfigValidation(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	noPort := validConfig()
	noPort.Server.Port = ""
	assert.Error(t, noPort.Validate())

	noIMAP := validConfig()
	noIMAP.Mailbox.IMAPPassword = ""
	assert.Error(t, noIMAP.Validate())

	noGmail := validConfig()
	noGmail.Mailbox.UseIMAP = false
	assert.Error(t, noGmail.Validate())

	badInterval := validConfig()
	badInterval.Scheduler.IntervalMinutes = 0
	assert.Error(t, badInterval.Validate())

	noKeys := validConfig()
	noKeys.Vault.CredentialKey = ""
	assert.Error(t, noKeys.Validate())
}

func TestDatabaseDSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "localhost",
		Port:     3306,
		User:     "testuser",
		Password: "testpass",
		DBName:   "testdb",
	}

	dsn := cfg.GetDSN()
	expected := "testuser:testpass@tcp(localhost:3306)/testdb?charset=utf8mb4&parseTime=True&loc=Local"
	assert.Equal(t, expected, dsn)
}

func TestVaultKeyDecoding(t *testing.T) {
	cfg := VaultConfig{
		CredentialKey: base64.StdEncoding.EncodeToString(make([]byte, 32)),
		GeneralKey:    "%%% not base64 %%%",
	}

	key, err := cfg.CredentialMasterKey()
	require.NoError(t, err)
	assert.Len(t, key, 32)

	_, err = cfg.GeneralMasterKey()
	assert.Error(t, err)
}
