package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/revpass/passkeeper/internal/timex"
)

// JsonConfig mirrors Config for JSON files. Durations use timex.Duration so
// both "10m" and integer nanoseconds are accepted. Keys absent from the file
// keep the value they had before parsing.
type JsonConfig struct {
	EndpointAddrGRPC             string         `json:"endpoint_addr_grpc"`
	DatabaseDSN                  string         `json:"database_dsn"`
	LogLevel                     string         `json:"log_level"`
	SecretKey                    string         `json:"secret_key"`
	AccessTokenValidityDuration  timex.Duration `json:"access_token_validity_duration"`
	RefreshTokenValidityDuration timex.Duration `json:"refresh_token_validity_duration"`
	EncryptionSecret             string         `json:"encryption_secret"`
	CipherRandomIV               bool           `json:"cipher_random_iv"`
	BcryptCost                   int            `json:"bcrypt_cost"`
	OTPExpiry                    timex.Duration `json:"otp_expiry"`
	OldPasswordDays              int            `json:"old_password_days"`
	GeneratorMinLength           int            `json:"generator_min_length"`
	GeneratorMaxLength           int            `json:"generator_max_length"`
	GeneratorMaxCount            int            `json:"generator_max_count"`
	RedisURL                     string         `json:"redis_url"`
	PostmarkServerToken          string         `json:"postmark_server_token"`
	PostmarkAccountToken         string         `json:"postmark_account_token"`
	MailSender                   string         `json:"mail_sender"`
	MailSupport                  string         `json:"mail_support"`
	MailDevDir                   string         `json:"mail_dev_dir"`
	MailWorkers                  int            `json:"mail_workers"`
	MailQueueSize                int            `json:"mail_queue_size"`
	HousekeepingInterval         timex.Duration `json:"housekeeping_interval"`
}

func toJson(c *Config) *JsonConfig {
	return &JsonConfig{
		EndpointAddrGRPC:             c.EndpointAddrGRPC,
		DatabaseDSN:                  c.DatabaseDSN,
		LogLevel:                     c.LogLevel,
		SecretKey:                    c.SecretKey,
		AccessTokenValidityDuration:  timex.Duration{Duration: c.AccessTokenValidityDuration},
		RefreshTokenValidityDuration: timex.Duration{Duration: c.RefreshTokenValidityDuration},
		EncryptionSecret:             c.EncryptionSecret,
		CipherRandomIV:               c.CipherRandomIV,
		BcryptCost:                   c.BcryptCost,
		OTPExpiry:                    timex.Duration{Duration: c.OTPExpiry},
		OldPasswordDays:              c.OldPasswordDays,
		GeneratorMinLength:           c.GeneratorMinLength,
		GeneratorMaxLength:           c.GeneratorMaxLength,
		GeneratorMaxCount:            c.GeneratorMaxCount,
		RedisURL:                     c.RedisURL,
		PostmarkServerToken:          c.PostmarkServerToken,
		PostmarkAccountToken:         c.PostmarkAccountToken,
		MailSender:                   c.MailSender,
		MailSupport:                  c.MailSupport,
		MailDevDir:                   c.MailDevDir,
		MailWorkers:                  c.MailWorkers,
		MailQueueSize:                c.MailQueueSize,
		HousekeepingInterval:         timex.Duration{Duration: c.HousekeepingInterval},
	}
}

func (j *JsonConfig) apply(c *Config) {
	c.EndpointAddrGRPC = j.EndpointAddrGRPC
	c.DatabaseDSN = j.DatabaseDSN
	c.LogLevel = j.LogLevel
	c.SecretKey = j.SecretKey
	c.AccessTokenValidityDuration = j.AccessTokenValidityDuration.Duration
	c.RefreshTokenValidityDuration = j.RefreshTokenValidityDuration.Duration
	c.EncryptionSecret = j.EncryptionSecret
	c.CipherRandomIV = j.CipherRandomIV
	c.BcryptCost = j.BcryptCost
	c.OTPExpiry = j.OTPExpiry.Duration
	c.OldPasswordDays = j.OldPasswordDays
	c.GeneratorMinLength = j.GeneratorMinLength
	c.GeneratorMaxLength = j.GeneratorMaxLength
	c.GeneratorMaxCount = j.GeneratorMaxCount
	c.RedisURL = j.RedisURL
	c.PostmarkServerToken = j.PostmarkServerToken
	c.PostmarkAccountToken = j.PostmarkAccountToken
	c.MailSender = j.MailSender
	c.MailSupport = j.MailSupport
	c.MailDevDir = j.MailDevDir
	c.MailWorkers = j.MailWorkers
	c.MailQueueSize = j.MailQueueSize
	c.HousekeepingInterval = j.HousekeepingInterval.Duration
}

// parseJson overlays the JSON file at path onto config. An empty path is a no-op.
func parseJson(config *Config, path string) error {
	if path == "" {
		return nil
	}

	file, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	c := toJson(config)
	if err := json.Unmarshal(file, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	c.apply(config)
	return nil
}
