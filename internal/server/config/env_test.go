package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnv_Variables(t *testing.T) {
	t.Setenv("PASSKEEPER_GRPC_ADDR", ":6000")
	t.Setenv("PASSKEEPER_OTP_EXPIRY", "3m")
	t.Setenv("PASSKEEPER_CIPHER_RANDOM_IV", "false")
	t.Setenv("PASSKEEPER_OLD_PASSWORD_DAYS", "45")

	cfg := &Config{}
	cfg.LoadDefaults()
	require.NoError(t, parseEnv(cfg, ""))

	assert.Equal(t, ":6000", cfg.EndpointAddrGRPC)
	assert.Equal(t, 3*time.Minute, cfg.OTPExpiry)
	assert.False(t, cfg.CipherRandomIV)
	assert.Equal(t, 45, cfg.OldPasswordDays)
	assert.Equal(t, "secretKey", cfg.SecretKey, "unset variables keep previous values")
}

func TestParseEnv_FileDoesNotOverrideProcessEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.env")
	require.NoError(t, os.WriteFile(path, []byte("PASSKEEPER_LOG_LEVEL=debug\nPASSKEEPER_MAIL_WORKERS=7\n"), 0o600))
	t.Setenv("PASSKEEPER_LOG_LEVEL", "warn")
	t.Cleanup(func() { os.Unsetenv("PASSKEEPER_MAIL_WORKERS") })

	cfg := &Config{}
	require.NoError(t, parseEnv(cfg, path))

	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 7, cfg.MailWorkers)
}

func TestParseEnv_BadValue(t *testing.T) {
	t.Setenv("PASSKEEPER_MAIL_WORKERS", "many")
	assert.Error(t, parseEnv(&Config{}, ""))
}
