package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("BELLS_ACCOUNT", "http://red.example/accounts/mike")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, ":9464", cfg.MetricsAddr)
	assert.Equal(t, "http://red.example/accounts/mike", cfg.Account)
	assert.False(t, cfg.DebugReplyNotifications)
	assert.Equal(t, time.Duration(0), cfg.ConnectTimeout)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("BELLS_ACCOUNT", "https://red.example/accounts/mike")
	t.Setenv("BELLS_PREFIX", "example.red.")
	t.Setenv("BELLS_USERNAME", "mike")
	t.Setenv("BELLS_PASSWORD", "secret")
	t.Setenv("BELLS_DEBUG_REPLY_NOTIFICATIONS", "true")
	t.Setenv("BELLS_CONNECT_TIMEOUT", "10s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "example.red.", cfg.Prefix)
	assert.Equal(t, "mike", cfg.Username)
	assert.Equal(t, "secret", cfg.Password)
	assert.True(t, cfg.DebugReplyNotifications)
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout)
}

func TestValidate(t *testing.T) {
	valid := Config{Account: "http://red.example/accounts/mike"}
	require.NoError(t, valid.Validate())

	for _, tc := range []struct {
		name string
		cfg  Config
		want string
	}{
		{"missing account", Config{}, "BELLS_ACCOUNT is required"},
		{"relative account", Config{Account: "accounts/mike"}, "full http(s) account URI"},
		{
			"prefix without trailing dot",
			Config{Account: "http://red.example/accounts/mike", Prefix: "example.red"},
			`BELLS_PREFIX must end with "."`,
		},
		{
			"cert without key",
			Config{Account: "http://red.example/accounts/mike", CertFile: "cert.pem"},
			"must be set together",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestTLSMaterial(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "cert.pem")
	keyFile := filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(certFile, []byte("CERT"), 0o600))
	require.NoError(t, os.WriteFile(keyFile, []byte("KEY"), 0o600))

	cfg := Config{
		Account:  "http://red.example/accounts/mike",
		CertFile: certFile,
		KeyFile:  keyFile,
	}
	cert, key, ca, err := cfg.TLSMaterial()
	require.NoError(t, err)
	assert.Equal(t, []byte("CERT"), cert)
	assert.Equal(t, []byte("KEY"), key)
	assert.Nil(t, ca)
}

func TestTLSMaterialUnset(t *testing.T) {
	cfg := Config{Account: "http://red.example/accounts/mike"}
	cert, key, ca, err := cfg.TLSMaterial()
	require.NoError(t, err)
	assert.Nil(t, cert)
	assert.Nil(t, key)
	assert.Nil(t, ca)
}
