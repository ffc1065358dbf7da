package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Config holds everything the probe binary needs to run one plugin
// instance. All keys come from the environment (optionally via .env files).
type Config struct {
	Env         string `mapstructure:"BELLS_ENV"`
	MetricsAddr string `mapstructure:"BELLS_METRICS_ADDR"`

	Prefix    string `mapstructure:"BELLS_PREFIX"`
	Account   string `mapstructure:"BELLS_ACCOUNT"`
	Username  string `mapstructure:"BELLS_USERNAME"`
	Password  string `mapstructure:"BELLS_PASSWORD"`
	Connector string `mapstructure:"BELLS_CONNECTOR"`

	CertFile string `mapstructure:"BELLS_TLS_CERT_FILE"`
	KeyFile  string `mapstructure:"BELLS_TLS_KEY_FILE"`
	CAFile   string `mapstructure:"BELLS_TLS_CA_FILE"`

	DebugReplyNotifications bool          `mapstructure:"BELLS_DEBUG_REPLY_NOTIFICATIONS"`
	ConnectTimeout          time.Duration `mapstructure:"BELLS_CONNECT_TIMEOUT"`
	RequestTimeout          time.Duration `mapstructure:"BELLS_REQUEST_TIMEOUT"`
}

func loadDotEnvFiles() {
	candidates := []string{
		".env",
		filepath.Join("..", ".env"),
	}

	seen := make(map[string]struct{})
	for _, path := range candidates {
		abs := path
		if !filepath.IsAbs(path) {
			if resolved, err := filepath.Abs(path); err == nil {
				abs = resolved
			}
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}

		if _, err := os.Stat(path); err == nil {
			_ = gotenv.Load(path) // env vars already set take precedence
		}
	}
}

func Load() (*Config, error) {
	loadDotEnvFiles()

	viper.SetConfigType("env")
	viper.AutomaticEnv()

	viper.SetDefault("BELLS_ENV", "dev")
	viper.SetDefault("BELLS_METRICS_ADDR", ":9464")
	viper.SetDefault("BELLS_PREFIX", "")
	viper.SetDefault("BELLS_ACCOUNT", "")
	viper.SetDefault("BELLS_USERNAME", "")
	viper.SetDefault("BELLS_PASSWORD", "")
	viper.SetDefault("BELLS_CONNECTOR", "")
	viper.SetDefault("BELLS_TLS_CERT_FILE", "")
	viper.SetDefault("BELLS_TLS_KEY_FILE", "")
	viper.SetDefault("BELLS_TLS_CA_FILE", "")
	viper.SetDefault("BELLS_DEBUG_REPLY_NOTIFICATIONS", false)
	viper.SetDefault("BELLS_CONNECT_TIMEOUT", "0s")
	viper.SetDefault("BELLS_REQUEST_TIMEOUT", "30s")

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Account == "" {
		return fmt.Errorf("BELLS_ACCOUNT is required")
	}
	if u, err := url.Parse(c.Account); err != nil || u.Host == "" ||
		(u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("BELLS_ACCOUNT must be a full http(s) account URI")
	}
	if c.Prefix != "" && !strings.HasSuffix(c.Prefix, ".") {
		return fmt.Errorf(`BELLS_PREFIX must end with "."`)
	}
	if (c.CertFile == "") != (c.KeyFile == "") {
		return fmt.Errorf("BELLS_TLS_CERT_FILE and BELLS_TLS_KEY_FILE must be set together")
	}
	return nil
}

// TLSMaterial reads the configured certificate files. Unset paths yield nil
// slices.
func (c *Config) TLSMaterial() (cert, key, ca []byte, err error) {
	if c.CertFile != "" {
		if cert, err = os.ReadFile(c.CertFile); err != nil {
			return nil, nil, nil, fmt.Errorf("read cert file: %w", err)
		}
		if key, err = os.ReadFile(c.KeyFile); err != nil {
			return nil, nil, nil, fmt.Errorf("read key file: %w", err)
		}
	}
	if c.CAFile != "" {
		if ca, err = os.ReadFile(c.CAFile); err != nil {
			return nil, nil, nil, fmt.Errorf("read CA file: %w", err)
		}
	}
	return cert, key, ca, nil
}
