package config

import (
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	EnvPrefix         = "ECHOPOLL"
	DefaultConfigPath = "~/.echopoll/config.yaml"

	KeyAddr            = "addr"
	KeyMaxEvents       = "max_events"
	KeyReadBufferSize  = "read_buffer_size"
	KeyMaxOutputBuffer = "max_output_buffer"
	KeyIdleTimeout     = "idle_timeout"
	KeyMetricsAddr     = "metrics_addr"
	KeyLogLevel        = "log_level"
	KeyLogTimeZone     = "log_time_zone"
)

const (
	KB = 1 << (10 * (iota + 1))
	MB
)

// Config is the effective server configuration.
type Config struct {
	Addr            string        `mapstructure:"addr"`
	MaxEvents       int           `mapstructure:"max_events"`
	ReadBufferSize  int           `mapstructure:"read_buffer_size"`
	MaxOutputBuffer int           `mapstructure:"max_output_buffer"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	MetricsAddr     string        `mapstructure:"metrics_addr"`
	LogLevel        string        `mapstructure:"log_level"`
	LogTimeZone     string        `mapstructure:"log_time_zone"`
}

// New returns a viper instance with defaults and ECHOPOLL_* env bindings.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault(KeyAddr, "127.0.0.1:9000")
	v.SetDefault(KeyMaxEvents, 1024)
	v.SetDefault(KeyReadBufferSize, 16*KB)
	v.SetDefault(KeyMaxOutputBuffer, 4*MB)
	v.SetDefault(KeyIdleTimeout, time.Duration(0))
	v.SetDefault(KeyMetricsAddr, "")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogTimeZone, "")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// ReadFile merges the YAML file at path into v. A missing file is only an
// error when it was asked for explicitly.
func ReadFile(v *viper.Viper, path string, explicit bool) error {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return errors.Wrapf(err, "expand config path %q", path)
	}
	if _, err := os.Stat(expanded); err != nil {
		if os.IsNotExist(err) && !explicit {
			return nil
		}
		return errors.Wrapf(err, "stat config %q", expanded)
	}

	v.SetConfigFile(expanded)
	if ext := strings.TrimPrefix(filepath.Ext(expanded), "."); ext == "" {
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		return errors.Wrapf(err, "read config %q", expanded)
	}
	return nil
}

// Load decodes and validates v.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Addr); err != nil {
		return errors.Wrapf(err, "invalid addr %q", c.Addr)
	}
	if c.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(c.MetricsAddr); err != nil {
			return errors.Wrapf(err, "invalid metrics_addr %q", c.MetricsAddr)
		}
	}
	if c.MaxEvents <= 0 {
		return errors.Errorf("max_events must be positive, got %d", c.MaxEvents)
	}
	if c.ReadBufferSize <= 0 {
		return errors.Errorf("read_buffer_size must be positive, got %d", c.ReadBufferSize)
	}
	if c.MaxOutputBuffer < 0 {
		return errors.Errorf("max_output_buffer must not be negative, got %d", c.MaxOutputBuffer)
	}
	if c.IdleTimeout < 0 {
		return errors.Errorf("idle_timeout must not be negative, got %s", c.IdleTimeout)
	}
	return nil
}
