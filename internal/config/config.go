package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloudy/internal/remotepath"
	"cloudy/internal/rsync"

	"github.com/spf13/viper"
)

type DispatchMode string

const (
	// ModeQueue keeps at most one transfer in flight per path and coalesces
	// events that arrive meanwhile into a single follow-up transfer.
	ModeQueue DispatchMode = "queue"
	// ModeConcurrent starts every transfer immediately with no ordering.
	ModeConcurrent DispatchMode = "concurrent"
)

type Config struct {
	Server             string        `mapstructure:"server"`
	Dest               string        `mapstructure:"dest"`
	IgnoreFile         string        `mapstructure:"ignore_file"`
	PropagateDeletions bool          `mapstructure:"propagate_deletions"`
	DispatchMode       DispatchMode  `mapstructure:"dispatch_mode"`
	Debounce           time.Duration `mapstructure:"debounce"`
	SkipUnchanged      bool          `mapstructure:"skip_unchanged"`
	ChecksumCacheSize  int           `mapstructure:"checksum_cache_size"`
	InitialScan        bool          `mapstructure:"initial_scan"`
	BufferSize         int           `mapstructure:"buffer_size"`
	RsyncPath          string        `mapstructure:"rsync_path"`
	Shell              string        `mapstructure:"shell"`
	Flags              string        `mapstructure:"flags"`
	StatusPort         int           `mapstructure:"status_port"`
	DBPath             string        `mapstructure:"db_path"`
	LogFile            string        `mapstructure:"log_file"`
	LogMaxSizeMB       int           `mapstructure:"log_max_size_mb"`
	ShutdownGrace      time.Duration `mapstructure:"shutdown_grace"`
}

var Default = Config{
	Server:            "",
	Dest:              "/var/www/hs-app/",
	IgnoreFile:        ".gitignore",
	DispatchMode:      ModeQueue,
	ChecksumCacheSize: 4096,
	BufferSize:        100,
	RsyncPath:         rsync.DefaultBinary,
	Shell:             rsync.DefaultShell,
	Flags:             rsync.DefaultFlags,
	StatusPort:        9011,
	DBPath:            "cloudy.db",
	LogMaxSizeMB:      10,
	ShutdownGrace:     5 * time.Second,
}

// Dir is where the user-level config file and the history database live.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home dir: %w", err)
	}

	return filepath.Join(home, ".cloudy"), nil
}

// Load reads ~/.cloudy/config.yaml, then .cloudy.yaml in the working
// directory, then CLOUDY_* environment variables, each overriding the last.
func Load() (*Config, error) {
	configDir, err := Dir()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config dir: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	setDefaults(v)

	v.SetEnvPrefix("CLOUDY")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := errors.AsType[viper.ConfigFileNotFoundError](err); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := mergeProjectConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if !filepath.IsAbs(cfg.DBPath) && cfg.DBPath != "" {
		cfg.DBPath = filepath.Join(configDir, cfg.DBPath)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server", Default.Server)
	v.SetDefault("dest", Default.Dest)
	v.SetDefault("ignore_file", Default.IgnoreFile)
	v.SetDefault("propagate_deletions", Default.PropagateDeletions)
	v.SetDefault("dispatch_mode", string(Default.DispatchMode))
	v.SetDefault("debounce", Default.Debounce)
	v.SetDefault("skip_unchanged", Default.SkipUnchanged)
	v.SetDefault("checksum_cache_size", Default.ChecksumCacheSize)
	v.SetDefault("initial_scan", Default.InitialScan)
	v.SetDefault("buffer_size", Default.BufferSize)
	v.SetDefault("rsync_path", Default.RsyncPath)
	v.SetDefault("shell", Default.Shell)
	v.SetDefault("flags", Default.Flags)
	v.SetDefault("status_port", Default.StatusPort)
	v.SetDefault("db_path", Default.DBPath)
	v.SetDefault("log_file", Default.LogFile)
	v.SetDefault("log_max_size_mb", Default.LogMaxSizeMB)
	v.SetDefault("shutdown_grace", Default.ShutdownGrace)
}

func mergeProjectConfig(v *viper.Viper) error {
	path := ".cloudy.yaml"
	if _, err := os.Stat(path); err != nil {
		return nil
	}

	v.SetConfigFile(path)
	if err := v.MergeInConfig(); err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	return nil
}

func (c *Config) Target() remotepath.Target {
	return remotepath.Target{Server: c.Server, Dest: c.Dest}
}

// Validate rejects configurations that would produce malformed rsync
// destinations or an unusable dispatcher.
func (c *Config) Validate() error {
	if err := c.Target().Validate(); err != nil {
		return fmt.Errorf("invalid config: %w (set server/dest in ~/.cloudy/config.yaml, .cloudy.yaml or CLOUDY_SERVER/CLOUDY_DEST)", err)
	}

	switch DispatchMode(strings.ToLower(string(c.DispatchMode))) {
	case ModeQueue, ModeConcurrent:
		c.DispatchMode = DispatchMode(strings.ToLower(string(c.DispatchMode)))
	default:
		return fmt.Errorf("invalid config: unknown dispatch_mode %q", c.DispatchMode)
	}

	if c.BufferSize <= 0 {
		return fmt.Errorf("invalid config: buffer_size must be positive, got %d", c.BufferSize)
	}
	if c.SkipUnchanged && c.ChecksumCacheSize <= 0 {
		return fmt.Errorf("invalid config: checksum_cache_size must be positive, got %d", c.ChecksumCacheSize)
	}

	return nil
}
