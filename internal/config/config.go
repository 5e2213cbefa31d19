package config

import (
	"os"
	"time"

	"codeberg.org/mutker/yombcpu/internal/errors"
	"codeberg.org/mutker/yombcpu/internal/logger"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	EnvPrefix       = "YOMBCPU"
	ConfigEnv       = "YOMBCPU_CONFIG"
	DefaultLogLevel = "info"

	configName = "yombcpu"
	configType = "toml"
	configDir  = "/etc"
)

type Config struct {
	Port     string `mapstructure:"port"`
	Baud     int    `mapstructure:"baud"`
	LogLevel string `mapstructure:"log_level"`

	Monitor         bool          `mapstructure:"monitor"`
	MonitorInterval time.Duration `mapstructure:"monitor_interval"`
	TransitionOnly  bool          `mapstructure:"transition_only"`
	PowerOnCommand  string        `mapstructure:"power_on_command"`
	PowerOffCommand string        `mapstructure:"power_off_command"`

	ReconnectAttempts int           `mapstructure:"reconnect_attempts"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay"`

	Metrics             bool   `mapstructure:"metrics"`
	MetricsDB           string `mapstructure:"metrics_db"`
	MetricsBatchSize    int    `mapstructure:"metrics_batch_size"`
	MetricsBatchTimeout int    `mapstructure:"metrics_batch_timeout"`

	PIDDir string `mapstructure:"pid_dir"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("port", "/dev/ttyUSB0")
	v.SetDefault("baud", 115200)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("monitor", true)
	v.SetDefault("monitor_interval", 500*time.Millisecond)
	v.SetDefault("transition_only", false)
	v.SetDefault("power_on_command", "xset dpms force on")
	v.SetDefault("power_off_command", "xset dpms force off")
	v.SetDefault("reconnect_attempts", 0)
	v.SetDefault("reconnect_delay", time.Second)
	v.SetDefault("metrics", false)
	v.SetDefault("metrics_db", "/var/lib/yombcpu/metrics.db")
	v.SetDefault("metrics_batch_size", 20)
	v.SetDefault("metrics_batch_timeout", 10)
	v.SetDefault("pid_dir", os.TempDir())
}

func flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet(configName, pflag.ContinueOnError)
	fs.StringP("port", "p", "", "Serial port device")
	fs.IntP("baud", "b", 0, "Serial baud rate")
	fs.String("log-level", "", "Log level: debug, info, warning, error")
	fs.Bool("monitor", true, "Drive display power from the device button")
	fs.Duration("monitor-interval", 0, "Display power control interval")
	fs.Bool("transition-only", false, "Issue display power commands only on state changes")
	fs.Int("reconnect-attempts", 0, "Reconnect attempts after the link fails (0 exits immediately)")
	fs.Duration("reconnect-delay", 0, "Initial delay between reconnect attempts")
	fs.Bool("metrics", false, "Record cycle metrics to sqlite")
	fs.String("metrics-db", "", "Path to the metrics database")
	fs.String("config", "", "Path to the configuration file")

	return fs
}

// Load reads the configuration from defaults, the config file, YOMBCPU_*
// environment variables and finally the command line arguments.
func Load(args []string) (*Config, error) {
	errFactory := errors.New()
	v := viper.New()
	defaults(v)

	fs := flags()
	if err := fs.Parse(args); err != nil {
		return nil, errFactory.Wrap(errors.ErrParseFlags, err)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	v.SetConfigType(configType)
	path, _ := fs.GetString("config")
	if path == "" {
		path = os.Getenv(ConfigEnv)
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(configDir)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	// Only explicitly set flags override file and environment values
	var bindErr error
	fs.Visit(func(f *pflag.Flag) {
		if f.Name == "config" {
			return
		}
		if err := v.BindPFlag(flagKey(f.Name), f); err != nil {
			bindErr = err
		}
	})
	if bindErr != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, bindErr)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrReadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks values that viper cannot type-check.
func (c *Config) Validate() error {
	errFactory := errors.New()

	if _, ok := logger.ParseLevel(c.LogLevel); !ok {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}
	if c.Port == "" {
		return errFactory.WithData(errors.ErrInvalidConfig, "port must not be empty")
	}
	if c.Baud <= 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, "baud must be positive")
	}
	if c.Monitor && c.MonitorInterval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, c.MonitorInterval)
	}
	if c.ReconnectAttempts < 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, "reconnect_attempts must not be negative")
	}
	if c.ReconnectAttempts > 0 && c.ReconnectDelay < 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, c.ReconnectDelay)
	}

	return nil
}

// Level returns the parsed log level.
func (c *Config) Level() logger.LogLevel {
	level, _ := logger.ParseLevel(c.LogLevel)
	return level
}

func flagKey(name string) string {
	key := []byte(name)
	for i, ch := range key {
		if ch == '-' {
			key[i] = '_'
		}
	}

	return string(key)
}
