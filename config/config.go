package config

import (
	"log/slog"
	"net"
	"regexp"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/spf13/viper"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// Upper bounds for argon2id cost settings. Both fit comfortably in uint32.
const (
	maxCredentialMemoryKiB  = 4 * 1024 * 1024
	maxCredentialIterations = 64
)

var cookieNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

type ServerConfig struct {
	Address      string `mapstructure:"address"`
	Environment  string `mapstructure:"environment"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type StorageConfig struct {
	Path string `mapstructure:"path"`
}

type SweepConfig struct {
	Interval     string `mapstructure:"interval"`
	ProbeTimeout string `mapstructure:"probe_timeout"`
	Concurrency  int    `mapstructure:"concurrency"`
}

// ReaperConfig controls inactive-account removal. Accounts whose last login
// is older than Retention are deleted with their targets, without warning.
type ReaperConfig struct {
	Interval  string `mapstructure:"interval"`
	Retention string `mapstructure:"retention"`
}

type SessionConfig struct {
	Lifetime   string `mapstructure:"lifetime"`
	CookieName string `mapstructure:"cookie_name"`
}

type CredentialConfig struct {
	MemoryKiB   int `mapstructure:"memory_kib"`
	Iterations  int `mapstructure:"iterations"`
	Parallelism int `mapstructure:"parallelism"`
}

type MetricsConfig struct {
	BufferSize int `mapstructure:"buffer_size"`
}

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Sweep      SweepConfig      `mapstructure:"sweep"`
	Reaper     ReaperConfig     `mapstructure:"reaper"`
	Session    SessionConfig    `mapstructure:"session"`
	Credential CredentialConfig `mapstructure:"credential"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.environment", EnvDev)
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("logging.level", LogLevelInfo)
	v.SetDefault("storage.path", "data/accounts.json")
	v.SetDefault("sweep.interval", "3s")
	v.SetDefault("sweep.probe_timeout", "10s")
	v.SetDefault("sweep.concurrency", 1)
	v.SetDefault("reaper.interval", "1h")
	v.SetDefault("reaper.retention", "48h")
	v.SetDefault("session.lifetime", "24h")
	v.SetDefault("session.cookie_name", "pinger_session")
	v.SetDefault("credential.memory_kib", 64*1024)
	v.SetDefault("credential.iterations", 3)
	v.SetDefault("credential.parallelism", 2)
	v.SetDefault("metrics.buffer_size", 1024)
}

func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Error("failed to read config file", slog.String("error", err.Error()))
			return nil, err
		}
		slog.Warn("config file not found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", slog.String("file", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		slog.Error("failed to unmarshal config", slog.String("error", err.Error()))
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server,
			validation.Required,
			validation.By(func(value interface{}) error {
				sc, ok := value.(ServerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ServerConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Environment,
						validation.Required,
						validation.In(EnvDev, EnvStaging, EnvProd),
					),
					validation.Field(&sc.Address,
						validation.Required,
						validation.By(validateHostPort),
					),
					validation.Field(&sc.ReadTimeout, validation.Required, validation.By(validateDuration)),
					validation.Field(&sc.WriteTimeout, validation.Required, validation.By(validateDuration)),
				)
			}),
		),
		validation.Field(&c.Logging,
			validation.Required,
			validation.By(func(value interface{}) error {
				lc, ok := value.(LoggingConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a LoggingConfig")
				}
				return validation.ValidateStruct(&lc,
					validation.Field(&lc.Level,
						validation.Required,
						validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
					),
				)
			}),
		),
		validation.Field(&c.Storage,
			validation.Required,
			validation.By(func(value interface{}) error {
				sc, ok := value.(StorageConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a StorageConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Path, validation.Required),
				)
			}),
		),
		validation.Field(&c.Sweep,
			validation.Required,
			validation.By(func(value interface{}) error {
				sc, ok := value.(SweepConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a SweepConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Interval, validation.Required, validation.By(validateDuration)),
					validation.Field(&sc.ProbeTimeout, validation.Required, validation.By(validateDuration)),
					validation.Field(&sc.Concurrency, validation.Required, validation.Min(1), validation.Max(64)),
				)
			}),
		),
		validation.Field(&c.Reaper,
			validation.Required,
			validation.By(func(value interface{}) error {
				rc, ok := value.(ReaperConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ReaperConfig")
				}
				return validation.ValidateStruct(&rc,
					validation.Field(&rc.Interval, validation.Required, validation.By(validateDuration)),
					validation.Field(&rc.Retention, validation.Required, validation.By(validateDuration)),
				)
			}),
		),
		validation.Field(&c.Session,
			validation.Required,
			validation.By(func(value interface{}) error {
				sc, ok := value.(SessionConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a SessionConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.Lifetime, validation.Required, validation.By(validateDuration)),
					validation.Field(&sc.CookieName, validation.Required, validation.Match(cookieNamePattern)),
				)
			}),
		),
		validation.Field(&c.Credential,
			validation.Required,
			validation.By(func(value interface{}) error {
				cc, ok := value.(CredentialConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a CredentialConfig")
				}
				return validation.ValidateStruct(&cc,
					validation.Field(&cc.MemoryKiB, validation.Required, validation.Min(8), validation.Max(maxCredentialMemoryKiB)),
					validation.Field(&cc.Iterations, validation.Required, validation.Min(1), validation.Max(maxCredentialIterations)),
					validation.Field(&cc.Parallelism, validation.Required, validation.Min(1), validation.Max(255)),
				)
			}),
		),
		validation.Field(&c.Metrics,
			validation.Required,
			validation.By(func(value interface{}) error {
				mc, ok := value.(MetricsConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a MetricsConfig")
				}
				return validation.ValidateStruct(&mc,
					validation.Field(&mc.BufferSize, validation.Required, validation.Min(1)),
				)
			}),
		),
	)
}

// Duration accessors. They assume Validate has passed.

func (c *Config) SweepInterval() time.Duration   { return mustDuration(c.Sweep.Interval) }
func (c *Config) ProbeTimeout() time.Duration    { return mustDuration(c.Sweep.ProbeTimeout) }
func (c *Config) ReapInterval() time.Duration    { return mustDuration(c.Reaper.Interval) }
func (c *Config) Retention() time.Duration       { return mustDuration(c.Reaper.Retention) }
func (c *Config) SessionLifetime() time.Duration { return mustDuration(c.Session.Lifetime) }
func (c *Config) ReadTimeout() time.Duration     { return mustDuration(c.Server.ReadTimeout) }
func (c *Config) WriteTimeout() time.Duration    { return mustDuration(c.Server.WriteTimeout) }

func mustDuration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

func validateHostPort(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if port == "" {
		return validation.NewError("validation_invalid_port", "port cannot be empty")
	}

	if host != "" {
		if err := is.Host.Validate(host); err != nil {
			return validation.NewError("validation_invalid_host", "invalid host")
		}
	}

	return nil
}

func validateDuration(value interface{}) error {
	durationStr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	d, err := time.ParseDuration(durationStr)
	if err != nil {
		return validation.NewError("validation_invalid_duration", "must be a valid duration (e.g., 2s, 5m, 1h)")
	}
	if d <= 0 {
		return validation.NewError("validation_non_positive_duration", "must be greater than zero")
	}

	return nil
}
