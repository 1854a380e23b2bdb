package config

import (
	"log/slog"
	"net"
	"strconv"
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

const (
	RegistryStatic = "static"
	RegistryRedis  = "redis"
	RegistryEtcd   = "etcd"
)

type ServerConfig struct {
	Address      string `mapstructure:"address"`
	Environment  string `mapstructure:"environment"`
	MaxBodyBytes int64  `mapstructure:"max_body_bytes"`
}

type RoutingConfig struct {
	ServiceName    string `mapstructure:"service_name"`
	Path           string `mapstructure:"path"`
	Strategy       string `mapstructure:"strategy"`
	AttemptTimeout string `mapstructure:"attempt_timeout"`
}

type RetryConfig struct {
	MaxAttempts int    `mapstructure:"max_attempts"`
	BaseDelay   string `mapstructure:"base_delay"`
	MaxDelay    string `mapstructure:"max_delay"`
}

type InstanceConfig struct {
	ID     string `mapstructure:"id"`
	Host   string `mapstructure:"host"`
	Port   int    `mapstructure:"port"`
	Secure bool   `mapstructure:"secure"`
}

type RedisConfig struct {
	Address string `mapstructure:"address"`
	Prefix  string `mapstructure:"prefix"`
}

type EtcdConfig struct {
	Endpoints   []string `mapstructure:"endpoints"`
	DialTimeout string   `mapstructure:"dial_timeout"`
}

type RegistryConfig struct {
	Type      string           `mapstructure:"type"`
	Instances []InstanceConfig `mapstructure:"instances"`
	Redis     RedisConfig      `mapstructure:"redis"`
	Etcd      EtcdConfig       `mapstructure:"etcd"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

type MetricsConfig struct {
	BufferSize int `mapstructure:"buffer_size"`
}

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Routing  RoutingConfig  `mapstructure:"routing"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Registry RegistryConfig `mapstructure:"registry"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// DefaultInstances is the statically configured candidate set: three local
// instances of the routing service differing only by port.
func DefaultInstances() []InstanceConfig {
	return []InstanceConfig{
		{ID: "routing1", Host: "localhost", Port: 8081},
		{ID: "routing2", Host: "localhost", Port: 8082},
		{ID: "routing3", Host: "localhost", Port: 8083},
	}
}

func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("server.environment", EnvDev)
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("routing.service_name", "routing")
	v.SetDefault("routing.path", "/response")
	v.SetDefault("routing.strategy", "round-robin")
	v.SetDefault("routing.attempt_timeout", "5s")
	v.SetDefault("retry.max_attempts", 4)
	v.SetDefault("retry.base_delay", "1s")
	v.SetDefault("retry.max_delay", "0s")
	v.SetDefault("registry.type", RegistryStatic)
	v.SetDefault("registry.instances", defaultInstanceMaps())
	v.SetDefault("registry.redis.prefix", "instance")
	v.SetDefault("registry.etcd.dial_timeout", "5s")
	v.SetDefault("logging.level", LogLevelInfo)
	v.SetDefault("metrics.buffer_size", 1000)

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

// Port returns the port part of the listen address.
func (s ServerConfig) Port() string {
	_, port, err := net.SplitHostPort(s.Address)
	if err != nil {
		return s.Address
	}
	return port
}

// Durations are validated before use, so parse errors are not possible here.

func (r RoutingConfig) AttemptTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(r.AttemptTimeout)
	return d
}

func (r RetryConfig) BaseDelayDuration() time.Duration {
	d, _ := time.ParseDuration(r.BaseDelay)
	return d
}

func (r RetryConfig) MaxDelayDuration() time.Duration {
	if r.MaxDelay == "" {
		return 0
	}
	d, _ := time.ParseDuration(r.MaxDelay)
	return d
}

func (e EtcdConfig) DialTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(e.DialTimeout)
	return d
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
					validation.Field(&sc.MaxBodyBytes,
						validation.Required,
						validation.Min(int64(1)),
					),
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
		validation.Field(&c.Routing,
			validation.Required,
			validation.By(func(value interface{}) error {
				rc, ok := value.(RoutingConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a RoutingConfig")
				}
				return validation.ValidateStruct(&rc,
					validation.Field(&rc.ServiceName,
						validation.Required,
						validation.By(validateServiceName),
					),
					validation.Field(&rc.Path,
						validation.Required,
						validation.By(validatePath),
					),
					validation.Field(&rc.Strategy,
						validation.Required,
						validation.In("round-robin", "random"),
					),
					validation.Field(&rc.AttemptTimeout,
						validation.Required,
						validation.By(validatePositiveDuration),
					),
				)
			}),
		),
		validation.Field(&c.Retry,
			validation.Required,
			validation.By(func(value interface{}) error {
				rc, ok := value.(RetryConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a RetryConfig")
				}
				return validation.ValidateStruct(&rc,
					validation.Field(&rc.MaxAttempts,
						validation.Required,
						validation.Min(1),
					),
					validation.Field(&rc.BaseDelay,
						validation.Required,
						validation.By(validateDuration),
					),
					validation.Field(&rc.MaxDelay,
						validation.By(validateDuration),
					),
				)
			}),
		),
		validation.Field(&c.Registry,
			validation.Required,
			validation.By(validateRegistryConfig),
		),
		validation.Field(&c.Metrics,
			validation.Required,
			validation.By(func(value interface{}) error {
				mc, ok := value.(MetricsConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a MetricsConfig")
				}
				return validation.ValidateStruct(&mc,
					validation.Field(&mc.BufferSize,
						validation.Required,
						validation.Min(1),
					),
				)
			}),
		),
	)
}

func validateRegistryConfig(value interface{}) error {
	rc, ok := value.(RegistryConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a RegistryConfig")
	}

	return validation.ValidateStruct(&rc,
		validation.Field(&rc.Type,
			validation.Required,
			validation.In(RegistryStatic, RegistryRedis, RegistryEtcd),
		),
		validation.Field(&rc.Instances,
			validation.When(rc.Type == RegistryStatic, validation.Required, validation.Length(1, 0)),
			validation.Each(validation.By(validateInstanceConfig)),
			validation.By(validateUniqueInstanceIDs),
		),
		validation.Field(&rc.Redis,
			validation.When(rc.Type == RegistryRedis, validation.By(func(value interface{}) error {
				redis, _ := value.(RedisConfig)
				return validation.ValidateStruct(&redis,
					validation.Field(&redis.Address, validation.Required),
					validation.Field(&redis.Prefix, validation.Required),
				)
			})),
		),
		validation.Field(&rc.Etcd,
			validation.When(rc.Type == RegistryEtcd, validation.By(func(value interface{}) error {
				etcd, _ := value.(EtcdConfig)
				return validation.ValidateStruct(&etcd,
					validation.Field(&etcd.Endpoints,
						validation.Required,
						validation.Each(validation.Required),
					),
					validation.Field(&etcd.DialTimeout,
						validation.Required,
						validation.By(validateDuration),
					),
				)
			})),
		),
	)
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

	if durationStr == "" {
		return nil
	}

	d, err := time.ParseDuration(durationStr)
	if err != nil {
		return validation.NewError("validation_invalid_duration", "must be a valid duration (e.g., 2s, 5m, 1h)")
	}

	if d < 0 {
		return validation.NewError("validation_negative_duration", "must not be negative")
	}

	return nil
}

func validatePositiveDuration(value interface{}) error {
	if err := validateDuration(value); err != nil {
		return err
	}

	d, _ := time.ParseDuration(value.(string))
	if d <= 0 {
		return validation.NewError("validation_nonpositive_duration", "must be greater than zero")
	}

	return nil
}

func validateServiceName(value interface{}) error {
	name, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if strings.ContainsAny(name, "/: ") {
		return validation.NewError("validation_invalid_service_name", "must not contain '/', ':' or spaces")
	}

	return nil
}

func validatePath(value interface{}) error {
	path, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if !strings.HasPrefix(path, "/") {
		return validation.NewError("validation_invalid_path", "must start with '/'")
	}

	return nil
}

func validateInstanceConfig(value interface{}) error {
	inst, ok := value.(InstanceConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be an InstanceConfig")
	}

	return validation.ValidateStruct(&inst,
		validation.Field(&inst.ID, validation.Required),
		validation.Field(&inst.Host, validation.Required, is.Host),
		validation.Field(&inst.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

func validateUniqueInstanceIDs(value interface{}) error {
	instances, ok := value.([]InstanceConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a list of instances")
	}

	seen := make(map[string]struct{}, len(instances))
	for _, inst := range instances {
		if _, dup := seen[inst.ID]; dup {
			return validation.NewError("validation_duplicate_instance", "duplicate instance id "+strconv.Quote(inst.ID))
		}
		seen[inst.ID] = struct{}{}
	}

	return nil
}

func defaultInstanceMaps() []map[string]interface{} {
	defaults := DefaultInstances()
	out := make([]map[string]interface{}, 0, len(defaults))
	for _, inst := range defaults {
		out = append(out, map[string]interface{}{
			"id":     inst.ID,
			"host":   inst.Host,
			"port":   inst.Port,
			"secure": inst.Secure,
		})
	}
	return out
}
