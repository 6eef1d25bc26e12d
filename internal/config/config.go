package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"mcp-gateway/backend/internal/observability"
	"mcp-gateway/backend/internal/registry"
	"mcp-gateway/backend/internal/router"
	"mcp-gateway/backend/internal/workflow"
)

// EnvPrefix prefixes every environment override, e.g. GATEWAY_SERVER_ADDRESS.
const EnvPrefix = "GATEWAY"

// Persistence drivers.
const (
	DriverNone     = "none"
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// BackendConfig registers one namespace.
type BackendConfig struct {
	Namespace  string        `mapstructure:"namespace"`
	URL        string        `mapstructure:"url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	InvokePath string        `mapstructure:"invoke_path"`
	HealthPath string        `mapstructure:"health_path"`
}

// Config holds the configuration for the application.
type Config struct {
	Server struct {
		Address         string        `mapstructure:"address"`
		BaseURL         string        `mapstructure:"base_url"`
		ReadTimeout     time.Duration `mapstructure:"read_timeout"`
		WriteTimeout    time.Duration `mapstructure:"write_timeout"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"server"`
	TLS struct {
		Enable    bool     `mapstructure:"enable"`
		CertFile  string   `mapstructure:"cert_file"`
		KeyFile   string   `mapstructure:"key_file"`
		Hostnames []string `mapstructure:"hostnames"`
	} `mapstructure:"tls"`
	Gateway struct {
		DefaultTimeout time.Duration      `mapstructure:"default_timeout"`
		ErrorPolicy    string             `mapstructure:"error_policy"`
		Retry          router.RetryPolicy `mapstructure:"retry"`
	} `mapstructure:"gateway"`
	Backends []BackendConfig `mapstructure:"backends"`
	Health   struct {
		Enabled  bool   `mapstructure:"enabled"`
		Schedule string `mapstructure:"schedule"`
	} `mapstructure:"health"`
	Persistence struct {
		Driver string `mapstructure:"driver"`
		DB     struct {
			Host     string `mapstructure:"host"`
			Port     int    `mapstructure:"port"`
			User     string `mapstructure:"user"`
			Password string `mapstructure:"password"`
			Name     string `mapstructure:"name"`
			SSLMode  string `mapstructure:"sslmode"`
		} `mapstructure:"db"`
		Redis struct {
			URL string        `mapstructure:"url"`
			TTL time.Duration `mapstructure:"ttl"`
		} `mapstructure:"redis"`
		Memory struct {
			MaxExecutions int `mapstructure:"max_executions"`
		} `mapstructure:"memory"`
	} `mapstructure:"persistence"`
	Logging struct {
		Level string `mapstructure:"level"`
		JSON  bool   `mapstructure:"json"`
	} `mapstructure:"logging"`
	Metrics observability.MetricsConfig `mapstructure:"metrics"`
	Tracing observability.TracingConfig `mapstructure:"tracing"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_timeout", 30*time.Second)
	// SSE streams stay open indefinitely; 0 disables the write deadline.
	v.SetDefault("server.write_timeout", 0)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("gateway.default_timeout", 30*time.Second)
	v.SetDefault("gateway.error_policy", string(workflow.PolicyFailFast))
	v.SetDefault("gateway.retry.max_attempts", 1)
	v.SetDefault("gateway.retry.initial_interval", 200*time.Millisecond)
	v.SetDefault("gateway.retry.max_interval", 2*time.Second)
	v.SetDefault("health.enabled", true)
	v.SetDefault("health.schedule", "@every 30s")
	v.SetDefault("persistence.driver", DriverMemory)
	v.SetDefault("persistence.db.port", 5432)
	v.SetDefault("persistence.db.sslmode", "disable")
	v.SetDefault("persistence.redis.ttl", 7*24*time.Hour)
	v.SetDefault("persistence.memory.max_executions", 1000)
	v.SetDefault("logging.level", "info")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.sampling_rate", 1.0)
	v.SetDefault("tracing.service_name", "mcp-gateway")
}

// New returns a viper instance with defaults and env overrides applied. A
// non-empty envFile is loaded into the process environment first; a missing
// default .env is not an error.
func New(configFile, envFile string) (*viper.Viper, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	} else if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	return newViper(configFile)
}

func newViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	return v, nil
}

// Reload reads configFile into a fresh viper instance and decodes it. The
// process environment is consulted again but .env files are not re-read.
func Reload(configFile string) (*Config, error) {
	if configFile == "" {
		return nil, errors.New("no config file to reload")
	}
	v, err := newViper(configFile)
	if err != nil {
		return nil, err
	}
	return Decode(v)
}

// LoadConfig loads the configuration from a file and the environment.
func LoadConfig(configFile, envFile string) (*Config, *viper.Viper, error) {
	v, err := New(configFile, envFile)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := Decode(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

// Decode unmarshals and validates the current state of v.
func Decode(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	// GATEWAY_BACKENDS="cmdb=http://cmdb:8012,os.linux=http://linux:8001"
	// replaces the backends list; nested lists cannot be overridden otherwise.
	if raw := os.Getenv(EnvPrefix + "_BACKENDS"); raw != "" {
		backends, err := parseBackendList(raw)
		if err != nil {
			return nil, err
		}
		config.Backends = backends
	}

	config.Persistence.Driver = strings.ToLower(strings.TrimSpace(config.Persistence.Driver))
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks the values that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Persistence.Driver {
	case DriverNone, DriverMemory:
	case DriverPostgres:
		if c.Persistence.DB.Host == "" || c.Persistence.DB.Name == "" {
			return errors.New("persistence.db.host and persistence.db.name are required for the postgres driver")
		}
	case DriverRedis:
		if c.Persistence.Redis.URL == "" {
			return errors.New("persistence.redis.url is required for the redis driver")
		}
	default:
		return fmt.Errorf("unknown persistence driver %q", c.Persistence.Driver)
	}

	if _, err := workflow.ParsePolicy(c.Gateway.ErrorPolicy); err != nil {
		return err
	}
	if c.TLS.Enable && (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		return errors.New("tls.cert_file and tls.key_file must be set together")
	}
	_, err := c.RegistryEntries()
	return err
}

// RegistryEntries converts the backends section into registry entries.
// Backends without a timeout use gateway.default_timeout.
func (c *Config) RegistryEntries() ([]registry.Entry, error) {
	entries := make([]registry.Entry, 0, len(c.Backends))
	seen := make(map[string]bool, len(c.Backends))
	for _, b := range c.Backends {
		timeout := b.Timeout
		if timeout <= 0 {
			timeout = c.Gateway.DefaultTimeout
		}
		entry, err := registry.ParseEntry(b.Namespace, b.URL, timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid backend %q: %w", b.Namespace, err)
		}
		if seen[entry.Namespace] {
			return nil, fmt.Errorf("duplicate backend namespace %q", entry.Namespace)
		}
		seen[entry.Namespace] = true
		entry.InvokePath = b.InvokePath
		entry.HealthPath = b.HealthPath
		entries = append(entries, entry)
	}
	return entries, nil
}

// DatabaseURL builds the postgres connection string in key=value form.
func (c *Config) DatabaseURL() string {
	db := c.Persistence.DB
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		db.Host, db.Port, db.User, db.Password, db.Name, db.SSLMode,
	)
}

// watchDebounce coalesces the burst of events editors emit for one save.
const watchDebounce = 100 * time.Millisecond

// WatchFile calls onChange after configFile is written or recreated, until ctx
// is done. The parent directory is watched so atomic renames are seen.
// onChange never runs concurrently with itself.
func WatchFile(ctx context.Context, configFile string, onChange func(), onError func(error)) error {
	path, err := filepath.Abs(configFile)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch directory %s: %w", filepath.Dir(path), err)
	}

	go func() {
		defer watcher.Close()
		timer := time.NewTimer(watchDebounce)
		timer.Stop()
		defer timer.Stop()
		name := filepath.Base(path)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != name || !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
					continue
				}
				timer.Reset(watchDebounce)
			case <-timer.C:
				onChange()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				onError(fmt.Errorf("config watcher: %w", err))
			}
		}
	}()
	return nil
}

func parseBackendList(raw string) ([]BackendConfig, error) {
	var out []BackendConfig
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		ns, url, ok := strings.Cut(item, "=")
		if !ok {
			return nil, fmt.Errorf("invalid backend %q: want namespace=url", item)
		}
		out = append(out, BackendConfig{Namespace: strings.TrimSpace(ns), URL: strings.TrimSpace(url)})
	}
	return out, nil
}
