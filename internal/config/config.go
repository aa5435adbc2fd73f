// Package config provides configuration loading and validation for the reconciler.
//
// Values are resolved per field in a fixed order: command-line flag, environment
// variable, configuration file, built-in default.
package config

import (
	"errors"
	"fmt"
	"net"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/stacklok/npm-step-reconciler/internal/schedule"
	"github.com/stacklok/npm-step-reconciler/internal/telemetry"
)

const (
	// SchemeHTTP is the plain HTTP scheme
	SchemeHTTP = "http"

	// SchemeHTTPS is the HTTPS scheme
	SchemeHTTPS = "https"

	// DefaultConfigFile is searched for in the XDG config directories when no
	// --config flag is given
	DefaultConfigFile = "npm-step-reconciler/config.yaml"
)

// Config represents the root configuration structure
type Config struct {
	// Schedule is the reconcile interval in <int><unit> notation, e.g. "10s" or "1h"
	Schedule string `mapstructure:"schedule" yaml:"schedule" toml:"schedule"`

	// LogLevel is one of debug, info, warning, error, critical
	LogLevel string `mapstructure:"logLevel" yaml:"logLevel" toml:"logLevel"`

	// SecretsDir holds the provisioner password file and the instance lock
	SecretsDir string `mapstructure:"secretsDir" yaml:"secretsDir" toml:"secretsDir"`

	// RunOnStart runs one pass at startup instead of waiting one interval
	RunOnStart bool `mapstructure:"runOnStart" yaml:"runOnStart" toml:"runOnStart"`

	Authority    AuthorityConfig    `mapstructure:"authority" yaml:"authority" toml:"authority"`
	ProxyManager ProxyManagerConfig `mapstructure:"proxyManager" yaml:"proxyManager" toml:"proxyManager"`
	Ops          OpsConfig          `mapstructure:"ops" yaml:"ops" toml:"ops"`

	// Telemetry is optional; nil disables tracing and metrics export
	Telemetry *telemetry.Config `mapstructure:"telemetry" yaml:"telemetry,omitempty" toml:"telemetry,omitempty"`
}

// AuthorityConfig configures the step CA client
type AuthorityConfig struct {
	Scheme              string        `mapstructure:"scheme" yaml:"scheme" toml:"scheme"`
	Domain              string        `mapstructure:"domain" yaml:"domain" toml:"domain"`
	Port                int           `mapstructure:"port" yaml:"port" toml:"port"`
	Fingerprint         Secret        `mapstructure:"fingerprint" yaml:"fingerprint" toml:"fingerprint"`
	ProvisionerPassword Secret        `mapstructure:"provisionerPassword" yaml:"provisionerPassword" toml:"provisionerPassword"`
	StepPath            string        `mapstructure:"stepPath" yaml:"stepPath" toml:"stepPath"`
	CommandTimeout      time.Duration `mapstructure:"commandTimeout" yaml:"commandTimeout" toml:"commandTimeout"`
	WorkDir             string        `mapstructure:"workDir" yaml:"workDir" toml:"workDir"`
}

// URL returns the CA URL, e.g. https://ca.internal:9000
func (a *AuthorityConfig) URL() string {
	return fmt.Sprintf("%s://%s", a.Scheme, net.JoinHostPort(a.Domain, strconv.Itoa(a.Port)))
}

// ProxyManagerConfig configures the Nginx Proxy Manager client
type ProxyManagerConfig struct {
	Scheme         string        `mapstructure:"scheme" yaml:"scheme" toml:"scheme"`
	Host           string        `mapstructure:"host" yaml:"host" toml:"host"`
	Port           int           `mapstructure:"port" yaml:"port" toml:"port"`
	User           string        `mapstructure:"user" yaml:"user" toml:"user"`
	Password       Secret        `mapstructure:"password" yaml:"password" toml:"password"`
	RequestTimeout time.Duration `mapstructure:"requestTimeout" yaml:"requestTimeout" toml:"requestTimeout"`
	RetryAttempts  int           `mapstructure:"retryAttempts" yaml:"retryAttempts" toml:"retryAttempts"`

	// ExemptProviders lists certificate providers whose certificates are never renewed
	ExemptProviders []string `mapstructure:"exemptProviders" yaml:"exemptProviders" toml:"exemptProviders"`
}

// BaseURL returns the proxy manager URL, e.g. http://npm.internal:81
func (p *ProxyManagerConfig) BaseURL() string {
	return fmt.Sprintf("%s://%s", p.Scheme, net.JoinHostPort(p.Host, strconv.Itoa(p.Port)))
}

// OpsConfig configures the operational HTTP endpoint
type OpsConfig struct {
	// Address to listen on; empty disables the endpoint
	Address string `mapstructure:"address" yaml:"address" toml:"address"`
}

// setting binds one configuration key to its flag and environment variable
type setting struct {
	key   string
	flag  string
	env   string
	def   any
	usage string
}

// settings is the single table of every externally settable field
var settings = []setting{
	{"schedule", "schedule", "SCHEDULE", "10s", "Reconcile interval as <int>[s|m|h|d], at most 1d"},
	{"logLevel", "log-level", "LOG_LEVEL", "INFO", "Log level (DEBUG, INFO, WARNING, ERROR, CRITICAL)"},
	{"secretsDir", "secrets-dir", "SECRETS_DIR", "./.secrets", "Directory for the provisioner password file"},
	{"runOnStart", "run-on-start", "RUN_ON_START", false, "Run one pass immediately at startup"},

	{"authority.scheme", "step-ca-scheme", "STEP_CA_SCHEME", SchemeHTTPS, "Step CA scheme (http, https)"},
	{"authority.domain", "step-ca-domain", "STEP_CA_DOMAIN", "", "Step CA domain"},
	{"authority.port", "step-ca-port", "STEP_CA_PORT", 9000, "Step CA port"},
	{"authority.fingerprint", "step-ca-fingerprint", "STEP_CA_FINGERPRINT", "", "Step CA root fingerprint"},
	{"authority.provisionerPassword", "step-ca-provisioner-pass", "STEP_CA_PROVISIONER_PASS", "",
		"Step CA provisioner password"},
	{"authority.stepPath", "step-path", "STEP_PATH_BINARY", "step", "Path to the step CLI"},
	{"authority.commandTimeout", "step-timeout", "STEP_CA_TIMEOUT", 30 * time.Second, "Timeout for each step CLI call"},
	{"authority.workDir", "step-work-dir", "STEP_WORK_DIR", "", "Directory for transient certificate files"},

	{"proxyManager.scheme", "npm-scheme", "NPM_SCHEME", SchemeHTTP, "Nginx Proxy Manager scheme (http, https)"},
	{"proxyManager.host", "npm-host", "NPM_HOST", "", "Nginx Proxy Manager host"},
	{"proxyManager.port", "npm-port", "NPM_PORT", 81, "Nginx Proxy Manager port"},
	{"proxyManager.user", "npm-user", "NPM_USER", "", "Nginx Proxy Manager user (email)"},
	{"proxyManager.password", "npm-pass", "NPM_PASS", "", "Nginx Proxy Manager password"},
	{"proxyManager.requestTimeout", "npm-timeout", "NPM_TIMEOUT", 5 * time.Second, "Timeout for each proxy manager request"},
	{"proxyManager.retryAttempts", "npm-retries", "NPM_RETRIES", 3, "Attempts per proxy manager call"},
	{"proxyManager.exemptProviders", "npm-exempt-providers", "NPM_EXEMPT_PROVIDERS", []string{"letsencrypt"},
		"Certificate providers that are never renewed"},

	{"ops.address", "ops-address", "OPS_ADDRESS", "", "Listen address for /health, /readiness and /metrics (empty disables)"},
}

// requiredKeys are the settings without a usable default
var requiredKeys = []string{
	"authority.domain",
	"authority.fingerprint",
	"authority.provisionerPassword",
	"proxyManager.host",
	"proxyManager.user",
	"proxyManager.password",
}

// RegisterFlags adds a flag for every setting to fs. Flags carry no defaults of their
// own so that an unset flag never shadows the environment or the config file.
func RegisterFlags(fs *pflag.FlagSet) {
	for _, s := range settings {
		usage := fmt.Sprintf("%s (env %s)", s.usage, s.env)
		switch def := s.def.(type) {
		case bool:
			fs.Bool(s.flag, def, usage)
		case int:
			fs.Int(s.flag, 0, fmt.Sprintf("%s (default %d)", usage, def))
		case time.Duration:
			fs.Duration(s.flag, 0, fmt.Sprintf("%s (default %s)", usage, def))
		case []string:
			fs.StringSlice(s.flag, nil, fmt.Sprintf("%s (default %s)", usage, strings.Join(def, ",")))
		case string:
			if def != "" {
				usage = fmt.Sprintf("%s (default %q)", usage, def)
			}
			fs.String(s.flag, "", usage)
		}
	}
}

// Option defines the interface for configuration loading options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path  string
	flags *pflag.FlagSet
}

// WithConfigPath reads the given YAML or TOML file as the lowest precedence source
// above the defaults
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		cfg.path = path
		return nil
	}
}

// WithFlags binds the flags registered by RegisterFlags on fs
func WithFlags(fs *pflag.FlagSet) Option {
	return func(cfg *loaderConfig) error {
		if fs == nil {
			return fmt.Errorf("flag set cannot be nil")
		}
		cfg.flags = fs
		return nil
	}
}

// Load resolves the configuration and validates it
func Load(opts ...Option) (*Config, error) {
	cfg, err := Resolve(opts...)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Resolve merges flags, environment, config file and defaults without validating
func Resolve(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	v := viper.New()
	for _, s := range settings {
		v.SetDefault(s.key, s.def)
		if err := v.BindEnv(s.key, s.env); err != nil {
			return nil, fmt.Errorf("failed to bind environment variable %s: %w", s.env, err)
		}
		if loaderCfg.flags == nil {
			continue
		}
		if f := loaderCfg.flags.Lookup(s.flag); f != nil {
			if err := v.BindPFlag(s.key, f); err != nil {
				return nil, fmt.Errorf("failed to bind flag --%s: %w", s.flag, err)
			}
		}
	}

	path := loaderCfg.path
	if path == "" {
		if found, err := xdg.SearchConfigFile(DefaultConfigFile); err == nil {
			path = found
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	cfg.LogLevel = strings.ToUpper(cfg.LogLevel)
	cfg.Authority.Scheme = strings.ToLower(cfg.Authority.Scheme)
	cfg.ProxyManager.Scheme = strings.ToLower(cfg.ProxyManager.Scheme)

	return &cfg, nil
}

// ValidLogLevels are the accepted log level names
var ValidLogLevels = []string{"DEBUG", "INFO", "WARNING", "WARN", "ERROR", "CRITICAL"}

// Validate performs validation on the configuration
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if missing := c.missingRequired(); len(missing) > 0 {
		return fmt.Errorf("missing required configuration in either environment or command line flags: %s",
			strings.Join(missing, ", "))
	}

	var errs []error
	if _, err := schedule.ParseSchedule(c.Schedule); err != nil {
		errs = append(errs, err)
	}
	if !slices.Contains(ValidLogLevels, strings.ToUpper(c.LogLevel)) {
		errs = append(errs, fmt.Errorf("logLevel must be one of %s, got %q", strings.Join(ValidLogLevels, ", "), c.LogLevel))
	}
	errs = append(errs,
		validateEndpoint("authority", c.Authority.Scheme, c.Authority.Port),
		validateEndpoint("proxyManager", c.ProxyManager.Scheme, c.ProxyManager.Port),
	)
	if c.ProxyManager.RetryAttempts < 1 {
		errs = append(errs, fmt.Errorf("proxyManager.retryAttempts must be at least 1, got %d", c.ProxyManager.RetryAttempts))
	}
	if c.ProxyManager.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("proxyManager.requestTimeout must be positive"))
	}
	if c.Authority.CommandTimeout <= 0 {
		errs = append(errs, fmt.Errorf("authority.commandTimeout must be positive"))
	}
	if c.SecretsDir == "" {
		errs = append(errs, fmt.Errorf("secretsDir cannot be empty"))
	}
	if err := c.Telemetry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: %w", err))
	}

	return errors.Join(errs...)
}

// missingRequired returns the environment variable names of unset required settings
func (c *Config) missingRequired() []string {
	values := map[string]string{
		"authority.domain":              c.Authority.Domain,
		"authority.fingerprint":         c.Authority.Fingerprint.Value(),
		"authority.provisionerPassword": c.Authority.ProvisionerPassword.Value(),
		"proxyManager.host":             c.ProxyManager.Host,
		"proxyManager.user":             c.ProxyManager.User,
		"proxyManager.password":         c.ProxyManager.Password.Value(),
	}

	var missing []string
	for _, key := range requiredKeys {
		if strings.TrimSpace(values[key]) == "" {
			missing = append(missing, envName(key))
		}
	}
	return missing
}

func validateEndpoint(prefix, scheme string, port int) error {
	var errs []error
	if scheme != SchemeHTTP && scheme != SchemeHTTPS {
		errs = append(errs, fmt.Errorf("%s.scheme must be http or https, got %q", prefix, scheme))
	}
	if port < 1 || port > 65535 {
		errs = append(errs, fmt.Errorf("%s.port must be between 1 and 65535, got %d", prefix, port))
	}
	return errors.Join(errs...)
}

func envName(key string) string {
	for _, s := range settings {
		if s.key == key {
			return s.env
		}
	}
	return key
}
