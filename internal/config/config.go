package config

import "time"

// Binding modes for the authorization middleware.
const (
	BindingBound    = "bound"
	BindingDeferred = "deferred"
)

// Default configuration values.
const (
	DefaultAddress          = ":8080"
	DefaultReadTimeout      = 10 * time.Second
	DefaultWriteTimeout     = 10 * time.Second
	DefaultShutdownTimeout  = 15 * time.Second
	DefaultMetricsPath      = "/metrics"
	DefaultServiceName      = "policyguard"
	DefaultRedisChannel     = "policyguard:policy:updates"
	DefaultAnonymousSubject = "_actor"
)

// Config is the policyguard server configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Authz    AuthzConfig    `yaml:"authz"`
	Identity IdentityConfig `yaml:"identity"`
	Policy   PolicyConfig   `yaml:"policy"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Address         string   `yaml:"address" validate:"required"`
	ReadTimeout     Duration `yaml:"readTimeout" validate:"gte=0"`
	WriteTimeout    Duration `yaml:"writeTimeout" validate:"gte=0"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout" validate:"gte=0"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json console"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path" validate:"omitempty,startswith=/"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ServiceName  string  `yaml:"serviceName"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"samplingRate" validate:"gte=0,lte=1"`
}

// AuthzConfig configures the authorization middleware.
type AuthzConfig struct {
	// Binding selects how the middleware obtains the oracle: bound captures
	// the handle current at startup, deferred reads it per request.
	Binding string `yaml:"binding" validate:"oneof=bound deferred"`

	// AnonymousSubject names requests without credentials.
	AnonymousSubject string `yaml:"anonymousSubject"`
}

// IdentityConfig configures request authentication.
type IdentityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig configures bearer token verification. An empty secret disables
// authentication and every request is anonymous.
type JWTConfig struct {
	Secret      string `yaml:"secret"`
	Algorithm   string `yaml:"algorithm" validate:"omitempty,oneof=HS256 HS384 HS512"`
	Issuer      string `yaml:"issuer"`
	RequireAuth bool   `yaml:"requireAuth"`
}

// Enabled reports whether tokens are verified.
func (c JWTConfig) Enabled() bool {
	return c.Secret != ""
}

// PolicyConfig selects where the policy document comes from.
type PolicyConfig struct {
	File  string      `yaml:"file"`
	Watch bool        `yaml:"watch"`
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig configures the Redis policy source.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"gte=0"`
	Key      string `yaml:"key" validate:"required_with=Address"`
	Channel  string `yaml:"channel"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = DefaultAddress
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = Duration(DefaultReadTimeout)
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = Duration(DefaultWriteTimeout)
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = Duration(DefaultShutdownTimeout)
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = DefaultServiceName
	}
	if c.Authz.Binding == "" {
		c.Authz.Binding = BindingBound
	}
	if c.Authz.AnonymousSubject == "" {
		c.Authz.AnonymousSubject = DefaultAnonymousSubject
	}
	if c.Identity.JWT.Algorithm == "" {
		c.Identity.JWT.Algorithm = "HS256"
	}
	if c.Policy.Redis.Address != "" && c.Policy.Redis.Channel == "" {
		c.Policy.Redis.Channel = DefaultRedisChannel
	}
}
