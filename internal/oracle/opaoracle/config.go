package opaoracle

import (
	"errors"
	"net/url"
	"time"
)

// Default values for the OPA oracle.
const (
	DefaultTimeout          = 2 * time.Second
	DefaultMaxRetries       = 2
	DefaultInitialBackoff   = 50 * time.Millisecond
	DefaultMaxBackoff       = time.Second
	DefaultBreakerThreshold = 5
	DefaultBreakerTimeout   = 30 * time.Second
)

// Config configures the OPA oracle.
type Config struct {
	// URL is the OPA server base URL.
	URL string `yaml:"url" json:"url" validate:"required,url"`

	// Policy is the data path queried under /v1/data, e.g. policyguard/allow.
	Policy string `yaml:"policy" json:"policy" validate:"required"`

	// Headers are added to every query.
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`

	// Timeout bounds a single HTTP attempt.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// Retry controls retries of failed queries.
	Retry RetryConfig `yaml:"retry,omitempty" json:"retry,omitempty"`

	// Breaker controls the circuit breaker around the OPA server.
	Breaker BreakerConfig `yaml:"breaker,omitempty" json:"breaker,omitempty"`
}

// RetryConfig holds retry configuration for OPA queries.
type RetryConfig struct {
	MaxRetries     int           `yaml:"maxRetries,omitempty" json:"maxRetries,omitempty"`
	InitialBackoff time.Duration `yaml:"initialBackoff,omitempty" json:"initialBackoff,omitempty"`
	MaxBackoff     time.Duration `yaml:"maxBackoff,omitempty" json:"maxBackoff,omitempty"`
}

// BreakerConfig holds circuit breaker configuration.
type BreakerConfig struct {
	// Threshold is the number of requests observed before the failure
	// ratio can open the circuit.
	Threshold int `yaml:"threshold,omitempty" json:"threshold,omitempty"`

	// Timeout is how long the circuit stays open.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("opa config is required")
	}
	if c.URL == "" {
		return errors.New("opa url is required")
	}
	if _, err := url.ParseRequestURI(c.URL); err != nil {
		return errors.New("opa url is invalid")
	}
	if c.Policy == "" {
		return errors.New("opa policy is required")
	}
	if c.Retry.MaxRetries < 0 {
		return errors.New("opa retry.maxRetries must not be negative")
	}
	return nil
}

// withDefaults returns a copy of c with zero values replaced by defaults.
func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Retry.InitialBackoff <= 0 {
		c.Retry.InitialBackoff = DefaultInitialBackoff
	}
	if c.Retry.MaxBackoff <= 0 {
		c.Retry.MaxBackoff = DefaultMaxBackoff
	}
	if c.Breaker.Threshold <= 0 {
		c.Breaker.Threshold = DefaultBreakerThreshold
	}
	if c.Breaker.Timeout <= 0 {
		c.Breaker.Timeout = DefaultBreakerTimeout
	}
	return c
}
