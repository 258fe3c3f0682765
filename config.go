package leaselect

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the declarative configuration for an Election.
//
// It mirrors the functional options for deployments that prefer loading
// settings from a YAML/JSON file. All duration fields accept standard Go
// duration strings like "5s", "1m".
type Config struct {
	// KeyPrefix is the logical election name. Campaign keys live under
	// "election/<KeyPrefix>/".
	KeyPrefix string `yaml:"keyPrefix" json:"keyPrefix"`

	// TTL is the lease time-to-live requested on Campaign.
	// Default: 5s. The TTL does not bound the predecessor wait.
	TTL time.Duration `yaml:"ttl" json:"ttl"`
}

// DefaultConfig returns a Config with default values for the given
// election name.
//
// Parameters:
//   - keyPrefix: Logical election name
//
// Returns:
//   - Config: Configuration with DefaultTTL applied
func DefaultConfig(keyPrefix string) Config {
	return Config{
		KeyPrefix: keyPrefix,
		TTL:       DefaultTTL,
	}
}

// yamlConfig is the wire form of Config; durations travel as strings.
type yamlConfig struct {
	KeyPrefix string `yaml:"keyPrefix"`
	TTL       string `yaml:"ttl"`
}

// MarshalYAML implements yaml.Marshaler, rendering the TTL as a Go
// duration string ("5s", "1m").
func (c Config) MarshalYAML() (any, error) {
	return yamlConfig{KeyPrefix: c.KeyPrefix, TTL: c.TTL.String()}, nil
}

// UnmarshalYAML implements yaml.Unmarshaler, accepting Go duration
// strings for the TTL. An absent or empty ttl leaves the zero value,
// which Validate rejects.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	var raw yamlConfig
	if err := value.Decode(&raw); err != nil {
		return err
	}

	c.KeyPrefix = raw.KeyPrefix
	c.TTL = 0
	if raw.TTL != "" {
		d, err := time.ParseDuration(raw.TTL)
		if err != nil {
			return fmt.Errorf("ttl: %w", err)
		}
		c.TTL = d
	}

	return nil
}

// Validate checks the configuration for invalid values.
//
// Returns:
//   - error: ErrEmptyKeyPrefix or ErrInvalidTTL, wrapped with the field
//     name; nil when valid
func (c *Config) Validate() error {
	if c.KeyPrefix == "" {
		return fmt.Errorf("keyPrefix: %w", ErrEmptyKeyPrefix)
	}
	if c.TTL <= 0 {
		return fmt.Errorf("ttl: %w", ErrInvalidTTL)
	}

	return nil
}

// NewElectionFromConfig creates an Election from a validated Config.
//
// Parameters:
//   - session: Store session (required)
//   - cfg: Declarative configuration
//   - opts: Additional functional options (logger, hooks, metrics);
//     a WithTTL option overrides cfg.TTL
//
// Returns:
//   - *Election: Initialized candidate handle
//   - error: Config validation error or NewElection error
func NewElectionFromConfig(session Session, cfg Config, opts ...Option) (*Election, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	merged := make([]Option, 0, len(opts)+1)
	merged = append(merged, WithTTL(cfg.TTL))
	merged = append(merged, opts...)

	return NewElection(session, cfg.KeyPrefix, merged...)
}
