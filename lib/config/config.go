// Package config loads and saves the TOML configuration for a connection
// pool and the transport that feeds it.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/go-i2p/asyncpool/lib/errors"
	"github.com/go-i2p/asyncpool/lib/pool"
	"github.com/go-i2p/asyncpool/lib/resilience"
	"github.com/go-i2p/asyncpool/lib/transport"

	"github.com/pelletier/go-toml/v2"
)

// Default configuration values
const (
	DefaultEndpoint         = "127.0.0.1:8080"
	DefaultPoolSize         = 10
	DefaultAcquireTimeout   = 30 * time.Second
	DefaultTransportKind    = TransportTCP
	DefaultDialTimeout      = 10 * time.Second
	DefaultSAMAddress       = "127.0.0.1:7656"
	DefaultSessionName      = "asyncpool"
	DefaultTunnelLength     = 2
	DefaultFailureThreshold = 5
	DefaultCircuitTimeout   = 10 * time.Second
	DefaultMetricsListen    = "127.0.0.1:9100"
	DefaultMetricsPrefix    = "asyncpool"
)

// Transport kinds.
const (
	TransportTCP = "tcp"
	TransportI2P = "i2p"
)

// envPrefix prefixes every environment override.
const envPrefix = "ASYNCPOOL_"

// Duration is a time.Duration that reads and writes TOML as a string such
// as "250ms" or "1m30s".
type Duration time.Duration

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := parseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// parseDuration accepts Go duration strings and bare integers, which are
// read as seconds.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return d, nil
}

// Config holds all configuration for a pool.
type Config struct {
	Pool        PoolConfig        `toml:"pool"`
	Transport   TransportConfig   `toml:"transport"`
	Replacement ReplacementConfig `toml:"replacement"`
	Circuit     CircuitConfig     `toml:"circuit"`
	Metrics     MetricsConfig     `toml:"metrics"`
}

// PoolConfig contains the pool's endpoint and capacity.
type PoolConfig struct {
	// Endpoint is the target every connection is made to (host:port)
	Endpoint string `toml:"endpoint"`
	// Size is the fixed number of connections
	Size int `toml:"size"`
	// AcquireTimeout bounds an acquire whose caller set no deadline
	AcquireTimeout Duration `toml:"acquire_timeout"`
}

// TransportConfig selects and tunes the connector.
type TransportConfig struct {
	// Kind is "tcp" or "i2p"
	Kind string `toml:"kind"`
	// DialTimeout bounds a single connect attempt
	DialTimeout Duration `toml:"dial_timeout"`
	// SAMAddress is the SAM bridge address (host:port), used by the i2p kind
	SAMAddress string `toml:"sam_address"`
	// SessionName names the SAM session
	SessionName string `toml:"session_name"`
	// TunnelLength is the number of hops for I2P tunnels (lower = faster, less anonymous)
	TunnelLength int `toml:"tunnel_length"`
}

// ReplacementConfig controls reconnecting failed slots.
type ReplacementConfig struct {
	// MaxAttempts is the number of replacement connects per slot; 0 disables replacement
	MaxAttempts int `toml:"max_attempts"`
	// Interval is the minimum spacing between replacement connects
	Interval Duration `toml:"interval"`
}

// CircuitConfig controls the circuit breaker around the connector.
type CircuitConfig struct {
	// Enabled wraps the connector in a circuit breaker
	Enabled bool `toml:"enabled"`
	// FailureThreshold is the number of consecutive failures that opens the circuit
	FailureThreshold int `toml:"failure_threshold"`
	// SuccessThreshold is the number of successful probes that closes it again
	SuccessThreshold int `toml:"success_threshold"`
	// Timeout is how long the circuit stays open before probing
	Timeout Duration `toml:"timeout"`
}

// MetricsConfig contains metrics endpoint settings.
type MetricsConfig struct {
	// Enabled controls whether the metrics endpoint is served
	Enabled bool `toml:"enabled"`
	// Listen is the address to bind the metrics server to
	Listen string `toml:"listen"`
	// Prefix is prepended to every metric name
	Prefix string `toml:"prefix"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Pool: PoolConfig{
			Endpoint:       DefaultEndpoint,
			Size:           DefaultPoolSize,
			AcquireTimeout: Duration(DefaultAcquireTimeout),
		},
		Transport: TransportConfig{
			Kind:         DefaultTransportKind,
			DialTimeout:  Duration(DefaultDialTimeout),
			SAMAddress:   DefaultSAMAddress,
			SessionName:  DefaultSessionName,
			TunnelLength: DefaultTunnelLength,
		},
		Circuit: CircuitConfig{
			Enabled:          false,
			FailureThreshold: DefaultFailureThreshold,
			SuccessThreshold: 1,
			Timeout:          Duration(DefaultCircuitTimeout),
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  DefaultMetricsListen,
			Prefix:  DefaultMetricsPrefix,
		},
	}
}

// Load reads configuration like Read and validates the result.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Read reads configuration from a TOML file and applies environment
// overrides without validating it, so callers can layer further overrides
// first. If the file doesn't exist, it starts from the defaults.
func Read(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	case os.IsNotExist(err):
		log.WithField("path", path).Debug("config file not found, using defaults")
	default:
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes the configuration to a TOML file.
// It creates the parent directory if it doesn't exist.
func Save(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// ApplyEnvOverrides replaces settings with ASYNCPOOL_* environment
// variables when they are set. Durations accept Go syntax or whole seconds.
func (c *Config) ApplyEnvOverrides() error {
	var errs []error

	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *Duration) {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			d, err := parseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = Duration(d)
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = b
		}
	}

	str("ENDPOINT", &c.Pool.Endpoint)
	num("POOL_SIZE", &c.Pool.Size)
	dur("ACQUIRE_TIMEOUT", &c.Pool.AcquireTimeout)

	str("TRANSPORT", &c.Transport.Kind)
	dur("DIAL_TIMEOUT", &c.Transport.DialTimeout)
	str("SAM_ADDRESS", &c.Transport.SAMAddress)
	str("SESSION_NAME", &c.Transport.SessionName)
	num("TUNNEL_LENGTH", &c.Transport.TunnelLength)

	num("REPLACEMENT_MAX_ATTEMPTS", &c.Replacement.MaxAttempts)
	dur("REPLACEMENT_INTERVAL", &c.Replacement.Interval)

	flag("CIRCUIT_ENABLED", &c.Circuit.Enabled)
	num("CIRCUIT_FAILURE_THRESHOLD", &c.Circuit.FailureThreshold)
	dur("CIRCUIT_TIMEOUT", &c.Circuit.Timeout)

	flag("METRICS_ENABLED", &c.Metrics.Enabled)
	str("METRICS_LISTEN", &c.Metrics.Listen)

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", apperrors.ErrConfiguration, apperrors.Join(errs...))
	}
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	fail := func(msg string) error {
		return fmt.Errorf("%w: %s", apperrors.ErrConfiguration, msg)
	}

	if c.Pool.Size < 1 {
		return fail("pool.size must be at least 1")
	}
	if c.Pool.AcquireTimeout < 0 {
		return fail("pool.acquire_timeout must not be negative")
	}
	if _, err := c.Endpoint(); err != nil {
		return fmt.Errorf("%w: pool.endpoint: %w", apperrors.ErrConfiguration, err)
	}

	switch c.Transport.Kind {
	case TransportTCP:
	case TransportI2P:
		if c.Transport.SAMAddress == "" {
			return fail("transport.sam_address is required for i2p")
		}
		if c.Transport.SessionName == "" {
			return fail("transport.session_name is required for i2p")
		}
		if c.Transport.TunnelLength < 0 || c.Transport.TunnelLength > 7 {
			return fail("transport.tunnel_length must be between 0 and 7")
		}
	default:
		return fail(fmt.Sprintf("transport.kind %q is not one of tcp, i2p", c.Transport.Kind))
	}
	if c.Transport.DialTimeout < 0 {
		return fail("transport.dial_timeout must not be negative")
	}

	if c.Replacement.MaxAttempts < 0 {
		return fail("replacement.max_attempts must not be negative")
	}
	if c.Replacement.Interval < 0 {
		return fail("replacement.interval must not be negative")
	}

	if c.Circuit.Enabled && c.Circuit.FailureThreshold < 1 {
		return fail("circuit.failure_threshold must be at least 1")
	}

	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		return fail("metrics.listen is required when metrics are enabled")
	}
	return nil
}

// Endpoint parses pool.endpoint.
func (c *Config) Endpoint() (transport.Endpoint, error) {
	return transport.ParseEndpoint(c.Pool.Endpoint)
}

// PoolConfig converts the pool and replacement sections to a pool.Config.
// The observer is left for the caller to set.
func (c *Config) PoolConfig() pool.Config {
	return pool.Config{
		Size:           c.Pool.Size,
		AcquireTimeout: c.Pool.AcquireTimeout.Std(),
		Replacement: pool.ReplacementPolicy{
			MaxAttempts: c.Replacement.MaxAttempts,
			Interval:    c.Replacement.Interval.Std(),
		},
	}
}

// CircuitBreakerConfig converts the circuit section for the resilience package.
func (c *Config) CircuitBreakerConfig() resilience.CircuitBreakerConfig {
	cfg := resilience.DefaultCircuitBreakerConfig()
	cfg.FailureThreshold = c.Circuit.FailureThreshold
	if c.Circuit.SuccessThreshold > 0 {
		cfg.SuccessThreshold = c.Circuit.SuccessThreshold
	}
	if c.Circuit.Timeout > 0 {
		cfg.Timeout = c.Circuit.Timeout.Std()
	}
	return cfg
}

// SAMOptions returns the onramp session options for the i2p transport.
func (c *Config) SAMOptions() []string {
	length := strconv.Itoa(c.Transport.TunnelLength)
	return []string{
		"inbound.length=" + length,
		"outbound.length=" + length,
	}
}
