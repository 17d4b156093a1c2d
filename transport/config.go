package transport

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/arloliu/go-esplink/logger"
)

// Default connection values.
const (
	DefaultConnectTimeout   = 3 * time.Second
	DefaultReadTimeout      = 1 * time.Second
	DefaultWriteTimeout     = 1 * time.Second
	DefaultReconnectBackoff = 5 * time.Second

	// DefaultMaxConnectAttempts of zero retries forever.
	DefaultMaxConnectAttempts = 0

	DefaultMaxLineLength = 1024

	DefaultBaudRate = 19200
)

// Range limits for configurable values.
const (
	MinTimeout = 10 * time.Millisecond
	MaxTimeout = 5 * time.Minute

	MinReconnectBackoff = 1 * time.Millisecond
	MaxReconnectBackoff = 10 * time.Minute

	MinMaxLineLength = 16
	MaxMaxLineLength = 64 * 1024
)

// Config holds the configuration of a Transport.
//
// A Config describes either a TCP endpoint (NewConfig) or a serial device
// (NewSerialConfig). WithDialer overrides how the connection is opened in
// both cases.
type Config struct {
	host string
	port int

	device   string
	baudRate int

	connectTimeout   time.Duration
	readTimeout      time.Duration
	writeTimeout     time.Duration
	reconnectBackoff time.Duration

	maxConnectAttempts int
	maxLineLength      int

	dialer Dialer
	logger logger.Logger
}

// NewConfig creates a configuration for a device reachable over TCP.
//
// host is an IP address or hostname, port is the TCP port.
// opts are functional options applied in order; see With* functions.
func NewConfig(host string, port int, opts ...ConnOption) (*Config, error) {
	cfg := newDefaultConfig()

	if err := cfg.setHost(host); err != nil {
		return nil, err
	}
	if err := cfg.setPort(port); err != nil {
		return nil, err
	}

	if err := cfg.applyOptions(opts); err != nil {
		return nil, err
	}

	return cfg, nil
}

// NewSerialConfig creates a configuration for a device attached to a serial port.
//
// device is the port name (e.g. "/dev/ttyUSB0" or "COM3"). baudRate of zero
// selects DefaultBaudRate.
func NewSerialConfig(device string, baudRate int, opts ...ConnOption) (*Config, error) {
	cfg := newDefaultConfig()

	device = strings.TrimSpace(device)
	if device == "" {
		return nil, errors.New("transport: serial device must not be empty")
	}
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	if baudRate < 0 {
		return nil, fmt.Errorf("transport: invalid baud rate %d", baudRate)
	}
	cfg.device = device
	cfg.baudRate = baudRate

	if err := cfg.applyOptions(opts); err != nil {
		return nil, err
	}

	return cfg, nil
}

func newDefaultConfig() *Config {
	return &Config{
		connectTimeout:     DefaultConnectTimeout,
		readTimeout:        DefaultReadTimeout,
		writeTimeout:       DefaultWriteTimeout,
		reconnectBackoff:   DefaultReconnectBackoff,
		maxConnectAttempts: DefaultMaxConnectAttempts,
		maxLineLength:      DefaultMaxLineLength,
		logger:             logger.GetLogger(),
	}
}

func (cfg *Config) applyOptions(opts []ConnOption) error {
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.apply(cfg); err != nil {
			return err
		}
	}

	return nil
}

// setHost accepts an IP address or a syntactically valid hostname.
// Names are resolved at dial time so a temporary DNS outage is retried like
// any other connect failure.
func (cfg *Config) setHost(host string) error {
	if ip := net.ParseIP(host); ip != nil {
		cfg.host = host
		return nil
	}

	host = strings.TrimSuffix(host, ".")
	if !isValidHostname(host) {
		return fmt.Errorf("transport: invalid host %q", host)
	}
	cfg.host = host

	return nil
}

func (cfg *Config) setPort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("transport: port %d out of range [1, 65535]", port)
	}
	cfg.port = port

	return nil
}

func isValidHostname(host string) bool {
	if host == "" || len(host) > 253 {
		return false
	}

	for _, label := range strings.Split(host, ".") {
		if label == "" || len(label) > 63 {
			return false
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for _, r := range label {
			isAlnum := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
			if !isAlnum && r != '-' {
				return false
			}
		}
	}

	return true
}

// --- Getters ---

// Host returns the configured host address. Empty for serial configurations.
func (cfg *Config) Host() string { return cfg.host }

// Port returns the configured TCP port. Zero for serial configurations.
func (cfg *Config) Port() int { return cfg.port }

// Device returns the serial device name. Empty for TCP configurations.
func (cfg *Config) Device() string { return cfg.device }

// BaudRate returns the serial baud rate. Zero for TCP configurations.
func (cfg *Config) BaudRate() int { return cfg.baudRate }

// IsSerial returns true if the configuration targets a serial device.
func (cfg *Config) IsSerial() bool { return cfg.device != "" }

// Addr returns "host:port" for TCP or the device name for serial configurations.
func (cfg *Config) Addr() string {
	if cfg.IsSerial() {
		return cfg.device
	}

	return net.JoinHostPort(cfg.host, strconv.Itoa(cfg.port))
}

// ConnectTimeout returns the timeout of a single dial attempt.
func (cfg *Config) ConnectTimeout() time.Duration { return cfg.connectTimeout }

// ReadTimeout returns the maximum wait for one reply line.
func (cfg *Config) ReadTimeout() time.Duration { return cfg.readTimeout }

// WriteTimeout returns the maximum wait for writing one line.
func (cfg *Config) WriteTimeout() time.Duration { return cfg.writeTimeout }

// ReconnectBackoff returns the fixed delay between failed connect attempts.
func (cfg *Config) ReconnectBackoff() time.Duration { return cfg.reconnectBackoff }

// MaxConnectAttempts returns the attempt limit of one Connect call. Zero means unbounded.
func (cfg *Config) MaxConnectAttempts() int { return cfg.maxConnectAttempts }

// MaxLineLength returns the size of the receive buffer bounding one reply line.
func (cfg *Config) MaxLineLength() int { return cfg.maxLineLength }

// Dialer returns the configured dialer, or the default TCP or serial dialer.
func (cfg *Config) Dialer() Dialer {
	if cfg.dialer != nil {
		return cfg.dialer
	}
	if cfg.IsSerial() {
		return NewSerialDialer(cfg.device, cfg.baudRate)
	}

	return NewTCPDialer(cfg.host, cfg.port)
}

// GetLogger returns the configured logger.
func (cfg *Config) GetLogger() logger.Logger { return cfg.logger }

// --- ConnOption ---

// ConnOption is a functional option for configuring a Config.
type ConnOption interface {
	apply(*Config) error
}

type connOptFunc func(*Config) error

func (f connOptFunc) apply(cfg *Config) error { return f(cfg) }

func checkTimeout(name string, d time.Duration) error {
	if d < MinTimeout || d > MaxTimeout {
		return fmt.Errorf("transport: %s timeout %v out of range [%v, %v]", name, d, MinTimeout, MaxTimeout)
	}

	return nil
}

// WithConnectTimeout sets the timeout of a single dial attempt.
func WithConnectTimeout(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		if err := checkTimeout("connect", d); err != nil {
			return err
		}
		cfg.connectTimeout = d

		return nil
	})
}

// WithReadTimeout sets the maximum wait for one reply line.
func WithReadTimeout(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		if err := checkTimeout("read", d); err != nil {
			return err
		}
		cfg.readTimeout = d

		return nil
	})
}

// WithWriteTimeout sets the maximum wait for writing one line.
func WithWriteTimeout(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		if err := checkTimeout("write", d); err != nil {
			return err
		}
		cfg.writeTimeout = d

		return nil
	})
}

// WithReconnectBackoff sets the fixed delay between failed connect attempts.
func WithReconnectBackoff(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		if d < MinReconnectBackoff || d > MaxReconnectBackoff {
			return fmt.Errorf("transport: reconnect backoff %v out of range [%v, %v]",
				d, MinReconnectBackoff, MaxReconnectBackoff)
		}
		cfg.reconnectBackoff = d

		return nil
	})
}

// WithMaxConnectAttempts bounds the number of dial attempts of one Connect call.
// Zero, the default, retries until the context is cancelled.
func WithMaxConnectAttempts(n int) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		if n < 0 {
			return errors.New("transport: max connect attempts must be >= 0")
		}
		cfg.maxConnectAttempts = n

		return nil
	})
}

// WithMaxLineLength sets the receive buffer size bounding one reply line.
func WithMaxLineLength(n int) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		if n < MinMaxLineLength || n > MaxMaxLineLength {
			return fmt.Errorf("transport: max line length %d out of range [%d, %d]",
				n, MinMaxLineLength, MaxMaxLineLength)
		}
		cfg.maxLineLength = n

		return nil
	})
}

// WithDialer overrides the dialer used to open connections.
func WithDialer(d Dialer) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		if d == nil {
			return errors.New("transport: dialer must not be nil")
		}
		cfg.dialer = d

		return nil
	})
}

// WithLogger sets the logger for the transport.
func WithLogger(l logger.Logger) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		if l == nil {
			return errors.New("transport: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}
