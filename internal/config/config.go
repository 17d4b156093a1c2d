// Package config loads the esplinkd process configuration from a YAML file
// and ESPLINK_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/arloliu/go-esplink/esp302"
	"github.com/arloliu/go-esplink/link"
	"github.com/arloliu/go-esplink/logger"
	"github.com/arloliu/go-esplink/transport"
)

// EnvPrefix prefixes environment overrides, e.g. ESPLINK_DEVICE_HOST.
const EnvPrefix = "ESPLINK"

// Config represents the daemon configuration.
type Config struct {
	Device    DeviceConfig    `mapstructure:"device"`
	Link      LinkConfig      `mapstructure:"link"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Simulator SimulatorConfig `mapstructure:"simulator"`
}

// DeviceConfig describes how to reach the controller.
type DeviceConfig struct {
	// Transport is "tcp" or "serial".
	Transport          string        `mapstructure:"transport"`
	Host               string        `mapstructure:"host"`
	Port               int           `mapstructure:"port"`
	SerialDevice       string        `mapstructure:"serial_device"`
	BaudRate           int           `mapstructure:"baud_rate"`
	Axes               int           `mapstructure:"axes"`
	ConnectTimeout     time.Duration `mapstructure:"connect_timeout"`
	ReadTimeout        time.Duration `mapstructure:"read_timeout"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout"`
	ReconnectBackoff   time.Duration `mapstructure:"reconnect_backoff"`
	MaxConnectAttempts int           `mapstructure:"max_connect_attempts"`
	MaxLineLength      int           `mapstructure:"max_line_length"`
}

// LinkConfig configures the command dispatcher.
type LinkConfig struct {
	SettleDelay time.Duration `mapstructure:"settle_delay"`
	QueueSize   int           `mapstructure:"queue_size"`
	// WaitConnected makes startup block until the device is connected.
	WaitConnected bool `mapstructure:"wait_connected"`
}

// HTTPConfig configures the HTTP API.
type HTTPConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig selects and configures the logger backend.
type LoggingConfig struct {
	// Backend is "slog" or "zap".
	Backend string `mapstructure:"backend"`
	Level   string `mapstructure:"level"`
	// Format is "json" or "console".
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
	AddSource  bool   `mapstructure:"add_source"`
}

// SimulatorConfig runs an in-process ESP302 simulator, for development
// without hardware. When enabled the device connection targets it.
type SimulatorConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Load reads the configuration.
//
// If path is empty, "esplink.yaml" is searched in the working directory and
// /etc/esplink; a missing file is not an error. Environment variables
// override file values: device.host is read from ESPLINK_DEVICE_HOST.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("esplink")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/esplink")

		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Device defaults
	v.SetDefault("device.transport", "tcp")
	v.SetDefault("device.host", "192.168.123.90")
	v.SetDefault("device.port", 5001)
	v.SetDefault("device.serial_device", "")
	v.SetDefault("device.baud_rate", transport.DefaultBaudRate)
	v.SetDefault("device.axes", esp302.DefaultAxes)
	v.SetDefault("device.connect_timeout", transport.DefaultConnectTimeout)
	v.SetDefault("device.read_timeout", transport.DefaultReadTimeout)
	v.SetDefault("device.write_timeout", transport.DefaultWriteTimeout)
	v.SetDefault("device.reconnect_backoff", transport.DefaultReconnectBackoff)
	v.SetDefault("device.max_connect_attempts", transport.DefaultMaxConnectAttempts)
	v.SetDefault("device.max_line_length", transport.DefaultMaxLineLength)

	// Link defaults
	v.SetDefault("link.settle_delay", link.DefaultSettleDelay)
	v.SetDefault("link.queue_size", 256)
	v.SetDefault("link.wait_connected", false)

	// HTTP defaults
	v.SetDefault("http.enabled", true)
	v.SetDefault("http.addr", "127.0.0.1:8302")
	v.SetDefault("http.read_timeout", "10s")
	v.SetDefault("http.write_timeout", "30s")
	v.SetDefault("http.request_timeout", "20s")
	v.SetDefault("http.shutdown_timeout", "5s")

	// Logging defaults
	v.SetDefault("logging.backend", "slog")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", true)
	v.SetDefault("logging.add_source", false)

	// Simulator defaults
	v.SetDefault("simulator.enabled", false)
	v.SetDefault("simulator.addr", "127.0.0.1:5001")
}

// Validate checks the values that the component constructors do not.
func (c *Config) Validate() error {
	switch c.Device.Transport {
	case "tcp":
		if c.Device.Host == "" && !c.Simulator.Enabled {
			return errors.New("device.host is required for tcp transport")
		}
		if c.Device.Port < 1 || c.Device.Port > 65535 {
			return fmt.Errorf("device.port %d out of range [1, 65535]", c.Device.Port)
		}
	case "serial":
		if c.Device.SerialDevice == "" {
			return errors.New("device.serial_device is required for serial transport")
		}
		if c.Simulator.Enabled {
			return errors.New("simulator requires tcp transport")
		}
	default:
		return fmt.Errorf("device.transport must be one of: [tcp serial], got %q", c.Device.Transport)
	}

	if c.Device.Axes < 1 || c.Device.Axes > esp302.MaxAxes {
		return fmt.Errorf("device.axes %d out of range [1, %d]", c.Device.Axes, esp302.MaxAxes)
	}

	if c.Link.QueueSize < 0 {
		return errors.New("link.queue_size must be >= 0")
	}

	if c.HTTP.Enabled {
		if c.HTTP.Addr == "" {
			return errors.New("http.addr is required")
		}
		if c.HTTP.RequestTimeout <= 0 {
			return errors.New("http.request_timeout must be positive")
		}
	}

	validBackends := []string{"slog", "zap"}
	if !slices.Contains(validBackends, c.Logging.Backend) {
		return fmt.Errorf("logging.backend must be one of: %v", validBackends)
	}

	validFormats := []string{"json", "console"}
	if !slices.Contains(validFormats, c.Logging.Format) {
		return fmt.Errorf("logging.format must be one of: %v", validFormats)
	}

	if _, err := logger.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}

	if c.Simulator.Enabled && c.Simulator.Addr == "" {
		return errors.New("simulator.addr is required when the simulator is enabled")
	}

	return nil
}

func splitHostPort(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port %q", portStr)
	}
	if host == "" {
		host = "127.0.0.1"
	}

	return host, port, nil
}
