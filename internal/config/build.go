package config

import (
	"fmt"
	"os"

	"github.com/arloliu/go-esplink/esp302"
	"github.com/arloliu/go-esplink/link"
	"github.com/arloliu/go-esplink/logger"
	"github.com/arloliu/go-esplink/transport"
)

// NewLogger builds the configured logger. The returned function flushes and
// releases the log output.
func (c LoggingConfig) NewLogger() (logger.Logger, func(), error) {
	level, err := logger.ParseLevel(c.Level)
	if err != nil {
		return nil, nil, err
	}

	if c.Backend == "zap" {
		l := logger.NewZap(level, logger.ZapOptions{
			Format:     c.Format,
			Output:     c.Output,
			MaxSize:    c.MaxSize,
			MaxBackups: c.MaxBackups,
			MaxAge:     c.MaxAge,
			Compress:   c.Compress,
			AddCaller:  c.AddSource,
		})

		return l, func() { _ = l.Close() }, nil
	}

	out := os.Stdout
	if c.Output == "stderr" {
		out = os.Stderr
	}
	l := logger.NewSlogWriter(out, level, c.AddSource, c.Format == "console")

	return l, func() {}, nil
}

// TransportConfig builds the transport configuration of the device.
func (c *Config) TransportConfig(l logger.Logger) (*transport.Config, error) {
	opts := []transport.ConnOption{
		transport.WithConnectTimeout(c.Device.ConnectTimeout),
		transport.WithReadTimeout(c.Device.ReadTimeout),
		transport.WithWriteTimeout(c.Device.WriteTimeout),
		transport.WithReconnectBackoff(c.Device.ReconnectBackoff),
		transport.WithMaxConnectAttempts(c.Device.MaxConnectAttempts),
		transport.WithMaxLineLength(c.Device.MaxLineLength),
	}
	if l != nil {
		opts = append(opts, transport.WithLogger(l))
	}

	if c.Device.Transport == "serial" {
		cfg, err := transport.NewSerialConfig(c.Device.SerialDevice, c.Device.BaudRate, opts...)
		if err != nil {
			return nil, fmt.Errorf("device: %w", err)
		}

		return cfg, nil
	}

	host, port := c.Device.Host, c.Device.Port
	if c.Simulator.Enabled {
		var err error
		host, port, err = splitHostPort(c.Simulator.Addr)
		if err != nil {
			return nil, fmt.Errorf("simulator.addr: %w", err)
		}
	}

	cfg, err := transport.NewConfig(host, port, opts...)
	if err != nil {
		return nil, fmt.Errorf("device: %w", err)
	}

	return cfg, nil
}

// LinkOptions returns the dispatcher options.
func (c *Config) LinkOptions(l logger.Logger) []link.Option {
	opts := []link.Option{
		link.WithSettleDelay(c.Link.SettleDelay),
		link.WithQueueSize(c.Link.QueueSize),
	}
	if l != nil {
		opts = append(opts, link.WithLogger(l))
	}

	return opts
}

// ControllerOptions returns the ESP302 controller options.
func (c *Config) ControllerOptions(l logger.Logger) []esp302.Option {
	opts := []esp302.Option{esp302.WithAxes(c.Device.Axes)}
	if l != nil {
		opts = append(opts, esp302.WithLogger(l))
	}

	return opts
}
