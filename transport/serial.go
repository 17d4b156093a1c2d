package transport

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.bug.st/serial"
)

// serialPort is the subset of serial.Port used by the transport.
type serialPort interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// openSerialPort is replaced in tests.
var openSerialPort = func(name string, mode *serial.Mode) (serialPort, error) {
	return serial.Open(name, mode)
}

type serialDialer struct {
	device string
	mode   *serial.Mode
}

var _ Dialer = (*serialDialer)(nil)

// NewSerialDialer returns a Dialer that opens device at baudRate, 8N1.
func NewSerialDialer(device string, baudRate int) Dialer {
	return &serialDialer{
		device: device,
		mode: &serial.Mode{
			BaudRate: baudRate,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		},
	}
}

func (d *serialDialer) Addr() string { return d.device }

func (d *serialDialer) Dial(ctx context.Context) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	port, err := openSerialPort(d.device, d.mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", d.device, err)
	}

	// drop stale bytes left over from a previous session
	if err := port.ResetInputBuffer(); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("reset serial input buffer %s: %w", d.device, err)
	}

	return &serialConn{port: port}, nil
}

// serialConn adapts a serial port to Conn.
//
// The serial driver signals an expired read timeout with a zero-byte read;
// serialConn reports that as os.ErrDeadlineExceeded like a socket would.
type serialConn struct {
	port serialPort
}

func (c *serialConn) Read(p []byte) (int, error) {
	n, err := c.port.Read(p)
	if n == 0 && err == nil && len(p) > 0 {
		return 0, os.ErrDeadlineExceeded
	}

	return n, err
}

func (c *serialConn) Write(p []byte) (int, error) {
	return c.port.Write(p)
}

func (c *serialConn) Close() error {
	return c.port.Close()
}

func (c *serialConn) SetReadTimeout(d time.Duration) error {
	if d <= 0 {
		return c.port.SetReadTimeout(serial.NoTimeout)
	}

	return c.port.SetReadTimeout(d)
}

// SetWriteTimeout is a no-op; serial writes complete once the driver buffers them.
func (c *serialConn) SetWriteTimeout(time.Duration) error {
	return nil
}
