package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"time"
)

// DefaultKeepAlive is the TCP keep-alive period used by NewTCPDialer.
const DefaultKeepAlive = 30 * time.Second

// Conn is a byte-stream connection to the device.
type Conn interface {
	io.ReadWriteCloser

	// SetReadTimeout bounds the next reads to d from now. d <= 0 clears the bound.
	SetReadTimeout(d time.Duration) error
	// SetWriteTimeout bounds the next writes to d from now. d <= 0 clears the bound.
	SetWriteTimeout(d time.Duration) error
}

// Dialer opens connections to the device.
type Dialer interface {
	// Dial opens a new connection. The context carries the connect timeout.
	Dial(ctx context.Context) (Conn, error)
	// Addr describes the endpoint for logging.
	Addr() string
}

type tcpDialer struct {
	address string
	dialer  net.Dialer
}

var _ Dialer = (*tcpDialer)(nil)

// NewTCPDialer returns a Dialer that connects to host:port over TCP.
func NewTCPDialer(host string, port int) Dialer {
	return &tcpDialer{
		address: net.JoinHostPort(host, strconv.Itoa(port)),
		dialer:  net.Dialer{KeepAlive: DefaultKeepAlive},
	}
}

func (d *tcpDialer) Addr() string { return d.address }

func (d *tcpDialer) Dial(ctx context.Context) (Conn, error) {
	conn, err := d.dialer.DialContext(ctx, "tcp", d.address)
	if err != nil {
		return nil, err
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}

	return &netConn{Conn: conn}, nil
}

// netConn adapts a net.Conn to Conn.
type netConn struct {
	net.Conn
}

// NewNetConn wraps an established net.Conn, e.g. one end of net.Pipe.
func NewNetConn(conn net.Conn) Conn {
	return &netConn{Conn: conn}
}

func (c *netConn) SetReadTimeout(d time.Duration) error {
	if d <= 0 {
		return c.SetReadDeadline(time.Time{})
	}

	return c.SetReadDeadline(time.Now().Add(d))
}

func (c *netConn) SetWriteTimeout(d time.Duration) error {
	if d <= 0 {
		return c.SetWriteDeadline(time.Time{})
	}

	return c.SetWriteDeadline(time.Now().Add(d))
}

// Close resets TCP connections instead of lingering, so a device that accepts a
// single client frees its slot immediately.
func (c *netConn) Close() error {
	if tcpConn, ok := c.Conn.(*net.TCPConn); ok {
		_ = tcpConn.SetLinger(0)
	}

	err := c.Conn.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}

	return err
}
