package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-esplink/logger"
)

func TestMain(m *testing.M) {
	level, err := logger.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		level = logger.InfoLevel
	}
	logger.SetLevel(level)

	os.Exit(m.Run())
}

// lineServer is a loopback TCP server standing in for the device.
type lineServer struct {
	ln      net.Listener
	port    int
	accepts atomic.Int32
}

func startServer(t *testing.T, handle func(conn net.Conn)) *lineServer {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	tcpAddr, ok := ln.Addr().(*net.TCPAddr)
	require.True(t, ok)

	s := &lineServer{ln: ln, port: tcpAddr.Port}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			s.accepts.Add(1)

			go func() {
				defer conn.Close()
				handle(conn)
			}()
		}
	}()

	t.Cleanup(func() { _ = ln.Close() })

	return s
}

// ackHandler replies "<line>-ACK" padded with whitespace to every line.
func ackHandler(conn net.Conn) {
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		_, _ = fmt.Fprintf(conn, "  %s-ACK \r\n", strings.TrimSpace(line))
	}
}

// silentHandler reads and never replies.
func silentHandler(conn net.Conn) {
	_, _ = io.Copy(io.Discard, conn)
}

func newTestTransport(t *testing.T, port int, opts ...ConnOption) *Transport {
	t.Helper()

	cfg, err := NewConfig("127.0.0.1", port, opts...)
	require.NoError(t, err)

	tr, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })

	return tr
}

// fakeDialer fails a configured number of times before handing out connections.
type fakeDialer struct {
	mu       sync.Mutex
	failures int // remaining failures, negative fails forever
	dials    atomic.Int32
	newConn  func() Conn
}

var errRefused = errors.New("connection refused")

func (d *fakeDialer) Addr() string { return "fake:0" }

func (d *fakeDialer) Dial(ctx context.Context) (Conn, error) {
	d.dials.Add(1)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.failures != 0 {
		if d.failures > 0 {
			d.failures--
		}

		return nil, errRefused
	}

	return d.newConn(), nil
}

// pipeConn returns one end of an in-memory pipe; the other end is drained.
func pipeConn(t *testing.T) func() Conn {
	return func() Conn {
		client, server := net.Pipe()
		go silentHandler(server)
		t.Cleanup(func() {
			_ = client.Close()
			_ = server.Close()
		})

		return NewNetConn(client)
	}
}

// shortWriteConn accepts at most limit bytes per write and then fails.
type shortWriteConn struct {
	limit int
	err   error
}

func (c *shortWriteConn) Read([]byte) (int, error)            { return 0, io.EOF }
func (c *shortWriteConn) Close() error                        { return nil }
func (c *shortWriteConn) SetReadTimeout(time.Duration) error  { return nil }
func (c *shortWriteConn) SetWriteTimeout(time.Duration) error { return nil }

func (c *shortWriteConn) Write(p []byte) (int, error) {
	return min(len(p), c.limit), c.err
}
