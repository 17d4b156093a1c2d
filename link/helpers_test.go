package link

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-esplink/logger"
	"github.com/arloliu/go-esplink/transport"
)

func TestMain(m *testing.M) {
	level, err := logger.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		level = logger.InfoLevel
	}
	logger.SetLevel(level)

	os.Exit(m.Run())
}

type sentLine struct {
	gen  int
	text string
}

// fakeTransport records every line per connection generation and answers
// reads through a reply function.
type fakeTransport struct {
	mu    sync.Mutex
	state transport.State
	gen   int

	connects        int
	connectFailures int           // remaining connects that report the device unreachable
	connectBlock    chan struct{} // Connect waits for this channel when set

	sendBlock   chan struct{} // SendLine waits for this channel when set
	writes      int
	failWriteAt int // 1-based write index that faults
	failWritten int // bytes reported written by the faulting write
	sent        []sentLine
	lastSent    string
	reads       int

	reply     func(text string) (string, error)
	readBlock bool
	onSend    func(text string)

	closed  bool
	closeCh chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		state:   transport.Disconnected,
		closeCh: make(chan struct{}),
		reply:   ackReply,
	}
}

func ackReply(text string) (string, error) {
	return "  " + text + "-ACK \r\n", nil
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return transport.ErrTransportClosed
	}
	f.connects++
	f.state = transport.Connecting
	block := f.connectBlock
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			f.setState(transport.Disconnected)
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.connectFailures > 0 {
		f.connectFailures--
		f.state = transport.Faulted

		return fmt.Errorf("%w: fake after 1 attempts", transport.ErrDeviceUnreachable)
	}

	f.gen++
	f.state = transport.Connected

	return nil
}

func (f *fakeTransport) SendLine(text string) error {
	total := len(text) + 2

	f.mu.Lock()
	block := f.sendBlock
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-f.closeCh:
			return &transport.Fault{Op: transport.OpWrite, Written: 2, Total: total, Err: net.ErrClosed}
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != transport.Connected {
		return &transport.Fault{Op: transport.OpWrite, Total: total, Err: transport.ErrNotConnected}
	}

	f.writes++
	if f.onSend != nil {
		f.onSend(text)
	}

	if f.failWriteAt == f.writes {
		f.state = transport.Faulted
		return &transport.Fault{
			Op:      transport.OpWrite,
			Written: f.failWritten,
			Total:   total,
			Err:     errors.New("connection reset by peer"),
		}
	}

	f.sent = append(f.sent, sentLine{gen: f.gen, text: text})
	f.lastSent = text

	return nil
}

func (f *fakeTransport) ReadLine() (string, error) {
	f.mu.Lock()
	f.reads++
	reply, last, block := f.reply, f.lastSent, f.readBlock
	f.mu.Unlock()

	if block {
		<-f.closeCh
		f.setState(transport.Faulted)

		return "", &transport.Fault{Op: transport.OpRead, Err: net.ErrClosed}
	}

	resp, err := reply(last)
	if err != nil {
		f.setState(transport.Faulted)
		return "", err
	}

	return strings.TrimSpace(resp), nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.closed {
		f.closed = true
		close(f.closeCh)
	}
	f.state = transport.Disconnected

	return nil
}

func (f *fakeTransport) State() transport.State {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.state
}

func (f *fakeTransport) setState(s transport.State) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.state = s
}

func (f *fakeTransport) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.connects
}

func (f *fakeTransport) sentLines() []sentLine {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]sentLine(nil), f.sent...)
}

func (f *fakeTransport) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.reads
}

func newTestDispatcher(t *testing.T, tr Transport, opts ...Option) *Dispatcher {
	t.Helper()

	opts = append([]Option{WithSettleDelay(0)}, opts...)
	d, err := New(tr, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	return d
}

func openTestDispatcher(t *testing.T, tr Transport, opts ...Option) *Dispatcher {
	t.Helper()

	d := newTestDispatcher(t, tr, opts...)
	require.NoError(t, d.Open(context.Background(), true))

	return d
}

// lineDevice is a loopback TCP peer answering each received line with
// reply(line) followed by CR LF.
type lineDevice struct {
	port    int
	accepts atomic.Int32
}

func startLineDevice(t *testing.T, reply func(line string) string) *lineDevice {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	tcpAddr, ok := ln.Addr().(*net.TCPAddr)
	require.True(t, ok)

	dev := &lineDevice{port: tcpAddr.Port}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			dev.accepts.Add(1)

			go func() {
				defer conn.Close()

				r := bufio.NewReader(conn)
				for {
					line, err := r.ReadString('\n')
					if err != nil {
						return
					}
					if _, err := conn.Write([]byte(reply(strings.TrimSpace(line)) + "\r\n")); err != nil {
						return
					}
				}
			}()
		}
	}()

	return dev
}

func newTCPTransport(t *testing.T, port int) *transport.Transport {
	t.Helper()

	cfg, err := transport.NewConfig("127.0.0.1", port,
		transport.WithReadTimeout(time.Second),
		transport.WithReconnectBackoff(10*time.Millisecond),
	)
	require.NoError(t, err)

	tr, err := transport.New(cfg)
	require.NoError(t, err)

	return tr
}
