package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/arloliu/go-esplink/internal/pool"
	"github.com/arloliu/go-esplink/logger"
)

// Transport is a line-oriented connection to a device that is replaced
// wholesale on every reconnect.
type Transport struct {
	cfg      *Config
	dialer   Dialer
	logger   logger.Logger
	stateMgr *StateMgr
	metrics  Metrics

	connMu sync.Mutex
	conn   Conn
	reader *bufio.Reader

	closed    atomic.Bool
	closeCh   chan struct{}
	closeOnce sync.Once
}

// New creates a Transport in the Disconnected state. No connection is opened
// until Connect is called.
func New(cfg *Config) (*Transport, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}

	l := cfg.GetLogger().With("addr", cfg.Addr())
	t := &Transport{
		cfg:      cfg,
		dialer:   cfg.Dialer(),
		logger:   l,
		stateMgr: NewStateMgr(l),
		closeCh:  make(chan struct{}),
	}

	return t, nil
}

// Config returns the transport configuration.
func (t *Transport) Config() *Config { return t.cfg }

// Addr returns the device endpoint.
func (t *Transport) Addr() string { return t.cfg.Addr() }

// State returns the current connection state.
func (t *Transport) State() State { return t.stateMgr.State() }

// WaitState blocks until the connection reaches state or ctx is done.
func (t *Transport) WaitState(ctx context.Context, state State) error {
	return t.stateMgr.WaitState(ctx, state)
}

// AddStateHandler registers handlers invoked on every state change.
func (t *Transport) AddStateHandler(handlers ...StateChangeHandler) {
	t.stateMgr.AddHandler(handlers...)
}

// Metrics returns the transport metrics.
func (t *Transport) Metrics() *Metrics { return &t.metrics }

// Connect discards any existing connection and dials a new one.
//
// A failed attempt is retried after the reconnect backoff until a dial
// succeeds, ctx is done, the Transport is closed, or MaxConnectAttempts is
// reached. On cancellation the state becomes Disconnected and ctx.Err() is
// returned. When the attempt limit is exhausted the state becomes Faulted and
// the returned error matches ErrDeviceUnreachable.
func (t *Transport) Connect(ctx context.Context) error {
	if t.closed.Load() {
		return ErrTransportClosed
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-t.closeCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	t.dropConn()
	t.stateMgr.set(Connecting)
	t.metrics.resetConnRetryGauge()

	maxAttempts := t.cfg.MaxConnectAttempts()
	for attempt := 1; ; attempt++ {
		t.metrics.incConnAttemptCount()

		err := t.tryConnect(ctx)
		if err == nil {
			t.metrics.incConnectCount()
			t.metrics.resetConnRetryGauge()
			t.logger.Info("connected to device", "attempt", attempt)
			t.stateMgr.set(Connected)

			return nil
		}

		if errors.Is(err, ErrTransportClosed) || ctx.Err() != nil {
			return t.abortConnect(ctx)
		}

		t.metrics.incConnRetryGauge()

		if maxAttempts > 0 && attempt >= maxAttempts {
			t.logger.Error("device unreachable", "attempts", attempt, "error", err)
			t.stateMgr.set(Faulted)

			return fmt.Errorf("%w: %s after %d attempts: %w", ErrDeviceUnreachable, t.Addr(), attempt, err)
		}

		t.logger.Warn("failed to connect to device",
			"attempt", attempt,
			"retryIn", t.cfg.ReconnectBackoff(),
			"error", err,
		)

		if err := pool.Sleep(ctx, t.cfg.ReconnectBackoff()); err != nil {
			return t.abortConnect(ctx)
		}
	}
}

func (t *Transport) abortConnect(ctx context.Context) error {
	t.stateMgr.set(Disconnected)

	if t.closed.Load() {
		return ErrTransportClosed
	}

	t.logger.Debug("connect cancelled", "error", ctx.Err())

	return ctx.Err()
}

func (t *Transport) tryConnect(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, t.cfg.ConnectTimeout())
	defer cancel()

	conn, err := t.dialer.Dial(dialCtx)
	if err != nil {
		t.logger.Debug("dial failed", "error", err)
		return err
	}

	t.connMu.Lock()
	defer t.connMu.Unlock()

	if t.closed.Load() {
		_ = conn.Close()
		return ErrTransportClosed
	}

	t.conn = conn
	t.reader = bufio.NewReaderSize(conn, t.cfg.MaxLineLength())

	return nil
}

// dropConn closes the current connection, if any.
func (t *Transport) dropConn() {
	t.connMu.Lock()
	conn := t.conn
	t.conn = nil
	t.reader = nil
	t.connMu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			t.logger.Debug("failed to close previous connection", "error", err)
		}
	}
}

func (t *Transport) current() (Conn, *bufio.Reader) {
	t.connMu.Lock()
	defer t.connMu.Unlock()

	return t.conn, t.reader
}

// SendLine writes text followed by CR LF within the write timeout.
//
// Every failure is returned as a *Fault carrying the number of bytes written
// and moves the state to Faulted. SendLine never reconnects.
func (t *Transport) SendLine(text string) error {
	buf := make([]byte, 0, len(text)+2)
	buf = append(buf, text...)
	buf = append(buf, '\r', '\n')

	conn, _ := t.current()
	if conn == nil {
		return t.fault(OpWrite, 0, len(buf), ErrNotConnected)
	}

	if err := conn.SetWriteTimeout(t.cfg.WriteTimeout()); err != nil {
		return t.fault(OpWrite, 0, len(buf), err)
	}

	n, err := conn.Write(buf)
	if err == nil && n < len(buf) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return t.fault(OpWrite, n, len(buf), err)
	}

	t.metrics.addSent(n)
	t.logger.Debug("line sent", "line", text)

	return nil
}

// ReadLine waits up to the read timeout for one reply line and returns it with
// surrounding whitespace removed.
//
// A line longer than MaxLineLength is truncated to that length and the rest is
// discarded. A blank line yields ErrEmptyResponse and leaves the connection
// Connected. If the peer closes the stream before a non-blank line arrives,
// ErrEmptyResponse is returned and the state becomes Faulted. Timeouts and
// I/O errors are returned as *Fault.
func (t *Transport) ReadLine() (string, error) {
	conn, reader := t.current()
	if conn == nil {
		return "", t.fault(OpRead, 0, 0, ErrNotConnected)
	}

	if err := conn.SetReadTimeout(t.cfg.ReadTimeout()); err != nil {
		return "", t.fault(OpRead, 0, 0, err)
	}

	line, err := reader.ReadSlice('\n')
	switch {
	case err == nil:
		return t.nonBlank(t.received(line))

	case errors.Is(err, bufio.ErrBufferFull):
		text := t.received(line)
		t.discardRest(reader)

		return t.nonBlank(text)

	case errors.Is(err, io.EOF):
		if len(line) > 0 {
			if text := t.received(line); text != "" {
				return text, nil
			}
		}

		t.metrics.incEmptyResponseCount()
		t.logger.Warn("device closed the connection before replying")
		t.stateMgr.set(Faulted)

		return "", ErrEmptyResponse

	default:
		return "", t.fault(OpRead, 0, 0, err)
	}
}

func (t *Transport) received(line []byte) string {
	t.metrics.addRecv(len(line))
	text := strings.TrimSpace(string(line))
	t.logger.Debug("line received", "line", text)

	return text
}

func (t *Transport) nonBlank(text string) (string, error) {
	if text != "" {
		return text, nil
	}

	t.metrics.incEmptyResponseCount()
	t.logger.Warn("device replied with a blank line")

	return "", ErrEmptyResponse
}

// discardRest skips the remainder of an oversized line. If the terminator does
// not arrive in time the stream position is unknown, so the connection is
// marked Faulted and replaced before the next command.
func (t *Transport) discardRest(reader *bufio.Reader) {
	for {
		_, err := reader.ReadSlice('\n')
		if err == nil {
			return
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}

		t.logger.Warn("reply exceeded max line length without terminator",
			"maxLineLength", t.cfg.MaxLineLength(), "error", err)
		t.stateMgr.set(Faulted)

		return
	}
}

func (t *Transport) fault(op string, written int, total int, err error) *Fault {
	t.metrics.incFaultCount()
	t.logger.Warn("transport fault", "op", op, "written", written, "error", err)
	t.stateMgr.set(Faulted)

	return &Fault{Op: op, Written: written, Total: total, Err: err}
}

// Close closes the connection and cancels a running Connect.
// It is idempotent; a closed Transport refuses Connect.
func (t *Transport) Close() error {
	t.connMu.Lock()
	t.closed.Store(true)
	conn := t.conn
	t.conn = nil
	t.reader = nil
	t.connMu.Unlock()

	t.closeOnce.Do(func() { close(t.closeCh) })

	var err error
	if conn != nil {
		err = conn.Close()
		t.logger.Info("connection closed")
	}

	t.stateMgr.set(Disconnected)

	return err
}

// IsClosed reports whether Close has been called.
func (t *Transport) IsClosed() bool { return t.closed.Load() }
