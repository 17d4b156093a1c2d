package transport

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransport_SendAndReadLine(t *testing.T) {
	srv := startServer(t, ackHandler)
	tr := newTestTransport(t, srv.port)

	require.NoError(t, tr.Connect(context.Background()))
	assert.Equal(t, Connected, tr.State())

	require.NoError(t, tr.SendLine("1TP"))
	reply, err := tr.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "1TP-ACK", reply)

	require.NoError(t, tr.SendLine("2TP"))
	reply, err = tr.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "2TP-ACK", reply)

	m := tr.Metrics()
	assert.Equal(t, uint64(1), m.ConnectCount.Load())
	assert.Equal(t, uint64(2), m.LineSendCount.Load())
	assert.Equal(t, uint64(2), m.LineRecvCount.Load())
	assert.Equal(t, uint64(10), m.ByteSendCount.Load())
}

func TestTransport_SendLineAppendsCRLF(t *testing.T) {
	received := make(chan []byte, 1)
	srv := startServer(t, func(conn net.Conn) {
		buf := make([]byte, 7)
		if _, err := io.ReadFull(conn, buf); err == nil {
			received <- buf
		}
	})
	tr := newTestTransport(t, srv.port)
	require.NoError(t, tr.Connect(context.Background()))

	require.NoError(t, tr.SendLine("1PA10"))

	select {
	case got := <-received:
		assert.Equal(t, []byte("1PA10\r\n"), got)
	case <-time.After(time.Second):
		t.Fatal("server did not receive the line")
	}
}

func TestTransport_ReadTimeout(t *testing.T) {
	srv := startServer(t, silentHandler)
	tr := newTestTransport(t, srv.port, WithReadTimeout(50*time.Millisecond))
	require.NoError(t, tr.Connect(context.Background()))
	require.NoError(t, tr.SendLine("1TP"))

	start := time.Now()
	_, err := tr.ReadLine()
	require.ErrorIs(t, err, ErrTransportFault)
	assert.Less(t, time.Since(start), time.Second)

	var fault *Fault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, OpRead, fault.Op)
	assert.True(t, fault.Timeout())
	assert.Equal(t, Faulted, tr.State())
	assert.Equal(t, uint64(1), tr.Metrics().FaultCount.Load())
}

func TestTransport_PeerClosedIsEmptyResponse(t *testing.T) {
	srv := startServer(t, func(conn net.Conn) {
		r := bufio.NewReader(conn)
		_, _ = r.ReadString('\n')
		// close without replying
	})
	tr := newTestTransport(t, srv.port)
	require.NoError(t, tr.Connect(context.Background()))
	require.NoError(t, tr.SendLine("1TP"))

	_, err := tr.ReadLine()
	require.ErrorIs(t, err, ErrEmptyResponse)
	require.NotErrorIs(t, err, ErrTransportFault)
	assert.Equal(t, Faulted, tr.State())
	assert.Equal(t, uint64(1), tr.Metrics().EmptyResponseCount.Load())
}

func TestTransport_BlankReplyIsEmptyResponse(t *testing.T) {
	srv := startServer(t, func(conn net.Conn) {
		r := bufio.NewReader(conn)
		if _, err := r.ReadString('\n'); err != nil {
			return
		}
		_, _ = conn.Write([]byte(" \r\n"))
		ackHandler(conn)
	})
	tr := newTestTransport(t, srv.port)
	require.NoError(t, tr.Connect(context.Background()))
	require.NoError(t, tr.SendLine("1TP"))

	resp, err := tr.ReadLine()
	require.ErrorIs(t, err, ErrEmptyResponse)
	require.NotErrorIs(t, err, ErrTransportFault)
	assert.Empty(t, resp)
	assert.Equal(t, Connected, tr.State())
	assert.Equal(t, uint64(1), tr.Metrics().EmptyResponseCount.Load())

	// the connection stays usable
	require.NoError(t, tr.SendLine("2TP"))
	resp, err = tr.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "2TP-ACK", resp)
	assert.Equal(t, int32(1), srv.accepts.Load())
}

func TestTransport_LongLineIsBounded(t *testing.T) {
	srv := startServer(t, func(conn net.Conn) {
		_, _ = conn.Write([]byte(strings.Repeat("a", 100) + "\r\nnext\r\n"))
		silentHandler(conn)
	})
	tr := newTestTransport(t, srv.port, WithMaxLineLength(16))
	require.NoError(t, tr.Connect(context.Background()))

	first, err := tr.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("a", 16), first)

	second, err := tr.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "next", second)
	assert.Equal(t, Connected, tr.State())
}

func TestTransport_SendWithoutConnection(t *testing.T) {
	tr := newTestTransport(t, 5001, WithDialer(&fakeDialer{failures: -1}))

	err := tr.SendLine("1TP")
	require.ErrorIs(t, err, ErrTransportFault)
	require.ErrorIs(t, err, ErrNotConnected)

	_, err = tr.ReadLine()
	require.ErrorIs(t, err, ErrTransportFault)
}

func TestTransport_PartialWriteFault(t *testing.T) {
	writeErr := errors.New("broken pipe")
	d := &fakeDialer{newConn: func() Conn { return &shortWriteConn{limit: 3, err: writeErr} }}
	tr := newTestTransport(t, 5001, WithDialer(d))
	require.NoError(t, tr.Connect(context.Background()))

	err := tr.SendLine("1PA10")
	require.ErrorIs(t, err, ErrTransportFault)
	require.ErrorIs(t, err, writeErr)

	var fault *Fault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, OpWrite, fault.Op)
	assert.Equal(t, 3, fault.Written)
	assert.Equal(t, 7, fault.Total)
	assert.False(t, fault.Timeout())
	assert.Contains(t, fault.Error(), "3/7")
	assert.Equal(t, Faulted, tr.State())
}

func TestTransport_ConnectRetriesWithBackoff(t *testing.T) {
	d := &fakeDialer{failures: 2, newConn: pipeConn(t)}
	tr := newTestTransport(t, 5001,
		WithDialer(d),
		WithReconnectBackoff(20*time.Millisecond),
	)

	start := time.Now()
	require.NoError(t, tr.Connect(context.Background()))

	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	assert.Equal(t, int32(3), d.dials.Load())
	assert.Equal(t, Connected, tr.State())
	assert.Equal(t, uint64(3), tr.Metrics().ConnAttemptCount.Load())
	assert.Equal(t, uint32(0), tr.Metrics().ConnRetryGauge.Load())
}

func TestTransport_ConnectUnreachable(t *testing.T) {
	var (
		mu     sync.Mutex
		states []State
	)

	d := &fakeDialer{failures: -1}
	tr := newTestTransport(t, 5001,
		WithDialer(d),
		WithReconnectBackoff(5*time.Millisecond),
		WithMaxConnectAttempts(3),
	)
	tr.AddStateHandler(func(_, cur State) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, cur)
	})

	err := tr.Connect(context.Background())
	require.ErrorIs(t, err, ErrDeviceUnreachable)
	require.ErrorIs(t, err, errRefused)
	assert.Equal(t, int32(3), d.dials.Load())
	assert.Equal(t, Faulted, tr.State())
	assert.Equal(t, uint32(3), tr.Metrics().ConnRetryGauge.Load())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{Connecting, Faulted}, states)
}

func TestTransport_ConnectCancelled(t *testing.T) {
	d := &fakeDialer{failures: -1}
	tr := newTestTransport(t, 5001, WithDialer(d), WithReconnectBackoff(time.Minute))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := tr.Connect(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, Disconnected, tr.State())
}

func TestTransport_CloseCancelsConnect(t *testing.T) {
	d := &fakeDialer{failures: -1}
	tr := newTestTransport(t, 5001, WithDialer(d), WithReconnectBackoff(time.Minute))

	done := make(chan error, 1)
	go func() { done <- tr.Connect(context.Background()) }()

	require.Eventually(t, func() bool { return d.dials.Load() >= 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, tr.Close())

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrTransportClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Connect was not cancelled by Close")
	}

	assert.True(t, tr.IsClosed())
	assert.Equal(t, Disconnected, tr.State())
	require.ErrorIs(t, tr.Connect(context.Background()), ErrTransportClosed)
	require.NoError(t, tr.Close())
}

func TestTransport_ReconnectReplacesConnection(t *testing.T) {
	closedConns := make(chan struct{}, 4)
	srv := startServer(t, func(conn net.Conn) {
		silentHandler(conn)
		closedConns <- struct{}{}
	})
	tr := newTestTransport(t, srv.port)

	require.NoError(t, tr.Connect(context.Background()))
	require.NoError(t, tr.Connect(context.Background()))
	require.Eventually(t, func() bool { return srv.accepts.Load() == 2 }, time.Second, 5*time.Millisecond)

	select {
	case <-closedConns:
	case <-time.After(time.Second):
		t.Fatal("previous connection was not closed")
	}

	require.NoError(t, tr.SendLine("1TP"))
	assert.Equal(t, uint64(2), tr.Metrics().ConnectCount.Load())
}

func TestTransport_ConnectRefusedByRealListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port //nolint:forcetypeassert
	require.NoError(t, ln.Close())

	tr := newTestTransport(t, port,
		WithReconnectBackoff(5*time.Millisecond),
		WithMaxConnectAttempts(2),
	)

	err = tr.Connect(context.Background())
	require.ErrorIs(t, err, ErrDeviceUnreachable)
}

func TestNew_NilConfig(t *testing.T) {
	_, err := New(nil)
	require.ErrorIs(t, err, ErrConfigNil)
}
