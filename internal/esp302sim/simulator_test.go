package esp302sim

import (
	"bufio"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-esplink/esp302"
)

func TestSimulator_Handle(t *testing.T) {
	s := New()

	_, ok := s.Handle("1PA12.5")
	assert.False(t, ok)
	assert.True(t, decimal.RequireFromString("12.5").Equal(s.Position(1)))

	reply, ok := s.Handle("1TP")
	require.True(t, ok)
	assert.Equal(t, "12.50000", reply)

	s.Handle("1PR-2.5")
	reply, _ = s.Handle("1TP")
	assert.Equal(t, "10.00000", reply)

	s.Handle("1OR")
	assert.True(t, s.Position(1).IsZero())

	s.Handle("2MO")
	assert.True(t, s.MotorOn(2))
	reply, ok = s.Handle("2MO?")
	require.True(t, ok)
	assert.Equal(t, "1", reply)
	s.Handle("2MF")
	assert.False(t, s.MotorOn(2))

	s.Handle("1VA50")
	reply, _ = s.Handle("1VA?")
	assert.Equal(t, "50.0", reply)

	_, ok = s.Handle("ST")
	assert.False(t, ok)

	reply, ok = s.Handle("TE")
	require.True(t, ok)
	assert.Equal(t, "0", reply)
}

func TestSimulator_ErrorBuffer(t *testing.T) {
	s := New()

	s.Handle("3PA1")   // axis out of range for two axes
	s.Handle("1VA200") // velocity out of range
	s.Handle("1XX")    // unknown

	reply, _ := s.Handle("TE")
	assert.Equal(t, "9", reply)

	reply, _ = s.Handle("TB")
	report, err := esp302.ParseErrorReport(reply)
	require.NoError(t, err)
	assert.Equal(t, ErrCodeParamOutOfRange, report.Code)
	assert.Equal(t, "PARAMETER OUT OF RANGE", report.Message)

	reply, _ = s.Handle("TE")
	assert.Equal(t, "6", reply)

	reply, _ = s.Handle("TB")
	report, err = esp302.ParseErrorReport(reply)
	require.NoError(t, err)
	assert.True(t, report.OK())
}

func TestSimulator_ServesTCP(t *testing.T) {
	s := New(WithAxes(3))
	addr, err := s.Start("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("3PA7\r\n3TP\r\n"))
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "7.00000", strings.TrimSpace(line))

	assert.Equal(t, []string{"3PA7", "3TP"}, s.Received())
	assert.Equal(t, 1, s.ConnectionCount())
}

func TestSimulator_DropAfter(t *testing.T) {
	s := New()
	addr, err := s.Start("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	s.DropAfter(2)

	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("1TP\r\n"))
	require.NoError(t, err)

	r := bufio.NewReader(conn)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, err = r.ReadString('\n')
	require.NoError(t, err)

	_, err = conn.Write([]byte("2TP\r\n"))
	require.NoError(t, err)

	_, err = r.ReadString('\n')
	require.Error(t, err) // closed instead of replying
}

func TestSimulator_CloseIsIdempotent(t *testing.T) {
	s := New()
	_, err := s.Start("127.0.0.1:0")
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}
