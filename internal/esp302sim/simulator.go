// Package esp302sim simulates an ESP302 motion controller on a TCP port.
//
// Motion is instantaneous: a move command sets the position immediately. The
// simulator keeps an error buffer readable with TE and TB, and offers fault
// injection (dropped connections, silence) to exercise link recovery.
package esp302sim

import (
	"bufio"
	"errors"
	"net"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/arloliu/go-esplink/esp302"
	"github.com/arloliu/go-esplink/logger"
)

// Error codes reported through TE and TB.
const (
	ErrCodeNone            = 0
	ErrCodeUnknownCommand  = 6
	ErrCodeParamOutOfRange = 7
	ErrCodeParamMissing    = 8
	ErrCodeAxisOutOfRange  = 9
)

var errorMessages = map[int]string{
	ErrCodeNone:            "NO ERROR DETECTED",
	ErrCodeUnknownCommand:  "COMMAND DOES NOT EXIST",
	ErrCodeParamOutOfRange: "PARAMETER OUT OF RANGE",
	ErrCodeParamMissing:    "PARAMETER MISSING",
	ErrCodeAxisOutOfRange:  "AXIS NUMBER OUT OF RANGE",
}

var commandPattern = regexp.MustCompile(`^(\d?)([A-Za-z]{2})(\??)(.*)$`)

type axisState struct {
	position     decimal.Decimal
	velocity     decimal.Decimal
	acceleration decimal.Decimal
	deceleration decimal.Decimal
	motorOn      bool
}

// Simulator is an in-process ESP302 stand-in.
type Simulator struct {
	axes       int
	replyDelay time.Duration
	logger     logger.Logger
	started    time.Time

	mu        sync.Mutex
	state     []axisState
	errBuf    []esp302.ErrorReport
	received  []string
	dropAfter int
	silent    bool

	ln        net.Listener
	conns     map[net.Conn]struct{}
	connCount atomic.Int32
	closed    atomic.Bool
	wg        sync.WaitGroup
}

// New creates a simulator with every axis at position zero.
func New(opts ...Option) *Simulator {
	s := &Simulator{
		axes:    esp302.DefaultAxes,
		logger:  logger.GetLogger(),
		started: time.Now(),
		conns:   make(map[net.Conn]struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.state = make([]axisState, s.axes)
	for i := range s.state {
		s.state[i] = axisState{
			velocity:     decimal.NewFromInt(20),
			acceleration: decimal.NewFromInt(80),
			deceleration: decimal.NewFromInt(80),
		}
	}

	return s
}

// Start listens on addr (e.g. "127.0.0.1:0") and serves connections in the background.
func (s *Simulator) Start(addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	s.wg.Add(1)
	go s.acceptLoop(ln)

	s.logger.Info("esp302 simulator listening", "addr", ln.Addr().String(), "axes", s.axes)

	return ln.Addr(), nil
}

// Close stops listening and closes every connection.
func (s *Simulator) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	s.DropConnections()
	s.wg.Wait()

	if errors.Is(err, net.ErrClosed) {
		return nil
	}

	return err
}

// DropConnections closes every active connection, as a power glitch of the
// controller would.
func (s *Simulator) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for conn := range s.conns {
		_ = conn.Close()
	}
}

// DropAfter makes the simulator close the connection when it receives the
// n-th line from now on, without processing that line. Zero disables it.
func (s *Simulator) DropAfter(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dropAfter = n
}

// SetSilent makes the simulator swallow queries without replying.
func (s *Simulator) SetSilent(silent bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.silent = silent
}

// ConnectionCount returns the number of accepted connections.
func (s *Simulator) ConnectionCount() int {
	return int(s.connCount.Load())
}

// Received returns every line received so far.
func (s *Simulator) Received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.received...)
}

// Position returns the position of axis, or zero for an unknown axis.
func (s *Simulator) Position(axis int) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()

	if axis < 1 || axis > s.axes {
		return decimal.Zero
	}

	return s.state[axis-1].position
}

// MotorOn reports whether the motor of axis is powered.
func (s *Simulator) MotorOn(axis int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if axis < 1 || axis > s.axes {
		return false
	}

	return s.state[axis-1].motorOn
}

func (s *Simulator) acceptLoop(ln net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if !s.closed.Load() {
				s.logger.Error("simulator accept failed", "error", err)
			}

			return
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		s.connCount.Add(1)

		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

func (s *Simulator) serveConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	s.logger.Debug("simulator accepted connection", "remoteAddr", conn.RemoteAddr().String())

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}

		text := strings.TrimSpace(line)
		if text == "" {
			continue
		}

		if s.record(text) {
			s.logger.Debug("simulator dropping connection", "line", text)
			return
		}

		reply, ok := s.Handle(text)
		if !ok || s.isSilent() {
			continue
		}

		if s.replyDelay > 0 {
			time.Sleep(s.replyDelay)
		}
		if _, err := conn.Write([]byte(reply + "\r\n")); err != nil {
			return
		}
	}
}

// record stores text and reports whether the connection must be dropped.
func (s *Simulator) record(text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.received = append(s.received, text)
	if s.dropAfter <= 0 {
		return false
	}
	s.dropAfter--

	return s.dropAfter == 0
}

func (s *Simulator) isSilent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.silent
}

// Handle executes one command line and returns the reply, if the command has one.
func (s *Simulator) Handle(text string) (string, bool) {
	m := commandPattern.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		s.pushError(ErrCodeUnknownCommand)
		return "", false
	}

	axisStr, mnemonic, query, param := m[1], strings.ToUpper(m[2]), m[3] == "?", strings.TrimSpace(m[4])

	s.mu.Lock()
	defer s.mu.Unlock()

	switch mnemonic {
	case esp302.MnemonicStop, esp302.MnemonicWaitStop:
		if axisStr != "" {
			s.axisLocked(axisStr) // records an out of range axis
		}

		return "", false

	case esp302.MnemonicErrorCode:
		r := s.popErrorLocked()
		return strconv.Itoa(r.Code), true

	case esp302.MnemonicErrorMessage:
		return esp302.FormatErrorReport(s.popErrorLocked()), true

	case esp302.MnemonicDIODirection:
		if param == "" {
			s.pushErrorLocked(ErrCodeParamMissing)
		}

		return "", false
	}

	ax, ok := s.axisLocked(axisStr)
	if !ok {
		return "", false
	}

	switch mnemonic {
	case esp302.MnemonicPosition:
		return ax.position.StringFixed(5), true

	case esp302.MnemonicMoveAbsolute, esp302.MnemonicMoveRelative:
		if query {
			return ax.position.StringFixed(5), true
		}
		v, ok := s.numberLocked(param)
		if !ok {
			return "", false
		}
		if mnemonic == esp302.MnemonicMoveAbsolute {
			ax.position = v
		} else {
			ax.position = ax.position.Add(v)
		}

	case esp302.MnemonicHome:
		ax.position = decimal.Zero

	case esp302.MnemonicVelocity:
		if query {
			return ax.velocity.StringFixed(1), true
		}
		v, ok := s.numberLocked(param)
		if !ok {
			return "", false
		}
		if v.LessThan(esp302.MinVelocity) || v.GreaterThan(esp302.MaxVelocity) {
			s.pushErrorLocked(ErrCodeParamOutOfRange)
			return "", false
		}
		ax.velocity = v

	case esp302.MnemonicAcceleration, esp302.MnemonicDeceleration:
		target := &ax.acceleration
		if mnemonic == esp302.MnemonicDeceleration {
			target = &ax.deceleration
		}
		if query {
			return target.StringFixed(1), true
		}
		v, ok := s.numberLocked(param)
		if !ok {
			return "", false
		}
		*target = v

	case esp302.MnemonicMotorOn:
		if query {
			if ax.motorOn {
				return "1", true
			}
			return "0", true
		}
		ax.motorOn = true

	case esp302.MnemonicMotorOff:
		ax.motorOn = false

	case esp302.MnemonicDIOAssign, esp302.MnemonicDIOEnable:
		if param == "" {
			s.pushErrorLocked(ErrCodeParamMissing)
		}

	default:
		s.pushErrorLocked(ErrCodeUnknownCommand)
	}

	return "", false
}

func (s *Simulator) axisLocked(axisStr string) (*axisState, bool) {
	if axisStr == "" {
		s.pushErrorLocked(ErrCodeAxisOutOfRange)
		return nil, false
	}

	axis := int(axisStr[0] - '0')
	if axis < 1 || axis > s.axes {
		s.pushErrorLocked(ErrCodeAxisOutOfRange)
		return nil, false
	}

	return &s.state[axis-1], true
}

func (s *Simulator) numberLocked(param string) (decimal.Decimal, bool) {
	if param == "" {
		s.pushErrorLocked(ErrCodeParamMissing)
		return decimal.Zero, false
	}

	v, err := esp302.ParseNumber(param)
	if err != nil {
		s.pushErrorLocked(ErrCodeParamOutOfRange)
		return decimal.Zero, false
	}

	return v, true
}

func (s *Simulator) pushError(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pushErrorLocked(code)
}

func (s *Simulator) pushErrorLocked(code int) {
	s.errBuf = append(s.errBuf, esp302.ErrorReport{
		Code:      code,
		Timestamp: uint64(time.Since(s.started).Milliseconds()), //nolint:gosec
		Message:   errorMessages[code],
	})
}

func (s *Simulator) popErrorLocked() esp302.ErrorReport {
	if len(s.errBuf) == 0 {
		return esp302.ErrorReport{
			Code:      ErrCodeNone,
			Timestamp: uint64(time.Since(s.started).Milliseconds()), //nolint:gosec
			Message:   errorMessages[ErrCodeNone],
		}
	}

	r := s.errBuf[0]
	s.errBuf = s.errBuf[1:]

	return r
}
