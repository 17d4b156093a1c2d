package esp302

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/arloliu/go-esplink/link"
	"github.com/arloliu/go-esplink/logger"
)

// Command mnemonics.
const (
	MnemonicMoveAbsolute = "PA"
	MnemonicMoveRelative = "PR"
	MnemonicPosition     = "TP"
	MnemonicHome         = "OR"
	MnemonicStop         = "ST"
	MnemonicWaitStop     = "WS"
	MnemonicVelocity     = "VA"
	MnemonicAcceleration = "AC"
	MnemonicDeceleration = "AG"
	MnemonicMotorOn      = "MO"
	MnemonicMotorOff     = "MF"
	MnemonicDIOAssign    = "BM"
	MnemonicDIOEnable    = "BN"
	MnemonicDIODirection = "BO"
	MnemonicErrorCode    = "TE"
	MnemonicErrorMessage = "TB"
)

// Argument limits.
const (
	DefaultAxes = 2
	MaxAxes     = 3

	MaxDIOBit = 15

	MaxWaitStop = time.Hour
)

var (
	// MinVelocity and MaxVelocity bound SetVelocity.
	MinVelocity = decimal.Zero
	MaxVelocity = decimal.NewFromInt(100)
)

// ErrInvalidResponse indicates the device reply could not be parsed.
var ErrInvalidResponse = errors.New("esp302: invalid response")

// Submitter sends commands to the device. *link.Dispatcher implements it.
type Submitter interface {
	SubmitCommand(ctx context.Context, text string) error
	SubmitQuery(ctx context.Context, text string) (string, error)
}

var _ Submitter = (*link.Dispatcher)(nil)

// Controller issues ESP302 commands through a Submitter.
type Controller struct {
	sub    Submitter
	axes   int
	logger logger.Logger
}

// New creates a Controller for sub.
func New(sub Submitter, opts ...Option) (*Controller, error) {
	if sub == nil {
		return nil, errors.New("esp302: submitter is nil")
	}

	c := &Controller{
		sub:    sub,
		axes:   DefaultAxes,
		logger: logger.GetLogger(),
	}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.apply(c); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// Axes returns the number of configured axes.
func (c *Controller) Axes() int { return c.axes }

// MoveAbsolute moves axis to position.
func (c *Controller) MoveAbsolute(ctx context.Context, axis int, position decimal.Decimal) error {
	if err := c.validateAxis(axis); err != nil {
		return err
	}

	return c.sub.SubmitCommand(ctx, axisCommand(axis, MnemonicMoveAbsolute, FormatNumber(position)))
}

// MoveRelative moves axis by distance.
func (c *Controller) MoveRelative(ctx context.Context, axis int, distance decimal.Decimal) error {
	if err := c.validateAxis(axis); err != nil {
		return err
	}

	return c.sub.SubmitCommand(ctx, axisCommand(axis, MnemonicMoveRelative, FormatNumber(distance)))
}

// Position returns the actual position of axis.
func (c *Controller) Position(ctx context.Context, axis int) (decimal.Decimal, error) {
	if err := c.validateAxis(axis); err != nil {
		return decimal.Zero, err
	}

	resp, err := c.sub.SubmitQuery(ctx, axisCommand(axis, MnemonicPosition, ""))
	if err != nil {
		return decimal.Zero, err
	}

	return ParseNumber(resp)
}

// Home starts the origin search of axis.
func (c *Controller) Home(ctx context.Context, axis int) error {
	if err := c.validateAxis(axis); err != nil {
		return err
	}

	return c.sub.SubmitCommand(ctx, axisCommand(axis, MnemonicHome, ""))
}

// StopMotion stops motion on all axes.
func (c *Controller) StopMotion(ctx context.Context) error {
	return c.sub.SubmitCommand(ctx, MnemonicStop)
}

// StopAxis stops motion on one axis.
func (c *Controller) StopAxis(ctx context.Context, axis int) error {
	if err := c.validateAxis(axis); err != nil {
		return err
	}

	return c.sub.SubmitCommand(ctx, axisCommand(axis, MnemonicStop, ""))
}

// StopAll sends the stop command twice in a row.
// Both are attempted even if the first fails.
func (c *Controller) StopAll(ctx context.Context) error {
	first := c.sub.SubmitCommand(ctx, MnemonicStop)
	if first != nil {
		c.logger.Warn("first stop command failed", "error", first)
	}
	second := c.sub.SubmitCommand(ctx, MnemonicStop)

	return errors.Join(first, second)
}

// WaitStop makes the controller hold further commands until axis has stopped
// and delay has elapsed.
func (c *Controller) WaitStop(ctx context.Context, axis int, delay time.Duration) error {
	if err := c.validateAxis(axis); err != nil {
		return err
	}
	if delay < 0 || delay > MaxWaitStop {
		return fmt.Errorf("%w: wait stop delay %v out of range [0, %v]", link.ErrInvalidArgument, delay, MaxWaitStop)
	}

	return c.sub.SubmitCommand(ctx, axisCommand(axis, MnemonicWaitStop, strconv.FormatInt(delay.Milliseconds(), 10)))
}

// SetVelocity sets the velocity of axis, between MinVelocity and MaxVelocity.
func (c *Controller) SetVelocity(ctx context.Context, axis int, velocity decimal.Decimal) error {
	if err := c.validateAxis(axis); err != nil {
		return err
	}
	if velocity.LessThan(MinVelocity) || velocity.GreaterThan(MaxVelocity) {
		return fmt.Errorf("%w: velocity %s out of range [%s, %s]", link.ErrInvalidArgument, velocity, MinVelocity, MaxVelocity)
	}

	return c.sub.SubmitCommand(ctx, axisCommand(axis, MnemonicVelocity, FormatNumber(velocity)))
}

// SetAcceleration sets the acceleration of axis.
func (c *Controller) SetAcceleration(ctx context.Context, axis int, acceleration decimal.Decimal) error {
	if err := c.validateRate(axis, "acceleration", acceleration); err != nil {
		return err
	}

	return c.sub.SubmitCommand(ctx, axisCommand(axis, MnemonicAcceleration, FormatNumber(acceleration)))
}

// SetDeceleration sets the deceleration of axis.
func (c *Controller) SetDeceleration(ctx context.Context, axis int, deceleration decimal.Decimal) error {
	if err := c.validateRate(axis, "deceleration", deceleration); err != nil {
		return err
	}

	return c.sub.SubmitCommand(ctx, axisCommand(axis, MnemonicDeceleration, FormatNumber(deceleration)))
}

// MotorOn powers the motor of axis.
func (c *Controller) MotorOn(ctx context.Context, axis int) error {
	if err := c.validateAxis(axis); err != nil {
		return err
	}

	return c.sub.SubmitCommand(ctx, axisCommand(axis, MnemonicMotorOn, ""))
}

// MotorOff removes power from the motor of axis.
func (c *Controller) MotorOff(ctx context.Context, axis int) error {
	if err := c.validateAxis(axis); err != nil {
		return err
	}

	return c.sub.SubmitCommand(ctx, axisCommand(axis, MnemonicMotorOff, ""))
}

// AssignDIOMotionStatus assigns DIO bit to report the motion status of axis
// at level (0 or 1).
func (c *Controller) AssignDIOMotionStatus(ctx context.Context, axis int, bit int, level int) error {
	if err := c.validateAxis(axis); err != nil {
		return err
	}
	if bit < 0 || bit > MaxDIOBit {
		return fmt.Errorf("%w: DIO bit %d out of range [0, %d]", link.ErrInvalidArgument, bit, MaxDIOBit)
	}
	if level != 0 && level != 1 {
		return fmt.Errorf("%w: DIO level %d must be 0 or 1", link.ErrInvalidArgument, level)
	}

	return c.sub.SubmitCommand(ctx, axisCommand(axis, MnemonicDIOAssign, fmt.Sprintf("%d,%d", bit, level)))
}

// EnableDIOMotionStatus enables or disables the DIO motion status of axis.
func (c *Controller) EnableDIOMotionStatus(ctx context.Context, axis int, enable bool) error {
	if err := c.validateAxis(axis); err != nil {
		return err
	}

	param := "0"
	if enable {
		param = "1"
	}

	return c.sub.SubmitCommand(ctx, axisCommand(axis, MnemonicDIOEnable, param))
}

// SetDIOPortDirection sets the direction of the DIO ports, e.g. "03H".
func (c *Controller) SetDIOPortDirection(ctx context.Context, direction string) error {
	direction = strings.TrimSpace(direction)
	if direction == "" || !isAlnum(direction) {
		return fmt.Errorf("%w: invalid DIO port direction %q", link.ErrInvalidArgument, direction)
	}

	return c.sub.SubmitCommand(ctx, MnemonicDIODirection+direction)
}

// ErrorCode reads the oldest error code from the controller's error buffer.
// Zero means no error.
func (c *Controller) ErrorCode(ctx context.Context) (int, error) {
	resp, err := c.sub.SubmitQuery(ctx, MnemonicErrorCode)
	if err != nil {
		return 0, err
	}

	code, err := strconv.Atoi(strings.TrimSpace(resp))
	if err != nil {
		return 0, fmt.Errorf("%w: error code %q", ErrInvalidResponse, resp)
	}

	return code, nil
}

// ErrorMessage reads the oldest error from the controller's error buffer
// together with its timestamp and description.
func (c *Controller) ErrorMessage(ctx context.Context) (ErrorReport, error) {
	resp, err := c.sub.SubmitQuery(ctx, MnemonicErrorMessage)
	if err != nil {
		return ErrorReport{}, err
	}

	return ParseErrorReport(resp)
}

// Raw sends text as is, without reading a reply.
func (c *Controller) Raw(ctx context.Context, text string) error {
	return c.sub.SubmitCommand(ctx, text)
}

// RawQuery sends text as is and returns the reply line.
func (c *Controller) RawQuery(ctx context.Context, text string) (string, error) {
	return c.sub.SubmitQuery(ctx, text)
}

func (c *Controller) validateAxis(axis int) error {
	if axis < 1 || axis > c.axes {
		return fmt.Errorf("%w: axis %d out of range [1, %d]", link.ErrInvalidArgument, axis, c.axes)
	}

	return nil
}

func (c *Controller) validateRate(axis int, name string, v decimal.Decimal) error {
	if err := c.validateAxis(axis); err != nil {
		return err
	}
	if !v.IsPositive() {
		return fmt.Errorf("%w: %s %s must be positive", link.ErrInvalidArgument, name, v)
	}

	return nil
}

func axisCommand(axis int, mnemonic string, param string) string {
	return strconv.Itoa(axis) + mnemonic + param
}

func isAlnum(s string) bool {
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'A' || r > 'Z') && (r < 'a' || r > 'z') {
			return false
		}
	}

	return true
}
