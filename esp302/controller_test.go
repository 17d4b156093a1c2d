package esp302

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-esplink/link"
)

type call struct {
	text  string
	query bool
}

type fakeSubmitter struct {
	calls   []call
	replies map[string]string
	err     error
}

func (f *fakeSubmitter) SubmitCommand(_ context.Context, text string) error {
	f.calls = append(f.calls, call{text: text})
	return f.err
}

func (f *fakeSubmitter) SubmitQuery(_ context.Context, text string) (string, error) {
	f.calls = append(f.calls, call{text: text, query: true})
	if f.err != nil {
		return "", f.err
	}

	return f.replies[text], nil
}

func newTestController(t *testing.T, opts ...Option) (*Controller, *fakeSubmitter) {
	t.Helper()

	sub := &fakeSubmitter{replies: map[string]string{}}
	c, err := New(sub, opts...)
	require.NoError(t, err)

	return c, sub
}

func TestController_CommandFormatting(t *testing.T) {
	ctx := context.Background()
	c, sub := newTestController(t)

	require.NoError(t, c.MoveAbsolute(ctx, 1, decimal.RequireFromString("10.0")))
	require.NoError(t, c.MoveAbsolute(ctx, 2, decimal.RequireFromString("-3.25")))
	require.NoError(t, c.MoveRelative(ctx, 1, decimal.NewFromFloat(0.5)))
	require.NoError(t, c.Home(ctx, 2))
	require.NoError(t, c.StopMotion(ctx))
	require.NoError(t, c.StopAxis(ctx, 1))
	require.NoError(t, c.WaitStop(ctx, 1, 250*time.Millisecond))
	require.NoError(t, c.SetVelocity(ctx, 1, decimal.NewFromInt(20)))
	require.NoError(t, c.SetAcceleration(ctx, 1, decimal.NewFromInt(80)))
	require.NoError(t, c.SetDeceleration(ctx, 2, decimal.RequireFromString("40.5")))
	require.NoError(t, c.MotorOn(ctx, 1))
	require.NoError(t, c.MotorOff(ctx, 2))
	require.NoError(t, c.AssignDIOMotionStatus(ctx, 1, 15, 1))
	require.NoError(t, c.EnableDIOMotionStatus(ctx, 1, true))
	require.NoError(t, c.EnableDIOMotionStatus(ctx, 2, false))
	require.NoError(t, c.SetDIOPortDirection(ctx, "03H"))
	require.NoError(t, c.Raw(ctx, "1DH"))

	expected := []call{
		{text: "1PA10"},
		{text: "2PA-3.25"},
		{text: "1PR0.5"},
		{text: "2OR"},
		{text: "ST"},
		{text: "1ST"},
		{text: "1WS250"},
		{text: "1VA20"},
		{text: "1AC80"},
		{text: "2AG40.5"},
		{text: "1MO"},
		{text: "2MF"},
		{text: "1BM15,1"},
		{text: "1BN1"},
		{text: "2BN0"},
		{text: "BO03H"},
		{text: "1DH"},
	}
	assert.Equal(t, expected, sub.calls)
}

func TestController_StopAllSendsTwice(t *testing.T) {
	c, sub := newTestController(t)
	require.NoError(t, c.StopAll(context.Background()))
	assert.Equal(t, []call{{text: "ST"}, {text: "ST"}}, sub.calls)

	sub.calls = nil
	sub.err = link.ErrLinkFault
	err := c.StopAll(context.Background())
	require.ErrorIs(t, err, link.ErrLinkFault)
	assert.Len(t, sub.calls, 2)
}

func TestController_Queries(t *testing.T) {
	ctx := context.Background()
	c, sub := newTestController(t)
	sub.replies["1TP"] = "12.500"
	sub.replies["2TP"] = "-1.25E+01"
	sub.replies["TE"] = "0"
	sub.replies["TB"] = "0, 451, NO ERROR DETECTED"
	sub.replies["VE"] = "ESP302 Version 3.0.1"

	pos, err := c.Position(ctx, 1)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("12.5").Equal(pos), pos.String())

	pos, err = c.Position(ctx, 2)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(-125).Shift(-1).Equal(pos), pos.String())

	code, err := c.ErrorCode(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	report, err := c.ErrorMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, ErrorReport{Code: 0, Timestamp: 451, Message: "NO ERROR DETECTED"}, report)
	assert.True(t, report.OK())

	version, err := c.RawQuery(ctx, "VE")
	require.NoError(t, err)
	assert.Equal(t, "ESP302 Version 3.0.1", version)

	for _, cl := range sub.calls {
		assert.True(t, cl.query)
	}
}

func TestController_InvalidReplies(t *testing.T) {
	ctx := context.Background()
	c, sub := newTestController(t)
	sub.replies["1TP"] = "fail"
	sub.replies["TE"] = ""
	sub.replies["TB"] = "garbage"

	_, err := c.Position(ctx, 1)
	require.ErrorIs(t, err, ErrInvalidResponse)

	_, err = c.ErrorCode(ctx)
	require.ErrorIs(t, err, ErrInvalidResponse)

	_, err = c.ErrorMessage(ctx)
	require.ErrorIs(t, err, ErrInvalidResponse)
}

func TestController_ValidationBeforeSubmit(t *testing.T) {
	ctx := context.Background()
	c, sub := newTestController(t)
	one := decimal.NewFromInt(1)

	tests := []struct {
		name string
		fn   func() error
	}{
		{"axis zero", func() error { return c.MoveAbsolute(ctx, 0, one) }},
		{"axis above configured", func() error { return c.MoveRelative(ctx, 3, one) }},
		{"position axis", func() error {
			_, err := c.Position(ctx, -1)
			return err
		}},
		{"home axis", func() error { return c.Home(ctx, 9) }},
		{"velocity negative", func() error { return c.SetVelocity(ctx, 1, decimal.NewFromInt(-1)) }},
		{"velocity above 100", func() error { return c.SetVelocity(ctx, 1, decimal.RequireFromString("100.1")) }},
		{"acceleration zero", func() error { return c.SetAcceleration(ctx, 1, decimal.Zero) }},
		{"deceleration negative", func() error { return c.SetDeceleration(ctx, 1, decimal.NewFromInt(-5)) }},
		{"dio bit negative", func() error { return c.AssignDIOMotionStatus(ctx, 1, -1, 0) }},
		{"dio bit 16", func() error { return c.AssignDIOMotionStatus(ctx, 1, 16, 0) }},
		{"dio level 2", func() error { return c.AssignDIOMotionStatus(ctx, 1, 3, 2) }},
		{"dio direction empty", func() error { return c.SetDIOPortDirection(ctx, " ") }},
		{"dio direction symbols", func() error { return c.SetDIOPortDirection(ctx, "0;3") }},
		{"wait stop negative", func() error { return c.WaitStop(ctx, 1, -time.Second) }},
		{"motor axis", func() error { return c.MotorOn(ctx, 4) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, tt.fn(), link.ErrInvalidArgument)
		})
	}

	assert.Empty(t, sub.calls)

	require.NoError(t, c.SetVelocity(ctx, 2, decimal.NewFromInt(100)))
	require.NoError(t, c.SetVelocity(ctx, 2, decimal.Zero))
}

func TestController_ThreeAxes(t *testing.T) {
	c, sub := newTestController(t, WithAxes(3))
	assert.Equal(t, 3, c.Axes())
	require.NoError(t, c.Home(context.Background(), 3))
	assert.Equal(t, []call{{text: "3OR"}}, sub.calls)
}

func TestController_PropagatesLinkErrors(t *testing.T) {
	c, sub := newTestController(t)
	sub.err = errors.Join(link.ErrLinkFault, errors.New("connection reset"))

	_, err := c.Position(context.Background(), 1)
	require.ErrorIs(t, err, link.ErrLinkFault)
}

func TestNew_Errors(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)

	_, err = New(&fakeSubmitter{}, WithAxes(0))
	require.Error(t, err)

	_, err = New(&fakeSubmitter{}, WithAxes(4))
	require.Error(t, err)

	_, err = New(&fakeSubmitter{}, WithLogger(nil))
	require.Error(t, err)
}

func TestErrorReport_RoundTrip(t *testing.T) {
	r := ErrorReport{Code: 37, Timestamp: 120034, Message: "AXIS NUMBER OUT OF RANGE"}
	parsed, err := ParseErrorReport(FormatErrorReport(r))
	require.NoError(t, err)
	assert.Equal(t, r, parsed)
	assert.False(t, parsed.OK())
}
