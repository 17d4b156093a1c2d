package esp302

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrorReport is one entry of the controller's error buffer as returned by TB.
type ErrorReport struct {
	Code      int    `json:"code"`
	Timestamp uint64 `json:"timestamp"`
	Message   string `json:"message"`
}

// OK reports whether the entry means "no error".
func (r ErrorReport) OK() bool { return r.Code == 0 }

// ParseErrorReport parses a "code, timestamp, message" reply.
func ParseErrorReport(resp string) (ErrorReport, error) {
	parts := strings.SplitN(strings.TrimSpace(resp), ",", 3)
	if len(parts) != 3 {
		return ErrorReport{}, fmt.Errorf("%w: error report %q", ErrInvalidResponse, resp)
	}

	code, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return ErrorReport{}, fmt.Errorf("%w: error report code %q", ErrInvalidResponse, parts[0])
	}

	ts, err := strconv.ParseUint(strings.TrimSpace(parts[1]), 10, 64)
	if err != nil {
		return ErrorReport{}, fmt.Errorf("%w: error report timestamp %q", ErrInvalidResponse, parts[1])
	}

	return ErrorReport{
		Code:      code,
		Timestamp: ts,
		Message:   strings.TrimSpace(parts[2]),
	}, nil
}

// FormatErrorReport renders r the way the controller replies to TB.
func FormatErrorReport(r ErrorReport) string {
	return fmt.Sprintf("%d, %d, %s", r.Code, r.Timestamp, r.Message)
}

// FormatNumber renders v in plain decimal notation, the way command
// parameters are sent.
func FormatNumber(v decimal.Decimal) string {
	return v.String()
}

// ParseNumber parses a numeric reply such as "12.500" or "1.25E+01".
func ParseNumber(resp string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(strings.TrimSpace(resp))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: number %q", ErrInvalidResponse, resp)
	}

	return v, nil
}
