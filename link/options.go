package link

import (
	"errors"
	"fmt"
	"time"

	"github.com/arloliu/go-esplink/logger"
)

// Default dispatcher values.
const (
	// DefaultSettleDelay is the pause after each write before the reply is read.
	DefaultSettleDelay = 100 * time.Millisecond
	// DefaultQueueSize of zero leaves the pending queue unbounded.
	DefaultQueueSize = 0

	// MaxSettleDelay is the largest delay accepted by WithSettleDelay.
	MaxSettleDelay = 10 * time.Second
)

type options struct {
	settleDelay time.Duration
	queueSize   int
	logger      logger.Logger
}

func defaultOptions() *options {
	return &options{
		settleDelay: DefaultSettleDelay,
		queueSize:   DefaultQueueSize,
		logger:      logger.GetLogger(),
	}
}

// Option is a functional option for configuring a Dispatcher.
type Option interface {
	apply(*options) error
}

type optFunc func(*options) error

func (f optFunc) apply(o *options) error { return f(o) }

// WithSettleDelay sets the pause between writing a line and reading its reply.
// The pause applies to commands without a reply as well.
func WithSettleDelay(d time.Duration) Option {
	return optFunc(func(o *options) error {
		if d < 0 || d > MaxSettleDelay {
			return fmt.Errorf("link: settle delay %v out of range [0, %v]", d, MaxSettleDelay)
		}
		o.settleDelay = d

		return nil
	})
}

// WithQueueSize bounds the number of queued commands. Submissions beyond the
// bound fail with ErrQueueFull. Zero means unbounded.
func WithQueueSize(n int) Option {
	return optFunc(func(o *options) error {
		if n < 0 {
			return errors.New("link: queue size must be >= 0")
		}
		o.queueSize = n

		return nil
	})
}

// WithLogger sets the logger for the dispatcher.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(o *options) error {
		if l == nil {
			return errors.New("link: logger must not be nil")
		}
		o.logger = l

		return nil
	})
}
