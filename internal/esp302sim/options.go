package esp302sim

import (
	"time"

	"github.com/arloliu/go-esplink/esp302"
	"github.com/arloliu/go-esplink/logger"
)

// Option configures a Simulator.
type Option func(*Simulator)

// WithAxes sets the number of simulated axes. Values outside
// [1, esp302.MaxAxes] are ignored.
func WithAxes(n int) Option {
	return func(s *Simulator) {
		if n >= 1 && n <= esp302.MaxAxes {
			s.axes = n
		}
	}
}

// WithReplyDelay delays every reply by d.
func WithReplyDelay(d time.Duration) Option {
	return func(s *Simulator) {
		if d >= 0 {
			s.replyDelay = d
		}
	}
}

// WithLogger sets the simulator logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Simulator) {
		if l != nil {
			s.logger = l
		}
	}
}
