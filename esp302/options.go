package esp302

import (
	"errors"
	"fmt"

	"github.com/arloliu/go-esplink/logger"
)

// Option is a functional option for configuring a Controller.
type Option interface {
	apply(*Controller) error
}

type optFunc func(*Controller) error

func (f optFunc) apply(c *Controller) error { return f(c) }

// WithAxes sets the number of axes installed on the controller.
func WithAxes(n int) Option {
	return optFunc(func(c *Controller) error {
		if n < 1 || n > MaxAxes {
			return fmt.Errorf("esp302: axes %d out of range [1, %d]", n, MaxAxes)
		}
		c.axes = n

		return nil
	})
}

// WithLogger sets the logger for the controller.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(c *Controller) error {
		if l == nil {
			return errors.New("esp302: logger must not be nil")
		}
		c.logger = l

		return nil
	})
}
