package link

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Result is the outcome of a command.
type Result struct {
	// Response is the trimmed reply line of a query, empty for commands.
	Response string
	// Err is nil on success.
	Err error
}

// Command is one line submitted to the dispatcher. Its result is set exactly once.
type Command struct {
	id           uuid.UUID
	text         string
	expectsReply bool
	submittedAt  time.Time
	ctx          context.Context //nolint:containedctx

	// progress is the write progress of the line, one of the progress* values.
	progress atomic.Uint32

	once   sync.Once
	done   chan struct{}
	result Result
}

const (
	progressQueued uint32 = iota
	progressWriting
	progressWritten
)

func newCommand(ctx context.Context, text string, expectsReply bool) *Command {
	return &Command{
		id:           uuid.New(),
		text:         text,
		expectsReply: expectsReply,
		submittedAt:  time.Now(),
		ctx:          ctx,
		done:         make(chan struct{}),
	}
}

// ID returns the command identifier.
func (c *Command) ID() uuid.UUID { return c.id }

// Text returns the command line without terminator.
func (c *Command) Text() string { return c.text }

// ExpectsReply reports whether the command is a query.
func (c *Command) ExpectsReply() bool { return c.expectsReply }

// SubmittedAt returns the time the command was accepted.
func (c *Command) SubmittedAt() time.Time { return c.submittedAt }

// resolve sets the result and reports whether this call set it. onResolved,
// if not nil, runs before waiters are released.
func (c *Command) resolve(response string, err error, onResolved func()) bool {
	resolved := false
	c.once.Do(func() {
		c.result = Result{Response: response, Err: err}
		if onResolved != nil {
			onResolved()
		}
		close(c.done)
		resolved = true
	})

	return resolved
}

func (c *Command) markWriting() { c.progress.Store(progressWriting) }

func (c *Command) markWritten() { c.progress.Store(progressWritten) }

// delivery reports how much of the line reached the connection, as far as the
// worker has recorded it.
func (c *Command) delivery() Delivery {
	switch c.progress.Load() {
	case progressWritten:
		return DeliveryComplete
	case progressWriting:
		return DeliveryUnknown
	default:
		return DeliveryNone
	}
}

func (c *Command) isResolved() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func validateText(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: command text must not be empty", ErrInvalidArgument)
	}
	if strings.ContainsAny(text, "\r\n") {
		return fmt.Errorf("%w: command text %q contains a line terminator", ErrInvalidArgument, text)
	}

	return nil
}
