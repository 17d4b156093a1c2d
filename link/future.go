package link

import (
	"context"

	"github.com/google/uuid"
)

// Future is the handle of an asynchronously submitted command.
type Future struct {
	cmd *Command
}

// ID returns the command identifier.
func (f *Future) ID() uuid.UUID { return f.cmd.id }

// Command returns the submitted command.
func (f *Future) Command() *Command { return f.cmd }

// Done returns a channel that is closed once the command is resolved.
func (f *Future) Done() <-chan struct{} { return f.cmd.done }

// Result returns the result and true if the command is resolved.
func (f *Future) Result() (Result, bool) {
	if !f.cmd.isResolved() {
		return Result{}, false
	}

	return f.cmd.result, true
}

// Wait blocks until the command is resolved or ctx is done.
//
// Giving up through ctx does not withdraw a command that is already being
// transmitted; a command still queued is skipped if it was submitted with the
// same context.
func (f *Future) Wait(ctx context.Context) (string, error) {
	if res, ok := f.Result(); ok {
		return res.Response, res.Err
	}

	select {
	case <-f.cmd.done:
		return f.cmd.result.Response, f.cmd.result.Err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
