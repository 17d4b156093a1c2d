// Package link serializes commands to a line-oriented device over a single
// transport and recovers from connection faults.
//
// A Dispatcher owns one worker goroutine. Submitters on any goroutine enqueue
// commands; the worker sends them strictly in submission order with at most
// one command in flight, waits a short settle delay after each write, and
// reads exactly one reply line for queries.
//
// When a write or read faults, the command being processed fails with a
// *CommandError matching ErrLinkFault and the worker reconnects once before
// taking the next command. Failed commands are never retried automatically:
// a motion command that may have reached the device must not be repeated
// without the caller's consent. CommandError.Delivery tells how much of the
// line was written before the failure.
//
// Basic usage:
//
//	tr, _ := transport.New(cfg)
//	d, _ := link.New(tr)
//	if err := d.Open(ctx, true); err != nil {
//		return err
//	}
//	defer d.Close()
//
//	pos, err := d.SubmitQuery(ctx, "1TP")
package link
