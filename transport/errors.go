package transport

import (
	"errors"
	"fmt"
	"net"
)

var (
	// ErrTransportFault is matched by every *Fault returned from SendLine and ReadLine.
	ErrTransportFault = errors.New("transport: fault")
	// ErrEmptyResponse indicates the peer replied with a blank line or closed
	// the stream before a reply line arrived.
	ErrEmptyResponse = errors.New("transport: empty response")
	// ErrDeviceUnreachable is returned by Connect when the attempt limit is exhausted.
	ErrDeviceUnreachable = errors.New("transport: device unreachable")
	// ErrTransportClosed is returned once Close has been called.
	ErrTransportClosed = errors.New("transport: closed")
	// ErrNotConnected indicates I/O was attempted without a live connection.
	ErrNotConnected = errors.New("transport: not connected")
	// ErrConfigNil indicates a nil Config was passed to New.
	ErrConfigNil = errors.New("transport: config is nil")
)

// Fault operations.
const (
	OpWrite = "write"
	OpRead  = "read"
)

// Fault describes a socket-level I/O failure during SendLine or ReadLine.
//
// errors.Is(f, ErrTransportFault) is always true. The underlying error is
// available through errors.Unwrap.
type Fault struct {
	// Op is OpWrite or OpRead.
	Op string
	// Written is the number of bytes of the line, terminator included, that
	// were handed to the connection before the write failed. Always 0 for reads.
	Written int
	// Total is the full length of the line including the terminator. Always 0 for reads.
	Total int
	// Err is the underlying error.
	Err error
}

func (f *Fault) Error() string {
	if f.Op == OpWrite && f.Written > 0 {
		return fmt.Sprintf("transport: %s fault after %d/%d bytes: %v", f.Op, f.Written, f.Total, f.Err)
	}

	return fmt.Sprintf("transport: %s fault: %v", f.Op, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

// Is reports whether target is ErrTransportFault.
func (f *Fault) Is(target error) bool { return target == ErrTransportFault }

// Timeout reports whether the fault was caused by a read or write deadline.
func (f *Fault) Timeout() bool {
	var netErr net.Error
	if errors.As(f.Err, &netErr) {
		return netErr.Timeout()
	}

	return false
}
