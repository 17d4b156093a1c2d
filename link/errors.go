package link

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/arloliu/go-esplink/transport"
)

var (
	// ErrLinkFault is matched by a *CommandError caused by a transport fault or
	// an unreachable device.
	ErrLinkFault = errors.New("link: fault")
	// ErrQueueFull indicates the bounded pending queue is full.
	ErrQueueFull = errors.New("link: queue full")
	// ErrInvalidArgument indicates a malformed command.
	ErrInvalidArgument = errors.New("link: invalid argument")
	// ErrLinkClosed indicates the dispatcher was closed.
	ErrLinkClosed = errors.New("link: closed")
	// ErrTransportNil indicates a nil transport was passed to New.
	ErrTransportNil = errors.New("link: transport is nil")
	// ErrEmptyResponse indicates the device replied with a blank line or closed
	// the connection instead of replying.
	ErrEmptyResponse = transport.ErrEmptyResponse
)

// Delivery describes how much of a command line reached the connection before a failure.
type Delivery uint8

const (
	// DeliveryNone means no byte of the line was written.
	DeliveryNone Delivery = iota
	// DeliveryPartial means the line was cut off; the device may have seen a fragment.
	DeliveryPartial
	// DeliveryComplete means the whole line, terminator included, was written.
	DeliveryComplete
	// DeliveryUnknown means the link was closed while the line was being
	// written; any prefix of it may have reached the device.
	DeliveryUnknown
)

// String returns string representation of the delivery.
func (d Delivery) String() string {
	switch d {
	case DeliveryNone:
		return "none"
	case DeliveryPartial:
		return "partial"
	case DeliveryComplete:
		return "complete"
	case DeliveryUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// CommandError is the failure of a command taken by the worker.
type CommandError struct {
	// ID identifies the command.
	ID uuid.UUID
	// Command is the command text.
	Command string
	// Phase is the dispatcher phase in which the command failed.
	Phase Phase
	// Delivery tells how much of the line was written.
	Delivery Delivery
	// Err is the underlying error.
	Err error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("link: command %q failed while %s (delivery: %s): %v", e.Command, e.Phase, e.Delivery, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// Is reports whether target is ErrLinkFault and the failure came from the
// transport or an unreachable device.
func (e *CommandError) Is(target error) bool {
	if target != ErrLinkFault { //nolint:errorlint
		return false
	}

	return errors.Is(e.Err, transport.ErrTransportFault) || errors.Is(e.Err, transport.ErrDeviceUnreachable)
}

func deliveryOf(err error) Delivery {
	var fault *transport.Fault
	if !errors.As(err, &fault) || fault.Op != transport.OpWrite || fault.Written <= 0 {
		return DeliveryNone
	}
	if fault.Written >= fault.Total {
		return DeliveryComplete
	}

	return DeliveryPartial
}
