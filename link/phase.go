package link

// Phase is the processing stage of the dispatcher worker.
type Phase uint32

const (
	// PhaseIdle means the worker is waiting for a command.
	PhaseIdle Phase = iota
	// PhaseSending means a command line is being written.
	PhaseSending
	// PhaseAwaitingReply means the worker is reading the reply to a query.
	PhaseAwaitingReply
	// PhaseRecovering means the worker is (re)connecting the transport.
	PhaseRecovering
)

// String returns string representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSending:
		return "sending"
	case PhaseAwaitingReply:
		return "awaiting reply"
	case PhaseRecovering:
		return "recovering"
	default:
		return "unknown"
	}
}
