package session

// Status classifies how a session ended.
type Status uint8

const (
	// StatusCompleted means all bytes moved and the session reached
	// StateDone.
	StatusCompleted Status = iota
	// StatusRejected means the receiver declined the offer; the session
	// still terminated cleanly.
	StatusRejected
	// StatusFailed means the session aborted: transport failure,
	// timeout, decode error or protocol violation.
	StatusFailed
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusRejected:
		return "rejected"
	default:
		return "failed"
	}
}

// Outcome is the result of one session, surfaced once to the caller and
// never persisted. Rejection is distinct from failure so a sender can
// report "peer declined" versus "transfer broke".
type Outcome struct {
	Status Status

	// Bytes is the total transferred; meaningful for StatusCompleted.
	Bytes uint64

	// Reason is the peer-supplied NACK text for StatusRejected.
	Reason string

	// Err is the terminal error for StatusFailed. It wraps one of the
	// sentinel errors (ErrProtocolViolation, ErrTimeout, the wire
	// decode errors) or a plain transport/file error.
	Err error
}

// Completed builds the outcome of a finished transfer.
func Completed(bytes uint64) Outcome {
	return Outcome{Status: StatusCompleted, Bytes: bytes}
}

// Rejected builds the outcome of a declined offer.
func Rejected(reason string) Outcome {
	return Outcome{Status: StatusRejected, Reason: reason}
}

// Failed builds the outcome of an aborted session.
func Failed(err error) Outcome {
	return Outcome{Status: StatusFailed, Err: err}
}
