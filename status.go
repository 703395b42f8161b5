package vouch

// State is the lifecycle position of one dependency's verification.
type State uint8

const (
	StatePending State = iota
	StateInProgress
	StateOK
	StateSkipped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInProgress:
		return "in-progress"
	case StateOK:
		return "ok"
	case StateSkipped:
		return "skipped"
	case StateFailed:
		return "failed"
	default:
		return "pending"
	}
}

// SkipReason says why a verification stopped early.
type SkipReason uint8

const (
	SkipNone SkipReason = iota
	// SkipVerified means the digest was already verified.
	SkipVerified
	// SkipKnownOwner means an owner of the package is on the known owners list.
	SkipKnownOwner
)

func (r SkipReason) String() string {
	switch r {
	case SkipVerified:
		return "verified"
	case SkipKnownOwner:
		return "known-owner"
	default:
		return "none"
	}
}

// Status is the computation status of one dependency:
// Pending -> InProgress -> {OK | Skipped | Failed}.
type Status struct {
	State  State
	Record *VerificationRecord // set when State is StateOK
	Skip   SkipReason          // set when State is StateSkipped
	Err    error               // set when State is StateFailed
}

// Done reports whether the status is terminal.
func (s Status) Done() bool {
	return s.State == StateOK || s.State == StateSkipped || s.State == StateFailed
}

func inProgress() Status { return Status{State: StateInProgress} }

func okStatus(rec *VerificationRecord) Status { return Status{State: StateOK, Record: rec} }

func skipped(reason SkipReason) Status { return Status{State: StateSkipped, Skip: reason} }

func failed(err error) Status { return Status{State: StateFailed, Err: err} }
