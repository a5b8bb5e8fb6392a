package retrieval

import "github.com/xhad/danfe/internal/models"

// State is a step of the per-key retrieval.
type State string

const (
	StateRegistering        State = "registering"
	StateAwaitingReady      State = "awaiting_ready"
	StateReady              State = "ready"
	StateFetchingArtifacts  State = "fetching_artifacts"
	StateDone               State = "done"
	StateRegistrationFailed State = "registration_failed"
	StateTimedOut           State = "timed_out"
	StateFetchFailed        State = "fetch_failed"
)

// Terminal reports whether no further transition leaves s.
func (s State) Terminal() bool {
	switch s {
	case StateDone, StateRegistrationFailed, StateTimedOut, StateFetchFailed:
		return true
	default:
		return false
	}
}

// Status maps a terminal state to the outcome status.
func (s State) Status() models.Status {
	switch s {
	case StateTimedOut:
		return models.StatusTimedOut
	case StateRegistrationFailed:
		return models.StatusRegistrationFailed
	case StateFetchFailed:
		return models.StatusFetchFailed
	default:
		return models.StatusReady
	}
}

// validTransition enforces the allowed state machine edges.
func validTransition(from, to State) bool {
	switch from {
	case StateRegistering:
		return to == StateAwaitingReady || to == StateRegistrationFailed
	case StateAwaitingReady:
		return to == StateReady || to == StateTimedOut
	case StateReady:
		return to == StateFetchingArtifacts || to == StateFetchFailed
	case StateFetchingArtifacts:
		return to == StateDone || to == StateFetchFailed
	default:
		return false
	}
}
