package model

// Phase enumerates the lifecycle states of a group test on this agent.
type Phase string

const (
	// PhaseLoading is reported until the first derivation completes.
	PhaseLoading Phase = "LOADING"

	PhaseScheduled    Phase = "SCHEDULED"
	PhaseReadyToStart Phase = "READY_TO_START"
	PhaseInProgress   Phase = "IN_PROGRESS"
	PhaseEnded        Phase = "ENDED"

	// PhaseLoadFailed is the error terminal reached when metadata could not be
	// loaded. It carries no score and is left only through a manual retry.
	PhaseLoadFailed Phase = "LOAD_FAILED"
)

// HasCountdown reports whether the phase runs a per-second countdown.
func (p Phase) HasCountdown() bool {
	return p == PhaseScheduled || p == PhaseReadyToStart || p == PhaseInProgress
}
