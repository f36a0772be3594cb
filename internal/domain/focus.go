package domain

// FocusState is the outcome of a focus request and the coordinator's
// current grant.
type FocusState int

const (
	FocusNone FocusState = iota
	FocusGranted
	FocusFailed
	FocusDelayed
)

// String returns a human-readable focus state.
func (s FocusState) String() string {
	switch s {
	case FocusNone:
		return "none"
	case FocusGranted:
		return "granted"
	case FocusFailed:
		return "failed"
	case FocusDelayed:
		return "delayed"
	default:
		return "unknown"
	}
}

// FocusRequest asks for a transient grant for one utterance.
type FocusRequest struct {
	Usage   Usage
	MayDuck bool
}

// FocusChange is delivered by a provider when an existing grant changes.
type FocusChange int

const (
	FocusGain FocusChange = iota
	FocusLossTransient
	FocusLossTransientCanDuck
	FocusLoss
)

// IsLoss reports whether the change revokes the grant.
func (c FocusChange) IsLoss() bool {
	return c != FocusGain
}

// String returns a human-readable focus change.
func (c FocusChange) String() string {
	switch c {
	case FocusGain:
		return "gain"
	case FocusLossTransient:
		return "loss_transient"
	case FocusLossTransientCanDuck:
		return "loss_transient_can_duck"
	case FocusLoss:
		return "loss"
	default:
		return "unknown"
	}
}
