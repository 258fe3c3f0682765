package types

// State represents the election lifecycle state of one Election instance.
//
// States follow a defined progression during a campaign:
//
//	StateNotCampaigning → StateCampaigning → StateLeading
//
// Resigning, losing the lease, or losing a conditional commit returns the
// instance to StateNotCampaigning.
type State int

const (
	// StateNotCampaigning is the initial state; no campaign key exists
	// for this instance.
	StateNotCampaigning State = iota

	// StateCampaigning indicates the campaign key is committed and the
	// instance is waiting for all older siblings to vacate the prefix.
	StateCampaigning

	// StateLeading indicates this instance holds the oldest surviving
	// campaign key and believes it is the leader.
	StateLeading
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateNotCampaigning:
		return "NotCampaigning"
	case StateCampaigning:
		return "Campaigning"
	case StateLeading:
		return "Leading"
	default:
		return "Unknown"
	}
}
