package domain

// State is a conversation lifecycle stage.
type State string

const (
	StateReceived           State = "RECEIVED"
	StateAgentInvoked       State = "AGENT_INVOKED"
	StateResponseClassified State = "RESPONSE_CLASSIFIED"
	StateQueued             State = "QUEUED"
	StateDelivering         State = "DELIVERING"
	StateDelivered          State = "DELIVERED"
	StateFailed             State = "FAILED"
	StateExported           State = "EXPORTED"
)

// stateRank orders states along the lifecycle. DELIVERED and FAILED share a
// rank because they are alternative outcomes of the same step.
var stateRank = map[State]int{
	StateReceived:           0,
	StateAgentInvoked:       1,
	StateResponseClassified: 2,
	StateQueued:             3,
	StateDelivering:         4,
	StateDelivered:          5,
	StateFailed:             5,
	StateExported:           6,
}

// allowedTransitions lists every legal edge of the lifecycle graph.
var allowedTransitions = map[State][]State{
	StateReceived:           {StateAgentInvoked, StateFailed},
	StateAgentInvoked:       {StateResponseClassified, StateFailed},
	StateResponseClassified: {StateQueued, StateFailed},
	StateQueued:             {StateDelivering, StateFailed},
	StateDelivering:         {StateDelivered, StateFailed},
	StateDelivered:          {StateExported},
	StateFailed:             {StateExported},
}

// AllStates returns the lifecycle states in order.
func AllStates() []State {
	return []State{
		StateReceived, StateAgentInvoked, StateResponseClassified, StateQueued,
		StateDelivering, StateDelivered, StateFailed, StateExported,
	}
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	_, ok := stateRank[s]
	return ok
}

// Rank returns the position of s in the lifecycle, or -1 for unknown states.
func (s State) Rank() int {
	if r, ok := stateRank[s]; ok {
		return r
	}
	return -1
}

// IsOutcome reports whether s is DELIVERED or FAILED.
func (s State) IsOutcome() bool {
	return s == StateDelivered || s == StateFailed
}

// IsTerminal reports whether no further delivery work may happen in s.
func (s State) IsTerminal() bool {
	return s.IsOutcome() || s == StateExported
}

// CanTransition reports whether the lifecycle allows moving from one state to another.
func CanTransition(from, to State) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
