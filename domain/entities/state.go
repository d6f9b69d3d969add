package entities

// AssistantState represents the lifecycle state of the assistant
type AssistantState string

const (
	StateIdle       AssistantState = "idle"
	StateListening  AssistantState = "listening"
	StateProcessing AssistantState = "processing"
	StateSpeaking   AssistantState = "speaking"
	StateError      AssistantState = "error"
)

// validTransitions is the allowed state flow:
// IDLE -> {LISTENING | PROCESSING} -> {SPEAKING | IDLE | ERROR} -> IDLE.
// IDLE admits PROCESSING directly because a queued job is handed to the
// worker after the machine already settled back to IDLE; its failure path
// (IDLE -> ERROR) must stay open for the same reason. ERROR is transient
// and may only return to IDLE.
var validTransitions = map[AssistantState][]AssistantState{
	StateIdle:       {StateListening, StateProcessing, StateError},
	StateListening:  {StateProcessing, StateIdle, StateError},
	StateProcessing: {StateSpeaking, StateIdle, StateError},
	StateSpeaking:   {StateIdle, StateError},
	StateError:      {StateIdle},
}

// ValidTransition reports whether moving from one state to another is allowed
func ValidTransition(from, to AssistantState) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Valid reports whether the state is one of the known lifecycle states
func (s AssistantState) Valid() bool {
	switch s {
	case StateIdle, StateListening, StateProcessing, StateSpeaking, StateError:
		return true
	}
	return false
}
