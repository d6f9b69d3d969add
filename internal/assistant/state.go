package assistant

import (
	"sync"

	"go.uber.org/zap"

	"github.com/puertocho/assistant-gateway/domain/entities"
)

// Publisher receives every state change as an event envelope
type Publisher interface {
	Publish(event entities.EventEnvelope)
}

// StateMachine holds the canonical lifecycle state of the assistant. It is
// the single writer of the state value: every mutation goes through
// Transition or Activate, and every accepted transition is broadcast.
type StateMachine struct {
	publisher Publisher
	logger    *zap.Logger

	mu    sync.RWMutex
	state entities.AssistantState
}

// NewStateMachine starts in IDLE. The publisher may be nil at construction
// when the hub itself needs the machine first; attach it with SetPublisher
// before the pipeline starts.
func NewStateMachine(publisher Publisher, logger *zap.Logger) *StateMachine {
	return &StateMachine{
		publisher: publisher,
		logger:    logger,
		state:     entities.StateIdle,
	}
}

// SetPublisher attaches the event broadcast destination
func (m *StateMachine) SetPublisher(publisher Publisher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publisher = publisher
}

// Current returns the live state
func (m *StateMachine) Current() entities.AssistantState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Transition moves to a new state if the transition table allows it,
// broadcasting a state_change event on success. A rejected transition is
// logged and reported, never propagated as an error.
func (m *StateMachine) Transition(to entities.AssistantState, detail map[string]any) bool {
	m.mu.Lock()
	from := m.state
	if from == to {
		m.mu.Unlock()
		return true
	}
	if !entities.ValidTransition(from, to) {
		m.mu.Unlock()
		m.logger.Warn("Rejected state transition",
			zap.String("from", string(from)),
			zap.String("to", string(to)))
		return false
	}
	m.state = to
	publisher := m.publisher
	m.mu.Unlock()

	m.logger.Info("State transition",
		zap.String("from", string(from)),
		zap.String("to", string(to)))

	payload := map[string]any{
		"previous_state": string(from),
		"state":          string(to),
	}
	for k, v := range detail {
		payload[k] = v
	}
	if publisher != nil {
		publisher.Publish(entities.NewEvent(entities.EventStateChange, payload))
	}
	return true
}

// Activate requests entry into LISTENING from a wake word, button press or
// observer command. Activation while not IDLE is an idempotent no-op: no
// transition, no event, no error.
func (m *StateMachine) Activate(source string) bool {
	m.mu.RLock()
	current := m.state
	m.mu.RUnlock()

	if current != entities.StateIdle {
		m.logger.Debug("Activation ignored, assistant busy",
			zap.String("state", string(current)),
			zap.String("source", source))
		return false
	}

	return m.Transition(entities.StateListening, map[string]any{"source": source})
}
