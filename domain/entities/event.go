package entities

import "time"

// Event types broadcast to observers. These are the wire names the dashboard
// protocol uses.
const (
	EventStateChange         = "state_change"
	EventAudioReceived       = "audio_received"
	EventProcessingStarted   = "processing_started"
	EventProcessingCompleted = "processing_completed"
	EventProcessingFailed    = "processing_failed"
	EventRemoteResponse      = "remote_response"
	EventError               = "error"
)

// EventEnvelope wraps every state transition and dispatch lifecycle
// milestone pushed to observers. Delivery is fire-and-forget.
type EventEnvelope struct {
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
	Timestamp int64          `json:"timestamp"`
}

// NewEvent builds an envelope with a millisecond timestamp
func NewEvent(eventType string, payload map[string]any) EventEnvelope {
	if payload == nil {
		payload = make(map[string]any)
	}
	return EventEnvelope{
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
	}
}
