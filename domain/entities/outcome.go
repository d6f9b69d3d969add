package entities

import "fmt"

// OutcomeType discriminates the variants of a RemoteOutcome
type OutcomeType string

const (
	OutcomeAudio   OutcomeType = "audio"
	OutcomeText    OutcomeType = "text"
	OutcomeAction  OutcomeType = "action"
	OutcomeFailure OutcomeType = "failure"
)

// FailureKind is the machine-readable classification of a failed dispatch
type FailureKind string

const (
	FailureValidation       FailureKind = "validation_failure"
	FailureAuth             FailureKind = "auth_failure"
	FailureTransientNetwork FailureKind = "transient_network_failure"
	FailureUnknownResponse  FailureKind = "unknown_response_type"
	FailureStorage          FailureKind = "storage_failure"
)

// RemoteOutcome is the typed result of dispatching an AudioJob to the remote
// processor. Exactly one variant is populated, selected by Type. It is
// consumed exactly once, by the response coordinator.
type RemoteOutcome struct {
	Type OutcomeType

	// OutcomeAudio
	Audio      []byte
	SampleRate int

	// OutcomeText
	Text string

	// OutcomeAction
	ActionID     string
	ActionParams map[string]any

	// OutcomeFailure
	Kind    FailureKind
	Message string
}

// AudioOutcome builds a successful audio response outcome
func AudioOutcome(audio []byte, sampleRate int) RemoteOutcome {
	return RemoteOutcome{Type: OutcomeAudio, Audio: audio, SampleRate: sampleRate}
}

// TextOutcome builds a successful text response outcome
func TextOutcome(text string) RemoteOutcome {
	return RemoteOutcome{Type: OutcomeText, Text: text}
}

// ActionOutcome builds a successful action response outcome
func ActionOutcome(actionID string, params map[string]any) RemoteOutcome {
	return RemoteOutcome{Type: OutcomeAction, ActionID: actionID, ActionParams: params}
}

// FailureOutcome builds a terminal failure outcome
func FailureOutcome(kind FailureKind, format string, args ...any) RemoteOutcome {
	return RemoteOutcome{Type: OutcomeFailure, Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Failed reports whether the outcome is a failure variant
func (o RemoteOutcome) Failed() bool {
	return o.Type == OutcomeFailure
}
