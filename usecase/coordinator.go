package usecase

import (
	"context"

	"go.uber.org/zap"

	"github.com/puertocho/assistant-gateway/domain/entities"
	"github.com/puertocho/assistant-gateway/domain/repositories"
)

// StateMachine is the mutation surface of the assistant's lifecycle state.
// The state machine itself is the single writer; this interface is how the
// pipeline and coordinator request transitions.
type StateMachine interface {
	Transition(to entities.AssistantState, detail map[string]any) bool
	Current() entities.AssistantState
	Activate(source string) bool
}

// Publisher broadcasts event envelopes to observers
type Publisher interface {
	Publish(event entities.EventEnvelope)
}

// Coordinator turns a dispatch outcome into playback and notification side
// effects. It consumes each outcome exactly once and always returns the
// state machine to IDLE, so the pipeline is ready for the next capture.
type Coordinator struct {
	states StateMachine
	player repositories.AudioPlayer
	events Publisher
	logger *zap.Logger
}

// NewCoordinator wires the coordinator to its collaborators
func NewCoordinator(states StateMachine, player repositories.AudioPlayer, events Publisher, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		states: states,
		player: player,
		events: events,
		logger: logger,
	}
}

// Handle interprets the outcome of one dispatched job
func (c *Coordinator) Handle(ctx context.Context, job *entities.AudioJob, outcome entities.RemoteOutcome) {
	switch outcome.Type {
	case entities.OutcomeAudio:
		c.handleAudio(ctx, job, outcome)

	case entities.OutcomeText:
		c.events.Publish(entities.NewEvent(entities.EventRemoteResponse, map[string]any{
			"job_id":        job.ID,
			"response_type": "text",
			"text":          outcome.Text,
		}))
		c.states.Transition(entities.StateIdle, map[string]any{"reason": "text_response"})

	case entities.OutcomeAction:
		c.events.Publish(entities.NewEvent(entities.EventRemoteResponse, map[string]any{
			"job_id":        job.ID,
			"response_type": "action",
			"action_id":     outcome.ActionID,
			"params":        outcome.ActionParams,
		}))
		c.states.Transition(entities.StateIdle, map[string]any{"reason": "action_response"})

	case entities.OutcomeFailure:
		c.handleFailure(job, outcome)

	default:
		c.logger.Error("Unhandled outcome type", zap.String("type", string(outcome.Type)))
		c.states.Transition(entities.StateIdle, map[string]any{"reason": "unhandled_outcome"})
	}
}

func (c *Coordinator) handleAudio(ctx context.Context, job *entities.AudioJob, outcome entities.RemoteOutcome) {
	c.states.Transition(entities.StateSpeaking, map[string]any{"job_id": job.ID})

	if err := c.player.Play(ctx, outcome.Audio, outcome.SampleRate); err != nil {
		c.logger.Error("Playback failed",
			zap.String("jobID", job.ID),
			zap.Error(err))
		c.handleFailure(job, entities.FailureOutcome(entities.FailureTransientNetwork,
			"playback failed: %v", err))
		return
	}

	// Playback done. Multi-turn continuation would transition to LISTENING
	// here instead; the device returns to IDLE until reactivated.
	c.states.Transition(entities.StateIdle, map[string]any{"reason": "playback_finished"})
}

// handleFailure surfaces the failure to observers through a transient ERROR
// state. ERROR is never sticky: once the event is out, the machine returns
// to IDLE to accept the next capture.
func (c *Coordinator) handleFailure(job *entities.AudioJob, outcome entities.RemoteOutcome) {
	if !c.states.Transition(entities.StateError, map[string]any{
		"job_id":  job.ID,
		"kind":    string(outcome.Kind),
		"message": outcome.Message,
	}) {
		c.logger.Warn("Error transition rejected",
			zap.String("jobID", job.ID),
			zap.String("state", string(c.states.Current())))
	}

	c.events.Publish(entities.NewEvent(entities.EventError, map[string]any{
		"job_id":  job.ID,
		"kind":    string(outcome.Kind),
		"message": outcome.Message,
	}))

	c.states.Transition(entities.StateIdle, map[string]any{"reason": "error_recovered"})
}
