package usecase

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/puertocho/assistant-gateway/domain/entities"
	"github.com/puertocho/assistant-gateway/domain/repositories"
	"github.com/puertocho/assistant-gateway/internal/assistant"
)

// Pipeline drives captured audio jobs through the gateway: queueing,
// dispatch to the remote processor, and outcome handling. One worker
// processes jobs strictly in order, one at a time.
type Pipeline struct {
	queue       *assistant.JobQueue
	dispatcher  repositories.AudioDispatcher
	coordinator *Coordinator
	states      StateMachine
	events      Publisher
	player      repositories.AudioPlayer
	logger      *zap.Logger

	mu        sync.Mutex
	queueFull bool
}

// NewPipeline wires the pipeline to its collaborators
func NewPipeline(
	queue *assistant.JobQueue,
	dispatcher repositories.AudioDispatcher,
	coordinator *Coordinator,
	states StateMachine,
	events Publisher,
	player repositories.AudioPlayer,
	logger *zap.Logger,
) *Pipeline {
	return &Pipeline{
		queue:       queue,
		dispatcher:  dispatcher,
		coordinator: coordinator,
		states:      states,
		events:      events,
		player:      player,
		logger:      logger,
	}
}

// SubmitCapture wraps captured audio in a job and enqueues it. It returns
// the job ID and whether the queue accepted it; a full queue rejects
// immediately and raises the backpressure signal toward the capture peer.
func (p *Pipeline) SubmitCapture(ctx context.Context, payload []byte, captureContext map[string]any) (string, bool) {
	job := entities.NewAudioJob(payload, captureContext)

	// A capture arriving while IDLE implies an activation this core never
	// saw (push-to-talk on the device itself).
	if p.states.Current() == entities.StateIdle {
		p.states.Activate("capture")
	}

	if !p.queue.Enqueue(job) {
		p.logger.Warn("Audio queue full, capture rejected",
			zap.String("jobID", job.ID),
			zap.Int("depth", p.queue.Depth()))
		p.signalBackpressure(ctx, true)
		return job.ID, false
	}

	p.logger.Info("Audio job queued",
		zap.String("jobID", job.ID),
		zap.Int("sizeBytes", len(payload)),
		zap.Int("depth", p.queue.Depth()))

	p.events.Publish(entities.NewEvent(entities.EventAudioReceived, map[string]any{
		"job_id":      job.ID,
		"size_bytes":  len(payload),
		"queue_depth": p.queue.Depth(),
	}))

	if p.queue.Depth() >= p.queue.Capacity() {
		p.signalBackpressure(ctx, true)
	}
	return job.ID, true
}

// Run is the single queue worker. It drives each job end to end before
// dequeuing the next; a job in flight runs to completion even when ctx is
// cancelled, so the at-most-one-in-flight invariant holds through shutdown.
func (p *Pipeline) Run(ctx context.Context) {
	p.logger.Info("Pipeline worker started")

	for {
		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			p.logger.Info("Pipeline worker stopped", zap.Error(err))
			return
		}

		p.signalBackpressure(ctx, false)
		p.process(context.WithoutCancel(ctx), job)
	}
}

func (p *Pipeline) process(ctx context.Context, job *entities.AudioJob) {
	if !p.states.Transition(entities.StateProcessing, map[string]any{"job_id": job.ID}) {
		p.logger.Warn("Processing transition rejected",
			zap.String("jobID", job.ID),
			zap.String("state", string(p.states.Current())))
	}
	p.events.Publish(entities.NewEvent(entities.EventProcessingStarted, map[string]any{
		"job_id": job.ID,
	}))

	outcome := p.dispatcher.Dispatch(ctx, job)

	if outcome.Failed() {
		p.events.Publish(entities.NewEvent(entities.EventProcessingFailed, map[string]any{
			"job_id":  job.ID,
			"kind":    string(outcome.Kind),
			"message": outcome.Message,
		}))
	} else {
		p.events.Publish(entities.NewEvent(entities.EventProcessingCompleted, map[string]any{
			"job_id":        job.ID,
			"response_type": string(outcome.Type),
		}))
	}

	p.coordinator.Handle(ctx, job, outcome)
}

// signalBackpressure notifies the capture peer on queue-full edges only, so
// the peer is not spammed with repeat signals.
func (p *Pipeline) signalBackpressure(ctx context.Context, full bool) {
	p.mu.Lock()
	changed := p.queueFull != full
	p.queueFull = full
	p.mu.Unlock()

	if !changed || p.player == nil {
		return
	}
	if err := p.player.NotifyBackpressure(ctx, full); err != nil {
		p.logger.Warn("Failed to deliver backpressure signal",
			zap.Bool("queueFull", full),
			zap.Error(err))
	}
}

// QueueDepth exposes the current queue depth for the status API
func (p *Pipeline) QueueDepth() int {
	return p.queue.Depth()
}

// QueueCapacity exposes the configured queue bound for the status API
func (p *Pipeline) QueueCapacity() int {
	return p.queue.Capacity()
}
