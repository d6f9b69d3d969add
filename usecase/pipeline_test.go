package usecase

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/puertocho/assistant-gateway/domain/entities"
	"github.com/puertocho/assistant-gateway/internal/assistant"
)

// buildWAV constructs a minimal PCM WAV payload
func buildWAV(sampleRate, channels, bitDepth int, seconds float64) []byte {
	blockAlign := channels * bitDepth / 8
	byteRate := sampleRate * blockAlign
	dataSize := int(float64(byteRate) * seconds)
	if dataSize%2 != 0 {
		dataSize++
	}

	buf := make([]byte, 44+dataSize)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1)
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bitDepth))
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	return buf
}

// fakeDispatcher returns a scripted outcome for every job
type fakeDispatcher struct {
	mu      sync.Mutex
	outcome entities.RemoteOutcome
	jobs    []*entities.AudioJob
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, job *entities.AudioJob) entities.RemoteOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, job)
	return f.outcome
}

func (f *fakeDispatcher) dispatched() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.jobs)
}

type pipelineFixture struct {
	pipeline *Pipeline
	states   *assistant.StateMachine
	queue    *assistant.JobQueue
	pub      *recordingPublisher
	player   *fakePlayer
	cancel   context.CancelFunc
}

func newPipelineFixture(t *testing.T, capacity int, outcome entities.RemoteOutcome, startWorker bool) *pipelineFixture {
	t.Helper()

	logger := zap.NewNop()
	pub := &recordingPublisher{}
	states := assistant.NewStateMachine(pub, logger)
	queue := assistant.NewJobQueue(capacity)
	player := &fakePlayer{}
	dispatcher := &fakeDispatcher{outcome: outcome}
	coordinator := NewCoordinator(states, player, pub, logger)
	pipeline := NewPipeline(queue, dispatcher, coordinator, states, pub, player, logger)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if startWorker {
		go pipeline.Run(ctx)
	}

	return &pipelineFixture{
		pipeline: pipeline,
		states:   states,
		queue:    queue,
		pub:      pub,
		player:   player,
		cancel:   cancel,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestTextResponseScenario(t *testing.T) {
	fx := newPipelineFixture(t, 5, entities.TextOutcome("hola"), true)

	if !fx.states.Activate("wake_word") {
		t.Fatal("Expected activation from idle to be accepted")
	}

	payload := buildWAV(16000, 1, 16, 2.0)
	jobID, accepted := fx.pipeline.SubmitCapture(context.Background(), payload, map[string]any{"language": "es-ES"})
	if !accepted {
		t.Fatal("Expected capture to be accepted")
	}

	waitFor(t, "pipeline to return to idle", func() bool {
		seq := fx.pub.stateSequence()
		if len(seq) == 0 || seq[len(seq)-1] != "idle" {
			return false
		}
		for _, ev := range fx.pub.all() {
			if ev.Type == entities.EventRemoteResponse {
				return true
			}
		}
		return false
	})

	seq := fx.pub.stateSequence()
	want := []string{"listening", "processing", "idle"}
	if len(seq) != len(want) {
		t.Fatalf("Expected state sequence %v, got %v", want, seq)
	}
	for i := range want {
		if seq[i] != want[i] {
			t.Fatalf("Expected state sequence %v, got %v", want, seq)
		}
	}

	var textEvents int
	for _, ev := range fx.pub.all() {
		if ev.Type == entities.EventRemoteResponse {
			textEvents++
			if ev.Payload["text"] != "hola" {
				t.Errorf("Expected text 'hola', got %v", ev.Payload["text"])
			}
			if ev.Payload["job_id"] != jobID {
				t.Errorf("Expected job_id %s, got %v", jobID, ev.Payload["job_id"])
			}
		}
	}
	if textEvents != 1 {
		t.Errorf("Expected exactly 1 remote_response event, got %d", textEvents)
	}
}

func TestFailureScenarioRecoversToIdle(t *testing.T) {
	outcome := entities.FailureOutcome(entities.FailureTransientNetwork, "remote backend returned 503 after 3 attempts")
	fx := newPipelineFixture(t, 5, outcome, true)

	fx.states.Activate("wake_word")
	if _, accepted := fx.pipeline.SubmitCapture(context.Background(), buildWAV(16000, 1, 16, 0.5), nil); !accepted {
		t.Fatal("Expected capture to be accepted")
	}

	waitFor(t, "error recovery", func() bool {
		seq := fx.pub.stateSequence()
		return len(seq) > 0 && seq[len(seq)-1] == "idle" && fx.states.Current() == entities.StateIdle
	})

	seq := fx.pub.stateSequence()
	if len(seq) < 2 || seq[len(seq)-2] != "error" {
		t.Fatalf("Expected sequence ending error,idle, got %v", seq)
	}
	for _, s := range seq {
		if s == "speaking" {
			t.Error("Failure must not pass through speaking")
		}
	}

	var failedEvents int
	for _, ev := range fx.pub.all() {
		if ev.Type == entities.EventProcessingFailed {
			failedEvents++
		}
	}
	if failedEvents != 1 {
		t.Errorf("Expected exactly 1 processing_failed event, got %d", failedEvents)
	}
}

func TestQueuedJobsEachTraverseLifecycle(t *testing.T) {
	// Two captures land before the worker starts; the second is dequeued
	// after the machine has settled back to IDLE and must still reach
	// PROCESSING and, on failure, ERROR then IDLE.
	outcome := entities.FailureOutcome(entities.FailureTransientNetwork, "remote backend unavailable")
	fx := newPipelineFixture(t, 5, outcome, false)

	for i := 0; i < 2; i++ {
		if _, accepted := fx.pipeline.SubmitCapture(context.Background(), buildWAV(16000, 1, 16, 0.1), nil); !accepted {
			t.Fatalf("Expected capture %d to be accepted", i+1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fx.pipeline.Run(ctx)

	waitFor(t, "both jobs to fail and recover", func() bool {
		var failed int
		for _, ev := range fx.pub.all() {
			if ev.Type == entities.EventProcessingFailed {
				failed++
			}
		}
		seq := fx.pub.stateSequence()
		return failed == 2 && len(seq) > 0 && seq[len(seq)-1] == "idle"
	})

	var processing, errors int
	for _, s := range fx.pub.stateSequence() {
		switch s {
		case "processing":
			processing++
		case "error":
			errors++
		}
	}
	if processing != 2 {
		t.Errorf("Expected 2 processing transitions for 2 jobs, got %d (sequence %v)", processing, fx.pub.stateSequence())
	}
	if errors != 2 {
		t.Errorf("Expected 2 error transitions for 2 failed jobs, got %d (sequence %v)", errors, fx.pub.stateSequence())
	}
	if fx.states.Current() != entities.StateIdle {
		t.Errorf("Expected machine to settle at idle, got %s", fx.states.Current())
	}
}

func TestLifecycleEventsEmittedInOrder(t *testing.T) {
	fx := newPipelineFixture(t, 5, entities.TextOutcome("ok"), true)

	fx.states.Activate("button")
	fx.pipeline.SubmitCapture(context.Background(), buildWAV(16000, 1, 16, 0.5), nil)

	waitFor(t, "processing completion", func() bool {
		for _, ev := range fx.pub.all() {
			if ev.Type == entities.EventProcessingCompleted {
				return true
			}
		}
		return false
	})

	var order []string
	for _, ev := range fx.pub.all() {
		switch ev.Type {
		case entities.EventAudioReceived, entities.EventProcessingStarted, entities.EventProcessingCompleted:
			order = append(order, ev.Type)
		}
	}
	want := []string{entities.EventAudioReceived, entities.EventProcessingStarted, entities.EventProcessingCompleted}
	if len(order) != len(want) {
		t.Fatalf("Expected lifecycle events %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("Expected lifecycle order %v, got %v", want, order)
		}
	}
}

func TestBackpressureSignalling(t *testing.T) {
	// Worker not started: jobs pile up in the queue.
	fx := newPipelineFixture(t, 1, entities.TextOutcome("ok"), false)

	if _, accepted := fx.pipeline.SubmitCapture(context.Background(), buildWAV(16000, 1, 16, 0.1), nil); !accepted {
		t.Fatal("Expected first capture to fill the queue")
	}

	_, accepted := fx.pipeline.SubmitCapture(context.Background(), buildWAV(16000, 1, 16, 0.1), nil)
	if accepted {
		t.Fatal("Expected second capture to be rejected")
	}

	signals := fx.player.backpressureSignals()
	if len(signals) == 0 || !signals[len(signals)-1] {
		t.Errorf("Expected a queue-full backpressure signal, got %v", signals)
	}

	// Draining the queue relieves the signal.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fx.pipeline.Run(ctx)

	waitFor(t, "backpressure relief", func() bool {
		signals := fx.player.backpressureSignals()
		return len(signals) >= 2 && !signals[len(signals)-1]
	})
}

func TestSubmitCaptureActivatesFromIdle(t *testing.T) {
	fx := newPipelineFixture(t, 5, entities.TextOutcome("ok"), true)

	// Push-to-talk on the device: no activation preceded the capture.
	if _, accepted := fx.pipeline.SubmitCapture(context.Background(), buildWAV(16000, 1, 16, 0.1), nil); !accepted {
		t.Fatal("Expected capture to be accepted")
	}

	waitFor(t, "pipeline completion", func() bool {
		seq := fx.pub.stateSequence()
		return len(seq) >= 3 && seq[len(seq)-1] == "idle"
	})

	seq := fx.pub.stateSequence()
	if seq[0] != "listening" {
		t.Errorf("Expected implicit activation to enter listening first, got %v", seq)
	}
}
