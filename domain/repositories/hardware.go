package repositories

import "context"

// AudioPlayer is the hardware capture/playback peer as seen by this core.
// Play blocks until the peer reports playback completion.
type AudioPlayer interface {
	Play(ctx context.Context, audio []byte, sampleRate int) error

	// NotifyBackpressure tells the capture peer whether the job queue is
	// full. The peer must stop handing off captures while queueFull is true.
	NotifyBackpressure(ctx context.Context, queueFull bool) error
}
