package entities

import (
	"encoding/binary"
	"errors"
	"time"

	"github.com/google/uuid"
)

// AudioMetadata describes the captured audio payload. It is derived once at
// job creation and sent alongside the audio on dispatch.
type AudioMetadata struct {
	Format      string  `json:"format"`
	SampleRate  int     `json:"sample_rate"`
	Channels    int     `json:"channels"`
	BitDepth    int     `json:"bit_depth"`
	DurationSec float64 `json:"duration_seconds"`
	SizeBytes   int     `json:"size_bytes"`
	IntegrityOK bool    `json:"integrity_ok"`
}

// AudioJob is one capture-to-response work unit. It is created when the
// hardware peer hands off captured audio, owned by the job queue until
// dequeued, and discarded after its outcome has been fully handled.
type AudioJob struct {
	ID         string
	Payload    []byte
	CapturedAt time.Time
	Metadata   AudioMetadata

	// Context carries free-form processing hints. Consumers must tolerate
	// unknown keys.
	Context map[string]any
}

// NewAudioJob wraps a captured audio payload, probing its WAV header for
// metadata. A payload that fails the probe still produces a job, with
// IntegrityOK=false, so the failure can be reported through the normal
// outcome path.
func NewAudioJob(payload []byte, context map[string]any) *AudioJob {
	meta, err := ProbeWAV(payload)
	if err != nil {
		meta = AudioMetadata{
			Format:    "unknown",
			SizeBytes: len(payload),
		}
	}
	if context == nil {
		context = make(map[string]any)
	}
	return &AudioJob{
		ID:         uuid.New().String(),
		Payload:    payload,
		CapturedAt: time.Now(),
		Metadata:   meta,
		Context:    context,
	}
}

var (
	// ErrNotWAV indicates the payload does not start with a RIFF/WAVE header.
	ErrNotWAV = errors.New("payload is not a RIFF/WAVE stream")
	// ErrTruncatedWAV indicates the payload ends before its declared chunks.
	ErrTruncatedWAV = errors.New("payload truncated before declared WAV chunks")
)

// ProbeWAV parses a WAV header and returns the derived audio metadata.
// It walks the RIFF chunk list looking for the fmt and data chunks.
func ProbeWAV(payload []byte) (AudioMetadata, error) {
	meta := AudioMetadata{Format: "wav", SizeBytes: len(payload)}

	if len(payload) < 12 || string(payload[0:4]) != "RIFF" || string(payload[8:12]) != "WAVE" {
		return meta, ErrNotWAV
	}

	var (
		haveFmt  bool
		haveData bool
		byteRate uint32
	)

	offset := 12
	for offset+8 <= len(payload) {
		chunkID := string(payload[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(payload[offset+4 : offset+8]))
		body := offset + 8

		switch chunkID {
		case "fmt ":
			if body+16 > len(payload) {
				return meta, ErrTruncatedWAV
			}
			meta.Channels = int(binary.LittleEndian.Uint16(payload[body+2 : body+4]))
			meta.SampleRate = int(binary.LittleEndian.Uint32(payload[body+4 : body+8]))
			byteRate = binary.LittleEndian.Uint32(payload[body+8 : body+12])
			meta.BitDepth = int(binary.LittleEndian.Uint16(payload[body+14 : body+16]))
			haveFmt = true
		case "data":
			if body+chunkSize > len(payload) {
				return meta, ErrTruncatedWAV
			}
			if byteRate > 0 {
				meta.DurationSec = float64(chunkSize) / float64(byteRate)
			}
			haveData = true
		}

		// Chunks are word-aligned.
		offset = body + chunkSize + chunkSize%2
	}

	if !haveFmt || !haveData {
		return meta, ErrTruncatedWAV
	}

	meta.IntegrityOK = meta.SampleRate > 0 && meta.Channels > 0
	return meta, nil
}
