package entities

import (
	"encoding/binary"
	"testing"
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
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], uint16(bitDepth))
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	return buf
}

func TestProbeWAV(t *testing.T) {
	payload := buildWAV(16000, 1, 16, 2.0)

	meta, err := ProbeWAV(payload)
	if err != nil {
		t.Fatalf("ProbeWAV failed: %v", err)
	}

	if meta.SampleRate != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", meta.SampleRate)
	}
	if meta.Channels != 1 {
		t.Errorf("Expected 1 channel, got %d", meta.Channels)
	}
	if meta.BitDepth != 16 {
		t.Errorf("Expected bit depth 16, got %d", meta.BitDepth)
	}
	if meta.DurationSec < 1.99 || meta.DurationSec > 2.01 {
		t.Errorf("Expected ~2s duration, got %f", meta.DurationSec)
	}
	if !meta.IntegrityOK {
		t.Error("Expected integrity check to pass")
	}
}

func TestProbeWAVRejectsNonWAV(t *testing.T) {
	if _, err := ProbeWAV([]byte("definitely not audio")); err != ErrNotWAV {
		t.Errorf("Expected ErrNotWAV, got %v", err)
	}
}

func TestProbeWAVRejectsTruncated(t *testing.T) {
	payload := buildWAV(16000, 1, 16, 1.0)
	truncated := payload[:len(payload)/2]

	meta, err := ProbeWAV(truncated)
	if err != ErrTruncatedWAV {
		t.Errorf("Expected ErrTruncatedWAV, got %v", err)
	}
	if meta.IntegrityOK {
		t.Error("Truncated payload must not pass the integrity check")
	}
}

func TestNewAudioJob(t *testing.T) {
	payload := buildWAV(48000, 2, 16, 0.5)
	job := NewAudioJob(payload, map[string]any{"language": "es-ES"})

	if job.ID == "" {
		t.Error("Expected a job ID")
	}
	if job.Metadata.SampleRate != 48000 {
		t.Errorf("Expected sample rate 48000, got %d", job.Metadata.SampleRate)
	}
	if job.Metadata.SizeBytes != len(payload) {
		t.Errorf("Expected size %d, got %d", len(payload), job.Metadata.SizeBytes)
	}
	if job.Context["language"] != "es-ES" {
		t.Errorf("Expected context to carry language, got %v", job.Context)
	}
}

func TestNewAudioJobBadPayload(t *testing.T) {
	job := NewAudioJob([]byte{0x01, 0x02}, nil)

	if job.Metadata.IntegrityOK {
		t.Error("Malformed payload must not pass the integrity check")
	}
	if job.Context == nil {
		t.Error("Context must never be nil")
	}
}
