package entities

import "time"

// VerificationRecord describes one retained copy of dispatched audio.
// Records are immutable after creation and removed only by pruning.
type VerificationRecord struct {
	Filename  string    `json:"filename"`
	CreatedAt time.Time `json:"created_at"`
	SizeBytes int       `json:"size_bytes"`
	JobID     string    `json:"job_id"`
}
