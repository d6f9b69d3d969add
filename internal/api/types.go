package api

import "github.com/puertocho/assistant-gateway/domain/entities"

// ActivateRequest is the manual-activation payload
type ActivateRequest struct {
	Source string `json:"source"`
}

// ActivateResponse reports whether the activation was accepted. A rejected
// activation is not an error: the assistant was simply busy.
type ActivateResponse struct {
	Accepted bool   `json:"accepted"`
	State    string `json:"state"`
}

// CaptureResponse is returned when the hardware peer hands off audio
type CaptureResponse struct {
	JobID      string `json:"job_id"`
	Accepted   bool   `json:"accepted"`
	QueueDepth int    `json:"queue_depth"`
}

// StateResponse is the gateway status snapshot
type StateResponse struct {
	State             string `json:"state"`
	QueueDepth        int    `json:"queue_depth"`
	QueueCapacity     int    `json:"queue_capacity"`
	Observers         int    `json:"observers"`
	VerificationCount int    `json:"verification_count"`
}

// VerificationListResponse lists retained verification records, newest first
type VerificationListResponse struct {
	Records []entities.VerificationRecord `json:"records"`
	Count   int                           `json:"count"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
