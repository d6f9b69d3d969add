package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/puertocho/assistant-gateway/domain/entities"
	"github.com/puertocho/assistant-gateway/internal/events"
	"github.com/puertocho/assistant-gateway/internal/verification"
	"github.com/puertocho/assistant-gateway/usecase"
)

// maxCaptureBytes bounds the audio upload size: 60s of 48kHz 16-bit stereo
// plus headers.
const maxCaptureBytes = 12 << 20

// InitRoutes wires the gateway's HTTP surface: health, status, manual
// activation, hardware audio ingest, verification listing and the observer
// websocket stream.
func InitRoutes(
	e *echo.Echo,
	pipeline *usecase.Pipeline,
	states usecase.StateMachine,
	store *verification.Store,
	hub *events.Hub,
	logger *zap.Logger,
) {
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "assistant-gateway",
		})
	})

	v1 := e.Group("/api/v1")

	v1.GET("/state", func(c echo.Context) error {
		return getState(c, pipeline, states, store, hub, logger)
	})

	v1.POST("/activate", func(c echo.Context) error {
		return activate(c, states, logger)
	})

	v1.POST("/hardware/audio", func(c echo.Context) error {
		return receiveAudio(c, pipeline, logger)
	})

	v1.GET("/verification", func(c echo.Context) error {
		return listVerification(c, store, logger)
	})

	// Observer stream: dashboards subscribe here for state changes and
	// dispatch lifecycle events.
	e.GET("/ws", hub.ServeWS)
}

func getState(c echo.Context, pipeline *usecase.Pipeline, states usecase.StateMachine, store *verification.Store, hub *events.Hub, logger *zap.Logger) error {
	records, err := store.List()
	if err != nil {
		logger.Error("Failed to list verification records", zap.Error(err))
		records = nil
	}
	return c.JSON(http.StatusOK, StateResponse{
		State:             string(states.Current()),
		QueueDepth:        pipeline.QueueDepth(),
		QueueCapacity:     pipeline.QueueCapacity(),
		Observers:         hub.ObserverCount(),
		VerificationCount: len(records),
	})
}

func activate(c echo.Context, states usecase.StateMachine, logger *zap.Logger) error {
	var req ActivateRequest
	if err := c.Bind(&req); err != nil {
		logger.Warn("Failed to bind activation request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}
	if req.Source == "" {
		req.Source = "api"
	}

	accepted := states.Activate(req.Source)
	return c.JSON(http.StatusOK, ActivateResponse{
		Accepted: accepted,
		State:    string(states.Current()),
	})
}

// receiveAudio ingests one captured utterance from the hardware peer as
// multipart form data: an "audio" file part plus an optional "context" field
// holding free-form JSON.
func receiveAudio(c echo.Context, pipeline *usecase.Pipeline, logger *zap.Logger) error {
	fileHeader, err := c.FormFile("audio")
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_audio",
			Message: "Multipart field 'audio' is required",
		})
	}
	if fileHeader.Size > maxCaptureBytes {
		return c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{
			Error:   "audio_too_large",
			Message: "Audio payload exceeds the capture size limit",
		})
	}

	file, err := fileHeader.Open()
	if err != nil {
		logger.Error("Failed to open uploaded audio", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "internal_error",
		})
	}
	defer file.Close()

	payload, err := io.ReadAll(file)
	if err != nil {
		logger.Error("Failed to read uploaded audio", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "internal_error",
		})
	}

	var captureContext map[string]any
	if raw := c.FormValue("context"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &captureContext); err != nil {
			return c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_context",
				Message: "Context field must be a JSON object",
			})
		}
	}

	jobID, accepted := pipeline.SubmitCapture(c.Request().Context(), payload, captureContext)
	resp := CaptureResponse{
		JobID:      jobID,
		Accepted:   accepted,
		QueueDepth: pipeline.QueueDepth(),
	}
	if !accepted {
		return c.JSON(http.StatusTooManyRequests, resp)
	}
	return c.JSON(http.StatusAccepted, resp)
}

func listVerification(c echo.Context, store *verification.Store, logger *zap.Logger) error {
	records, err := store.List()
	if err != nil {
		logger.Error("Failed to list verification records", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "internal_error",
		})
	}
	if records == nil {
		records = []entities.VerificationRecord{}
	}
	return c.JSON(http.StatusOK, VerificationListResponse{
		Records: records,
		Count:   len(records),
	})
}
