package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"go.uber.org/zap"

	"github.com/puertocho/assistant-gateway/domain/entities"
	"github.com/puertocho/assistant-gateway/domain/repositories"
)

// VerificationRecorder receives a copy of every dispatched job's audio
type VerificationRecorder interface {
	Record(job *entities.AudioJob, audio []byte) (string, error)
}

// Dispatcher sends audio jobs to the remote processor over multipart HTTP
// and maps the exchange to a typed outcome. Retries are bounded and
// classified: one reauthentication per request on 401, exponential backoff
// on 5xx and timeouts, immediate failure on other 4xx.
type Dispatcher struct {
	baseURL     string
	session     *SessionManager
	recorder    VerificationRecorder
	httpClient  *http.Client
	maxAttempts int
	backoffBase time.Duration
	logger      *zap.Logger
}

var _ repositories.AudioDispatcher = (*Dispatcher)(nil)

// NewDispatcher creates a dispatcher with the given retry policy. The
// httpClient's timeout bounds each individual attempt.
func NewDispatcher(
	baseURL string,
	session *SessionManager,
	recorder VerificationRecorder,
	httpClient *http.Client,
	maxAttempts int,
	backoffBase time.Duration,
	logger *zap.Logger,
) *Dispatcher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Dispatcher{
		baseURL:     baseURL,
		session:     session,
		recorder:    recorder,
		httpClient:  httpClient,
		maxAttempts: maxAttempts,
		backoffBase: backoffBase,
		logger:      logger,
	}
}

// Dispatch sends the job to the remote processor. A verification copy is
// recorded first, regardless of how the dispatch ends; verification write
// errors are logged and never affect the outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, job *entities.AudioJob) entities.RemoteOutcome {
	if d.recorder != nil {
		if _, err := d.recorder.Record(job, job.Payload); err != nil {
			d.logger.Warn("Failed to record verification copy",
				zap.String("jobID", job.ID),
				zap.Error(err))
		}
	}

	if !job.Metadata.IntegrityOK {
		return entities.FailureOutcome(entities.FailureValidation,
			"audio payload failed integrity check (format=%s, size=%d)",
			job.Metadata.Format, job.Metadata.SizeBytes)
	}

	transientAttempts := 0
	reauthenticated := false

	for {
		token, err := d.session.EnsureValid(ctx)
		if err != nil {
			return entities.FailureOutcome(entities.FailureAuth, "session unavailable: %v", err)
		}

		resp, err := d.execute(ctx, job, token)
		if err != nil {
			// Transport errors and timeouts are retried like a 5xx.
			transientAttempts++
			if transientAttempts >= d.maxAttempts {
				return entities.FailureOutcome(entities.FailureTransientNetwork,
					"request failed after %d attempts: %v", transientAttempts, err)
			}
			if !d.backoff(ctx, transientAttempts) {
				return entities.FailureOutcome(entities.FailureTransientNetwork,
					"dispatch cancelled during backoff: %v", ctx.Err())
			}
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			if readErr != nil {
				return entities.FailureOutcome(entities.FailureTransientNetwork,
					"failed to read response body: %v", readErr)
			}
			return classifyResponse(body)

		case resp.StatusCode == http.StatusUnauthorized:
			if reauthenticated {
				return entities.FailureOutcome(entities.FailureAuth,
					"credential rejected twice by remote backend")
			}
			d.logger.Warn("Credential rejected, re-authenticating once",
				zap.String("jobID", job.ID))
			d.session.Invalidate()
			reauthenticated = true

		case resp.StatusCode >= 500:
			transientAttempts++
			d.logger.Warn("Remote backend server error",
				zap.String("jobID", job.ID),
				zap.Int("statusCode", resp.StatusCode),
				zap.Int("attempt", transientAttempts))
			if transientAttempts >= d.maxAttempts {
				return entities.FailureOutcome(entities.FailureTransientNetwork,
					"remote backend returned %d after %d attempts", resp.StatusCode, transientAttempts)
			}
			if !d.backoff(ctx, transientAttempts) {
				return entities.FailureOutcome(entities.FailureTransientNetwork,
					"dispatch cancelled during backoff: %v", ctx.Err())
			}

		default:
			// Remaining 4xx are caller errors: bad payload, validation.
			return entities.FailureOutcome(entities.FailureValidation,
				"remote backend rejected request: status %d: %s",
				resp.StatusCode, truncate(body, 200))
		}
	}
}

// execute performs one multipart POST attempt. The body is rebuilt on every
// call because each attempt consumes its reader.
func (d *Dispatcher) execute(ctx context.Context, job *entities.AudioJob, token string) (*http.Response, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	audioHeader := textproto.MIMEHeader{}
	audioHeader.Set("Content-Disposition", `form-data; name="audio"; filename="audio.wav"`)
	audioHeader.Set("Content-Type", "audio/wav")
	audioPart, err := writer.CreatePart(audioHeader)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio part: %w", err)
	}
	if _, err := audioPart.Write(job.Payload); err != nil {
		return nil, fmt.Errorf("failed to write audio part: %w", err)
	}

	metadata, err := json.Marshal(job.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := writer.WriteField("metadata", string(metadata)); err != nil {
		return nil, fmt.Errorf("failed to write metadata field: %w", err)
	}

	contextBlock, err := json.Marshal(job.Context)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal context: %w", err)
	}
	if err := writer.WriteField("context", string(contextBlock)); err != nil {
		return nil, fmt.Errorf("failed to write context field: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/api/audio/process", &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatch request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)

	return d.httpClient.Do(req)
}

// backoff sleeps the exponential delay for the given transient attempt.
// Returns false if the context was cancelled while waiting.
func (d *Dispatcher) backoff(ctx context.Context, attempt int) bool {
	delay := d.backoffBase << (attempt - 1)
	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}

// classifyResponse maps a 200 response body into a typed outcome by its
// declared response_type. The body is an open map: unknown keys are ignored,
// required keys are validated explicitly.
func classifyResponse(body []byte) entities.RemoteOutcome {
	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		return entities.FailureOutcome(entities.FailureUnknownResponse,
			"malformed response body: %v", err)
	}

	responseType, _ := parsed["response_type"].(string)
	switch responseType {
	case "audio":
		encoded, _ := parsed["audio_data"].(string)
		if encoded == "" {
			return entities.FailureOutcome(entities.FailureUnknownResponse,
				"audio response missing audio_data")
		}
		audio, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return entities.FailureOutcome(entities.FailureUnknownResponse,
				"audio response payload is not valid base64: %v", err)
		}
		// The declared rate passes through unchanged; resampling is the
		// playback peer's concern.
		sampleRate := intField(parsed, "sample_rate")
		return entities.AudioOutcome(audio, sampleRate)

	case "text":
		text, _ := parsed["text"].(string)
		if text == "" {
			return entities.FailureOutcome(entities.FailureUnknownResponse,
				"text response missing text")
		}
		return entities.TextOutcome(text)

	case "action":
		action, _ := parsed["action"].(map[string]any)
		actionID, _ := action["id"].(string)
		if actionID == "" {
			return entities.FailureOutcome(entities.FailureUnknownResponse,
				"action response missing action id")
		}
		params, _ := action["params"].(map[string]any)
		return entities.ActionOutcome(actionID, params)

	default:
		return entities.FailureOutcome(entities.FailureUnknownResponse,
			"unrecognized response_type %q", responseType)
	}
}

func intField(m map[string]any, key string) int {
	if v, ok := m[key].(float64); ok {
		return int(v)
	}
	return 0
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
