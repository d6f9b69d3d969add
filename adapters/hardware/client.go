package hardware

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/puertocho/assistant-gateway/domain/repositories"
)

// Client talks to the hardware capture/playback bridge over HTTP. It is the
// gateway's only view of the physical device: it hands response audio over
// for playback and signals queue backpressure so the bridge stops handing
// off captures.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

var _ repositories.AudioPlayer = (*Client)(nil)

// NewClient creates a hardware bridge client. Playback calls can hold the
// connection open for the duration of the audio, so the client's timeout is
// generous.
func NewClient(baseURL string, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Play posts response audio to the bridge and blocks until the bridge
// confirms playback has finished.
func (c *Client) Play(ctx context.Context, audio []byte, sampleRate int) error {
	url := c.baseURL + "/api/audio/play?sample_rate=" + strconv.Itoa(sampleRate)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(audio))
	if err != nil {
		return fmt.Errorf("failed to create playback request: %w", err)
	}
	req.Header.Set("Content-Type", "audio/wav")

	c.logger.Info("Sending audio to hardware for playback",
		zap.Int("sizeBytes", len(audio)),
		zap.Int("sampleRate", sampleRate))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("playback request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errorBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("hardware rejected playback: status %d: %s", resp.StatusCode, string(errorBody))
	}
	return nil
}

// NotifyBackpressure tells the bridge whether the audio job queue is full.
func (c *Client) NotifyBackpressure(ctx context.Context, queueFull bool) error {
	payload, err := json.Marshal(map[string]any{"queue_full": queueFull})
	if err != nil {
		return fmt.Errorf("failed to marshal backpressure payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/capture/backpressure", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create backpressure request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("backpressure request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("hardware rejected backpressure signal: status %d", resp.StatusCode)
	}

	c.logger.Debug("Backpressure signal delivered", zap.Bool("queueFull", queueFull))
	return nil
}
