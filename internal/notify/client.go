package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
)

// Event types emitted by the detection pipelines.
const (
	EventSpeechStart = "speech_start"
	EventSpeechEnd   = "speech_end"
	EventWakeword    = "wakeword"
)

// Event is one detection event delivered to the webhook.
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	StreamID   uint32    `json:"stream_id"`
	SessionID  string    `json:"session_id"`
	Label      string    `json:"label,omitempty"`
	Score      float32   `json:"score"`
	SampleRate int       `json:"sample_rate"`
	Timestamp  time.Time `json:"timestamp"`

	// Snapshot holds an optional WAV capture of the audio around the
	// event. Sent as a multipart file, not in the JSON body.
	Snapshot []byte `json:"-"`
}

// NewEvent creates an event with a fresh ID and current timestamp.
func NewEvent(eventType string, streamID uint32, sessionID string) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		StreamID:  streamID,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
	}
}

// Config contains webhook client configuration
type Config struct {
	Endpoint      string
	APIKey        string
	Timeout       time.Duration
	MaxRetries    int
	MaxConcurrent int

	// RetryHook, when set, is called once per retry attempt.
	RetryHook func()
}

// ClientStats represents client statistics
type ClientStats struct {
	TotalEvents      uint64        `json:"total_events"`
	DeliveredEvents  uint64        `json:"delivered_events"`
	FailedEvents     uint64        `json:"failed_events"`
	SuccessRate      float64       `json:"success_rate"`
	TotalRetries     uint64        `json:"total_retries"`
	AvgResponseTime  time.Duration `json:"avg_response_time"`
	ActiveDeliveries int           `json:"active_deliveries"`
}

// Client delivers detection events to a webhook endpoint with retries and
// a bounded number of concurrent deliveries.
type Client struct {
	config     Config
	httpClient *http.Client
	semaphore  chan struct{} // Rate limiting semaphore

	// Statistics
	totalEvents     uint64
	deliveredEvents uint64
	failedEvents    uint64
	totalRetries    uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// NewClient creates a new webhook client
func NewClient(config Config) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}

	if config.MaxRetries < 0 {
		config.MaxRetries = 3
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 10
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		semaphore:  make(chan struct{}, config.MaxConcurrent),
	}, nil
}

// Notify delivers one event, retrying with exponential backoff on
// retryable failures.
func (c *Client) Notify(ctx context.Context, event *Event) error {
	// Acquire semaphore for rate limiting
	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return ctx.Err()
	}

	startTime := time.Now()
	c.incrementTotalEvents()

	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.incrementTotalRetries()
			if c.config.RetryHook != nil {
				c.config.RetryHook()
			}

			// Exponential backoff, capped
			backoffTime := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
			if backoffTime > 30*time.Second {
				backoffTime = 30 * time.Second
			}

			select {
			case <-time.After(backoffTime):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := c.doRequest(ctx, event)
		if err == nil {
			c.incrementDeliveredEvents()
			c.updateAvgResponseTime(time.Since(startTime))
			return nil
		}

		lastErr = err

		if !c.isRetryableError(err) {
			break
		}
	}

	c.incrementFailedEvents()
	return fmt.Errorf("event delivery failed after %d attempts: %w", c.config.MaxRetries+1, lastErr)
}

// doRequest performs a single HTTP POST to the webhook
func (c *Client) doRequest(ctx context.Context, event *Event) error {
	var body io.Reader
	var contentType string
	var err error

	if len(event.Snapshot) > 0 {
		body, contentType, err = c.createMultipartRequest(event)
		if err != nil {
			return fmt.Errorf("failed to create multipart request: %w", err)
		}
	} else {
		payload, err := sonic.Marshal(event)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		body = bytes.NewReader(payload)
		contentType = "application/json"
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.config.Endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", "Web-ASR-Core/1.0")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP error %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// createMultipartRequest builds a multipart body with the event JSON and
// the WAV snapshot as a file part.
func (c *Client) createMultipartRequest(event *Event) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	payload, err := sonic.Marshal(event)
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := writer.WriteField("event", string(payload)); err != nil {
		return nil, "", fmt.Errorf("failed to write event field: %w", err)
	}

	filename := fmt.Sprintf("%s.wav", event.ID)
	fileWriter, err := writer.CreateFormFile("snapshot", filename)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fileWriter.Write(event.Snapshot); err != nil {
		return nil, "", fmt.Errorf("failed to write snapshot data: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

// isRetryableError determines if an error is retryable
func (c *Client) isRetryableError(err error) bool {
	if err == context.DeadlineExceeded {
		return true
	}

	errStr := err.Error()

	// 5xx server errors and rate limiting are retryable
	if strings.Contains(errStr, "HTTP error 5") || strings.Contains(errStr, "HTTP error 429") {
		return true
	}

	// Network/connection errors are typically retryable
	if strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "refused") {
		return true
	}

	return false
}

// Statistics methods
func (c *Client) incrementTotalEvents() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalEvents++
}

func (c *Client) incrementDeliveredEvents() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deliveredEvents++
}

func (c *Client) incrementFailedEvents() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedEvents++
}

func (c *Client) incrementTotalRetries() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRetries++
}

func (c *Client) updateAvgResponseTime(responseTime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Simple moving average
	if c.avgResponseTime == 0 {
		c.avgResponseTime = responseTime
	} else {
		c.avgResponseTime = (c.avgResponseTime + responseTime) / 2
	}
}

// GetStats returns current client statistics
func (c *Client) GetStats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	successRate := float64(0)
	if c.totalEvents > 0 {
		successRate = float64(c.deliveredEvents) / float64(c.totalEvents) * 100
	}

	return ClientStats{
		TotalEvents:      c.totalEvents,
		DeliveredEvents:  c.deliveredEvents,
		FailedEvents:     c.failedEvents,
		SuccessRate:      successRate,
		TotalRetries:     c.totalRetries,
		AvgResponseTime:  c.avgResponseTime,
		ActiveDeliveries: len(c.semaphore),
	}
}

// Close gracefully shuts down the client after in-flight deliveries finish.
func (c *Client) Close() error {
	for i := 0; i < c.config.MaxConcurrent; i++ {
		c.semaphore <- struct{}{}
	}
	return nil
}
