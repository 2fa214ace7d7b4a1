package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cvejlbo/avs-device-sdk/internal/audio"
	"github.com/cvejlbo/avs-device-sdk/internal/kwd"
	"github.com/cvejlbo/avs-device-sdk/internal/metrics"
)

// Headers set on every webhook request
const (
	HeaderEventType = "X-KWD-Event"
	HeaderEventID   = "X-KWD-Event-ID"
	HeaderSignature = "X-KWD-Signature"
)

var ErrWebhookClosed = errors.New("webhook closed")

// WebhookConfig contains webhook forwarder configuration
type WebhookConfig struct {
	URL           string
	Secret        string // HMAC-SHA256 key for HeaderSignature; empty disables signing
	Timeout       time.Duration
	MaxRetries    int
	MaxConcurrent int
	QueueSize     int
	IncludeState  bool          // forward state events as well as detections
	BaseBackoff   time.Duration // first retry delay, doubled per attempt
	MaxBackoff    time.Duration
}

// Webhook forwards detector events as JSON POST requests. It implements
// kwd.KeyWordObserver and kwd.StateObserver; callbacks only enqueue, so a
// slow endpoint never stalls the detection loop.
type Webhook struct {
	config     WebhookConfig
	httpClient *http.Client
	semaphore  chan struct{}
	queue      chan Event
	logger     *slog.Logger
	metrics    *metrics.Metrics

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	inflight sync.WaitGroup

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	totalRetries    uint64
	droppedEvents   uint64
	avgResponseTime time.Duration

	closed bool
	mu     sync.RWMutex
}

// WebhookStats represents webhook statistics
type WebhookStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	TotalRetries    uint64        `json:"total_retries"`
	DroppedEvents   uint64        `json:"dropped_events"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveRequests  int           `json:"active_requests"`
	QueueSize       int           `json:"queue_size"`
}

// statusError is returned for non-2xx responses
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP error %d: %s", e.code, e.body)
}

// NewWebhook creates a webhook forwarder and starts its dispatcher
func NewWebhook(config WebhookConfig, logger *slog.Logger, m *metrics.Metrics) (*Webhook, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("webhook url cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}

	if config.MaxRetries < 0 {
		config.MaxRetries = 3
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 4
	}

	if config.QueueSize <= 0 {
		config.QueueSize = 100
	}

	if config.BaseBackoff <= 0 {
		config.BaseBackoff = time.Second
	}

	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 30 * time.Second
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	ctx, cancel := context.WithCancel(context.Background())

	w := &Webhook{
		config:     config,
		httpClient: httpClient,
		semaphore:  make(chan struct{}, config.MaxConcurrent),
		queue:      make(chan Event, config.QueueSize),
		logger:     logger,
		metrics:    m,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	go w.dispatch()

	return w, nil
}

// OnKeyWordDetected queues a keyword event
func (w *Webhook) OnKeyWordDetected(stream *audio.Stream, keyword string, beginIndex, endIndex audio.Index) {
	w.Enqueue(NewKeywordEvent(keyword, beginIndex, endIndex))
}

// OnStateChanged queues a state event when IncludeState is set
func (w *Webhook) OnStateChanged(state kwd.State) {
	if w.config.IncludeState {
		w.Enqueue(NewStateEvent(state))
	}
}

// Enqueue queues ev for delivery. It returns false if the queue is full or
// the webhook is closed.
func (w *Webhook) Enqueue(ev Event) bool {
	// The read lock keeps Close from closing the queue under a send
	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		return false
	}

	select {
	case w.queue <- ev:
		w.mu.RUnlock()
		return true
	default:
	}
	w.mu.RUnlock()

	w.incrementDroppedEvents()
	w.logger.Warn("Webhook queue full, dropping event",
		slog.String("event_id", ev.ID),
		slog.String("type", string(ev.Type)),
	)
	return false
}

// dispatch delivers queued events with at most MaxConcurrent in flight
func (w *Webhook) dispatch() {
	defer close(w.done)

	for ev := range w.queue {
		select {
		case w.semaphore <- struct{}{}:
		case <-w.ctx.Done():
			w.incrementFailedRequests()
			continue
		}

		w.inflight.Add(1)
		go func(ev Event) {
			defer w.inflight.Done()
			defer func() { <-w.semaphore }()

			if err := w.Send(w.ctx, ev); err != nil {
				w.logger.Error("Webhook delivery failed",
					slog.String("event_id", ev.ID),
					slog.String("type", string(ev.Type)),
					slog.String("error", err.Error()),
				)
				return
			}
			w.logger.Debug("Webhook delivered",
				slog.String("event_id", ev.ID),
				slog.String("type", string(ev.Type)),
			)
		}(ev)
	}

	w.inflight.Wait()
}

// Send delivers ev synchronously, retrying with exponential backoff
func (w *Webhook) Send(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	startTime := time.Now()
	w.incrementTotalRequests()

	var lastErr error
	retries := 0

	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			retries++
			w.incrementTotalRetries()

			backoffTime := time.Duration(math.Pow(2, float64(attempt-1))) * w.config.BaseBackoff
			if backoffTime > w.config.MaxBackoff {
				backoffTime = w.config.MaxBackoff
			}

			select {
			case <-time.After(backoffTime):
			case <-ctx.Done():
				w.incrementFailedRequests()
				w.metrics.RecordWebhookRequest(false, time.Since(startTime).Seconds(), retries)
				return ctx.Err()
			}
		}

		err := w.doRequest(ctx, ev, body)
		if err == nil {
			w.incrementSuccessRequests()
			w.updateAvgResponseTime(time.Since(startTime))
			w.metrics.RecordWebhookRequest(true, time.Since(startTime).Seconds(), retries)
			return nil
		}

		lastErr = err

		if !isRetryableError(err) {
			break
		}
	}

	w.incrementFailedRequests()
	w.metrics.RecordWebhookRequest(false, time.Since(startTime).Seconds(), retries)
	return fmt.Errorf("webhook delivery failed after %d attempts: %w", retries+1, lastErr)
}

// doRequest performs a single POST
func (w *Webhook) doRequest(ctx context.Context, ev Event, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "kwd/1.0")
	req.Header.Set(HeaderEventType, string(ev.Type))
	req.Header.Set(HeaderEventID, ev.ID)
	if w.config.Secret != "" {
		req.Header.Set(HeaderSignature, Sign(w.config.Secret, body))
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &statusError{code: resp.StatusCode, body: string(respBody)}
	}

	return nil
}

// isRetryableError reports whether a failed delivery may succeed later:
// server errors, rate limiting and network failures
func isRetryableError(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500 || se.code == http.StatusTooManyRequests
	}

	if errors.Is(err, context.Canceled) {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// Sign returns the hex HMAC-SHA256 of body keyed by secret
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a HeaderSignature value against body
func VerifySignature(secret string, body []byte, signature string) bool {
	return hmac.Equal([]byte(signature), []byte(Sign(secret, body)))
}

// Statistics methods
func (w *Webhook) incrementTotalRequests() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.totalRequests++
}

func (w *Webhook) incrementSuccessRequests() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.successRequests++
}

func (w *Webhook) incrementFailedRequests() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failedRequests++
}

func (w *Webhook) incrementTotalRetries() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.totalRetries++
}

func (w *Webhook) incrementDroppedEvents() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.droppedEvents++
}

func (w *Webhook) updateAvgResponseTime(responseTime time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	// Simple moving average
	if w.avgResponseTime == 0 {
		w.avgResponseTime = responseTime
	} else {
		w.avgResponseTime = (w.avgResponseTime + responseTime) / 2
	}
}

// GetStats returns current webhook statistics
func (w *Webhook) GetStats() WebhookStats {
	w.mu.RLock()
	defer w.mu.RUnlock()

	successRate := float64(0)
	if w.totalRequests > 0 {
		successRate = float64(w.successRequests) / float64(w.totalRequests) * 100
	}

	return WebhookStats{
		TotalRequests:   w.totalRequests,
		SuccessRequests: w.successRequests,
		FailedRequests:  w.failedRequests,
		SuccessRate:     successRate,
		TotalRetries:    w.totalRetries,
		DroppedEvents:   w.droppedEvents,
		AvgResponseTime: w.avgResponseTime,
		ActiveRequests:  len(w.semaphore),
		QueueSize:       len(w.queue),
	}
}

// Close stops accepting events and waits for queued deliveries to finish.
// When ctx expires first, in-flight deliveries are cancelled.
func (w *Webhook) Close(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.queue)
	w.mu.Unlock()

	select {
	case <-w.done:
		w.cancel()
		return nil
	case <-ctx.Done():
		w.cancel()
		<-w.done
		return fmt.Errorf("%w before queue drained: %v", ErrWebhookClosed, ctx.Err())
	}
}
