package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/rentline/voicebridge/internal/observe"
)

// CallSummary is the payload of the post-call notification: the call
// identity plus whatever context fields were captured at start time.
type CallSummary struct {
	NotificationID string    `json:"notification_id"`
	CallSid        string    `json:"call_sid"`
	StreamSid      string    `json:"stream_sid"`
	CallerPhone    string    `json:"caller_phone"`
	CallerName     string    `json:"caller_name,omitempty"`
	CallerStage    string    `json:"caller_stage,omitempty"`
	CallerProperty string    `json:"caller_property,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	EndedAt        time.Time `json:"ended_at"`
}

// PostCallFunc delivers one call summary. Implementations must not block the
// caller; [Notifier.Notify] satisfies this.
type PostCallFunc func(CallSummary)

// Notifier fires the post-call hook. Delivery is fire-and-forget: each
// notification runs on its own goroutine with a bounded timeout, failures
// are logged and counted but never retried, and teardown never waits on it.
type Notifier struct {
	url     string
	timeout time.Duration
	client  *http.Client
	metrics *observe.Metrics
	logger  *slog.Logger
}

// NewNotifier creates a Notifier posting to url. A zero timeout defaults to
// 5 seconds. An empty url disables delivery; Notify becomes a logged no-op.
func NewNotifier(url string, timeout time.Duration, metrics *observe.Metrics, logger *slog.Logger) *Notifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		url:     url,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
		metrics: metrics,
		logger:  logger,
	}
}

// Notify delivers the summary on a detached goroutine and returns
// immediately. The summary's NotificationID is assigned here.
func (n *Notifier) Notify(summary CallSummary) {
	summary.NotificationID = uuid.NewString()

	if n.url == "" {
		n.logger.Debug("postcall: no hook configured, skipping",
			"call_sid", summary.CallSid)
		return
	}

	go func() {
		if err := n.deliver(summary); err != nil {
			n.logger.Warn("postcall: notification failed",
				"call_sid", summary.CallSid,
				"notification_id", summary.NotificationID,
				"err", err)
			if n.metrics != nil {
				n.metrics.PostCallFailures.Add(context.Background(), 1)
			}
			return
		}
		n.logger.Debug("postcall: notification delivered",
			"call_sid", summary.CallSid,
			"notification_id", summary.NotificationID)
	}()
}

func (n *Notifier) deliver(summary CallSummary) error {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	body, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("bridge: postcall marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("bridge: postcall request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("bridge: postcall post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("bridge: postcall post: status %d", resp.StatusCode)
	}
	return nil
}
