package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/core/domain"
	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/core/ports"
	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/pkg/safehttp"
)

const (
	maxErrorBody = 512
	// Destinations answering with more than this are cut off instead of
	// drained, which costs the keep-alive connection.
	maxDrainBody = 64 << 10
)

// WebhookSender POSTs webhook payloads to their destination URL.
type WebhookSender struct {
	timeout time.Duration
	headers map[string]string
	client  *http.Client
}

// WebhookSenderConfig configures a WebhookSender.
type WebhookSenderConfig struct {
	Timeout time.Duration
	Headers map[string]string
	// BlockPrivate refuses destinations that resolve to private addresses.
	BlockPrivate bool
	// Transport overrides the base transport. Tests use it for httptest.
	Transport http.RoundTripper
}

var _ ports.Sender = (*WebhookSender)(nil)

// NewWebhookSender creates a sender.
func NewWebhookSender(cfg WebhookSenderConfig) *WebhookSender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	base := cfg.Transport
	if base == nil {
		if cfg.BlockPrivate {
			base = safehttp.NewTransport(0)
		} else {
			base = http.DefaultTransport
		}
	}

	return &WebhookSender{
		timeout: cfg.Timeout,
		headers: cfg.Headers,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(base),
		},
	}
}

// Send POSTs msg.Payload to msg.TargetURL. Any non-2xx status or transport
// error is a failure.
func (s *WebhookSender) Send(ctx context.Context, msg *domain.DeliveryMessage, attempt int) ports.SendResult {
	start := time.Now()
	status, err := s.doRequest(ctx, msg, attempt)
	return ports.SendResult{StatusCode: status, Err: err, Latency: time.Since(start)}
}

func (s *WebhookSender) doRequest(ctx context.Context, msg *domain.DeliveryMessage, attempt int) (int, error) {
	body, err := json.Marshal(msg.Payload)
	if err != nil {
		return 0, fmt.Errorf("marshal payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, msg.TargetURL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Delivery-ID", msg.DeliveryID)
	req.Header.Set("X-Attempt-Number", strconv.Itoa(attempt))
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBody))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	return resp.StatusCode, nil
}
