package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ignite/habit-coach/internal/domain"
	"github.com/ignite/habit-coach/internal/pkg/httpretry"
)

// pushPayload is the body posted to the push gateway.
type pushPayload struct {
	MessageID string                 `json:"message_id"`
	UserID    string                 `json:"user_id"`
	Category  domain.MessageCategory `json:"category"`
	Title     string                 `json:"title,omitempty"`
	Body      string                 `json:"body"`
	SentAt    time.Time              `json:"sent_at"`
}

// PushDeliverer posts messages to an HTTP push gateway. Transient gateway
// errors are retried by the underlying httpretry client.
type PushDeliverer struct {
	url    string
	token  string
	client *httpretry.RetryClient
}

// NewPushDeliverer creates a deliverer for the gateway at url. retries is
// the number of in-call retries after the first request.
func NewPushDeliverer(url, token string, timeout time.Duration, retries int, backoff time.Duration) *PushDeliverer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &PushDeliverer{
		url:    url,
		token:  token,
		client: httpretry.NewRetryClient(&http.Client{Timeout: timeout}, retries, httpretry.WithBackoff(backoff, 0)),
	}
}

// Deliver sends one message. Any non-2xx answer is a *DeliveryError.
func (p *PushDeliverer) Deliver(ctx context.Context, m *domain.CoachingMessage) error {
	body, err := json.Marshal(pushPayload{
		MessageID: m.ID,
		UserID:    m.UserID,
		Category:  m.Category,
		Title:     m.Title,
		Body:      m.Body,
		SentAt:    time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal push payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", m.ID)
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return &DeliveryError{MessageID: m.ID, Attempts: p.client.MaxAttempts(), Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &DeliveryError{MessageID: m.ID, StatusCode: resp.StatusCode, Attempts: p.client.MaxAttempts()}
	}
	return nil
}

// LogDeliverer only logs. It is used when no push gateway is configured.
type LogDeliverer struct{}

// Deliver logs the message and succeeds.
func (LogDeliverer) Deliver(_ context.Context, m *domain.CoachingMessage) error {
	log.Info("push gateway not configured, message logged only",
		"message_id", m.ID, "user_id", m.UserID, "category", string(m.Category))
	return nil
}
