package webhook

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"payment-service/internal/config"

	"github.com/pkg/errors"
)

const (
	defaultTimeoutMs = 10_000
	userAgent        = "payment-service-webhook/1.0"

	HeaderSignature = "X-Webhook-Signature"
	HeaderEvent     = "X-Webhook-Event"
)

// SendResult captures the response context of one delivery attempt, for
// the audit log. It is populated even when the attempt counts as failed.
type SendResult struct {
	StatusCode int
	Body       string
}

// Sender POSTs signed webhook bodies to merchant callback URLs. Success
// is any 2xx response within the timeout.
type Sender struct {
	client *http.Client
	signer *Signer
}

func NewSender(cfg config.WebhookSender, signer *Signer) *Sender {
	timeoutMs := cfg.TimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = defaultTimeoutMs
	}
	return &Sender{
		client: &http.Client{Timeout: time.Duration(timeoutMs) * time.Millisecond},
		signer: signer,
	}
}

func (s *Sender) Send(ctx context.Context, url, event, payload string) (*SendResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBufferString(payload))
	if err != nil {
		return nil, errors.Wrap(err, "creating webhook request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderSignature, s.signer.Sign([]byte(payload)))
	req.Header.Set(HeaderEvent, event)
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "sending webhook")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &SendResult{StatusCode: resp.StatusCode}, errors.Wrap(err, "reading webhook response")
	}

	result := &SendResult{StatusCode: resp.StatusCode, Body: string(body)}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return result, errors.Errorf("non-2xx response: %s", resp.Status)
	}
	return result, nil
}
