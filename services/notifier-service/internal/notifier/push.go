package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
)

// PushSender delivers one push payload to one user's devices.
type PushSender interface {
	Send(ctx context.Context, userID string, payload []byte) error
	ProviderID() string
}

// WebhookPushSender posts pushes to an external delivery bridge.
type WebhookPushSender struct {
	url   string
	token string
	http  *http.Client
}

func NewWebhookPushSender(url string, token string) *WebhookPushSender {
	return &WebhookPushSender{
		url:   strings.TrimSpace(url),
		token: strings.TrimSpace(token),
		http: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

func (s *WebhookPushSender) ProviderID() string {
	return "push-webhook"
}

func (s *WebhookPushSender) Send(ctx context.Context, userID string, payload []byte) error {
	if s.url == "" {
		return errors.New("push webhook url not configured")
	}
	body, err := json.Marshal(map[string]any{
		"userId":  userID,
		"payload": json.RawMessage(payload),
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.New("push webhook returned non-2xx")
	}
	return nil
}

type NoopPushSender struct{}

func NewNoopPushSender() *NoopPushSender {
	return &NoopPushSender{}
}

func (s *NoopPushSender) ProviderID() string {
	return "push-noop"
}

func (s *NoopPushSender) Send(_ context.Context, _ string, _ []byte) error {
	return nil
}
