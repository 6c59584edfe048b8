package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/alanyoungcy/arbengine/internal/crypto"
)

// maxContentLen is Discord's message length limit.
const maxContentLen = 2000

// WebhookSender posts alerts to a Discord-compatible webhook.
type WebhookSender struct {
	url    string
	client *http.Client
	auth   *crypto.WebhookAuth
}

// NewWebhookSender creates a sender for url. A non-empty secret adds
// timestamp and HMAC signature headers to every request.
func NewWebhookSender(url, secret string) *WebhookSender {
	w := &WebhookSender{url: url, client: &http.Client{Timeout: 10 * time.Second}}
	if secret != "" {
		w.auth = &crypto.WebhookAuth{Secret: secret}
	}
	return w
}

func (w *WebhookSender) Name() string { return "webhook" }

func (w *WebhookSender) Send(ctx context.Context, title, message string) error {
	content := "**" + title + "**\n" + message
	if len(content) > maxContentLen {
		content = content[:maxContentLen-3] + "..."
	}
	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.auth != nil {
		for k, v := range w.auth.Headers(body) {
			req.Header.Set(k, v)
		}
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook: status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	return nil
}
