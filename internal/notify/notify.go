package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Notifier posts plain-text messages to an ntfy-style endpoint.
type Notifier struct {
	client   *http.Client
	endpoint string
}

// New returns nil when endpoint is empty so callers can treat the notifier
// as optional.
func New(client *http.Client, endpoint string) *Notifier {
	if strings.TrimSpace(endpoint) == "" {
		return nil
	}
	return &Notifier{client: client, endpoint: endpoint}
}

// Notify sends message. A nil Notifier is a no-op.
func (n *Notifier) Notify(ctx context.Context, message string) error {
	if n == nil {
		return nil
	}
	return Send(ctx, n.client, n.endpoint, message)
}

// CompletionMessage summarises a fan-out run.
func CompletionMessage(delivered, total int, failedService string) string {
	if failedService != "" {
		return fmt.Sprintf("Ask to AI stopped at %s after %d of %d services.", failedService, delivered, total)
	}
	return fmt.Sprintf("Ask to AI delivered your prompt to all %d services.", total)
}

// Send sends a message to the requested endpoint using HTTP POST.
func Send(ctx context.Context, client *http.Client, endpoint, message string) error {
	c := client
	if c == nil {
		c = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(message))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Title", "Ask to AI")

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy notification failed: status=%d", resp.StatusCode)
	}
	return nil
}
