package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-alerts/internal/config"
	"github.com/sells-group/lead-alerts/internal/model"
	"github.com/sells-group/lead-alerts/internal/resilience"
)

// PushChannel delivers notifications as JSON webhooks to a push
// gateway, addressed to a device token.
type PushChannel struct {
	id          string
	url         string
	deviceToken string
	minSev      model.Severity
	client      *http.Client
}

// NewPushChannel validates the push configuration and returns the channel.
func NewPushChannel(cfg config.ChannelConfig) (*PushChannel, error) {
	if cfg.WebhookURL == "" {
		return nil, eris.Errorf("dispatch: push channel %s missing webhook_url", cfg.ID)
	}
	return &PushChannel{
		id:          cfg.ID,
		url:         cfg.WebhookURL,
		deviceToken: cfg.DeviceToken,
		minSev:      minSeverity(cfg.MinSeverity),
		client:      &http.Client{Timeout: 15 * time.Second},
	}, nil
}

func (c *PushChannel) ID() string                  { return c.id }
func (c *PushChannel) Type() string                { return "push" }
func (c *PushChannel) MinSeverity() model.Severity { return c.minSev }

type pushPayload struct {
	DeviceToken string       `json:"deviceToken,omitempty"`
	Title       string       `json:"title"`
	Body        string       `json:"body"`
	Alert       Notification `json:"alert"`
}

func (c *PushChannel) Send(ctx context.Context, n Notification) error {
	payload := pushPayload{
		DeviceToken: c.deviceToken,
		Title:       title(n),
		Body:        n.Message,
		Alert:       n,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrap(err, "push: marshal payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "push: create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return resilience.NewTransientError(eris.Wrap(err, "push: send"), 0)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := eris.Errorf("push: gateway returned status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(err, resp.StatusCode)
		}
		return err
	}
	return nil
}

// TestConnection posts a marked test payload to the gateway.
func (c *PushChannel) TestConnection(ctx context.Context) error {
	body, err := json.Marshal(map[string]any{"deviceToken": c.deviceToken, "test": true})
	if err != nil {
		return eris.Wrap(err, "push: marshal test payload")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "push: create test request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "push: test connection")
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return eris.Errorf("push: gateway returned status %d", resp.StatusCode)
	}
	return nil
}

// title renders the notification headline shown by push and SMS channels.
func title(n Notification) string {
	return string(n.Severity) + " " + string(n.Type) + " alert for " + n.EntityID
}
