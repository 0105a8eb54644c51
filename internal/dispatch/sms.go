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

// smsMaxRunes truncates message bodies to a single segment-friendly length.
const smsMaxRunes = 320

// SMSChannel delivers notifications through an HTTP SMS provider API.
type SMSChannel struct {
	id     string
	url    string
	phone  string
	minSev model.Severity
	client *http.Client
}

// NewSMSChannel validates the SMS configuration and returns the channel.
func NewSMSChannel(cfg config.ChannelConfig) (*SMSChannel, error) {
	if cfg.SMSURL == "" {
		return nil, eris.Errorf("dispatch: sms channel %s missing sms_url", cfg.ID)
	}
	if cfg.Phone == "" {
		return nil, eris.Errorf("dispatch: sms channel %s missing phone", cfg.ID)
	}
	return &SMSChannel{
		id:     cfg.ID,
		url:    cfg.SMSURL,
		phone:  cfg.Phone,
		minSev: minSeverity(cfg.MinSeverity),
		client: &http.Client{Timeout: 15 * time.Second},
	}, nil
}

func (c *SMSChannel) ID() string                  { return c.id }
func (c *SMSChannel) Type() string                { return "sms" }
func (c *SMSChannel) MinSeverity() model.Severity { return c.minSev }

// TestConnection probes the provider endpoint without queueing a message.
func (c *SMSChannel) TestConnection(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.url, nil)
	if err != nil {
		return eris.Wrap(err, "sms: create test request")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "sms: test connection")
	}
	defer resp.Body.Close()

	// Providers commonly reject HEAD on message endpoints; any response
	// below 500 still proves the endpoint is reachable.
	if resp.StatusCode >= 500 {
		return eris.Errorf("sms: provider returned status %d", resp.StatusCode)
	}
	return nil
}

type smsPayload struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

func (c *SMSChannel) Send(ctx context.Context, n Notification) error {
	text := title(n) + ": " + n.Message
	if runes := []rune(text); len(runes) > smsMaxRunes {
		text = string(runes[:smsMaxRunes-1]) + "…"
	}

	body, err := json.Marshal(smsPayload{To: c.phone, Body: text})
	if err != nil {
		return eris.Wrap(err, "sms: marshal payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "sms: create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return resilience.NewTransientError(eris.Wrap(err, "sms: send"), 0)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := eris.Errorf("sms: provider returned status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(err, resp.StatusCode)
		}
		return err
	}
	return nil
}
