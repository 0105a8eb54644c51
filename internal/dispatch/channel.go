// Package dispatch delivers alert notifications through configured
// channels. Deliveries flow through a durable outbox so that channel
// outages never block or lose alert processing.
package dispatch

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-alerts/internal/config"
	"github.com/sells-group/lead-alerts/internal/model"
)

// Notification is the channel-independent payload stored in the outbox.
type Notification struct {
	AlertID   string          `json:"alertId"`
	EntityID  string          `json:"entityId"`
	Type      model.AlertType `json:"type"`
	Severity  model.Severity  `json:"severity"`
	Message   string          `json:"message"`
	Details   map[string]any  `json:"details,omitempty"`
	Kind      string          `json:"kind"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Channel sends notifications to one configured endpoint.
type Channel interface {
	// ID uniquely identifies the channel instance in the outbox.
	ID() string

	// Type is the delivery mechanism: push, email, or sms.
	Type() string

	// MinSeverity is the least severe alert this channel accepts.
	MinSeverity() model.Severity

	// Send delivers one notification. Transient failures should be
	// reported via resilience.TransientError so the dispatcher can
	// schedule a retry.
	Send(ctx context.Context, n Notification) error

	// TestConnection probes the endpoint without delivering a
	// user-visible notification, beyond at most a test message.
	TestConnection(ctx context.Context) error
}

// BuildChannels constructs channels from configuration, skipping
// disabled entries. Unknown channel types are an error.
func BuildChannels(cfgs []config.ChannelConfig) ([]Channel, error) {
	var channels []Channel
	for _, cfg := range cfgs {
		if !cfg.Enabled {
			continue
		}
		if cfg.ID == "" {
			return nil, eris.New("dispatch: channel missing id")
		}

		switch cfg.Type {
		case "push":
			ch, err := NewPushChannel(cfg)
			if err != nil {
				return nil, err
			}
			channels = append(channels, ch)
		case "email":
			ch, err := NewEmailChannel(cfg)
			if err != nil {
				return nil, err
			}
			channels = append(channels, ch)
		case "sms":
			ch, err := NewSMSChannel(cfg)
			if err != nil {
				return nil, err
			}
			channels = append(channels, ch)
		default:
			return nil, eris.Errorf("dispatch: unknown channel type %q for %s", cfg.Type, cfg.ID)
		}
	}
	return channels, nil
}

// minSeverity parses the configured severity floor, defaulting to low.
func minSeverity(s string) model.Severity {
	switch model.Severity(s) {
	case model.SeverityMedium, model.SeverityHigh, model.SeverityCritical:
		return model.Severity(s)
	default:
		return model.SeverityLow
	}
}

// accepts reports whether a notification meets the channel's severity floor.
func accepts(ch Channel, severity model.Severity) bool {
	return severity.Rank() >= ch.MinSeverity().Rank()
}
