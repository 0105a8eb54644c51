package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/lead-alerts/internal/lifecycle"
	"github.com/sells-group/lead-alerts/internal/store"
)

// OutboxWriter is the slice of the store the fanout needs.
type OutboxWriter interface {
	EnqueueOutbox(ctx context.Context, entry store.OutboxEntry) error
}

// Fanout turns alert lifecycle transitions into outbox entries, one per
// eligible channel. It subscribes to the lifecycle manager and must not
// block it, so store writes happen on a short-lived goroutine.
type Fanout struct {
	outbox      OutboxWriter
	channels    []Channel
	maxAttempts int
	nowFunc     func() time.Time
	log         *zap.Logger
}

// NewFanout wires the transition listener. maxAttempts caps delivery
// retries per entry before it is marked delivery_failed.
func NewFanout(outbox OutboxWriter, channels []Channel, maxAttempts int) *Fanout {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Fanout{
		outbox:      outbox,
		channels:    channels,
		maxAttempts: maxAttempts,
		nowFunc:     time.Now,
		log:         zap.L().With(zap.String("component", "fanout")),
	}
}

// OnTransition implements lifecycle.Listener. Only newly created alerts
// produce notifications; acknowledge/snooze/resolve are user-initiated
// and need no outbound delivery.
func (f *Fanout) OnTransition(t lifecycle.Transition) {
	if t.Kind != lifecycle.TransitionCreated {
		return
	}

	n := Notification{
		AlertID:   t.Alert.ID,
		EntityID:  t.Alert.EntityID,
		Type:      t.Alert.Type,
		Severity:  t.Alert.Severity,
		Message:   t.Alert.Message,
		Details:   t.Alert.Details,
		Kind:      string(t.Kind),
		CreatedAt: t.Alert.CreatedAt,
	}
	payload, err := json.Marshal(n)
	if err != nil {
		f.log.Error("marshal notification", zap.String("alert_id", n.AlertID), zap.Error(err))
		return
	}

	now := f.nowFunc().UTC()
	var entries []store.OutboxEntry
	for _, ch := range f.channels {
		if !accepts(ch, n.Severity) {
			continue
		}
		entries = append(entries, store.OutboxEntry{
			ID:            uuid.New().String(),
			AlertID:       n.AlertID,
			ChannelID:     ch.ID(),
			Kind:          string(t.Kind),
			Payload:       payload,
			Status:        store.OutboxPending,
			MaxAttempts:   f.maxAttempts,
			NextAttemptAt: now,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
	}
	if len(entries) == 0 {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		for _, e := range entries {
			if err := f.outbox.EnqueueOutbox(ctx, e); err != nil {
				f.log.Error("enqueue notification",
					zap.String("alert_id", e.AlertID),
					zap.String("channel", e.ChannelID),
					zap.Error(err),
				)
			}
		}
	}()
}
