// Package store persists alerts, the notification outbox, and score
// history snapshots behind a driver-agnostic interface. SQLite backs
// single-node deployments; Postgres backs shared ones.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-alerts/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = eris.New("store: not found")

// OutboxStatus tracks a notification through the delivery outbox.
type OutboxStatus string

const (
	OutboxPending   OutboxStatus = "pending"
	OutboxDelivered OutboxStatus = "delivered"
	OutboxFailed    OutboxStatus = "delivery_failed"
	OutboxCancelled OutboxStatus = "cancelled"
)

// OutboxEntry is one notification awaiting delivery on one channel.
// Entries are written in the same transaction scope as the alert
// transition that produced them and drained by the dispatch workers.
type OutboxEntry struct {
	ID            string       `json:"id"`
	AlertID       string       `json:"alertId"`
	ChannelID     string       `json:"channelId"`
	Kind          string       `json:"kind"` // transition kind that produced the notification
	Payload       []byte       `json:"payload"`
	Status        OutboxStatus `json:"status"`
	Attempts      int          `json:"attempts"`
	MaxAttempts   int          `json:"maxAttempts"`
	NextAttemptAt time.Time    `json:"nextAttemptAt"`
	LastError     string       `json:"lastError,omitempty"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}

// CanRetry reports whether the entry has delivery attempts remaining.
func (e *OutboxEntry) CanRetry() bool {
	return e.Attempts < e.MaxAttempts
}

// AlertFilter specifies criteria for listing persisted alerts.
type AlertFilter struct {
	States   []model.AlertState `json:"states,omitempty"`
	Type     model.AlertType    `json:"type,omitempty"`
	Severity model.Severity     `json:"severity,omitempty"`
	EntityID string             `json:"entityId,omitempty"`
	Limit    int                `json:"limit,omitempty"`
	Offset   int                `json:"offset,omitempty"`
}

// Store defines the persistence interface for the alerting engine.
type Store interface {
	// Alerts
	SaveAlert(ctx context.Context, a model.Alert) error
	GetAlert(ctx context.Context, id string) (*model.Alert, error)
	ListAlerts(ctx context.Context, filter AlertFilter) ([]model.Alert, error)

	// Outbox
	EnqueueOutbox(ctx context.Context, entry OutboxEntry) error
	DueOutbox(ctx context.Context, now time.Time, limit int) ([]OutboxEntry, error)
	UpdateOutbox(ctx context.Context, entry OutboxEntry) error

	// Score history snapshots
	AppendScorePoint(ctx context.Context, leadID string, p model.ScoreHistoryPoint) error
	ScorePoints(ctx context.Context, leadID string, since time.Time) ([]model.ScoreHistoryPoint, error)
	DeleteScorePointsBefore(ctx context.Context, cutoff time.Time) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
