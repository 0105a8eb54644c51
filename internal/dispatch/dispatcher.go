package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/lead-alerts/internal/model"
	"github.com/sells-group/lead-alerts/internal/resilience"
	"github.com/sells-group/lead-alerts/internal/store"
)

// Outbox is the slice of the store the dispatcher needs.
type Outbox interface {
	DueOutbox(ctx context.Context, now time.Time, limit int) ([]store.OutboxEntry, error)
	UpdateOutbox(ctx context.Context, entry store.OutboxEntry) error
}

// AlertReader checks whether an alert still warrants delivery.
type AlertReader interface {
	Get(id string) (model.Alert, error)
}

// Options tunes the dispatcher.
type Options struct {
	Workers       int
	BatchSize     int
	PollInterval  time.Duration
	RatePerSecond float64
	Retry         resilience.RetryConfig
	Breaker       resilience.CircuitBreakerConfig
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 50
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.RatePerSecond <= 0 {
		o.RatePerSecond = 10
	}
	return o
}

// Metrics receives delivery outcomes; satisfied by the telemetry package.
type Metrics interface {
	NotificationSent(channelID string)
	NotificationRetried(channelID string)
	NotificationFailed(channelID string)
}

type nopMetrics struct{}

func (nopMetrics) NotificationSent(string)    {}
func (nopMetrics) NotificationRetried(string) {}
func (nopMetrics) NotificationFailed(string)  {}

// Dispatcher drains the notification outbox with a bounded worker pool.
// Each channel gets its own rate limiter and circuit breaker so a
// misbehaving provider cannot starve the others.
type Dispatcher struct {
	outbox   Outbox
	alerts   AlertReader
	channels map[string]Channel
	limiters map[string]*rate.Limiter
	breakers *resilience.ChannelBreakers
	opts     Options
	metrics  Metrics
	nowFunc  func() time.Time
	log      *zap.Logger
}

// NewDispatcher builds a dispatcher over the given channels.
func NewDispatcher(outbox Outbox, alerts AlertReader, channels []Channel, opts Options) *Dispatcher {
	opts = opts.withDefaults()

	byID := make(map[string]Channel, len(channels))
	limiters := make(map[string]*rate.Limiter, len(channels))
	for _, ch := range channels {
		byID[ch.ID()] = ch
		limiters[ch.ID()] = rate.NewLimiter(rate.Limit(opts.RatePerSecond), 1)
	}

	return &Dispatcher{
		outbox:   outbox,
		alerts:   alerts,
		channels: byID,
		limiters: limiters,
		breakers: resilience.NewChannelBreakers(opts.Breaker),
		opts:     opts,
		metrics:  nopMetrics{},
		nowFunc:  time.Now,
		log:      zap.L().With(zap.String("component", "dispatcher")),
	}
}

// SetMetrics installs a metrics sink. Must be called before Run.
func (d *Dispatcher) SetMetrics(m Metrics) {
	if m != nil {
		d.metrics = m
	}
}

// TestConnection probes one configured channel by id.
func (d *Dispatcher) TestConnection(ctx context.Context, channelID string) error {
	ch, ok := d.channels[channelID]
	if !ok {
		return eris.Errorf("dispatch: unknown channel %q", channelID)
	}
	return ch.TestConnection(ctx)
}

// Channels lists the configured channel ids.
func (d *Dispatcher) Channels() []string {
	ids := make([]string, 0, len(d.channels))
	for id := range d.channels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Run polls the outbox until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := d.Drain(ctx); err != nil && ctx.Err() == nil {
				d.log.Error("drain outbox", zap.Error(err))
			}
		}
	}
}

// Drain claims one batch of due entries and delivers them concurrently.
func (d *Dispatcher) Drain(ctx context.Context) error {
	now := d.nowFunc().UTC()
	entries, err := d.outbox.DueOutbox(ctx, now, d.opts.BatchSize)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.Workers)
	for _, entry := range entries {
		g.Go(func() error {
			d.deliver(ctx, entry)
			return nil
		})
	}
	return g.Wait()
}

// deliver attempts one entry once; retries happen on later polls via
// NextAttemptAt so a backlogged channel never holds a worker hostage.
func (d *Dispatcher) deliver(ctx context.Context, entry store.OutboxEntry) {
	log := d.log.With(
		zap.String("entry_id", entry.ID),
		zap.String("alert_id", entry.AlertID),
		zap.String("channel", entry.ChannelID),
	)
	now := d.nowFunc().UTC()

	// An alert that was acknowledged, snoozed, or resolved while the
	// entry waited in the queue must not be delivered.
	if a, err := d.alerts.Get(entry.AlertID); err != nil || a.State != model.AlertOpen {
		entry.Status = store.OutboxCancelled
		entry.UpdatedAt = now
		d.update(ctx, entry, log)
		log.Info("notification cancelled: alert no longer active")
		return
	}

	ch, ok := d.channels[entry.ChannelID]
	if !ok {
		entry.Status = store.OutboxFailed
		entry.LastError = "channel not configured"
		entry.UpdatedAt = now
		d.update(ctx, entry, log)
		log.Warn("notification dropped: channel not configured")
		return
	}

	var n Notification
	if err := json.Unmarshal(entry.Payload, &n); err != nil {
		entry.Status = store.OutboxFailed
		entry.LastError = "malformed payload: " + err.Error()
		entry.UpdatedAt = now
		d.update(ctx, entry, log)
		log.Error("notification dropped: malformed payload", zap.Error(err))
		return
	}

	err := d.breakers.Get(entry.ChannelID).Execute(ctx, func(ctx context.Context) error {
		if err := d.limiters[entry.ChannelID].Wait(ctx); err != nil {
			return err
		}
		return ch.Send(ctx, n)
	})
	now = d.nowFunc().UTC()

	switch {
	case err == nil:
		entry.Status = store.OutboxDelivered
		entry.Attempts++
		entry.LastError = ""
		entry.UpdatedAt = now
		d.metrics.NotificationSent(entry.ChannelID)
		log.Info("notification delivered", zap.Int("attempts", entry.Attempts))

	case errors.Is(err, resilience.ErrCircuitOpen):
		// No attempt was made; push the entry past the breaker's
		// cool-down without consuming a retry.
		entry.NextAttemptAt = now.Add(resilience.Backoff(0, d.opts.Retry))
		entry.UpdatedAt = now
		log.Warn("channel circuit open, deferring delivery")

	default:
		entry.Attempts++
		entry.LastError = err.Error()
		entry.UpdatedAt = now
		if entry.CanRetry() && resilience.IsTransient(err) {
			entry.NextAttemptAt = now.Add(resilience.Backoff(entry.Attempts-1, d.opts.Retry))
			d.metrics.NotificationRetried(entry.ChannelID)
			log.Warn("notification delivery failed, will retry",
				zap.Int("attempt", entry.Attempts),
				zap.Time("next_attempt_at", entry.NextAttemptAt),
				zap.Error(err),
			)
		} else {
			entry.Status = store.OutboxFailed
			d.metrics.NotificationFailed(entry.ChannelID)
			log.Error("notification delivery failed permanently",
				zap.Int("attempts", entry.Attempts),
				zap.Error(err),
			)
		}
	}

	d.update(ctx, entry, log)
}

func (d *Dispatcher) update(ctx context.Context, entry store.OutboxEntry, log *zap.Logger) {
	if err := d.outbox.UpdateOutbox(ctx, entry); err != nil {
		log.Error("update outbox entry", zap.Error(err))
	}
}
