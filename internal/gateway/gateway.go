package gateway

import (
	"context"
	"errors"
	"hash/fnv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Handler consumes normalized events. Calls for the same entity id are
// strictly serialized; calls for different entities may be concurrent.
type Handler interface {
	Handle(ctx context.Context, ev Event) error
}

// Metrics receives ingest outcomes; satisfied by the telemetry package.
type Metrics interface {
	EventAccepted(eventType string)
	EventRejected(reason string)
}

type nopMetrics struct{}

func (nopMetrics) EventAccepted(string) {}
func (nopMetrics) EventRejected(string) {}

// Options tunes the gateway worker pool.
type Options struct {
	// Shards is the number of worker queues. Events hash to a shard by
	// entity id, so one shard is one logical writer per entity.
	Shards int

	// QueueDepth bounds each shard's buffer; Ingest blocks when full.
	QueueDepth int
}

func (o Options) withDefaults() Options {
	if o.Shards <= 0 {
		o.Shards = 8
	}
	if o.QueueDepth <= 0 {
		o.QueueDepth = 256
	}
	return o
}

// Gateway validates raw events and feeds them to sharded workers.
type Gateway struct {
	handler Handler
	shards  []chan Event
	opts    Options
	metrics Metrics
	nowFunc func() time.Time
	log     *zap.Logger
}

// New builds a gateway over the given handler.
func New(handler Handler, opts Options) *Gateway {
	opts = opts.withDefaults()
	shards := make([]chan Event, opts.Shards)
	for i := range shards {
		shards[i] = make(chan Event, opts.QueueDepth)
	}
	return &Gateway{
		handler: handler,
		shards:  shards,
		opts:    opts,
		metrics: nopMetrics{},
		nowFunc: time.Now,
		log:     zap.L().With(zap.String("component", "gateway")),
	}
}

// SetMetrics installs a metrics sink. Must be called before Run.
func (g *Gateway) SetMetrics(m Metrics) {
	if m != nil {
		g.metrics = m
	}
}

// Run drives the shard workers until the context is cancelled.
func (g *Gateway) Run(ctx context.Context) error {
	grp, ctx := errgroup.WithContext(ctx)
	for i, ch := range g.shards {
		grp.Go(func() error {
			return g.work(ctx, i, ch)
		})
	}
	return grp.Wait()
}

func (g *Gateway) work(ctx context.Context, shard int, ch <-chan Event) error {
	log := g.log.With(zap.Int("shard", shard))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-ch:
			if err := g.handler.Handle(ctx, ev); err != nil && ctx.Err() == nil {
				// A failing entity must not take the shard down.
				log.Error("handle event",
					zap.String("event_type", string(ev.Type)),
					zap.String("entity_id", ev.EntityID),
					zap.Error(err),
				)
			}
		}
	}
}

// Ingest validates one raw event and queues it for processing. Unknown
// event types are logged and dropped without error; malformed events
// fail with ValidationError. Ingest blocks when the target shard's
// queue is full, providing backpressure to the caller.
func (g *Gateway) Ingest(ctx context.Context, raw []byte) error {
	ev, err := Parse(raw, g.nowFunc().UTC())
	if err != nil {
		var unknown *ErrUnknownType
		if errors.As(err, &unknown) {
			g.metrics.EventRejected("unknown_type")
			g.log.Warn("dropping event of unknown type", zap.String("event_type", string(unknown.Type)))
			return nil
		}
		g.metrics.EventRejected("validation")
		return err
	}

	select {
	case g.shards[g.shardFor(ev.EntityID)] <- ev:
		g.metrics.EventAccepted(string(ev.Type))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// shardFor maps an entity id to its worker shard. Same entity, same
// shard: this is what preserves per-entity ordering.
func (g *Gateway) shardFor(entityID string) int {
	h := fnv.New32a()
	h.Write([]byte(entityID)) //nolint:errcheck
	return int(h.Sum32() % uint32(len(g.shards)))
}
