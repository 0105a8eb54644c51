// Package health schedules periodic model health and drift evaluation
// independent of event arrival.
package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/lead-alerts/internal/model"
)

// Sample is one model's metric snapshot collected for evaluation.
type Sample struct {
	ModelID     string
	Baseline    model.ModelMetrics
	Current     model.ModelMetrics
	Performance float64 // serving performance score in [0,1]
	DataQuality float64 // input completeness fraction in [0,1]
	CollectedAt time.Time
}

// Source supplies the model samples to evaluate each cycle.
type Source interface {
	Samples(ctx context.Context) ([]Sample, error)
}

// Evaluator consumes one sample; implementations compute drift and
// health and feed the rule engine.
type Evaluator interface {
	EvaluateModel(ctx context.Context, s Sample)
}

// Checker runs periodic health checks in the background. A model whose
// previous evaluation is still running is skipped, never queued.
type Checker struct {
	source   Source
	eval     Evaluator
	interval time.Duration

	inFlight sync.Map // modelID -> struct{}
	log      *zap.Logger
}

// NewChecker creates a background health checker.
func NewChecker(source Source, eval Evaluator, interval time.Duration) *Checker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Checker{
		source:   source,
		eval:     eval,
		interval: interval,
		log:      zap.L().With(zap.String("component", "health.checker")),
	}
}

// Run starts the periodic check loop. It blocks until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	c.log.Info("starting health checker", zap.Duration("interval", c.interval))

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.Info("health checker stopped")
			return
		case <-ticker.C:
			c.check(ctx)
		}
	}
}

func (c *Checker) check(ctx context.Context) {
	samples, err := c.source.Samples(ctx)
	if err != nil {
		c.log.Error("health: failed to collect samples", zap.Error(err))
		return
	}

	evaluated := 0
	for _, s := range samples {
		if _, running := c.inFlight.LoadOrStore(s.ModelID, struct{}{}); running {
			c.log.Debug("health: evaluation still running, skipping",
				zap.String("model_id", s.ModelID))
			continue
		}
		evaluated++
		go func() {
			defer c.inFlight.Delete(s.ModelID)
			c.eval.EvaluateModel(ctx, s)
		}()
	}

	c.log.Debug("health: check cycle complete",
		zap.Int("models", len(samples)),
		zap.Int("evaluated", evaluated),
	)
}
