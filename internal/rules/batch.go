package rules

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/lead-alerts/internal/model"
)

// MetricsFunc computes a lead's derived metrics for a batch pass.
type MetricsFunc func(lead *model.Lead) (model.DerivedMetrics, error)

// BatchResult aggregates a multi-entity evaluation pass.
type BatchResult struct {
	Emitted    []model.Alert
	Suppressed int
	Skipped    int
}

// EvaluateLeads evaluates a batch of leads concurrently. Failures are
// isolated per entity: a lead whose metrics cannot be computed (or whose
// evaluation panics) is logged and skipped, never aborting the batch.
func (e *Engine) EvaluateLeads(ctx context.Context, leads []*model.Lead, metricsOf MetricsFunc, concurrency int) BatchResult {
	if concurrency <= 0 {
		concurrency = 4
	}

	var mu sync.Mutex
	var out BatchResult

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, lead := range leads {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					e.log.Error("evaluation panicked; entity skipped",
						zap.String("lead_id", lead.ID),
						zap.Any("panic", r),
					)
					mu.Lock()
					out.Skipped++
					mu.Unlock()
				}
			}()

			metrics, err := metricsOf(lead)
			if err != nil {
				e.log.Warn("metrics unavailable; entity skipped",
					zap.String("lead_id", lead.ID),
					zap.Error(err),
				)
				mu.Lock()
				out.Skipped++
				mu.Unlock()
				return nil
			}

			res := e.EvaluateLead(lead, metrics)
			mu.Lock()
			out.Emitted = append(out.Emitted, res.Emitted...)
			out.Suppressed += res.Suppressed
			mu.Unlock()
			return nil
		})
	}

	// Workers never return errors; isolation is the point.
	_ = g.Wait()
	return out
}
