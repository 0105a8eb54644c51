package health

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Registry keeps the latest reported sample per model. It is the
// Source behind the metrics intake endpoint: producers push samples,
// the checker re-evaluates whatever is current each cycle.
type Registry struct {
	mu      sync.RWMutex
	samples map[string]Sample
	nowFunc func() time.Time
}

// NewRegistry creates an empty sample registry.
func NewRegistry() *Registry {
	return &Registry{
		samples: make(map[string]Sample),
		nowFunc: time.Now,
	}
}

// Record stores s as the model's current sample, replacing any earlier
// one. A zero CollectedAt is stamped with the current time.
func (r *Registry) Record(s Sample) {
	if s.ModelID == "" {
		return
	}
	if s.CollectedAt.IsZero() {
		s.CollectedAt = r.nowFunc()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples[s.ModelID] = s
}

// Samples returns the current sample set ordered by model id.
func (r *Registry) Samples(_ context.Context) ([]Sample, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Sample, 0, len(r.samples))
	for _, s := range r.samples {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModelID < out[j].ModelID })
	return out, nil
}

// Forget drops a model's sample, e.g. when a model is retired.
func (r *Registry) Forget(modelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.samples, modelID)
}
