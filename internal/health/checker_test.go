package health

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-alerts/internal/model"
)

type staticSource struct {
	samples []Sample
	err     error
}

func (s *staticSource) Samples(context.Context) ([]Sample, error) { return s.samples, s.err }

type blockingEvaluator struct {
	mu      sync.Mutex
	calls   map[string]int
	release chan struct{}
}

func newBlockingEvaluator() *blockingEvaluator {
	return &blockingEvaluator{calls: make(map[string]int), release: make(chan struct{})}
}

func (e *blockingEvaluator) EvaluateModel(_ context.Context, s Sample) {
	e.mu.Lock()
	e.calls[s.ModelID]++
	e.mu.Unlock()
	<-e.release
}

func (e *blockingEvaluator) count(modelID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[modelID]
}

func sampleFor(modelID string) Sample {
	return Sample{
		ModelID:     modelID,
		Baseline:    model.ModelMetrics{Accuracy: 0.92, Precision: 0.88, Recall: 0.85},
		Current:     model.ModelMetrics{Accuracy: 0.88, Precision: 0.86, Recall: 0.84},
		Performance: 0.95,
		DataQuality: 0.99,
		CollectedAt: time.Now().UTC(),
	}
}

func TestChecker_SkipsWhileRunning(t *testing.T) {
	eval := newBlockingEvaluator()
	src := &staticSource{samples: []Sample{sampleFor("scorer-v3")}}
	c := NewChecker(src, eval, time.Minute)

	ctx := context.Background()
	c.check(ctx)
	require.Eventually(t, func() bool { return eval.count("scorer-v3") == 1 },
		time.Second, 5*time.Millisecond)

	// Evaluation still blocked: further cycles must skip, not queue.
	c.check(ctx)
	c.check(ctx)
	assert.Equal(t, 1, eval.count("scorer-v3"))

	close(eval.release)
	require.Eventually(t, func() bool {
		_, running := c.inFlight.Load("scorer-v3")
		return !running
	}, time.Second, 5*time.Millisecond)

	c.check(ctx)
	require.Eventually(t, func() bool { return eval.count("scorer-v3") == 2 },
		time.Second, 5*time.Millisecond)
}

func TestChecker_IndependentModels(t *testing.T) {
	eval := newBlockingEvaluator()
	src := &staticSource{samples: []Sample{sampleFor("scorer-v3"), sampleFor("scorer-v4")}}
	c := NewChecker(src, eval, time.Minute)

	c.check(context.Background())
	require.Eventually(t, func() bool {
		return eval.count("scorer-v3") == 1 && eval.count("scorer-v4") == 1
	}, time.Second, 5*time.Millisecond)
	close(eval.release)
}

func TestChecker_SourceErrorDoesNotPanic(t *testing.T) {
	c := NewChecker(&staticSource{err: assert.AnError}, newBlockingEvaluator(), time.Minute)
	c.check(context.Background())
}

func TestChecker_RunStopsOnCancel(t *testing.T) {
	eval := newBlockingEvaluator()
	close(eval.release)
	c := NewChecker(&staticSource{}, eval, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("checker did not stop on cancel")
	}
}
