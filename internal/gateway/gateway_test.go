package gateway

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_ScoreChanged(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	raw := []byte(`{"type":"score_changed","leadId":"lead-1","newScore":0.72,"confidence":0.9,"factors":{"engagement":0.4}}`)

	ev, err := Parse(raw, now)
	require.NoError(t, err)
	assert.Equal(t, EventScoreChanged, ev.Type)
	assert.Equal(t, "lead-1", ev.EntityID)
	require.NotNil(t, ev.ScoreChanged)
	assert.Equal(t, 0.72, ev.ScoreChanged.NewScore)
	assert.Equal(t, 0.9, ev.ScoreChanged.Confidence)
	assert.Equal(t, now, ev.ScoreChanged.Timestamp) // defaulted
}

func TestParse_NormalizesPercentScale(t *testing.T) {
	now := time.Now().UTC()

	t.Run("score", func(t *testing.T) {
		ev, err := Parse([]byte(`{"type":"score_changed","leadId":"lead-1","newScore":72}`), now)
		require.NoError(t, err)
		assert.InDelta(t, 0.72, ev.ScoreChanged.NewScore, 1e-9)
	})

	t.Run("conversion probability", func(t *testing.T) {
		ev, err := Parse([]byte(`{"type":"lead_updated","leadId":"lead-1","updates":{"conversionProbability":85}}`), now)
		require.NoError(t, err)
		require.NotNil(t, ev.LeadUpdated.Updates.ConversionProbability)
		assert.InDelta(t, 0.85, *ev.LeadUpdated.Updates.ConversionProbability, 1e-9)
	})

	t.Run("fraction passes through", func(t *testing.T) {
		ev, err := Parse([]byte(`{"type":"lead_updated","leadId":"lead-1","updates":{"conversionProbability":0.85}}`), now)
		require.NoError(t, err)
		assert.InDelta(t, 0.85, *ev.LeadUpdated.Updates.ConversionProbability, 1e-9)
	})

	t.Run("over 100 rejected", func(t *testing.T) {
		_, err := Parse([]byte(`{"type":"score_changed","leadId":"lead-1","newScore":250}`), now)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "newScore", verr.Field)
	})
}

func TestParse_ValidationErrors(t *testing.T) {
	now := time.Now().UTC()
	cases := []struct {
		name  string
		raw   string
		field string
	}{
		{"not json", `{{`, "type"},
		{"missing type", `{"leadId":"lead-1"}`, "type"},
		{"score missing lead", `{"type":"score_changed","newScore":0.5}`, "leadId"},
		{"negative score", `{"type":"score_changed","leadId":"lead-1","newScore":-0.2}`, "newScore"},
		{"update missing lead", `{"type":"lead_updated","updates":{}}`, "leadId"},
		{"negative value", `{"type":"lead_updated","leadId":"lead-1","updates":{"estimatedValue":-5}}`, "updates.estimatedValue"},
		{"drift missing model", `{"type":"drift_detected","metrics":{"featureDrift":0.1}}`, "modelId"},
		{"negative drift", `{"type":"drift_detected","modelId":"m1","metrics":{"featureDrift":-0.1}}`, "metrics.featureDrift"},
		{"abtest missing id", `{"type":"ab_test_completed","confidence":0.97}`, "testId"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.raw), now)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.field, verr.Field)
		})
	}
}

func TestParse_UnknownType(t *testing.T) {
	_, err := Parse([]byte(`{"type":"lead_deleted","leadId":"lead-1"}`), time.Now())
	var unknown *ErrUnknownType
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, EventType("lead_deleted"), unknown.Type)
}

func TestParse_DriftDetected(t *testing.T) {
	raw := []byte(`{"type":"drift_detected","modelId":"scorer-v3","metrics":{"featureDrift":0.08,"predictionDrift":0.03,"accuracyDrop":0.04},"affectedFeatures":["engagement"]}`)
	ev, err := Parse(raw, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "scorer-v3", ev.EntityID)
	assert.Equal(t, 0.08, ev.DriftDetected.Metrics.FeatureDrift)
	assert.Equal(t, []string{"engagement"}, ev.DriftDetected.AffectedFeatures)
}

// recordingHandler captures events per entity.
type recordingHandler struct {
	mu     sync.Mutex
	events map[string][]Event
	delay  time.Duration
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{events: make(map[string][]Event)}
}

func (h *recordingHandler) Handle(_ context.Context, ev Event) error {
	if h.delay > 0 {
		time.Sleep(h.delay)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events[ev.EntityID] = append(h.events[ev.EntityID], ev)
	return nil
}

func (h *recordingHandler) total() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, evs := range h.events {
		n += len(evs)
	}
	return n
}

func TestGateway_PerEntityOrdering(t *testing.T) {
	handler := newRecordingHandler()
	g := New(handler, Options{Shards: 4, QueueDepth: 64})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		g.Run(ctx) //nolint:errcheck
	}()

	const perLead = 20
	leads := []string{"lead-a", "lead-b", "lead-c", "lead-d", "lead-e"}
	for i := range perLead {
		for _, lead := range leads {
			raw := fmt.Appendf(nil, `{"type":"score_changed","leadId":%q,"newScore":0.5,"timestamp":%q}`,
				lead, time.Date(2026, 1, 1, 0, 0, i, 0, time.UTC).Format(time.RFC3339))
			require.NoError(t, g.Ingest(ctx, raw))
		}
	}

	require.Eventually(t, func() bool { return handler.total() == perLead*len(leads) },
		5*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	handler.mu.Lock()
	defer handler.mu.Unlock()
	for _, lead := range leads {
		evs := handler.events[lead]
		require.Len(t, evs, perLead)
		for i := 1; i < len(evs); i++ {
			assert.True(t, evs[i].ScoreChanged.Timestamp.After(evs[i-1].ScoreChanged.Timestamp),
				"events for %s out of order at index %d", lead, i)
		}
	}
}

func TestGateway_Ingest_UnknownTypeDropped(t *testing.T) {
	handler := newRecordingHandler()
	g := New(handler, Options{Shards: 1, QueueDepth: 4})

	err := g.Ingest(context.Background(), []byte(`{"type":"lead_deleted","leadId":"lead-1"}`))
	assert.NoError(t, err)
	assert.Equal(t, 0, handler.total())
}

func TestGateway_Ingest_ValidationErrorSurfaced(t *testing.T) {
	g := New(newRecordingHandler(), Options{Shards: 1, QueueDepth: 4})

	err := g.Ingest(context.Background(), []byte(`{"type":"score_changed","newScore":0.5}`))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestGateway_ShardStableForEntity(t *testing.T) {
	g := New(newRecordingHandler(), Options{Shards: 8})
	for _, id := range []string{"lead-1", "lead-2", "model-a", "test-42"} {
		first := g.shardFor(id)
		for range 10 {
			assert.Equal(t, first, g.shardFor(id))
		}
	}
}
